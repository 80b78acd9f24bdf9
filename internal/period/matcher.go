package period

import (
	"regexp"
	"strconv"
	"strings"

	"classcal/internal/model"
)

// Matcher is one strategy for turning an event title into a period ID.
// Titles are lowercased before any matcher sees them.
type Matcher interface {
	Name() string
	Match(title string) (string, bool)
}

var (
	// "period 2", "p2", "p 2", "period a", "p10"
	periodPhraseRe = regexp.MustCompile(`\b(?:p(?:eriod)?\s*)([0-9]{1,2}|[a-z])\b`)
	// "2nd period", "1st", "7th block"
	ordinalRe = regexp.MustCompile(`\b([0-9]{1,2})(?:st|nd|rd|th)?\b`)
	// "block a"
	letterRe = regexp.MustCompile(`\b([a-z])\b`)
)

type periodPhrase struct{}

func (periodPhrase) Name() string { return "period-phrase" }

func (periodPhrase) Match(title string) (string, bool) {
	m := periodPhraseRe.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	if n, err := strconv.Atoi(m[1]); err == nil {
		return "p" + strconv.Itoa(n), true
	}
	return "p" + m[1], true
}

type ordinal struct{}

func (ordinal) Name() string { return "ordinal" }

// Match only looks at the first number so that years and clock times
// further along the title never count.
func (ordinal) Match(title string) (string, bool) {
	m := ordinalRe.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 12 {
		return "", false
	}
	return "p" + strconv.Itoa(n), true
}

type letter struct{}

func (letter) Name() string { return "letter" }

func (letter) Match(title string) (string, bool) {
	m := letterRe.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	return "p" + m[1], true
}

type keywordMap struct {
	entries model.EventMap
}

func (keywordMap) Name() string { return "event-map" }

func (k keywordMap) Match(title string) (string, bool) {
	for _, e := range k.entries {
		kw := strings.ToLower(e.Keyword)
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) {
			return e.Period, true
		}
	}
	return "", false
}

type defaultPeriod struct {
	id string
}

func (defaultPeriod) Name() string { return "default" }

func (d defaultPeriod) Match(string) (string, bool) {
	return d.id, d.id != ""
}

// Matchers returns the title strategies in precedence order. Structured
// period phrasing always beats the hand-maintained keyword map.
func Matchers(eventMap model.EventMap, def string) []Matcher {
	return []Matcher{
		periodPhrase{},
		ordinal{},
		letter{},
		keywordMap{entries: eventMap},
		defaultPeriod{id: def},
	}
}

// MatchTitle runs the matchers in order and reports which one hit.
// An empty period means no matcher produced one.
func MatchTitle(title string, matchers []Matcher) (periodID, matchedBy string) {
	t := strings.ToLower(title)
	for _, m := range matchers {
		if id, ok := m.Match(t); ok {
			return id, m.Name()
		}
	}
	return "", ""
}

// MapTitle maps an event title to a period ID, or "" when nothing matches
// and def is empty.
func MapTitle(title string, eventMap model.EventMap, def string) string {
	id, _ := MatchTitle(title, Matchers(eventMap, def))
	return id
}
