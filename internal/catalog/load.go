package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	appLog "classcal/internal/log"
)

// Paths points at the catalog documents. Each may be a local file or an
// http(s) URL; empty means "not configured".
type Paths struct {
	Targets       string
	ClassMap      string
	Announcements string
	Fallback      string
}

// Catalogs is the read-only data the resolution chain works from. It is
// built once per configuration load. Nil maps read as empty, so a zero
// Catalogs is valid.
type Catalogs struct {
	Targets       TargetCatalog
	ClassMap      ClassMap
	Announcements AnnouncementRules
	Fallback      FallbackSchedule
}

const fetchTimeout = 15 * time.Second

// Load reads every configured document. A missing or broken document is
// logged and replaced by its empty value; Load itself never fails.
func Load(ctx context.Context, p Paths) *Catalogs {
	c := &Catalogs{}

	if err := loadDocument(ctx, p.Targets, &c.Targets); err != nil {
		appLog.Error("targets catalog unavailable; using empty", err, "path", p.Targets)
		c.Targets = TargetCatalog{}
	}
	c.Targets.normalize()

	if err := loadDocument(ctx, p.ClassMap, &c.ClassMap); err != nil {
		appLog.Error("class map unavailable; using empty", err, "path", p.ClassMap)
		c.ClassMap = ClassMap{}
	}
	if err := loadDocument(ctx, p.Announcements, &c.Announcements); err != nil {
		appLog.Error("announcements unavailable; using empty", err, "path", p.Announcements)
		c.Announcements = AnnouncementRules{}
	}
	if err := loadDocument(ctx, p.Fallback, &c.Fallback); err != nil {
		appLog.Error("fallback schedule unavailable; using empty", err, "path", p.Fallback)
		c.Fallback = FallbackSchedule{}
	}

	appLog.Info("catalogs loaded",
		"targets", len(c.Targets.Defaults),
		"target_dates", len(c.Targets.ByDate),
		"class_periods", len(c.ClassMap.Defaults),
		"rotation", len(c.Announcements.Rotation),
		"time_remaining", len(c.Announcements.TimeRemaining),
		"fallback_days", len(c.Fallback),
	)
	return c
}

// loadDocument reads path into v. An unconfigured or non-existent path is
// not an error: v keeps its zero value.
func loadDocument(ctx context.Context, path string, v any) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := readSource(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Debug("catalog document not found; skipping", "path", path)
			return nil
		}
		return err
	}
	return Decode(data, v)
}

// Decode parses a YAML or JSON document into v. JSON goes through the YAML
// decoder too, so both formats share the same custom unmarshalers; JSON
// that YAML rejects (tab indentation) is re-encoded first.
func Decode(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	yamlErr := yaml.Unmarshal(data, v)
	if yamlErr == nil {
		return nil
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return yamlErr
	}
	reencoded, err := yaml.Marshal(generic)
	if err != nil {
		return fmt.Errorf("re-encode JSON document: %w", err)
	}
	return yaml.Unmarshal(reencoded, v)
}

func readSource(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		return os.ReadFile(path)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fs.ErrNotExist
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
