package doccache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	medcompanion "github.com/pnavin9/MedCompanion"
)

// Entry describes one cached extraction. It is stored as the JSON sidecar
// next to the text blob.
type Entry struct {
	Hash         medcompanion.Hash `json:"-"`
	OriginalPath string            `json:"original_path"`
	Filename     string            `json:"filename"`
	Pages        int               `json:"pages"`
	CachedAt     time.Time         `json:"cached_at"`
	CachedPath   string            `json:"cached_path"`

	// Size is the size of the text blob in bytes. Only Entries fills it.
	Size int64 `json:"-"`
}

// FreshAt reports whether the entry is still valid at now under ttl.
func (e *Entry) FreshAt(now time.Time, ttl time.Duration) bool {
	return !now.After(e.CachedAt.Add(ttl))
}

// sidecar is the on-disk form of Entry. cached_at is written as RFC 3339
// and read leniently: naive ISO 8601 timestamps without an offset, as older
// caches wrote them, are taken as local time.
type sidecar struct {
	OriginalPath string `json:"original_path"`
	Filename     string `json:"filename"`
	Pages        int    `json:"pages"`
	CachedAt     string `json:"cached_at"`
	CachedPath   string `json:"cached_path"`
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(sidecar{
		OriginalPath: e.OriginalPath,
		Filename:     e.Filename,
		Pages:        e.Pages,
		CachedAt:     e.CachedAt.Format(time.RFC3339Nano),
		CachedPath:   e.CachedPath,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var s sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	at, err := parseCachedAt(s.CachedAt)
	if err != nil {
		return err
	}
	e.OriginalPath = s.OriginalPath
	e.Filename = s.Filename
	e.Pages = s.Pages
	e.CachedAt = at
	e.CachedPath = s.CachedPath
	return nil
}

func parseCachedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing cached_at")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid cached_at %q", s)
}
