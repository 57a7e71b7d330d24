package dongle

import (
	"encoding/json"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// ScanResult is the PAN descriptor an active scan (or the cache) produces.
// It is stored as a plain string map so it round-trips through JSON exactly
// like the original's json.dump(scanresult) — "Pan ID", "Channel", "Addr"
// and the optional "Channel Page", "LQI", "PairID" keys.
type ScanResult map[string]string

const scanCacheTTL = 3600 * time.Second

var requiredScanKeys = []string{"Pan ID", "Channel", "Addr"}

func (r ScanResult) complete() bool {
	for _, k := range requiredScanKeys {
		if _, ok := r[k]; !ok {
			return false
		}
	}
	return true
}

// ScanCache is the durable, single-writer, on-disk PAN descriptor cache
// backing Device.Scan's "consult the cache before scanning" invariant.
type ScanCache struct {
	path string
	log  *log.Entry
}

// NewScanCache wraps the given file path (typically "scancache.json").
func NewScanCache(path string, logger *log.Entry) *ScanCache {
	return &ScanCache{path: path, log: logger}
}

// Load returns a fresh, complete ScanResult, or ok=false if the cache is
// missing, stale (mtime age >= 1h), or malformed. A malformed file is
// deleted; a merely-stale one is left alone (it may still be useful
// forensically, and the original only removes malformed caches).
func (c *ScanCache) Load() (ScanResult, bool) {
	info, err := os.Stat(c.path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) >= scanCacheTTL {
		return nil, false
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}
	var result ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.log.WithError(err).Warn("scan cache malformed, removing")
		os.Remove(c.path)
		return nil, false
	}
	if !result.complete() {
		os.Remove(c.path)
		return nil, false
	}
	return result, true
}

// Save persists result if it carries the three required keys; otherwise it
// is a no-op (the original only ever calls json.dump after checking this).
func (c *ScanCache) Save(result ScanResult) error {
	if !result.complete() {
		return nil
	}
	data, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}

// Delete removes the cache file, ignoring a missing file. Called when the
// B-route worker exhausts its join retries.
func (c *ScanCache) Delete() {
	os.Remove(c.path)
}
