package dongle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Entry {
	return log.NewEntry(log.New())
}

func TestScanCacheSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scancache.json")
	cache := NewScanCache(path, testLogger())

	result := ScanResult{"Pan ID": "8888", "Channel": "21", "Addr": "FE80::1"}
	require.NoError(t, cache.Save(result))

	loaded, ok := cache.Load()
	require.True(t, ok)
	assert.Equal(t, result, loaded)
}

func TestScanCacheIncompleteNeverSaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scancache.json")
	cache := NewScanCache(path, testLogger())

	require.NoError(t, cache.Save(ScanResult{"Pan ID": "8888"}))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestScanCacheStaleRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scancache.json")
	cache := NewScanCache(path, testLogger())
	require.NoError(t, cache.Save(ScanResult{"Pan ID": "8888", "Channel": "21", "Addr": "FE80::1"}))

	old := time.Now().Add(-2 * scanCacheTTL)
	require.NoError(t, os.Chtimes(path, old, old))

	_, ok := cache.Load()
	assert.False(t, ok)
}

func TestScanCacheMalformedRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scancache.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	cache := NewScanCache(path, testLogger())

	_, ok := cache.Load()
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestScanCacheDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scancache.json")
	cache := NewScanCache(path, testLogger())
	require.NoError(t, cache.Save(ScanResult{"Pan ID": "8888", "Channel": "21", "Addr": "FE80::1"}))

	cache.Delete()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
