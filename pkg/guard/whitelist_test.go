package guard

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitelist(t *testing.T) {
	wl, err := NewWhitelist([]string{"192.0.2.1", " 10.0.0.0/8 ", "", "2001:db8::/32"})
	require.NoError(t, err)

	assert.True(t, wl.Contains("192.0.2.1"))
	assert.True(t, wl.Contains("10.200.0.1"))
	assert.True(t, wl.Contains("2001:db8::1"))
	assert.False(t, wl.Contains("192.0.2.2"))
	assert.False(t, wl.Contains("not-an-ip"))
	assert.Equal(t, 3, wl.Len())

	var nilList *Whitelist
	assert.False(t, nilList.Contains("192.0.2.1"))
}

func TestWhitelist_ReplaceKeepsOldOnError(t *testing.T) {
	wl, err := NewWhitelist([]string{"192.0.2.1"})
	require.NoError(t, err)

	assert.Error(t, wl.Replace([]string{"192.0.2.9", "bogus/99"}))
	assert.True(t, wl.Contains("192.0.2.1"))
	assert.False(t, wl.Contains("192.0.2.9"))

	_, err = NewWhitelist([]string{"300.1.1.1"})
	assert.Error(t, err)
}

func TestLoadWhitelistFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ips:\n  - 10.0.0.1\n  - 172.16.0.0/12\n"), 0o600))

	entries, err := LoadWhitelistFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, entries)

	_, err = LoadWhitelistFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatchWhitelist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ips:\n  - 10.0.0.1\n"), 0o600))

	wl, err := NewWhitelist(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchWhitelist(ctx, path, []string{"192.0.2.1"}, wl, nil))

	assert.True(t, wl.Contains("10.0.0.1"))
	assert.True(t, wl.Contains("192.0.2.1"))

	writeAtomic(t, path, "ips:\n  - 10.0.0.2\n")
	assert.Eventually(t, func() bool {
		return wl.Contains("10.0.0.2") && !wl.Contains("10.0.0.1")
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, wl.Contains("192.0.2.1"))

	// a broken file keeps the previous entries
	writeAtomic(t, path, "ips: [not-an-ip]\n")
	time.Sleep(100 * time.Millisecond)
	assert.True(t, wl.Contains("10.0.0.2"))
}

// writeAtomic replaces path through a rename so the watcher never reads a partial file
func writeAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := filepath.Join(filepath.Dir(path), ".whitelist.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}
