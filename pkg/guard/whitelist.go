package guard

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// Whitelist holds IPs and CIDR ranges exempt from rate limiting and suspicious-IP blocking
type Whitelist struct {
	mu     sync.RWMutex
	ips    map[string]struct{}
	ranges []*net.IPNet
}

// NewWhitelist parses entries (plain IPs or CIDRs)
func NewWhitelist(entries []string) (*Whitelist, error) {
	w := &Whitelist{}
	if err := w.Replace(entries); err != nil {
		return nil, err
	}
	return w, nil
}

// Replace swaps the whitelist contents. On a parse error the old contents are kept.
func (w *Whitelist) Replace(entries []string) error {
	ips := make(map[string]struct{}, len(entries))
	var ranges []*net.IPNet

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				return fmt.Errorf("invalid whitelist range %q: %w", entry, err)
			}
			ranges = append(ranges, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return fmt.Errorf("invalid whitelist IP %q", entry)
		}
		ips[ip.String()] = struct{}{}
	}

	w.mu.Lock()
	w.ips = ips
	w.ranges = ranges
	w.mu.Unlock()
	return nil
}

// Contains reports whether ip is whitelisted. Unparseable addresses never are.
func (w *Whitelist) Contains(ip string) bool {
	if w == nil {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if _, ok := w.ips[parsed.String()]; ok {
		return true
	}
	for _, r := range w.ranges {
		if r.Contains(parsed) {
			return true
		}
	}
	return false
}

// Len returns the number of entries
func (w *Whitelist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.ips) + len(w.ranges)
}

type whitelistFile struct {
	IPs []string `yaml:"ips"`
}

// LoadWhitelistFile reads a YAML file of the form
//
//	ips:
//	  - 10.0.0.1
//	  - 192.168.0.0/16
func LoadWhitelistFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read whitelist file: %w", err)
	}
	var file whitelistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse whitelist file: %w", err)
	}
	return file.IPs, nil
}

// WatchWhitelist reloads the whitelist whenever path changes, on top of the static entries.
// It watches the parent directory so editors that replace the file are seen. It returns
// once the watcher is running and stops when ctx is done.
func WatchWhitelist(ctx context.Context, path string, static []string, w *Whitelist, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.WithField("whitelist_file", path)

	reload := func() {
		entries, err := LoadWhitelistFile(path)
		if err != nil {
			logger.WithError(err).Warn("whitelist reload failed, keeping previous entries")
			return
		}
		if err := w.Replace(append(append([]string(nil), static...), entries...)); err != nil {
			logger.WithError(err).Warn("whitelist reload failed, keeping previous entries")
			return
		}
		logger.WithField("entries", w.Len()).Info("whitelist reloaded")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create whitelist watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch whitelist directory: %w", err)
	}

	reload()

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("whitelist watcher error")
			}
		}
	}()

	return nil
}
