// Package staging creates per-test working areas on a remote device, uploads
// what a test needs into them and removes them again when the test is done.
package staging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Bridge is the transport to a remote device.
type Bridge interface {
	// Run executes commands on the device in one invocation.
	Run(ctx context.Context, commands ...[]string) error
	// Copy uploads a local path to the device.
	Copy(ctx context.Context, localPath, remotePath string) error
}

// NewSessionID returns a random 128-bit token, hex encoded.
func NewSessionID() (string, error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(idBytes), nil
}

// Session is the remote working area of one test.
type Session struct {
	ID   string
	Test string
	// Root is removed recursively on Close.
	Root string
	// Writable scratch space, if the layout has one.
	TempRoot string
	// Package root for namespaced execution, if the layout has one.
	PkgRoot string

	logger    zerolog.Logger
	bridge    Bridge
	closeOnce sync.Once
}

// Close removes the session root from the device. Only the first call has an
// effect. Failures are logged and otherwise ignored.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		// Teardown still has to happen when the test was cancelled.
		ctx = context.WithoutCancel(ctx)
		if err := s.bridge.Run(ctx, []string{"rm", "-rf", s.Root}); err != nil {
			s.logger.Warn().
				Err(err).
				Str("test", s.Test).
				Str("root", s.Root).
				Msg("Failed to remove remote session directory")
			return
		}
		s.logger.Debug().
			Str("test", s.Test).
			Str("root", s.Root).
			Msg("Removed remote session directory")
	})
}

// RequiredDirs returns the directories that must exist before uploading to
// destinations. It contains the base directories and the parent of every
// destination, never a destination itself, and drops any directory that is an
// ancestor of another one since `mkdir -p` creates it anyway.
func RequiredDirs(base []string, destinations []string) []string {
	exclude := make(map[string]bool, len(destinations))
	candidates := make([]string, 0, len(base)+len(destinations))
	candidates = append(candidates, base...)
	for _, d := range destinations {
		d = trimSeparator(d)
		exclude[d] = true
		candidates = append(candidates, path.Dir(d))
	}

	seen := make(map[string]bool, len(candidates))
	var unique []string
	for _, c := range candidates {
		c = path.Clean(c)
		if seen[c] || exclude[c] {
			continue
		}
		seen[c] = true
		unique = append(unique, c)
	}

	dirs := make([]string, 0, len(unique))
	for _, c := range unique {
		if !isAncestorOfAny(c, unique) {
			dirs = append(dirs, c)
		}
	}
	return dirs
}

func trimSeparator(p string) string {
	if p == "/" {
		return p
	}
	return path.Clean(strings.TrimSuffix(p, "/"))
}

func isAncestorOfAny(dir string, others []string) bool {
	prefix := dir
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	for _, o := range others {
		if o != dir && strings.HasPrefix(o, prefix) {
			return true
		}
	}
	return false
}
