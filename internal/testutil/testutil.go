// Package testutil provides shared test helpers for setting up vaults and
// index engines. Packages below index and vault cannot import it.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/vault"
)

// Logger returns a logger that stays quiet below error level.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestVault creates a temporary vault that is cleaned up with the test.
func TestVault(t *testing.T) *vault.FS {
	t.Helper()
	fs, err := vault.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

// TestEngine opens an index engine over a fresh temporary vault and returns
// both, closing the engine when the test ends.
func TestEngine(t *testing.T, opts ...index.Option) (*vault.FS, *index.Engine) {
	t.Helper()
	fs := TestVault(t)
	e, err := index.Open(fs, append([]index.Option{index.WithLogger(Logger())}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return fs, e
}
