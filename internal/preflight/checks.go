package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"autovideo/internal/config"
	"autovideo/internal/kvstore"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// FreeSpaceMB returns the space available to unprivileged users on the
// filesystem holding path.
func FreeSpaceMB(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize) / (1 << 20), nil
}

// CheckFreeSpace verifies that at least minMB megabytes are free under path.
func CheckFreeSpace(name, path string, minMB int) Result {
	free, err := FreeSpaceMB(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	if free < int64(minMB) {
		return Result{Name: name, Detail: fmt.Sprintf("%d MB free, %d MB required", free, minMB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d MB free", free)}
}

// CheckProviders reports credential readiness per provider and whether every
// operation's fallback order contains at least one usable provider.
func CheckProviders(cfg *config.Config) []Result {
	usable := make(map[string]bool)
	var results []Result
	for _, name := range []string{config.ProviderGemini, config.ProviderOpenAI} {
		label := providerLabel(name) + " keys"
		p, _ := cfg.Provider(name)
		switch {
		case !p.Enabled:
			results = append(results, Result{Name: label, Passed: true, Detail: "Disabled"})
		case len(p.APIKeys) == 0:
			results = append(results, Result{Name: label, Detail: "no API keys configured"})
		default:
			usable[name] = true
			results = append(results, Result{Name: label, Passed: true, Detail: fmt.Sprintf("%d key(s)", len(p.APIKeys))})
		}
	}

	orders := []struct {
		op    string
		order []string
	}{
		{op: "text", order: cfg.Providers.TextOrder},
		{op: "speech", order: cfg.Providers.SpeechOrder},
		{op: "image", order: cfg.Providers.ImageOrder},
	}
	for _, o := range orders {
		name := "Provider order (" + o.op + ")"
		var ready []string
		for _, provider := range o.order {
			if usable[provider] {
				ready = append(ready, provider)
			}
		}
		if len(ready) == 0 {
			results = append(results, Result{Name: name, Detail: fmt.Sprintf("no usable provider in [%s]", strings.Join(o.order, ", "))})
			continue
		}
		results = append(results, Result{Name: name, Passed: true, Detail: strings.Join(ready, " -> ")})
	}
	return results
}

// CheckStorage opens the configured kvstore backend and lists one prefix to
// prove it answers.
func CheckStorage(ctx context.Context, cfg *config.Config) Result {
	name := "Storage (" + cfg.Storage.Backend + ")"
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := kvstore.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: summarizeStorageError(err)}
	}
	defer store.Close()
	if _, err := store.List(checkCtx, "checkpoints/"); err != nil {
		return Result{Name: name, Detail: summarizeStorageError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

func summarizeStorageError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (backend unresponsive)"
	}
	return err.Error()
}

func providerLabel(name string) string {
	switch name {
	case config.ProviderGemini:
		return "Gemini"
	case config.ProviderOpenAI:
		return "OpenAI"
	default:
		return name
	}
}
