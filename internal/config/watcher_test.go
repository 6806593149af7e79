package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
)

const (
	watchedYAML = `
server:
  log_level: info
recorder:
  silence_duration_ms: 800
`
	editedYAML = `
server:
  log_level: debug
recorder:
  silence_duration_ms: 500
`
	brokenYAML = `
recorder:
  vad_mode: shouty
`
)

// reload is one onChange invocation.
type reload struct{ old, new *config.Config }

// watch writes content to a fresh config.yaml and starts a watcher on it.
// Every reload is delivered on the returned channel.
func watch(t *testing.T, content string) (string, *config.Watcher, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)

	reloads := make(chan reload, 8)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		reloads <- reload{old, new}
	}, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, reloads
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func expectReload(t *testing.T, reloads <-chan reload) reload {
	t.Helper()
	select {
	case r := <-reloads:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
		return reload{}
	}
}

func expectQuiet(t *testing.T, reloads <-chan reload) {
	t.Helper()
	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload to %+v", r.new.Server)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_Current(t *testing.T) {
	t.Parallel()
	_, w, _ := watch(t, watchedYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after the initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Recorder.SilenceDurationMs != 800 {
		t.Errorf("initial config = %+v / %+v", cfg.Server, cfg.Recorder)
	}
}

func TestWatcher_Edit(t *testing.T) {
	t.Parallel()
	path, w, reloads := watch(t, watchedYAML)

	writeFile(t, path, editedYAML)
	r := expectReload(t, reloads)

	if r.old.Server.LogLevel != config.LogInfo || r.new.Server.LogLevel != config.LogDebug {
		t.Errorf("reload %q -> %q, want info -> debug", r.old.Server.LogLevel, r.new.Server.LogLevel)
	}
	if got := w.Current().Recorder.SilenceDurationMs; got != 500 {
		t.Errorf("Current() silence_duration_ms = %d, want 500", got)
	}
}

func TestWatcher_AtomicReplace(t *testing.T) {
	t.Parallel()
	path, _, reloads := watch(t, watchedYAML)

	tmp := filepath.Join(filepath.Dir(path), ".config.yaml.swp")
	writeFile(t, tmp, editedYAML)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if r := expectReload(t, reloads); r.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level after rename = %q, want debug", r.new.Server.LogLevel)
	}
}

func TestWatcher_NoReload(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		poke func(t *testing.T, path string)
	}{
		{"sibling file", func(t *testing.T, path string) {
			writeFile(t, filepath.Join(filepath.Dir(path), "other.yaml"), editedYAML)
		}},
		{"touch", func(t *testing.T, path string) {
			later := time.Now().Add(time.Second)
			if err := os.Chtimes(path, later, later); err != nil {
				t.Fatalf("chtimes: %v", err)
			}
		}},
		{"same content", func(t *testing.T, path string) {
			writeFile(t, path, watchedYAML)
		}},
		{"invalid config", func(t *testing.T, path string) {
			writeFile(t, path, brokenYAML)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path, w, reloads := watch(t, watchedYAML)
			tt.poke(t, path)
			expectQuiet(t, reloads)
			if got := w.Current().Server.LogLevel; got != config.LogInfo {
				t.Errorf("Current() log_level = %q, want info", got)
			}
		})
	}
}

func TestWatcher_RecoversAfterInvalidEdit(t *testing.T) {
	t.Parallel()
	path, _, reloads := watch(t, watchedYAML)

	writeFile(t, path, brokenYAML)
	expectQuiet(t, reloads)
	writeFile(t, path, editedYAML)

	if r := expectReload(t, reloads); r.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old config after a rejected edit = %q, want the last valid one", r.old.Server.LogLevel)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher succeeded for a missing file")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	_, w, _ := watch(t, watchedYAML)
	w.Stop()
	w.Stop()
}
