package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vocalis/internal/config"
)

const watchedYAML = `
server:
  log_level: info
recognizer:
  name: whisper
  base_url: http://localhost:8081
`

// reloadLog records ReloadFunc calls.
type reloadLog struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	news  []*config.Config
}

func (l *reloadLog) record(_, new *config.Config, d config.ConfigDiff) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.diffs = append(l.diffs, d)
	l.news = append(l.news, new)
}

func (l *reloadLog) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.diffs)
}

// rewrite replaces the file and pushes its mtime forward so the stat check
// notices even on coarse-grained filesystems.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	bump(t, path)
}

func bump(t *testing.T, path string) {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	next := fi.ModTime().Add(2 * time.Second)
	if err := os.Chtimes(path, next, next); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func watch(t *testing.T, log *reloadLog) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocalis.yaml")
	if err := os.WriteFile(path, []byte(watchedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := config.NewWatcher(path, log.record,
		config.WithInterval(10*time.Millisecond),
		config.WithLookupEnv(nil),
	)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		edit        func(t *testing.T, path string)
		wantChanged bool
		wantErr     bool
		wantLevel   config.LogLevel
		wantRestart []string
	}{
		{
			name:      "untouched",
			edit:      func(*testing.T, string) {},
			wantLevel: config.LogInfo,
		},
		{
			name:      "touched only",
			edit:      bump,
			wantLevel: config.LogInfo,
		},
		{
			name: "comment added",
			edit: func(t *testing.T, path string) {
				rewrite(t, path, "# tuned for the lab box\n"+watchedYAML)
			},
			wantLevel: config.LogInfo,
		},
		{
			name: "log level raised",
			edit: func(t *testing.T, path string) {
				rewrite(t, path, `
server:
  log_level: debug
recognizer:
  name: whisper
  base_url: http://localhost:8081
`)
			},
			wantChanged: true,
			wantLevel:   config.LogDebug,
		},
		{
			name: "recognizer swapped",
			edit: func(t *testing.T, path string) {
				rewrite(t, path, `
server:
  log_level: info
recognizer:
  name: openai
  api_key: sk-test
`)
			},
			wantChanged: true,
			wantLevel:   config.LogInfo,
			wantRestart: []string{"recognizer"},
		},
		{
			name: "invalid level",
			edit: func(t *testing.T, path string) {
				rewrite(t, path, "server:\n  log_level: bananas\n")
			},
			wantErr:   true,
			wantLevel: config.LogInfo,
		},
		{
			name: "file removed",
			edit: func(t *testing.T, path string) {
				if err := os.Remove(path); err != nil {
					t.Fatal(err)
				}
			},
			wantErr:   true,
			wantLevel: config.LogInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var log reloadLog
			w, path := watch(t, &log)
			tt.edit(t, path)

			changed, err := w.Check()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() err = %v, wantErr %v", err, tt.wantErr)
			}
			if changed != tt.wantChanged {
				t.Errorf("Check() changed = %v, want %v", changed, tt.wantChanged)
			}
			if got := w.Current().Server.LogLevel; got != tt.wantLevel {
				t.Errorf("Current() level = %q, want %q", got, tt.wantLevel)
			}

			wantCalls := 0
			if tt.wantChanged {
				wantCalls = 1
			}
			if log.calls() != wantCalls {
				t.Fatalf("reload calls = %d, want %d", log.calls(), wantCalls)
			}
			if wantCalls == 1 {
				d := log.diffs[0]
				if d.LogLevelChanged != (tt.wantLevel != config.LogInfo) {
					t.Errorf("LogLevelChanged = %v", d.LogLevelChanged)
				}
				if len(d.RestartRequired) != len(tt.wantRestart) {
					t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
				}
				if log.news[0] != w.Current() {
					t.Error("callback config is not the one Current() returns")
				}
			}
		})
	}
}

func TestWatcher_SecondCheckIsQuiet(t *testing.T) {
	t.Parallel()

	var log reloadLog
	w, path := watch(t, &log)
	rewrite(t, path, "server:\n  log_level: warn\nrecognizer:\n  name: whisper\n  base_url: http://localhost:8081\n")

	for i, want := range []bool{true, false} {
		changed, err := w.Check()
		if err != nil {
			t.Fatalf("Check #%d: %v", i+1, err)
		}
		if changed != want {
			t.Errorf("Check #%d changed = %v, want %v", i+1, changed, want)
		}
	}
	if log.calls() != 1 {
		t.Errorf("reload calls = %d, want 1", log.calls())
	}
}

func TestWatcher_RunAppliesChangesUntilCancelled(t *testing.T) {
	t.Parallel()

	var log reloadLog
	w, path := watch(t, &log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	rewrite(t, path, "server:\n  log_level: error\nrecognizer:\n  name: whisper\n  base_url: http://localhost:8081\n")
	deadline := time.Now().Add(2 * time.Second)
	for log.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.Current().Server.LogLevel != config.LogError {
		t.Errorf("Current() level = %q, want error", w.Current().Server.LogLevel)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewWatcher_RejectsBrokenFile(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("missing file: want error")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.NewWatcher(path, nil, config.WithLookupEnv(nil)); err == nil {
		t.Error("unparsable file: want error")
	}
}
