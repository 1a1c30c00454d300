package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"docjobs/internal/apperrors"
	"docjobs/pkg/callback"
)

// callbackServer records events and answers with reply.
type callbackServer struct {
	*httptest.Server
	mu     sync.Mutex
	events []callback.Event
	tokens []string
}

func newCallbackServer(t *testing.T, reply func(evt callback.Event) int) *callbackServer {
	t.Helper()
	s := &callbackServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt callback.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.events = append(s.events, evt)
		s.tokens = append(s.tokens, r.Header.Get(callback.TokenHeader))
		s.mu.Unlock()

		code := http.StatusOK
		if reply != nil {
			code = reply(evt)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if code != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rejected"})
			return
		}
		_ = json.NewEncoder(w).Encode(callback.Result{Success: true, Type: evt.Type})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *callbackServer) Events() []callback.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]callback.Event(nil), s.events...)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newTestRunner(t *testing.T, url, script string, mutate func(*Config)) *Runner {
	t.Helper()
	cfg := &Config{
		JobID:           "job-1",
		CallbackURL:     url,
		CallbackToken:   "secret",
		Command:         []string{"sh", "-c", script},
		WorkDir:         t.TempDir(),
		OutputDir:       "docs",
		Timeout:         10 * time.Second,
		CallbackRetries: 1,
	}
	if mutate != nil {
		mutate(cfg)
	}
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func TestRunner_ReportsProgressAndFiles(t *testing.T) {
	t.Parallel()
	requireShell(t)

	srv := newCallbackServer(t, nil)
	script := `echo "::progress 1/3 Cloning repository"
echo "some generator noise"
echo "::progress 2/3 Running AI analysis"
mkdir -p "$OUTPUT_DIR/chapters"
printf '# Intro' > "$OUTPUT_DIR/chapters/01_intro.md"
printf 'name: x' > "$OUTPUT_DIR/meta.yaml"`
	r := newTestRunner(t, srv.URL, script, nil)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := srv.Events()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	if *events[0].Progress != "Starting documentation generation" {
		t.Errorf("first progress = %q", *events[0].Progress)
	}
	if *events[1].Progress != "Cloning repository" || *events[1].Step != 1 || *events[1].TotalSteps != 3 {
		t.Errorf("unexpected cloning event %+v", events[1])
	}
	if *events[2].Progress != "Running AI analysis" || *events[2].Step != 2 {
		t.Errorf("unexpected analysis event %+v", events[2])
	}

	complete := events[3]
	if complete.Type != callback.TypeComplete || complete.JobID != "job-1" {
		t.Fatalf("expected complete event, got %+v", complete)
	}
	if len(complete.Files) != 2 {
		t.Fatalf("expected 2 files, got %+v", complete.Files)
	}
	if f := complete.Files[0]; f.Path != "chapters/01_intro.md" || f.Content != "# Intro" || f.Type != "markdown" {
		t.Errorf("unexpected file %+v", f)
	}
	if f := complete.Files[1]; f.Path != "meta.yaml" || f.Type != "yaml" {
		t.Errorf("unexpected file %+v", f)
	}

	for i, tok := range srv.tokens {
		if tok != "secret" {
			t.Errorf("event %d sent token %q", i, tok)
		}
	}
}

func TestRunner_SkipsOversizedOutputLine(t *testing.T) {
	t.Parallel()
	requireShell(t)

	srv := newCallbackServer(t, nil)
	script := `head -c 2000000 /dev/zero | tr '\0' x
echo
echo "::progress Writing chapters"
printf '# A' > "$OUTPUT_DIR/a.md"`
	r := newTestRunner(t, srv.URL, script, nil)

	start := time.Now()
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run took %s", elapsed)
	}

	events := srv.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if *events[1].Progress != "Writing chapters" {
		t.Errorf("unexpected progress %q", *events[1].Progress)
	}
	if complete := events[2]; complete.Type != callback.TypeComplete || len(complete.Files) != 1 {
		t.Errorf("expected complete with one file, got %s with %d files", complete.Type, len(complete.Files))
	}
}

func TestReadLines(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", maxLineBytes+1)
	input := "first\n" + long + "\n" + "second\r\n" + strings.Repeat("y", maxLineBytes) + "\nlast"

	r := &Runner{logger: slog.New(slog.DiscardHandler)}
	var lines []string
	if err := r.readLines(strings.NewReader(input), func(line string) {
		lines = append(lines, line)
	}); err != nil {
		t.Fatalf("readLines failed: %v", err)
	}

	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	if lines[0] != "first" || lines[1] != "second" || lines[3] != "last" {
		t.Errorf("unexpected lines %q %q %q", lines[0], lines[1], lines[3])
	}
	if len(lines[2]) != maxLineBytes {
		t.Errorf("line at the limit should be kept, got %d bytes", len(lines[2]))
	}
}

func TestRunner_GeneratorFailure(t *testing.T) {
	t.Parallel()
	requireShell(t)

	srv := newCallbackServer(t, nil)
	r := newTestRunner(t, srv.URL, `echo "model quota exhausted" >&2; exit 3`, nil)

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error from failing generator")
	}

	events := srv.Events()
	last := events[len(events)-1]
	if last.Type != callback.TypeError {
		t.Fatalf("expected error event, got %+v", last)
	}
	if !strings.Contains(*last.Error, "model quota exhausted") {
		t.Errorf("error event should carry stderr, got %q", *last.Error)
	}
}

func TestRunner_StopsWhenRejected(t *testing.T) {
	t.Parallel()
	requireShell(t)

	srv := newCallbackServer(t, func(evt callback.Event) int {
		if evt.Progress != nil && strings.Contains(*evt.Progress, "Cloning") {
			return http.StatusBadRequest
		}
		return http.StatusOK
	})
	r := newTestRunner(t, srv.URL, `echo "::progress Cloning repository"; exec sleep 30`, nil)

	start := time.Now()
	err := r.Run(context.Background())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("generator was not stopped promptly (%v)", elapsed)
	}

	for _, evt := range srv.Events() {
		if evt.Type != callback.TypeProgress {
			t.Errorf("no terminal event expected after rejection, got %+v", evt)
		}
	}
}

func TestRunner_Timeout(t *testing.T) {
	t.Parallel()
	requireShell(t)

	srv := newCallbackServer(t, nil)
	r := newTestRunner(t, srv.URL, `exec sleep 30`, func(c *Config) {
		c.Timeout = 300 * time.Millisecond
	})

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}

	events := srv.Events()
	last := events[len(events)-1]
	if last.Type != callback.TypeError || !strings.Contains(*last.Error, "timed out") {
		t.Errorf("expected timeout error event, got %+v", last)
	}
}

func TestNewRunner_Validation(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			JobID:         "job-1",
			CallbackURL:   "http://localhost/v1/callbacks",
			CallbackToken: "secret",
			Command:       []string{"generate"},
			OutputDir:     "docs",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing job id", func(c *Config) { c.JobID = "" }},
		{"missing callback url", func(c *Config) { c.CallbackURL = "" }},
		{"missing token", func(c *Config) { c.CallbackToken = "" }},
		{"missing command", func(c *Config) { c.Command = nil }},
		{"absolute output dir", func(c *Config) { c.OutputDir = "/etc" }},
		{"traversing output dir", func(c *Config) { c.OutputDir = "../out" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)
			_, err := NewRunner(cfg)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	if _, err := NewRunner(valid()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestParseProgressLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line  string
		ok    bool
		step  int
		total int
		text  string
	}{
		{"::progress 2/5 Cloning repository", true, 2, 5, "Cloning repository"},
		{"::progress Gathering context", true, 0, 0, "Gathering context"},
		{"::progress and/or something", true, 0, 0, "and/or something"},
		{"::progress 6/5 Bad counters", true, 0, 0, "6/5 Bad counters"},
		{"::progress 3/5", false, 0, 0, ""},
		{"::progress ", false, 0, 0, ""},
		{"progress 1/2 nope", false, 0, 0, ""},
		{"plain output", false, 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			p, ok := parseProgressLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if p.step != tt.step || p.total != tt.total || p.text != tt.text {
				t.Errorf("got %+v", p)
			}
		})
	}
}

func TestCollectFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("toc.md", "# Contents")
	write("chapters/02_usage.md", "usage")
	write("chapters/01_intro.md", "intro")
	write("big.md", strings.Repeat("x", 100))

	files, err := collectFiles(root, 10, 50)
	if err != nil {
		t.Fatalf("collectFiles failed: %v", err)
	}

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	want := "chapters/01_intro.md,chapters/02_usage.md,toc.md"
	if got := strings.Join(paths, ","); got != want {
		t.Errorf("paths = %s, want %s", got, want)
	}

	if _, err := collectFiles(root, 2, 50); err == nil {
		t.Error("expected error when file limit is exceeded")
	}
}

func TestValidatePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		wantErr bool
	}{
		{"docs", false},
		{"out/docs", false},
		{"./docs", false},
		{"", true},
		{"/abs/path", true},
		{"../escape", true},
		{"docs/../../escape", true},
	}

	for _, tt := range tests {
		if err := validatePath(tt.path); (err != nil) != tt.wantErr {
			t.Errorf("validatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	b := &tailBuffer{limit: 5}
	_, _ = b.Write([]byte("hello "))
	_, _ = b.Write([]byte("world"))
	if got := b.String(); got != "world" {
		t.Errorf("tail = %q, want %q", got, "world")
	}
}
