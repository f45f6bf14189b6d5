package log

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("HARK_LOG_PATH", "/tmp/hark-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/hark-env-log" {
		t.Errorf("got %q, want /tmp/hark-env-log", got)
	}
}

func TestResolveDirFlagBeatsEnv(t *testing.T) {
	t.Setenv("HARK_LOG_PATH", "/tmp/hark-env-log")
	got, err := ResolveDir("/tmp/flag")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/flag" {
		t.Errorf("got %q, want /tmp/flag", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("HARK_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("expected non-empty default directory")
	}
}

func TestDefaultDirFollowsXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG layout is linux only")
	}
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	got, err := getDefaultDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(xdg, "hark", "logs"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInitCreatesDiagnostics(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(tmp, DiagnosticsFile)); err != nil {
		t.Errorf("%s not created: %v", DiagnosticsFile, err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "transcribe_log.txt")); err == nil {
		t.Error("transcript file must not be written")
	}
}

func TestStructuredEvents(t *testing.T) {
	tmp := setupLogDir(t)
	if err := Init(); err != nil {
		t.Fatal(err)
	}

	StateChange("idle", "recording_mic")
	Generation(GenerationMetrics{
		StreamID: "abc",
		Provider: "ollama",
		Model:    "llama3.2",
		Chunks:   3,
		Bytes:    11,
		Net:      Timings{TTFB: 12 * time.Millisecond, Total: 40 * time.Millisecond},
		Outcome:  "ok",
	})
	Close()

	data, err := os.ReadFile(filepath.Join(tmp, DiagnosticsFile))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"state", "from=idle", "to=recording_mic", "generation", "chunks=3", "ttfb_ms=12", "outcome=ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, out)
		}
	}
}

func TestNoopBeforeInit(t *testing.T) {
	setupLogDir(t)
	Info("dropped")
	Errorf("dropped %d", 1)
	StateChange("a", "b")
}

func TestCrash(t *testing.T) {
	tmp := setupLogDir(t)
	Crash("panic: boom")
	data, err := os.ReadFile(filepath.Join(tmp, CrashFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "panic: boom") {
		t.Errorf("crash log = %q", data)
	}
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
