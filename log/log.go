package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady atomic.Bool
	pid      int
	dir      string
)

const (
	appName         = "hark"
	DiagnosticsFile = "diagnostics_log.txt"
	CrashFile       = "crash_log.txt"
)

// Timings are network phase durations of one request.
type Timings struct {
	DNS        time.Duration
	TLS        time.Duration
	TTFB       time.Duration
	Total      time.Duration
	ConnReused bool
}

type TranscriptionMetrics struct {
	Provider     string
	Format       string
	AudioLengthS float64
	RawSizeKB    float64
	UploadKB     float64
	EncodeTime   time.Duration
	Net          Timings
}

type GenerationMetrics struct {
	StreamID string
	Provider string
	Model    string
	Chunks   int
	Bytes    int
	Net      Timings
	Outcome  string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: HARK_LOG_PATH environment variable
	if envPath := os.Getenv("HARK_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagPath := filepath.Join(dir, DiagnosticsFile)
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady.Store(true)
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady.Store(false)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
}

// Crash appends a panic report to crash_log.txt. It works without Init as
// long as a directory has been set.
func Crash(report string) {
	if dir == "" {
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, CrashFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\t[%d]\n%s\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid(), report)
}

func Info(msg string) {
	if logReady.Load() {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady.Load() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady.Load() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

func connStatus(reused bool) string {
	if reused {
		return "reused"
	}
	return "new"
}

func Transcription(m TranscriptionMetrics) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("provider", m.Provider).
		Str("format", m.Format).
		Str("conn", connStatus(m.Net.ConnReused)).
		Float64("audio_s", m.AudioLengthS).
		Float64("raw_kb", m.RawSizeKB).
		Float64("upload_kb", m.UploadKB).
		Float64("encode_ms", ms(m.EncodeTime)).
		Float64("dns_ms", ms(m.Net.DNS)).
		Float64("tls_ms", ms(m.Net.TLS)).
		Float64("ttfb_ms", ms(m.Net.TTFB)).
		Float64("total_ms", ms(m.Net.Total)).
		Msg("transcription")
}

func Generation(m GenerationMetrics) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("stream", m.StreamID).
		Str("provider", m.Provider).
		Str("model", m.Model).
		Str("conn", connStatus(m.Net.ConnReused)).
		Int("chunks", m.Chunks).
		Int("bytes", m.Bytes).
		Float64("ttfb_ms", ms(m.Net.TTFB)).
		Float64("total_ms", ms(m.Net.Total)).
		Str("outcome", m.Outcome).
		Msg("generation")
}

func StateChange(from, to string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().Str("from", from).Str("to", to).Msg("state")
}

func SessionStart(transcriber, generator, model string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("transcriber", transcriber).
		Str("generator", generator).
		Str("model", model).
		Msg("session_start")
}

func SessionEnd(queries int) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Int("queries", queries).
		Msg("session_end")
}
