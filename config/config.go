package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"hark/audio"
	"hark/capture"
	"hark/generate"
	"hark/render"
	"hark/session"
	"hark/transcriber"
)

type Config struct {
	Audio       AudioConfig       `mapstructure:"audio"`
	Transcriber TranscriberConfig `mapstructure:"transcriber"`
	Generation  GenerationConfig  `mapstructure:"generation"`
	Render      RenderConfig      `mapstructure:"render"`
	Hotkey      HotkeyConfig      `mapstructure:"hotkey"`
}

type AudioConfig struct {
	SampleRate      int           `mapstructure:"sample_rate"`
	RecordingPath   string        `mapstructure:"recording_path"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LoopbackMarkers []string      `mapstructure:"loopback_markers"`
}

type TranscriberConfig struct {
	Provider string `mapstructure:"provider"`
	URL      string `mapstructure:"url"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
	Format   string `mapstructure:"format"`
}

type GenerationConfig struct {
	Provider       string        `mapstructure:"provider"`
	Host           string        `mapstructure:"host"`
	Model          string        `mapstructure:"model"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

type RenderConfig struct {
	Debounce  int    `mapstructure:"debounce"`
	Separator string `mapstructure:"separator"`
}

type HotkeyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.sample_rate", audio.SampleRate)
	v.SetDefault("audio.recording_path", session.DefaultRecordingPath)
	v.SetDefault("audio.poll_interval", capture.DefaultPollInterval)
	v.SetDefault("audio.loopback_markers", audio.DefaultLoopbackMarkers)

	v.SetDefault("transcriber.provider", "groq")
	v.SetDefault("transcriber.language", "en")
	v.SetDefault("transcriber.format", "flac")

	v.SetDefault("generation.provider", "ollama")
	v.SetDefault("generation.host", generate.DefaultOllamaHost)
	v.SetDefault("generation.model", generate.DefaultOllamaModel)
	v.SetDefault("generation.capture_timeout", session.DefaultCaptureTimeout)
	v.SetDefault("generation.query_timeout", session.DefaultQueryTimeout)

	v.SetDefault("render.debounce", render.DefaultDebounce)
	v.SetDefault("render.separator", render.DefaultSeparator)

	v.SetDefault("hotkey.enabled", false)
}

// Load reads path, or hark.yaml from . or ./config when path is empty.
// A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hark")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	v.Unmarshal(&cfg)
	return &cfg
}

func (c *Config) Validate() error {
	var errs []error
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("audio.poll_interval must be positive, got %v", c.Audio.PollInterval))
	}
	if c.Audio.RecordingPath == "" {
		errs = append(errs, errors.New("audio.recording_path is empty"))
	}
	switch c.Transcriber.Provider {
	case "groq", "openai":
	default:
		errs = append(errs, fmt.Errorf("transcriber.provider %q: want groq or openai", c.Transcriber.Provider))
	}
	switch c.Transcriber.Format {
	case "flac", "wav":
	default:
		errs = append(errs, fmt.Errorf("transcriber.format %q: want flac or wav", c.Transcriber.Format))
	}
	switch c.Generation.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("generation.provider %q: want ollama or openai", c.Generation.Provider))
	}
	if c.Generation.CaptureTimeout <= 0 || c.Generation.QueryTimeout <= 0 {
		errs = append(errs, errors.New("generation timeouts must be positive"))
	}
	if c.Render.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("render.debounce must be positive, got %d", c.Render.Debounce))
	}
	return errors.Join(errs...)
}

func (c *Config) Session() session.Config {
	return session.Config{
		SampleRate:      c.Audio.SampleRate,
		PollInterval:    c.Audio.PollInterval,
		LoopbackMarkers: c.Audio.LoopbackMarkers,
		RecordingPath:   c.Audio.RecordingPath,
		CaptureTimeout:  c.Generation.CaptureTimeout,
		QueryTimeout:    c.Generation.QueryTimeout,
	}
}

func (c *Config) TranscriberConfig() transcriber.Config {
	return transcriber.Config{
		Provider: c.Transcriber.Provider,
		URL:      c.Transcriber.URL,
		Model:    c.Transcriber.Model,
		Language: c.Transcriber.Language,
		Format:   c.Transcriber.Format,
	}
}

func (c *Config) GeneratorConfig() generate.Config {
	return generate.Config{
		Provider: c.Generation.Provider,
		Host:     c.Generation.Host,
		Model:    c.Generation.Model,
	}
}

func (c *Config) RenderOptions() render.Options {
	return render.Options{Debounce: c.Render.Debounce, Separator: c.Render.Separator}
}
