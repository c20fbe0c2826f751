// Package config holds the streamer settings gathered from flags, an
// optional YAML file and the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go2tv.app/browserstream/encoder"
)

var (
	ErrMissingURL         = errors.New("--url is required")
	ErrInvalidWebsiteURL  = errors.New("invalid website URL")
	ErrUnsupportedWebsite = errors.New("website URL scheme must be http or https")
)

// RangeError reports a numeric setting outside [Min, Max].
type RangeError struct {
	Field  string
	Min    uint64
	Max    uint64
	Actual uint64
}

func (e *RangeError) Error() string {
	if e.Max == math.MaxUint32 || e.Max == math.MaxUint64 {
		return fmt.Sprintf("--%s must be at least %d, got %d", e.Field, e.Min, e.Actual)
	}
	return fmt.Sprintf("--%s must be between %d and %d, got %d", e.Field, e.Min, e.Max, e.Actual)
}

type Config struct {
	URL         string `yaml:"url"`
	Width       uint32 `yaml:"width"`
	Height      uint32 `yaml:"height"`
	FPS         uint32 `yaml:"fps"`
	BitrateKbps uint32 `yaml:"bitrate_kbps"`
	KeyintSec   uint32 `yaml:"keyint_sec"`
	X264Opts    string `yaml:"x264_opts"`

	RTMPURL   string `yaml:"rtmp_url"`
	StreamKey string `yaml:"stream_key"`
	Output    string `yaml:"output"`

	Retries        uint32 `yaml:"retries"`
	RetryBackoffMS uint64 `yaml:"retry_backoff_ms"`
	StartupDelayMS uint64 `yaml:"startup_delay_ms"`
	FrameTimeoutMS uint64 `yaml:"frame_timeout_ms"`

	NoAudio      bool   `yaml:"no_audio"`
	FFmpegPath   string `yaml:"ffmpeg_path"`
	ChromiumPath string `yaml:"chromium_path"`
	Verbose      bool   `yaml:"verbose"`

	Duration     time.Duration `yaml:"duration"`
	StatusAddr   string        `yaml:"status_addr"`
	InhibitSleep bool          `yaml:"inhibit_sleep"`

	// Environment only.
	NoSandbox     bool          `yaml:"-"`
	StatsInterval time.Duration `yaml:"-"`
	JPEGQuality   int           `yaml:"-"`

	ConfigFile string `yaml:"-"`
}

func Default() Config {
	return Config{
		Width:          1920,
		Height:         1080,
		FPS:            30,
		BitrateKbps:    4500,
		KeyintSec:      1,
		X264Opts:       "bframes=0",
		Retries:        5,
		RetryBackoffMS: 1000,
		StartupDelayMS: 2000,
		FrameTimeoutMS: 30000,
		InhibitSleep:   true,
		StatsInterval:  5 * time.Second,
		JPEGQuality:    80,
	}
}

func applyEnv(c *Config) {
	c.NoSandbox = BoolEnv(EnvNoSandbox, false)
	c.StatsInterval = time.Duration(IntEnvClamped(EnvStatsInterval, 5, 1, 300)) * time.Second
	c.JPEGQuality = IntEnvClamped(EnvJPEGQuality, 80, 1, 100)
	if v := strings.TrimSpace(os.Getenv(EnvFFmpegPath)); v != "" {
		c.FFmpegPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvChromiumPath)); v != "" {
		c.ChromiumPath = v
	}
}

type uint32Value struct{ p *uint32 }

func (v uint32Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v.p), 10)
}

func (v uint32Value) Set(s string) error {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return err
	}
	*v.p = uint32(n)
	return nil
}

func newFlagSet(c *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("browser-stream", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&c.URL, "url", c.URL, "page to stream (http or https)")
	fs.Var(uint32Value{&c.Width}, "width", "output width in pixels")
	fs.Var(uint32Value{&c.Height}, "height", "output height in pixels")
	fs.Var(uint32Value{&c.FPS}, "fps", "output frame rate")
	fs.Var(uint32Value{&c.BitrateKbps}, "bitrate-kbps", "video bitrate in kbps")
	fs.Var(uint32Value{&c.KeyintSec}, "keyint-sec", "keyframe interval in seconds")
	fs.StringVar(&c.X264Opts, "x264-opts", c.X264Opts, "x264 parameters passed verbatim")
	fs.StringVar(&c.RTMPURL, "rtmp-url", c.RTMPURL, "RTMP ingest base URL")
	fs.StringVar(&c.StreamKey, "stream-key", c.StreamKey, "stream key appended to --rtmp-url")
	fs.StringVar(&c.Output, "output", c.Output, "full RTMP destination, overrides --rtmp-url and --stream-key")
	fs.Var(uint32Value{&c.Retries}, "retries", "retries after a failed attempt")
	fs.Uint64Var(&c.RetryBackoffMS, "retry-backoff-ms", c.RetryBackoffMS, "delay between attempts")
	fs.Uint64Var(&c.StartupDelayMS, "startup-delay-ms", c.StartupDelayMS, "wait after page load before capturing")
	fs.Uint64Var(&c.FrameTimeoutMS, "frame-timeout-ms", c.FrameTimeoutMS, "deadline for the first frame of an attempt")
	fs.BoolVar(&c.NoAudio, "no-audio", c.NoAudio, "omit the silent audio track")
	fs.StringVar(&c.FFmpegPath, "ffmpeg-path", c.FFmpegPath, "ffmpeg binary")
	fs.StringVar(&c.ChromiumPath, "chromium-path", c.ChromiumPath, "chromium headless_shell binary")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "debug logging and ffmpeg info output")
	fs.DurationVar(&c.Duration, "duration", c.Duration, "stop successfully after this long (0 = unlimited)")
	fs.StringVar(&c.StatusAddr, "status-addr", c.StatusAddr, "listen address for the status endpoint (empty = disabled)")
	fs.BoolVar(&c.InhibitSleep, "inhibit-sleep", c.InhibitSleep, "ask the desktop not to sleep while streaming")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML settings file; command line flags take precedence")
	return fs
}

// Parse builds a validated Config from command line arguments (without the
// program name).
func Parse(args []string, output io.Writer) (*Config, error) {
	if output == nil {
		output = os.Stderr
	}

	cfg := Default()
	applyEnv(&cfg)
	fs := newFlagSet(&cfg, output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	if cfg.ConfigFile != "" {
		fileCfg := Default()
		applyEnv(&fileCfg)
		if err := LoadFile(cfg.ConfigFile, &fileCfg); err != nil {
			return nil, err
		}

		overrides := newFlagSet(&fileCfg, io.Discard)
		var setErr error
		fs.Visit(func(f *flag.Flag) {
			if err := overrides.Set(f.Name, f.Value.String()); err != nil && setErr == nil {
				setErr = fmt.Errorf("--%s: %w", f.Name, err)
			}
		})
		if setErr != nil {
			return nil, setErr
		}
		cfg = fileCfg
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile decodes a YAML settings file over c.
func LoadFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = uint64(math.MaxInt64 / int64(time.Millisecond))

func validateRange(field string, actual, minValue, maxValue uint64) error {
	if actual < minValue || actual > maxValue {
		return &RangeError{Field: field, Min: minValue, Max: maxValue, Actual: actual}
	}
	return nil
}

func (c *Config) Validate() error {
	checks := []struct {
		field    string
		actual   uint64
		min, max uint64
	}{
		{"width", uint64(c.Width), 16, math.MaxUint32},
		{"height", uint64(c.Height), 16, math.MaxUint32},
		{"fps", uint64(c.FPS), 1, 120},
		{"bitrate-kbps", uint64(c.BitrateKbps), 100, math.MaxUint32},
		{"keyint-sec", uint64(c.KeyintSec), 1, 60},
		{"frame-timeout-ms", c.FrameTimeoutMS, 1000, maxMillis},
		{"retry-backoff-ms", c.RetryBackoffMS, 0, maxMillis},
		{"startup-delay-ms", c.StartupDelayMS, 0, maxMillis},
	}
	for _, ch := range checks {
		if err := validateRange(ch.field, ch.actual, ch.min, ch.max); err != nil {
			return err
		}
	}

	if err := validateWebsiteURL(c.URL); err != nil {
		return err
	}
	if c.Duration < 0 {
		return fmt.Errorf("--duration must not be negative, got %s", c.Duration)
	}

	_, err := c.Destination()
	return err
}

func validateWebsiteURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("%w %q", ErrInvalidWebsiteURL, raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w, got %q", ErrUnsupportedWebsite, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w %q", ErrInvalidWebsiteURL, raw)
	}
	return nil
}

// Destination is the RTMP URL ffmpeg publishes to.
func (c *Config) Destination() (string, error) {
	return BuildOutput(c.Output, c.RTMPURL, c.StreamKey)
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelayMS) * time.Millisecond
}

func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.FrameTimeoutMS) * time.Millisecond
}

// EncoderSettings maps the config onto one ffmpeg invocation.
func (c *Config) EncoderSettings(ffmpegPath string) (encoder.Settings, error) {
	output, err := c.Destination()
	if err != nil {
		return encoder.Settings{}, err
	}
	return encoder.Settings{
		Width:              c.Width,
		Height:             c.Height,
		FPS:                c.FPS,
		BitrateKbps:        c.BitrateKbps,
		KeyintSec:          c.KeyintSec,
		X264Opts:           c.X264Opts,
		Output:             output,
		IncludeSilentAudio: !c.NoAudio,
		FFmpegPath:         ffmpegPath,
	}, nil
}
