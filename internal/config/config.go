package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/petems/chemic/internal/audio"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CHEMIC_"

// The ring buffer holds Latency plus Delay of audio and is allocated up
// front, so both are capped.
const (
	MaxLatency = 10 * time.Second
	MaxDelay   = 30 * time.Second
)

type Config struct {
	LogLevel string
	LogFile  string // empty: console only

	Audio AudioConfig

	Latency        time.Duration // ring buffer target
	Delay          time.Duration // playback delay in delay mode
	StallTimeout   time.Duration // 0 disables stall detection
	StatusInterval time.Duration // 0 disables the status line

	MetricsAddr string // empty: no /metrics endpoint
}

// AudioConfig is the requested stream format. Zero values mean the device
// default.
type AudioConfig struct {
	SampleRate      int
	Channels        int
	Format          string
	FramesPerBuffer int
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Format: "f32",
		},
		Latency:        50 * time.Millisecond,
		Delay:          2 * time.Second,
		StallTimeout:   2 * time.Second,
		StatusInterval: 250 * time.Millisecond,
	}
}

// Load reads .env from the working directory, if present, and the process
// environment. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	return LoadFrom(".env", os.LookupEnv)
}

// LoadFrom is Load with an explicit dotenv path and environment lookup.
func LoadFrom(envFile string, lookup func(string) (string, bool)) (*Config, error) {
	dotenv := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = vars
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	get := func(name string) (string, bool) {
		key := EnvPrefix + name
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	cfg := Default()
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FILE", &cfg.LogFile)
	num("SAMPLE_RATE", &cfg.Audio.SampleRate)
	num("CHANNELS", &cfg.Audio.Channels)
	str("SAMPLE_FORMAT", &cfg.Audio.Format)
	num("FRAMES_PER_BUFFER", &cfg.Audio.FramesPerBuffer)
	dur("LATENCY", &cfg.Latency)
	dur("DELAY", &cfg.Delay)
	dur("STALL_TIMEOUT", &cfg.StallTimeout)
	dur("STATUS_INTERVAL", &cfg.StatusInterval)
	str("METRICS_ADDR", &cfg.MetricsAddr)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("sample rate must not be negative, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels < 0 {
		errs = append(errs, fmt.Errorf("channels must not be negative, got %d", c.Audio.Channels))
	}
	if c.Audio.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("frames per buffer must not be negative, got %d", c.Audio.FramesPerBuffer))
	}
	if _, err := audio.ParseSampleFormat(c.Audio.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Latency <= 0 || c.Latency > MaxLatency {
		errs = append(errs, fmt.Errorf("latency must be in (0, %s], got %s", MaxLatency, c.Latency))
	}
	if c.Delay > MaxDelay {
		errs = append(errs, fmt.Errorf("delay must be at most %s, got %s", MaxDelay, c.Delay))
	}
	for name, d := range map[string]time.Duration{
		"delay":           c.Delay,
		"stall timeout":   c.StallTimeout,
		"status interval": c.StatusInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}

// StreamConfig returns the requested stream format. Call Validate first.
func (c *Config) StreamConfig() audio.StreamConfig {
	format, _ := audio.ParseSampleFormat(c.Audio.Format)
	return audio.StreamConfig{
		SampleRate:      c.Audio.SampleRate,
		Channels:        c.Audio.Channels,
		Format:          format,
		FramesPerBuffer: c.Audio.FramesPerBuffer,
	}
}
