package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/chemic/internal/app"
	"github.com/petems/chemic/internal/audio"
	"github.com/petems/chemic/internal/config"
	"github.com/petems/chemic/internal/logging"
	"github.com/petems/chemic/internal/observe"
	"github.com/petems/chemic/internal/permissions"
	"github.com/petems/chemic/internal/selector"
	"github.com/petems/chemic/internal/stopkey"
	"github.com/rs/zerolog"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

const banner = `
 ______ __           _______ __         (=)
|      |  |--.-----.|   |   |__|.----.  |x|
|   ---|     |  -__||       |  ||  __|  | |
|______|__|__|_____||__|_|__|__||____|  |_|

CheMic - Microphone testing tool (%s)
`

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	fmt.Printf(banner, Version)

	cfg, err := config.Load()
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log, logFile, err := logging.NewWithLevel(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fallback := logging.New()
		fallback.Fatal().Err(err).Msg("Failed to set up logging")
	}

	if err := run(opts, cfg, log); err != nil {
		logFile.Close()
		log.Fatal().Err(err).Msg("CheMic stopped with an error")
	}
	logFile.Close()
}

func run(opts options, cfg *config.Config, log zerolog.Logger) error {
	if err := permissions.EnsureMicrophone(log); err != nil {
		return err
	}

	host, err := audio.NewPortAudio()
	if err != nil {
		return err
	}
	defer func() {
		if err := host.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to terminate PortAudio")
		}
	}()

	if opts.list {
		return listDevices(os.Stdout, host)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var metrics *observe.Metrics
	if cfg.MetricsAddr != "" {
		provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to shut down metrics")
			}
		}()

		if metrics, err = observe.NewMetrics(provider.MeterProvider); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		defer metrics.Close()

		go func() {
			if err := observe.Serve(ctx, cfg.MetricsAddr, provider.Handler(), log); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	application := app.New(app.Config{
		Host:     host,
		Selector: chooseSelector(opts),
		Keys:     stopkey.New(os.Stdin, log),
		Config:   cfg,
		Logger:   log,
		Metrics:  metrics,
		Status:   app.NewConsole(os.Stdout),
		Delay:    opts.delay,
	})

	log.Debug().Str("version", Version).Str("commit", Commit).Msg("CheMic starting")
	return application.Run(ctx)
}

func chooseSelector(opts options) selector.Selector {
	switch {
	case opts.useDefault:
		return selector.Defaults{}
	case opts.input != "" || opts.output != "":
		return selector.ByName{Input: opts.input, Output: opts.output}
	}
	return selector.NewPrompt(nil, nil)
}

func listDevices(w io.Writer, host audio.Host) error {
	for _, dir := range []audio.Direction{audio.Input, audio.Output} {
		devices, err := host.Devices(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s devices:\n", dir)
		for _, d := range devices {
			fmt.Fprintf(w, "  %-40s %d ch  %.0f Hz\n", selector.Label(d), d.MaxChannels(dir), d.DefaultSampleRate)
		}
	}
	return nil
}
