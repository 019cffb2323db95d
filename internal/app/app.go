package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petems/chemic/internal/audio"
	"github.com/petems/chemic/internal/config"
	"github.com/petems/chemic/internal/observe"
	"github.com/petems/chemic/internal/pipeline"
	"github.com/petems/chemic/internal/selector"
	"github.com/petems/chemic/internal/stopkey"
	"github.com/rs/zerolog"
)

// StatusUpdater shows the user what the monitor is doing.
type StatusUpdater interface {
	SetRunning(info pipeline.Info)
	SetLevel(peak float32, stats pipeline.Stats)
	SetStopped(err error)
}

type Config struct {
	Host     audio.Host
	Selector selector.Selector
	Keys     stopkey.Watcher
	Config   *config.Config
	Logger   zerolog.Logger
	Metrics  *observe.Metrics // Optional - can be nil
	Status   StatusUpdater    // Optional - can be nil

	// Delay plays the microphone back after Config.Delay instead of live.
	Delay bool
}

type App struct {
	host    audio.Host
	sel     selector.Selector
	keys    stopkey.Watcher
	cfg     *config.Config
	log     zerolog.Logger
	metrics *observe.Metrics
	status  StatusUpdater
	delay   bool

	mu   sync.Mutex
	pipe *pipeline.Pipeline
}

func New(cfg Config) *App {
	keys := cfg.Keys
	if keys == nil {
		keys = stopkey.Never
	}
	return &App{
		host:    cfg.Host,
		sel:     cfg.Selector,
		keys:    keys,
		cfg:     cfg.Config,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		status:  cfg.Status,
		delay:   cfg.Delay,
	}
}

// Run selects devices and monitors the input through the output until a
// stop key, ctx ending or a stream failure. Backing out of device
// selection or stopping on purpose returns nil.
func (a *App) Run(ctx context.Context) error {
	input, output, err := a.sel.Select(ctx, a.host)
	if err != nil {
		if errors.Is(err, selector.ErrCancelled) || errors.Is(err, context.Canceled) {
			a.log.Info().Msg("Device selection cancelled")
			return nil
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	requested := a.cfg.StreamConfig()
	opts := pipeline.Options{
		Input:        requested,
		Output:       requested,
		Latency:      a.cfg.Latency,
		StallTimeout: a.cfg.StallTimeout,
		OnRunning: func(info pipeline.Info) {
			if a.status != nil {
				a.status.SetRunning(info)
			}
			// Watchers start only now so nothing reads the terminal
			// while the device summary is printed.
			wg.Add(2)
			go func() {
				defer wg.Done()
				a.watchKeys(runCtx, cancel)
			}()
			go func() {
				defer wg.Done()
				a.report(runCtx)
			}()
		},
		OnTransition: func(_, to pipeline.State) {
			if to != pipeline.Stopping {
				return
			}
			// The key watcher holds the terminal in raw mode; release it
			// before the pipeline logs why it stopped.
			cancel()
			wg.Wait()
		},
	}
	if a.delay {
		opts.Delay = a.cfg.Delay
	}

	p := pipeline.New(a.host, opts, a.log)
	a.mu.Lock()
	a.pipe = p
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.Watch(p)
	}

	err = p.Run(runCtx, input, output)
	cancel()
	wg.Wait()

	if a.metrics != nil {
		a.metrics.RunFinished(context.WithoutCancel(ctx), err)
		a.metrics.Watch(nil)
	}
	if a.status != nil {
		a.status.SetStopped(err)
	}
	return err
}

// Pipeline returns the pipeline of the current or last run, or nil.
func (a *App) Pipeline() *pipeline.Pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pipe
}

func (a *App) watchKeys(ctx context.Context, stop context.CancelFunc) {
	err := a.keys.Wait(ctx)
	switch {
	case err == nil:
		a.log.Info().Msg("Stop key pressed")
	case ctx.Err() != nil:
		return
	default:
		a.log.Warn().Err(err).Msg("Stop key watcher failed, stop with Ctrl-C")
		return
	}
	stop()
}

func (a *App) report(ctx context.Context) {
	if a.cfg.StatusInterval <= 0 {
		return
	}
	p := a.Pipeline()

	ticker := time.NewTicker(a.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peak := p.TakePeak()
			if a.metrics != nil {
				a.metrics.RecordPeak(peak)
			}
			if a.status != nil && p.State() == pipeline.Running {
				a.status.SetLevel(peak, p.Stats())
			}
		}
	}
}
