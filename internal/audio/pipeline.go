package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"callpilot/internal/domain"
	"callpilot/internal/ports"
)

var ErrAlreadyCapturing = errors.New("capture pipeline is already running")

// StartError is a classified pipeline start failure.
type StartError struct {
	Class domain.ErrorClass
	Err   error
}

func (e *StartError) Error() string { return e.Err.Error() }
func (e *StartError) Unwrap() error { return e.Err }

// Classify extracts the error class from a pipeline failure.
func Classify(err error) domain.ErrorClass {
	var startErr *StartError
	if errors.As(err, &startErr) {
		return startErr.Class
	}
	return domain.ErrorClassUnknown
}

// Sinks receive pipeline output. Chunk is called with every non-empty mixed
// chunk in strict emission order; Level with every meter sample.
type Sinks struct {
	Chunk func(chunk []byte)
	Level func(sample domain.LevelSample)
}

// PipelineConfig describes both capture sources and the emission cadence.
type PipelineConfig struct {
	Loopback      ports.AudioConfig
	Mic           ports.AudioConfig
	MeterInterval time.Duration
	ChunkInterval time.Duration
}

// Pipeline captures system-loopback and microphone audio, mixes them into one
// stream, meters levels, and emits chunked audio. The microphone is optional:
// a denied permission or a missing mic degrades to loopback-only capture.
type Pipeline struct {
	capture ports.AudioCapture
	perms   ports.MicPermissions
	cfg     PipelineConfig
	log     zerolog.Logger
	now     func() time.Time

	mu  sync.Mutex
	run *captureRun
}

type captureRun struct {
	cancel     context.CancelFunc
	sources    []ports.AudioSource
	pumpsDone  []chan struct{}
	timersDone chan struct{}
}

func NewPipeline(capture ports.AudioCapture, perms ports.MicPermissions, cfg PipelineConfig, log zerolog.Logger) *Pipeline {
	if cfg.MeterInterval <= 0 {
		cfg.MeterInterval = 50 * time.Millisecond
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = 100 * time.Millisecond
	}
	return &Pipeline{
		capture: capture,
		perms:   perms,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Start acquires whatever sources are available and begins mixing, metering,
// and chunk emission. Failures are classified; any partially acquired state
// is torn down before the error returns.
func (p *Pipeline) Start(ctx context.Context, sinks Sinks) error {
	p.mu.Lock()
	if p.run != nil {
		p.mu.Unlock()
		return &StartError{Class: domain.ErrorClassStateConflict, Err: ErrAlreadyCapturing}
	}
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	mixer := newPCMMixer()
	var sources []ports.AudioSource
	var indices []int

	system, sysErr := p.capture.Start(runCtx, p.cfg.Loopback)
	if sysErr != nil {
		p.log.Warn().Err(sysErr).Msg("system loopback capture unavailable")
	} else {
		sources = append(sources, system)
		indices = append(indices, sourceSystem)
	}

	mic, micDenied, micErr := p.acquireMic(runCtx)
	if micErr != nil {
		p.log.Warn().Err(micErr).Bool("denied", micDenied).Msg("microphone capture unavailable")
	} else {
		sources = append(sources, mic)
		indices = append(indices, sourceMic)
	}

	if len(sources) == 0 {
		cancel()
		if micDenied {
			return &StartError{
				Class: domain.ErrorClassPermission,
				Err:   fmt.Errorf("microphone access denied; enable it in system sound settings: %w", micErr),
			}
		}
		err := sysErr
		if err == nil {
			err = micErr
		}
		return &StartError{Class: domain.ErrorClassDevice, Err: fmt.Errorf("no capturable audio device: %w", err)}
	}

	run := &captureRun{
		cancel:     cancel,
		sources:    sources,
		timersDone: make(chan struct{}),
	}
	for i, src := range sources {
		idx := indices[i]
		mixer.activate(idx)
		done := make(chan struct{})
		run.pumpsDone = append(run.pumpsDone, done)
		go pumpSource(src, idx, mixer, p.log, done)
	}
	go p.runTimers(runCtx, mixer, sinks, run.timersDone)

	p.mu.Lock()
	p.run = run
	p.mu.Unlock()
	return nil
}

// Stop tears down the active run: timers, pumps, and capture sources. It is
// idempotent and safe before a successful Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	run := p.run
	p.run = nil
	p.mu.Unlock()

	if run == nil {
		return
	}

	run.cancel()
	for _, src := range run.sources {
		if err := src.Stop(); err != nil {
			p.log.Warn().Err(err).Msg("audio source did not stop cleanly")
		}
	}
	for _, done := range run.pumpsDone {
		<-done
	}
	<-run.timersDone
}

// Active reports whether a capture run is in progress.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run != nil
}

// acquireMic walks the permission triad before opening the device. A denial
// opens the OS settings and fails only the microphone acquisition.
func (p *Pipeline) acquireMic(ctx context.Context) (ports.AudioSource, bool, error) {
	status, err := p.perms.Status(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("microphone permission check failed: %w", err)
	}
	if status == ports.PermissionUndetermined {
		status, err = p.perms.Request(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("microphone permission request failed: %w", err)
		}
	}
	if status == ports.PermissionDenied {
		if settingsErr := p.perms.OpenSettings(ctx); settingsErr != nil {
			p.log.Warn().Err(settingsErr).Msg("could not open sound settings")
		}
		return nil, true, errors.New("microphone permission denied")
	}

	src, err := p.capture.Start(ctx, p.cfg.Mic)
	if err != nil {
		return nil, false, err
	}
	return src, false, nil
}

func pumpSource(src ports.AudioSource, idx int, mixer *pcmMixer, log zerolog.Logger, done chan struct{}) {
	defer close(done)
	defer mixer.deactivate(idx)

	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			mixer.push(idx, buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Int("source", idx).Msg("audio source read failed")
			}
			return
		}
	}
}

// runTimers drives the meter and chunk cadence from a single goroutine so
// chunk emission order matches capture order.
func (p *Pipeline) runTimers(ctx context.Context, mixer *pcmMixer, sinks Sinks, done chan struct{}) {
	defer close(done)

	meter := time.NewTicker(p.cfg.MeterInterval)
	defer meter.Stop()
	chunker := time.NewTicker(p.cfg.ChunkInterval)
	defer chunker.Stop()

	for {
		select {
		case <-ctx.Done():
			if chunk := mixer.takeChunk(); len(chunk) > 0 && sinks.Chunk != nil {
				sinks.Chunk(chunk)
			}
			return
		case <-meter.C:
			if sinks.Level != nil {
				sinks.Level(domain.LevelSample{Level: mixer.level(), At: p.now()})
			}
		case <-chunker.C:
			if chunk := mixer.takeChunk(); len(chunk) > 0 && sinks.Chunk != nil {
				sinks.Chunk(chunk)
			}
		}
	}
}
