package bootstrap

import (
	"github.com/rs/zerolog"

	"callpilot/internal/audio"
	"callpilot/internal/config"
	"callpilot/internal/livesync"
	"callpilot/internal/notes"
	"callpilot/internal/ports"
	"callpilot/internal/providers/backend"
	"callpilot/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.CallController
	Sync       *livesync.Engine
	Speaker    *usecase.SpeakerNegotiator
	Notes      *usecase.NotesController
	Config     config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, log zerolog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	score, err := livesync.NewScoreEngine(cfg.Score.Path, cfg.Score.HeavyHitterThreshold)
	if err != nil {
		return Services{}, err
	}

	store, err := notes.NewFileStore(cfg.Notes.Dir)
	if err != nil {
		return Services{}, err
	}

	apiCfg := backend.Config{APIKey: cfg.Backend.APIKey, APIBaseURL: cfg.Backend.APIBaseURL}
	api := backend.NewClient(apiCfg)
	transport := backend.NewTransport(apiCfg)

	syncEngine := livesync.NewEngine(api, eventSink, score, livesync.Options{
		PollInterval: cfg.Sync.PollInterval,
		AmmoWindow:   cfg.Sync.AmmoWindow,
	}, log.With().Str("component", "livesync").Logger())

	speaker := usecase.NewSpeakerNegotiator(api, eventSink, log.With().Str("component", "speaker").Logger())
	syncEngine.MetaConsumer = speaker.ApplyMeta

	notesCtl := usecase.NewNotesController(store, cfg.Notes.DebounceWait, log.With().Str("component", "notes").Logger())

	pipeline := audio.NewPipeline(
		audio.NewFFmpegCapture(cfg.Audio.RecorderCommand),
		audio.NewDesktopMicPermissions(),
		audio.PipelineConfig{
			Loopback: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.LoopbackFormat,
				InputDevice: cfg.Audio.LoopbackDevice,
			},
			Mic: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.MicFormat,
				InputDevice: cfg.Audio.MicDevice,
			},
			MeterInterval: cfg.Audio.MeterInterval,
			ChunkInterval: cfg.Audio.ChunkInterval,
		},
		log.With().Str("component", "audio").Logger(),
	)

	controller := usecase.NewCallController(
		api,
		transport,
		pipeline,
		syncEngine,
		speaker,
		notesCtl,
		eventSink,
		usecase.ControllerConfig{
			TeamID:       cfg.Call.TeamID,
			CloserID:     cfg.Call.CloserID,
			ErrorDisplay: cfg.Call.ErrorDisplay,
		},
		log.With().Str("component", "lifecycle").Logger(),
	)

	return Services{
		Controller: controller,
		Sync:       syncEngine,
		Speaker:    speaker,
		Notes:      notesCtl,
		Config:     cfg,
	}, nil
}
