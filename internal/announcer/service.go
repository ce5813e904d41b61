package announcer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-padel/internal/bus"
	"github.com/loqalabs/loqa-padel/internal/config"
	"github.com/loqalabs/loqa-padel/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service consumes tts.request and reports completion on tts.done.
type Service struct {
	cfg     config.AnnouncerConfig
	bus     *bus.Client
	speaker Speaker
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.AnnouncerConfig, busClient *bus.Client, speaker Speaker, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		speaker: speaker,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "announcer")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if req.Text == "" {
		return
	}

	// Speak inline: announcements must come out in the order they were
	// requested.
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	status := protocol.TTSStatus{SessionID: req.SessionID, Target: req.Target, TraceID: req.TraceID, Completed: true}
	if err := s.speaker.Speak(ctx, req); err != nil {
		s.logger.Warn("announcement failed", slog.String("trace_id", req.TraceID), slogError(err))
		status.Completed = false
		status.Error = err.Error()
	}
	status.Timestamp = time.Now().UTC()
	if err := s.bus.PublishJSON(protocol.SubjectTTSDone, status); err != nil {
		s.logger.Warn("failed to publish tts status", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
