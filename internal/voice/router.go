package voice

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-padel/internal/bus"
	"github.com/loqalabs/loqa-padel/internal/config"
	"github.com/loqalabs/loqa-padel/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Router turns final transcripts into referee commands and speaks the
// referee's answer.
type Router struct {
	cfg            config.VoiceConfig
	parser         *Parser
	bus            *bus.Client
	logger         *slog.Logger
	subTranscripts *nats.Subscription
	ctx            context.Context
	cancel         context.CancelFunc
}

func NewRouter(parent context.Context, cfg config.VoiceConfig, busClient *bus.Client, logger *slog.Logger) *Router {
	ctx, cancel := context.WithCancel(parent)
	return &Router{
		cfg:    cfg,
		parser: NewParser(cfg.Phrases),
		bus:    busClient,
		logger: logger.With(slog.String("component", "voice")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Router) Start() error {
	if !r.cfg.Enabled {
		return nil
	}
	sub, err := r.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, r.handleTranscript)
	if err != nil {
		return err
	}
	r.subTranscripts = sub
	return nil
}

func (r *Router) Close() {
	r.cancel()
	if r.subTranscripts != nil {
		_ = r.subTranscripts.Drain()
	}
}

func (r *Router) Healthy() bool {
	return !r.cfg.Enabled || r.subTranscripts != nil
}

func (r *Router) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		r.logger.Warn("voice failed to decode transcript", slogError(err))
		return
	}
	if transcript.Partial || transcript.Text == "" {
		return
	}
	cmd, ok := r.parser.Parse(transcript.Text)
	if !ok {
		r.logger.Debug("ignoring transcript", slog.String("session_id", transcript.SessionID))
		return
	}
	cmd.ID = uuid.NewString()
	cmd.Source = "voice"
	cmd.SessionID = transcript.SessionID

	// The subscription delivers one transcript at a time, so forwarding
	// inline keeps commands in the order they were spoken.
	r.forward(cmd)
}

func (r *Router) forward(cmd protocol.Command) {
	ctx, cancel := context.WithTimeout(r.ctx, time.Duration(r.cfg.RequestTimeoutMS)*time.Millisecond)
	defer cancel()

	var reply protocol.CommandReply
	if err := r.bus.RequestJSON(ctx, protocol.SubjectCommand, cmd, &reply); err != nil {
		r.logger.Warn("voice command failed", slog.String("intent", cmd.Intent), slogError(err))
		return
	}
	if !reply.OK || reply.Message == "" {
		r.logger.Warn("voice command rejected", slog.String("intent", cmd.Intent), slog.String("error", reply.Error))
		return
	}

	req := protocol.TTSRequest{
		SessionID: cmd.SessionID,
		Text:      reply.Message,
		Voice:     r.cfg.Voice,
		Target:    r.cfg.Target,
		TraceID:   cmd.ID,
	}
	if err := r.bus.PublishJSON(protocol.SubjectTTSRequest, req); err != nil {
		r.logger.Warn("voice failed to publish tts request", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
