package referee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-padel/internal/bus"
	"github.com/loqalabs/loqa-padel/internal/eventstore"
	"github.com/loqalabs/loqa-padel/internal/protocol"
	"github.com/loqalabs/loqa-padel/internal/score"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/loqalabs/loqa-padel/referee"

// Service exposes the dispatcher on the bus and is the entry point for every
// input surface. It journals and broadcasts each state change.
type Service struct {
	court      string
	dispatcher *Dispatcher
	bus        *bus.Client
	store      *eventstore.Store
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	commands   metric.Int64Counter
	points     metric.Int64Counter
	ctx        context.Context
	cancel     context.CancelFunc
	subs       []*nats.Subscription
	listeners  []func(protocol.ScoreUpdate)
	started    bool
	mu         sync.Mutex
	// order is held from a change to its broadcast so updates go out in the
	// order they were applied.
	order sync.Mutex
}

// NewService wires a dispatcher to the bus and journal. busClient and store
// may be nil.
func NewService(parent context.Context, court string, dispatcher *Dispatcher, busClient *bus.Client, store *eventstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		court:      court,
		dispatcher: dispatcher,
		bus:        busClient,
		store:      store,
		logger:     logger.With(slog.String("component", "referee")),
		tracer:     otel.Tracer(instrumentation),
		meter:      otel.Meter(instrumentation),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnUpdate registers fn to receive every score update. Call it before Start.
func (s *Service) OnUpdate(fn func(protocol.ScoreUpdate)) {
	s.listeners = append(s.listeners, fn)
}

func (s *Service) Start() error {
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	s.journalMatchStart(s.ctx, s.dispatcher.MatchID())

	if s.bus != nil {
		conn := s.bus.Conn()
		for subject, handler := range map[string]nats.MsgHandler{
			protocol.SubjectCommand:   s.handleCommand,
			protocol.SubjectConfigSet: s.handleConfig,
			protocol.SubjectScoreGet:  s.handleScoreGet,
		} {
			sub, err := conn.Subscribe(subject, handler)
			if err != nil {
				s.drain()
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			s.subs = append(s.subs, sub)
		}
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.logger.Info("referee ready", slog.String("match_id", s.dispatcher.MatchID()))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drain()
}

func (s *Service) drain() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && (s.bus == nil || s.bus.Healthy())
}

// Scoreboard returns the current match view.
func (s *Service) Scoreboard() protocol.Scoreboard {
	return s.dispatcher.Snapshot()
}

// Execute runs a command against the match. Rejected commands produce a reply
// with OK=false alongside the error.
func (s *Service) Execute(ctx context.Context, cmd protocol.Command) (protocol.CommandReply, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	ctx, span := s.tracer.Start(ctx, "referee.execute", trace.WithAttributes(
		attribute.String("padel.intent", cmd.Intent),
		attribute.String("padel.source", cmd.Source),
	))
	defer span.End()

	s.order.Lock()
	defer s.order.Unlock()

	res, err := s.dispatcher.Dispatch(cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.countCommand(ctx, cmd.Intent, "rejected")
		s.logger.Warn("command rejected",
			slog.String("id", cmd.ID),
			slog.String("intent", cmd.Intent),
			slog.String("source", cmd.Source),
			slogError(err))
		return protocol.CommandReply{ID: cmd.ID, OK: false, Error: err.Error()}, err
	}

	span.SetAttributes(
		attribute.String("padel.match_id", res.MatchID),
		attribute.String("padel.outcome", string(res.Outcome.Kind)),
		attribute.Bool("padel.no_op", res.NoOp),
	)
	status := "applied"
	if res.NoOp {
		status = "no_op"
	}
	s.countCommand(ctx, cmd.Intent, status)
	if s.points != nil && cmd.Intent == protocol.IntentAddPoint && !res.NoOp {
		s.points.Add(ctx, 1, metric.WithAttributes(attribute.String("team", string(res.Outcome.Winner))))
	}

	s.journal(ctx, cmd, res)
	board := res.Board
	if !res.NoOp {
		s.publishUpdate(res)
	}

	s.logger.Info("command applied",
		slog.String("id", cmd.ID),
		slog.String("intent", cmd.Intent),
		slog.String("source", cmd.Source),
		slog.String("match_id", res.MatchID),
		slog.String("outcome", string(res.Outcome.Kind)),
		slog.Bool("no_op", res.NoOp))

	return protocol.CommandReply{ID: cmd.ID, OK: true, NoOp: res.NoOp, Message: res.Message, Score: &board}, nil
}

// Configure merges update into the current rules.
func (s *Service) Configure(ctx context.Context, update protocol.ConfigUpdate) (protocol.CommandReply, error) {
	ctx, span := s.tracer.Start(ctx, "referee.configure")
	defer span.End()

	s.order.Lock()
	defer s.order.Unlock()

	res, err := s.dispatcher.UpdateConfig(update)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return protocol.CommandReply{OK: false, Error: err.Error()}, err
	}
	rules := res.Board.Rules
	payload, _ := json.Marshal(rules)
	s.appendEvent(ctx, eventstore.Event{MatchID: res.MatchID, Type: eventstore.TypeConfigChanged, Payload: payload})
	s.publishUpdate(res)
	s.logger.Info("rules updated",
		slog.String("rule66", string(rules.Rule66)),
		slog.String("deuce_mode", string(rules.DeuceMode)),
		slog.Int("sets_to_win", rules.SetsToWin))
	board := res.Board
	return protocol.CommandReply{OK: true, Message: res.Message, Score: &board}, nil
}

// MergeRules applies the non-empty fields of update to rules.
func MergeRules(rules score.MatchConfig, update protocol.ConfigUpdate) (score.MatchConfig, error) {
	if update.Rule66 != "" {
		r, err := score.ParseRule66(update.Rule66)
		if err != nil {
			return rules, err
		}
		rules.Rule66 = r
	}
	if update.DeuceMode != "" {
		m, err := score.ParseDeuceMode(update.DeuceMode)
		if err != nil {
			return rules, err
		}
		rules.DeuceMode = m
	}
	if update.SetsToWin != nil {
		rules.SetsToWin = *update.SetsToWin
	}
	if update.ProSetFirstToEight != nil {
		rules.ProSetFirstToEight = *update.ProSetFirstToEight
	}
	return rules, rules.Validate()
}

func (s *Service) handleCommand(msg *nats.Msg) {
	var cmd protocol.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("referee failed to decode command", slogError(err))
		s.respond(msg, protocol.CommandReply{OK: false, Error: "invalid command payload"})
		return
	}
	if cmd.Source == "" {
		cmd.Source = "bus"
	}
	reply, _ := s.Execute(s.ctx, cmd)
	s.respond(msg, reply)
}

func (s *Service) handleConfig(msg *nats.Msg) {
	var update protocol.ConfigUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		s.logger.Warn("referee failed to decode config update", slogError(err))
		s.respond(msg, protocol.CommandReply{OK: false, Error: "invalid config payload"})
		return
	}
	reply, err := s.Configure(s.ctx, update)
	if err != nil {
		s.logger.Warn("config update rejected", slogError(err))
	}
	s.respond(msg, reply)
}

func (s *Service) handleScoreGet(msg *nats.Msg) {
	board := s.dispatcher.Snapshot()
	s.respond(msg, protocol.CommandReply{OK: true, Message: board.Description, Score: &board})
}

func (s *Service) respond(msg *nats.Msg, reply protocol.CommandReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("referee failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("referee failed to respond", slogError(err))
	}
}

func (s *Service) publishUpdate(res Result) {
	update := protocol.ScoreUpdate{
		Intent:    res.Intent,
		Outcome:   res.Outcome,
		Message:   res.Message,
		Score:     res.Board,
		Timestamp: time.Now().UTC(),
	}
	for _, fn := range s.listeners {
		fn(update)
	}
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(protocol.SubjectScoreUpdated, update); err != nil {
		s.logger.Warn("referee failed to publish score update", slogError(err))
	}
}

func (s *Service) journal(ctx context.Context, cmd protocol.Command, res Result) {
	var typ string
	switch {
	case cmd.Intent == protocol.IntentAddPoint && !res.NoOp:
		typ = eventstore.TypePointScored
	case cmd.Intent == protocol.IntentUndoLastPoint && res.NoOp:
		typ = eventstore.TypeUndoEmpty
	case cmd.Intent == protocol.IntentUndoLastPoint:
		typ = eventstore.TypePointUndone
	case cmd.Intent == protocol.IntentResetMatch:
		typ = eventstore.TypeMatchReset
	default:
		return
	}
	payload, err := json.Marshal(struct {
		Team    string           `json:"team,omitempty"`
		Outcome score.Outcome    `json:"outcome"`
		State   score.MatchState `json:"state"`
	}{Team: cmd.Team, Outcome: res.Outcome, State: res.State})
	if err != nil {
		s.logger.Warn("referee failed to encode journal payload", slogError(err))
		return
	}
	evt := eventstore.Event{
		MatchID:   res.MatchID,
		CommandID: cmd.ID,
		Source:    cmd.Source,
		Type:      typ,
		Payload:   payload,
	}
	if typ == eventstore.TypePointScored {
		evt.Team = string(res.Outcome.Winner)
		evt.Outcome = string(res.Outcome.Kind)
	}
	if typ == eventstore.TypeMatchReset {
		// The reset is the last event of the match it ends.
		evt.MatchID = res.PreviousMatchID
		s.appendEvent(ctx, evt)
		s.journalMatchStart(ctx, res.MatchID)
		return
	}
	s.appendEvent(ctx, evt)
}

func (s *Service) journalMatchStart(ctx context.Context, matchID string) {
	if err := s.store.AppendMatch(ctx, matchID, s.court); err != nil {
		s.logger.Warn("failed to journal match", slogError(err))
		return
	}
	s.appendEvent(ctx, eventstore.Event{MatchID: matchID, Type: eventstore.TypeMatchStarted})
}

func (s *Service) appendEvent(ctx context.Context, evt eventstore.Event) {
	if err := s.store.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to journal event", slog.String("type", evt.Type), slogError(err))
	}
}

func (s *Service) countCommand(ctx context.Context, intent, status string) {
	if s.commands == nil {
		return
	}
	s.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.String("status", status),
	))
}

func (s *Service) initMetrics() error {
	var errs []error
	commands, err := s.meter.Int64Counter("padel.referee.commands", metric.WithDescription("Commands handled by the referee"))
	if err != nil {
		errs = append(errs, err)
	} else {
		s.commands = commands
	}
	points, err := s.meter.Int64Counter("padel.referee.points", metric.WithDescription("Points scored per team"))
	if err != nil {
		errs = append(errs, err)
	} else {
		s.points = points
	}

	depth, err := s.meter.Int64ObservableGauge("padel.referee.history_depth", metric.WithDescription("Undoable points in the current match"))
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	games, err := s.meter.Int64ObservableGauge("padel.referee.games", metric.WithDescription("Games in the current set per team"))
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	_, err = s.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		board := s.dispatcher.Snapshot()
		obs.ObserveInt64(depth, int64(board.HistoryDepth))
		obs.ObserveInt64(games, int64(board.State.Games.Us), metric.WithAttributes(attribute.String("team", string(score.Us))))
		obs.ObserveInt64(games, int64(board.State.Games.Them), metric.WithAttributes(attribute.String("team", string(score.Them))))
		return nil
	}, depth, games)
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
