package referee

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-padel/internal/history"
	"github.com/loqalabs/loqa-padel/internal/narration"
	"github.com/loqalabs/loqa-padel/internal/protocol"
	"github.com/loqalabs/loqa-padel/internal/score"
)

// ErrUnsupportedIntent is returned for commands outside the referee's closed set.
var ErrUnsupportedIntent = errors.New("unsupported intent")

// IntentSetConfig tags updates caused by a rules change.
const IntentSetConfig = "setConfig"

// Result describes what a command did to the match. Board is taken in the
// same critical section as the change, so it always matches Message.
type Result struct {
	Intent       string
	Message      string
	State        score.MatchState
	Outcome      score.Outcome
	NoOp         bool
	MatchID      string
	HistoryDepth int
	Board        protocol.Scoreboard
	// PreviousMatchID is set by a reset to the match it ended.
	PreviousMatchID string
}

// Dispatcher owns the match. All mutation goes through it under one lock.
type Dispatcher struct {
	mu       sync.Mutex
	state    score.MatchState
	rules    score.MatchConfig
	history  *history.Stack
	narrator *narration.Narrator
	matchID  string
	newID    func() string
	seq      uint64
}

func NewDispatcher(rules score.MatchConfig, narrator *narration.Narrator) (*Dispatcher, error) {
	if narrator == nil {
		return nil, errors.New("narrator is required")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		state:    score.NewMatchState(),
		rules:    rules,
		history:  history.New(),
		narrator: narrator,
		newID:    uuid.NewString,
	}
	d.matchID = d.newID()
	return d, nil
}

// AddPoint credits a point to team. Points scored after the match is decided
// change nothing and are not recorded.
func (d *Dispatcher) AddPoint(team score.Team) (Result, error) {
	if !team.Valid() {
		return Result{Intent: protocol.IntentAddPoint}, fmt.Errorf("%w: %q", score.ErrInvalidTeam, string(team))
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	next, out := score.ApplyPoint(d.state, d.rules, team)
	if out.Kind == score.MatchAlreadyWon {
		return d.result(protocol.IntentAddPoint, d.narrator.Outcome(out, d.state, d.rules), out, true), nil
	}
	d.history.Record(d.state)
	d.state = next
	d.seq++
	return d.result(protocol.IntentAddPoint, d.narrator.Outcome(out, d.state, d.rules), out, false), nil
}

// UndoLastPoint restores the state before the most recent point.
func (d *Dispatcher) UndoLastPoint() Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.history.Undo()
	if !ok {
		return d.result(protocol.IntentUndoLastPoint, d.narrator.NothingToUndo(), score.Outcome{}, true)
	}
	d.state = prev
	d.seq++
	return d.result(protocol.IntentUndoLastPoint, d.narrator.Undone(d.state, d.rules), score.Outcome{}, false)
}

// ResetMatch starts a new match. It cannot be undone.
func (d *Dispatcher) ResetMatch() Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	previous := d.matchID
	d.state = score.NewMatchState()
	d.history.Clear()
	d.matchID = d.newID()
	d.seq++
	res := d.result(protocol.IntentResetMatch, d.narrator.Reset(), score.Outcome{}, false)
	res.PreviousMatchID = previous
	return res
}

// Dispatch routes a command by intent.
func (d *Dispatcher) Dispatch(cmd protocol.Command) (Result, error) {
	switch cmd.Intent {
	case protocol.IntentAddPoint:
		team, err := score.ParseTeam(cmd.Team)
		if err != nil {
			return Result{Intent: cmd.Intent}, err
		}
		return d.AddPoint(team)
	case protocol.IntentUndoLastPoint:
		return d.UndoLastPoint(), nil
	case protocol.IntentResetMatch:
		return d.ResetMatch(), nil
	}
	return Result{Intent: cmd.Intent}, ErrUnsupportedIntent
}

// SetConfig replaces the rules. They apply from the next point on; the
// current score is left as it is.
func (d *Dispatcher) SetConfig(rules score.MatchConfig) (Result, error) {
	if err := rules.Validate(); err != nil {
		return Result{Intent: IntentSetConfig}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = rules
	d.seq++
	return d.result(IntentSetConfig, d.narrator.ConfigChanged(), score.Outcome{}, false), nil
}

// UpdateConfig merges update into the current rules and applies them in one
// step, so concurrent updates never overwrite each other.
func (d *Dispatcher) UpdateConfig(update protocol.ConfigUpdate) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rules, err := MergeRules(d.rules, update)
	if err != nil {
		return Result{Intent: IntentSetConfig}, err
	}
	d.rules = rules
	d.seq++
	return d.result(IntentSetConfig, d.narrator.ConfigChanged(), score.Outcome{}, false), nil
}

func (d *Dispatcher) Rules() score.MatchConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rules
}

func (d *Dispatcher) MatchID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.matchID
}

// Snapshot returns a copy of the scoreboard.
func (d *Dispatcher) Snapshot() protocol.Scoreboard {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scoreboard()
}

func (d *Dispatcher) scoreboard() protocol.Scoreboard {
	return protocol.Scoreboard{
		MatchID:      d.matchID,
		State:        d.state.Clone(),
		Rules:        d.rules,
		View:         score.Describe(d.state, d.rules),
		Description:  d.narrator.Score(d.state, d.rules),
		HistoryDepth: d.history.Len(),
		Seq:          d.seq,
	}
}

func (d *Dispatcher) result(intent, message string, out score.Outcome, noop bool) Result {
	return Result{
		Intent:       intent,
		Message:      message,
		State:        d.state.Clone(),
		Outcome:      out,
		NoOp:         noop,
		MatchID:      d.matchID,
		HistoryDepth: d.history.Len(),
		Board:        d.scoreboard(),
	}
}
