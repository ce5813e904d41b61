package protocol

import (
	"time"

	"github.com/loqalabs/loqa-padel/internal/score"
)

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// TTSRequest asks the speech pipeline to read text aloud.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Target    string `json:"target,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// TTSStatus reports that an announcement finished.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Intents accepted by the referee. Anything else is rejected.
const (
	IntentAddPoint      = "addPoint"
	IntentUndoLastPoint = "undoLastPoint"
	IntentResetMatch    = "resetMatch"
)

// Command is a referee instruction sent on SubjectCommand. Source names the
// input surface (tap, voice or cli) and is kept in the audit journal.
type Command struct {
	ID        string `json:"id"`
	Intent    string `json:"intent"`
	Team      string `json:"team,omitempty"`
	Source    string `json:"source,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// CommandReply answers a Command.
type CommandReply struct {
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	NoOp    bool        `json:"no_op,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Score   *Scoreboard `json:"score,omitempty"`
}

// Scoreboard is the display view of the match. Seq grows with every change
// of match state or rules; displays keep the board with the highest Seq.
type Scoreboard struct {
	MatchID      string            `json:"match_id"`
	State        score.MatchState  `json:"state"`
	Rules        score.MatchConfig `json:"rules"`
	View         score.ScoreView   `json:"view"`
	Description  string            `json:"description"`
	HistoryDepth int               `json:"history_depth"`
	Seq          uint64            `json:"seq"`
}

// ScoreUpdate is published after every change of match state.
type ScoreUpdate struct {
	Intent    string        `json:"intent"`
	Outcome   score.Outcome `json:"outcome"`
	Message   string        `json:"message"`
	Score     Scoreboard    `json:"score"`
	Timestamp time.Time     `json:"timestamp"`
}

// ConfigUpdate changes the match rules; empty fields keep their value.
type ConfigUpdate struct {
	Rule66             string `json:"rule66,omitempty"`
	DeuceMode          string `json:"deuce_mode,omitempty"`
	SetsToWin          *int   `json:"sets_to_win,omitempty"`
	ProSetFirstToEight *bool  `json:"pro_set_first_to_eight,omitempty"`
}

const (
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectTTSRequest        = "tts.request"
	SubjectTTSDone           = "tts.done"
	SubjectCommand           = "padel.command"
	SubjectConfigSet         = "padel.config.set"
	SubjectScoreGet          = "padel.score.get"
	SubjectScoreUpdated      = "padel.score.updated"
)
