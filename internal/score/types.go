package score

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTeam is returned when a team identifier is neither "us" nor "them".
var ErrInvalidTeam = errors.New("team must be one of us|them")

// Team identifies one side of the court.
type Team string

const (
	Us   Team = "us"
	Them Team = "them"
)

// ParseTeam accepts "us" or "them" in any case.
func ParseTeam(value string) (Team, error) {
	switch Team(strings.ToLower(strings.TrimSpace(value))) {
	case Us:
		return Us, nil
	case Them:
		return Them, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTeam, value)
}

// Opponent returns the other team.
func (t Team) Opponent() Team {
	if t == Us {
		return Them
	}
	return Us
}

func (t Team) Valid() bool { return t == Us || t == Them }

// Pair holds one counter per team.
type Pair struct {
	Us   int `json:"us"`
	Them int `json:"them"`
}

func (p Pair) Get(t Team) int {
	if t == Us {
		return p.Us
	}
	return p.Them
}

func (p *Pair) Set(t Team, v int) {
	if t == Us {
		p.Us = v
		return
	}
	p.Them = v
}

func (p *Pair) Inc(t Team) { p.Set(t, p.Get(t)+1) }

// Point counts within a regular game. Advantage is only reachable from deuce.
const (
	PointLove      = 0
	PointFifteen   = 1
	PointThirty    = 2
	PointForty     = 3
	PointAdvantage = 4
)

// MatchState is the scoring aggregate for one match.
type MatchState struct {
	Points         Pair   `json:"points"`
	Games          Pair   `json:"games"`
	Sets           Pair   `json:"sets"`
	SetHistory     []Pair `json:"set_history"`
	IsTieBreak     bool   `json:"is_tie_break"`
	TieBreakPoints Pair   `json:"tie_break_points"`
	DeuceCount     int    `json:"deuce_count"`
	// Winner is only set when the match-completion rule is enabled and has fired.
	Winner *Team `json:"winner,omitempty"`
}

// NewMatchState returns the canonical zero state.
func NewMatchState() MatchState {
	return MatchState{SetHistory: []Pair{}}
}

// Clone returns a copy sharing no memory with s.
func (s MatchState) Clone() MatchState {
	out := s
	out.SetHistory = make([]Pair, len(s.SetHistory))
	copy(out.SetHistory, s.SetHistory)
	if s.Winner != nil {
		w := *s.Winner
		out.Winner = &w
	}
	return out
}

// Finished reports whether a match winner has been decided.
func (s MatchState) Finished() bool { return s.Winner != nil }

// Rule66 selects what happens when games reach 6-6.
type Rule66 string

const (
	RuleTieBreak Rule66 = "TIE_BREAK"
	RuleProSet8  Rule66 = "PRO_SET_8"
)

// DeuceMode selects how a 40-40 game is resolved.
type DeuceMode string

const (
	DeuceImmediateKiller  DeuceMode = "IMMEDIATE_KILLER"
	DeuceAdvTwiceThenKill DeuceMode = "ADV_X2_THEN_KILLER"
)

func normalizeEnum(value string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(value)), "-", "_")
}

func ParseRule66(value string) (Rule66, error) {
	switch r := Rule66(normalizeEnum(value)); r {
	case RuleTieBreak, RuleProSet8:
		return r, nil
	}
	return "", fmt.Errorf("rule66 must be one of TIE_BREAK|PRO_SET_8, got %q", value)
}

func ParseDeuceMode(value string) (DeuceMode, error) {
	switch m := DeuceMode(normalizeEnum(value)); m {
	case DeuceImmediateKiller, DeuceAdvTwiceThenKill:
		return m, nil
	}
	return "", fmt.Errorf("deuce_mode must be one of IMMEDIATE_KILLER|ADV_X2_THEN_KILLER, got %q", value)
}

// MatchConfig holds the user-adjustable rules. Changing it mid-match takes
// effect on the next point.
type MatchConfig struct {
	Rule66    Rule66    `json:"rule66"`
	DeuceMode DeuceMode `json:"deuce_mode"`
	// SetsToWin ends the match once a team has won that many sets. Zero means
	// sets accumulate without a match winner.
	SetsToWin int `json:"sets_to_win"`
	// ProSetFirstToEight makes 8-7 a set win under PRO_SET_8. When false the
	// two-game lead is required at the limit as well.
	ProSetFirstToEight bool `json:"pro_set_first_to_eight"`
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{Rule66: RuleTieBreak, DeuceMode: DeuceImmediateKiller}
}

func (c MatchConfig) Validate() error {
	if _, err := ParseRule66(string(c.Rule66)); err != nil {
		return err
	}
	if _, err := ParseDeuceMode(string(c.DeuceMode)); err != nil {
		return err
	}
	if c.SetsToWin < 0 {
		return errors.New("sets_to_win must be >= 0")
	}
	return nil
}

// GamesLimit is the number of games a set is played to.
func (c MatchConfig) GamesLimit() int {
	if c.Rule66 == RuleProSet8 {
		return 8
	}
	return 6
}
