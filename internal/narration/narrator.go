package narration

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-padel/internal/score"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Labels overrides the catalog names of the two teams.
type Labels struct {
	Us   string
	Them string
}

// Narrator renders referee announcements in one locale.
type Narrator struct {
	printer *message.Printer
	locale  language.Tag
	labels  Labels
}

// New builds a narrator for locale. Unknown locales resolve to the closest
// catalog locale, or the base locale.
func New(bundle *Bundle, locale string, labels Labels) (*Narrator, error) {
	if bundle == nil {
		return nil, fmt.Errorf("narration bundle is required")
	}
	cat, tags, err := bundle.Catalog()
	if err != nil {
		return nil, err
	}
	requested, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		requested = language.MustParse(BaseLocale)
	}
	_, idx, _ := language.NewMatcher(tags).Match(requested)
	tag := tags[idx]

	n := &Narrator{
		printer: message.NewPrinter(tag, message.Catalog(cat)),
		locale:  tag,
		labels:  labels,
	}
	if strings.TrimSpace(n.labels.Us) == "" {
		n.labels.Us = n.printer.Sprintf("team.us")
	}
	if strings.TrimSpace(n.labels.Them) == "" {
		n.labels.Them = n.printer.Sprintf("team.them")
	}
	return n, nil
}

// Locale returns the resolved catalog locale.
func (n *Narrator) Locale() string { return n.locale.String() }

func (n *Narrator) Team(t score.Team) string {
	if t == score.Us {
		return n.labels.Us
	}
	return n.labels.Them
}

// Score describes the current point score.
func (n *Narrator) Score(state score.MatchState, cfg score.MatchConfig) string {
	view := score.Describe(state, cfg)
	switch {
	case view.TieBreak:
		return n.printer.Sprintf("score.tiebreak", view.Us, view.Them)
	case view.Killer:
		return n.printer.Sprintf("score.killer")
	case view.Deuce:
		return n.printer.Sprintf("score.deuce")
	case view.Advantage != "":
		return n.printer.Sprintf("score.advantage", n.Team(view.Advantage))
	}
	return n.printer.Sprintf("score.points", view.Us, view.Them)
}

// Outcome announces the result of a point: a win announcement when a game or
// more was decided, the new score otherwise.
func (n *Narrator) Outcome(out score.Outcome, state score.MatchState, cfg score.MatchConfig) string {
	team := n.Team(out.Winner)
	switch out.Kind {
	case score.GameWon:
		return n.printer.Sprintf("outcome.game", team)
	case score.TieBreakStarted:
		return n.printer.Sprintf("outcome.tiebreak", team)
	case score.SetWon:
		return n.printer.Sprintf("outcome.set", team)
	case score.MatchWon:
		return n.printer.Sprintf("outcome.match", team)
	case score.MatchAlreadyWon:
		return n.printer.Sprintf("outcome.match_over", team)
	}
	return n.Score(state, cfg)
}

func (n *Narrator) Undone(state score.MatchState, cfg score.MatchConfig) string {
	return n.printer.Sprintf("undo.done", n.Score(state, cfg))
}

func (n *Narrator) NothingToUndo() string { return n.printer.Sprintf("undo.empty") }

func (n *Narrator) Reset() string { return n.printer.Sprintf("reset.done") }

func (n *Narrator) ConfigChanged() string { return n.printer.Sprintf("config.changed") }
