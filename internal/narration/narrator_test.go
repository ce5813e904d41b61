package narration

import (
	"testing"
	"testing/fstest"

	"github.com/loqalabs/loqa-padel/internal/score"
)

func newNarrator(t *testing.T, locale string, labels Labels) *Narrator {
	t.Helper()
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	n, err := New(bundle, locale, labels)
	if err != nil {
		t.Fatalf("new narrator: %v", err)
	}
	return n
}

func TestNarratorEnglish(t *testing.T) {
	n := newNarrator(t, "en-US", Labels{})
	killer := score.DefaultMatchConfig()
	adv := score.MatchConfig{Rule66: score.RuleTieBreak, DeuceMode: score.DeuceAdvTwiceThenKill}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"points", n.Score(score.MatchState{Points: score.Pair{Us: 2, Them: 1}}, killer), "30-15"},
		{"deuce", n.Score(score.MatchState{Points: score.Pair{Us: 3, Them: 3}}, adv), "Deuce"},
		{"killer", n.Score(score.MatchState{Points: score.Pair{Us: 3, Them: 3}}, killer), "Killer point!"},
		{"advantage", n.Score(score.MatchState{Points: score.Pair{Us: 4, Them: 3}}, adv), "Advantage Blue"},
		{"tie-break", n.Score(score.MatchState{IsTieBreak: true, TieBreakPoints: score.Pair{Us: 3, Them: 5}}, killer), "Tie-break 3-5"},
		{"game", n.Outcome(score.Outcome{Kind: score.GameWon, Winner: score.Them}, score.MatchState{}, killer), "Game Red!"},
		{"set", n.Outcome(score.Outcome{Kind: score.SetWon, Winner: score.Us}, score.MatchState{}, killer), "Set Blue!"},
		{"tie-break start", n.Outcome(score.Outcome{Kind: score.TieBreakStarted, Winner: score.Us}, score.MatchState{}, killer), "Game Blue! Tie-break!"},
		{"undo", n.Undone(score.MatchState{Points: score.Pair{Them: 1}}, killer), "Undone. 0-15"},
		{"nothing to undo", n.NothingToUndo(), "Nothing to undo."},
		{"reset", n.Reset(), "Match reset."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, tt.got)
			}
		})
	}
}

func TestNarratorItalian(t *testing.T) {
	n := newNarrator(t, "it", Labels{})
	cfg := score.DefaultMatchConfig()
	if got := n.Score(score.MatchState{Points: score.Pair{Us: 1, Them: 3}}, cfg); got != "15 a 40" {
		t.Fatalf("unexpected score %q", got)
	}
	if got := n.Outcome(score.Outcome{Kind: score.SetWon, Winner: score.Them}, score.MatchState{}, cfg); got != "Set Rosso!" {
		t.Fatalf("unexpected set announcement %q", got)
	}
	if got := n.NothingToUndo(); got != "Nulla da annullare." {
		t.Fatalf("unexpected undo message %q", got)
	}
}

func TestNarratorLabelsOverride(t *testing.T) {
	n := newNarrator(t, "en-US", Labels{Us: "Home", Them: "Away"})
	got := n.Outcome(score.Outcome{Kind: score.GameWon, Winner: score.Us}, score.MatchState{}, score.DefaultMatchConfig())
	if got != "Game Home!" {
		t.Fatalf("unexpected announcement %q", got)
	}
}

func TestUnknownLocaleFallsBack(t *testing.T) {
	n := newNarrator(t, "not a locale", Labels{})
	if n.Locale() != BaseLocale {
		t.Fatalf("expected base locale, got %s", n.Locale())
	}
}

func TestLoadFromFSRequiresBaseLocale(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/it-IT/referee.yaml": {Data: []byte("locale: it-IT\nnamespace: referee\nmessages:\n  team.us: Blu\n")},
	}
	if _, err := LoadFromFS(fsys); err == nil {
		t.Fatal("expected error without base locale")
	}
}

func TestLoadFromFSRejectsLocaleMismatch(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/en-US/referee.yaml": {Data: []byte("locale: it-IT\nnamespace: referee\nmessages:\n  team.us: Blue\n")},
	}
	if _, err := LoadFromFS(fsys); err == nil {
		t.Fatal("expected locale mismatch error")
	}
}
