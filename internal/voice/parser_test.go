package voice

import (
	"testing"

	"github.com/loqalabs/loqa-padel/internal/config"
	"github.com/loqalabs/loqa-padel/internal/protocol"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Punto Blu!":        "punto blu",
		"  punto   ROSSO. ": "punto rosso",
		"Parità":            "parita",
		"ANNULLA":           "annulla",
		"l'ultimo":          "l ultimo",
		"":                  "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	p := NewParser(config.Default().Voice.Phrases)

	cases := []struct {
		text   string
		ok     bool
		intent string
		team   string
	}{
		{text: "Punto blu", ok: true, intent: protocol.IntentAddPoint, team: "us"},
		{text: "punto rosso!", ok: true, intent: protocol.IntentAddPoint, team: "them"},
		{text: "Point Blue", ok: true, intent: protocol.IntentAddPoint, team: "us"},
		{text: "Annulla", ok: true, intent: protocol.IntentUndoLastPoint},
		{text: "reset", ok: true, intent: protocol.IntentResetMatch},
		{text: "che punto blu incredibile", ok: false},
		{text: "punto", ok: false},
		{text: "", ok: false},
	}
	for _, tc := range cases {
		cmd, ok := p.Parse(tc.text)
		if ok != tc.ok {
			t.Fatalf("Parse(%q) ok = %v, want %v", tc.text, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if cmd.Intent != tc.intent || cmd.Team != tc.team {
			t.Fatalf("Parse(%q) = %+v", tc.text, cmd)
		}
	}
}

func TestParseCustomPhrases(t *testing.T) {
	p := NewParser(config.PhrasesConfig{
		PointUs:   []string{"Noi"},
		PointThem: []string{"loro", "noi"},
	})
	cmd, ok := p.Parse("noi")
	if !ok || cmd.Team != "us" {
		t.Fatalf("expected first list to win, got %+v %v", cmd, ok)
	}
	if _, ok := p.Parse("undo"); ok {
		t.Fatalf("undo is not configured")
	}
}
