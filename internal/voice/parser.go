package voice

import (
	"strings"
	"unicode"

	"github.com/loqalabs/loqa-padel/internal/config"
	"github.com/loqalabs/loqa-padel/internal/protocol"
	"github.com/loqalabs/loqa-padel/internal/score"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Parser maps transcripts to referee commands. It only reacts to an utterance
// that is exactly one of the configured phrases; everything else is ignored.
type Parser struct {
	phrases map[string]protocol.Command
}

func NewParser(cfg config.PhrasesConfig) *Parser {
	p := &Parser{phrases: make(map[string]protocol.Command)}
	p.add(cfg.PointUs, protocol.Command{Intent: protocol.IntentAddPoint, Team: string(score.Us)})
	p.add(cfg.PointThem, protocol.Command{Intent: protocol.IntentAddPoint, Team: string(score.Them)})
	p.add(cfg.Undo, protocol.Command{Intent: protocol.IntentUndoLastPoint})
	p.add(cfg.Reset, protocol.Command{Intent: protocol.IntentResetMatch})
	return p
}

func (p *Parser) add(phrases []string, cmd protocol.Command) {
	for _, phrase := range phrases {
		key := Normalize(phrase)
		if key == "" {
			continue
		}
		// First list wins on duplicates.
		if _, exists := p.phrases[key]; !exists {
			p.phrases[key] = cmd
		}
	}
}

// Parse returns the command for text, or false when text is not a command.
func (p *Parser) Parse(text string) (protocol.Command, bool) {
	cmd, ok := p.phrases[Normalize(text)]
	return cmd, ok
}

// Normalize lowercases text, strips accents and punctuation, and collapses
// whitespace.
func Normalize(text string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), text)
	if err != nil {
		folded = text
	}
	folded = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r), r == '-', r == '\'':
			return ' '
		}
		return -1
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}
