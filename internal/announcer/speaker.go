package announcer

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-padel/internal/protocol"
	"github.com/mattn/go-shellwords"
)

// Speaker voices a single announcement.
type Speaker interface {
	Speak(ctx context.Context, req protocol.TTSRequest) error
}

// NewSpeaker returns an exec speaker for command, or a log speaker when
// command is blank.
func NewSpeaker(command string, log *slog.Logger) (Speaker, error) {
	if strings.TrimSpace(command) == "" {
		return &logSpeaker{log: log}, nil
	}
	return NewExecSpeaker(command)
}

type logSpeaker struct {
	log *slog.Logger
}

func (l *logSpeaker) Speak(_ context.Context, req protocol.TTSRequest) error {
	l.log.Info("announcement",
		slog.String("text", req.Text),
		slog.String("voice", req.Voice),
		slog.String("target", req.Target))
	return nil
}

type execSpeaker struct {
	cmd []string
	mu  sync.Mutex
}

// NewExecSpeaker runs command once per announcement with the text on stdin.
// Announcements never overlap.
func NewExecSpeaker(command string) (Speaker, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse announcer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("announcer command empty")
	}
	return &execSpeaker{cmd: args}, nil
}

func (e *execSpeaker) Speak(ctx context.Context, req protocol.TTSRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = strings.NewReader(req.Text + "\n")
	if req.Voice != "" {
		cmd.Env = append(cmd.Environ(), "PADEL_VOICE="+req.Voice)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("announcer command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
