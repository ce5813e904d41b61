package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-padel/internal/bus"
	"github.com/loqalabs/loqa-padel/internal/config"
	"github.com/loqalabs/loqa-padel/internal/protocol"
)

var version = "0.1.0-dev"

const usage = "expected one of: point <us|them>, undo, reset, score, config, say <text>, validate, version"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ue usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func run(command string, args []string, out io.Writer) error {
	switch command {
	case "version":
		fmt.Fprintln(out, version)
		return nil
	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		path := fs.String("file", "padel.yaml", "Path to configuration file")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if _, err := config.Load(*path); err != nil {
			return err
		}
		fmt.Fprintln(out, "config valid")
		return nil
	case "point":
		fs, common := commonFlags("point")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return usageError("usage: padelctl point [flags] <us|them>")
		}
		return sendCommand(common, protocol.Command{Intent: protocol.IntentAddPoint, Team: strings.ToLower(fs.Arg(0))}, out)
	case "undo", "reset", "score":
		fs, common := commonFlags(command)
		if err := fs.Parse(args); err != nil {
			return err
		}
		switch command {
		case "undo":
			return sendCommand(common, protocol.Command{Intent: protocol.IntentUndoLastPoint}, out)
		case "reset":
			return sendCommand(common, protocol.Command{Intent: protocol.IntentResetMatch}, out)
		}
		return request(common, protocol.SubjectScoreGet, struct{}{}, out)
	case "say":
		fs, common := commonFlags("say")
		session := fs.String("session", "padelctl", "Session ID attached to the transcript")
		if err := fs.Parse(args); err != nil {
			return err
		}
		text := strings.TrimSpace(strings.Join(fs.Args(), " "))
		if text == "" {
			return usageError("usage: padelctl say [flags] <text>")
		}
		return publish(common, protocol.SubjectTranscriptFinal, protocol.Transcript{
			SessionID: *session,
			Text:      text,
			Timestamp: time.Now().UTC(),
		}, out)
	case "config":
		fs, common := commonFlags("config")
		rule66 := fs.String("rule66", "", "Rule at 6-6: TIE_BREAK or PRO_SET_8")
		deuce := fs.String("deuce-mode", "", "Deuce handling: IMMEDIATE_KILLER or ADV_X2_THEN_KILLER")
		sets := fs.Int("sets-to-win", -1, "Sets needed to win the match (0 = unlimited)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		update := protocol.ConfigUpdate{Rule66: *rule66, DeuceMode: *deuce}
		if *sets >= 0 {
			update.SetsToWin = sets
		}
		return request(common, protocol.SubjectConfigSet, update, out)
	}
	return usageError(fmt.Sprintf("unknown command %q; %s", command, usage))
}

type commonOptions struct {
	configPath string
	server     string
	timeout    time.Duration
}

func commonFlags(name string) (*flag.FlagSet, *commonOptions) {
	opts := &commonOptions{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.server, "server", "", "NATS server URL (overrides config)")
	fs.DurationVar(&opts.timeout, "timeout", 3*time.Second, "Request timeout")
	return fs, opts
}

func sendCommand(opts *commonOptions, cmd protocol.Command, out io.Writer) error {
	cmd.ID = uuid.NewString()
	cmd.Source = "cli"
	return request(opts, protocol.SubjectCommand, cmd, out)
}

func connect(ctx context.Context, opts *commonOptions) (*bus.Client, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	busCfg := cfg.Bus
	if opts.server != "" {
		busCfg.Servers = []string{opts.server}
	} else if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://localhost:%d", busCfg.Port)}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return bus.Connect(ctx, busCfg, "padelctl", logger)
}

// publish fires a message without waiting for an answer.
func publish(opts *commonOptions, subject string, payload any, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.PublishJSON(subject, payload); err != nil {
		return err
	}
	if err := client.Conn().FlushWithContext(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "published on %s\n", subject)
	return nil
}

func request(opts *commonOptions, subject string, payload any, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	var reply protocol.CommandReply
	if err := client.RequestJSON(ctx, subject, payload, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("referee rejected request: %s", reply.Error)
	}
	if reply.Message != "" {
		fmt.Fprintln(out, reply.Message)
	}
	if reply.Score != nil {
		fmt.Fprintf(out, "games %d-%d  sets %d-%d\n",
			reply.Score.State.Games.Us, reply.Score.State.Games.Them,
			reply.Score.State.Sets.Us, reply.Score.State.Sets.Them)
	}
	return nil
}
