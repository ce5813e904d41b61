package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-padel/internal/bus"
	"github.com/loqalabs/loqa-padel/internal/config"
	"github.com/loqalabs/loqa-padel/internal/narration"
	"github.com/loqalabs/loqa-padel/internal/natsserver"
	"github.com/loqalabs/loqa-padel/internal/protocol"
	"github.com/loqalabs/loqa-padel/internal/referee"
	"github.com/loqalabs/loqa-padel/internal/score"
	"github.com/nats-io/nats.go"
)

func TestVersionAndUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run("version", nil, &out); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("unexpected version output %q", out.String())
	}

	var ue usageError
	if err := run("serve", nil, &out); !errors.As(err, &ue) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run("point", nil, &out); !errors.As(err, &ue) {
		t.Fatalf("expected usage error for missing team, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("match:\n  rule66: PRO_SET_8\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var out bytes.Buffer
	if err := run("validate", []string{"-file", good}, &out); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "config valid") {
		t.Fatalf("unexpected output %q", out.String())
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("match:\n  deuce_mode: GOLDEN\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run("validate", []string{"-file", bad}, &out); err == nil {
		t.Fatalf("expected invalid config to fail")
	}
}

func TestCommandsAgainstReferee(t *testing.T) {
	t.Setenv("PADEL_VOICE_ENABLED", "false")
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "referee", log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	bundle, err := narration.LoadEmbedded()
	if err != nil {
		t.Fatalf("narration: %v", err)
	}
	narrator, err := narration.New(bundle, "en-US", narration.Labels{})
	if err != nil {
		t.Fatalf("narrator: %v", err)
	}
	d, err := referee.NewDispatcher(score.DefaultMatchConfig(), narrator)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	svc := referee.NewService(context.Background(), "court", d, client, nil, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("referee: %v", err)
	}
	t.Cleanup(svc.Close)

	server := "-server=" + srv.ClientURL()
	steps := []struct {
		command string
		args    []string
		want    string
	}{
		{command: "point", args: []string{server, "them"}, want: "0-15"},
		{command: "point", args: []string{server, "US"}, want: "15-15"},
		{command: "undo", args: []string{server}, want: "Undone. 0-15"},
		{command: "score", args: []string{server}, want: "0-15"},
		{command: "config", args: []string{server, "-rule66", "pro_set_8"}, want: "Rules updated."},
		{command: "reset", args: []string{server}, want: "Match reset."},
	}
	for _, step := range steps {
		var out bytes.Buffer
		if err := run(step.command, step.args, &out); err != nil {
			t.Fatalf("%s: %v", step.command, err)
		}
		if first := strings.SplitN(out.String(), "\n", 2)[0]; first != step.want {
			t.Fatalf("%s: expected %q, got %q", step.command, step.want, first)
		}
	}
	if d.Rules().Rule66 != score.RuleProSet8 {
		t.Fatalf("expected config applied")
	}

	var out bytes.Buffer
	if err := run("point", []string{server, "green"}, &out); err == nil {
		t.Fatalf("expected rejected team")
	}

	transcripts := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectTranscriptFinal, transcripts)
	if err != nil {
		t.Fatalf("subscribe transcripts: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := run("say", []string{server, "-session", "court-1", "punto", "blu"}, &out); err != nil {
		t.Fatalf("say: %v", err)
	}
	select {
	case msg := <-transcripts:
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			t.Fatalf("decode transcript: %v", err)
		}
		if tr.Text != "punto blu" || tr.SessionID != "court-1" || tr.Partial {
			t.Fatalf("unexpected transcript %+v", tr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}
}
