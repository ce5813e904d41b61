package announcer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-padel/internal/bus"
	"github.com/loqalabs/loqa-padel/internal/config"
	"github.com/loqalabs/loqa-padel/internal/natsserver"
	"github.com/loqalabs/loqa-padel/internal/protocol"
	"github.com/nats-io/nats.go"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewSpeakerSelectsBackend(t *testing.T) {
	s, err := NewSpeaker("  ", quietLogger())
	if err != nil {
		t.Fatalf("log speaker: %v", err)
	}
	if _, ok := s.(*logSpeaker); !ok {
		t.Fatalf("expected log speaker, got %T", s)
	}
	if _, err := NewExecSpeaker(`say "unterminated`); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExecSpeakerWritesTextToStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "spoken.txt")
	s, err := NewExecSpeaker(`sh -c "cat > '` + out + `'"`)
	if err != nil {
		t.Fatalf("exec speaker: %v", err)
	}
	if err := s.Speak(context.Background(), protocol.TTSRequest{Text: "Punto Killer!"}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.TrimSpace(string(data)) != "Punto Killer!" {
		t.Fatalf("unexpected spoken text %q", data)
	}
}

func TestExecSpeakerReportsFailure(t *testing.T) {
	s, err := NewExecSpeaker(`sh -c "echo broken >&2; exit 3"`)
	if err != nil {
		t.Fatalf("exec speaker: %v", err)
	}
	err = s.Speak(context.Background(), protocol.TTSRequest{Text: "Set Blu!"})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected command failure, got %v", err)
	}
}

type recordingSpeaker struct {
	spoken chan string
}

func (r *recordingSpeaker) Speak(_ context.Context, req protocol.TTSRequest) error {
	r.spoken <- req.Text
	return nil
}

func TestServiceAnnouncesRequests(t *testing.T) {
	log := quietLogger()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "announcer-test", log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	done := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectTTSDone, done)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	speaker := &recordingSpeaker{spoken: make(chan string, 1)}
	svc := NewService(context.Background(), config.AnnouncerConfig{Enabled: true, TimeoutMS: 1000}, client, speaker, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy announcer")
	}

	if err := client.PublishJSON(protocol.SubjectTTSRequest, protocol.TTSRequest{SessionID: "s1", Text: "Game Blue!", TraceID: "t1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case text := <-speaker.spoken:
		if text != "Game Blue!" {
			t.Fatalf("unexpected text %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for announcement")
	}
	select {
	case msg := <-done:
		var status protocol.TTSStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if !status.Completed || status.TraceID != "t1" || status.SessionID != "s1" {
			t.Fatalf("unexpected status %+v", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tts.done")
	}
}

func TestServiceSpeaksInRequestOrder(t *testing.T) {
	log := quietLogger()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "announcer-order", log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	const total = 50
	speaker := &recordingSpeaker{spoken: make(chan string, total)}
	svc := NewService(context.Background(), config.AnnouncerConfig{Enabled: true, TimeoutMS: 1000}, client, speaker, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	for i := 0; i < total; i++ {
		if err := client.PublishJSON(protocol.SubjectTTSRequest, protocol.TTSRequest{Text: fmt.Sprintf("call %d", i)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for i := 0; i < total; i++ {
		select {
		case text := <-speaker.spoken:
			if want := fmt.Sprintf("call %d", i); text != want {
				t.Fatalf("announcement %d: expected %q, got %q", i, want, text)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for announcement %d", i)
		}
	}
}
