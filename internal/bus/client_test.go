package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-padel/internal/config"
	"github.com/loqalabs/loqa-padel/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func TestConnectRequiresServers(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Connect(context.Background(), config.BusConfig{}, "test", log); err == nil {
		t.Fatal("expected error without servers")
	}
	var nilClient *Client
	if nilClient.Healthy() {
		t.Fatal("nil client must not be healthy")
	}
	nilClient.Close()
}

func TestRequestJSONRoundTrip(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, Username: "court", Password: "pw"}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		Username:       "court",
		Password:       "pw",
		ConnectTimeout: 2000,
	}, "bus-test", log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}

	type echo struct {
		Word string `json:"word"`
	}
	sub, err := client.Conn().Subscribe("echo", func(msg *nats.Msg) {
		_ = msg.Respond(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got echo
	if err := client.RequestJSON(ctx, "echo", echo{Word: "vamos"}, &got); err != nil {
		t.Fatalf("request: %v", err)
	}
	if got.Word != "vamos" {
		t.Fatalf("expected echo, got %+v", got)
	}
	if err := client.PublishJSON("echo.none", make(chan int)); err == nil {
		t.Fatal("expected marshal error for channel payload")
	}
}
