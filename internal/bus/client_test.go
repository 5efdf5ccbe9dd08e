package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/driftfm/drift-core/internal/config"
	"github.com/driftfm/drift-core/internal/natsserver"
	"github.com/driftfm/drift-core/internal/protocol"
)

func TestPublishJSONRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("client should be connected")
	}

	sub, err := client.Conn().SubscribeSync(protocol.SubjectIntroDone)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.PublishJSON(protocol.SubjectIntroDone, protocol.IntroDone{Token: 42}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var done protocol.IntroDone
	if err := json.Unmarshal(msg.Data, &done); err != nil {
		t.Fatal(err)
	}
	if done.Token != 42 {
		t.Fatalf("token = %d", done.Token)
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error without servers")
	}
}
