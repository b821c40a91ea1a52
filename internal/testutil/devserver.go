// Package testutil provides helpers shared by integration tests.
package testutil

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/campusmarket/internal/devserver"
)

// DevServer is a seeded development backend listening on loopback.
type DevServer struct {
	t       *testing.T
	Server  *devserver.Server
	BaseURL string
}

// StartDevServer seeds a backend and serves it until the test ends.
// Zero Secret and Heartbeat get test defaults; logging is discarded.
func StartDevServer(t *testing.T, opts devserver.Options) *DevServer {
	t.Helper()
	SkipIfNoNetwork(t)

	if opts.Secret == nil {
		opts.Secret = []byte("test-secret")
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		logger := zerolog.Nop()
		opts.Logger = &logger
	}

	backend := devserver.NewBackend(nil)
	devserver.Seed(backend)
	server, err := devserver.New(backend, opts)
	if err != nil {
		t.Fatalf("failed to create dev server: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	return &DevServer{t: t, Server: server, BaseURL: "http://" + ln.Addr().String()}
}

// Token issues an hour-long session token for userID.
func (d *DevServer) Token(userID string) string {
	d.t.Helper()
	token, err := d.Server.Issuer().SessionToken(userID, time.Hour)
	if err != nil {
		d.t.Fatalf("failed to issue session token: %v", err)
	}
	return token
}
