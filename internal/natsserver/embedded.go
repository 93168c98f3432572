package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer runs an in-process NATS server so the daemon and its
// control clients need no external broker.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start returns nil when cfg.Embedded is false. A port of -1 picks a random
// free port; ClientURL reports the address actually bound.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	opts := &server.Options{
		ServerName:    "loqa-dictation",
		Host:          host,
		Port:          cfg.Port,
		NoSigs:        true,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Authorization: cfg.Token,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within 5 seconds")
	}

	log.Info("embedded NATS server started", slog.String("url", ns.ClientURL()))

	return &EmbeddedServer{
		ns:  ns,
		log: log,
	}, nil
}

// ClientURL is the nats:// URL clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
