// Command relay runs the reference signaling relay (spec §6.2): a thin
// websocket room hub peers use to exchange SDP/ICE out of band while they
// negotiate the mesh. It carries no game state — once peers are connected
// to each other directly, the relay is no longer on the data path.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"

	"meshcore/signaling/relay"
)

func main() {
	addr := flag.String("addr", ":8443", "HTTP/WebSocket listen address")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "HTTP idle timeout")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	turnURL := flag.String("turn-url", "", "TURN server URL (e.g. turn:turn.example.com:3478)")
	turnUsername := flag.String("turn-username", "", "TURN server username")
	turnCredential := flag.String("turn-credential", "", "TURN server credential")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	})))

	// ICE servers (STUN + optional TURN) distributed to peers in roster
	// envelopes.
	iceServers := []relay.ICEServerInfo{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	if *turnURL != "" {
		turnServer := relay.ICEServerInfo{URLs: []string{*turnURL}}
		if *turnUsername != "" {
			turnServer.Username = *turnUsername
		}
		if *turnCredential != "" {
			turnServer.Credential = *turnCredential
		}
		iceServers = append(iceServers, turnServer)
		slog.Info("relay: TURN server configured", "url", *turnURL)
	}

	hub := relay.NewHub()
	hub.SetICEServers(iceServers)
	e := echo.New()
	e.HideBanner = true
	relay.NewHandler(hub).Register(e)

	srv := &http.Server{
		Addr:        *addr,
		Handler:     e,
		IdleTimeout: *idleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("relay: shutting down")
		cancel()
		_ = srv.Close()
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				slog.Debug("relay: status", "rooms", hub.RoomCount())
			}
		}
	}()

	slog.Info("relay: listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("relay: serve failed", "err", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
