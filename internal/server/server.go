package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/internal/auth"
	"github.com/a-essam23/go-relay/internal/directory"
	"github.com/a-essam23/go-relay/internal/pairing"
	"github.com/a-essam23/go-relay/internal/router"
	"github.com/a-essam23/go-relay/internal/server/middleware"
	"github.com/a-essam23/go-relay/internal/store"
	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/a-essam23/go-relay/pkg/state/statemanager"
	"github.com/a-essam23/go-relay/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var ErrShutdown = errors.New("graceful shutdown")

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	pairing      *pairing.Table
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

// NewApp wires the presence table, the router and the HTTP surface. messages
// and dir are owned by the caller, who closes them after Shutdown returns.
func NewApp(logger *slog.Logger, rootContx context.Context, cfg *config.Config, messages store.MessageStore, dir directory.Directory) *App {
	stateManager := statemanager.NewInMemoryManager(logger)
	pairings := pairing.NewTable(cfg.Pairing.TTL, logger)

	var verifier *auth.Verifier
	if cfg.Server.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Server.Auth.JWTSecret)
	}
	eventRouter := router.NewEventRouter(logger, stateManager, messages, dir, pairings, router.Options{
		FixedRoom:       cfg.Router.FixedRoom,
		EventsPerSecond: cfg.Router.EventsPerSecond,
		Verifier:        verifier,
		AuthRequired:    cfg.Server.Auth.Required,
	})

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		eventRouter:  eventRouter,
		pairing:      pairings,
		config:       cfg,
		ctx:          rootContx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(cfg.Server.TrustProxy),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, verifier, cfg.Server.Auth.Required),
			middleware.NewConnectionLimiter(logger, stateManager, cfg.Server.ConnectionLimit),
		),
	)
	mux.HandleFunc("/healthz", app.healthHandler)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// OnlineUsers lists the identities with at least one live connection.
func (a *App) OnlineUsers() []string {
	return a.stateManager.OnlineUsers()
}

// Handler exposes the routes without a listener.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			errCh <- err
		}
	}()

	select {
	case <-a.ctx.Done():
		return a.Shutdown()
	case err := <-errCh:
		a.pairing.Close()
		return err
	}
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("requestID", reqMeta.RequestID),
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("subject", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	// register new connection
	stateConn, err := a.stateManager.RegisterConnection(conn, state.ConnectionMeta{
		IPAddress: reqMeta.IP,
		UserAgent: reqMeta.UserAgent,
		Subject:   reqMeta.UserID,
	})
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	a.eventRouter.Connected(stateConn.ID)

	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()), slog.Any("reason", err))
		a.eventRouter.Disconnected(id)
	})

	connLogger.Info("Connection established", slog.String("connID", stateConn.ID.String()))
	conn.Run()
	<-conn.Done()
}

type health struct {
	Status      string `json:"status"`
	OnlineUsers int    `json:"onlineUsers"`
	Connections int    `json:"connections"`
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{
		Status:      "ok",
		OnlineUsers: len(a.stateManager.OnlineUsers()),
		Connections: len(a.stateManager.AllConnections()),
	})
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return a.closeConnections(shutdownCtx)
}

// closeConnections closes every live connection and waits for their cleanup.
func (a *App) closeConnections(ctx context.Context) error {
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.stateManager.AllConnections() {
		conn.Close(ErrShutdown)
	}

	done := make(chan struct{})
	go func() {
		// wait for all connection goroutines to finish their cleanup.
		a.wg.Wait()
		close(done)
	}()
	defer a.pairing.Close()

	select {
	case <-done:
		a.logger.Info("Server shut down gracefully.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
