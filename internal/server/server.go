package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/broadcast"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/delivery"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/identity"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/notify"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/router"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/server/middleware"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/signal"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/config"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/presence"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/rooms"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/transport"
)

// App is the connection gateway: it authenticates every new
// connection, registers it with the presence registry, subscribes it
// to its rooms, replays buffered messages, and dispatches inbound
// events. It owns no business logic itself.
type App struct {
	logger      *slog.Logger
	registry    *presence.Registry
	rooms       *rooms.Index
	store       store.Store
	pipeline    *delivery.Pipeline
	coordinator *signal.Coordinator
	eventRouter *router.EventRouter
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st store.Store, verifier identity.Verifier, notifier notify.Notifier) *App {
	registry := presence.NewRegistry(logger)
	roomIndex := rooms.NewIndex(logger)
	pipeline := delivery.NewPipeline(st, registry, notifier, logger)
	broadcaster := broadcast.NewBroadcaster(st, registry, roomIndex, logger)
	coordinator := signal.NewCoordinator(registry, st, logger)
	eventRouter := router.NewEventRouter(logger, st, pipeline, broadcaster, coordinator)

	app := &App{
		logger:      logger,
		registry:    registry,
		rooms:       roomIndex,
		store:       st,
		pipeline:    pipeline,
		coordinator: coordinator,
		eventRouter: eventRouter,
		config:      cfg,
		ctx:         rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, verifier),
		),
	)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	ident := reqMeta.Identity
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", ident.ID),
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

	client := &router.Client{ID: ident.ID, Username: ident.Username, Conn: conn}
	conn.SetOnMessageHandler(func(ctx context.Context, connID uuid.UUID, msg []byte) {
		a.eventRouter.HandleMessage(ctx, client, msg)
	})
	conn.SetOnCloseHandler(func(connID uuid.UUID, err error) {
		a.handleDisconnect(ident.ID, conn, connLogger)
	})

	// Outbound side first: registration and replay both push frames.
	conn.Run()

	// Last connect wins. The superseded connection, if any, is closed;
	// its guarded unregister will be a no-op.
	if prev := a.registry.Register(ident.ID, conn); prev != nil {
		prev.Close(errors.New("superseded by new connection"))
	}

	// Re-subscribe to rooms from the authoritative store, then replay
	// buffered messages, all before the first inbound event is read.
	groups, err := a.store.MemberGroups(r.Context(), ident.ID)
	if err != nil {
		connLogger.Error("Failed to load room memberships", slog.Any("error", err))
	}
	for _, groupID := range groups {
		a.rooms.Subscribe(ident.ID, groupID)
	}

	if err := a.pipeline.Replay(r.Context(), ident.ID, conn); err != nil {
		connLogger.Error("Buffered message replay failed", slog.Any("error", err))
	}

	conn.StartReading()
	connLogger.Info("User connection fully established", slog.String("userID", ident.ID))
	<-conn.Done()
}

// handleDisconnect runs the full cleanup sequence for a closed
// connection: guarded registry eviction, room index drop, and call
// teardown. If a newer connection has superseded this one, presence
// and subscriptions now belong to it and only the close itself
// happens.
func (a *App) handleDisconnect(identityID string, conn *transport.Connection, logger *slog.Logger) {
	if !a.registry.Unregister(identityID, conn) {
		logger.Debug("Stale connection closed, state owned by newer connection")
		return
	}
	a.rooms.DropAll(identityID)
	a.coordinator.Disconnect(identityID)
	logger.Info("User connection cleaned up", slog.String("userID", identityID))
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.registry.All() {
		conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
