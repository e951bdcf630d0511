// Package app wires the AutoBot subsystems together and runs the main loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/cloudops/autobot/common/trace"
	"github.com/cloudops/autobot/internal/autobot/commands"
	"github.com/cloudops/autobot/internal/autobot/config"
	"github.com/cloudops/autobot/internal/autobot/confirm"
	"github.com/cloudops/autobot/internal/autobot/correlation"
	"github.com/cloudops/autobot/internal/autobot/dispatch"
	"github.com/cloudops/autobot/internal/autobot/gate"
	"github.com/cloudops/autobot/internal/autobot/matrix"
	"github.com/cloudops/autobot/internal/autobot/provisioning"
	"github.com/cloudops/autobot/internal/autobot/routing"
	"github.com/cloudops/autobot/internal/autobot/store"
	"github.com/cloudops/autobot/internal/autobot/telq"
)

// commandPrefix is what a chat message must start with to address the bot.
const commandPrefix = "!autobot"

// Config holds the application configuration.
type Config struct {
	// DatabasePath is the SQLite file holding correlation records and the
	// Matrix sync position.
	DatabasePath string
	// ConfigPath is the YAML deployment configuration (stacks, credentials).
	ConfigPath string
	// HTTPAddr is the listen address for the health and confirmation
	// endpoints. Empty disables the HTTP server.
	HTTPAddr string
	// Matrix holds the chat connection settings.
	Matrix matrix.Config
}

// App is the assembled bot.
type App struct {
	config       *Config
	botCfg       *config.Config
	store        *store.Store
	records      *correlation.Store
	matrix       *matrix.Client
	gate         *gate.Gate
	router       *commands.Router
	healthServer *HealthServer
}

// New creates an App from configuration, opening the database and the Matrix
// connection but not yet syncing.
func New(cfg *Config) (*App, error) {
	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	slog.Info("loading deployment configuration", "path", cfg.ConfigPath)
	botCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		st.Close()
		return nil, err
	}

	slog.Info("connecting to Matrix", "homeserver", cfg.Matrix.Homeserver)
	matrixCfg := cfg.Matrix
	matrixCfg.DB = st.DB()
	matrixClient, err := matrix.New(&matrixCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	records := correlation.NewStore(st.DB())
	dispatcher := dispatch.New(botCfg, records)
	approvals := gate.New(botCfg, matrixClient)

	// Vendor provisioning and TelQ are optional; without credentials the
	// keywords answer with a not-configured notice.
	var provision commands.Provisioner
	if v := botCfg.Vendors; v != nil {
		provision = provisioning.NewRunner([]provisioning.Service{
			provisioning.NewDatadog(v.Datadog),
			provisioning.NewAlertSite(v.AlertSite),
			provisioning.NewSumoLogic(v.SumoLogic),
			provisioning.NewDigiCert(v.DigiCert),
		})
		slog.Info("vendor provisioning ready")
	}
	var tester commands.NetworkTester
	if botCfg.TelQ != nil {
		tester = telq.NewRunner(botCfg, telq.NewClient(botCfg.TelQ))
		slog.Info("TelQ testing ready")
	}

	openDir := func(ctx context.Context, uri, database, collection string) (commands.Directory, error) {
		return routing.Connect(ctx, uri, database, collection)
	}

	handlers := commands.NewHandlers(botCfg, matrixClient, dispatcher, approvals,
		openDir, provision, tester, cfg.Matrix.UserID)
	router := commands.NewRouter(commandPrefix)
	handlers.Register(router)

	// Approved prompts run through the same handler methods the keywords
	// use, so the gate is the only path to a destructive change.
	approvals.Register(gate.KindOffboard, handlers.ExecuteOffboard)
	approvals.Register(gate.KindRoutingSwitch, handlers.ExecuteRoutingSwitch)

	var healthServer *HealthServer
	if cfg.HTTPAddr != "" {
		healthServer = NewHealthServer(cfg.HTTPAddr, records)
		healthServer.Handle("/confirmations", confirm.NewReceiver(botCfg, records, matrixClient))
		slog.Info("health server configured", "addr", cfg.HTTPAddr)
	} else {
		slog.Warn("HTTP server disabled; delivery confirmations will not be received")
	}

	return &App{
		config:       cfg,
		botCfg:       botCfg,
		store:        st,
		records:      records,
		matrix:       matrixClient,
		gate:         approvals,
		router:       router,
		healthServer: healthServer,
	}, nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage, a.handleReaction); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	for _, roomID := range a.config.Matrix.OpsRooms {
		a.matrix.SendNotice(roomID, "✅ AutoBot started. Type !autobot help for commands.")
	}

	slog.Info("AutoBot is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the application.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	slog.Info("closing database")
	a.store.Close()
}

// handleMessage parses incoming room messages and runs the matching keyword.
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	msgContent := evt.Content.AsMessage()
	if msgContent == nil {
		return
	}

	cmd, err := a.router.Parse(msgContent.Body)
	if errors.Is(err, commands.ErrNotACommand) {
		return
	}
	roomID := evt.RoomID.String()
	if err != nil {
		a.post(roomID, fmt.Sprintf("I need a keyword after %s. Try %s help.", commandPrefix, commandPrefix))
		return
	}

	// One trace ID per command so every outbound call it triggers can be
	// correlated in the logs.
	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)

	slog.Info("command received", "keyword", cmd.Keyword, "sender", evt.Sender, "room", roomID, "trace", traceID)
	msg, err := a.router.Execute(ctx, cmd, evt)
	if err != nil {
		slog.Error("command failed", "keyword", cmd.Keyword, "trace", traceID, "err", err)
		a.post(roomID, "Sorry, something went wrong running that command. Check my logs for details.")
		return
	}
	if msg != "" {
		a.post(roomID, msg)
	}
}

// handleReaction forwards reactions to the approval gate.
func (a *App) handleReaction(ctx context.Context, evt *event.Event, key string, target id.EventID) {
	a.gate.HandleReaction(ctx, evt.Sender.String(), evt.RoomID.String(), key, target.String())
}

func (a *App) post(roomID, message string) {
	if _, err := a.matrix.SendMessage(roomID, message); err != nil {
		slog.Error("failed to post message", "room", roomID, "err", err)
	}
}
