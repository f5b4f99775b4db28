// Package app wires the ghostai bot: storage, the memory engine, the
// catalogue, chat commands, the Matrix gateway and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/ghostai/common/trace"
	"github.com/bdobrica/ghostai/internal/ghostai/catalog"
	"github.com/bdobrica/ghostai/internal/ghostai/commands"
	"github.com/bdobrica/ghostai/internal/ghostai/config"
	"github.com/bdobrica/ghostai/internal/ghostai/llm"
	"github.com/bdobrica/ghostai/internal/ghostai/matrix"
	"github.com/bdobrica/ghostai/internal/ghostai/memory"
	"github.com/bdobrica/ghostai/internal/ghostai/observability"
	"github.com/bdobrica/ghostai/internal/ghostai/store"
)

// typingTimeout is how long the typing indicator lasts if never cleared.
const typingTimeout = 30 * time.Second

// Gateway is the messaging transport the bot answers on.
type Gateway interface {
	Run(ctx context.Context, handler matrix.Handler) error
	Reply(ctx context.Context, roomID, eventID, text string) error
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
}

// Deps overrides external collaborators. Nil fields are built from the
// configuration.
type Deps struct {
	Store    memory.Store
	Provider llm.Provider
	Gateway  Gateway
}

// App is the main ghostai application
type App struct {
	cfg     *config.Config
	store   memory.Store
	engine  *memory.Engine
	catalog *catalog.Registry
	router  *commands.Router
	metrics *observability.Metrics
	gateway Gateway
	server  *Server
	logger  *slog.Logger
}

// OpenStore opens the configured Persistent Store: PostgreSQL when
// DatabaseURL is set, SQLite otherwise. The Matrix sync store returned
// alongside lives in the same database.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (memory.Store, *matrix.SyncStore, error) {
	if cfg.DatabaseURL != "" {
		s, err := memory.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.Limits.TurnRetention, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open postgres store: %w", err)
		}
		syncStore, err := matrix.NewPostgresSyncStore(ctx, s.Pool())
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, syncStore, nil
	}
	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("app: open sqlite store: %w", err)
	}
	return memory.NewSQLiteStore(db.DB(), cfg.Limits.TurnRetention, logger), matrix.NewSQLiteSyncStore(db.DB()), nil
}

// New builds the application. The store is owned by the App from here on and
// closed when Run returns.
func New(ctx context.Context, cfg *config.Config, deps Deps, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := catalog.Load(cfg.CatalogPath, cfg.LLM.ReplyModel, logger)
	if err != nil {
		return nil, fmt.Errorf("app: load catalogue: %w", err)
	}

	provider := deps.Provider
	if provider == nil {
		provider = llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Referer: cfg.LLM.Referer,
			Title:   cfg.LLM.Title,
			Timeout: cfg.LLM.Timeout,
		})
	}

	st := deps.Store
	var syncStore *matrix.SyncStore
	if st == nil {
		st, syncStore, err = OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	a := &App{
		cfg:     cfg,
		store:   st,
		catalog: registry,
		logger:  logger,
	}
	a.metrics = observability.NewMetrics("ghostai", func() int {
		if a.engine == nil {
			return 0
		}
		return a.engine.HotConversations()
	})

	engine, err := memory.NewEngine(memory.EngineConfig{
		Limits:           cfg.Limits,
		Store:            st,
		Provider:         provider,
		Summariser:       memory.NewLLMSummariser(provider, cfg.LLM.SummaryModel, a.metrics),
		Styles:           registry,
		DrainTimeout:     cfg.DrainTimeout,
		DrainConcurrency: cfg.DrainConcurrency,
		Secrets:          cfg.Secrets(),
		Observer:         a.metrics,
		Logger:           logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	a.engine = engine

	a.router = commands.NewDefaultRouter(&commands.Handlers{
		Memory:  engine,
		Catalog: registry,
		BotName: cfg.BotName,
	})

	a.gateway = deps.Gateway
	if a.gateway == nil {
		mcfg := matrix.Config{
			Homeserver:    cfg.Matrix.Homeserver,
			UserID:        cfg.Matrix.UserID,
			AccessToken:   cfg.Matrix.AccessToken,
			Rooms:         cfg.Matrix.Rooms,
			DisplayName:   cfg.BotName,
			ShutdownGrace: cfg.ShutdownGrace,
		}
		// A nil *SyncStore must not become a non-nil interface.
		if syncStore != nil {
			mcfg.SyncStore = syncStore
		}
		mx, err := matrix.New(mcfg, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.gateway = mx
	}

	if cfg.HTTPAddr != "" {
		a.server = NewServer(cfg.HTTPAddr, engine, a.metrics)
	}
	return a, nil
}

// Engine exposes the memory engine.
func (a *App) Engine() *memory.Engine {
	return a.engine
}

// Run serves until ctx is cancelled. On the way out it waits for in-flight
// messages, runs the shutdown drain over every hot conversation, then closes
// the store.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.gateway.Run(gctx, a.HandleInbound); err != nil {
			return fmt.Errorf("app: gateway: %w", err)
		}
		return nil
	})
	if a.cfg.CatalogPath != "" {
		g.Go(func() error {
			if err := a.catalog.Watch(gctx); err != nil {
				a.logger.Warn("catalogue watch stopped", "err", err)
			}
			return nil
		})
	}
	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(gctx)
		})
	}

	a.logger.Info("ghostai is running", "http_addr", a.cfg.HTTPAddr)
	runErr := g.Wait()

	// The gateway has returned, so no handler can add turns any more: flush
	// every hot tier into summaries before the store is closed.
	report := a.engine.Drain(ctx)
	a.logger.Info("shutdown drain finished",
		"conversations", report.Conversations,
		"summarised", report.Summarised,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)

	if err := a.store.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("app: close store: %w", err))
	}
	return runErr
}

// HandleInbound answers one addressed message: commands are routed to their
// handler, everything else goes through the conversation flow.
func (a *App) HandleInbound(ctx context.Context, msg *matrix.Inbound) {
	ctx = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx).With("room_id", msg.RoomID, "event_id", msg.EventID)

	reply, handled := a.handleCommand(ctx, logger, msg)
	if !handled {
		reply = a.converse(ctx, logger, msg)
	}
	if reply == "" {
		return
	}
	if err := a.gateway.Reply(ctx, msg.RoomID, msg.EventID, reply); err != nil {
		logger.Error("failed to deliver reply", "err", err)
	}
}

func (a *App) handleCommand(ctx context.Context, logger *slog.Logger, msg *matrix.Inbound) (string, bool) {
	origin := commands.Origin{ConversationID: msg.RoomID, Sender: msg.Sender}
	reply, err := a.router.Route(ctx, msg.Text, origin)
	switch {
	case err == nil:
		return reply, true
	case errors.Is(err, commands.ErrNotACommand):
		return "", false
	case errors.Is(err, commands.ErrUnknownCommand):
		return "I don't know that command. Try /help.", true
	default:
		logger.Error("command failed", "err", err)
		return "Sorry, that didn't work. Please try again.", true
	}
}

func (a *App) converse(ctx context.Context, logger *slog.Logger, msg *matrix.Inbound) string {
	if err := a.gateway.SetTyping(ctx, msg.RoomID, true, typingTimeout); err != nil {
		logger.Debug("typing indicator failed", "err", err)
	}
	defer func() {
		if err := a.gateway.SetTyping(ctx, msg.RoomID, false, 0); err != nil {
			logger.Debug("typing indicator failed", "err", err)
		}
	}()

	start := time.Now()
	result := a.engine.Converse(ctx, memory.InboundTurn{
		ConversationID: msg.RoomID,
		Role:           llm.RoleUser,
		Text:           msg.Text,
		Speaker:        msg.SenderName,
		Timestamp:      msg.Timestamp,
		ReplyQuote:     msg.ReplyQuote,
	})
	if result.Err != nil {
		logger.Warn("reply failed", "err", result.Err, "duration", time.Since(start))
	} else {
		logger.Info("reply sent", "model", result.Model, "reply_len", len(result.Text), "duration", time.Since(start))
	}
	return result.Text
}
