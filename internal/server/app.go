// Package server wires the vitaltags server together: storage, the
// disclosure engine, owner services and the HTTP and gRPC front ends. It
// handles graceful shutdown.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/dmitrijs2005/vitaltags/internal/logging"
	"github.com/dmitrijs2005/vitaltags/internal/server/audit"
	"github.com/dmitrijs2005/vitaltags/internal/server/config"
	"github.com/dmitrijs2005/vitaltags/internal/server/disclosure"
	"github.com/dmitrijs2005/vitaltags/internal/server/httpapi"
	"github.com/dmitrijs2005/vitaltags/internal/server/nfc"
	"github.com/dmitrijs2005/vitaltags/internal/server/notify"
	"github.com/dmitrijs2005/vitaltags/internal/server/ratelimit"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vitaltags/internal/server/services"
	"github.com/dmitrijs2005/vitaltags/internal/server/tokens"

	gs "github.com/dmitrijs2005/vitaltags/internal/server/grpc"
)

type App struct {
	config         *config.Config
	logger         logging.Logger
	repos          repomanager.RepositoryManager
	limiter        ratelimit.Limiter
	engine         *disclosure.Engine
	profileService *services.ProfileService
	termService    *services.TermService
	exportService  *services.ExportService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	repos, limiter, err := openStorage(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	app, err := newApp(c, logger, repos, limiter)
	if err != nil {
		closeLimiter(limiter)
		_ = repos.Close()
		return nil, err
	}
	return app, nil
}

// openStorage picks the repository backend and the limiter store. Postgres
// storage is migrated before use.
func openStorage(ctx context.Context, c *config.Config, logger logging.Logger) (repomanager.RepositoryManager, ratelimit.Limiter, error) {
	if c.RateLimitBackend == config.RateLimitBadger {
		limiter, err := ratelimit.NewBadgerLimiter(c.RateLimitDir)
		if err != nil {
			return nil, nil, err
		}
		repos, _, err := openRepositories(ctx, c, logger)
		if err != nil {
			_ = limiter.Close()
			return nil, nil, err
		}
		return repos, limiter, nil
	}
	return openRepositories(ctx, c, logger)
}

func openRepositories(ctx context.Context, c *config.Config, logger logging.Logger) (repomanager.RepositoryManager, ratelimit.Limiter, error) {
	if c.Storage == config.StorageMemory {
		logger.Warn(ctx, "using in-memory storage, data is lost on exit")
		return repomanager.NewMemoryRepositoryManager(), ratelimit.NewMemoryLimiter(), nil
	}

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}
	if err := repomanager.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db migrations error: %w", err)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()
	if c.RateLimitBackend == config.StoragePostgres {
		limiter = ratelimit.NewPostgresLimiter(db)
	}
	return repomanager.NewPostgresRepositoryManager(db), limiter, nil
}

func newApp(c *config.Config, logger logging.Logger, repos repomanager.RepositoryManager, limiter ratelimit.Limiter) (*App, error) {
	env, err := cryptox.NewEnvelope(c.KEKHex)
	if err != nil {
		return nil, err
	}
	hasher, err := cryptox.NewPIIHasher(c.PIISaltHex)
	if err != nil {
		return nil, err
	}
	tm, err := tokens.NewManager(c.TokenKeyHex)
	if err != nil {
		return nil, err
	}

	recorder := audit.NewRecorder(repos.AuditLogs(), hasher, logger, audit.WithThreshold(c.AuditFailureThreshold))
	dispatcher := notify.NewDispatcher(hasher, logger, notifyOptions(c)...)

	engine := disclosure.NewEngine(disclosure.Deps{
		Repos:    repos,
		Envelope: env,
		Tokens:   tm,
		Limiter:  limiter,
		Recorder: recorder,
		Notifier: dispatcher,
		NFC:      nfc.StubVerifier{},
		Hasher:   hasher,
		Log:      logger,
	}, c)

	return &App{
		config:         c,
		logger:         logger,
		repos:          repos,
		limiter:        limiter,
		engine:         engine,
		profileService: services.NewProfileService(repos, env, recorder, dispatcher),
		termService:    services.NewTermService(repos),
		exportService:  services.NewExportService(repos, recorder, c),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.profileService, app.termService, app.exportService, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewHTTPServer(app.config.EndpointAddrHTTP, app.logger, app.engine)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

// Run serves both front ends until a signal arrives or either fails, then
// waits for pending owner notifications and closes storage.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.engine.Drain()
	closeLimiter(app.limiter)
	if err := app.repos.Close(); err != nil {
		app.logger.Error(ctx, "closing storage failed", "error", err)
	}
	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
}

func closeLimiter(l ratelimit.Limiter) {
	if c, ok := l.(io.Closer); ok {
		_ = c.Close()
	}
}

// notifyOptions turns configured relay URLs into dispatcher senders. With
// none set, notifications fall back to the log channel.
func notifyOptions(c *config.Config) []notify.Option {
	var opts []notify.Option
	if c.NotifyEmailWebhook != "" {
		opts = append(opts, notify.WithEmail(notify.NewWebhookSender(c.NotifyEmailWebhook, notify.ChannelEmail, c.NotifyTimeout)))
	}
	if c.NotifySMSWebhook != "" {
		opts = append(opts, notify.WithSMS(notify.NewWebhookSender(c.NotifySMSWebhook, notify.ChannelSMS, c.NotifyTimeout)))
	}
	return opts
}
