// Package app assembles the server: stores, services, the change feed, HTTP
// routes and background work.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/medicheck/medicheck/internal/config"
	"github.com/medicheck/medicheck/internal/domain/account"
	"github.com/medicheck/medicheck/internal/domain/appointment"
	"github.com/medicheck/medicheck/internal/domain/connection"
	"github.com/medicheck/medicheck/internal/domain/exchange"
	"github.com/medicheck/medicheck/internal/domain/profile"
	"github.com/medicheck/medicheck/internal/domain/triage"
	"github.com/medicheck/medicheck/internal/jobs"
	"github.com/medicheck/medicheck/internal/platform/auth"
	"github.com/medicheck/medicheck/internal/platform/changefeed"
	"github.com/medicheck/medicheck/internal/platform/db"
	"github.com/medicheck/medicheck/internal/platform/middleware"
	"github.com/medicheck/medicheck/internal/platform/notification"
	"github.com/medicheck/medicheck/internal/platform/websocket"
	"github.com/medicheck/medicheck/internal/realtime"
	"github.com/medicheck/medicheck/internal/session"
)

const Version = "0.1.0"

// App owns every long-lived resource of one server process.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Echo   *echo.Echo

	Broker        *changefeed.Broker
	Profiles      *profile.Service
	Connections   *connection.Service
	Appointments  *appointment.Service
	Exchange      *exchange.Service
	Accounts      *account.Service
	Triage        *triage.Service
	Sessions      *session.Store
	Notifications *notification.Manager
	Jobs          *jobs.Runner
	Hub           *websocket.Hub

	pool        *pgxpool.Pool
	mongo       *mongo.Client
	relay       *changefeed.Relay
	revocations *auth.TokenRevocationStore
	signingKey  []byte
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	analyzer triage.Analyzer
	chatter  triage.Chatter
}

func WithAnalyzer(a triage.Analyzer) Option { return func(o *options) { o.analyzer = a } }
func WithChatter(c triage.Chatter) Option   { return func(o *options) { o.chatter = c } }

// New connects the configured stores and builds the HTTP server. Call Close
// to release what it opened.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, Logger: logger, Broker: changefeed.NewBroker(), Hub: websocket.NewHub()}
	if err := a.build(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o *options) error {
	cfg := a.Config

	var (
		feed changefeed.Publisher = a.Broker
		tx   db.Transactor        = db.NoTx{}
	)
	if cfg.Store == config.StorePostgres {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		a.pool = pool
		a.Logger.Info().Msg("connected to database")
		feed = changefeed.NewPGNotifier(pool, cfg.ChangeChannel)
		a.relay = changefeed.NewRelay(pool, cfg.ChangeChannel, a.Broker, a.Logger)
		tx = db.NewTransactor(pool)
	}

	profileRepo, err := a.profileRepo(ctx)
	if err != nil {
		return err
	}
	a.Profiles = profile.NewService(profileRepo, feed)

	if a.pool != nil {
		a.Connections = connection.NewService(connection.NewRepoPG(a.pool), a.Profiles, feed)
		a.Appointments = appointment.NewService(appointment.NewRepoPG(a.pool), a.Profiles, feed)
		a.Exchange = exchange.NewService(exchange.NewReportRepoPG(a.pool), exchange.NewMessageRepoPG(a.pool), a.Connections, a.Profiles, feed)
	} else {
		a.Connections = connection.NewService(connection.NewRepoMem(), a.Profiles, feed)
		a.Appointments = appointment.NewService(appointment.NewRepoMem(), a.Profiles, feed)
		a.Exchange = exchange.NewService(exchange.NewReportRepoMem(), exchange.NewMessageRepoMem(), a.Connections, a.Profiles, feed)
	}
	a.Exchange.WithHistoryWindow(cfg.HistoryWindowDays)

	if err := a.buildAccounts(tx); err != nil {
		return err
	}

	if o.analyzer == nil && o.chatter == nil && cfg.GeminiAPIKey != "" {
		g, err := triage.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.CompanionModel)
		if err != nil {
			return err
		}
		o.analyzer, o.chatter = g, g
	}
	if o.analyzer == nil {
		a.Logger.Warn().Msg("GEMINI_API_KEY not set; symptom analysis will fail with 502")
	}
	a.Triage = triage.NewService(o.analyzer, o.chatter, a.Profiles)

	if cfg.SessionDBPath == "" {
		a.Sessions, err = session.OpenMemory()
	} else {
		a.Sessions, err = session.Open(cfg.SessionDBPath)
	}
	if err != nil {
		return err
	}

	sender := notification.NewLogSender(a.Logger)
	a.Notifications = notification.NewManager(sender, sender, notification.NewTemplateEngine())
	a.Jobs = jobs.NewRunner(a.Appointments, a.Exchange, a.Profiles, a.Notifications, a.Logger)

	a.Echo = a.routes()
	return nil
}

func (a *App) profileRepo(ctx context.Context) (profile.Repository, error) {
	switch a.Config.ProfileStore {
	case config.StorePostgres:
		return profile.NewRepoPG(a.pool), nil
	case config.StoreMongo:
		client, database, err := db.NewMongo(ctx, a.Config.MongoURL, a.Config.MongoDatabase)
		if err != nil {
			return nil, err
		}
		a.mongo = client
		if err := profile.EnsureMongoIndexes(ctx, database); err != nil {
			return nil, err
		}
		a.Logger.Info().Str("database", a.Config.MongoDatabase).Msg("profiles stored in mongo")
		return profile.NewRepoMongo(database), nil
	default:
		return profile.NewRepoMem(), nil
	}
}

// buildAccounts enables local registration and login unless identities come
// from an external issuer.
func (a *App) buildAccounts(tx db.Transactor) error {
	cfg := a.Config
	if cfg.ResolvedAuthMode() == "external" {
		return nil
	}
	key := []byte(cfg.AuthSigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("generate signing key: %w", err)
		}
		a.Logger.Warn().Msg("AUTH_SIGNING_KEY not set; issued tokens will not survive a restart")
	}
	a.signingKey = key
	issuer := auth.NewTokenIssuer(key, cfg.AuthIssuer, cfg.AuthAudience, cfg.TokenTTL)
	a.revocations = auth.NewTokenRevocationStore(time.Minute)

	var repo account.Repository
	if a.pool != nil {
		repo = account.NewRepoPG(a.pool)
	} else {
		repo = account.NewRepoMem()
	}
	a.Accounts = account.NewService(repo, a.Profiles, tx, issuer, a.revocations)
	return nil
}

func (a *App) routes() *echo.Echo {
	cfg := a.Config
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.Logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.HeaderUserID, auth.HeaderUserRole},
	}))
	e.Use(echomw.BodyLimit("64M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": Version})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool, db.NewMigrator(a.pool, cfg.MigrationsDir)))
	}

	api := e.Group("/api/v1")
	switch cfg.ResolvedAuthMode() {
	case "development":
		api.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	case "standalone":
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: a.signingKey,
			Revoked:    a.revocations.IsRevoked,
			Skipper:    auth.AuthSkipper,
		}))
	case "external":
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rl))
	api.Use(profile.CallerMiddleware(a.Profiles, auth.AuthSkipper))
	api.Use(middleware.Audit(a.Logger))

	if a.Accounts != nil {
		h := account.NewHandler(a.Accounts)
		h.RegisterPublicRoutes(api)
		h.RegisterRoutes(api)
	}
	profile.NewHandler(a.Profiles).RegisterRoutes(api)
	connection.NewHandler(a.Connections).RegisterRoutes(api)
	appointment.NewHandler(a.Appointments).RegisterRoutes(api)
	exchange.NewHandler(a.Exchange).RegisterRoutes(api)
	triage.NewHandler(a.Triage).RegisterRoutes(api)
	session.NewHandler(a.Sessions).RegisterRoutes(api)
	notification.NewHandler(a.Notifications).RegisterRoutes(api)
	websocket.NewHandler(a.Hub, "/ws/dashboard", a.openDashboard, a.Logger).RegisterRoutes(api)

	return e
}

// openDashboard builds the caller's session and dashboard for a socket.
func (a *App) openDashboard(ctx context.Context) (websocket.Stream[realtime.State], error) {
	caller, err := profile.CallerFrom(ctx)
	if err != nil {
		return nil, err
	}
	p, err := a.Profiles.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(ctx, a.Sessions, caller, p)
	if err != nil {
		return nil, err
	}
	src := realtime.Sources{Connections: a.Connections, Appointments: a.Appointments, Exchange: a.Exchange}
	d, err := realtime.Open(ctx, sess, a.Broker, src, *zerolog.Ctx(ctx))
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Run serves HTTP, relays database changes and runs the scheduler until ctx
// is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	scheduler, err := jobs.NewScheduler(a.Jobs, a.Config.ReminderSchedule, a.Config.DigestSchedule)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(ctx) })
	}
	g.Go(func() error {
		scheduler.Start()
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return scheduler.Stop(stopCtx)
	})
	g.Go(func() error {
		addr := ":" + a.Config.Port
		a.Logger.Info().Str("addr", addr).Msg("starting server")
		if err := a.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases stores opened by New. It is safe on a partially built App.
func (a *App) Close() {
	if a.Sessions != nil {
		if err := a.Sessions.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("close session store")
		}
	}
	if a.revocations != nil {
		a.revocations.Close()
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.mongo.Disconnect(ctx)
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
