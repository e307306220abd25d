package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-idp"
	"github.com/goliatone/go-idp/activitymap"
	"github.com/goliatone/go-idp/metrics"
	"github.com/goliatone/go-idp/middleware/orgware"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/time/rate"
)

type App struct {
	config    *Config
	db        *bun.DB
	repo      idp.RepositoryManager
	tokens    *idp.TokenService
	activity  idp.ActivitySink
	lifecycle *idp.LifecycleDispatcher
	registry  *prometheus.Registry
	srv       router.Server[*fiber.App]
	logger    *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("idp"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)

	cfg, err := LoadConfig()
	if err != nil {
		lgr.Fatal("invalid configuration", "error", err)
		os.Exit(1)
	}

	fmt.Println(print.MaybeHighlightJSON(cfg))

	ctx := context.Background()
	app := &App{config: cfg, logger: lgr, registry: prometheus.NewRegistry()}

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithActivity,
		WithSeed,
		WithHTTPServer,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			lgr.Fatal("startup failed", "error", err)
			os.Exit(1)
		}
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(app.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.GetLogger("metrics").Error("metrics server stopped", "error", err)
		}
	}()

	app.srv.Serve(cfg.ListenAddr)

	sig := WaitExitSignal()
	lgr.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		lgr.Error("http shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		lgr.Error("metrics shutdown", "error", err)
	}
	if err := app.db.Close(); err != nil {
		lgr.Error("database close", "error", err)
	}
}

// WithPersistence opens the store picked by the DSN and applies migrations.
func WithPersistence(ctx context.Context, app *App) error {
	dsn := app.config.DSN

	var db *bun.DB
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	} else {
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	if err := idp.Migrate(ctx, db, app.GetLogger("migrations")); err != nil {
		return err
	}

	repo := idp.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	app.db = db
	app.repo = repo
	return nil
}

// WithActivity wires the activity sinks and the lifecycle dispatcher.
func WithActivity(ctx context.Context, app *App) error {
	collector, err := metrics.NewActivityCollector(app.registry)
	if err != nil {
		return err
	}

	app.activity = idp.ActivitySinks{
		collector,
		activitymap.LogSink(app.GetLogger("activity"), activitymap.WithDefaultChannel("idp")),
	}

	app.lifecycle = idp.NewLifecycleDispatcher(nil,
		idp.WithAfterHookPolicy(app.config.GetAfterHookPolicy()),
		idp.WithDispatcherActivitySink(app.activity),
		idp.WithDispatcherLoggerProvider(app.logger),
	)
	return nil
}

// WithSeed applies the seed document, if one is configured.
func WithSeed(ctx context.Context, app *App) error {
	data, err := app.config.LoadSeed()
	if err != nil || data == nil {
		return err
	}

	return idp.NewSeeder(app.repo, data.Steps()...).
		WithLogger(app.GetLogger("seed")).
		Run(ctx)
}

// WithHTTPServer builds the token endpoint, the account routes and the
// organization resolver middleware.
func WithHTTPServer(ctx context.Context, app *App) error {
	cfg := app.config
	repo := app.repo
	clients := cfg.Clients()
	resources := cfg.ScopeResources()

	app.tokens = idp.NewTokenService(cfg).WithLogger(app.GetLogger("tokens"))

	signIn := idp.NewSignInManager(repo.Users(), cfg.GetLockoutThreshold(), cfg.GetLockoutDuration()).
		WithLoggerProvider(app.logger).
		WithActivitySink(app.activity)

	pipeline := idp.NewAugmentationPipeline(
		idp.DefaultAugmentors(repo.Memberships(), repo.Roles(), repo.Roles()),
		idp.WithPipelineLogger(app.GetLogger("claims")),
	)

	refresher := idp.NewPrincipalRefresher(repo.Users(), pipeline).
		WithLogger(app.GetLogger("refresher"))

	endpoint := idp.NewTokenEndpoint(
		idp.DefaultGrantValidators(clients),
		idp.NewStaticClientAuthenticator(clients),
		app.tokens,
		idp.WithGrantHandler(idp.GrantTypePassword,
			idp.NewPasswordGrantHandler(repo.Users(), signIn, pipeline, resources).WithLoggerProvider(app.logger)),
		idp.WithGrantHandler(idp.GrantTypeClientCredentials,
			idp.NewClientCredentialsGrantHandler(pipeline, resources)),
		idp.WithGrantHandler(idp.GrantTypeAuthorizationCode,
			idp.NewAuthorizationCodeGrantHandler(repo.AuthorizationCodes(), repo.Users(), refresher, resources)),
		idp.WithGrantHandler(idp.GrantTypeRefreshToken,
			idp.NewRefreshTokenGrantHandler(app.tokens, refresher)),
		idp.WithTokenEndpointActivitySink(app.activity),
		idp.WithTokenEndpointLoggerProvider(app.logger),
	)

	tokenOpts := []idp.TokenControllerOption{idp.WithTokenControllerLogger(app.GetLogger("http.token"))}
	if cfg.ClientRateLimit > 0 {
		tokenOpts = append(tokenOpts, idp.WithClientRateLimit(rate.Limit(cfg.ClientRateLimit), cfg.ClientRateBurst))
	}

	resolver := idp.NewOrganizationResolverFromConfig(cfg, repo.Memberships(), repo.Organizations(),
		idp.WithResolverActivitySink(app.activity),
		idp.WithResolverLoggerProvider(app.logger),
	)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: true,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	idp.RegisterTokenRoutes(srv.Router(), idp.NewTokenController(endpoint, tokenOpts...))

	resetLogger := app.GetLogger("password_reset")
	accounts := idp.NewAccountController(repo, app.lifecycle).
		WithLogger(app.GetLogger("http.account")).
		WithResetNotifier(idp.ResetNotifierFunc(func(ctx context.Context, reset *idp.PasswordReset) error {
			// TODO: deliver through a mail transport once one is configured.
			resetLogger.Info("password reset requested", "email", reset.Email, "link", "/account/password-reset/"+reset.ID.String())
			return nil
		}))

	idp.RegisterAccountRoutes(srv.Router(), accounts,
		idp.ProtectedRoute(app.tokens),
		idp.ProtectedRoute(app.tokens, idp.PermissionManageUsers),
		orgware.New(orgware.Config{Resolver: resolver}),
	)

	app.srv = srv
	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
