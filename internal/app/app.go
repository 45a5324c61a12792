// Package app wires the portal components together for the process
// lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/airfi/airfi-guest-portal/internal/access"
	"github.com/airfi/airfi-guest-portal/internal/admin"
	"github.com/airfi/airfi-guest-portal/internal/api"
	"github.com/airfi/airfi-guest-portal/internal/apperror"
	"github.com/airfi/airfi-guest-portal/internal/auth"
	"github.com/airfi/airfi-guest-portal/internal/config"
	"github.com/airfi/airfi-guest-portal/internal/db"
	"github.com/airfi/airfi-guest-portal/internal/metrics"
	"github.com/airfi/airfi-guest-portal/internal/roster"
	"github.com/airfi/airfi-guest-portal/internal/router"
	"github.com/airfi/airfi-guest-portal/internal/session"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 30 * time.Second

// App owns the long-lived portal components.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   *db.DB
	Roster  *roster.Cache
	Router  router.Router
	Access  *access.Controller
	Session *session.Manager
	Admin   *admin.Service
	Metrics *metrics.Metrics
	Tokens  *auth.TokenService
}

// NewLogger builds the root logger from LOG_LEVEL and DEVELOPMENT_MODE.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zc := zap.NewProductionConfig()
	if cfg.DevelopmentMode {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// OpenStore opens the configured database: postgres when DATABASE_URL is
// set, sqlite at DB_PATH otherwise.
func OpenStore(cfg *config.Config) (*db.DB, error) {
	if cfg.UsePostgres() {
		return db.OpenDriver(db.DriverPostgres, cfg.DatabaseURL)
	}
	return db.Open(cfg.DBPath)
}

// NewRouter creates the configured router control client.
func NewRouter(cfg *config.Config, logger *zap.Logger) (router.Router, error) {
	switch cfg.RouterBackend {
	case config.BackendMikroTik:
		return router.NewMikroTik(router.MikroTikConfig{
			Host:           cfg.MikroTik.Host,
			Port:           cfg.MikroTik.Port,
			Username:       cfg.MikroTik.Username,
			Password:       cfg.MikroTik.Password,
			Timeout:        cfg.MikroTik.Timeout,
			HotspotProfile: cfg.MikroTik.HotspotProfile,
			BlockList:      cfg.BlockListName,
		}, logger.Named("mikrotik")), nil
	case config.BackendOpenWrt:
		return router.NewOpenWrt(router.OpenWrtConfig{
			Address:     cfg.OpenWrt.Address,
			Port:        cfg.OpenWrt.Port,
			Username:    cfg.OpenWrt.Username,
			Password:    cfg.OpenWrt.Password,
			PrivateKey:  cfg.OpenWrt.PrivateKey,
			AuthTimeout: cfg.OpenWrt.AuthTimeout,
		}, logger.Named("openwrt"))
	case config.BackendStub:
		return router.NewStub(), nil
	}
	return nil, fmt.Errorf("unknown router backend %q", cfg.RouterBackend)
}

// NewRoster creates the roster cache over the configured spreadsheet.
func NewRoster(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *roster.Cache {
	source := roster.NewSheetsSource(roster.SheetsConfig{
		CredentialsFile: cfg.Roster.CredentialsFile,
		CredentialsJSON: cfg.Roster.CredentialsJSON,
		SpreadsheetID:   cfg.Roster.SpreadsheetID,
		SheetName:       cfg.Roster.SheetName,
		Range:           cfg.Roster.Range,
	})
	return roster.NewCache(source, cfg.Roster.CacheTTL(), logger.Named("roster"), roster.WithObserver(m))
}

func policy(cfg *config.Config) auth.UnavailablePolicy {
	if cfg.OnRosterUnavailable == config.PolicyAdmit {
		return auth.AdmitWhenUnavailable
	}
	return auth.RejectWhenUnavailable
}

// New builds every component. The caller must Close the app.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.Store = store

	a.Router, err = NewRouter(cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create router client: %w", err)
	}

	keys, created, err := auth.LoadOrGenerateKeyPair(cfg.KeysDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize session keys: %w", err)
	}
	if created {
		logger.Info("generated session signing keys", zap.String("dir", cfg.KeysDir))
	}
	a.Tokens = auth.NewTokenService(keys, auth.DefaultIssuer, cfg.TokenTTL)

	a.Roster = NewRoster(cfg, a.Metrics, logger)
	a.Access = access.NewController(a.Router, store, a.Metrics, logger.Named("access"))
	verifier := auth.NewVerifier(store, a.Roster, policy(cfg), logger.Named("verifier"))
	logger.Info("login verifier ready", zap.String("on_roster_unavailable", string(verifier.Policy())))
	a.Session = session.NewManager(verifier, a.Access, store, a.Tokens, a.Metrics, logger.Named("session"))
	a.Admin = admin.NewService(store, a.Access, a.Roster, logger.Named("admin"))
	return a, nil
}

// CheckRouter logs whether the router answers. It never fails startup.
func (a *App) CheckRouter(ctx context.Context) {
	if err := a.Access.TestConnection(ctx); err != nil {
		a.Logger.Warn("router connection test failed",
			zap.String("backend", a.Config.RouterBackend),
			zap.String("kind", string(apperror.KindOf(err))),
			zap.Error(err),
		)
		return
	}
	a.Logger.Info("router connection ok", zap.String("backend", a.Config.RouterBackend))
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	h := api.NewHandler(a.Session, a.Admin, a.Config.DevelopmentMode, a.Logger.Named("api"))
	return api.NewRouter(h, api.RouterConfig{
		AdminUsername:  a.Config.AdminUsername,
		AdminPassword:  a.Config.AdminPassword,
		LoginRateLimit: a.Config.LoginRateLimit,
		LoginRateBurst: a.Config.LoginRateBurst,
		Metrics:        a.Metrics.Handler(),
	}, a.Logger.Named("http"))
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", zap.String("addr", a.Config.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
