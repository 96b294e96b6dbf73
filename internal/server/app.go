// Package server wires configuration, the database connector, middleware and
// routes into the signup HTTP server and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mongo-signup/server/internal/auth"
	"github.com/mongo-signup/server/internal/config"
	"github.com/mongo-signup/server/internal/metrics"
	"github.com/mongo-signup/server/internal/ratelimit"
	"github.com/mongo-signup/server/internal/users"
)

// ErrDatabaseUnavailable is returned by Run under the strict policy when the
// connection attempt fails.
var ErrDatabaseUnavailable = errors.New("database unavailable")

const authRetryAfter = 5 * time.Second

// Options configures New. Only Config is required.
type Options struct {
	Config *config.Config
	Logger zerolog.Logger
	// Connect opens the database. Defaults to MongoConnector.
	Connect ConnectFunc
	// Metrics may be nil to disable instrumentation.
	Metrics *metrics.Metrics
	// RateLimitStore overrides the store chosen from the config.
	RateLimitStore ratelimit.Store
}

// App is the signup server.
type App struct {
	cfg     *config.Config
	logger  zerolog.Logger
	connect ConnectFunc
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter
	redis   *redis.Client
	tokens  *auth.Tokens
	mount   *AuthMount
	engine  *gin.Engine

	mu          sync.Mutex
	store       Store
	closing     bool
	connectOnce sync.Once
	connectDone chan struct{}
}

// New builds an App. It does not touch the database.
func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	cfg := opts.Config

	a := &App{
		cfg:         cfg,
		logger:      opts.Logger,
		connect:     opts.Connect,
		metrics:     opts.Metrics,
		mount:       NewAuthMount(authRetryAfter),
		connectDone: make(chan struct{}),
	}
	if a.connect == nil {
		a.connect = MongoConnector(cfg, a.logger)
	}

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		generated, err := auth.GenerateSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
		a.logger.Warn().Msg("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}
	a.tokens = auth.NewTokens(secret, cfg.TokenTTL)

	store := opts.RateLimitStore
	if store == nil {
		if cfg.RedisURL != "" {
			client, err := ratelimit.NewRedisClient(cfg.RedisURL)
			if err != nil {
				return nil, err
			}
			a.redis = client
			store = ratelimit.NewRedisStore(client, ratelimit.DefaultRedisPrefix)
		} else {
			store = ratelimit.NewMemoryStore()
		}
	}
	a.limiter = ratelimit.NewLimiter(store, cfg.RateLimit, cfg.RateLimitWindow)
	a.logger.Info().
		Int("limit", a.limiter.Limit()).
		Dur("window", a.limiter.Window()).
		Bool("redis", a.redis != nil).
		Msg("rate limiter configured")

	engine, err := a.routes()
	if err != nil {
		return nil, fmt.Errorf("failed to build routes: %w", err)
	}
	a.engine = engine

	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.engine
}

// State reports the current readiness state.
func (a *App) State() State {
	return a.mount.State()
}

// ConnectDatabase attempts the database connection once, in the background,
// and mounts the auth routes on success. The returned channel closes when
// the attempt has resolved either way. Later calls return the same channel.
func (a *App) ConnectDatabase(ctx context.Context) <-chan struct{} {
	a.connectOnce.Do(func() {
		go func() {
			defer close(a.connectDone)
			if store := a.connectStore(ctx); store != nil {
				a.mountAuth(store)
			} else {
				a.mount.Fail()
			}
		}()
	})
	return a.connectDone
}

// connectStore makes one connection attempt. Failure is logged and yields nil.
func (a *App) connectStore(ctx context.Context) Store {
	store, err := a.connect(ctx)
	if err != nil {
		a.metrics.DBConnect("failure")
		a.logger.Error().Err(err).Msg("MongoDB connection error")
		return nil
	}

	a.metrics.DBConnect("success")

	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		a.logger.Warn().Msg("MongoDB connected after shutdown began, closing it")
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			a.logger.Error().Err(err).Msg("failed to close MongoDB connection")
		}
		return nil
	}
	a.store = store
	a.mu.Unlock()

	a.logger.Info().Msg("Connected to MongoDB")
	return store
}

func (a *App) mountAuth(store Store) {
	svc := users.NewService(store.Users())
	router := auth.NewRouter(svc, a.tokens,
		auth.WithLogger(a.logger),
		auth.WithRecorder(a.metrics),
	)
	if a.mount.Mount(router) {
		a.logger.Info().Str("prefix", auth.Prefix).Msg("auth routes mounted")
	}
}

func (a *App) currentStore() Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store
}

// Run serves HTTP until ctx is cancelled, then shuts down. Under the soft
// policy listening starts immediately and the database connects in the
// background; under the strict policy Run connects first and returns
// ErrDatabaseUnavailable if that fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		a.closeStores(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.cfg.DBPolicy == config.PolicyStrict {
		<-a.ConnectDatabase(ctx)
		if a.State() != StateReady {
			_ = ln.Close()
			a.closeStores(context.Background())
			return ErrDatabaseUnavailable
		}
	} else {
		a.ConnectDatabase(ctx)
	}

	srv := &http.Server{
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.logger.Info().Msgf("Server running at http://localhost:%s", a.cfg.Port)

	select {
	case err := <-errCh:
		a.closeStores(context.Background())
		return fmt.Errorf("http server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx, srv)
}

// Shutdown stops accepting requests, drains in-flight ones within ctx, then
// closes the database. A failed close is logged, not returned.
func (a *App) Shutdown(ctx context.Context, srv *http.Server) error {
	a.logger.Info().Msg("shutting down")

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("http server did not drain in time")
		}
	}

	// A connection attempt still in flight may yet produce a store.
	select {
	case <-a.connectDone:
	case <-ctx.Done():
	}

	a.closeStores(ctx)
	return nil
}

// closeStores closes whatever is connected now. A connection that completes
// afterwards is closed by connectStore.
func (a *App) closeStores(ctx context.Context) {
	a.mu.Lock()
	a.closing = true
	store := a.store
	a.mu.Unlock()

	var err error
	if store != nil {
		err = store.Close(ctx)
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to close MongoDB connection")
	} else {
		a.logger.Info().Msg("MongoDB connection closed")
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
