package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/cycleshare-backend/api"
	"github.com/semanticallynull/cycleshare-backend/cycle"
	"github.com/semanticallynull/cycleshare-backend/dashboard"
	"github.com/semanticallynull/cycleshare-backend/internal/auth"
	"github.com/semanticallynull/cycleshare-backend/internal/auth0"
	"github.com/semanticallynull/cycleshare-backend/internal/billing"
	"github.com/semanticallynull/cycleshare-backend/internal/events"
	"github.com/semanticallynull/cycleshare-backend/internal/jobs"
	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
	"github.com/semanticallynull/cycleshare-backend/internal/o11y"
	"github.com/semanticallynull/cycleshare-backend/migrations"
	"github.com/semanticallynull/cycleshare-backend/ride"
	"github.com/semanticallynull/cycleshare-backend/station"
	"github.com/semanticallynull/cycleshare-backend/user"
)

type ServeCmd struct {
	Port    int  `name:"port" env:"PORT" default:"8080"`
	Migrate bool `name:"migrate" env:"MIGRATE" help:"Apply pending migrations before serving."`

	AuthMode    string        `name:"auth-mode" env:"AUTH_MODE" enum:"local,auth0" default:"local"`
	JWTSecret   string        `name:"jwt-secret" env:"JWT_SECRET"`
	JWTTTL      time.Duration `name:"jwt-ttl" env:"JWT_TTL" default:"24h"`
	Auth0Domain string        `name:"auth0-domain" env:"AUTH0_DOMAIN"`
	Audience    string        `name:"audience" env:"AUDIENCE"`

	MetricsUsername string `name:"metrics-username" env:"METRICS_USERNAME"`
	MetricsPassword string `name:"metrics-password" env:"METRICS_PASSWORD"`

	OTLPEndpoint string  `name:"otlp-endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRatio  float64 `name:"trace-sample-ratio" env:"TRACE_SAMPLE_RATIO" default:"1"`

	RatePerHour int64 `name:"rate-per-hour" env:"RATE_PER_HOUR" default:"1000" help:"Hourly ride price in cents."`

	RabbitMQURL      string `name:"rabbitmq-url" env:"RABBITMQ_URL"`
	RabbitMQExchange string `name:"rabbitmq-exchange" env:"RABBITMQ_EXCHANGE" default:"cycleshare.rides"`
	StripeKey        string `name:"stripe-key" env:"STRIPE_KEY"`

	ReconcileSchedule string   `name:"reconcile-schedule" env:"RECONCILE_SCHEDULE" default:"@every 5m"`
	CORSOrigins       []string `name:"cors-origins" env:"CORS_ORIGINS"`
	RateLimit         float64  `name:"rate-limit" env:"RATE_LIMIT" default:"1" help:"Ride requests per second per rider."`
	RateBurst         int      `name:"rate-burst" env:"RATE_BURST" default:"5"`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	if c.AuthMode == "local" && c.JWTSecret == "" {
		return errors.New("--jwt-secret is required with --auth-mode=local")
	}
	if c.AuthMode == "auth0" && (c.Auth0Domain == "" || c.Audience == "") {
		return errors.New("--auth0-domain and --audience are required with --auth-mode=auth0")
	}

	obs, cleanup, err := o11y.Setup(ctx, o11y.Config{
		LogLevel:     g.LogLevel,
		OTLPEndpoint: c.OTLPEndpoint,
		SampleRatio:  c.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer cleanup()
	logger := obs.Logger
	slog.SetDefault(logger)

	if c.Migrate {
		version, err := migrations.Up(g.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		logger.Info("database migrated", "version", version)
	}

	db, err := connect(ctx, g.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	stations := station.NewRepository(db)
	cycles := cycle.NewRepository(db)
	users := user.NewRepository(db)
	rides := ride.NewRepository(db)

	var publishers events.Multi
	if c.RabbitMQURL != "" {
		rp, err := events.NewRabbitPublisher(c.RabbitMQURL, c.RabbitMQExchange)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer rp.Close()
		publishers = append(publishers, rp)
	}

	var payments api.Payments
	if c.StripeKey != "" {
		svc := billing.NewService(users, billing.NewStripeGateway(c.StripeKey), logger)
		defer svc.Wait()
		publishers = append(publishers, svc)
		payments = svc
	}

	ride.RegisterMetrics(obs.Registry)
	jobs.RegisterMetrics(obs.Registry)
	manager := ride.NewManager(rides, cycles, stations, publishers, c.RatePerHour, logger)

	var (
		authenticate []gin.HandlerFunc
		tokens       *auth.TokenManager
	)
	switch c.AuthMode {
	case "auth0":
		checkJWT, err := middleware.Auth0JWT(c.Auth0Domain, c.Audience)
		if err != nil {
			return err
		}
		authenticate = []gin.HandlerFunc{checkJWT, middleware.Auth0Identity(users, auth0.NewHTTPClient(c.Auth0Domain))}
	default:
		tokens = auth.NewTokenManager(c.JWTSecret, c.JWTTTL)
		authenticate = []gin.HandlerFunc{middleware.LocalAuth(tokens, users)}
	}

	limiter := middleware.NewRateLimiter(c.RateLimit, c.RateBurst)

	sched := jobs.NewScheduler(logger)
	if err := sched.Add("reconcile-cycles", c.ReconcileSchedule, jobs.Reconcile(rides, logger)); err != nil {
		return fmt.Errorf("invalid reconcile schedule: %w", err)
	}
	if err := sched.Add("sweep-rate-limiter", "@every 10m", func(context.Context) error {
		if n := limiter.Sweep(time.Now()); n > 0 {
			logger.Debug("rate limiter swept", "removed", n)
		}
		return nil
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	gin.SetMode(gin.ReleaseMode)
	a := api.New(api.Config{
		ServiceName:     "cycleshare",
		Logger:          logger,
		Registry:        obs.Registry,
		Authenticate:    authenticate,
		Tokens:          tokens,
		MetricsUsername: c.MetricsUsername,
		MetricsPassword: c.MetricsPassword,
		CORSOrigins:     c.CORSOrigins,
		RideLimiter:     limiter,
		Health:          db.PingContext,
	}, api.Deps{
		Rides:     manager,
		Stations:  stations,
		Cycles:    cycles,
		Users:     users,
		Dashboard: dashboard.NewRepository(db, c.RatePerHour),
		Payments:  payments,
	})

	serv := http.Server{
		Addr:              fmt.Sprintf(":%d", c.Port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := serv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	logger.Info("server started", "port", c.Port, "authMode", c.AuthMode)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return serv.Shutdown(shutdownCtx)
}
