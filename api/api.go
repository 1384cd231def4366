package api

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semanticallynull/cycleshare-backend/cycle"
	"github.com/semanticallynull/cycleshare-backend/dashboard"
	"github.com/semanticallynull/cycleshare-backend/internal/auth"
	"github.com/semanticallynull/cycleshare-backend/internal/billing"
	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
	"github.com/semanticallynull/cycleshare-backend/internal/paging"
	"github.com/semanticallynull/cycleshare-backend/ride"
	"github.com/semanticallynull/cycleshare-backend/station"
	"github.com/semanticallynull/cycleshare-backend/user"
)

type Rides interface {
	StartRide(ctx context.Context, userID uuid.UUID, cycleCode string, stationID uuid.UUID) (ride.Ride, error)
	EndRide(ctx context.Context, userID uuid.UUID, cycleCode string, stationID uuid.UUID, fb *ride.Feedback) (ride.Ride, error)
	CancelRide(ctx context.Context, userID uuid.UUID) (ride.Ride, error)
	AdminCancelRide(ctx context.Context, rideID uuid.UUID) (ride.Ride, error)
	GetActiveRide(ctx context.Context, userID uuid.UUID) (*ride.Ride, error)
	History(ctx context.Context, userID uuid.UUID, page paging.Request) ([]ride.Ride, paging.Meta, error)
	ListRides(ctx context.Context, status ride.Status, page paging.Request) ([]ride.Ride, paging.Meta, error)
	GetUserStats(ctx context.Context, userID uuid.UUID) (ride.Stats, error)
	RatePerHour() int64
}

type Stations interface {
	GetStations(ctx context.Context) ([]station.Station, error)
	GetStation(ctx context.Context, id uuid.UUID) (station.Station, error)
	CreateStation(ctx context.Context, s *station.Station) error
	UpdateStation(ctx context.Context, s station.Station) (station.Station, error)
	DeleteStation(ctx context.Context, id uuid.UUID) error
}

type Cycles interface {
	GetCycles(ctx context.Context, f cycle.Filter, page paging.Request) ([]cycle.Cycle, int, error)
	GetCycle(ctx context.Context, id uuid.UUID) (cycle.Cycle, error)
	GetCycleByCode(ctx context.Context, code string) (cycle.Cycle, error)
	GetAvailableAtStation(ctx context.Context, stationID uuid.UUID) ([]cycle.Cycle, error)
	CreateCycle(ctx context.Context, c *cycle.Cycle) error
	UpdateCycle(ctx context.Context, c cycle.Cycle) (cycle.Cycle, error)
	SetStatus(ctx context.Context, id uuid.UUID, status cycle.Status) (cycle.Cycle, error)
	DeleteCycle(ctx context.Context, id uuid.UUID) error
}

type Users interface {
	GetUser(ctx context.Context, id uuid.UUID) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	CreateUser(ctx context.Context, u *user.User) error
	UpdateProfile(ctx context.Context, id uuid.UUID, email, name, phone string) (user.User, error)
	GetUsers(ctx context.Context, f user.Filter, page paging.Request) ([]user.User, int, error)
	SetRole(ctx context.Context, id uuid.UUID, role user.Role) (user.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

type Dashboard interface {
	Overview(ctx context.Context) (dashboard.Overview, error)
	Revenue(ctx context.Context, days int, now time.Time) ([]dashboard.DailyRevenue, error)
	Stations(ctx context.Context, limit int) ([]dashboard.StationUsage, error)
}

type Payments interface {
	CustomerSession(ctx context.Context, userID uuid.UUID) (billing.Session, error)
	SetupIntent(ctx context.Context, userID uuid.UUID) (string, error)
	PaymentMethod(ctx context.Context, userID uuid.UUID) (string, error)
}

type Deps struct {
	Rides     Rides
	Stations  Stations
	Cycles    Cycles
	Users     Users
	Dashboard Dashboard
	// Payments is optional; the payment routes are only mounted when set.
	Payments Payments
}

type Config struct {
	ServiceName string
	Logger      *slog.Logger
	Registry    *prometheus.Registry

	// Authenticate runs before every protected route and must store a
	// middleware.Identity on success.
	Authenticate []gin.HandlerFunc
	// Tokens enables /auth/register and /auth/login. It is nil when
	// identities come from Auth0.
	Tokens *auth.TokenManager

	MetricsUsername string
	MetricsPassword string
	CORSOrigins     []string
	// RideLimiter throttles ride mutations per rider when set.
	RideLimiter *middleware.RateLimiter
	// Health reports whether backing services are reachable.
	Health func(ctx context.Context) error
}

type API struct {
	r   *gin.Engine
	cfg Config

	rides     Rides
	stations  Stations
	cycles    Cycles
	users     Users
	dashboard Dashboard
	payments  Payments

	now func() time.Time
}

func New(cfg Config, deps Deps) *API {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cycleshare"
	}
	registerTagNames()

	a := &API{
		r:         gin.New(),
		cfg:       cfg,
		rides:     deps.Rides,
		stations:  deps.Stations,
		cycles:    deps.Cycles,
		users:     deps.Users,
		dashboard: deps.Dashboard,
		payments:  deps.Payments,
		now:       time.Now,
	}

	a.r.Use(gin.Recovery(), middleware.Tracing(cfg.ServiceName), middleware.Logging(cfg.Logger))
	if cfg.Registry != nil {
		a.r.Use(middleware.Metrics(cfg.Registry))
	}
	if len(cfg.CORSOrigins) > 0 {
		a.r.Use(middleware.CORS(cfg.CORSOrigins))
	}
	a.r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{Message: "route not found"})
	})

	a.routes()
	return a
}

func (a *API) routes() {
	a.r.GET("/health", a.healthHandler)
	if a.cfg.Registry != nil {
		metrics := a.r.Group("/metrics")
		if a.cfg.MetricsUsername != "" {
			metrics.Use(gin.BasicAuth(gin.Accounts{a.cfg.MetricsUsername: a.cfg.MetricsPassword}))
		}
		metrics.GET("", gin.WrapH(promhttp.HandlerFor(a.cfg.Registry, promhttp.HandlerOpts{})))
	}

	if a.cfg.Tokens != nil {
		a.r.POST("/auth/register", a.registerHandler)
		a.r.POST("/auth/login", a.loginHandler)
	}

	a.r.GET("/stations", a.stationsHandler)
	a.r.GET("/stations/nearby", a.nearbyStationsHandler)
	a.r.GET("/stations/:id", a.stationHandler)
	a.r.GET("/stations/:id/cycles", a.stationCyclesHandler)
	a.r.GET("/cycles/:code", a.cycleByCodeHandler)

	authed := a.r.Group("", a.cfg.Authenticate...)
	authed.GET("/auth/me", a.meHandler)
	authed.GET("/users/me", a.meHandler)
	authed.PUT("/users/me", a.updateMeHandler)

	rides := authed.Group("/rides")
	mutate := rides.Group("")
	if a.cfg.RideLimiter != nil {
		mutate.Use(a.cfg.RideLimiter.Handler())
	}
	mutate.POST("/start", a.startRideHandler)
	mutate.POST("/end", a.endRideHandler)
	mutate.POST("/cancel", a.cancelRideHandler)
	rides.GET("/active", a.activeRideHandler)
	rides.GET("/history", a.rideHistoryHandler)
	rides.GET("/stats", a.rideStatsHandler)

	if a.payments != nil {
		payments := authed.Group("/payments")
		payments.POST("/session", a.customerSessionHandler)
		payments.POST("/setup-intent", a.setupIntentHandler)
		payments.GET("/method", a.paymentMethodHandler)
	}

	admin := authed.Group("/admin", middleware.RequireRole(user.RoleAdmin))
	admin.GET("/users", a.listUsersHandler)
	admin.GET("/users/:id", a.userHandler)
	admin.PATCH("/users/:id/role", a.setRoleHandler)
	admin.DELETE("/users/:id", a.deleteUserHandler)

	admin.POST("/stations", a.createStationHandler)
	admin.PUT("/stations/:id", a.updateStationHandler)
	admin.DELETE("/stations/:id", a.deleteStationHandler)

	admin.GET("/cycles", a.listCyclesHandler)
	admin.POST("/cycles", a.createCycleHandler)
	admin.PUT("/cycles/:id", a.updateCycleHandler)
	admin.PATCH("/cycles/:id/status", a.setCycleStatusHandler)
	admin.DELETE("/cycles/:id", a.deleteCycleHandler)
	admin.GET("/cycles/:id/qr", a.cycleQRHandler)

	admin.GET("/rides", a.listRidesHandler)
	admin.POST("/rides/:id/cancel", a.adminCancelRideHandler)

	admin.GET("/dashboard", a.overviewHandler)
	admin.GET("/dashboard/revenue", a.revenueHandler)
	admin.GET("/dashboard/stations", a.stationUsageHandler)
}

func (a *API) Router() *gin.Engine {
	return a.r
}

func (a *API) healthHandler(c *gin.Context) {
	if a.cfg.Health != nil {
		if err := a.cfg.Health(c.Request.Context()); err != nil {
			middleware.GetLogger(c).Error("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, envelope{Message: "database unavailable"})
			return
		}
	}
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

// registerTagNames makes binding errors report JSON field names.
func registerTagNames() {
	v, isValidator := binding.Validator.Engine().(*validator.Validate)
	if !isValidator {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
}
