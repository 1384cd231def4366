package acceptance

import (
	"bytes"
	"database/sql"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/semanticallynull/cycleshare-backend/api"
	"github.com/semanticallynull/cycleshare-backend/cycle"
	"github.com/semanticallynull/cycleshare-backend/dashboard"
	"github.com/semanticallynull/cycleshare-backend/internal/auth"
	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
	"github.com/semanticallynull/cycleshare-backend/internal/paging"
	"github.com/semanticallynull/cycleshare-backend/migrations"
	"github.com/semanticallynull/cycleshare-backend/ride"
	"github.com/semanticallynull/cycleshare-backend/station"
	"github.com/semanticallynull/cycleshare-backend/user"
)

const ratePerHour = 1000

var (
	migrateOnce sync.Once
	migrateErr  error
)

// TestServer runs the real API against the database named by DATABASE_URL.
type TestServer struct {
	DB       *sqlx.DB
	Router   *gin.Engine
	Tokens   *auth.TokenManager
	Stations *station.Repository
	Cycles   *cycle.Repository
	Users    *user.Repository
	Rides    *ride.Repository
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}
	gin.SetMode(gin.TestMode)

	migrateOnce.Do(func() {
		_, migrateErr = migrations.Up(dbURL)
	})
	require.NoError(t, migrateErr)

	db, err := sqlx.Connect("pgx", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cleanupTestData(t, db)

	ts := &TestServer{
		DB:       db,
		Tokens:   auth.NewTokenManager("acceptance-secret", time.Hour),
		Stations: station.NewRepository(db),
		Cycles:   cycle.NewRepository(db),
		Users:    user.NewRepository(db),
		Rides:    ride.NewRepository(db),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := ride.NewManager(ts.Rides, ts.Cycles, ts.Stations, nil, ratePerHour, logger)
	a := api.New(api.Config{
		Logger:       logger,
		Authenticate: []gin.HandlerFunc{middleware.LocalAuth(ts.Tokens, ts.Users)},
		Tokens:       ts.Tokens,
		Health:       db.PingContext,
	}, api.Deps{
		Rides:     manager,
		Stations:  ts.Stations,
		Cycles:    ts.Cycles,
		Users:     ts.Users,
		Dashboard: dashboard.NewRepository(db, ratePerHour),
	})
	ts.Router = a.Router()
	return ts
}

func cleanupTestData(t *testing.T, db *sqlx.DB) {
	t.Helper()
	_, err := db.Exec("TRUNCATE rides, cycles, stations, users CASCADE")
	require.NoError(t, err)
}

type Response struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Pagination *paging.Meta    `json:"pagination"`
}

type RideData struct {
	ID           uuid.UUID  `json:"id"`
	CycleID      string     `json:"cycleId"`
	EndStationID *uuid.UUID `json:"endStationId"`
	Status       string     `json:"status"`
	Duration     *int       `json:"duration"`
	Distance     *float64   `json:"distance"`
	Cost         int64      `json:"cost"`
}

func (ts *TestServer) Do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func DecodeRide(t *testing.T, resp Response) RideData {
	t.Helper()
	var r RideData
	require.NoError(t, json.Unmarshal(resp.Data, &r))
	return r
}

func (ts *TestServer) CreateStation(t *testing.T, name string, lat, lng float64) uuid.UUID {
	t.Helper()
	s := station.Station{Name: name, Address: name + " Street", Capacity: 20, Location: station.NewLocation(lat, lng)}
	require.NoError(t, ts.Stations.CreateStation(t.Context(), &s))
	return s.ID
}

func (ts *TestServer) CreateCycle(t *testing.T, code string, stationID uuid.UUID) uuid.UUID {
	t.Helper()
	c := cycle.Cycle{Code: code, StationID: &stationID, Model: "City"}
	require.NoError(t, ts.Cycles.CreateCycle(t.Context(), &c))
	return c.ID
}

// CreateUser stores an account and returns a bearer token for it.
func (ts *TestServer) CreateUser(t *testing.T, email string, role user.Role) (user.User, string) {
	t.Helper()
	hash, err := user.HashPassword("password1")
	require.NoError(t, err)
	u := user.User{
		Email:        sql.NullString{String: email, Valid: true},
		PasswordHash: sql.NullString{String: hash, Valid: true},
		Name:         email,
		Role:         role,
	}
	require.NoError(t, ts.Users.CreateUser(t.Context(), &u))
	token, _, err := ts.Tokens.Issue(u.ID, string(role))
	require.NoError(t, err)
	return u, token
}

func (ts *TestServer) Cycle(t *testing.T, code string) cycle.Cycle {
	t.Helper()
	c, err := ts.Cycles.GetCycleByCode(t.Context(), code)
	require.NoError(t, err)
	return c
}

func (ts *TestServer) CountRides(t *testing.T, status ride.Status) int {
	t.Helper()
	var n int
	require.NoError(t, ts.DB.Get(&n, "SELECT count(*) FROM rides WHERE status = $1", string(status)))
	return n
}
