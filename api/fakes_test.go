package api

import (
	"bytes"
	"context"
	"database/sql"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/semanticallynull/cycleshare-backend/cycle"
	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
	"github.com/semanticallynull/cycleshare-backend/internal/auth"
	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
	"github.com/semanticallynull/cycleshare-backend/internal/paging"
	"github.com/semanticallynull/cycleshare-backend/ride"
	"github.com/semanticallynull/cycleshare-backend/station"
	"github.com/semanticallynull/cycleshare-backend/user"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]user.User
	byEmail map[string]uuid.UUID
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[uuid.UUID]user.User{}, byEmail: map[string]uuid.UUID{}}
}

func (f *fakeUsers) add(t *testing.T, email, password string, role user.Role) user.User {
	t.Helper()
	hash, err := user.HashPassword(password)
	require.NoError(t, err)
	u := user.User{
		Email:        sql.NullString{String: email, Valid: true},
		PasswordHash: sql.NullString{String: hash, Valid: true},
		Name:         email,
		Role:         role,
	}
	require.NoError(t, f.CreateUser(context.Background(), &u))
	return u
}

func (f *fakeUsers) GetUser(_ context.Context, id uuid.UUID) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return f.byID[id], nil
}

func (f *fakeUsers) CreateUser(_ context.Context, u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := user.NormalizeEmail(u.Email.String)
	if _, taken := f.byEmail[email]; taken {
		return user.ErrEmailTaken
	}
	u.Email.String = email
	u.ID = uuid.New()
	if u.Role == "" {
		u.Role = user.RoleUser
	}
	u.Active = true
	u.CreatedAt = time.Now()
	f.byID[u.ID] = *u
	f.byEmail[email] = u.ID
	return nil
}

func (f *fakeUsers) GetOrCreateByAuth0ID(context.Context, string) (user.User, bool, error) {
	return user.User{}, false, apperr.New(apperr.Internal, "not supported")
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id uuid.UUID, email, name, phone string) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	u.Email = sql.NullString{String: user.NormalizeEmail(email), Valid: email != ""}
	u.Name, u.Phone = name, phone
	f.byID[id] = u
	return u, nil
}

func (f *fakeUsers) GetUsers(_ context.Context, flt user.Filter, page paging.Request) ([]user.User, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []user.User
	for _, u := range f.byID {
		if flt.Role != "" && u.Role != flt.Role {
			continue
		}
		out = append(out, u)
	}
	return out, len(out), nil
}

func (f *fakeUsers) SetRole(_ context.Context, id uuid.UUID, role user.Role) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	u.Role = role
	f.byID[id] = u
	return u, nil
}

func (f *fakeUsers) DeleteUser(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok || !u.Active {
		return user.ErrNotFound
	}
	u.Active = false
	f.byID[id] = u
	return nil
}

// fakeRides returns canned results and records what it was asked for.
type fakeRides struct {
	ride   ride.Ride
	err    error
	active *ride.Ride
	stats  ride.Stats

	gotUser     uuid.UUID
	gotCode     string
	gotStation  uuid.UUID
	gotFeedback *ride.Feedback
	gotPage     paging.Request
	gotStatus   ride.Status
}

func (f *fakeRides) StartRide(_ context.Context, userID uuid.UUID, code string, stationID uuid.UUID) (ride.Ride, error) {
	f.gotUser, f.gotCode, f.gotStation = userID, code, stationID
	return f.ride, f.err
}

func (f *fakeRides) EndRide(_ context.Context, userID uuid.UUID, code string, stationID uuid.UUID, fb *ride.Feedback) (ride.Ride, error) {
	f.gotUser, f.gotCode, f.gotStation, f.gotFeedback = userID, code, stationID, fb
	return f.ride, f.err
}

func (f *fakeRides) CancelRide(_ context.Context, userID uuid.UUID) (ride.Ride, error) {
	f.gotUser = userID
	return f.ride, f.err
}

func (f *fakeRides) AdminCancelRide(_ context.Context, rideID uuid.UUID) (ride.Ride, error) {
	return f.ride, f.err
}

func (f *fakeRides) GetActiveRide(_ context.Context, userID uuid.UUID) (*ride.Ride, error) {
	f.gotUser = userID
	return f.active, f.err
}

func (f *fakeRides) History(_ context.Context, userID uuid.UUID, page paging.Request) ([]ride.Ride, paging.Meta, error) {
	f.gotUser, f.gotPage = userID, page
	return []ride.Ride{f.ride}, page.Meta(11), f.err
}

func (f *fakeRides) ListRides(_ context.Context, status ride.Status, page paging.Request) ([]ride.Ride, paging.Meta, error) {
	f.gotStatus, f.gotPage = status, page
	return []ride.Ride{f.ride}, page.Meta(1), f.err
}

func (f *fakeRides) GetUserStats(_ context.Context, userID uuid.UUID) (ride.Stats, error) {
	f.gotUser = userID
	return f.stats, f.err
}

func (f *fakeRides) RatePerHour() int64 {
	return 1000
}

type fakeStations struct {
	stations []station.Station
}

func (f *fakeStations) GetStations(context.Context) ([]station.Station, error) {
	return f.stations, nil
}

func (f *fakeStations) GetStation(_ context.Context, id uuid.UUID) (station.Station, error) {
	for _, s := range f.stations {
		if s.ID == id {
			return s, nil
		}
	}
	return station.Station{}, station.ErrNotFound
}

func (f *fakeStations) CreateStation(_ context.Context, s *station.Station) error {
	s.ID = uuid.New()
	f.stations = append(f.stations, *s)
	return nil
}

func (f *fakeStations) UpdateStation(_ context.Context, s station.Station) (station.Station, error) {
	for i := range f.stations {
		if f.stations[i].ID == s.ID {
			f.stations[i] = s
			return s, nil
		}
	}
	return station.Station{}, station.ErrNotFound
}

func (f *fakeStations) DeleteStation(ctx context.Context, id uuid.UUID) error {
	_, err := f.GetStation(ctx, id)
	return err
}

type fakeCycles struct {
	cycles []cycle.Cycle
}

func (f *fakeCycles) GetCycles(_ context.Context, flt cycle.Filter, page paging.Request) ([]cycle.Cycle, int, error) {
	return f.cycles, len(f.cycles), nil
}

func (f *fakeCycles) GetCycle(_ context.Context, id uuid.UUID) (cycle.Cycle, error) {
	for _, c := range f.cycles {
		if c.ID == id {
			return c, nil
		}
	}
	return cycle.Cycle{}, cycle.ErrNotFound
}

func (f *fakeCycles) GetCycleByCode(_ context.Context, code string) (cycle.Cycle, error) {
	for _, c := range f.cycles {
		if c.Code == code {
			return c, nil
		}
	}
	return cycle.Cycle{}, cycle.ErrNotFound
}

func (f *fakeCycles) GetAvailableAtStation(_ context.Context, stationID uuid.UUID) ([]cycle.Cycle, error) {
	out := []cycle.Cycle{}
	for _, c := range f.cycles {
		if c.StationID != nil && *c.StationID == stationID && c.Status == cycle.StatusAvailable {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCycles) CreateCycle(_ context.Context, c *cycle.Cycle) error {
	for _, existing := range f.cycles {
		if existing.Code == c.Code {
			return cycle.ErrDuplicateCode
		}
	}
	c.ID = uuid.New()
	c.Status = cycle.StatusAvailable
	f.cycles = append(f.cycles, *c)
	return nil
}

func (f *fakeCycles) UpdateCycle(ctx context.Context, c cycle.Cycle) (cycle.Cycle, error) {
	return c, nil
}

func (f *fakeCycles) SetStatus(ctx context.Context, id uuid.UUID, status cycle.Status) (cycle.Cycle, error) {
	c, err := f.GetCycle(ctx, id)
	if err != nil {
		return c, err
	}
	if c.Status == cycle.StatusInUse {
		return c, cycle.ErrInUse
	}
	c.Status = status
	return c, nil
}

func (f *fakeCycles) DeleteCycle(ctx context.Context, id uuid.UUID) error {
	_, err := f.GetCycle(ctx, id)
	return err
}

type testServer struct {
	api      *API
	users    *fakeUsers
	rides    *fakeRides
	stations *fakeStations
	cycles   *fakeCycles
	tokens   *auth.TokenManager

	spire    station.Station
	rider    user.User
	admin    user.User
	riderTok string
	adminTok string
}

func newTestServer(t *testing.T, opts ...func(*Config)) *testServer {
	t.Helper()
	ts := &testServer{
		users:  newFakeUsers(),
		rides:  &fakeRides{},
		tokens: auth.NewTokenManager("test-secret", time.Hour),
	}
	ts.spire = station.Station{ID: uuid.New(), Name: "Spire", Location: station.NewLocation(53.3498, -6.2603), Active: true}
	ts.stations = &fakeStations{stations: []station.Station{
		ts.spire,
		{ID: uuid.New(), Name: "Trinity", Location: station.NewLocation(53.3438, -6.2546), Active: true},
		{ID: uuid.New(), Name: "Howth", Location: station.NewLocation(53.3870, -6.0650), Active: true},
	}}
	ts.cycles = &fakeCycles{cycles: []cycle.Cycle{
		{ID: uuid.New(), Code: "CYCLE001", StationID: &ts.spire.ID, Status: cycle.StatusAvailable},
		{ID: uuid.New(), Code: "CYCLE002", StationID: &ts.spire.ID, Status: cycle.StatusInUse},
	}}

	ts.rider = ts.users.add(t, "rider@example.com", "password1", user.RoleUser)
	ts.admin = ts.users.add(t, "admin@example.com", "password1", user.RoleAdmin)
	var err error
	ts.riderTok, _, err = ts.tokens.Issue(ts.rider.ID, string(ts.rider.Role))
	require.NoError(t, err)
	ts.adminTok, _, err = ts.tokens.Issue(ts.admin.ID, string(ts.admin.Role))
	require.NoError(t, err)

	cfg := Config{
		Registry:     prometheus.NewRegistry(),
		Authenticate: []gin.HandlerFunc{middleware.LocalAuth(ts.tokens, ts.users)},
		Tokens:       ts.tokens,
	}
	for _, o := range opts {
		o(&cfg)
	}
	ts.api = New(cfg, Deps{
		Rides:    ts.rides,
		Stations: ts.stations,
		Cycles:   ts.cycles,
		Users:    ts.users,
	})
	return ts
}

type result struct {
	Success    bool                `json:"success"`
	Data       json.RawMessage     `json:"data"`
	Message    string              `json:"message"`
	Errors     []apperr.FieldError `json:"errors"`
	Pagination *paging.Meta        `json:"pagination"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, result) {
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
	ts.api.Router().ServeHTTP(w, req)

	var res result
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	}
	return w, res
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
