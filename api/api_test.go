package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticallynull/cycleshare-backend/cycle"
	"github.com/semanticallynull/cycleshare-backend/user"
)

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w, res := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, res.Success)

	down := newTestServer(t, func(c *Config) {
		c.Health = func(context.Context) error { return errors.New("connection refused") }
	})
	w, res = down.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, res.Success)
}

func TestMetricsBasicAuth(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.MetricsUsername, c.MetricsPassword = "prom", "scrape"
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.api.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	w = httptest.NewRecorder()
	ts.api.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	w, res := ts.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, res.Success)
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	w, res := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "New@Example.com", "password": "secret99", "name": "New Rider",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reg := decode[tokenResponse](t, res.Data)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "new@example.com", reg.User.Email)
	assert.Equal(t, user.RoleUser, reg.User.Role)

	w, res = ts.do(t, http.MethodGet, "/auth/me", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reg.User.ID, decode[userResponse](t, res.Data).ID)

	w, res = ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "new@example.com", "password": "secret99", "name": "Again",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email already registered", res.Message)

	w, _ = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "new@example.com", "password": "secret99",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w, res = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "new@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid email or password", res.Message)

	w, _ = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "nobody@example.com", "password": "secret99",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	w, res := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "not-an-email", "password": "abc",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation failed", res.Message)

	fields := map[string]string{}
	for _, fe := range res.Errors {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "must be at least 6 characters", fields["password"])
	assert.Equal(t, "is required", fields["name"])
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.api.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodGet, "/rides/active", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/rides/active", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/admin/users", ts.riderTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, res := ts.do(t, http.MethodGet, "/admin/users?role=admin", ts.adminTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, 1, res.Pagination.Total)
}

func TestDeactivatedUserIsRejected(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodDelete, "/admin/users/"+ts.rider.ID.String(), ts.adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/users/me", ts.riderTok, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateProfile(t *testing.T) {
	ts := newTestServer(t)

	w, res := ts.do(t, http.MethodPut, "/users/me", ts.riderTok, map[string]string{
		"name": "Renamed", "phone": "+353 1 555 0100",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", decode[userResponse](t, res.Data).Name)
}

func TestSetRole(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodPatch, "/admin/users/"+ts.rider.ID.String()+"/role", ts.adminTok,
		map[string]string{"role": "superuser"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, res := ts.do(t, http.MethodPatch, "/admin/users/"+ts.rider.ID.String()+"/role", ts.adminTok,
		map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.RoleAdmin, decode[userResponse](t, res.Data).Role)

	w, _ = ts.do(t, http.MethodGet, "/admin/users/not-a-uuid", ts.adminTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStations(t *testing.T) {
	ts := newTestServer(t)

	w, res := ts.do(t, http.MethodGet, "/stations", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]stationResponse](t, res.Data), 3)

	w, res = ts.do(t, http.MethodGet, "/stations/nearby?lat=53.3498&lng=-6.2603&radiusKm=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	nearby := decode[[]stationResponse](t, res.Data)
	require.Len(t, nearby, 2)
	assert.Equal(t, "Spire", nearby[0].Name)
	assert.Equal(t, "Trinity", nearby[1].Name)
	require.NotNil(t, nearby[1].DistanceKm)
	assert.InDelta(t, 0.77, *nearby[1].DistanceKm, 0.05)

	w, res = ts.do(t, http.MethodGet, "/stations/nearby?lat=95&lng=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "lat", res.Errors[0].Field)

	w, _ = ts.do(t, http.MethodGet, "/stations/nearby?lng=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, res = ts.do(t, http.MethodGet, "/stations/"+ts.spire.ID.String()+"/cycles", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cycles := decode[[]cycleResponse](t, res.Data)
	require.Len(t, cycles, 1)
	assert.Equal(t, "CYCLE001", cycles[0].Code)

	w, _ = ts.do(t, http.MethodGet, "/stations/00000000-0000-0000-0000-000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminStations(t *testing.T) {
	ts := newTestServer(t)

	body := map[string]any{"name": "Docklands", "latitude": 53.3472, "longitude": -6.2390, "capacity": 12, "type": "private"}
	w, _ := ts.do(t, http.MethodPost, "/admin/stations", ts.riderTok, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, res := ts.do(t, http.MethodPost, "/admin/stations", ts.adminTok, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[stationResponse](t, res.Data)
	assert.Equal(t, "Docklands", created.Name)
	assert.InDelta(t, 53.3472, created.Lat, 1e-9)
	assert.Equal(t, "private", created.Type.String())

	w, _ = ts.do(t, http.MethodPost, "/admin/stations", ts.adminTok, map[string]any{"name": "No coordinates"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodDelete, "/admin/stations/"+created.ID.String(), ts.adminTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCycles(t *testing.T) {
	ts := newTestServer(t)

	w, res := ts.do(t, http.MethodGet, "/cycles/CYCLE002", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cycle.StatusInUse, decode[cycleResponse](t, res.Data).Status)

	w, _ = ts.do(t, http.MethodGet, "/cycles/NOPE", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, res = ts.do(t, http.MethodPost, "/admin/cycles", ts.adminTok, map[string]string{
		"cycleId": "CYCLE003", "stationId": ts.spire.ID.String(), "model": "City 3",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, cycle.StatusAvailable, decode[cycleResponse](t, res.Data).Status)

	w, res = ts.do(t, http.MethodPost, "/admin/cycles", ts.adminTok, map[string]string{"cycleId": "CYCLE003"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "cycle code already exists", res.Message)

	w, _ = ts.do(t, http.MethodPost, "/admin/cycles", ts.adminTok, map[string]string{
		"cycleId": "CYCLE004", "stationId": "00000000-0000-0000-0000-000000000000",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	inUse := ts.cycles.cycles[1]
	w, res = ts.do(t, http.MethodPatch, "/admin/cycles/"+inUse.ID.String()+"/status", ts.adminTok,
		map[string]string{"status": "maintenance"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "cycle is in use", res.Message)

	w, _ = ts.do(t, http.MethodPatch, "/admin/cycles/"+inUse.ID.String()+"/status", ts.adminTok,
		map[string]string{"status": "in-use"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, res = ts.do(t, http.MethodGet, "/admin/cycles?status=available", ts.adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, res.Pagination)

	w, _ = ts.do(t, http.MethodGet, "/admin/cycles?status=stolen", ts.adminTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCycleQR(t *testing.T) {
	ts := newTestServer(t)
	id := ts.cycles.cycles[0].ID.String()

	w, _ := ts.do(t, http.MethodGet, "/admin/cycles/"+id+"/qr?size=128", ts.adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte("\x89PNG"), w.Body.Bytes()[:4])

	w, _ = ts.do(t, http.MethodGet, "/admin/cycles/"+id+"/qr?size=5", ts.adminTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentRoutesOnlyWhenConfigured(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.do(t, http.MethodGet, "/payments/method", ts.riderTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
