package acceptance

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticallynull/cycleshare-backend/cycle"
	"github.com/semanticallynull/cycleshare-backend/ride"
	"github.com/semanticallynull/cycleshare-backend/user"
)

func TestRideLifecycle(t *testing.T) {
	ts := NewTestServer(t)

	spire := ts.CreateStation(t, "Spire", 53.3498, -6.2603)
	trinity := ts.CreateStation(t, "Trinity", 53.3438, -6.2546)
	ts.CreateCycle(t, "CYCLE001", spire)
	ts.CreateCycle(t, "CYCLE002", spire)
	_, token := ts.CreateUser(t, "u1@example.com", user.RoleUser)

	// Starting marks the cycle in use and exposes the ride as active.
	w, resp := ts.Do(t, http.MethodPost, "/rides/start", token, map[string]string{
		"cycleId": "CYCLE001", "stationId": spire.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	started := DecodeRide(t, resp)
	assert.Equal(t, "active", started.Status)
	assert.Equal(t, cycle.StatusInUse, ts.Cycle(t, "CYCLE001").Status)

	w, resp = ts.Do(t, http.MethodGet, "/rides/active", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, started.ID, DecodeRide(t, resp).ID)

	// A second start is refused and changes nothing.
	w, resp = ts.Do(t, http.MethodPost, "/rides/start", token, map[string]string{
		"cycleId": "CYCLE002", "stationId": spire.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "rider already has an active ride", resp.Message)
	assert.Equal(t, cycle.StatusAvailable, ts.Cycle(t, "CYCLE002").Status)
	assert.Equal(t, 1, ts.CountRides(t, ride.StatusActive))

	// Ending with a different cycle is refused.
	w, resp = ts.Do(t, http.MethodPost, "/rides/end", token, map[string]string{
		"cycleId": "CYCLE002", "stationId": trinity.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "scanned cycle does not match the active ride", resp.Message)
	assert.Equal(t, cycle.StatusInUse, ts.Cycle(t, "CYCLE001").Status)
	assert.Equal(t, 1, ts.CountRides(t, ride.StatusActive))

	// Ending at another station completes the ride and docks the cycle there.
	w, resp = ts.Do(t, http.MethodPost, "/rides/end", token, map[string]any{
		"cycleId": "CYCLE001", "stationId": trinity.String(),
		"feedback": map[string]any{"rating": 5, "comment": "great"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ended := DecodeRide(t, resp)
	assert.Equal(t, "completed", ended.Status)
	require.NotNil(t, ended.Duration)
	require.NotNil(t, ended.Distance)
	assert.InDelta(t, 0.77, *ended.Distance, 0.05)
	require.NotNil(t, ended.EndStationID)
	assert.Equal(t, trinity, *ended.EndStationID)

	c := ts.Cycle(t, "CYCLE001")
	assert.Equal(t, cycle.StatusAvailable, c.Status)
	require.NotNil(t, c.StationID)
	assert.Equal(t, trinity, *c.StationID)

	w, _ = ts.Do(t, http.MethodGet, "/rides/active", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":null}`, w.Body.String())

	w, resp = ts.Do(t, http.MethodGet, "/rides/history", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, 1, resp.Pagination.Total)

	w, _ = ts.Do(t, http.MethodGet, "/rides/stats", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"totalRides":1`)
}

func TestConcurrentStartsOnOneCycle(t *testing.T) {
	ts := NewTestServer(t)

	spire := ts.CreateStation(t, "Spire", 53.3498, -6.2603)
	ts.CreateCycle(t, "CYCLE001", spire)

	const riders = 8
	tokens := make([]string, riders)
	for i := range tokens {
		_, tokens[i] = ts.CreateUser(t, "rider"+string(rune('a'+i))+"@example.com", user.RoleUser)
	}

	codes := make([]int, riders)
	var wg sync.WaitGroup
	for i := range riders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, _ := ts.Do(t, http.MethodPost, "/rides/start", tokens[i], map[string]string{
				"cycleId": "CYCLE001", "stationId": spire.String(),
			})
			codes[i] = w.Code
		}()
	}
	wg.Wait()

	created := 0
	for _, code := range codes {
		if code == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusBadRequest, code)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, ts.CountRides(t, ride.StatusActive))
	assert.Equal(t, cycle.StatusInUse, ts.Cycle(t, "CYCLE001").Status)
}

func TestConcurrentStartsByOneRider(t *testing.T) {
	ts := NewTestServer(t)

	spire := ts.CreateStation(t, "Spire", 53.3498, -6.2603)
	codes := []string{"CYCLE001", "CYCLE002", "CYCLE003", "CYCLE004"}
	for _, code := range codes {
		ts.CreateCycle(t, code, spire)
	}
	_, token := ts.CreateUser(t, "u1@example.com", user.RoleUser)

	var wg sync.WaitGroup
	for _, code := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts.Do(t, http.MethodPost, "/rides/start", token, map[string]string{
				"cycleId": code, "stationId": spire.String(),
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ts.CountRides(t, ride.StatusActive))
	inUse := 0
	for _, code := range codes {
		if ts.Cycle(t, code).Status == cycle.StatusInUse {
			inUse++
		}
	}
	assert.Equal(t, 1, inUse)
}

func TestCancel(t *testing.T) {
	ts := NewTestServer(t)

	spire := ts.CreateStation(t, "Spire", 53.3498, -6.2603)
	ts.CreateCycle(t, "CYCLE001", spire)
	_, token := ts.CreateUser(t, "u1@example.com", user.RoleUser)

	w, resp := ts.Do(t, http.MethodPost, "/rides/cancel", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no active ride", resp.Message)
	assert.Zero(t, ts.CountRides(t, ride.StatusCancelled))

	w, _ = ts.Do(t, http.MethodPost, "/rides/start", token, map[string]string{
		"cycleId": "CYCLE001", "stationId": spire.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp = ts.Do(t, http.MethodPost, "/rides/cancel", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", DecodeRide(t, resp).Status)
	assert.Zero(t, DecodeRide(t, resp).Cost)

	c := ts.Cycle(t, "CYCLE001")
	assert.Equal(t, cycle.StatusAvailable, c.Status)
	assert.Equal(t, spire, *c.StationID)
}

func TestReconcileRepairsDrift(t *testing.T) {
	ts := NewTestServer(t)

	spire := ts.CreateStation(t, "Spire", 53.3498, -6.2603)
	id := ts.CreateCycle(t, "CYCLE001", spire)
	_, err := ts.DB.Exec("UPDATE cycles SET status = 'in-use' WHERE id = $1", id)
	require.NoError(t, err)

	released, claimed, err := ts.Rides.Reconcile(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 1, released)
	assert.Zero(t, claimed)
	assert.Equal(t, cycle.StatusAvailable, ts.Cycle(t, "CYCLE001").Status)
}
