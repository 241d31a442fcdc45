package telemetry

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimulator(t *testing.T) (*Simulator, *Hub, *sampleRecorder) {
	t.Helper()
	hub, rec := newRecordingHub()
	hub.SetConnected(true)
	sim := NewSimulator(hub, SimulatorConfig{Power: 200, HeartRate: 130, Cadence: 90}, log.New(io.Discard, "", 0))
	return sim, hub, rec
}

func TestSimulator_Emit(t *testing.T) {
	sim, hub, rec := newTestSimulator(t)

	sim.Emit()
	assert.Equal(t, []int{200}, rec.values(MetricPower))
	assert.Equal(t, []int{130}, rec.values(MetricHeartRate))
	assert.Equal(t, []int{90}, rec.values(MetricCadence))

	hub.SetConnected(false)
	sim.Emit()
	assert.Len(t, rec.values(MetricPower), 1, "nothing is sent while disconnected")
}

func TestSimulator_EmitJitterStaysInRange(t *testing.T) {
	hub, rec := newRecordingHub()
	hub.SetConnected(true)
	sim := NewSimulator(hub, SimulatorConfig{Power: 200, Jitter: 5}, log.New(io.Discard, "", 0))

	for i := 0; i < 50; i++ {
		sim.Emit()
	}
	for _, p := range rec.values(MetricPower) {
		assert.GreaterOrEqual(t, p, 195)
		assert.LessOrEqual(t, p, 205)
	}
	assert.Empty(t, rec.values(MetricHeartRate), "zero heart rate is not sent")
}

func TestSimulator_SetAPI(t *testing.T) {
	sim, hub, rec := newTestSimulator(t)
	router := sim.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/set?power=310&cadence=95", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	sim.Emit()
	assert.Equal(t, []int{310}, rec.values(MetricPower))
	assert.Equal(t, []int{95}, rec.values(MetricCadence))
	assert.Equal(t, []int{130}, rec.values(MetricHeartRate))

	req = httptest.NewRequest(http.MethodPost, "/api/set?connected=false", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, hub.IsConnected())
}

func TestSimulator_SetAPIRejectsBadValues(t *testing.T) {
	sim, _, _ := newTestSimulator(t)
	router := sim.Router()

	for _, target := range []string{"/api/set?power=lots", "/api/set?cadence=-1", "/api/set?connected=maybe"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
	assert.Equal(t, 200, sim.State().Power)
}

func TestSimulator_RideAPI(t *testing.T) {
	sim, hub, _ := newTestSimulator(t)
	router := sim.Router()

	var states []RideState
	hub.SubscribeRideState(func(r RideState) { states = append(states, r) })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/ride/recording", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/ride/cruising", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, []RideState{RideRecording}, states)
}

func TestSimulator_StateAPI(t *testing.T) {
	sim, _, _ := newTestSimulator(t)
	sim.SetRideState(RidePaused)

	rr := httptest.NewRecorder()
	sim.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got SimulatorState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, SimulatorState{Power: 200, HeartRate: 130, Cadence: 90, Connected: true, RideState: "PAUSED"}, got)
}
