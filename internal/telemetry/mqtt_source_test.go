package telemetry

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTSource_Samples(t *testing.T) {
	hub, rec := newRecordingHub()
	s := NewMQTTSource(hub, "trainer/", log.New(io.Discard, "", 0))

	require.NoError(t, s.handle("trainer/power", []byte(" 245\n")))
	require.NoError(t, s.handle("trainer/heart_rate", []byte(`{"value":151}`)))
	require.NoError(t, s.handle("trainer/cadence", []byte("88")))

	assert.Equal(t, []int{245}, rec.values(MetricPower))
	assert.Equal(t, []int{151}, rec.values(MetricHeartRate))
	assert.Equal(t, []int{88}, rec.values(MetricCadence))
}

func TestMQTTSource_KeepsPayloadTimestamp(t *testing.T) {
	hub := NewHub()
	s := NewMQTTSource(hub, "trainer", log.New(io.Discard, "", 0))

	var got Sample
	hub.Subscribe(MetricPower, func(smp Sample) { got = smp })

	require.NoError(t, s.handle("trainer/power", []byte(`{"value":300,"timestamp":"2026-03-01T08:00:05Z"}`)))
	assert.Equal(t, 300, got.Value)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 5, 0, time.UTC), got.Timestamp.UTC())
}

func TestMQTTSource_RideStateAndProfile(t *testing.T) {
	hub := NewHub()
	s := NewMQTTSource(hub, "trainer", log.New(io.Discard, "", 0))

	var states []RideState
	hub.SubscribeRideState(func(r RideState) { states = append(states, r) })
	var profile Profile
	hub.SubscribeProfile(func(p Profile) { profile = p })

	require.NoError(t, s.handle("trainer/ride_state", []byte("RECORDING")))
	require.NoError(t, s.handle("trainer/ride_state", []byte("paused")))
	require.NoError(t, s.handle("trainer/profile", []byte(`{"ftp":265,"max_hr":188,"weight_kg":72.5}`)))

	assert.Equal(t, []RideState{RideRecording, RidePaused}, states)
	assert.Equal(t, Profile{FTP: 265, MaxHR: 188, WeightKg: 72.5}, profile)
}

func TestMQTTSource_RejectsBadMessages(t *testing.T) {
	hub, rec := newRecordingHub()
	s := NewMQTTSource(hub, "trainer", log.New(io.Discard, "", 0))

	assert.Error(t, s.handle("trainer/power", []byte("lots")))
	assert.Error(t, s.handle("trainer/ride_state", []byte("sprinting")))
	assert.Error(t, s.handle("trainer/profile", []byte("{")))
	assert.Error(t, s.handle("other/power", []byte("200")))
	assert.Empty(t, rec.values(MetricPower))
}
