package bt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeartRate(t *testing.T) {
	hr, err := ParseHeartRate([]byte{0x00, 142})
	require.NoError(t, err)
	assert.Equal(t, 142, hr)

	hr, err = ParseHeartRate([]byte{0x01, 0x2c, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 300, hr)

	_, err = ParseHeartRate([]byte{0x01, 0x2c})
	assert.Error(t, err)
	_, err = ParseHeartRate([]byte{0x00})
	assert.Error(t, err)
}

func TestParseCyclingPower(t *testing.T) {
	p, err := ParseCyclingPower([]byte{0x00, 0x00, 0xfa, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 250, p)

	p, err = ParseCyclingPower([]byte{0x00, 0x00, 0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, -1, p, "power is signed")

	_, err = ParseCyclingPower([]byte{0x00, 0x00, 0xfa})
	assert.Error(t, err)
}

func TestCrankCadence(t *testing.T) {
	var c CrankCadence

	// crank only: revs=10, time=0
	_, ok, err := c.Update([]byte{0x02, 10, 0, 0x00, 0x00})
	require.NoError(t, err)
	assert.False(t, ok, "first reading primes")

	// 2 revs in 1024/1024 s
	rpm, ok, err := c.Update([]byte{0x02, 12, 0, 0x00, 0x04})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 120, rpm)

	// same event time: no new cadence
	_, ok, err = c.Update([]byte{0x02, 12, 0, 0x00, 0x04})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCrankCadence_Rollover(t *testing.T) {
	var c CrankCadence
	_, _, err := c.Update([]byte{0x02, 0xff, 0xff, 0x00, 0xfe})
	require.NoError(t, err)

	// revs 65535 -> 0 and time 0xfe00 -> 0x0200 (1024 ticks later)
	rpm, ok, err := c.Update([]byte{0x02, 0x00, 0x00, 0x00, 0x02})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 60, rpm)
}

func TestCrankCadence_SkipsWheelData(t *testing.T) {
	var c CrankCadence
	_, ok, err := c.Update([]byte{0x01, 1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.False(t, ok, "wheel-only notification")

	_, _, err = c.Update([]byte{0x03, 1, 2, 3, 4, 5, 6, 10})
	assert.Error(t, err)
}

func TestParseIndoorBikeData(t *testing.T) {
	// flags: speed present (bit0 clear), cadence (bit2), power (bit6), heart rate (bit9)
	buf := []byte{
		0x44, 0x02,
		0xc4, 0x09, // 25.00 km/h
		0xb4, 0x00, // 90 rpm
		0xc8, 0x00, // 200 W
		148,
	}
	data, err := ParseIndoorBikeData(buf)
	require.NoError(t, err)
	assert.True(t, data.HasSpeed)
	assert.InDelta(t, 25.0, data.SpeedKmh, 1e-9)
	assert.True(t, data.HasCadence)
	assert.InDelta(t, 90.0, data.CadenceRpm, 1e-9)
	assert.True(t, data.HasPower)
	assert.Equal(t, 200, data.PowerWatts)
	assert.True(t, data.HasHeartRate)
	assert.Equal(t, 148, data.HeartRate)
}

func TestParseIndoorBikeData_SkipsOptionalFields(t *testing.T) {
	// no speed (bit0 set), total distance (bit4), resistance (bit5), power (bit6)
	buf := []byte{
		0x71, 0x00,
		0x10, 0x27, 0x00, // distance
		0x05, 0x00, // resistance
		0x2c, 0x01, // 300 W
	}
	data, err := ParseIndoorBikeData(buf)
	require.NoError(t, err)
	assert.False(t, data.HasSpeed)
	assert.False(t, data.HasCadence)
	assert.True(t, data.HasPower)
	assert.Equal(t, 300, data.PowerWatts)
}

func TestParseIndoorBikeData_Truncated(t *testing.T) {
	_, err := ParseIndoorBikeData([]byte{0x40, 0x00, 0x01})
	assert.Error(t, err)
	_, err = ParseIndoorBikeData([]byte{0x40})
	assert.Error(t, err)
}
