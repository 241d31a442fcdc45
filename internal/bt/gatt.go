package bt

import (
	"fmt"
	"sync"
)

// Bluetooth service and characteristic UUIDs for trainer telemetry
const (
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	ServiceUUIDCyclingSpeedCadence = "00001816-0000-1000-8000-00805f9b34fb"
	CharUUIDCSCMeasurement         = "00002a5b-0000-1000-8000-00805f9b34fb"

	ServiceUUIDCyclingPower         = "00001818-0000-1000-8000-00805f9b34fb"
	CharUUIDCyclingPowerMeasurement = "00002a63-0000-1000-8000-00805f9b34fb"

	ServiceUUIDFTMS        = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDIndoorBikeData = "00002ad2-0000-1000-8000-00805f9b34fb"
)

// TelemetryServiceUUIDs are the services that qualify a device during a scan
var TelemetryServiceUUIDs = []string{
	ServiceUUIDFTMS,
	ServiceUUIDCyclingPower,
	ServiceUUIDHeartRate,
	ServiceUUIDCyclingSpeedCadence,
}

// ParseHeartRate decodes a Heart Rate Measurement notification
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
func ParseHeartRate(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("heart rate data too short: %d bytes", len(buf))
	}

	// Bit 0: 0 = UINT8, 1 = UINT16
	if buf[0]&0x01 != 0 {
		if len(buf) < 3 {
			return 0, fmt.Errorf("heart rate UINT16 data too short: %d bytes", len(buf))
		}
		return int(uint16(buf[1]) | uint16(buf[2])<<8), nil
	}
	return int(buf[1]), nil
}

// ParseCyclingPower decodes the instantaneous power of a Cycling Power
// Measurement notification
// See: https://www.bluetooth.com/specifications/specs/cycling-power-service-1-1/
func ParseCyclingPower(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("cycling power data too short: %d bytes", len(buf))
	}
	// Bytes 2-3: Instantaneous Power (SINT16, watts)
	return int(int16(uint16(buf[2]) | uint16(buf[3])<<8)), nil
}

// CrankCadence derives cadence from successive CSC crank readings. The first
// reading only primes it.
// See: https://www.bluetooth.com/specifications/specs/cycling-speed-and-cadence-service-1-0/
type CrankCadence struct {
	mu       sync.Mutex
	lastRevs uint16
	lastTime uint16
	primed   bool
}

// Update consumes a CSC Measurement notification. ok is false when the
// notification carries no usable cadence.
func (c *CrankCadence) Update(buf []byte) (rpm int, ok bool, err error) {
	if len(buf) < 1 {
		return 0, false, fmt.Errorf("CSC data too short: %d bytes", len(buf))
	}

	flags := buf[0]
	offset := 1
	// wheel revolution data: 4 bytes revolutions + 2 bytes event time
	if flags&0x01 != 0 {
		offset += 6
	}
	if flags&0x02 == 0 {
		return 0, false, nil
	}
	if offset+4 > len(buf) {
		return 0, false, fmt.Errorf("CSC data too short for crank data at offset %d", offset)
	}

	revs := uint16(buf[offset]) | uint16(buf[offset+1])<<8
	// 1/1024 second resolution
	eventTime := uint16(buf[offset+2]) | uint16(buf[offset+3])<<8

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.primed {
		c.lastRevs, c.lastTime, c.primed = revs, eventTime, true
		return 0, false, nil
	}

	// uint16 subtraction handles rollover
	revDiff := revs - c.lastRevs
	timeDiff := eventTime - c.lastTime
	c.lastRevs, c.lastTime = revs, eventTime

	if timeDiff == 0 {
		return 0, false, nil
	}
	cadence := float64(revDiff) * 60.0 * 1024.0 / float64(timeDiff)
	if cadence < 0 || cadence > 300 {
		return 0, false, nil
	}
	return int(cadence), true, nil
}

// IndoorBikeData holds the FTMS Indoor Bike Data fields the trainer telemetry
// uses
type IndoorBikeData struct {
	HasSpeed     bool
	HasCadence   bool
	HasPower     bool
	HasHeartRate bool

	SpeedKmh   float64
	CadenceRpm float64
	PowerWatts int
	HeartRate  int
}

// Indoor Bike Data flag bit positions (FTMS 1.0)
const (
	ibdFlagMoreData             = 1 << 0 // inverted: 0 = Instantaneous Speed present
	ibdFlagAverageSpeed         = 1 << 1
	ibdFlagInstantaneousCadence = 1 << 2
	ibdFlagAverageCadence       = 1 << 3
	ibdFlagTotalDistance        = 1 << 4
	ibdFlagResistanceLevel      = 1 << 5
	ibdFlagInstantaneousPower   = 1 << 6
	ibdFlagAveragePower         = 1 << 7
	ibdFlagExpendedEnergy       = 1 << 8
	ibdFlagHeartRate            = 1 << 9
)

// ParseIndoorBikeData decodes an FTMS Indoor Bike Data notification up to the
// heart rate field
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
func ParseIndoorBikeData(buf []byte) (IndoorBikeData, error) {
	var data IndoorBikeData
	if len(buf) < 2 {
		return data, fmt.Errorf("indoor bike data too short: %d bytes", len(buf))
	}

	flags := uint16(buf[0]) | uint16(buf[1])<<8
	r := fieldReader{buf: buf, offset: 2}

	if flags&ibdFlagMoreData == 0 {
		data.HasSpeed = true
		data.SpeedKmh = float64(r.uint16("instantaneous speed")) * 0.01
	}
	if flags&ibdFlagAverageSpeed != 0 {
		r.skip("average speed", 2)
	}
	if flags&ibdFlagInstantaneousCadence != 0 {
		data.HasCadence = true
		data.CadenceRpm = float64(r.uint16("instantaneous cadence")) * 0.5
	}
	if flags&ibdFlagAverageCadence != 0 {
		r.skip("average cadence", 2)
	}
	if flags&ibdFlagTotalDistance != 0 {
		r.skip("total distance", 3)
	}
	if flags&ibdFlagResistanceLevel != 0 {
		r.skip("resistance level", 2)
	}
	if flags&ibdFlagInstantaneousPower != 0 {
		data.HasPower = true
		data.PowerWatts = int(int16(r.uint16("instantaneous power")))
	}
	if flags&ibdFlagAveragePower != 0 {
		r.skip("average power", 2)
	}
	if flags&ibdFlagExpendedEnergy != 0 {
		r.skip("expended energy", 5)
	}
	if flags&ibdFlagHeartRate != 0 {
		data.HasHeartRate = true
		data.HeartRate = int(r.uint8("heart rate"))
	}

	if r.err != nil {
		return IndoorBikeData{}, r.err
	}
	return data, nil
}

// fieldReader walks little-endian fields, remembering the first overrun
type fieldReader struct {
	buf    []byte
	offset int
	err    error
}

func (r *fieldReader) need(field string, n int) bool {
	if r.err != nil {
		return false
	}
	if r.offset+n > len(r.buf) {
		r.err = fmt.Errorf("buffer too short for %s at offset %d", field, r.offset)
		return false
	}
	return true
}

func (r *fieldReader) skip(field string, n int) {
	if r.need(field, n) {
		r.offset += n
	}
}

func (r *fieldReader) uint8(field string) uint8 {
	if !r.need(field, 1) {
		return 0
	}
	v := r.buf[r.offset]
	r.offset++
	return v
}

func (r *fieldReader) uint16(field string) uint16 {
	if !r.need(field, 2) {
		return 0
	}
	v := uint16(r.buf[r.offset]) | uint16(r.buf[r.offset+1])<<8
	r.offset += 2
	return v
}
