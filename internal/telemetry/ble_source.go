package telemetry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/bt"
)

// ErrNoPowerStream is returned when a connected device measures no power
var ErrNoPowerStream = errors.New("device offers no power measurement")

const bleRetryDelay = 5 * time.Second

// notifier is the part of a bt.Link the source subscribes through
type notifier interface {
	HasService(uuid string) bool
	EnableNotifications(serviceUUID, charUUID string, fn func(buf []byte)) error
}

// BLESource feeds a Hub from one BLE trainer or power meter. It prefers the
// FTMS indoor bike stream and falls back to Cycling Power plus CSC cadence.
type BLESource struct {
	hub     *Hub
	manager *bt.Manager
	logger  *log.Logger
	cadence bt.CrankCadence

	mu   sync.Mutex
	link *bt.Link
}

func NewBLESource(hub *Hub, manager *bt.Manager, logger *log.Logger) *BLESource {
	if hub == nil {
		panic("BLESource: hub cannot be nil")
	}
	if logger == nil {
		panic("BLESource: logger cannot be nil")
	}
	return &BLESource{hub: hub, manager: manager, logger: logger}
}

// Run scans, connects and re-connects until ctx is done
func (s *BLESource) Run(ctx context.Context) {
	for ctx.Err() == nil {
		link, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Printf("BLESource: %v, retrying in %v", err, bleRetryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(bleRetryDelay):
			}
			continue
		}

		select {
		case <-link.Done():
			s.hub.SetConnected(false)
			s.logger.Printf("BLESource: Lost %s, scanning again", link.Name())
		case <-ctx.Done():
			s.hub.SetConnected(false)
			if err := link.Disconnect(); err != nil {
				s.logger.Printf("BLESource: Error disconnecting: %v", err)
			}
			return
		}
	}
}

func (s *BLESource) connect(ctx context.Context) (*bt.Link, error) {
	found, err := s.manager.Scan(ctx, bt.TelemetryServiceUUIDs)
	if err != nil {
		return nil, err
	}
	link, err := s.manager.Connect(found)
	if err != nil {
		return nil, err
	}
	if err := s.attach(link); err != nil {
		if dErr := link.Disconnect(); dErr != nil {
			s.logger.Printf("BLESource: Error disconnecting: %v", dErr)
		}
		return nil, err
	}

	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
	s.logger.Printf("BLESource: Streaming from %s (%s)", link.Name(), link.Address())
	return link, nil
}

// attach subscribes every stream the device offers and marks the hub connected
// once a power stream is live
func (s *BLESource) attach(n notifier) error {
	s.cadence = bt.CrankCadence{}

	hasPower := false
	hasFTMS := false
	if n.HasService(bt.ServiceUUIDFTMS) {
		if err := n.EnableNotifications(bt.ServiceUUIDFTMS, bt.CharUUIDIndoorBikeData, s.onIndoorBikeData); err != nil {
			s.logger.Printf("BLESource: FTMS indoor bike data unavailable: %v", err)
		} else {
			hasPower, hasFTMS = true, true
		}
	}
	if !hasPower && n.HasService(bt.ServiceUUIDCyclingPower) {
		if err := n.EnableNotifications(bt.ServiceUUIDCyclingPower, bt.CharUUIDCyclingPowerMeasurement, s.onCyclingPower); err != nil {
			s.logger.Printf("BLESource: Cycling power unavailable: %v", err)
		} else {
			hasPower = true
		}
	}
	if !hasPower {
		return ErrNoPowerStream
	}

	if n.HasService(bt.ServiceUUIDHeartRate) {
		if err := n.EnableNotifications(bt.ServiceUUIDHeartRate, bt.CharUUIDHeartRateMeasurement, s.onHeartRate); err != nil {
			s.logger.Printf("BLESource: Heart rate unavailable: %v", err)
		}
	}
	if !hasFTMS && n.HasService(bt.ServiceUUIDCyclingSpeedCadence) {
		if err := n.EnableNotifications(bt.ServiceUUIDCyclingSpeedCadence, bt.CharUUIDCSCMeasurement, s.onCSC); err != nil {
			s.logger.Printf("BLESource: Cadence unavailable: %v", err)
		}
	}

	s.hub.SetConnected(true)
	return nil
}

func (s *BLESource) onIndoorBikeData(buf []byte) {
	data, err := bt.ParseIndoorBikeData(buf)
	if err != nil {
		s.logger.Printf("BLESource: Error parsing indoor bike data: %v", err)
		return
	}
	if data.HasPower {
		s.hub.Publish(Sample{Metric: MetricPower, Value: data.PowerWatts})
	}
	if data.HasCadence {
		s.hub.Publish(Sample{Metric: MetricCadence, Value: int(data.CadenceRpm)})
	}
	if data.HasHeartRate && data.HeartRate > 0 {
		s.hub.Publish(Sample{Metric: MetricHeartRate, Value: data.HeartRate})
	}
}

func (s *BLESource) onCyclingPower(buf []byte) {
	power, err := bt.ParseCyclingPower(buf)
	if err != nil {
		s.logger.Printf("BLESource: Error parsing cycling power: %v", err)
		return
	}
	s.hub.Publish(Sample{Metric: MetricPower, Value: power})
}

func (s *BLESource) onHeartRate(buf []byte) {
	hr, err := bt.ParseHeartRate(buf)
	if err != nil {
		s.logger.Printf("BLESource: Error parsing heart rate: %v", err)
		return
	}
	s.hub.Publish(Sample{Metric: MetricHeartRate, Value: hr})
}

func (s *BLESource) onCSC(buf []byte) {
	rpm, ok, err := s.cadence.Update(buf)
	if err != nil {
		s.logger.Printf("BLESource: Error parsing CSC data: %v", err)
		return
	}
	if ok {
		s.hub.Publish(Sample{Metric: MetricCadence, Value: rpm})
	}
}
