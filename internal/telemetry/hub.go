package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/events"
)

// Hub is the fan-in point every concrete source publishes into. It implements
// Source, RideStateSource and ProfileSource for consumers.
type Hub struct {
	streams   map[Metric]*events.CallbackEvent[Sample]
	rides     *events.CallbackEvent[RideState]
	profiles  *events.CallbackEvent[Profile]
	connected atomic.Bool
	now       func() time.Time
}

var (
	_ Source          = (*Hub)(nil)
	_ RideStateSource = (*Hub)(nil)
	_ ProfileSource   = (*Hub)(nil)
)

func NewHub() *Hub {
	h := &Hub{
		streams:  make(map[Metric]*events.CallbackEvent[Sample], len(AllMetrics)),
		rides:    events.NewCallbackEvent[RideState](true),
		profiles: events.NewCallbackEvent[Profile](true),
		now:      time.Now,
	}
	for _, m := range AllMetrics {
		h.streams[m] = events.NewCallbackEvent[Sample](false)
	}
	return h
}

// SetConnected is called by the owning source when its link goes up or down
func (h *Hub) SetConnected(connected bool) {
	h.connected.Store(connected)
}

func (h *Hub) IsConnected() bool {
	return h.connected.Load()
}

func (h *Hub) Subscribe(metric Metric, fn func(Sample)) func() {
	stream, ok := h.streams[metric]
	if !ok {
		return func() {}
	}
	return stream.Listen(fn)
}

// Publish delivers a reading; a zero Timestamp is stamped with the current time
func (h *Hub) Publish(s Sample) {
	stream, ok := h.streams[s.Metric]
	if !ok {
		return
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = h.now()
	}
	stream.Notify(s)
}

func (h *Hub) SubscribeRideState(fn func(RideState)) func() {
	return h.rides.Listen(fn)
}

func (h *Hub) PublishRideState(r RideState) {
	h.rides.Notify(r)
}

func (h *Hub) SubscribeProfile(fn func(Profile)) func() {
	return h.profiles.Listen(fn)
}

func (h *Hub) PublishProfile(p Profile) {
	h.profiles.Notify(p)
}

// SubscriberCount reports how many consumers listen to metric
func (h *Hub) SubscriberCount(metric Metric) int {
	stream, ok := h.streams[metric]
	if !ok {
		return 0
	}
	return stream.ListenerCount()
}
