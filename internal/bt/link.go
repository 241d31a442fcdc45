package bt

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// ErrLinkClosed is returned by operations on a disconnected link
var ErrLinkClosed = errors.New("bluetooth link closed")

// Link is one connected sensor. Services are discovered once at connect time
// and characteristics lazily per service.
type Link struct {
	address string
	name    string
	device  bluetooth.Device
	logger  *log.Logger

	// bleMu serializes characteristic operations
	bleMu           sync.Mutex
	services        map[string]*bluetooth.DeviceService
	characteristics map[string]*bluetooth.DeviceCharacteristic
	charsDiscovered map[string]bool

	closeOnce sync.Once
	done      chan struct{}
}

func newLink(logger *log.Logger, name string, device bluetooth.Device) (*Link, error) {
	l := &Link{
		address:         device.Address.String(),
		name:            name,
		device:          device,
		logger:          logger,
		services:        make(map[string]*bluetooth.DeviceService),
		characteristics: make(map[string]*bluetooth.DeviceCharacteristic),
		charsDiscovered: make(map[string]bool),
		done:            make(chan struct{}),
	}

	// Discover ALL services at once; discovering single services later
	// interrupts services already in use on some stacks
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("error discovering services: %w", err)
	}
	for i := range services {
		svc := &services[i]
		l.services[strings.ToLower(svc.UUID().String())] = svc
		logger.Printf("BTLink: %s offers service %s", l.address, svc.UUID().String())
	}
	return l, nil
}

func (l *Link) Address() string { return l.address }

func (l *Link) Name() string { return l.name }

// Done is closed once the link is disconnected
func (l *Link) Done() <-chan struct{} { return l.done }

func (l *Link) IsConnected() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *Link) HasService(uuid string) bool {
	l.bleMu.Lock()
	defer l.bleMu.Unlock()
	_, ok := l.services[strings.ToLower(uuid)]
	return ok
}

// EnableNotifications subscribes fn to a characteristic
func (l *Link) EnableNotifications(serviceUUID, charUUID string, fn func(buf []byte)) error {
	if !l.IsConnected() {
		return ErrLinkClosed
	}

	l.bleMu.Lock()
	defer l.bleMu.Unlock()

	char, err := l.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(fn); err != nil {
		return fmt.Errorf("failed to enable notifications on %s: %w", charUUID, err)
	}
	l.logger.Printf("BTLink: Notifications enabled for %s on %s", charUUID, l.address)
	return nil
}

// Disconnect drops the connection. Safe to call more than once.
func (l *Link) Disconnect() error {
	if !l.IsConnected() {
		return nil
	}
	err := l.device.Disconnect()
	l.markDisconnected()
	return err
}

func (l *Link) markDisconnected() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.logger.Printf("BTLink: %s disconnected", l.address)
	})
}

func (l *Link) characteristic(serviceUUID, charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	serviceKey := strings.ToLower(serviceUUID)
	key := serviceKey + "_" + strings.ToLower(charUUID)
	if char, ok := l.characteristics[key]; ok {
		return char, nil
	}

	svc, ok := l.services[serviceKey]
	if !ok {
		return nil, fmt.Errorf("service %v not found on device", serviceUUID)
	}

	if !l.charsDiscovered[serviceKey] {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("could not discover characteristics for service %v: %w", serviceUUID, err)
		}
		for i := range chars {
			c := &chars[i]
			l.characteristics[serviceKey+"_"+strings.ToLower(c.UUID().String())] = c
		}
		l.charsDiscovered[serviceKey] = true
	}

	char, ok := l.characteristics[key]
	if !ok {
		return nil, fmt.Errorf("characteristic %v not found in service %v", charUUID, serviceUUID)
	}
	return char, nil
}
