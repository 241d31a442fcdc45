// Package bt finds and connects BLE trainer sensors and decodes their GATT
// notifications.
package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/ftp-test/internal/go_func_utils"
)

// Found is a scanned device that matched the service filter
type Found struct {
	Address  bluetooth.Address
	Name     string
	Services []string
}

// Manager owns the adapter and the open links
type Manager struct {
	adapter *bluetooth.Adapter
	logger  *log.Logger

	mu       sync.Mutex
	links    map[string]*Link
	scanning bool
	wg       sync.WaitGroup
}

func NewManager(adapter *bluetooth.Adapter, logger *log.Logger) *Manager {
	if adapter == nil {
		panic("BTManager: adapter cannot be nil")
	}
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	return &Manager{
		adapter: adapter,
		logger:  logger,
		links:   make(map[string]*Link),
	}
}

// Enable powers the adapter and starts tracking disconnects
func (m *Manager) Enable() error {
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		if connected {
			m.logger.Printf("BTManager: Device connected: %s", addr)
			return
		}
		m.logger.Printf("BTManager: Device disconnected: %s", addr)
		m.mu.Lock()
		link, ok := m.links[addr]
		delete(m.links, addr)
		m.mu.Unlock()
		if ok {
			link.markDisconnected()
		}
	})
	return m.adapter.Enable()
}

// Scan blocks until a device advertising one of serviceFilter is seen, or ctx
// is done. Matching is case-insensitive on the full 128-bit UUID string.
func (m *Manager) Scan(ctx context.Context, serviceFilter []string) (Found, error) {
	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		return Found{}, errors.New("scan already in progress")
	}
	m.scanning = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.scanning = false
		m.mu.Unlock()
	}()

	filterSet := make(map[string]struct{}, len(serviceFilter))
	for _, f := range serviceFilter {
		filterSet[strings.ToLower(f)] = struct{}{}
	}

	m.logger.Printf("BTManager: Starting scan, filter: %v", serviceFilter)
	found := make(chan Found, 1)
	scanErr := make(chan error, 1)

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			services := make([]string, 0, len(result.ServiceUUIDs()))
			match := len(filterSet) == 0
			for _, uuid := range result.ServiceUUIDs() {
				s := strings.ToLower(uuid.String())
				services = append(services, s)
				if _, ok := filterSet[s]; ok {
					match = true
				}
			}
			if !match {
				return
			}

			name := result.LocalName()
			if name == "" {
				name = "Unknown"
			}
			select {
			case found <- Found{Address: result.Address, Name: name, Services: services}:
				m.logger.Printf("BTManager: Found device: %s (%s) [RSSI: %d]", name, result.Address.String(), result.RSSI)
				if err := adapter.StopScan(); err != nil {
					m.logger.Printf("BTManager: Error stopping scan: %v", err)
				}
			default:
			}
		})
		if err != nil {
			scanErr <- err
		}
	})

	select {
	case f := <-found:
		return f, nil
	case err := <-scanErr:
		return Found{}, fmt.Errorf("scan failed: %w", err)
	case <-ctx.Done():
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("BTManager: Error stopping scan: %v", err)
		}
		return Found{}, ctx.Err()
	}
}

// Connect opens a link to a scanned device and discovers its services
func (m *Manager) Connect(f Found) (*Link, error) {
	addr := f.Address.String()
	m.logger.Printf("BTManager: Attempting to connect to device: %s", addr)

	device, err := m.adapter.Connect(f.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	link, err := newLink(m.logger, f.Name, device)
	if err != nil {
		if dErr := device.Disconnect(); dErr != nil {
			m.logger.Printf("BTManager: Error disconnecting from %s: %v", addr, dErr)
		}
		return nil, err
	}

	m.mu.Lock()
	m.links[addr] = link
	m.mu.Unlock()
	return link, nil
}

// Shutdown disconnects every link and waits for scans to exit
func (m *Manager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")

	m.mu.Lock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	scanning := m.scanning
	m.mu.Unlock()

	for _, l := range links {
		if err := l.Disconnect(); err != nil {
			m.logger.Printf("BTManager: Error disconnecting from %v: %v", l.Address(), err)
		}
	}
	if scanning {
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("BTManager: Error stopping scan: %v", err)
		}
	}
	m.wg.Wait()
	m.logger.Println("BTManager: Shutdown complete")
}
