package connectivity

import (
	"context"
	"net"
	"time"
)

// DefaultSignalInterval is how often InterfaceSignal polls the host interfaces
const DefaultSignalInterval = 2 * time.Second

// InterfaceSignal derives the platform online flag from the host network
// interfaces: online while any non-loopback interface is up with an address.
type InterfaceSignal struct {
	interval time.Duration
	detect   func() (bool, error)
}

// NewInterfaceSignal creates a signal polling every interval
func NewInterfaceSignal(interval time.Duration) *InterfaceSignal {
	if interval <= 0 {
		interval = DefaultSignalInterval
	}
	return &InterfaceSignal{interval: interval, detect: hostHasNetwork}
}

// Current implements Signal
func (s *InterfaceSignal) Current() (bool, bool) {
	online, err := s.detect()
	if err != nil {
		return false, false
	}
	return online, true
}

// Watch implements Signal. The channel only carries transitions and is
// closed when ctx is done.
func (s *InterfaceSignal) Watch(ctx context.Context) <-chan bool {
	events := make(chan bool, 1)
	last, known := s.Current()

	go func() {
		defer close(events)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				online, ok := s.Current()
				if !ok || (known && online == last) {
					continue
				}
				last, known = online, true
				select {
				case events <- online:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events
}

func hostHasNetwork() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if len(addrs) > 0 {
			return true, nil
		}
	}
	return false, nil
}
