package rtc

import (
	"errors"
	"sync"

	"github.com/isqad/livelook-recorder/internal/telemetry"
)

var (
	ErrNoFreePorts      = errors.New("no free ports")
	errInvalidPortRange = errors.New("invalid port range")
)

// PortsAllocator hands out UDP ports of [rangeStart, rangeEnd] to recorders.
// Ports go in pairs: an even RTP port and the next one, which ffmpeg binds
// for RTCP. A pair stays reserved until Deallocate is called for its RTP port.
type PortsAllocator struct {
	sync.Mutex
	firstPort int
	lastPort  int
	udpPorts  map[int]bool
	reserved  int
}

func NewPortsAllocator(rangeStart, rangeEnd int) (*PortsAllocator, error) {
	if rangeStart <= 0 || rangeEnd > 65535 || rangeEnd < rangeStart {
		return nil, errInvalidPortRange
	}

	firstPort := rangeStart + rangeStart%2
	if firstPort+1 > rangeEnd {
		return nil, errInvalidPortRange
	}

	p := &PortsAllocator{
		firstPort: firstPort,
		udpPorts:  make(map[int]bool, (rangeEnd-firstPort+1)/2),
	}

	for port := firstPort; port+1 <= rangeEnd; port += 2 {
		p.udpPorts[port] = false
		p.lastPort = port
	}

	return p, nil
}

// Allocate reserves the lowest free pair and returns its RTP port.
// The RTCP port is the returned port + 1.
func (p *PortsAllocator) Allocate() (int, error) {
	p.Lock()
	defer p.Unlock()

	for port := p.firstPort; port <= p.lastPort; port += 2 {
		if !p.udpPorts[port] {
			p.udpPorts[port] = true
			p.reserved++
			telemetry.PortsReserved(2 * p.reserved)

			return port, nil
		}
	}

	return 0, ErrNoFreePorts
}

// Deallocate returns the pair of the RTP port to the pool.
// Unknown and free ports are ignored.
func (p *PortsAllocator) Deallocate(port int) {
	p.Lock()
	defer p.Unlock()

	if allocated, ok := p.udpPorts[port]; !ok || !allocated {
		return
	}

	p.udpPorts[port] = false
	p.reserved--
	telemetry.PortsReserved(2 * p.reserved)
}

// Reserved is the number of reserved pairs
func (p *PortsAllocator) Reserved() int {
	p.Lock()
	defer p.Unlock()

	return p.reserved
}

// Available is the number of free pairs
func (p *PortsAllocator) Available() int {
	p.Lock()
	defer p.Unlock()

	return len(p.udpPorts) - p.reserved
}
