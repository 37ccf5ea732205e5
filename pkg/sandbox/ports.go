package sandbox

import (
	"fmt"
	"net"
)

// PortAllocator hands out host ports from a fixed range. A project's
// previously recorded port is reused when it is still bindable; otherwise
// the range is scanned, skipping ports recorded for other projects and any
// port the OS refuses to bind. Exhaustion is a hard failure — callers retry
// at the run level.
type PortAllocator struct {
	registry *Registry
	start    int
	end      int
}

func NewPortAllocator(registry *Registry, start, end int) (*PortAllocator, error) {
	if start <= 0 || end < start {
		return nil, fmt.Errorf("invalid sandbox port range [%d, %d]", start, end)
	}
	return &PortAllocator{registry: registry, start: start, end: end}, nil
}

// Allocate picks a host port for the project. The returned port is inside
// the configured range and was bindable at allocation time; a racing
// neighbor can still win the port before the container start, which then
// surfaces as a container start failure.
func (a *PortAllocator) Allocate(projectID string) (int, error) {
	if prior := a.registry.Get(projectID); prior != nil &&
		prior.HostPort >= a.start && prior.HostPort <= a.end && portBindable(prior.HostPort) {
		return prior.HostPort, nil
	}

	taken := a.registry.AllocatedPorts(projectID)
	for port := a.start; port <= a.end; port++ {
		if _, used := taken[port]; used {
			continue
		}
		if portBindable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("sandbox port range [%d, %d] exhausted", a.start, a.end)
}

func portBindable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}
