// Package discovery publishes and finds dispatcher endpoints.
//
// A server registers one Endpoint per advertised address under a service name; clients
// Discover or Watch the service and pick an endpoint with a loadbalance.Balancer.
package discovery

import (
	"context"
	"sort"
	"sync"
)

// Endpoint is one reachable dispatcher.
type Endpoint struct {
	Addr      string `json:"addr"`
	Transport string `json:"transport"` // "tcp" or "http"
	Weight    int    `json:"weight"`    // for weighted load balancing
	Version   string `json:"version,omitempty"`
}

const (
	TransportTCP  = "tcp"
	TransportHTTP = "http"
)

type Registry interface {
	Register(ctx context.Context, service string, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	// Watch emits the full endpoint list after every change until ctx is done.
	Watch(ctx context.Context, service string) <-chan []Endpoint
}

// Static is an in-process Registry. TTLs are ignored.
type Static struct {
	mu       sync.Mutex
	services map[string]map[string]Endpoint
	watchers map[string][]chan []Endpoint
}

func NewStatic() *Static {
	return &Static{
		services: make(map[string]map[string]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
}

func (s *Static) Register(_ context.Context, service string, ep Endpoint, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.services[service] == nil {
		s.services[service] = make(map[string]Endpoint)
	}
	s.services[service][ep.Addr] = ep
	s.notify(service)
	return nil
}

func (s *Static) Deregister(_ context.Context, service string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services[service], addr)
	s.notify(service)
	return nil
}

func (s *Static) Discover(_ context.Context, service string) ([]Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(service), nil
}

func (s *Static) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	s.mu.Lock()
	s.watchers[service] = append(s.watchers[service], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		ws := s.watchers[service]
		for i, w := range ws {
			if w == ch {
				s.watchers[service] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify must be called with s.mu held. A slow watcher only ever sees the latest list.
func (s *Static) notify(service string) {
	list := s.list(service)
	for _, ch := range s.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}

func (s *Static) list(service string) []Endpoint {
	out := make([]Endpoint, 0, len(s.services[service]))
	for _, ep := range s.services[service] {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
