package transport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sealed-rpc/discovery"
	"sealed-rpc/loadbalance"
)

// Discovered is an Adapter whose endpoint argument is a service name. Each call picks a
// registered endpoint with the balancer, keyed by the caller's access token, and hands
// the call to the adapter for that endpoint's transport.
type Discovered struct {
	registry discovery.Registry
	balancer loadbalance.Balancer
	adapters map[string]Adapter
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[string][]discovery.Endpoint // filled by Watch
}

func NewDiscovered(reg discovery.Registry, bal loadbalance.Balancer, adapters map[string]Adapter, logger *zap.Logger) *Discovered {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovered{
		registry: reg,
		balancer: bal,
		adapters: adapters,
		logger:   logger,
		cache:    make(map[string][]discovery.Endpoint),
	}
}

// Watch keeps the endpoint list of service cached until ctx is done. Without Watch every
// call queries the registry.
func (d *Discovered) Watch(ctx context.Context, service string) error {
	eps, err := d.registry.Discover(ctx, service)
	if err != nil {
		return err
	}
	d.store(service, eps)
	updates := d.registry.Watch(ctx, service)
	go func() {
		for eps := range updates {
			d.logger.Debug("endpoints changed", zap.String("service", service), zap.Int("count", len(eps)))
			d.store(service, eps)
		}
		d.mu.Lock()
		delete(d.cache, service)
		d.mu.Unlock()
	}()
	return nil
}

func (d *Discovered) store(service string, eps []discovery.Endpoint) {
	d.mu.Lock()
	d.cache[service] = eps
	d.mu.Unlock()
}

func (d *Discovered) endpoints(ctx context.Context, service string) ([]discovery.Endpoint, error) {
	d.mu.RLock()
	eps, ok := d.cache[service]
	d.mu.RUnlock()
	if ok {
		return eps, nil
	}
	return d.registry.Discover(ctx, service)
}

func (d *Discovered) RoundTrip(ctx context.Context, service string, meta Metadata, body []byte) ([]byte, error) {
	eps, err := d.endpoints(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("transport: discover %s: %w", service, err)
	}
	ep, err := d.balancer.Pick(meta.AccessToken, eps)
	if err != nil {
		return nil, fmt.Errorf("transport: pick endpoint for %s: %w", service, err)
	}
	kind := ep.Transport
	if kind == "" {
		kind = discovery.TransportTCP
	}
	a, ok := d.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("transport: no adapter for %q endpoints", kind)
	}
	return a.RoundTrip(ctx, ep.Addr, meta, body)
}
