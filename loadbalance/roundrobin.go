package loadbalance

import (
	"sync/atomic"

	"sealed-rpc/discovery"
)

// RoundRobinBalancer cycles through endpoints with a lock-free atomic counter.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(_ string, endpoints []discovery.Endpoint) (discovery.Endpoint, error) {
	if len(endpoints) == 0 {
		return discovery.Endpoint{}, ErrNoEndpoints
	}
	index := (b.counter.Add(1) - 1) % uint64(len(endpoints))
	return endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string { return StrategyRoundRobin }
