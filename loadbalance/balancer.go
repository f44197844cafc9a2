// Package loadbalance picks one dispatcher endpoint per call.
//
// Three strategies are implemented:
//   - RoundRobin:      stateless calls, equal-capacity endpoints
//   - WeightedRandom:  heterogeneous endpoints (different CPU/memory)
//   - ConsistentHash:  session affinity, so an access token keeps reaching the server
//     that holds its session key
package loadbalance

import (
	"errors"
	"fmt"

	"sealed-rpc/discovery"
)

var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer is called before every remote call and must be goroutine-safe.
type Balancer interface {
	// Pick selects one endpoint. key identifies the caller (its access token, or "" before
	// login); strategies without affinity ignore it.
	Pick(key string, endpoints []discovery.Endpoint) (discovery.Endpoint, error)

	// Name returns the strategy name (for logging/config).
	Name() string
}

const (
	StrategyRoundRobin     = "round_robin"
	StrategyWeightedRandom = "weighted_random"
	StrategyConsistentHash = "consistent_hash"
)

// ByName builds a strategy from its configured name.
func ByName(name string) (Balancer, error) {
	switch name {
	case StrategyRoundRobin, "":
		return &RoundRobinBalancer{}, nil
	case StrategyWeightedRandom:
		return &WeightedRandomBalancer{}, nil
	case StrategyConsistentHash:
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
