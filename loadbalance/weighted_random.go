package loadbalance

import (
	"math/rand"

	"sealed-rpc/discovery"
)

// WeightedRandomBalancer picks an endpoint with probability proportional to its weight.
// Endpoints without a positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func weight(ep discovery.Endpoint) int {
	if ep.Weight <= 0 {
		return 1
	}
	return ep.Weight
}

func (b *WeightedRandomBalancer) Pick(_ string, endpoints []discovery.Endpoint) (discovery.Endpoint, error) {
	if len(endpoints) == 0 {
		return discovery.Endpoint{}, ErrNoEndpoints
	}
	total := 0
	for _, ep := range endpoints {
		total += weight(ep)
	}
	r := rand.Intn(total)
	for _, ep := range endpoints {
		r -= weight(ep)
		if r < 0 {
			return ep, nil
		}
	}
	return endpoints[len(endpoints)-1], nil
}

func (b *WeightedRandomBalancer) Name() string { return StrategyWeightedRandom }
