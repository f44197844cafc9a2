package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"sealed-rpc/discovery"
)

// ConsistentHashBalancer maps keys to endpoints using a hash ring.
// The same key always maps to the same endpoint until the endpoint set changes, and
// a change only moves the keys of the endpoints that came or went.
//
// Virtual nodes: each real endpoint is placed on the ring N times so that a handful of
// endpoints still splits the key space evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.RWMutex
	sig   string   // endpoint set the ring was built from
	ring  []uint32 // sorted hash values
	nodes map[uint32]discovery.Endpoint
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

func signature(endpoints []discovery.Endpoint) string {
	addrs := make([]string, len(endpoints))
	for i, ep := range endpoints {
		addrs[i] = ep.Addr
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

// rebuild places every endpoint on a fresh ring. Each virtual node is hashed from
// "{addr}#{i}".
func (b *ConsistentHashBalancer) rebuild(sig string, endpoints []discovery.Endpoint) {
	ring := make([]uint32, 0, len(endpoints)*b.replicas)
	nodes := make(map[uint32]discovery.Endpoint, len(endpoints)*b.replicas)
	for _, ep := range endpoints {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.Addr, i)))
			ring = append(ring, hash)
			nodes[hash] = ep
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })
	b.sig, b.ring, b.nodes = sig, ring, nodes
}

// Pick hashes key and binary-searches for the first node >= hash, wrapping around to
// the first node past the end of the ring.
func (b *ConsistentHashBalancer) Pick(key string, endpoints []discovery.Endpoint) (discovery.Endpoint, error) {
	if len(endpoints) == 0 {
		return discovery.Endpoint{}, ErrNoEndpoints
	}
	sig := signature(endpoints)

	b.mu.RLock()
	stale := sig != b.sig
	b.mu.RUnlock()
	if stale {
		b.mu.Lock()
		if sig != b.sig {
			b.rebuild(sig, endpoints)
		}
		b.mu.Unlock()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string { return StrategyConsistentHash }
