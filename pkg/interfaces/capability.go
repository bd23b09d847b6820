package interfaces

import "sort"

// Capability names one optional adapter operation.
type Capability string

const (
	CapFetchOrders      Capability = "fetchOrders"
	CapFetchOpenOrders  Capability = "fetchOpenOrders"
	CapFetchPositions   Capability = "fetchPositions"
	CapFetchBalance     Capability = "fetchBalance"
	CapFetchKlines      Capability = "fetchKlines"
	CapFetchPrices      Capability = "fetchPrices"
	CapTestConnectivity Capability = "testConnectivity"
	CapLoadMarkets      Capability = "loadMarkets"
	CapCreateOrder      Capability = "createOrder"
)

// AllCapabilities lists every capability in declaration order.
var AllCapabilities = []Capability{
	CapFetchOrders,
	CapFetchOpenOrders,
	CapFetchPositions,
	CapFetchBalance,
	CapFetchKlines,
	CapFetchPrices,
	CapTestConnectivity,
	CapLoadMarkets,
	CapCreateOrder,
}

// CapabilitySet is fixed at adapter construction.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from caps.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Without returns a copy of s minus caps.
func (s CapabilitySet) Without(caps ...Capability) CapabilitySet {
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	for _, c := range caps {
		delete(out, c)
	}
	return out
}

// List returns the capabilities sorted by name.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
