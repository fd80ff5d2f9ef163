// Package postage plans, queues and executes postage batch provisioning
// against the Swarm network.
//
// Batch parameters are derived from two independent axes: the amount (per-chunk
// balance, paying for storage duration at the current network price) and the
// depth (2^depth chunk slots, paying for capacity). The planner converts the
// business inputs, days and gigabytes, into those chain-native terms.
package postage

import (
	"math"
)

// BlocksPerDay is the Gnosis chain block cadence postage prices are quoted
// against (5 second block time).
const BlocksPerDay = 17280

// Batch depth bounds supported for creation. Below depth 22 the effective
// utilisation of a batch is not published by the bee reserve; above 34 a
// single batch would outgrow any plan we sell.
const (
	MinDepth uint8 = 22
	MaxDepth uint8 = 34
)

// effectiveGigabytes maps batch depth to the volume a mutable batch can hold
// before its theoretical capacity is at risk, as measured by the Swarm
// research on bucket collisions. Values are in gigabytes.
var effectiveGigabytes = map[uint8]float64{
	22: 4.93,
	23: 17.03,
	24: 44.21,
	25: 102.78,
	26: 225.86,
	27: 480.43,
	28: 1003.83,
	29: 2077.25,
	30: 4278.49,
	31: 8740.51,
	32: 17789.61,
	33: 36045.17,
	34: 72863.05,
}

// Plan is the chain-native shape of a provisioning request.
type Plan struct {
	Depth  uint8
	Amount int64
}

// BZZPrice returns the batch cost in BZZ: amount PLUR per chunk across all
// 2^depth chunk slots, at 16 decimals.
func (p Plan) BZZPrice() float64 {
	return float64(p.Amount) * math.Pow(2, float64(p.Depth)) / 1e16
}

// AmountForDuration returns the per-chunk amount that keeps a batch alive for
// the given number of days at the given per-block storage price.
func AmountForDuration(days int64, pricePerBlock int64) int64 {
	return pricePerBlock * BlocksPerDay * days
}

// DepthForSize returns the smallest depth whose effective volume holds the
// requested gigabytes, saturating at MaxDepth.
func DepthForSize(gigabytes float64) uint8 {
	for depth := MinDepth; depth <= MaxDepth; depth++ {
		if effectiveGigabytes[depth] >= gigabytes {
			return depth
		}
	}
	return MaxDepth
}

// PlanFor sizes a batch for the requested storage volume and lifetime.
func PlanFor(days int64, gigabytes float64, pricePerBlock int64) Plan {
	return Plan{
		Depth:  DepthForSize(gigabytes),
		Amount: AmountForDuration(days, pricePerBlock),
	}
}
