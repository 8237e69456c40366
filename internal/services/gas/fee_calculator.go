package gas

import (
	"fmt"
	"math/big"
	"slices"
	"strings"
)

// Urgency represents how quickly a swap should be included
type Urgency uint8

const (
	// UrgencyLow uses the p50 (median) priority fee - non-urgent swaps
	UrgencyLow Urgency = iota
	// UrgencyMedium uses the p75 priority fee - normal swaps
	UrgencyMedium
	// UrgencyHigh uses the p90 priority fee - time-sensitive
	UrgencyHigh
	// UrgencyExtreme uses the p99 priority fee - contested blocks
	UrgencyExtreme
)

// minPriorityFeeWei is the tip floor (0.001 gwei).
const minPriorityFeeWei = 1_000_000

func ParseUrgency(s string) (Urgency, error) {
	switch strings.ToLower(s) {
	case "low":
		return UrgencyLow, nil
	case "", "medium":
		return UrgencyMedium, nil
	case "high":
		return UrgencyHigh, nil
	case "extreme":
		return UrgencyExtreme, nil
	default:
		return UrgencyMedium, fmt.Errorf("unknown gas urgency %q", s)
	}
}

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	case UrgencyExtreme:
		return "extreme"
	default:
		return "UNKNOWN"
	}
}

// Percentile returns the priority fee percentile used for each urgency level
func (u Urgency) Percentile() int {
	switch u {
	case UrgencyLow:
		return 50
	case UrgencyMedium:
		return 75
	case UrgencyHigh:
		return 90
	case UrgencyExtreme:
		return 99
	default:
		return 75
	}
}

// calculatePercentile returns the value at the given percentile of sorted
// using linear interpolation between the closest ranks.
func calculatePercentile(sorted []uint64, percentile int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	if percentile <= 0 {
		return sorted[0]
	}
	if percentile >= 100 {
		return sorted[len(sorted)-1]
	}

	k := float64(percentile) / 100.0 * float64(len(sorted)-1)
	f := int(k)
	c := f + 1
	if c >= len(sorted) {
		c = len(sorted) - 1
	}

	d := k - float64(f)
	return uint64(float64(sorted[f])*(1-d) + float64(sorted[c])*d)
}

// priorityFee reduces per-block reward samples to one tip. Each block's reward
// is already the urgency percentile of that block; the median across blocks
// smooths out single-block spikes.
func priorityFee(rewards [][]*big.Int) uint64 {
	fees := make([]uint64, 0, len(rewards))
	for _, block := range rewards {
		if len(block) == 0 || block[0] == nil || !block[0].IsUint64() {
			continue
		}
		if fee := block[0].Uint64(); fee > 0 {
			fees = append(fees, fee)
		}
	}
	if len(fees) == 0 {
		return minPriorityFeeWei
	}
	slices.Sort(fees)
	return max(calculatePercentile(fees, 50), minPriorityFeeWei)
}
