package types

import "fmt"

// FeeTier is a pool fee in hundredths of a basis point, the unit pool
// factories key pools by (500 = 0.05%, 3000 = 0.30%, 10000 = 1%).
type FeeTier uint32

// Common fee tiers.
const (
	FeeTierLow    FeeTier = 500
	FeeTierMedium FeeTier = 3000
	FeeTierHigh   FeeTier = 10000
)

// DefaultFeeTiers is the lookup order used when none is configured.
var DefaultFeeTiers = []FeeTier{FeeTierMedium, FeeTierLow, FeeTierHigh}

// Bps returns the fee in basis points.
func (f FeeTier) Bps() uint32 {
	return uint32(f) / 100
}

func (f FeeTier) String() string {
	return fmt.Sprintf("%d.%02d%%", f/10000, (f%10000)/100)
}
