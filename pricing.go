package relayer

import (
	"fmt"
	"math/big"
)

const (
	// bpsDenominator is the base for tier multipliers.
	bpsDenominator = 10000

	// Gas-limit safety buffer: submittedGas = ceil(gasEstimate * 120 / 100).
	// The limit buffer is orthogonal to the tier price multiplier.
	gasBufferNumerator   = 120
	gasBufferDenominator = 100
)

// ConversionRate converts native-token base units (wei) into stablecoin base
// units as the exact rational Num/Den. The rate is a static approximation,
// not a live oracle; quoted costs are indicative only.
type ConversionRate struct {
	Num *big.Int
	Den *big.Int
}

// NewConversionRate builds a rate from a decimal string of stablecoin units
// per one native token (e.g. "0.10" USD per CRO) and the stablecoin's
// decimals. Wei-to-base-unit scaling (18 decimals) is folded into the rate so
// callers multiply raw wei amounts directly.
func NewConversionRate(stablePerNative string, stableDecimals int) (ConversionRate, error) {
	r, ok := new(big.Rat).SetString(stablePerNative)
	if !ok || r.Sign() <= 0 {
		return ConversionRate{}, fmt.Errorf("invalid conversion rate: %q", stablePerNative)
	}

	// rate = stablePerNative * 10^stableDecimals / 10^18
	num := new(big.Int).Mul(r.Num(), pow10(stableDecimals))
	den := new(big.Int).Mul(r.Denom(), pow10(18))
	return ConversionRate{Num: num, Den: den}, nil
}

// PricingEngine turns a raw gas estimate and the current network gas price
// into a GasQuote. All arithmetic is arbitrary-precision; nothing is rounded
// down in the relayer's disfavor.
type PricingEngine struct {
	rate           ConversionRate
	stableDecimals int
}

// NewPricingEngine creates a pricing engine quoting costs in a stablecoin
// with the given number of decimals.
func NewPricingEngine(rate ConversionRate, stableDecimals int) *PricingEngine {
	return &PricingEngine{rate: rate, stableDecimals: stableDecimals}
}

// Quote prices a call. The tier multiplier scales the gas price; the fixed
// 20% buffer scales the gas limit. Total cost is SubmittedGas *
// AdjustedGasPrice in wei, converted to stablecoin base units rounded up.
func (e *PricingEngine) Quote(gasEstimate, gasPrice *big.Int, tier PriorityTier) GasQuote {
	info := tier.Info()

	adjusted := new(big.Int).Mul(gasPrice, big.NewInt(info.MultiplierBps))
	adjusted.Div(adjusted, big.NewInt(bpsDenominator))

	submitted := BufferGasLimit(gasEstimate)

	costWei := new(big.Int).Mul(submitted, adjusted)
	costStable := e.ToStable(costWei)

	return GasQuote{
		GasEstimate:      new(big.Int).Set(gasEstimate),
		SubmittedGas:     submitted,
		AdjustedGasPrice: adjusted,
		Tier:             tier,
		CostStable:       costStable,
		CostDisplay:      e.FormatStable(costStable),
	}
}

// ToStable converts a wei amount to stablecoin base units, rounding up so an
// underestimate never shorts the relayer.
func (e *PricingEngine) ToStable(wei *big.Int) *big.Int {
	scaled := new(big.Int).Mul(wei, e.rate.Num)
	return ceilDiv(scaled, e.rate.Den)
}

// FormatStable renders stablecoin base units as a fixed-point decimal string
// (e.g. 1234567 with 6 decimals -> "1.234567"). The only place amounts leave
// integer arithmetic, and only for display.
func (e *PricingEngine) FormatStable(baseUnits *big.Int) string {
	r := new(big.Rat).SetFrac(baseUnits, pow10(e.stableDecimals))
	return r.FloatString(e.stableDecimals)
}

// BufferGasLimit applies the fixed 20% gas-limit buffer: ceil(estimate * 1.2).
func BufferGasLimit(gasEstimate *big.Int) *big.Int {
	buffered := new(big.Int).Mul(gasEstimate, big.NewInt(gasBufferNumerator))
	return ceilDiv(buffered, big.NewInt(gasBufferDenominator))
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
