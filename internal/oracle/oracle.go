// Package oracle maintains cumulative price observations per asset pair and
// serves windowed time-weighted averages. Prices are UQ112x112 fractions;
// cumulative integrals wrap mod 2^256 and timestamps wrap mod 2^32, so all
// consumers difference values instead of comparing absolutes.
package oracle

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammcore/internal/fixedpoint"
)

const (
	// DefaultMinWindow is the minimum consult window and the elapsed time
	// beyond which price deviations become rejections, in seconds.
	DefaultMinWindow uint64 = 600

	// DefaultMaxDeviationBps is the circuit-breaker threshold (10%).
	DefaultMaxDeviationBps uint64 = 1000

	// q112Shift scales raw reserve ratios into UQ112x112 fractions.
	q112Shift = 112
)

var (
	ErrZeroReserves     = errors.New("oracle update with zero reserves")
	ErrPriceDeviation   = errors.New("price deviation exceeds circuit breaker")
	ErrNoObservation    = errors.New("no prior observation for pair")
	ErrWindowTooShort   = errors.New("consult window below minimum")
	ErrWindowNotElapsed = errors.New("consult window has not elapsed")
)

// point is a cumulative-price sample at one timestamp.
type point struct {
	price0Cum *uint256.Int
	price1Cum *uint256.Int
	timestamp uint32
}

// observation is the per-pair oracle state: the latest committed sample, the
// reserves that have prevailed since it, and a trailing reference sample at
// least one window old once enough time has passed.
type observation struct {
	last     point
	reserve0 *uint256.Int
	reserve1 *uint256.Int
	ref      point
}

// Oracle accumulates observations for any number of pairs.
type Oracle struct {
	minWindow       uint64
	maxDeviationBps uint64
	observations    map[common.Hash]*observation
	logger          *zap.Logger
}

// New builds an Oracle with the default window and deviation threshold.
func New(logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		minWindow:       DefaultMinWindow,
		maxDeviationBps: DefaultMaxDeviationBps,
		observations:    make(map[common.Hash]*observation),
		logger:          logger,
	}
}

// MinWindow reports the minimum consult window in seconds.
func (o *Oracle) MinWindow() uint64 {
	return o.minWindow
}

// spotPrice returns reserveQuote/reserveBase as a UQ112x112 fraction.
func spotPrice(reserveQuote, reserveBase *uint256.Int) *uint256.Int {
	num := new(uint256.Int).Lsh(reserveQuote, q112Shift)
	return num.Div(num, reserveBase)
}

// elapsedSince returns now-then in wrap-tolerant uint32 arithmetic.
func elapsedSince(now uint64, then uint32) uint64 {
	return uint64(uint32(now) - then)
}

// Update folds a reserve change into the pair's cumulative prices.
//
// A second call within the same second is a no-op. A relative move of the
// spot price beyond the deviation threshold is rejected once the elapsed time
// reaches the minimum window; below the window it is alerted and committed,
// since short-window volatility is expected.
func (o *Oracle) Update(pair common.Hash, reserve0, reserve1 *uint256.Int, now uint64) error {
	if reserve0 == nil || reserve1 == nil || reserve0.IsZero() || reserve1.IsZero() {
		return ErrZeroReserves
	}

	obs, ok := o.observations[pair]
	if !ok {
		initial := point{
			price0Cum: uint256.NewInt(0),
			price1Cum: uint256.NewInt(0),
			timestamp: uint32(now),
		}
		o.observations[pair] = &observation{
			last:     initial,
			reserve0: new(uint256.Int).Set(reserve0),
			reserve1: new(uint256.Int).Set(reserve1),
			ref:      initial,
		}
		return nil
	}

	elapsed := elapsedSince(now, obs.last.timestamp)
	if elapsed == 0 {
		return nil
	}

	// The stored reserves priced the pair for the whole elapsed interval.
	weight := uint256.NewInt(elapsed)
	accrued0 := new(uint256.Int).Mul(spotPrice(obs.reserve1, obs.reserve0), weight)
	accrued1 := new(uint256.Int).Mul(spotPrice(obs.reserve0, obs.reserve1), weight)
	newCum0 := fixedpoint.WrappingAdd(obs.last.price0Cum, accrued0)
	newCum1 := fixedpoint.WrappingAdd(obs.last.price1Cum, accrued1)

	avg := o.windowedAverage(obs, newCum0, now)
	spotNew := spotPrice(reserve1, reserve0)
	devBps := deviationBps(spotNew, avg)
	if devBps > o.maxDeviationBps {
		if elapsed >= o.minWindow {
			return ErrPriceDeviation
		}
		o.logger.Warn("price deviation within observation window",
			zap.String("pair", pair.Hex()),
			zap.Uint64("deviation_bps", devBps),
			zap.Uint64("elapsed", elapsed),
		)
	}

	prev := obs.last
	obs.last = point{price0Cum: newCum0, price1Cum: newCum1, timestamp: uint32(now)}
	obs.reserve0 = new(uint256.Int).Set(reserve0)
	obs.reserve1 = new(uint256.Int).Set(reserve1)

	// Rotate the reference once it trails by a full window, keeping consults
	// anchored roughly one window in the past.
	if elapsedSince(now, obs.ref.timestamp) >= o.minWindow {
		obs.ref = prev
	}
	return nil
}

// windowedAverage returns the time-weighted average price of asset0 between
// the reference sample and now. Falls back to the stored spot price when no
// time has passed since the reference.
func (o *Oracle) windowedAverage(obs *observation, cumNow0 *uint256.Int, now uint64) *uint256.Int {
	span := elapsedSince(now, obs.ref.timestamp)
	if span == 0 {
		return spotPrice(obs.reserve1, obs.reserve0)
	}
	diff := fixedpoint.WrappingSub(cumNow0, obs.ref.price0Cum)
	return diff.Div(diff, uint256.NewInt(span))
}

// deviationBps returns |a-b|/b in basis points; zero baseline reports no
// deviation so a first meaningful average never trips the breaker.
func deviationBps(a, b *uint256.Int) uint64 {
	if b.IsZero() {
		return 0
	}
	var diff *uint256.Int
	if a.Gt(b) {
		diff = new(uint256.Int).Sub(a, b)
	} else {
		diff = new(uint256.Int).Sub(b, a)
	}
	diff.Mul(diff, uint256.NewInt(fixedpoint.BpsDenominator))
	diff.Div(diff, b)
	if !diff.IsUint64() {
		return ^uint64(0)
	}
	return diff.Uint64()
}

// Consult returns the time-weighted average prices for both directions over
// at least the requested window. Callers never receive a silently narrowed
// average: a window below the minimum, or one that has not fully elapsed
// since the reference observation, is an error.
func (o *Oracle) Consult(pair common.Hash, window, now uint64) (price0, price1 *uint256.Int, err error) {
	if window < o.minWindow {
		return nil, nil, ErrWindowTooShort
	}
	obs, ok := o.observations[pair]
	if !ok {
		return nil, nil, ErrNoObservation
	}
	span := elapsedSince(now, obs.ref.timestamp)
	if span < window {
		return nil, nil, ErrWindowNotElapsed
	}

	// Extrapolate the cumulative to now using the reserves in force since
	// the last committed sample.
	sinceLast := uint256.NewInt(elapsedSince(now, obs.last.timestamp))
	cum0 := fixedpoint.WrappingAdd(obs.last.price0Cum,
		new(uint256.Int).Mul(spotPrice(obs.reserve1, obs.reserve0), sinceLast))
	cum1 := fixedpoint.WrappingAdd(obs.last.price1Cum,
		new(uint256.Int).Mul(spotPrice(obs.reserve0, obs.reserve1), sinceLast))

	spanInt := uint256.NewInt(span)
	price0 = fixedpoint.WrappingSub(cum0, obs.ref.price0Cum)
	price0.Div(price0, spanInt)
	price1 = fixedpoint.WrappingSub(cum1, obs.ref.price1Cum)
	price1.Div(price1, spanInt)
	return price0, price1, nil
}

// Observed reports whether the pair has a prior observation.
func (o *Oracle) Observed(pair common.Hash) bool {
	_, ok := o.observations[pair]
	return ok
}

// State exposes the raw per-pair accumulator values for persistence.
func (o *Oracle) State(pair common.Hash) (price0Cum, price1Cum *uint256.Int, timestamp uint32, ok bool) {
	obs, found := o.observations[pair]
	if !found {
		return nil, nil, 0, false
	}
	return new(uint256.Int).Set(obs.last.price0Cum), new(uint256.Int).Set(obs.last.price1Cum), obs.last.timestamp, true
}
