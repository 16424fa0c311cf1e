// Package fixedpoint implements the signed/unsigned fixed-point decimals
// spec.md §4.1 requires: 18 fractional digits, saturating overflow
// discipline, explicit rounding policy, and a base/quote price-quotient
// type system. Generalized from the teacher's int128-via-big.Int approach
// (PerpLedger's internal/math/fixedpoint.go) which pooled *big.Int for
// scale-100/1e6/1e8 quantities; here a single 18-decimal scale is used
// throughout and the backing integer is carried as a pooled *big.Int
// rather than int64, since 18 fractional digits leaves no headroom for
// realistic monetary magnitudes in a 64-bit mantissa.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// DecimalPlaces is the fractional precision mandated by spec.md §4.1.
const DecimalPlaces = 18

// Scale is 10^18, the denominator implied by DecimalPlaces.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalPlaces), nil)

// ErrNumericOverflow and ErrNumericDomain are the two arithmetic error
// kinds named in spec.md §7.
var (
	ErrNumericOverflow = errors.New("fixedpoint: NumericOverflow")
	ErrNumericDomain   = errors.New("fixedpoint: NumericDomain")
)

// maxBits bounds the magnitude a Decimal's raw integer may reach before an
// operation is rejected as overflowing. 256 bits of scaled value comfortably
// covers any realistic notional while still catching runaway computation.
const maxBits = 256

var bigPool = sync.Pool{
	New: func() interface{} { return new(big.Int) },
}

func getBig() *big.Int  { return bigPool.Get().(*big.Int) }
func putBig(b *big.Int) { b.SetInt64(0); bigPool.Put(b) }

// RoundingMode selects how a division's remainder is resolved.
type RoundingMode int

const (
	// RoundHalfEven is banker's rounding, spec.md §4.1's display default.
	RoundHalfEven RoundingMode = iota
	// RoundTowardPoolDebit rounds a user debit up (spec.md §4.1: "debits
	// to trader round up").
	RoundTowardPoolDebit
	// RoundTowardPoolCredit rounds a user credit down ("credits round
	// down").
	RoundTowardPoolCredit
)

// Decimal is a signed, 18-decimal fixed-point number: raw / Scale.
type Decimal struct {
	raw *big.Int // nil is treated as zero
}

// Zero is the additive identity.
var Zero = Decimal{}

// FromInt64 builds a Decimal from a whole-unit int64 (e.g. FromInt64(5) == 5.0).
func FromInt64(whole int64) Decimal {
	r := new(big.Int).Mul(big.NewInt(whole), Scale)
	return Decimal{raw: r}
}

// FromRaw builds a Decimal directly from its scaled integer representation
// (raw = value * 10^18), e.g. for decoding persisted state.
func FromRaw(raw *big.Int) Decimal {
	return Decimal{raw: new(big.Int).Set(raw)}
}

// FromRawInt64 is a convenience for raw values that fit in an int64.
func FromRawInt64(raw int64) Decimal {
	return Decimal{raw: big.NewInt(raw)}
}

func (d Decimal) bigOrZero() *big.Int {
	if d.raw == nil {
		return big.NewInt(0)
	}
	return d.raw
}

// Raw returns the underlying scaled integer (a defensive copy).
func (d Decimal) Raw() *big.Int {
	return new(big.Int).Set(d.bigOrZero())
}

// ledgerScaleDivisor narrows an 18-decimal raw value down to a micro-unit
// (1e6) fixed-point scale: 1.0 collateral unit is 1e18 raw, too large for
// the ledger/event log's int64 fields, so bookkeeping-layer consumers
// (internal/ledger, internal/core, internal/event) truncate through here
// rather than each re-deriving the divisor.
var ledgerScaleDivisor = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalPlaces-6), nil)

// ToLedgerMicros truncates d to the conventional ledger/event-log precision
// (6 decimal places) and returns it as an int64. Magnitudes beyond int64
// range saturate to MaxInt64/MinInt64 rather than wrapping.
func ToLedgerMicros(d Decimal) int64 {
	micros := new(big.Int).Quo(d.bigOrZero(), ledgerScaleDivisor)
	if !micros.IsInt64() {
		if micros.Sign() < 0 {
			return -1 << 63
		}
		return 1<<63 - 1
	}
	return micros.Int64()
}

// FromLedgerMicros is ToLedgerMicros's inverse: it widens a 6-decimal
// ledger/event-log amount back into an 18-decimal Decimal.
func FromLedgerMicros(micros int64) Decimal {
	return Decimal{raw: new(big.Int).Mul(big.NewInt(micros), ledgerScaleDivisor)}
}

func (d Decimal) checkOverflow() error {
	if d.raw != nil && d.raw.BitLen() > maxBits {
		return fmt.Errorf("%w: magnitude exceeds %d bits", ErrNumericOverflow, maxBits)
	}
	return nil
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) (Decimal, error) {
	r := new(big.Int).Add(d.bigOrZero(), other.bigOrZero())
	out := Decimal{raw: r}
	return out, out.checkOverflow()
}

// Sub returns d - other.
func (d Decimal) Sub(other Decimal) (Decimal, error) {
	r := new(big.Int).Sub(d.bigOrZero(), other.bigOrZero())
	out := Decimal{raw: r}
	return out, out.checkOverflow()
}

// Neg returns -d.
func (d Decimal) Neg() Decimal {
	return Decimal{raw: new(big.Int).Neg(d.bigOrZero())}
}

// Mul returns d * other, re-scaled back to 18 decimals.
func (d Decimal) Mul(other Decimal) (Decimal, error) {
	prod := getBig()
	defer putBig(prod)
	prod.Mul(d.bigOrZero(), other.bigOrZero())

	q, r := new(big.Int), new(big.Int)
	q.DivMod(prod, Scale, r)
	applyRounding(q, r, Scale, RoundHalfEven, prod.Sign() < 0)

	out := Decimal{raw: q}
	return out, out.checkOverflow()
}

// Div returns d / other with the given rounding policy. Division by zero
// is a NumericDomain error (spec.md §4.1).
func (d Decimal) Div(other Decimal, mode RoundingMode) (Decimal, error) {
	if other.IsZero() {
		return Zero, fmt.Errorf("%w: division by zero", ErrNumericDomain)
	}

	numerator := getBig()
	defer putBig(numerator)
	numerator.Mul(d.bigOrZero(), Scale)

	q, r := new(big.Int), new(big.Int)
	q.DivMod(numerator, other.bigOrZero(), r)
	applyRounding(q, r, other.bigOrZero(), mode, numerator.Sign() < 0)

	out := Decimal{raw: q}
	return out, out.checkOverflow()
}

// applyRounding mutates q in place according to mode, given the remainder r
// from a non-negative DivMod (Go's big.Int.DivMod is Euclidean: 0 <= r < |denom|).
func applyRounding(q, r, denom *big.Int, mode RoundingMode, negative bool) {
	if r.Sign() == 0 {
		return
	}

	switch mode {
	case RoundTowardPoolDebit:
		// A debit from the user rounds up in the pool's favor.
		if !negative {
			q.Add(q, big.NewInt(1))
		}
	case RoundTowardPoolCredit:
		// A credit to the user rounds down — with a positive divisor the
		// Euclidean DivMod quotient is already floored (toward negative
		// infinity); with a negative divisor it is a ceiling, left as is.
	default: // RoundHalfEven
		twice := new(big.Int).Lsh(r, 1)
		absDenom := new(big.Int).Abs(denom)
		cmp := twice.CmpAbs(absDenom)
		if cmp > 0 || (cmp == 0 && q.Bit(0) == 1) {
			if denom.Sign() < 0 {
				q.Sub(q, big.NewInt(1))
			} else {
				q.Add(q, big.NewInt(1))
			}
		}
	}
}

// Cmp compares d to other: -1, 0, or 1.
func (d Decimal) Cmp(other Decimal) int {
	return d.bigOrZero().Cmp(other.bigOrZero())
}

func (d Decimal) IsZero() bool      { return d.bigOrZero().Sign() == 0 }
func (d Decimal) IsNegative() bool  { return d.bigOrZero().Sign() < 0 }
func (d Decimal) IsPositive() bool  { return d.bigOrZero().Sign() > 0 }
func (d Decimal) Sign() int         { return d.bigOrZero().Sign() }
func (d Decimal) Abs() Decimal      { return Decimal{raw: new(big.Int).Abs(d.bigOrZero())} }
func (d Decimal) GreaterThan(o Decimal) bool { return d.Cmp(o) > 0 }
func (d Decimal) LessThan(o Decimal) bool    { return d.Cmp(o) < 0 }
func (d Decimal) GreaterThanOrEqual(o Decimal) bool { return d.Cmp(o) >= 0 }
func (d Decimal) LessThanOrEqual(o Decimal) bool    { return d.Cmp(o) <= 0 }

// Min/Max are used throughout fee-curve clamping (SPEC_FULL §12).
func Min(a, b Decimal) Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b Decimal) Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// String renders the decimal value, e.g. "123.450000000000000000".
func (d Decimal) String() string {
	raw := d.bigOrZero()
	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)

	q, r := new(big.Int), new(big.Int)
	q.DivMod(abs, Scale, r)

	frac := r.String()
	for len(frac) < DecimalPlaces {
		frac = "0" + frac
	}

	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%s", sign, q.String(), frac)
}

// FromDecimalString parses String's output (or any plain "-?[0-9]+(.[0-9]+)?"
// decimal literal) back into a Decimal, for ingestion's JSON wire payloads
// (spec.md §9: amounts travel as strings, never floats).
func FromDecimalString(s string) (Decimal, error) {
	if s == "" {
		return Zero, nil
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	for i, c := range s {
		if c == '.' {
			whole, frac = s[:i], s[i+1:]
			break
		}
	}
	if len(frac) > DecimalPlaces {
		frac = frac[:DecimalPlaces]
	}
	for len(frac) < DecimalPlaces {
		frac += "0"
	}

	combined := whole + frac
	raw, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return Zero, fmt.Errorf("%w: invalid decimal literal %q", ErrNumericDomain, s)
	}
	if neg {
		raw.Neg(raw)
	}
	return Decimal{raw: raw}, nil
}

// MarshalJSON renders the decimal as a JSON string (avoids float precision
// loss in API/event payloads, matching the project-wide avoidance of
// floating point per spec.md §9 Design Notes).
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}
