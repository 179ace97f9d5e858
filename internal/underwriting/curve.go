package underwriting

// RateCurve maps a loan-to-value ratio onto an interest rate between a
// collection's configured bounds. Implementations must be total and
// deterministic.
type RateCurve interface {
	Rate(ltvBps, maxLTVBps, minRateBps, maxRateBps uint64) uint64
}

// linearCurve scales the rate proportionally with utilisation of the
// permitted LTV: zero LTV prices at the minimum rate, max LTV at the
// maximum. Integer math, truncating.
type linearCurve struct{}

func (linearCurve) Rate(ltvBps, maxLTVBps, minRateBps, maxRateBps uint64) uint64 {
	if maxLTVBps == 0 || maxRateBps <= minRateBps {
		return minRateBps
	}
	if ltvBps > maxLTVBps {
		ltvBps = maxLTVBps
	}
	return minRateBps + (maxRateBps-minRateBps)*ltvBps/maxLTVBps
}

// flatCurve always prices at the minimum rate.
type flatCurve struct{}

func (flatCurve) Rate(_, _, minRateBps, _ uint64) uint64 {
	return minRateBps
}

var curves = map[string]RateCurve{
	"linear": linearCurve{},
	"flat":   flatCurve{},
}

// CurveFor resolves a curve kind.
func CurveFor(kind string) (RateCurve, bool) {
	curve, ok := curves[kind]
	return curve, ok
}

// KnownCurve reports whether a curve kind is registered.
func KnownCurve(kind string) bool {
	_, ok := curves[kind]
	return ok
}
