package apportion

import (
	"math"

	"github.com/rotisserie/eris"
)

// ErrNegative is returned by RoundSignificant for negative input.
var ErrNegative = eris.New("apportion: value must not be negative")

// RoundSignificant rounds a non-negative x to p significant digits, so that
// 1234 becomes 1200 and 0.0341 becomes 0.034 at p=2. Halves round to even,
// the same as numpy.around; 0.00345 is stored slightly below the midpoint and
// rounds to 0.0034.
func RoundSignificant(x float64, p int) (float64, error) {
	if x < 0 {
		return 0, eris.Wrapf(ErrNegative, "round %g", x)
	}
	if x == 0 {
		return x, nil
	}
	decimals := -int(math.Floor(math.Log10(x))) + (p - 1)
	return roundDecimals(x, decimals), nil
}

func roundDecimals(x float64, decimals int) float64 {
	if decimals >= 0 {
		scale := math.Pow10(decimals)
		return math.RoundToEven(x*scale) / scale
	}
	scale := math.Pow10(-decimals)
	return math.RoundToEven(x/scale) * scale
}
