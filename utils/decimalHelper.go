package utils

import "github.com/shopspring/decimal"

// HasFraction reports qty - floor(qty) > 0 on the absolute value.
func HasFraction(qty decimal.Decimal) bool {
	abs := qty.Abs()
	return abs.Sub(abs.Floor()).GreaterThan(decimal.Zero)
}

// WithSignOf returns |qty| carrying the sign of ref.
func WithSignOf(qty, ref decimal.Decimal) decimal.Decimal {
	if ref.Sign() < 0 {
		return qty.Abs().Neg()
	}
	return qty.Abs()
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr == nil {
		var zero T
		if len(defaults) > 0 {
			return defaults[0]
		}
		return zero
	}
	return *ptr
}
