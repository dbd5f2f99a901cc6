// Package mct implements the Part 1 multiple-component transforms: the
// irreversible colour transform (ICT, RGB<->YCbCr, lossy pipelines) and the
// reversible colour transform (RCT, RGB<->YCrCb, lossless pipelines), plus
// the sample-domain bookkeeping (DC level shift, precision clamping) every
// component passes through before and after them.
package mct

import "math"

// ForwardICT converts RGB samples to YCbCr in place (Annex G.2), the
// lossy-pipeline analogue of ForwardRCT.
func ForwardICT(r, g, b []float64) {
	for i := range r {
		red, green, blue := r[i], g[i], b[i]
		r[i] = 0.299*red + 0.587*green + 0.114*blue
		g[i] = -0.16875*red - 0.33126*green + 0.5*blue
		b[i] = 0.5*red - 0.41869*green - 0.08131*blue
	}
}

// InverseICT is ForwardICT's inverse, converting YCbCr back to RGB.
func InverseICT(y, cb, cr []float64) {
	for i := range y {
		lum, blueDiff, redDiff := y[i], cb[i], cr[i]
		y[i] = lum + 1.402*redDiff
		cb[i] = lum - 0.34413*blueDiff - 0.71414*redDiff
		cr[i] = lum + 1.772*blueDiff
	}
}

// ForwardRCT applies the integer-reversible colour transform (Annex G.3) in
// place: r, g, b become Y, U, V. Exact inverse under InverseRCT regardless
// of rounding, which is what makes it safe for lossless pipelines.
func ForwardRCT(r, g, b []int32) {
	for i := range r {
		red, green, blue := r[i], g[i], b[i]
		r[i] = (red + 2*green + blue) >> 2
		g[i] = blue - green
		b[i] = red - green
	}
}

// InverseRCT is ForwardRCT's exact inverse.
func InverseRCT(y, u, v []int32) {
	for i := range y {
		lum, uu, vv := y[i], u[i], v[i]
		green := lum - ((uu + vv) >> 2)
		y[i] = vv + green
		u[i] = green
		v[i] = uu + green
	}
}

// number is the set of sample domains mct clamps and shifts.
type number interface {
	~int32 | ~float64
}

func clamp[T number](v, lo, hi T) T {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// ClampInt32 restricts v to [lo, hi].
func ClampInt32(v, lo, hi int32) int32 { return clamp(v, lo, hi) }

// ClampFloat64 restricts v to [lo, hi].
func ClampFloat64(v, lo, hi float64) float64 { return clamp(v, lo, hi) }

// DCLevelShiftForward subtracts the mid-point of an unsigned component's
// range (2^(precision-1)) before encoding, centering samples on zero the
// way the wavelet transform and entropy coder expect (spec Annex G.1).
func DCLevelShiftForward(data []int32, precision int) {
	mid := int32(1) << (precision - 1)
	for i := range data {
		data[i] -= mid
	}
}

// DCLevelShiftForwardFloat is DCLevelShiftForward for float-domain samples.
func DCLevelShiftForwardFloat(data []float64, precision int) {
	mid := float64(int32(1) << (precision - 1))
	for i := range data {
		data[i] -= mid
	}
}

// DCLevelShiftInverse undoes DCLevelShiftForward after decoding.
func DCLevelShiftInverse(data []int32, precision int) {
	mid := int32(1) << (precision - 1)
	for i := range data {
		data[i] += mid
	}
}

// DCLevelShiftInverseFloat is DCLevelShiftInverse for float-domain samples.
func DCLevelShiftInverseFloat(data []float64, precision int) {
	mid := float64(int32(1) << (precision - 1))
	for i := range data {
		data[i] += mid
	}
}

// ShouldApplyMCT reports whether a coding-style's MCT flag should actually
// take effect: the transform only makes sense across three or more
// components (Annex G requires the first three to be RGB-like).
func ShouldApplyMCT(numComponents int, mctEnabled bool) bool {
	return mctEnabled && numComponents >= 3
}

// ConvertFloat64ToInt32 rounds each sample to the nearest integer,
// round-half-away-from-zero.
func ConvertFloat64ToInt32(src []float64, dst []int32) {
	for i, v := range src {
		if v >= 0 {
			dst[i] = int32(v + 0.5)
		} else {
			dst[i] = int32(v - 0.5)
		}
	}
}

// ConvertInt32ToFloat64 widens each integer sample to float64.
func ConvertInt32ToFloat64(src []int32, dst []float64) {
	for i, v := range src {
		dst[i] = float64(v)
	}
}

func precisionRange(precision int, signed bool) (int64, int64) {
	if signed {
		return -(int64(1) << (precision - 1)), (int64(1) << (precision - 1)) - 1
	}
	return 0, (int64(1) << precision) - 1
}

// ApplyPrecisionClamp restricts integer samples to the range a component of
// the given precision/signedness can represent.
func ApplyPrecisionClamp(data []int32, precision int, signed bool) {
	lo, hi := precisionRange(precision, signed)
	for i := range data {
		data[i] = ClampInt32(data[i], int32(lo), int32(hi))
	}
}

// ApplyPrecisionClampFloat is ApplyPrecisionClamp for float-domain samples.
func ApplyPrecisionClampFloat(data []float64, precision int, signed bool) {
	lo, hi := precisionRange(precision, signed)
	for i := range data {
		data[i] = ClampFloat64(data[i], float64(lo), float64(hi))
	}
}

// CustomMCT holds a user-supplied multiple-component transform matrix
// (Part 2's MCC/MCT mechanism generalizes ICT/RCT to an arbitrary linear
// map) together with its precomputed inverse.
type CustomMCT struct {
	Forward       []float64 // row-major NumComponents x NumComponents
	Inverse       []float64
	NumComponents int
}

// NewCustomMCT builds a CustomMCT from a forward matrix, deriving its
// inverse immediately so Apply/ApplyInverse never need to invert on the
// hot path.
func NewCustomMCT(forward []float64, numComponents int) *CustomMCT {
	m := &CustomMCT{Forward: forward, NumComponents: numComponents}
	m.Inverse = m.invert()
	return m
}

// invert computes m.Forward's inverse: a closed-form formula for the
// common 3-component case, Gauss-Jordan elimination otherwise.
func (m *CustomMCT) invert() []float64 {
	if m.NumComponents == 3 {
		return invert3x3(m.Forward)
	}
	return invertGaussJordan(m.Forward, m.NumComponents)
}

func invert3x3(a []float64) []float64 {
	inv := make([]float64, 9)
	det := a[0]*(a[4]*a[8]-a[5]*a[7]) -
		a[1]*(a[3]*a[8]-a[5]*a[6]) +
		a[2]*(a[3]*a[7]-a[4]*a[6])
	if math.Abs(det) < 1e-10 {
		inv[0], inv[4], inv[8] = 1, 1, 1
		return inv
	}
	invDet := 1.0 / det
	inv[0] = (a[4]*a[8] - a[5]*a[7]) * invDet
	inv[1] = (a[2]*a[7] - a[1]*a[8]) * invDet
	inv[2] = (a[1]*a[5] - a[2]*a[4]) * invDet
	inv[3] = (a[5]*a[6] - a[3]*a[8]) * invDet
	inv[4] = (a[0]*a[8] - a[2]*a[6]) * invDet
	inv[5] = (a[2]*a[3] - a[0]*a[5]) * invDet
	inv[6] = (a[3]*a[7] - a[4]*a[6]) * invDet
	inv[7] = (a[1]*a[6] - a[0]*a[7]) * invDet
	inv[8] = (a[0]*a[4] - a[1]*a[3]) * invDet
	return inv
}

// invertGaussJordan inverts an n x n matrix by building an [A|I] augmented
// matrix and row-reducing A to I, with partial pivoting for stability.
func invertGaussJordan(forward []float64, n int) []float64 {
	width := 2 * n
	aug := make([]float64, n*width)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			aug[i*width+j] = forward[i*n+j]
		}
		aug[i*width+n+i] = 1
	}

	row := func(i int) []float64 { return aug[i*width : i*width+width] }

	for i := 0; i < n; i++ {
		pivotRow := i
		for k := i + 1; k < n; k++ {
			if math.Abs(aug[k*width+i]) > math.Abs(aug[pivotRow*width+i]) {
				pivotRow = k
			}
		}
		if pivotRow != i {
			ri, rp := row(i), row(pivotRow)
			for k := range ri {
				ri[k], rp[k] = rp[k], ri[k]
			}
		}

		pivot := aug[i*width+i]
		if math.Abs(pivot) < 1e-10 {
			continue
		}
		ri := row(i)
		for k := range ri {
			ri[k] /= pivot
		}

		for k := 0; k < n; k++ {
			if k == i {
				continue
			}
			factor := aug[k*width+i]
			rk, rpiv := row(k), row(i)
			for j := range rk {
				rk[j] -= factor * rpiv[j]
			}
		}
	}

	inv := make([]float64, n*n)
	for i := 0; i < n; i++ {
		copy(inv[i*n:i*n+n], aug[i*width+n:i*width+width])
	}
	return inv
}

// Apply runs the forward transform across every sample of components,
// one component's value per matrix row/column.
func (m *CustomMCT) Apply(components [][]float64) { m.transform(components, m.Forward) }

// ApplyInverse runs the inverse transform across every sample.
func (m *CustomMCT) ApplyInverse(components [][]float64) { m.transform(components, m.Inverse) }

func (m *CustomMCT) transform(components [][]float64, matrix []float64) {
	if len(components) != m.NumComponents {
		return
	}
	n := m.NumComponents
	sample := make([]float64, n)
	for s := range components[0] {
		for i := 0; i < n; i++ {
			sample[i] = components[i][s]
		}
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += matrix[i*n+j] * sample[j]
			}
			components[i][s] = sum
		}
	}
}
