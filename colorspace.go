// Colorspace conversion for JPEG 2000 decoding.
//
// ISO/IEC 15444-1 Annex M enumerates nineteen colorspaces a JP2 Color
// Specification box (colr) can declare. This file converts any of them
// back to sRGB for display, run as the last stage of decodeTiles after
// the inverse DWT, inverse MCT, and DC level shift have already produced
// int32 sample data:
//
//  1. inverse wavelet transform
//  2. inverse multiple-component transform (if used)
//  3. DC level shift
//  4. colorspace conversion to sRGB (this file)
//  5. output image assembly
//
// Every conversion function takes arbitrary per-component precision
// (1-16 bits); the precision parameter tells it where "white" and
// "center" fall for that component.
//
// References: ISO/IEC 15444-1:2019 Annex M, ITU-R BT.601-7, ITU-R
// BT.709-6, IEC 61966-2-1 (sRGB), ISO 22028-2 (ROMM RGB / ProPhoto).
package jpeg2000

import "math"

// colorConversion converts component data in place from some source
// colorspace to sRGB.
type colorConversion func(componentData [][]int32, precision int)

// getColorConversion returns the sRGB conversion for cs, or nil if cs is
// already sRGB, grayscale, or otherwise needs no conversion.
func getColorConversion(cs ColorSpace) colorConversion {
	switch cs {
	case ColorSpaceSYCC:
		return convertSYCCToRGB
	case ColorSpaceYCbCr2, ColorSpaceYCbCr3: // BT.601-5, 625- and 525-line share a matrix
		return convertYCbCr601ToRGB
	case ColorSpacePhotoYCC:
		return convertPhotoYCCToRGB
	case ColorSpaceCMY:
		return convertCMYToRGB
	case ColorSpaceCMYK:
		return convertCMYKToRGB
	case ColorSpaceYCCK:
		return convertYCCKToRGB
	case ColorSpaceCIELab:
		return convertCIELabToRGB
	case ColorSpaceCIEJab:
		return convertCIEJabToRGB
	case ColorSpaceESRGB:
		return convertESRGBToRGB
	case ColorSpaceROMMRGB:
		return convertROMMRGBToRGB
	case ColorSpaceYPbPr60, ColorSpaceYPbPr50: // same inverse matrix
		return convertYPbPr709ToRGB
	case ColorSpaceEYCC:
		return convertEYCCToRGB
	default:
		return nil
	}
}

// yCbCrMatrix is an inverse luma/chroma matrix: R = Y + crToR*Cr,
// G = Y + cbToG*Cb + crToG*Cr, B = Y + cbToB*Cb.
type yCbCrMatrix struct {
	crToR, cbToG, crToG, cbToB float64
}

var (
	bt709Matrix = yCbCrMatrix{crToR: 1.5748, cbToG: -0.1873, crToG: -0.4681, cbToB: 1.8556}
	bt601Matrix = yCbCrMatrix{crToR: 1.402, cbToG: -0.344136, crToG: -0.714136, cbToB: 1.772}
)

// apply converts Y/Cb/Cr (or YPbPr/sYCC, same shape) component data to RGB
// in place using m's inverse coefficients.
func (m yCbCrMatrix) apply(componentData [][]int32, precision int) {
	if len(componentData) < 3 {
		return
	}
	maxVal := fullScale(precision)
	half := halfScale(precision)

	for i := range componentData[0] {
		y := float64(componentData[0][i])
		cb := float64(componentData[1][i]) - half
		cr := float64(componentData[2][i]) - half

		r := y + m.crToR*cr
		g := y + m.cbToG*cb + m.crToG*cr
		b := y + m.cbToB*cb

		componentData[0][i] = clampToInt32(r, 0, maxVal)
		componentData[1][i] = clampToInt32(g, 0, maxVal)
		componentData[2][i] = clampToInt32(b, 0, maxVal)
	}
}

// convertSYCCToRGB converts sYCC (sRGB primaries, BT.709 luma/chroma
// matrix) to sRGB.
func convertSYCCToRGB(componentData [][]int32, precision int) { bt709Matrix.apply(componentData, precision) }

// convertYCbCr601ToRGB converts ITU-R BT.601-5 YCbCr (both the 625- and
// 525-line variants share this matrix) to sRGB.
func convertYCbCr601ToRGB(componentData [][]int32, precision int) { bt601Matrix.apply(componentData, precision) }

// convertYPbPr709ToRGB converts HD-video YPbPr (ITU-R BT.709 matrix,
// same shape as sYCC) to sRGB.
func convertYPbPr709ToRGB(componentData [][]int32, precision int) { bt709Matrix.apply(componentData, precision) }

// convertEYCCToRGB converts extended-gamut sYCC to sRGB. Same matrix and
// centering as convertSYCCToRGB; the "extended" part is that out-of-range
// values are expected and simply clamp at the edges of the output range.
func convertEYCCToRGB(componentData [][]int32, precision int) { bt709Matrix.apply(componentData, precision) }

// photoYCCCoefficients converts Kodak PhotoYCC's Y/C1/C2 (scaled to an
// 8-bit-equivalent range with C1/C2 offset by 156) to a linear RGB triple,
// still in that same 8-bit-equivalent scale.
func photoYCCCoefficients(y, c1, c2 float64) (r, g, b float64) {
	r = y + 1.3584*c2
	g = y - 0.4302*c1 - 0.7915*c2
	b = y + 2.2179*c1
	return
}

// convertPhotoYCCToRGB converts Kodak PhotoYCC to sRGB.
func convertPhotoYCCToRGB(componentData [][]int32, precision int) {
	if len(componentData) < 3 {
		return
	}
	maxVal := fullScale(precision)
	scale := maxVal / 255.0

	for i := range componentData[0] {
		y := float64(componentData[0][i]) / scale
		c1 := float64(componentData[1][i])/scale - 156.0
		c2 := float64(componentData[2][i])/scale - 156.0

		r, g, b := photoYCCCoefficients(y, c1, c2)

		componentData[0][i] = clampToInt32(r*scale, 0, maxVal)
		componentData[1][i] = clampToInt32(g*scale, 0, maxVal)
		componentData[2][i] = clampToInt32(b*scale, 0, maxVal)
	}
}

// convertCMYToRGB converts CMY to sRGB via the subtractive identity
// R=1-C, G=1-M, B=1-Y.
func convertCMYToRGB(componentData [][]int32, precision int) {
	if len(componentData) < 3 {
		return
	}
	maxVal := int32(1)<<precision - 1
	for i := range componentData[0] {
		componentData[0][i] = maxVal - componentData[0][i]
		componentData[1][i] = maxVal - componentData[1][i]
		componentData[2][i] = maxVal - componentData[2][i]
	}
}

// convertCMYKToRGB converts CMYK to sRGB, folding K into each channel
// before discarding it.
func convertCMYKToRGB(componentData [][]int32, precision int) {
	if len(componentData) < 4 {
		return
	}
	maxVal := fullScale(precision)
	for i := range componentData[0] {
		c := float64(componentData[0][i]) / maxVal
		m := float64(componentData[1][i]) / maxVal
		y := float64(componentData[2][i]) / maxVal
		k := float64(componentData[3][i]) / maxVal

		componentData[0][i] = clampToInt32((1-c)*(1-k)*maxVal, 0, maxVal)
		componentData[1][i] = clampToInt32((1-m)*(1-k)*maxVal, 0, maxVal)
		componentData[2][i] = clampToInt32((1-y)*(1-k)*maxVal, 0, maxVal)
	}
}

// convertYCCKToRGB converts YCCK (PhotoYCC plus a K channel) to sRGB: the
// YCC triple goes through the same inverse transform as PhotoYCC, then K
// scales all three channels down before the fourth component is dropped.
func convertYCCKToRGB(componentData [][]int32, precision int) {
	if len(componentData) < 4 {
		return
	}
	maxVal := fullScale(precision)
	scale := maxVal / 255.0

	for i := range componentData[0] {
		y := float64(componentData[0][i]) / scale
		c1 := float64(componentData[1][i])/scale - 156.0
		c2 := float64(componentData[2][i])/scale - 156.0
		k := float64(componentData[3][i]) / maxVal

		r, g, b := photoYCCCoefficients(y, c1, c2)
		r, g, b = r*scale*(1-k), g*scale*(1-k), b*scale*(1-k)

		componentData[0][i] = clampToInt32(r, 0, maxVal)
		componentData[1][i] = clampToInt32(g, 0, maxVal)
		componentData[2][i] = clampToInt32(b, 0, maxVal)
	}
}

// labWhitePoint holds the reference white a Lab-family colorspace is
// decoded against.
type labWhitePoint struct{ xn, yn, zn float64 }

var d50WhitePoint = labWhitePoint{xn: 0.96422, yn: 1.0, zn: 0.82521}

// labToSRGB converts one CIE L*a*b*-shaped sample (D50 white point) to an
// sRGB triple in [0,1], via XYZ and the standard D65 XYZ-to-sRGB matrix;
// the D50 XYZ values are not chromatically adapted to D65 first.
func labToSRGB(w labWhitePoint, L, a, b float64) (r, g, bOut float64) {
	fy := (L + 16.0) / 116.0
	fx := a/500.0 + fy
	fz := fy - b/200.0

	x := w.xn * labInverseF(fx)
	y := w.yn * labInverseF(fy)
	z := w.zn * labInverseF(fz)

	rLin := 3.2404542*x - 1.5371385*y - 0.4985314*z
	gLin := -0.9692660*x + 1.8760108*y + 0.0415560*z
	bLin := 0.0556434*x - 0.2040259*y + 1.0572252*z

	return srgbGamma(clampFloat64(rLin, 0, 1)), srgbGamma(clampFloat64(gLin, 0, 1)), srgbGamma(clampFloat64(bLin, 0, 1))
}

// labInverseF is the inverse of the CIE Lab nonlinear f function.
func labInverseF(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta {
		return t * t * t
	}
	return 3 * delta * delta * (t - 4.0/29.0)
}

// convertCIELabToRGB converts CIE L*a*b* (D50) to sRGB.
func convertCIELabToRGB(componentData [][]int32, precision int) {
	if len(componentData) < 3 {
		return
	}
	maxVal := fullScale(precision)

	for i := range componentData[0] {
		L := float64(componentData[0][i]) / maxVal * 100.0
		a := float64(componentData[1][i])/maxVal*255.0 - 128.0
		b := float64(componentData[2][i])/maxVal*255.0 - 128.0

		r, g, bOut := labToSRGB(d50WhitePoint, L, a, b)

		componentData[0][i] = clampToInt32(r*maxVal, 0, maxVal)
		componentData[1][i] = clampToInt32(g*maxVal, 0, maxVal)
		componentData[2][i] = clampToInt32(bOut*maxVal, 0, maxVal)
	}
}

// convertCIEJabToRGB converts CIE J*a*b* (CIECAM02-derived) to sRGB. This
// is a simplified treatment that approximates lightness J as CIE L* and
// reuses the Lab pipeline; a full CIECAM02 inverse needs viewing
// conditions this decoder does not model.
func convertCIEJabToRGB(componentData [][]int32, precision int) {
	if len(componentData) < 3 {
		return
	}
	maxVal := fullScale(precision)

	for i := range componentData[0] {
		J := float64(componentData[0][i]) / maxVal * 100.0
		a := float64(componentData[1][i])/maxVal*255.0 - 128.0
		b := float64(componentData[2][i])/maxVal*255.0 - 128.0

		r, g, bOut := labToSRGB(d50WhitePoint, J, a, b)

		componentData[0][i] = clampToInt32(r*maxVal, 0, maxVal)
		componentData[1][i] = clampToInt32(g*maxVal, 0, maxVal)
		componentData[2][i] = clampToInt32(bOut*maxVal, 0, maxVal)
	}
}

// srgbGamma applies the sRGB opto-electronic transfer curve to a linear
// value in [0,1].
func srgbGamma(linear float64) float64 {
	if linear <= 0.0031308 {
		return 12.92 * linear
	}
	return 1.055*math.Pow(linear, 1.0/2.4) - 0.055
}

// srgbInverseGamma removes the sRGB gamma curve, returning a linear value.
func srgbInverseGamma(encoded float64) float64 {
	if encoded <= 0.04045 {
		return encoded / 12.92
	}
	return math.Pow((encoded+0.055)/1.055, 2.4)
}

// convertESRGBToRGB converts e-sRGB (extended-range sRGB, encoded = (linear
// + 0.25) / 1.25) to sRGB, clamping the wider gamut down to [0,1] first.
func convertESRGBToRGB(componentData [][]int32, precision int) {
	if len(componentData) < 3 {
		return
	}
	maxVal := fullScale(precision)

	for i := range componentData[0] {
		r := float64(componentData[0][i])/maxVal*1.25 - 0.25
		g := float64(componentData[1][i])/maxVal*1.25 - 0.25
		b := float64(componentData[2][i])/maxVal*1.25 - 0.25

		r = srgbGamma(clampFloat64(r, 0, 1))
		g = srgbGamma(clampFloat64(g, 0, 1))
		b = srgbGamma(clampFloat64(b, 0, 1))

		componentData[0][i] = clampToInt32(r*maxVal, 0, maxVal)
		componentData[1][i] = clampToInt32(g*maxVal, 0, maxVal)
		componentData[2][i] = clampToInt32(b*maxVal, 0, maxVal)
	}
}

// rommToXYZ is the ROMM-RGB (ProPhoto, D50) to CIE XYZ matrix.
var rommToXYZ = [9]float64{
	0.7977, 0.1352, 0.0313,
	0.2880, 0.7119, 0.0001,
	0.0000, 0.0000, 0.8249,
}

// convertROMMRGBToRGB converts ROMM-RGB (ProPhoto RGB, a wider gamut than
// sRGB) to sRGB via XYZ.
func convertROMMRGBToRGB(componentData [][]int32, precision int) {
	if len(componentData) < 3 {
		return
	}
	maxVal := fullScale(precision)
	const rommGamma = 1.8

	for i := range componentData[0] {
		rRomm := math.Pow(float64(componentData[0][i])/maxVal, rommGamma)
		gRomm := math.Pow(float64(componentData[1][i])/maxVal, rommGamma)
		bRomm := math.Pow(float64(componentData[2][i])/maxVal, rommGamma)

		m := rommToXYZ
		x := m[0]*rRomm + m[1]*gRomm + m[2]*bRomm
		y := m[3]*rRomm + m[4]*gRomm + m[5]*bRomm
		z := m[6]*rRomm + m[7]*gRomm + m[8]*bRomm

		rLin := 3.2404542*x - 1.5371385*y - 0.4985314*z
		gLin := -0.9692660*x + 1.8760108*y + 0.0415560*z
		bLin := 0.0556434*x - 0.2040259*y + 1.0572252*z

		componentData[0][i] = clampToInt32(srgbGamma(clampFloat64(rLin, 0, 1))*maxVal, 0, maxVal)
		componentData[1][i] = clampToInt32(srgbGamma(clampFloat64(gLin, 0, 1))*maxVal, 0, maxVal)
		componentData[2][i] = clampToInt32(srgbGamma(clampFloat64(bLin, 0, 1))*maxVal, 0, maxVal)
	}
}

// fullScale returns the maximum representable value at the given
// per-component precision.
func fullScale(precision int) float64 { return float64(int32(1)<<precision - 1) }

// halfScale returns the mid-point value (chroma zero point) at the given
// per-component precision.
func halfScale(precision int) float64 { return float64(int32(1) << (precision - 1)) }

// clampToInt32 clamps v to [lo, hi] and rounds to the nearest int32.
func clampToInt32(v, lo, hi float64) int32 {
	if v < lo {
		return int32(lo)
	}
	if v > hi {
		return int32(hi)
	}
	return int32(v + 0.5)
}

// clampFloat64 clamps v to [lo, hi].
func clampFloat64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
