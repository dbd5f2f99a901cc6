package jpeg2000

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/charmap"

	"github.com/lumenforge/jp2k/internal/box"
	"github.com/lumenforge/jp2k/internal/codestream"
	"github.com/lumenforge/jp2k/internal/mct"
	"github.com/lumenforge/jp2k/internal/tcd"
)

// encoder handles JPEG 2000 encoding.
type encoder struct {
	w       io.Writer
	img     image.Image
	options *Options

	// Image parameters
	width         int
	height        int
	numComponents int
	precision     int
	signed        bool

	// Component data
	componentData [][]int32

	// header is the codestream.Header this encoder both writes as marker
	// segments and hands to tcd.TileEncoder, so the tile pipeline can never
	// see coding parameters that disagree with what the markers declare.
	header *codestream.Header
}

// newEncoder creates a new encoder.
func newEncoder(w io.Writer, img image.Image, options *Options) *encoder {
	bounds := img.Bounds()
	return &encoder{
		w:       w,
		img:     img,
		options: options,
		width:   bounds.Dx(),
		height:  bounds.Dy(),
	}
}

// encode encodes the image.
func (e *encoder) encode() error {
	if err := e.options.Validate(); err != nil {
		return err
	}

	// Extract image data
	if err := e.extractImageData(); err != nil {
		return fmt.Errorf("extracting image data: %w", err)
	}

	// Apply preprocessing
	if err := e.preprocess(); err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}

	// e.header is the single source of truth the tile encoder keys off of;
	// building it once here keeps it from drifting against the SIZ/COD/QCD
	// bytes the marker generators below write from the same Options.
	e.header = e.buildHeader()

	// Generate codestream
	codestream, err := e.generateCodestream()
	if err != nil {
		return fmt.Errorf("generating codestream: %w", err)
	}

	// Write output based on format
	switch e.options.Format {
	case FormatJP2:
		return e.writeJP2(codestream)
	case FormatJ2K:
		_, err := e.w.Write(codestream)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", e.options.Format)
	}
}

// extractImageData extracts pixel data from the source image.
func (e *encoder) extractImageData() error {
	bounds := e.img.Bounds()

	// Determine image properties based on type
	switch img := e.img.(type) {
	case *image.Gray:
		e.numComponents = 1
		e.precision = 8
		e.componentData = make([][]int32, 1)
		e.componentData[0] = make([]int32, e.width*e.height)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				e.componentData[0][idx] = int32(img.GrayAt(x, y).Y)
			}
		}

	case *image.Gray16:
		e.numComponents = 1
		e.precision = 16
		e.componentData = make([][]int32, 1)
		e.componentData[0] = make([]int32, e.width*e.height)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				e.componentData[0][idx] = int32(img.Gray16At(x, y).Y)
			}
		}

	case *image.RGBA:
		e.numComponents = 3 // We'll ignore alpha for now
		e.precision = 8
		e.componentData = make([][]int32, 3)
		for c := 0; c < 3; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				c := img.RGBAAt(x, y)
				e.componentData[0][idx] = int32(c.R)
				e.componentData[1][idx] = int32(c.G)
				e.componentData[2][idx] = int32(c.B)
			}
		}

	case *image.RGBA64:
		e.numComponents = 3
		e.precision = 16
		e.componentData = make([][]int32, 3)
		for c := 0; c < 3; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				c := img.RGBA64At(x, y)
				e.componentData[0][idx] = int32(c.R)
				e.componentData[1][idx] = int32(c.G)
				e.componentData[2][idx] = int32(c.B)
			}
		}

	case *image.NRGBA:
		e.numComponents = 4
		e.precision = 8
		e.componentData = make([][]int32, 4)
		for c := 0; c < 4; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				c := img.NRGBAAt(x, y)
				e.componentData[0][idx] = int32(c.R)
				e.componentData[1][idx] = int32(c.G)
				e.componentData[2][idx] = int32(c.B)
				e.componentData[3][idx] = int32(c.A)
			}
		}

	case *image.NRGBA64:
		e.numComponents = 4
		e.precision = 16
		e.componentData = make([][]int32, 4)
		for c := 0; c < 4; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				c := img.NRGBA64At(x, y)
				e.componentData[0][idx] = int32(c.R)
				e.componentData[1][idx] = int32(c.G)
				e.componentData[2][idx] = int32(c.B)
				e.componentData[3][idx] = int32(c.A)
			}
		}

	default:
		// Generic fallback - convert to RGBA
		e.numComponents = 3
		e.precision = 8
		e.componentData = make([][]int32, 3)
		for c := 0; c < 3; c++ {
			e.componentData[c] = make([]int32, e.width*e.height)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				idx := (y-bounds.Min.Y)*e.width + (x - bounds.Min.X)
				r, g, b, _ := e.img.At(x, y).RGBA()
				e.componentData[0][idx] = int32(r >> 8)
				e.componentData[1][idx] = int32(g >> 8)
				e.componentData[2][idx] = int32(b >> 8)
			}
		}
	}

	// Apply precision override if specified
	if e.options.Precision > 0 && e.options.Precision <= 16 && e.options.Precision != e.precision {
		targetPrecision := e.options.Precision
		srcMax := int32((1 << e.precision) - 1)
		dstMax := int32((1 << targetPrecision) - 1)

		for c := 0; c < e.numComponents; c++ {
			for i := range e.componentData[c] {
				// Scale from source precision to target precision
				e.componentData[c][i] = e.componentData[c][i] * dstMax / srcMax
			}
		}
		e.precision = targetPrecision
	}

	return nil
}

// preprocess applies preprocessing transforms.
func (e *encoder) preprocess() error {
	// Apply DC level shift
	for c := 0; c < e.numComponents; c++ {
		mct.DCLevelShiftForward(e.componentData[c], e.precision)
	}

	// Apply MCT if we have 3+ components
	if e.numComponents >= 3 {
		if e.options.Lossless {
			mct.ForwardRCT(e.componentData[0], e.componentData[1], e.componentData[2])
		} else {
			// Convert to float for ICT
			compFloat := make([][]float64, 3)
			for c := 0; c < 3; c++ {
				compFloat[c] = make([]float64, len(e.componentData[c]))
				for i, v := range e.componentData[c] {
					compFloat[c][i] = float64(v)
				}
			}
			mct.ForwardICT(compFloat[0], compFloat[1], compFloat[2])
			for c := 0; c < 3; c++ {
				for i, v := range compFloat[c] {
					if v >= 0 {
						e.componentData[c][i] = int32(v + 0.5)
					} else {
						e.componentData[c][i] = int32(v - 0.5)
					}
				}
			}
		}
	}

	return nil
}

// generateCodestream generates the JPEG 2000 codestream.
func (e *encoder) generateCodestream() ([]byte, error) {
	var buf []byte

	// SOC marker
	buf = append(buf, 0xFF, 0x4F)

	// SIZ marker
	siz := e.generateSIZ()
	buf = append(buf, siz...)

	// COD marker
	cod := e.generateCOD()
	buf = append(buf, cod...)

	// QCD marker
	qcd := e.generateQCD()
	buf = append(buf, qcd...)

	// RGN markers (one per component with a declared region of interest)
	for c := 0; c < e.numComponents; c++ {
		if _, shift, ok := e.roiComponentShift(c); ok {
			buf = append(buf, e.generateRGN(c, shift)...)
		}
	}

	// Comment marker (optional)
	if e.options.Comment != "" {
		com := e.generateCOM()
		buf = append(buf, com...)
	}

	// Generate tile data
	tileData, err := e.generateTiles()
	if err != nil {
		return nil, err
	}
	buf = append(buf, tileData...)

	// EOC marker
	buf = append(buf, 0xFF, 0xD9)

	return buf, nil
}

// generateSIZ generates the SIZ marker segment.
func (e *encoder) generateSIZ() []byte {
	numComp := e.numComponents

	// Length = 38 + 3*numComponents
	length := 38 + 3*numComp

	buf := make([]byte, 2+length)
	binary.BigEndian.PutUint16(buf[0:2], uint16(codestream.SIZ))
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))

	// Rsiz (profile)
	binary.BigEndian.PutUint16(buf[4:6], uint16(e.options.Profile))

	// Image dimensions
	binary.BigEndian.PutUint32(buf[6:10], uint32(e.width))
	binary.BigEndian.PutUint32(buf[10:14], uint32(e.height))

	// Image offset (0, 0)
	binary.BigEndian.PutUint32(buf[14:18], 0)
	binary.BigEndian.PutUint32(buf[18:22], 0)

	// Tile size
	tileWidth := e.width
	tileHeight := e.height
	if e.options.TileSize.X > 0 {
		tileWidth = e.options.TileSize.X
	}
	if e.options.TileSize.Y > 0 {
		tileHeight = e.options.TileSize.Y
	}
	binary.BigEndian.PutUint32(buf[22:26], uint32(tileWidth))
	binary.BigEndian.PutUint32(buf[26:30], uint32(tileHeight))

	// Tile offset
	binary.BigEndian.PutUint32(buf[30:34], 0)
	binary.BigEndian.PutUint32(buf[34:38], 0)

	// Number of components
	binary.BigEndian.PutUint16(buf[38:40], uint16(numComp))

	// Component info
	for c := 0; c < numComp; c++ {
		offset := 40 + c*3
		// Ssiz: bit depth (precision - 1, with sign bit)
		ssiz := uint8(e.precision - 1)
		if e.signed {
			ssiz |= 0x80
		}
		buf[offset] = ssiz
		// XRsiz, YRsiz: subsampling
		buf[offset+1] = 1
		buf[offset+2] = 1
	}

	return buf
}

// buildHeader assembles the codestream.Header the tile encoder uses to
// derive coefficient geometry, step sizes, and packet layout. Every field
// here must agree with what generateSIZ/generateCOD/generateQCD/generateRGN
// write as marker bytes, since tcd.TileEncoder only sees this struct, never
// the marker segments themselves.
func (e *encoder) buildHeader() *codestream.Header {
	numRes := e.options.NumResolutions
	if numRes <= 0 {
		numRes = 6
	}

	tileWidth := e.width
	tileHeight := e.height
	if e.options.TileSize.X > 0 {
		tileWidth = e.options.TileSize.X
	}
	if e.options.TileSize.Y > 0 {
		tileHeight = e.options.TileSize.Y
	}

	numLayers := e.options.NumLayers
	if numLayers <= 0 {
		numLayers = 1
	}

	cbWidthExp := e.options.CodeBlockSize.X
	cbHeightExp := e.options.CodeBlockSize.Y
	if cbWidthExp <= 0 {
		cbWidthExp = 6
	}
	if cbHeightExp <= 0 {
		cbHeightExp = 6
	}

	scod := uint8(0)
	if e.options.EnableSOP {
		scod |= codestream.CodingStyleSOP
	}
	if e.options.EnableEPH {
		scod |= codestream.CodingStyleEPH
	}

	cbStyle := uint8(0)
	if e.options.ErrorResilience.SegmentationSymbols {
		cbStyle |= codestream.CodeBlockSegmentationSymbols
	}

	wavelet := uint8(0)
	if e.options.Lossless {
		wavelet = 1
	}

	mctXf := uint8(0)
	if e.numComponents >= 3 {
		mctXf = 1
	}

	cod := codestream.CodingStyleDefault{
		CodingStyle:         scod,
		ProgressionOrder:    uint8(e.options.ProgressionOrder),
		NumLayers:           uint16(numLayers),
		MultipleComponentXf: mctXf,
		NumDecompositions:   uint8(numRes - 1),
		CodeBlockWidthExp:   uint8(cbWidthExp - 2),
		CodeBlockHeightExp:  uint8(cbHeightExp - 2),
		CodeBlockStyle:      cbStyle,
		WaveletTransform:    wavelet,
	}

	componentInfo := make([]codestream.ComponentInfo, e.numComponents)
	for c := 0; c < e.numComponents; c++ {
		bitDepth := uint8(e.precision - 1)
		if e.signed {
			bitDepth |= 0x80
		}
		componentInfo[c] = codestream.ComponentInfo{BitDepth: bitDepth, SubsamplingX: 1, SubsamplingY: 1}
	}

	roiShift := make(map[uint16]int)
	for c := 0; c < e.numComponents; c++ {
		if _, shift, ok := e.roiComponentShift(c); ok {
			roiShift[uint16(c)] = shift
		}
	}

	return &codestream.Header{
		Profile:       uint16(e.options.Profile),
		ImageWidth:    uint32(e.width),
		ImageHeight:   uint32(e.height),
		TileWidth:     uint32(tileWidth),
		TileHeight:    uint32(tileHeight),
		NumComponents: uint16(e.numComponents),
		ComponentInfo: componentInfo,
		NumTilesX:     uint32((e.width + tileWidth - 1) / tileWidth),
		NumTilesY:     uint32((e.height + tileHeight - 1) / tileHeight),
		CodingStyle:   cod,
		Quantization:  e.buildQuantization(numRes),
		ROIShift:      roiShift,
	}
}

// buildQuantization mirrors generateQCD's three quantization styles as a
// codestream.QuantizationDefault rather than marker bytes, so
// tcd.computeStepSizes derives the exact same per-band step sizes a decoder
// parsing the emitted QCD marker would.
func (e *encoder) buildQuantization(numRes int) codestream.QuantizationDefault {
	numBands := 3*(numRes-1) + 1
	guard := uint8(e.options.GuardBits)

	switch {
	case e.options.Lossless:
		steps := make([]codestream.StepSize, numBands)
		for i := range steps {
			steps[i] = codestream.StepSize{Exponent: uint8(e.precision + i/3)}
		}
		return codestream.QuantizationDefault{
			QuantizationStyle: codestream.QuantizationNone,
			NumGuardBits:      guard,
			StepSizes:         steps,
		}

	case e.options.Quantization == QuantExpounded:
		mantissa := e.stepSizeMantissa()
		steps := make([]codestream.StepSize, numBands)
		for i := range steps {
			steps[i] = codestream.StepSize{Mantissa: mantissa, Exponent: uint8(e.precision + i/3)}
		}
		return codestream.QuantizationDefault{
			QuantizationStyle: codestream.QuantizationScalarExpounded,
			NumGuardBits:      guard,
			StepSizes:         steps,
		}

	default: // QuantDerived
		mantissa := e.stepSizeMantissa()
		return codestream.QuantizationDefault{
			QuantizationStyle: codestream.QuantizationScalarDerived,
			NumGuardBits:      guard,
			StepSizes:         []codestream.StepSize{{Mantissa: mantissa, Exponent: uint8(e.precision)}},
		}
	}
}

// generateCOD generates the COD marker segment.
func (e *encoder) generateCOD() []byte {
	numRes := e.options.NumResolutions
	if numRes <= 0 {
		numRes = 6
	}

	// Base length = 12 (without precinct sizes)
	length := 12

	buf := make([]byte, 2+length)
	binary.BigEndian.PutUint16(buf[0:2], uint16(codestream.COD))
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))

	// Scod: coding style
	scod := uint8(0)
	if e.options.EnableSOP {
		scod |= codestream.CodingStyleSOP
	}
	if e.options.EnableEPH {
		scod |= codestream.CodingStyleEPH
	}
	buf[4] = scod

	// SGcod
	buf[5] = uint8(e.options.ProgressionOrder) // Progression order
	numLayers := e.options.NumLayers
	if numLayers <= 0 {
		numLayers = 1
	}
	binary.BigEndian.PutUint16(buf[6:8], uint16(numLayers))
	if e.numComponents >= 3 {
		buf[8] = 1 // MCT (enabled for 3 components)
	}

	// SPcod
	buf[9] = uint8(numRes - 1) // Number of decomposition levels

	// Determine code block size
	cbWidth := e.options.CodeBlockSize.X
	cbHeight := e.options.CodeBlockSize.Y

	if cbWidth <= 0 {
		cbWidth = 6
	}
	if cbHeight <= 0 {
		cbHeight = 6
	}

	buf[10] = uint8(cbWidth - 2)  // Code-block width exponent
	buf[11] = uint8(cbHeight - 2) // Code-block height exponent

	// Code-block style flags. Validate rejects every resilience bit this
	// Tier-1 coder cannot execute, so only SegmentationSymbols can be set here.
	cbStyle := uint8(0)
	if e.options.ErrorResilience.SegmentationSymbols {
		cbStyle |= codestream.CodeBlockSegmentationSymbols
	}
	buf[12] = cbStyle

	if e.options.Lossless {
		buf[13] = 1 // 5-3 reversible wavelet
	} else {
		buf[13] = 0 // 9-7 irreversible wavelet
	}

	return buf
}

// generateQCD generates the QCD marker segment. The style follows
// e.options.Quantization: reversible (no Δ, forced whenever Lossless is
// set), derived (one base step size for the whole tile-component), or
// expounded (one mantissa/exponent pair per subband). Guard bits come from
// e.options.GuardBits (default 2, §4.4).
func (e *encoder) generateQCD() []byte {
	numRes := e.options.NumResolutions
	if numRes <= 0 {
		numRes = 6
	}
	numBands := 3*(numRes-1) + 1
	guard := uint8(e.options.GuardBits)

	var buf []byte
	switch {
	case e.options.Lossless:
		length := 3 + numBands
		buf = make([]byte, 2+length)
		binary.BigEndian.PutUint16(buf[0:2], uint16(codestream.QCD))
		binary.BigEndian.PutUint16(buf[2:4], uint16(length))
		buf[4] = codestream.QuantizationNone | (guard << 5)
		for i := 0; i < numBands; i++ {
			buf[5+i] = uint8(e.precision+i/3) << 3
		}

	case e.options.Quantization == QuantExpounded:
		length := 3 + 2*numBands
		buf = make([]byte, 2+length)
		binary.BigEndian.PutUint16(buf[0:2], uint16(codestream.QCD))
		binary.BigEndian.PutUint16(buf[2:4], uint16(length))
		buf[4] = codestream.QuantizationScalarExpounded | (guard << 5)
		mantissa := e.stepSizeMantissa()
		for i := 0; i < numBands; i++ {
			exponent := uint16(e.precision + i/3)
			binary.BigEndian.PutUint16(buf[5+2*i:7+2*i], exponent<<11|mantissa)
		}

	default: // QuantDerived
		length := 5
		buf = make([]byte, 2+length)
		binary.BigEndian.PutUint16(buf[0:2], uint16(codestream.QCD))
		binary.BigEndian.PutUint16(buf[2:4], uint16(length))
		buf[4] = codestream.QuantizationScalarDerived | (guard << 5)
		mantissa := e.stepSizeMantissa()
		exponent := uint16(e.precision)
		binary.BigEndian.PutUint16(buf[5:7], exponent<<11|mantissa)
	}

	return buf
}

// stepSizeMantissa derives the 11-bit SPqcd mantissa field from
// e.options.StepSize when set, falling back to a quality-derived estimate.
func (e *encoder) stepSizeMantissa() uint16 {
	step := e.options.StepSize
	if step <= 0 {
		quality := e.options.Quality
		if quality <= 0 {
			quality = 75
		}
		step = float64(100-quality) / 100
	}
	if step < 0 {
		step = 0
	}
	if step > 1 {
		step = 1
	}
	return uint16(step * 2047)
}

// generateCOM generates the COM marker segment.
func (e *encoder) generateCOM() []byte {
	comment, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(e.options.Comment))
	if err != nil {
		// Comment has runes outside Latin-1; fall back to best-effort ASCII.
		comment = []byte(e.options.Comment)
	}
	length := 4 + len(comment)

	buf := make([]byte, 2+length)
	binary.BigEndian.PutUint16(buf[0:2], uint16(codestream.COM))
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	binary.BigEndian.PutUint16(buf[4:6], codestream.CommentLatin1)
	copy(buf[6:], comment)

	return buf
}

// generateRGN generates an RGN marker segment (Annex A.6.4) declaring the
// implicit max-shift value for one component.
func (e *encoder) generateRGN(component, shift int) []byte {
	length := 5
	buf := make([]byte, 2+length)
	binary.BigEndian.PutUint16(buf[0:2], uint16(codestream.RGN))
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	buf[4] = byte(component)
	buf[5] = 0 // Srgn: implicit (max-shift), the only style this encoder emits
	buf[6] = byte(shift)
	return buf
}

// generateTiles generates tile data.
func (e *encoder) generateTiles() ([]byte, error) {
	// InitTile expects each component's data pre-sliced to the tile's own
	// bounds; extractImageData/preprocess build one whole-image array per
	// component instead, so only a single tile spanning the whole image is
	// wired up here.
	if e.header.NumTilesX != 1 || e.header.NumTilesY != 1 {
		return nil, fmt.Errorf("jpeg2000: multi-tile encoding not supported (got %dx%d tiles)", e.header.NumTilesX, e.header.NumTilesY)
	}

	tileData, err := e.encodeTile(0)
	if err != nil {
		return nil, err
	}
	return tileData, nil
}

// layerBudgets spreads a tile's total byte budget across numLayers
// cumulative thresholds, growing roughly quadratically so early layers
// deliver a coarse preview and later layers fill in the rest; the final
// entry always equals total exactly; AllocateRates passes it straight
// through to tcd.AllocateLayers.
func layerBudgets(numLayers, total int) []int {
	if numLayers <= 1 {
		return []int{total}
	}
	budgets := make([]int, numLayers)
	for i := 0; i < numLayers; i++ {
		frac := float64(i+1) / float64(numLayers)
		budgets[i] = int(float64(total) * frac * frac)
	}
	budgets[numLayers-1] = total
	return budgets
}

// tileEncodedByteTotal sums every code-block's full encoded length across a
// tile. Used to size the earlier layers' budgets when no byte budget is
// configured; the final layer's budget then stays 0, which AllocateLayers
// treats as "no truncation", so every coding pass is kept.
func tileEncodedByteTotal(tile *tcd.Tile) int {
	total := 0
	for _, tc := range tile.Components {
		for _, res := range tc.Resolutions {
			for _, band := range res.Bands {
				for _, cb := range band.CodeBlocks {
					if n := len(cb.Checkpoints); n > 0 {
						total += cb.Checkpoints[n-1].CumulativeLength
					}
				}
			}
		}
	}
	return total
}

// tileByteBudget estimates a per-tile byte budget for PCRD truncation from
// the configured quality knobs. Lossless encoding returns 0, which
// AllocateLayers treats as "no truncation" (every code-block keeps its full
// bit-plane ladder).
func (e *encoder) tileByteBudget(tileWidth, tileHeight int) int {
	if e.options.Lossless {
		return 0
	}
	bpp := 0.0
	switch {
	case e.options.CompressionRatio > 0:
		nativeBpp := float64(e.precision) * float64(e.numComponents)
		bpp = nativeBpp / e.options.CompressionRatio
	case e.options.Quality > 0:
		quality := e.options.Quality
		if quality > 100 {
			quality = 100
		}
		bpp = (0.05 + float64(quality)/100.0*7.95) * float64(e.numComponents)
	default:
		return 0
	}
	budget := int(bpp*float64(tileWidth)*float64(tileHeight)/8.0 + 0.5)
	if budget <= 0 {
		return 0
	}
	return budget
}

// roiComponentShift returns the rectangle and max-shift value of the first
// ROIRectangle region that covers component c, with ok false if none does.
// ROIPolygon and ROIMask regions are skipped: this encoder does not
// rasterize them.
func (e *encoder) roiComponentShift(c int) (rect image.Rectangle, shift int, ok bool) {
	for _, r := range e.options.ROI {
		if r.Shape != ROIRectangle {
			continue
		}
		if len(r.Components) > 0 {
			matched := false
			for _, rc := range r.Components {
				if rc == c {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		s := r.Shift
		if s <= 0 {
			s = defaultROIShift
		}
		return r.Rect, s, true
	}
	return image.Rectangle{}, 0, false
}

// defaultROIShift is used when an ROIRegion leaves Shift unset; it is large
// enough in practice to separate ROI coefficients from background ones
// across the guard-bit range this encoder uses by default.
const defaultROIShift = 8

// encodeTile runs the full Tier-1/Tier-2 pipeline for one tile: forward
// DWT, ROI shift, EBCOT entropy coding (concurrently per component,
// mirroring decoder.decodeTile's per-component concurrency), PCRD rate
// allocation across the configured quality layers, and Annex B packet
// emission, wrapped in its SOT/SOD tile-part header. Because encoding and
// decoding share tcd's precinct/tag-tree geometry and the same
// PacketEncoder/PacketDecoder pair, a codestream built here decodes through
// this module's own tcd.TileDecoder.
func (e *encoder) encodeTile(tileIdx int) ([]byte, error) {
	tileEncoder := tcd.NewTileEncoder(e.header)
	tileEncoder.InitTile(tileIdx, e.componentData)
	tile := tileEncoder.Tile()

	// Each component's DWT, ROI shift, and Tier-1 coding are independent;
	// only the shared tileEncoder's read-only header is touched concurrently.
	var g errgroup.Group
	for _, tc := range tile.Components {
		tc := tc
		if tc == nil {
			continue
		}
		g.Go(func() error {
			tileEncoder.ComputeStepSizes(tc)
			tileEncoder.ApplyForwardDWT(tc)
			if rect, shift, ok := e.roiComponentShift(tc.Index); ok {
				roi := tcd.ROIBounds{X0: rect.Min.X, Y0: rect.Min.Y, X1: rect.Max.X, Y1: rect.Max.Y}
				tileEncoder.ApplyROIShift(tc, roi, shift)
			}
			tileEncoder.EncodeTileComponent(tc)
			tileEncoder.BuildPrecincts(tc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	numLayers := int(e.header.CodingStyle.NumLayers)
	if numLayers <= 0 {
		numLayers = 1
	}

	total := e.tileByteBudget(e.width, e.height)
	unbounded := total <= 0
	if unbounded {
		total = tileEncodedByteTotal(tile)
	}
	budgets := layerBudgets(numLayers, total)
	if unbounded {
		budgets[len(budgets)-1] = 0
	}
	tileEncoder.AllocateRates(budgets)

	var buf bytes.Buffer
	if err := e.encodeTilePackets(&buf, tile, numLayers); err != nil {
		return nil, fmt.Errorf("encoding packets: %w", err)
	}

	return e.createTileHeader(tileIdx, buf.Bytes()), nil
}

// encodeTilePackets walks every layer/resolution/component/precinct packet
// in progression order and writes its Annex B packet header and body,
// mirroring decoder.decodeTilePackets's iteration so the packet stream this
// encoder produces is exactly what that decoder expects to read back.
func (e *encoder) encodeTilePackets(buf *bytes.Buffer, tile *tcd.Tile, numLayers int) error {
	cod := e.header.CodingStyle
	numComponents := len(tile.Components)
	numResolutions := cod.NumResolutions()

	precinctDims := make([][][]int, numComponents)
	for c, tc := range tile.Components {
		precinctDims[c] = make([][]int, numResolutions)
		for r := 0; r < numResolutions && tc != nil && r < len(tc.Resolutions); r++ {
			precinctDims[c][r] = []int{1}
		}
	}

	it := tcd.NewPacketIterator(numComponents, numResolutions, numLayers, precinctDims, codestream.ProgressionOrder(cod.ProgressionOrder))
	pe := tcd.NewPacketEncoder(buf)

	for {
		pk, ok := it.Next()
		if !ok {
			break
		}
		tc := tile.Components[pk.Component]
		if tc == nil || pk.Resolution >= len(tc.Resolutions) {
			continue
		}
		res := tc.Resolutions[pk.Resolution]
		if pk.Precinct >= len(res.Precincts) {
			continue
		}
		if err := pe.EncodePacket(res.Precincts[pk.Precinct], pk.Layer, e.options.EnableSOP, e.options.EnableEPH); err != nil {
			return fmt.Errorf("packet(l=%d,r=%d,c=%d,p=%d): %w", pk.Layer, pk.Resolution, pk.Component, pk.Precinct, err)
		}
	}

	return nil
}

// createTileHeader creates the tile-part header.
func (e *encoder) createTileHeader(tileIdx int, tileData []byte) []byte {
	sotLength := 10
	tilePartLength := uint32(14 + len(tileData))

	header := make([]byte, 14)
	binary.BigEndian.PutUint16(header[0:2], uint16(codestream.SOT))
	binary.BigEndian.PutUint16(header[2:4], uint16(sotLength))
	binary.BigEndian.PutUint16(header[4:6], uint16(tileIdx))
	binary.BigEndian.PutUint32(header[6:10], tilePartLength)
	header[10] = 0 // Tile-part index
	header[11] = 1 // Number of tile-parts
	binary.BigEndian.PutUint16(header[12:14], uint16(codestream.SOD))

	return append(header, tileData...)
}

// writeJP2 writes a JP2 file.
func (e *encoder) writeJP2(codestream []byte) error {
	boxWriter := box.NewWriter(e.w)

	// Write signature
	if err := boxWriter.WriteSignature(); err != nil {
		return err
	}

	// Write file type box
	ftypBox := box.CreateFileTypeBox()
	if err := boxWriter.WriteBox(ftypBox); err != nil {
		return err
	}

	// Determine colorspace from options or default based on components
	var colorspace uint32
	switch e.options.ColorSpace {
	case ColorSpaceBilevel:
		colorspace = box.CSBilevel1
	case ColorSpaceGray:
		colorspace = box.CSGray
	case ColorSpaceSRGB:
		colorspace = box.CSSRGB
	case ColorSpaceSYCC:
		colorspace = box.CSYCbCr1
	case ColorSpaceYCbCr2:
		colorspace = box.CSYCbCr2
	case ColorSpaceYCbCr3:
		colorspace = box.CSYCbCr3
	case ColorSpacePhotoYCC:
		colorspace = box.CSPhotoYCC
	case ColorSpaceCMY:
		colorspace = box.CSCMY
	case ColorSpaceCMYK:
		colorspace = box.CSCMYK
	case ColorSpaceYCCK:
		colorspace = box.CSYCCK
	case ColorSpaceCIELab:
		colorspace = box.CSCIELab
	case ColorSpaceCIEJab:
		colorspace = box.CSCIEJab
	case ColorSpaceESRGB:
		colorspace = box.CSeSRGB
	case ColorSpaceROMMRGB:
		colorspace = box.CSROMMRGB
	case ColorSpaceYPbPr60:
		colorspace = box.CSYPbPr1125
	case ColorSpaceYPbPr50:
		colorspace = box.CSYPbPr1250
	case ColorSpaceEYCC:
		colorspace = box.CSeSYCC
	default:
		// Default based on number of components
		if e.numComponents == 1 {
			colorspace = box.CSGray
		} else {
			// 3 or 4 components default to sRGB (4th component is alpha)
			colorspace = box.CSSRGB
		}
	}

	// Write JP2 header
	jp2hBox := box.CreateJP2Header(
		uint32(e.width),
		uint32(e.height),
		uint16(e.numComponents),
		uint8(e.precision-1),
		colorspace,
	)
	if err := boxWriter.WriteBox(jp2hBox); err != nil {
		return err
	}

	// Write codestream
	jp2cBox := box.CreateCodestreamBox(codestream)
	if err := boxWriter.WriteBox(jp2cBox); err != nil {
		return err
	}

	return nil
}

// Ensure encoder implements required interfaces
var _ color.Model = (*encoder)(nil).colorModel()

func (e *encoder) colorModel() color.Model {
	return nil
}
