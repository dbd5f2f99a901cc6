// Package tcd implements the Tile Coder/Decoder for JPEG 2000.
//
// The TCD orchestrates the encoding and decoding of individual tiles,
// including:
// - Wavelet transform (DWT)
// - Quantization
// - Code-block entropy coding (T1)
// - Packet assembly (T2)
package tcd

import (
	"math"

	"github.com/lumenforge/jp2k/internal/bio"
	"github.com/lumenforge/jp2k/internal/codestream"
	"github.com/lumenforge/jp2k/internal/dwt"
	"github.com/lumenforge/jp2k/internal/entropy"
)

// Tile represents a single tile in the image.
type Tile struct {
	// Tile index
	Index int

	// Tile bounds in image coordinates
	X0, Y0, X1, Y1 int

	// Components
	Components []*TileComponent
}

// TileComponent represents a single component within a tile.
type TileComponent struct {
	// Component index
	Index int

	// Component bounds (may differ due to subsampling)
	X0, Y0, X1, Y1 int

	// Resolution levels
	Resolutions []*Resolution

	// Coefficient data
	Data []int32

	// Floating point data for 9-7 transform
	DataFloat []float64
}

// Resolution represents a resolution level within a tile-component.
type Resolution struct {
	// Resolution level (0 = coarsest, the LL band alone)
	Level int

	// Bounds at this resolution
	X0, Y0, X1, Y1 int

	// Number of bands (1 for LL, 3 for others)
	NumBands int

	// Bands at this resolution
	Bands []*Band

	// Precincts
	Precincts []*Precinct

	// Precinct grid dimensions
	PrecinctsX, PrecinctsY int
}

// Band represents a subband within a resolution level.
type Band struct {
	// Band type (LL, HL, LH, HH)
	Type int

	// Band bounds
	X0, Y0, X1, Y1 int

	// Quantization step size
	StepSize float64

	// Maximum number of coded magnitude bit-planes for this band (Mb),
	// derived from the guard bits and the step size exponent.
	MaxBitPlanes int

	// Code-blocks
	CodeBlocks []*CodeBlock

	// Code-block grid dimensions
	CodeBlocksX, CodeBlocksY int
}

// Precinct represents a precinct for packet organization.
type Precinct struct {
	// Precinct index
	Index int

	// Bounds
	X0, Y0, X1, Y1 int

	// Code-blocks in this precinct, per band
	CodeBlocks [][]*CodeBlock

	// Tag trees for inclusion and IMSB
	InclusionTree *TagTree
	IMSBTree      *TagTree
}

// CodeBlock represents a code-block for entropy coding.
type CodeBlock struct {
	// Code-block index
	Index int

	// Bounds
	X0, Y0, X1, Y1 int

	// Encoded data
	Data []byte

	// Coding passes
	Passes []CodingPass

	// Number of zero bit-planes
	ZeroBitPlanes int

	// Total number of bit-planes
	TotalBitPlanes int

	// IncludedInLayers holds the index of the quality layer in which this
	// code-block was first included in a packet, or -1 if it has not been
	// included yet. A freshly initialized code-block always starts at -1;
	// zero is a real layer index, not a sentinel, so it must never be the
	// zero value.
	IncludedInLayers int

	// PassesIncluded is the number of coding passes whose bytes have
	// already been accumulated into Data, across every layer processed so
	// far. Each packet that contributes new passes to this code-block
	// appends rather than replaces, per Annex B.10's incremental
	// per-layer contribution model.
	PassesIncluded int

	// Decoded coefficient data
	Coefficients []int32

	// Checkpoints records the (length, distortion) ladder produced during
	// encoding, one entry per bit-plane, for PCRD truncation selection.
	Checkpoints []entropy.PassCheckpoint

	// LayerTruncationPoints holds, per quality layer, the index into
	// Checkpoints this code-block's cumulative data is truncated at by
	// that layer (-1 if the code-block contributes nothing through that
	// layer). Entries are non-decreasing across layers, set by the rate
	// allocator.
	LayerTruncationPoints []int

	// Lblock is the per-code-block length-coding state of Annex B.10.3: the
	// number of bits used to code a packet's new-byte-count, which only
	// ever grows and persists across every packet this code-block appears
	// in. Zero means "not yet initialized"; it is set to its starting
	// value of 3 on first use.
	Lblock int
}

// CodingPass represents a single coding pass.
type CodingPass struct {
	// Pass type (significance, refinement, cleanup)
	Type int

	// Length in bytes
	Length int

	// Cumulative length
	CumulativeLength int

	// Rate-distortion slope
	Slope float64

	// Terminated flag
	Terminated bool
}

// Pass type constants.
const (
	PassSignificance = iota
	PassRefinement
	PassCleanup
)

// TagTree implements the tag tree coding procedure of Annex B.10.2: a
// quad-tree over a grid of leaf values where each internal node holds the
// minimum of its children, so that a reader only pays for the bits needed
// to learn whether a leaf's value clears a given threshold — values already
// implied by an ancestor are never re-signalled.
type TagTree struct {
	width, height int
	levelW, levelH []int
	nodes          [][]tagNode
}

// tagNode is one node of a tag tree. value is the minimum leaf value
// reachable from this node once Build has run (or, on the decode side, the
// best value learned so far); low is the lowest threshold already ruled
// out for this node by a previous Encode/Decode call.
type tagNode struct {
	value int
	low   int
	known bool
}

// tagMaxValue marks a decode-side node whose value has not yet been learned.
const tagMaxValue = int(^uint(0) >> 1)

// NewTagTree creates a tag tree over a width x height grid of leaves.
func NewTagTree(width, height int) *TagTree {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	t := &TagTree{width: width, height: height}

	w, h := width, height
	for {
		t.levelW = append(t.levelW, w)
		t.levelH = append(t.levelH, h)
		if w == 1 && h == 1 {
			break
		}
		w = (w + 1) / 2
		h = (h + 1) / 2
	}

	t.nodes = make([][]tagNode, len(t.levelW))
	for lvl := range t.nodes {
		n := t.levelW[lvl] * t.levelH[lvl]
		t.nodes[lvl] = make([]tagNode, n)
		for i := range t.nodes[lvl] {
			t.nodes[lvl][i].value = tagMaxValue
		}
	}
	return t
}

// SetValue sets a leaf's true value. Used on the encode side, where every
// leaf value is known ahead of time; call Build once after every leaf has
// been set and before the first Encode call.
func (t *TagTree) SetValue(x, y, value int) {
	t.nodes[0][y*t.width+x].value = value
}

// Build propagates every leaf's value up to the root as a running minimum,
// giving each internal node the value Annex B.10.2 actually transmits at
// that level.
func (t *TagTree) Build() {
	for lvl := 0; lvl+1 < len(t.nodes); lvl++ {
		w, h := t.levelW[lvl], t.levelH[lvl]
		pw := t.levelW[lvl+1]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := t.nodes[lvl][y*w+x].value
				pi := (y/2)*pw + (x / 2)
				if v < t.nodes[lvl+1][pi].value {
					t.nodes[lvl+1][pi].value = v
				}
			}
		}
	}
}

// Reset clears the per-node signalling state (but not the values a Build
// pass established) ahead of a new tile.
func (t *TagTree) Reset() {
	for lvl := range t.nodes {
		for i := range t.nodes[lvl] {
			t.nodes[lvl][i].low = 0
			t.nodes[lvl][i].known = false
		}
	}
}

// path returns, for each level from the leaf (index 0) to the root, the
// node index covering (x, y).
func (t *TagTree) path(x, y int) []int {
	idxs := make([]int, len(t.nodes))
	cx, cy := x, y
	for lvl := range t.nodes {
		idxs[lvl] = cy*t.levelW[lvl] + cx
		cx /= 2
		cy /= 2
	}
	return idxs
}

// Encode writes the bits a reader needs to learn whether leaf (x, y)'s
// value is below threshold, walking the tree from the root down to the
// leaf and skipping any node whose answer an earlier call already fixed.
func (t *TagTree) Encode(w *bio.ByteStuffingWriter, x, y, threshold int) error {
	idxs := t.path(x, y)
	low := 0
	for lvl := len(t.nodes) - 1; lvl >= 0; lvl-- {
		node := &t.nodes[lvl][idxs[lvl]]
		if low < node.low {
			low = node.low
		} else {
			node.low = low
		}
		for low < threshold {
			if low >= node.value {
				if !node.known {
					if err := w.WriteBit(1); err != nil {
						return err
					}
					node.known = true
				}
				break
			}
			if err := w.WriteBit(0); err != nil {
				return err
			}
			low++
		}
		node.low = low
	}
	return nil
}

// Decode reports whether leaf (x, y)'s value is below threshold, reading
// only the bits not already implied by a previous call at a lower
// threshold. Repeated calls with a strictly increasing threshold recover
// the leaf's exact value: the first threshold for which Decode returns
// true is value+1.
func (t *TagTree) Decode(r *bio.ByteStuffingReader, x, y, threshold int) (bool, error) {
	idxs := t.path(x, y)
	low := 0
	for lvl := len(t.nodes) - 1; lvl >= 0; lvl-- {
		node := &t.nodes[lvl][idxs[lvl]]
		if low < node.low {
			low = node.low
		} else {
			node.low = low
		}
		for low < threshold && !node.known {
			bit, err := r.ReadBit()
			if err != nil {
				return false, err
			}
			if bit == 1 {
				node.value = low
				node.known = true
			} else {
				low++
			}
		}
		node.low = low
	}
	leaf := &t.nodes[0][idxs[0]]
	return leaf.known && leaf.value < threshold, nil
}

// Value returns the leaf's fully learned value (valid only once a Decode
// call has returned true for some threshold above it).
func (t *TagTree) Value(x, y int) int {
	return t.nodes[0][y*t.width+x].value
}

// TileDecoder decodes a single tile.
type TileDecoder struct {
	header     *codestream.Header
	tileHeader *codestream.TilePartHeader
	tile       *Tile
}

// NewTileDecoder creates a new tile decoder.
func NewTileDecoder(header *codestream.Header) *TileDecoder {
	return &TileDecoder{
		header: header,
	}
}

// Tile returns the current tile being decoded.
func (d *TileDecoder) Tile() *Tile {
	return d.tile
}

// InitTile initializes a tile for decoding.
func (d *TileDecoder) InitTile(tileIndex int) {
	h := d.header

	// Calculate tile bounds
	tileX := tileIndex % int(h.NumTilesX)
	tileY := tileIndex / int(h.NumTilesX)

	x0 := max(int(h.TileXOffset)+tileX*int(h.TileWidth), int(h.ImageXOffset))
	y0 := max(int(h.TileYOffset)+tileY*int(h.TileHeight), int(h.ImageYOffset))
	x1 := min(int(h.TileXOffset)+(tileX+1)*int(h.TileWidth), int(h.ImageWidth))
	y1 := min(int(h.TileYOffset)+(tileY+1)*int(h.TileHeight), int(h.ImageHeight))

	d.tile = &Tile{
		Index:      tileIndex,
		X0:         x0,
		Y0:         y0,
		X1:         x1,
		Y1:         y1,
		Components: make([]*TileComponent, h.NumComponents),
	}

	// Initialize components
	for c := 0; c < int(h.NumComponents); c++ {
		comp := h.ComponentInfo[c]

		// Apply subsampling
		cx0 := ceilDiv(x0, int(comp.SubsamplingX))
		cy0 := ceilDiv(y0, int(comp.SubsamplingY))
		cx1 := ceilDiv(x1, int(comp.SubsamplingX))
		cy1 := ceilDiv(y1, int(comp.SubsamplingY))

		tc := &TileComponent{
			Index: c,
			X0:    cx0,
			Y0:    cy0,
			X1:    cx1,
			Y1:    cy1,
		}

		// Allocate data
		width := cx1 - cx0
		height := cy1 - cy0
		tc.Data = make([]int32, width*height)

		// Initialize resolutions
		numRes := int(h.CodingStyle.NumDecompositions) + 1
		tc.Resolutions = make([]*Resolution, numRes)

		for r := 0; r < numRes; r++ {
			initResolution(h.CodingStyle, tc, r)
		}

		d.tile.Components[c] = tc
	}
}

// initResolution builds one resolution level's band/code-block tree for a
// tile-component, shared by both the encoder and the decoder so the two
// geometries can never drift apart.
func initResolution(h codestream.CodingStyleDefault, tc *TileComponent, resLevel int) {
	// Calculate resolution bounds
	scale := 1 << (int(h.NumDecompositions) - resLevel)
	rx0 := ceilDiv(tc.X0, scale)
	ry0 := ceilDiv(tc.Y0, scale)
	rx1 := ceilDiv(tc.X1, scale)
	ry1 := ceilDiv(tc.Y1, scale)

	res := &Resolution{
		Level: resLevel,
		X0:    rx0,
		Y0:    ry0,
		X1:    rx1,
		Y1:    ry1,
	}

	// Initialize bands
	if resLevel == 0 {
		res.NumBands = 1
		res.Bands = []*Band{initBand(h, res, entropy.BandLL)}
	} else {
		res.NumBands = 3
		res.Bands = []*Band{
			initBand(h, res, entropy.BandHL),
			initBand(h, res, entropy.BandLH),
			initBand(h, res, entropy.BandHH),
		}
	}

	tc.Resolutions[resLevel] = res
}

// initBand builds one subband's code-block grid.
func initBand(h codestream.CodingStyleDefault, res *Resolution, bandType int) *Band {
	band := &Band{
		Type: bandType,
	}

	// Calculate band bounds based on type
	switch bandType {
	case entropy.BandLL:
		band.X0 = res.X0
		band.Y0 = res.Y0
		band.X1 = res.X1
		band.Y1 = res.Y1
	case entropy.BandHL:
		band.X0 = res.X0
		band.Y0 = res.Y0
		band.X1 = res.X1
		band.Y1 = (res.Y0 + res.Y1) / 2
	case entropy.BandLH:
		band.X0 = res.X0
		band.Y0 = res.Y0
		band.X1 = (res.X0 + res.X1) / 2
		band.Y1 = res.Y1
	case entropy.BandHH:
		band.X0 = (res.X0 + res.X1) / 2
		band.Y0 = (res.Y0 + res.Y1) / 2
		band.X1 = res.X1
		band.Y1 = res.Y1
	}

	// Calculate code-block grid
	cbWidth := 1 << (h.CodeBlockWidthExp + 2)
	cbHeight := 1 << (h.CodeBlockHeightExp + 2)

	band.CodeBlocksX = ceilDiv(band.X1-band.X0, cbWidth)
	band.CodeBlocksY = ceilDiv(band.Y1-band.Y0, cbHeight)

	// Initialize code-blocks
	numCB := band.CodeBlocksX * band.CodeBlocksY
	band.CodeBlocks = make([]*CodeBlock, numCB)

	for i := 0; i < numCB; i++ {
		cbX := i % band.CodeBlocksX
		cbY := i / band.CodeBlocksX

		cb := &CodeBlock{
			Index:            i,
			X0:               band.X0 + cbX*cbWidth,
			Y0:               band.Y0 + cbY*cbHeight,
			X1:               min(band.X0+(cbX+1)*cbWidth, band.X1),
			Y1:               min(band.Y0+(cbY+1)*cbHeight, band.Y1),
			IncludedInLayers: -1,
		}
		band.CodeBlocks[i] = cb
	}

	return band
}

// DecodeCodeBlock decodes a single code-block using the standard EBCOT
// entropy decoder (MQ arithmetic coder + context modelling).
func (d *TileDecoder) DecodeCodeBlock(cb *CodeBlock, bandType int) error {
	if len(cb.Data) == 0 {
		return nil
	}

	width := cb.X1 - cb.X0
	height := cb.Y1 - cb.Y0

	t1 := entropy.NewT1(width, height)
	cb.Coefficients = t1.Decode(cb.Data, cb.TotalBitPlanes, bandType)

	return nil
}

// quantizationFor returns the quantization parameters in effect for a
// component, preferring a component-specific QCC override over the
// codestream's default QCD.
func (d *TileDecoder) quantizationFor(compIdx int) codestream.QuantizationDefault {
	return quantizationFor(d.header, compIdx)
}

func quantizationFor(h *codestream.Header, compIdx int) codestream.QuantizationDefault {
	if q, ok := h.ComponentQuantization[uint16(compIdx)]; ok {
		return codestream.QuantizationDefault{
			QuantizationStyle: q.QuantizationStyle,
			NumGuardBits:      q.NumGuardBits,
			StepSizes:         q.StepSizes,
		}
	}
	return h.Quantization
}

// stepSizeValue derives Delta_b from a QCD/QCC step-size entry per Annex E,
// approximating the subband's nominal dynamic range R_b with the
// component's coded precision (the exact formula also folds in a
// per-subband gain term this implementation does not track separately).
func stepSizeValue(s codestream.StepSize, precision int) float64 {
	return (1 + float64(s.Mantissa)/2048.0) * math.Pow(2, float64(precision-int(s.Exponent)))
}

// ComputeStepSizes assigns every band's dequantization step size from the
// component's quantization style (none/reversible, derived, or expounded).
func (d *TileDecoder) ComputeStepSizes(tc *TileComponent) {
	computeStepSizes(d.header, tc)
}

// ComputeStepSizes mirrors TileDecoder.ComputeStepSizes for the encode
// side: the encoder needs each band's MaxBitPlanes to compute how many
// leading all-zero bit-planes (ZeroBitPlanes) a code-block's coded data
// skips, signalled to the decoder via the precinct's IMSB tag tree.
func (e *TileEncoder) ComputeStepSizes(tc *TileComponent) {
	computeStepSizes(e.header, tc)
}

func computeStepSizes(h *codestream.Header, tc *TileComponent) {
	q := quantizationFor(h, tc.Index)
	style := q.Style()
	precision := h.ComponentInfo[tc.Index].Precision()
	numLevels := int(h.CodingStyle.NumDecompositions)
	guard := q.GuardBits()

	idx := 0
	for _, res := range tc.Resolutions {
		for _, band := range res.Bands {
			var exponent int
			switch style {
			case codestream.QuantizationNone:
				band.StepSize = 1
				if len(q.StepSizes) > idx {
					exponent = int(q.StepSizes[idx].Exponent)
				}
			case codestream.QuantizationScalarDerived:
				if len(q.StepSizes) > 0 {
					levelsFromLL := numLevels - res.Level
					band.StepSize = stepSizeValue(q.StepSizes[0], precision) / math.Pow(2, float64(levelsFromLL))
					exponent = int(q.StepSizes[0].Exponent) + levelsFromLL
				} else {
					band.StepSize = 1
				}
			default: // QuantizationScalarExpounded
				if idx < len(q.StepSizes) {
					band.StepSize = stepSizeValue(q.StepSizes[idx], precision)
					exponent = int(q.StepSizes[idx].Exponent)
				} else {
					band.StepSize = 1
				}
			}
			band.MaxBitPlanes = guard + exponent - 1
			if band.MaxBitPlanes < 1 {
				band.MaxBitPlanes = 1
			}
			idx++
		}
	}
}

// subbandRect locates a band's coefficients within the packed width x
// height buffer that ApplyInverseDWT/ApplyForwardDWT operate on. Resolution
// 0 is the coarsest (LL-only); resolution numLevels is the finest.
func subbandRect(width, height, numLevels, resLevel, bandType int) dwt.SubbandBounds {
	if numLevels == 0 {
		return dwt.SubbandBounds{X0: 0, Y0: 0, X1: width, Y1: height}
	}
	if resLevel == 0 {
		ll, _, _, _ := dwt.CalculateSubbands(width, height, numLevels-1)
		return ll
	}
	_, hl, lh, hh := dwt.CalculateSubbands(width, height, numLevels-resLevel)
	switch bandType {
	case entropy.BandHL:
		return hl
	case entropy.BandLH:
		return lh
	default:
		return hh
	}
}

// dequantizeCoeff reconstructs an integer coefficient from its quantization
// index. A step size of 1 (the reversible path) is a pure pass-through.
// roiShift is the component's RGN max-shift value (0 if the component has
// no declared region of interest): a coefficient whose decoded magnitude is
// at or above 2^roiShift was up-shifted on encode and is brought back down
// to its true magnitude here, per the max-shift method of §4.4.
func dequantizeCoeff(v int32, step float64, roiShift int) int32 {
	if roiShift > 0 {
		mag := v
		sign := int32(1)
		if mag < 0 {
			mag, sign = -mag, -1
		}
		if mag >= int32(1)<<uint(roiShift) {
			mag >>= uint(roiShift)
		}
		v = mag * sign
	}
	if step == 1 {
		return v
	}
	f := float64(v) * step
	if f >= 0 {
		return int32(f + 0.5)
	}
	return int32(f - 0.5)
}

// DecodeTileComponent runs Tier-1 entropy decoding and dequantization for
// every code-block of a tile-component and scatters the results into its
// packed coefficient buffer, ready for ApplyInverseDWT.
func (d *TileDecoder) DecodeTileComponent(tc *TileComponent) error {
	h := d.header.CodingStyle
	numLevels := int(h.NumDecompositions)
	width := tc.X1 - tc.X0
	height := tc.Y1 - tc.Y0

	d.ComputeStepSizes(tc)
	roiShift := d.header.ROIShift[uint16(tc.Index)]

	for _, res := range tc.Resolutions {
		for _, band := range res.Bands {
			rect := subbandRect(width, height, numLevels, res.Level, band.Type)
			for _, cb := range band.CodeBlocks {
				cb.TotalBitPlanes = band.MaxBitPlanes - cb.ZeroBitPlanes
				if cb.TotalBitPlanes < 0 {
					cb.TotalBitPlanes = 0
				}
				if err := d.DecodeCodeBlock(cb, band.Type); err != nil {
					return err
				}
				if len(cb.Coefficients) == 0 {
					continue
				}
				cbw := cb.X1 - cb.X0
				cbh := cb.Y1 - cb.Y0
				offX := cb.X0 - band.X0
				offY := cb.Y0 - band.Y0
				for y := 0; y < cbh; y++ {
					dy := rect.Y0 + offY + y
					if dy < rect.Y0 || dy >= rect.Y1 || dy >= height {
						continue
					}
					for x := 0; x < cbw; x++ {
						dx := rect.X0 + offX + x
						if dx < rect.X0 || dx >= rect.X1 || dx >= width {
							continue
						}
						tc.Data[dy*width+dx] = dequantizeCoeff(cb.Coefficients[y*cbw+x], band.StepSize, roiShift)
					}
				}
			}
		}
	}
	return nil
}

// BuildPrecincts assigns every resolution level a single precinct spanning
// all of its code-blocks. This implementation does not subdivide
// resolutions with the PRECINCTS coding style bit set into multiple
// precincts; every band's code-blocks are addressed through one inclusion
// and one zero-bit-plane tag tree per resolution.
func (d *TileDecoder) BuildPrecincts(tc *TileComponent) {
	buildPrecincts(tc)
}

// BuildPrecincts mirrors TileDecoder.BuildPrecincts for the encode side so
// both directions address code-blocks through the identical precinct/tag-
// tree geometry.
func (e *TileEncoder) BuildPrecincts(tc *TileComponent) {
	buildPrecincts(tc)
}

func buildPrecincts(tc *TileComponent) {
	for _, res := range tc.Resolutions {
		if len(res.Bands) == 0 {
			continue
		}
		grid := res.Bands[0]
		pr := &Precinct{
			X0:         res.X0,
			Y0:         res.Y0,
			X1:         res.X1,
			Y1:         res.Y1,
			CodeBlocks: make([][]*CodeBlock, len(res.Bands)),
		}
		for bi, band := range res.Bands {
			pr.CodeBlocks[bi] = band.CodeBlocks
		}
		w, h := grid.CodeBlocksX, grid.CodeBlocksY
		if w == 0 {
			w = 1
		}
		if h == 0 {
			h = 1
		}
		pr.InclusionTree = NewTagTree(w, h)
		pr.IMSBTree = NewTagTree(w, h)
		res.Precincts = []*Precinct{pr}
		res.PrecinctsX, res.PrecinctsY = 1, 1
	}
}

// ApplyInverseDWT applies the inverse wavelet transform.
func (d *TileDecoder) ApplyInverseDWT(tc *TileComponent) {
	h := d.header.CodingStyle
	numLevels := int(h.NumDecompositions)

	width := tc.X1 - tc.X0
	height := tc.Y1 - tc.Y0

	if h.WaveletTransform == 1 {
		// 5-3 reversible
		dwt.ReconstructMultiLevel53(tc.Data, width, height, numLevels)
	} else {
		// 9-7 irreversible
		tc.DataFloat = make([]float64, len(tc.Data))
		for i, v := range tc.Data {
			tc.DataFloat[i] = float64(v)
		}
		dwt.ReconstructMultiLevel97(tc.DataFloat, width, height, numLevels)
		for i, v := range tc.DataFloat {
			tc.Data[i] = int32(v + 0.5)
		}
	}
}

// TileEncoder encodes a single tile.
type TileEncoder struct {
	header *codestream.Header
	tile   *Tile
}

// NewTileEncoder creates a new tile encoder.
func NewTileEncoder(header *codestream.Header) *TileEncoder {
	return &TileEncoder{
		header: header,
	}
}

// InitTile initializes a tile for encoding.
func (e *TileEncoder) InitTile(tileIndex int, componentData [][]int32) {
	h := e.header

	// Calculate tile bounds (same as decoder)
	tileX := tileIndex % int(h.NumTilesX)
	tileY := tileIndex / int(h.NumTilesX)

	x0 := max(int(h.TileXOffset)+tileX*int(h.TileWidth), int(h.ImageXOffset))
	y0 := max(int(h.TileYOffset)+tileY*int(h.TileHeight), int(h.ImageYOffset))
	x1 := min(int(h.TileXOffset)+(tileX+1)*int(h.TileWidth), int(h.ImageWidth))
	y1 := min(int(h.TileYOffset)+(tileY+1)*int(h.TileHeight), int(h.ImageHeight))

	e.tile = &Tile{
		Index:      tileIndex,
		X0:         x0,
		Y0:         y0,
		X1:         x1,
		Y1:         y1,
		Components: make([]*TileComponent, h.NumComponents),
	}

	// Initialize components with provided data
	for c := 0; c < int(h.NumComponents); c++ {
		comp := h.ComponentInfo[c]

		cx0 := ceilDiv(x0, int(comp.SubsamplingX))
		cy0 := ceilDiv(y0, int(comp.SubsamplingY))
		cx1 := ceilDiv(x1, int(comp.SubsamplingX))
		cy1 := ceilDiv(y1, int(comp.SubsamplingY))

		tc := &TileComponent{
			Index: c,
			X0:    cx0,
			Y0:    cy0,
			X1:    cx1,
			Y1:    cy1,
			Data:  componentData[c],
		}

		// Initialize resolutions/bands/code-blocks with the same geometry
		// the decoder builds, so packets this encoder emits line up with
		// the precinct and tag-tree addressing the decoder expects.
		numRes := int(h.CodingStyle.NumDecompositions) + 1
		tc.Resolutions = make([]*Resolution, numRes)
		for r := 0; r < numRes; r++ {
			initResolution(h.CodingStyle, tc, r)
		}

		e.tile.Components[c] = tc
	}
}

// Tile returns the current tile being encoded.
func (e *TileEncoder) Tile() *Tile {
	return e.tile
}

// EncodeTileComponent runs Tier-1 entropy coding for every code-block of a
// tile-component, after ApplyForwardDWT and ComputeStepSizes have run, and
// records each code-block's ZeroBitPlanes/TotalBitPlanes so the packet
// encoder's IMSB tag tree can signal them.
func (e *TileEncoder) EncodeTileComponent(tc *TileComponent) {
	h := e.header.CodingStyle
	numLevels := int(h.NumDecompositions)
	width := tc.X1 - tc.X0
	height := tc.Y1 - tc.Y0

	for _, res := range tc.Resolutions {
		for _, band := range res.Bands {
			rect := subbandRect(width, height, numLevels, res.Level, band.Type)
			for _, cb := range band.CodeBlocks {
				data := extractBandRegion(tc.Data, width, height, rect, band, cb)
				e.EncodeCodeBlock(cb, data, band.Type)
				cb.TotalBitPlanes = len(cb.Checkpoints)
				cb.ZeroBitPlanes = band.MaxBitPlanes - cb.TotalBitPlanes
				if cb.ZeroBitPlanes < 0 {
					cb.ZeroBitPlanes = 0
				}
			}
		}
	}
}

// AllocateRates runs PCRD over every code-block of the tile against a
// sequence of cumulative per-layer byte budgets, then prepares each
// precinct's inclusion and zero-bit-plane tag trees from the result. Call
// this once per tile, after every component's EncodeTileComponent and
// BuildPrecincts have run and before any packet is encoded.
func (e *TileEncoder) AllocateRates(layerBudgets []int) {
	var blocks []*CodeBlock
	for _, tc := range e.tile.Components {
		for _, res := range tc.Resolutions {
			for _, band := range res.Bands {
				blocks = append(blocks, band.CodeBlocks...)
			}
		}
	}
	AllocateLayers(blocks, layerBudgets)

	for _, cb := range blocks {
		cb.IncludedInLayers = -1
		for li, idx := range cb.LayerTruncationPoints {
			if idx >= 0 {
				cb.IncludedInLayers = li
				break
			}
		}
	}

	for _, tc := range e.tile.Components {
		for _, res := range tc.Resolutions {
			for _, pr := range res.Precincts {
				for _, bandCBs := range pr.CodeBlocks {
					for cbIdx, cb := range bandCBs {
						x, y := cbIdx%pr.InclusionTree.width, cbIdx/pr.InclusionTree.width
						incl := cb.IncludedInLayers
						if incl < 0 {
							// Never included: a value at or beyond every
							// layer's threshold so Decode never resolves
							// to "included" for this code-block.
							incl = len(layerBudgets)
						}
						pr.InclusionTree.SetValue(x, y, incl)
						pr.IMSBTree.SetValue(x, y, cb.ZeroBitPlanes)
					}
				}
				pr.InclusionTree.Build()
				pr.IMSBTree.Build()
			}
		}
	}
}

// ROIBounds is an image-space rectangle, in the same coordinate system as
// the tile-component's X0..Y1 bounds.
type ROIBounds struct {
	X0, Y0, X1, Y1 int
}

// ApplyROIShift implements the max-shift method of §4.4: every coefficient
// whose subband region overlaps roi is left-shifted by shift magnitude bits
// before entropy coding, so that on decode every ROI coefficient's magnitude
// dominates every background coefficient's and a partial bitstream decodes
// the region of interest first. Must run after ApplyForwardDWT and before
// EncodeTileComponent.
func (e *TileEncoder) ApplyROIShift(tc *TileComponent, roi ROIBounds, shift int) {
	if shift <= 0 {
		return
	}
	h := e.header.CodingStyle
	numLevels := int(h.NumDecompositions)
	width := tc.X1 - tc.X0
	height := tc.Y1 - tc.Y0

	for _, res := range tc.Resolutions {
		scale := 1 << (numLevels - res.Level)
		for _, band := range res.Bands {
			xDiv, yDiv := scale, scale
			switch band.Type {
			case entropy.BandHL:
				yDiv *= 2
			case entropy.BandLH:
				xDiv *= 2
			case entropy.BandHH:
				xDiv *= 2
				yDiv *= 2
			}
			rx0, ry0 := roi.X0/xDiv, roi.Y0/yDiv
			rx1, ry1 := ceilDiv(roi.X1, xDiv), ceilDiv(roi.Y1, yDiv)
			rect := subbandRect(width, height, numLevels, res.Level, band.Type)
			for _, cb := range band.CodeBlocks {
				if cb.X1 <= rx0 || cb.X0 >= rx1 || cb.Y1 <= ry0 || cb.Y0 >= ry1 {
					continue
				}
				shiftCoefficients(tc.Data, width, height, rect, band, cb, rx0, ry0, rx1, ry1, shift)
			}
		}
	}
}

// shiftCoefficients left-shifts the magnitude of every coefficient of cb
// that falls within [rx0,rx1) x [ry0,ry1) in the band's own coordinate
// frame, saturating rather than overflowing int32.
func shiftCoefficients(packed []int32, width, height int, rect dwt.SubbandBounds, band *Band, cb *CodeBlock, rx0, ry0, rx1, ry1, shift int) {
	x0, y0 := max(cb.X0, rx0), max(cb.Y0, ry0)
	x1, y1 := min(cb.X1, rx1), min(cb.Y1, ry1)
	for y := y0; y < y1; y++ {
		py := rect.Y0 + (y - band.Y0)
		if py < rect.Y0 || py >= rect.Y1 || py >= height {
			continue
		}
		for x := x0; x < x1; x++ {
			px := rect.X0 + (x - band.X0)
			if px < rect.X0 || px >= rect.X1 || px >= width {
				continue
			}
			idx := py*width + px
			v := packed[idx]
			mag, sign := v, int32(1)
			if mag < 0 {
				mag, sign = -mag, -1
			}
			const maxMag = int32(1)<<31 - 1
			if shift < 31 && mag <= maxMag>>uint(shift) {
				mag <<= uint(shift)
			} else {
				mag = maxMag
			}
			packed[idx] = mag * sign
		}
	}
}

// extractBandRegion copies one code-block's coefficients out of the tile-
// component's packed coefficient buffer, the inverse of the scatter
// DecodeTileComponent performs.
func extractBandRegion(packed []int32, width, height int, rect dwt.SubbandBounds, band *Band, cb *CodeBlock) []int32 {
	cbw := cb.X1 - cb.X0
	cbh := cb.Y1 - cb.Y0
	offX := cb.X0 - band.X0
	offY := cb.Y0 - band.Y0
	out := make([]int32, cbw*cbh)
	for y := 0; y < cbh; y++ {
		sy := rect.Y0 + offY + y
		if sy < rect.Y0 || sy >= rect.Y1 || sy >= height {
			continue
		}
		for x := 0; x < cbw; x++ {
			sx := rect.X0 + offX + x
			if sx < rect.X0 || sx >= rect.X1 || sx >= width {
				continue
			}
			out[y*cbw+x] = packed[sy*width+sx]
		}
	}
	return out
}

// ApplyForwardDWT applies the forward wavelet transform.
func (e *TileEncoder) ApplyForwardDWT(tc *TileComponent) {
	h := e.header.CodingStyle
	numLevels := int(h.NumDecompositions)

	width := tc.X1 - tc.X0
	height := tc.Y1 - tc.Y0

	if h.WaveletTransform == 1 {
		// 5-3 reversible
		dwt.DecomposeMultiLevel53(tc.Data, width, height, numLevels)
	} else {
		// 9-7 irreversible
		tc.DataFloat = make([]float64, len(tc.Data))
		for i, v := range tc.Data {
			tc.DataFloat[i] = float64(v)
		}
		dwt.DecomposeMultiLevel97(tc.DataFloat, width, height, numLevels)
		// Quantize back to integers
		for i, v := range tc.DataFloat {
			if v >= 0 {
				tc.Data[i] = int32(v + 0.5)
			} else {
				tc.Data[i] = int32(v - 0.5)
			}
		}
	}
}

// EncodeCodeBlock encodes a single code-block using the standard EBCOT
// entropy encoder, recording per-bit-plane (length, distortion) checkpoints
// so the rate allocator can later choose a truncation point.
func (e *TileEncoder) EncodeCodeBlock(cb *CodeBlock, data []int32, bandType int) {
	width := cb.X1 - cb.X0
	height := cb.Y1 - cb.Y0

	t1 := entropy.NewT1(width, height)
	t1.SetData(data)
	coded, checkpoints := t1.EncodeRD(bandType)
	cb.Data = coded
	cb.Passes = make([]CodingPass, len(checkpoints))
	for i, cp := range checkpoints {
		cb.Passes[i] = CodingPass{
			Type:             i % 3,
			Length:           cp.CumulativeLength,
			CumulativeLength: cp.CumulativeLength,
		}
	}
	cb.Checkpoints = checkpoints
}

// Helper functions

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
