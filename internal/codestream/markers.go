// Package codestream implements JPEG 2000 codestream marker parsing,
// header modeling, and encoding (ISO/IEC 15444-1 Annex A).
package codestream

// Marker identifies a two-byte JPEG 2000 marker code. Every value below is
// fixed by Annex A — this file assigns no codes of its own.
type Marker uint16

// Delimiting markers: frame the codestream and each tile-part. Of these,
// only SOT carries a following length field.
const (
	SOC Marker = 0xFF4F // Start of codestream
	SOT Marker = 0xFF90 // Start of tile-part
	SOD Marker = 0xFF93 // Start of data
	EOC Marker = 0xFFD9 // End of codestream
)

// SIZ is the only fixed-information marker segment: image and tile
// geometry, sent exactly once per codestream.
const SIZ Marker = 0xFF51

// Functional marker segments configure coding style, quantization, and
// region-of-interest shifting, at the main-header or tile-part level.
const (
	COD Marker = 0xFF52 // Coding style default
	COC Marker = 0xFF53 // Coding style component
	RGN Marker = 0xFF5E // Region-of-interest
	QCD Marker = 0xFF5C // Quantization default
	QCC Marker = 0xFF5D // Quantization component
	POC Marker = 0xFF5F // Progression order change
)

// Pointer marker segments let a reader locate tile-parts or packets
// without a full sequential parse.
const (
	TLM Marker = 0xFF55 // Tile-part lengths
	PLM Marker = 0xFF57 // Packet lengths, main header
	PLT Marker = 0xFF58 // Packet lengths, tile-part header
	PPM Marker = 0xFF60 // Packed packet headers, main header
	PPT Marker = 0xFF61 // Packed packet headers, tile-part header
)

// In-bitstream markers appear inside packet data itself, not a header.
const (
	SOP Marker = 0xFF91 // Start of packet
	EPH Marker = 0xFF92 // End of packet header
)

// Informational marker segments carry metadata with no decode effect.
const (
	CRG Marker = 0xFF63 // Component registration
	COM Marker = 0xFF64 // Comment
)

// Part 2 markers, recognized for main-header parsing but not acted on
// beyond that (see the module's Non-goals).
const (
	CAP Marker = 0xFF50 // Extended capabilities
	CBD Marker = 0xFF78 // Component bit depth
	MCT Marker = 0xFF74 // Multiple component transform collection
	MCC Marker = 0xFF75 // Multiple component transform component
	MCO Marker = 0xFF77 // Multiple component transform ordering
)

var markerNames = map[Marker]string{
	SOC: "SOC", SOT: "SOT", SOD: "SOD", EOC: "EOC",
	SIZ: "SIZ",
	COD: "COD", COC: "COC", RGN: "RGN", QCD: "QCD", QCC: "QCC", POC: "POC",
	TLM: "TLM", PLM: "PLM", PLT: "PLT", PPM: "PPM", PPT: "PPT",
	SOP: "SOP", EPH: "EPH",
	CRG: "CRG", COM: "COM",
	CAP: "CAP", CBD: "CBD", MCT: "MCT", MCC: "MCC", MCO: "MCO",
}

// String renders a marker by its Annex A mnemonic, or "UNKNOWN" for a code
// this build does not recognize.
func (m Marker) String() string {
	if name, ok := markerNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// noLengthMarkers holds the handful of markers with no following Lxxx
// length field — every other recognized marker starts a length-prefixed
// segment.
var noLengthMarkers = map[Marker]bool{SOC: true, SOD: true, EOC: true, EPH: true}

// HasLength reports whether a two-byte length field follows this marker.
func (m Marker) HasLength() bool {
	return !noLengthMarkers[m]
}

// IsDelimiter reports whether m frames the codestream or a tile-part
// rather than configuring or describing one.
func (m Marker) IsDelimiter() bool {
	switch m {
	case SOC, SOT, SOD, EOC:
		return true
	default:
		return false
	}
}

// Coding-style bits packed into a COD/COC marker's Scod/Scoc byte.
const (
	CodingStylePrecincts uint8 = 0x01 // custom (non-default) precinct sizes present
	CodingStyleSOP       uint8 = 0x02 // SOP markers used in packet data
	CodingStyleEPH       uint8 = 0x04 // EPH markers used in packet data
)

// Code-block style bits packed into a COD/COC marker's SPcod/SPcoc byte.
const (
	CodeBlockBypass                 uint8 = 0x01 // selective arithmetic coding bypass
	CodeBlockReset                  uint8 = 0x02 // reset context probabilities each pass
	CodeBlockTermination             uint8 = 0x04 // terminate the arithmetic codeword each pass
	CodeBlockVerticalCausal          uint8 = 0x08 // vertically causal context formation
	CodeBlockPredictableTermination  uint8 = 0x10 // predictable (erasure-friendly) termination
	CodeBlockSegmentationSymbols     uint8 = 0x20 // segmentation symbols at end of each cleanup pass
	CodeBlockHT                      uint8 = 0x40 // high-throughput (Part 15) block coding
)

// Quantization style values packed into a QCD/QCC marker's Sqcd/Sqcc byte.
const (
	QuantizationNone             uint8 = 0x00 // reversible, no quantization
	QuantizationScalarDerived    uint8 = 0x01 // scalar, derived from the LL step size
	QuantizationScalarExpounded  uint8 = 0x02 // scalar, one explicit step size per subband
)

// Comment registration values (Rcom) for the COM marker.
const (
	CommentBinary uint16 = 0 // uninterpreted binary payload
	CommentLatin1 uint16 = 1 // ISO 8859-1 text payload
)

// ProgressionOrder selects the nesting of layer/resolution/component/
// position a codestream's packets are ordered by (Annex A.6.1's Sgcod).
type ProgressionOrder uint8

const (
	LRCP ProgressionOrder = iota // Layer-Resolution-Component-Position
	RLCP                         // Resolution-Layer-Component-Position
	RPCL                         // Resolution-Position-Component-Layer
	PCRL                         // Position-Component-Resolution-Layer
	CPRL                         // Component-Position-Resolution-Layer
)
