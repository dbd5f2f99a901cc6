// Package box implements JP2 (ISO/IEC 15444-1 Annex I) file-format box
// parsing and generation: the length-type-payload container format the
// codestream itself is wrapped in for the .jp2 file format. Every box is:
//
//   - a 4-byte length (or 1, signaling an 8-byte extended length follows)
//   - a 4-byte type code
//   - the box payload, running to the declared length
package box

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Type is a box's 4-byte type code, conventionally written as its ASCII
// rendering (e.g. "jp2h").
type Type uint32

// fourCC packs a 4-character ASCII box code into a Type.
func fourCC(code string) Type {
	return Type(uint32(code[0])<<24 | uint32(code[1])<<16 | uint32(code[2])<<8 | uint32(code[3]))
}

// Signature and file-type boxes: present once, at the start of a JP2 file.
var (
	TypeJP2Signature = fourCC("jP  ")
	TypeFileType     = fourCC("ftyp")
)

// JP2 header super-box and its children.
var (
	TypeJP2Header    = fourCC("jp2h")
	TypeImageHeader  = fourCC("ihdr")
	TypeBitsPerComp  = fourCC("bpcc")
	TypeColorSpec    = fourCC("colr")
	TypePalette      = fourCC("pclr")
	TypeComponentMap = fourCC("cmap")
	TypeChannelDef   = fourCC("cdef")
	TypeResolution   = fourCC("res ")
	TypeCaptureRes   = fourCC("resc")
	TypeDisplayRes   = fourCC("resd")
)

// Codestream boxes.
var (
	TypeContCodestream = fourCC("jp2c")
	TypeCodestreamH    = fourCC("jpch")
	TypeTilePartH      = fourCC("jpth")
)

// Metadata boxes.
var (
	TypeXML      = fourCC("xml ")
	TypeUUID     = fourCC("uuid")
	TypeUUIDInfo = fourCC("uinf")
	TypeUUIDList = fourCC("ulst")
	TypeURL      = fourCC("url ")
)

// TypeIPR is the intellectual-property box.
var TypeIPR = fourCC("jp2i")

// String renders a Type as its 4-character ASCII code.
func (t Type) String() string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(t))
	return string(b)
}

// Box is one length-type-payload unit of a JP2 file.
type Box struct {
	Type     Type
	Length   uint64 // total box length, header included
	Contents []byte
}

const (
	headerSize    = 8
	extHeaderSize = 16
)

// Header renders b's length+type header, using the 16-byte extended form
// when Length overflows a 32-bit field.
func (b *Box) Header() []byte {
	if b.Length <= 0xFFFFFFFF {
		h := make([]byte, headerSize)
		binary.BigEndian.PutUint32(h[0:4], uint32(b.Length))
		binary.BigEndian.PutUint32(h[4:8], uint32(b.Type))
		return h
	}
	h := make([]byte, extHeaderSize)
	binary.BigEndian.PutUint32(h[0:4], 1)
	binary.BigEndian.PutUint32(h[4:8], uint32(b.Type))
	binary.BigEndian.PutUint64(h[8:16], b.Length)
	return h
}

// Bytes renders the complete box: header followed by contents.
func (b *Box) Bytes() []byte {
	header := b.Header()
	out := make([]byte, len(header)+len(b.Contents))
	copy(out, header)
	copy(out[len(header):], b.Contents)
	return out
}

// Reader reads a sequence of boxes from a stream.
type Reader struct {
	src    io.Reader
	offset int64
}

// NewReader wraps src for sequential box reads.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src}
}

// maxBoxPayload bounds a single box's declared payload size against a
// corrupt or hostile length field.
const maxBoxPayload = 1 << 30

// ReadBox reads and returns the next box, or io.EOF once the stream is
// exhausted cleanly between boxes.
func (r *Reader) ReadBox() (*Box, error) {
	head := make([]byte, headerSize)
	n, err := io.ReadFull(r.src, head)
	if err != nil {
		if err == io.EOF && n == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading box header: %w", err)
	}
	r.offset += headerSize

	length := uint64(binary.BigEndian.Uint32(head[0:4]))
	boxType := Type(binary.BigEndian.Uint32(head[4:8]))
	headerLen := uint64(headerSize)

	switch length {
	case 1:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(r.src, ext); err != nil {
			return nil, fmt.Errorf("reading extended box length: %w", err)
		}
		length = binary.BigEndian.Uint64(ext)
		headerLen = extHeaderSize
		r.offset += 8
	case 0:
		return nil, errors.New("box extends to EOF not supported")
	}

	if length < headerLen {
		return nil, fmt.Errorf("invalid box length: %d", length)
	}
	payloadLen := length - headerLen
	if payloadLen > maxBoxPayload {
		return nil, fmt.Errorf("box too large: %d bytes", payloadLen)
	}

	contents := make([]byte, payloadLen)
	if _, err := io.ReadFull(r.src, contents); err != nil {
		return nil, fmt.Errorf("reading box contents: %w", err)
	}
	r.offset += int64(payloadLen)

	return &Box{Type: boxType, Length: length, Contents: contents}, nil
}

// Offset reports how many bytes the reader has consumed so far.
func (r *Reader) Offset() int64 { return r.offset }

// Writer writes a sequence of boxes to a stream.
type Writer struct {
	dst io.Writer
}

// NewWriter wraps dst for sequential box writes.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst}
}

// WriteBox writes b in full.
func (w *Writer) WriteBox(b *Box) error {
	_, err := w.dst.Write(b.Bytes())
	return err
}

// jp2Signature is the fixed 12-byte JP2 signature box content (Annex I.5.1).
var jp2Signature = []byte{
	0x00, 0x00, 0x00, 0x0C, // length = 12
	0x6A, 0x50, 0x20, 0x20, // type = "jP  "
	0x0D, 0x0A, 0x87, 0x0A, // fixed signature payload
}

// WriteSignature writes the JP2 signature box.
func (w *Writer) WriteSignature() error {
	_, err := w.dst.Write(jp2Signature)
	return err
}

// JP2Header collects the JP2 header super-box's recognized children.
type JP2Header struct {
	ImageHeader  *ImageHeaderBox
	BitsPerComp  *BitsPerCompBox
	ColorSpec    *ColorSpecBox
	Palette      *PaletteBox
	ComponentMap *ComponentMapBox
	ChannelDef   *ChannelDefBox
	Resolution   *ResolutionBox
}

// ImageHeaderBox is the mandatory "ihdr" box.
type ImageHeaderBox struct {
	Height            uint32
	Width             uint32
	NumComponents     uint16
	BitsPerComponent  uint8 // 7-bit value, or 0xFF meaning "see bpcc box"
	CompressionType   uint8 // always 7 for JP2
	UnknownColorspace uint8
	IPR               uint8
}

const imageHeaderBoxSize = 14

// Parse decodes ihdr box contents into b.
func (b *ImageHeaderBox) Parse(data []byte) error {
	if len(data) < imageHeaderBoxSize {
		return errors.New("image header box too short")
	}
	b.Height = binary.BigEndian.Uint32(data[0:4])
	b.Width = binary.BigEndian.Uint32(data[4:8])
	b.NumComponents = binary.BigEndian.Uint16(data[8:10])
	b.BitsPerComponent = data[10]
	b.CompressionType = data[11]
	b.UnknownColorspace = data[12]
	b.IPR = data[13]
	return nil
}

// Bytes encodes b as ihdr box contents.
func (b *ImageHeaderBox) Bytes() []byte {
	data := make([]byte, imageHeaderBoxSize)
	binary.BigEndian.PutUint32(data[0:4], b.Height)
	binary.BigEndian.PutUint32(data[4:8], b.Width)
	binary.BigEndian.PutUint16(data[8:10], b.NumComponents)
	data[10] = b.BitsPerComponent
	data[11] = b.CompressionType
	data[12] = b.UnknownColorspace
	data[13] = b.IPR
	return data
}

// BitsPerCompBox ("bpcc") holds a per-component bit-depth override, used
// only when ImageHeaderBox.BitsPerComponent is 0xFF.
type BitsPerCompBox struct {
	BitsPerComponent []uint8
}

// Parse copies data verbatim: one byte per component.
func (b *BitsPerCompBox) Parse(data []byte) error {
	b.BitsPerComponent = append([]uint8(nil), data...)
	return nil
}

// ColorSpecBox ("colr") declares how to interpret decoded samples as
// color, either via an enumerated Annex M colorspace or an embedded ICC
// profile.
type ColorSpecBox struct {
	Method               uint8
	Precedence           uint8
	Approximation        uint8
	EnumeratedColorspace uint32
	ICCProfile           []byte
}

// Enumerated colorspace values, ISO/IEC 15444-1 Annex M.
const (
	CSBilevel1  = 0  // bi-level (black and white)
	CSYCbCr1    = 1  // YCbCr(1), BT.709-5 based (sRGB primaries)
	CSYCbCr2    = 3  // YCbCr(2), BT.601-5, 625-line
	CSYCbCr3    = 4  // YCbCr(3), BT.601-5, 525-line
	CSPhotoYCC  = 9  // PhotoYCC (Kodak Photo CD)
	CSCMY       = 11 // CMY
	CSCMYK      = 12 // CMYK
	CSYCCK      = 13 // YCCK (PhotoYCC plus K)
	CSCIELab    = 14 // CIELab, D50 illuminant
	CSBilevel2  = 15 // bi-level, alternative encoding
	CSSRGB      = 16 // sRGB, IEC 61966-2-1
	CSGray      = 17 // grayscale
	CSsYCC      = 18 // sYCC, IEC 61966-2-1 Annex G
	CSCIEJab    = 19 // CIEJab, CIECAM02-based
	CSeSRGB     = 20 // e-sRGB, extended-range sRGB
	CSROMMRGB   = 21 // ROMM-RGB / ProPhoto, ISO 22028-2
	CSYPbPr1125 = 22 // YPbPr, SMPTE 274M 1125/60
	CSYPbPr1250 = 23 // YPbPr, ITU-R BT.1361 1250/50
	CSeSYCC     = 24 // e-sYCC, extended-gamut sYCC
)

const (
	colorSpecMethodEnumerated  = 1
	colorSpecMethodRestrictICC = 2
	colorSpecMethodAnyICC      = 3
)

// Parse decodes colr box contents into b.
func (b *ColorSpecBox) Parse(data []byte) error {
	if len(data) < 3 {
		return errors.New("color specification box too short")
	}
	b.Method = data[0]
	b.Precedence = data[1]
	b.Approximation = data[2]

	switch b.Method {
	case colorSpecMethodEnumerated:
		if len(data) < 7 {
			return errors.New("color specification box too short for enumerated CS")
		}
		b.EnumeratedColorspace = binary.BigEndian.Uint32(data[3:7])
	case colorSpecMethodRestrictICC, colorSpecMethodAnyICC:
		b.ICCProfile = data[3:]
	}
	return nil
}

// Bytes encodes b as colr box contents.
func (b *ColorSpecBox) Bytes() []byte {
	if b.Method == colorSpecMethodEnumerated {
		data := make([]byte, 7)
		data[0], data[1], data[2] = b.Method, b.Precedence, b.Approximation
		binary.BigEndian.PutUint32(data[3:7], b.EnumeratedColorspace)
		return data
	}
	data := make([]byte, 3+len(b.ICCProfile))
	data[0], data[1], data[2] = b.Method, b.Precedence, b.Approximation
	copy(data[3:], b.ICCProfile)
	return data
}

// PaletteBox ("pclr") holds an indexed color table, recognized but not
// parsed by this build (see ParseJP2Header).
type PaletteBox struct {
	NumEntries   uint16
	NumColumns   uint8
	BitsPerEntry []uint8
	Entries      [][]uint32
}

// ComponentMapBox ("cmap") maps output channels to decoded components or
// palette columns, recognized but not parsed by this build.
type ComponentMapBox struct {
	Mappings []ComponentMapping
}

// ComponentMapping is one cmap entry.
type ComponentMapping struct {
	Component     uint16
	MappingType   uint8
	PaletteColumn uint8
}

// ChannelDefBox ("cdef") assigns a semantic (color/opacity/premultiplied
// opacity) to each channel, recognized but not parsed by this build.
type ChannelDefBox struct {
	Definitions []ChannelDefinition
}

// ChannelDefinition is one cdef entry.
type ChannelDefinition struct {
	Channel     uint16
	Type        uint16 // 0 = color, 1 = opacity, 2 = premultiplied opacity
	Association uint16
}

// ResolutionBox ("res ") carries capture and display resolution,
// recognized but not parsed by this build.
type ResolutionBox struct {
	CaptureResX uint32
	CaptureResY uint32
	DisplayResX uint32
	DisplayResY uint32
}

// FileTypeBox ("ftyp") declares the brand and compatible brands of the
// file.
type FileTypeBox struct {
	Brand         Type
	MinorVersion  uint32
	Compatibility []Type
}

// Parse decodes ftyp box contents into b.
func (b *FileTypeBox) Parse(data []byte) error {
	if len(data) < 8 {
		return errors.New("file type box too short")
	}
	b.Brand = Type(binary.BigEndian.Uint32(data[0:4]))
	b.MinorVersion = binary.BigEndian.Uint32(data[4:8])

	numCompat := (len(data) - 8) / 4
	b.Compatibility = make([]Type, numCompat)
	for i := range b.Compatibility {
		b.Compatibility[i] = Type(binary.BigEndian.Uint32(data[8+i*4:]))
	}
	return nil
}

// Bytes encodes b as ftyp box contents.
func (b *FileTypeBox) Bytes() []byte {
	data := make([]byte, 8+4*len(b.Compatibility))
	binary.BigEndian.PutUint32(data[0:4], uint32(b.Brand))
	binary.BigEndian.PutUint32(data[4:8], b.MinorVersion)
	for i, c := range b.Compatibility {
		binary.BigEndian.PutUint32(data[8+i*4:], uint32(c))
	}
	return data
}

// ParseJP2Header walks a jp2h super-box's children, decoding the ones this
// build models (ihdr, bpcc, colr) and skipping the rest (pclr, cmap, cdef,
// res) without error, since none of them change how a Part-1 codestream
// decodes.
func ParseJP2Header(data []byte) (*JP2Header, error) {
	h := &JP2Header{}
	r := NewReader(&byteReader{data: data})

	for {
		child, err := r.ReadBox()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch child.Type {
		case TypeImageHeader:
			h.ImageHeader = &ImageHeaderBox{}
			if err := h.ImageHeader.Parse(child.Contents); err != nil {
				return nil, err
			}
		case TypeBitsPerComp:
			h.BitsPerComp = &BitsPerCompBox{}
			if err := h.BitsPerComp.Parse(child.Contents); err != nil {
				return nil, err
			}
		case TypeColorSpec:
			h.ColorSpec = &ColorSpecBox{}
			if err := h.ColorSpec.Parse(child.Contents); err != nil {
				return nil, err
			}
		case TypeChannelDef, TypePalette, TypeComponentMap, TypeResolution:
			// Recognized, not decoded: no SPEC_FULL.md component consumes
			// palette, channel-association, or resolution metadata today.
		}
	}

	return h, nil
}

// byteReader wraps a byte slice as an io.Reader.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// CreateJP2Header builds a jp2h super-box containing an ihdr and an
// enumerated-colorspace colr box.
func CreateJP2Header(width, height uint32, numComponents uint16, bitsPerComponent uint8, colorspace uint32) *Box {
	ihdr := &ImageHeaderBox{
		Width:            width,
		Height:           height,
		NumComponents:    numComponents,
		BitsPerComponent: bitsPerComponent,
		CompressionType:  7,
	}
	ihdrBox := &Box{Type: TypeImageHeader, Contents: ihdr.Bytes()}
	ihdrBox.Length = uint64(headerSize + len(ihdrBox.Contents))

	colr := &ColorSpecBox{Method: colorSpecMethodEnumerated, EnumeratedColorspace: colorspace}
	colrBox := &Box{Type: TypeColorSpec, Contents: colr.Bytes()}
	colrBox.Length = uint64(headerSize + len(colrBox.Contents))

	contents := append(ihdrBox.Bytes(), colrBox.Bytes()...)
	return &Box{
		Type:     TypeJP2Header,
		Length:   uint64(headerSize + len(contents)),
		Contents: contents,
	}
}

// jp2Brand is the "jp2 " brand four-character code used by both ftyp
// fields this module emits.
var jp2Brand = fourCC("jp2 ")

// CreateFileTypeBox builds the mandatory ftyp box for a JP2 file.
func CreateFileTypeBox() *Box {
	ftyp := &FileTypeBox{
		Brand:         jp2Brand,
		Compatibility: []Type{jp2Brand},
	}
	return &Box{
		Type:     TypeFileType,
		Length:   uint64(headerSize + len(ftyp.Bytes())),
		Contents: ftyp.Bytes(),
	}
}

// CreateCodestreamBox wraps a raw codestream in a jp2c box.
func CreateCodestreamBox(codestream []byte) *Box {
	return &Box{
		Type:     TypeContCodestream,
		Length:   uint64(headerSize + len(codestream)),
		Contents: codestream,
	}
}
