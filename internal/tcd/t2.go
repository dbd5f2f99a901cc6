// Package tcd - t2.go implements Tier-2 packet coding.
//
// Tier-2 handles the organization of code-block data into packets
// according to the progression order. Each packet contains data for
// a specific layer, resolution, component, and precinct.
package tcd

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lumenforge/jp2k/internal/bio"
	"github.com/lumenforge/jp2k/internal/codestream"
)

// PacketIterator iterates over packets in progression order.
type PacketIterator struct {
	// Image parameters
	numComponents  int
	numResolutions int
	numLayers      int
	precincts      [][][]int // [component][resolution]numPrecincts

	// Current position
	layer      int
	resolution int
	component  int
	precinct   int

	// Progression order
	order codestream.ProgressionOrder

	// Bounds
	resStart, resEnd int
	compStart, compEnd int
	layStart, layEnd int
}

// NewPacketIterator creates a packet iterator.
func NewPacketIterator(
	numComponents, numResolutions, numLayers int,
	precincts [][][]int,
	order codestream.ProgressionOrder,
) *PacketIterator {
	return &PacketIterator{
		numComponents:  numComponents,
		numResolutions: numResolutions,
		numLayers:      numLayers,
		precincts:      precincts,
		order:          order,
		resEnd:         numResolutions,
		compEnd:        numComponents,
		layEnd:         numLayers,
	}
}

// Packet represents the current packet position.
type Packet struct {
	Layer      int
	Resolution int
	Component  int
	Precinct   int
}

// Next advances to the next packet position.
// Returns false when all packets have been visited.
func (pi *PacketIterator) Next() (Packet, bool) {
	for {
		if !pi.hasMore() {
			return Packet{}, false
		}

		p := Packet{
			Layer:      pi.layer,
			Resolution: pi.resolution,
			Component:  pi.component,
			Precinct:   pi.precinct,
		}

		pi.advance()
		return p, true
	}
}

func (pi *PacketIterator) hasMore() bool {
	switch pi.order {
	case codestream.LRCP:
		return pi.layer < pi.layEnd
	case codestream.RLCP:
		return pi.resolution < pi.resEnd
	case codestream.RPCL:
		return pi.resolution < pi.resEnd
	case codestream.PCRL:
		return pi.precinct < pi.maxPrecincts()
	case codestream.CPRL:
		return pi.component < pi.compEnd
	}
	return false
}

func (pi *PacketIterator) maxPrecincts() int {
	max := 0
	for c := 0; c < pi.numComponents; c++ {
		for r := 0; r < pi.numResolutions; r++ {
			if len(pi.precincts) > c && len(pi.precincts[c]) > r {
				if pi.precincts[c][r][0] > max {
					max = pi.precincts[c][r][0]
				}
			}
		}
	}
	return max
}

func (pi *PacketIterator) advance() {
	switch pi.order {
	case codestream.LRCP:
		pi.advanceLRCP()
	case codestream.RLCP:
		pi.advanceRLCP()
	case codestream.RPCL:
		pi.advanceRPCL()
	case codestream.PCRL:
		pi.advancePCRL()
	case codestream.CPRL:
		pi.advanceCPRL()
	}
}

func (pi *PacketIterator) advanceLRCP() {
	pi.precinct++
	numPrec := 1
	if len(pi.precincts) > pi.component && len(pi.precincts[pi.component]) > pi.resolution {
		numPrec = pi.precincts[pi.component][pi.resolution][0]
	}
	if pi.precinct >= numPrec {
		pi.precinct = 0
		pi.component++
		if pi.component >= pi.compEnd {
			pi.component = pi.compStart
			pi.resolution++
			if pi.resolution >= pi.resEnd {
				pi.resolution = pi.resStart
				pi.layer++
			}
		}
	}
}

func (pi *PacketIterator) advanceRLCP() {
	pi.precinct++
	numPrec := 1
	if len(pi.precincts) > pi.component && len(pi.precincts[pi.component]) > pi.resolution {
		numPrec = pi.precincts[pi.component][pi.resolution][0]
	}
	if pi.precinct >= numPrec {
		pi.precinct = 0
		pi.component++
		if pi.component >= pi.compEnd {
			pi.component = pi.compStart
			pi.layer++
			if pi.layer >= pi.layEnd {
				pi.layer = pi.layStart
				pi.resolution++
			}
		}
	}
}

func (pi *PacketIterator) advanceRPCL() {
	pi.layer++
	if pi.layer >= pi.layEnd {
		pi.layer = pi.layStart
		pi.component++
		if pi.component >= pi.compEnd {
			pi.component = pi.compStart
			pi.precinct++
			numPrec := 1
			if len(pi.precincts) > pi.component && len(pi.precincts[pi.component]) > pi.resolution {
				numPrec = pi.precincts[pi.component][pi.resolution][0]
			}
			if pi.precinct >= numPrec {
				pi.precinct = 0
				pi.resolution++
			}
		}
	}
}

func (pi *PacketIterator) advancePCRL() {
	pi.layer++
	if pi.layer >= pi.layEnd {
		pi.layer = pi.layStart
		pi.resolution++
		if pi.resolution >= pi.resEnd {
			pi.resolution = pi.resStart
			pi.component++
			if pi.component >= pi.compEnd {
				pi.component = pi.compStart
				pi.precinct++
			}
		}
	}
}

func (pi *PacketIterator) advanceCPRL() {
	pi.layer++
	if pi.layer >= pi.layEnd {
		pi.layer = pi.layStart
		pi.resolution++
		if pi.resolution >= pi.resEnd {
			pi.resolution = pi.resStart
			pi.precinct++
			numPrec := 1
			if len(pi.precincts) > pi.component && len(pi.precincts[pi.component]) > pi.resolution {
				numPrec = pi.precincts[pi.component][pi.resolution][0]
			}
			if pi.precinct >= numPrec {
				pi.precinct = 0
				pi.component++
			}
		}
	}
}

// Reset resets the iterator to the beginning.
func (pi *PacketIterator) Reset() {
	pi.layer = pi.layStart
	pi.resolution = pi.resStart
	pi.component = pi.compStart
	pi.precinct = 0
}

// PacketEncoder encodes packets to a bit stream.
type PacketEncoder struct {
	w   io.Writer
	bio *bio.ByteStuffingWriter
}

// NewPacketEncoder creates a new packet encoder.
func NewPacketEncoder(w io.Writer) *PacketEncoder {
	return &PacketEncoder{
		w:   w,
		bio: bio.NewByteStuffingWriter(w),
	}
}

// tagTreeInfinity is a threshold no real zero-bit-plane count reaches, used
// to force the IMSB tag tree to resolve a code-block's exact value in one
// call instead of progressively narrowing it across several.
const tagTreeInfinity = 1 << 20

// layerRange returns the checkpoint index a code-block's cumulative data
// reached as of the previous layer (prevIdx, -1 if none) and as of this
// layer (curIdx, -1 if this layer contributes nothing new or the code-block
// was never allocated a layer schedule at all).
func layerRange(cb *CodeBlock, layer int) (prevIdx, curIdx int) {
	prevIdx, curIdx = -1, -1
	if layer > 0 && layer-1 < len(cb.LayerTruncationPoints) {
		prevIdx = cb.LayerTruncationPoints[layer-1]
	}
	if layer < len(cb.LayerTruncationPoints) {
		curIdx = cb.LayerTruncationPoints[layer]
	}
	if curIdx < prevIdx {
		curIdx = prevIdx
	}
	return prevIdx, curIdx
}

// EncodePacket encodes a single packet, including the Annex B.10 packet
// header and the code-blocks' new bytes for this layer.
func (e *PacketEncoder) EncodePacket(
	precinct *Precinct,
	layer int,
	enableSOP bool,
	enableEPH bool,
) error {
	if enableSOP {
		sop := []byte{0xFF, 0x91, 0x00, 0x04, 0x00, 0x00}
		binary.BigEndian.PutUint16(sop[4:], uint16(layer))
		if _, err := e.w.Write(sop); err != nil {
			return err
		}
	}

	if err := e.encodePacketHeader(precinct, layer); err != nil {
		return err
	}

	if enableEPH {
		eph := []byte{0xFF, 0x92}
		if _, err := e.w.Write(eph); err != nil {
			return err
		}
	}

	// Packet body: each included code-block's NEW bytes for this layer
	// only — data already sent in an earlier layer is never repeated.
	for _, bandCBs := range precinct.CodeBlocks {
		for _, cb := range bandCBs {
			prevIdx, curIdx := layerRange(cb, layer)
			if curIdx <= prevIdx {
				continue
			}
			start := 0
			if prevIdx >= 0 {
				start = cb.Checkpoints[prevIdx].CumulativeLength
			}
			end := cb.Checkpoints[curIdx].CumulativeLength
			if end > len(cb.Data) {
				end = len(cb.Data)
			}
			if start < end {
				if _, err := e.w.Write(cb.Data[start:end]); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// encodePacketHeader encodes the packet header: per-code-block inclusion
// (tag tree on first inclusion, a single bit thereafter), the zero-bit-plane
// count on first inclusion, the number of NEW coding passes this layer
// contributes, and the Lblock-coded length of the NEW bytes (Annex B.10.2,
// B.10.3, B.10.4, B.10.6).
func (e *PacketEncoder) encodePacketHeader(precinct *Precinct, layer int) error {
	hasData := false
	for _, bandCBs := range precinct.CodeBlocks {
		for _, cb := range bandCBs {
			prevIdx, curIdx := layerRange(cb, layer)
			if curIdx > prevIdx {
				hasData = true
				break
			}
		}
		if hasData {
			break
		}
	}

	if !hasData {
		if err := e.bio.WriteBit(0); err != nil {
			return err
		}
		return e.bio.Flush()
	}
	if err := e.bio.WriteBit(1); err != nil {
		return err
	}

	for _, bandCBs := range precinct.CodeBlocks {
		for cbIdx, cb := range bandCBs {
			x, y := cbIdx%precinct.InclusionTree.width, cbIdx/precinct.InclusionTree.width
			prevIdx, curIdx := layerRange(cb, layer)
			contributes := curIdx > prevIdx

			if prevIdx < 0 {
				if err := precinct.InclusionTree.Encode(e.bio, x, y, layer+1); err != nil {
					return err
				}
			} else {
				bit := uint32(0)
				if contributes {
					bit = 1
				}
				if err := e.bio.WriteBit(bit); err != nil {
					return err
				}
			}

			if !contributes {
				continue
			}

			if prevIdx < 0 {
				if err := precinct.IMSBTree.Encode(e.bio, x, y, tagTreeInfinity); err != nil {
					return err
				}
			}

			newPasses := curIdx - prevIdx
			if err := e.encodeNumPasses(newPasses); err != nil {
				return err
			}

			start := 0
			if prevIdx >= 0 {
				start = cb.Checkpoints[prevIdx].CumulativeLength
			}
			newBytes := cb.Checkpoints[curIdx].CumulativeLength - start
			if err := e.encodeLength(cb, newBytes, newPasses); err != nil {
				return err
			}
		}
	}

	return e.bio.Flush()
}

// encodeNumPasses encodes the number of coding passes.
func (e *PacketEncoder) encodeNumPasses(n int) error {
	if n == 1 {
		return e.bio.WriteBit(0)
	}
	if err := e.bio.WriteBit(1); err != nil {
		return err
	}
	if n == 2 {
		return e.bio.WriteBit(0)
	}
	if err := e.bio.WriteBit(1); err != nil {
		return err
	}
	if n <= 5 {
		return e.bio.WriteBits(uint32(n-3), 2)
	}
	if err := e.bio.WriteBits(3, 2); err != nil {
		return err
	}
	if n <= 36 {
		return e.bio.WriteBits(uint32(n-6), 5)
	}
	if err := e.bio.WriteBits(31, 5); err != nil {
		return err
	}
	return e.bio.WriteBits(uint32(n-37), 7)
}

// bitsFloorLog2 returns floor(log2(n)) for n >= 1, and 0 for n <= 0.
func bitsFloorLog2(n int) int {
	b := 0
	for n > 1 {
		n >>= 1
		b++
	}
	return b
}

// encodeLength encodes a code-block's new byte count for this layer using
// Annex B.10.3 Lblock coding: a unary prefix of 1-bits (terminated by 0)
// grows the code-block's persistent Lblock state whenever newBytes would
// not fit in Lblock + floor(log2(newPasses)) bits, then the count itself is
// written in that many bits.
func (e *PacketEncoder) encodeLength(cb *CodeBlock, newBytes, newPasses int) error {
	if cb.Lblock == 0 {
		cb.Lblock = 3
	}
	extra := bitsFloorLog2(newPasses)
	total := cb.Lblock + extra
	for total < 31 && newBytes >= (1<<uint(total)) {
		if err := e.bio.WriteBit(1); err != nil {
			return err
		}
		cb.Lblock++
		total = cb.Lblock + extra
	}
	if err := e.bio.WriteBit(0); err != nil {
		return err
	}
	if total <= 0 {
		return nil
	}
	return e.bio.WriteBits(uint32(newBytes), uint(total))
}

// PacketDecoder decodes packets from a bit stream.
type PacketDecoder struct {
	r   io.Reader
	bio *bio.ByteStuffingReader
	buf []byte
	pos int
}

// NewPacketDecoder creates a new packet decoder.
func NewPacketDecoder(data []byte) *PacketDecoder {
	return &PacketDecoder{
		buf: data,
		bio: bio.NewByteStuffingReader(&byteReaderAt{data: data}),
	}
}

// byteReaderAt implements io.Reader for a byte slice.
type byteReaderAt struct {
	data []byte
	pos  int
}

func (r *byteReaderAt) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// packetInclusion records one code-block's new contribution decoded from a
// packet header, carried forward to the body-reading phase below.
type packetInclusion struct {
	cb        *CodeBlock
	newBytes  int
	newPasses int
}

// DecodePacket decodes a single packet: its header, then the NEW bytes each
// included code-block contributes for this layer, appended (never
// replacing) to that code-block's accumulated data (Annex B.10, spec §4.6
// layers / §8 property 3).
func (d *PacketDecoder) DecodePacket(
	precinct *Precinct,
	layer int,
	sopEnabled bool,
	ephEnabled bool,
) error {
	if sopEnabled {
		if d.pos+6 <= len(d.buf) && d.buf[d.pos] == 0xFF && d.buf[d.pos+1] == 0x91 {
			d.pos += 6
		}
	}

	incl, err := d.decodePacketHeader(precinct, layer)
	if err != nil {
		return err
	}

	if ephEnabled {
		if d.pos+2 <= len(d.buf) && d.buf[d.pos] == 0xFF && d.buf[d.pos+1] == 0x92 {
			d.pos += 2
		}
	}

	for _, in := range incl {
		if in.newBytes > 0 {
			if d.pos+in.newBytes > len(d.buf) {
				return fmt.Errorf("unexpected end of packet data")
			}
			in.cb.Data = append(in.cb.Data, d.buf[d.pos:d.pos+in.newBytes]...)
			d.pos += in.newBytes
		}
		if in.newPasses > 0 {
			in.cb.Passes = append(in.cb.Passes, make([]CodingPass, in.newPasses)...)
			in.cb.PassesIncluded += in.newPasses
		}
	}

	return nil
}

// decodePacketHeader decodes the packet header and returns, per included
// code-block, the new byte/pass counts this layer contributes — the body
// is read only after every code-block's header has been parsed, since
// Annex B lays out a packet as header-then-body, not interleaved.
func (d *PacketDecoder) decodePacketHeader(precinct *Precinct, layer int) ([]packetInclusion, error) {
	present, err := d.bio.ReadBit()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}

	var incl []packetInclusion
	for _, bandCBs := range precinct.CodeBlocks {
		for cbIdx, cb := range bandCBs {
			x, y := cbIdx%precinct.InclusionTree.width, cbIdx/precinct.InclusionTree.width
			firstInclusion := cb.IncludedInLayers < 0
			var contributes bool

			if firstInclusion {
				included, err := precinct.InclusionTree.Decode(d.bio, x, y, layer+1)
				if err != nil {
					return nil, err
				}
				if included {
					cb.IncludedInLayers = layer
				}
				contributes = included
			} else {
				bit, err := d.bio.ReadBit()
				if err != nil {
					return nil, err
				}
				contributes = bit == 1
			}

			if !contributes {
				continue
			}

			if firstInclusion && cb.IncludedInLayers == layer {
				if _, err := precinct.IMSBTree.Decode(d.bio, x, y, tagTreeInfinity); err != nil {
					return nil, err
				}
				cb.ZeroBitPlanes = precinct.IMSBTree.Value(x, y)
			}

			numPasses, err := d.decodeNumPasses()
			if err != nil {
				return nil, err
			}

			length, err := d.decodeLength(cb, numPasses)
			if err != nil {
				return nil, err
			}

			incl = append(incl, packetInclusion{cb: cb, newBytes: length, newPasses: numPasses})
		}
	}

	return incl, nil
}

// decodeNumPasses decodes the number of coding passes.
func (d *PacketDecoder) decodeNumPasses() (int, error) {
	bit, err := d.bio.ReadBit()
	if err != nil {
		return 0, err
	}
	if bit == 0 {
		return 1, nil
	}

	bit, err = d.bio.ReadBit()
	if err != nil {
		return 0, err
	}
	if bit == 0 {
		return 2, nil
	}

	val, err := d.bio.ReadBits(2)
	if err != nil {
		return 0, err
	}
	if val < 3 {
		return int(val) + 3, nil
	}

	val, err = d.bio.ReadBits(5)
	if err != nil {
		return 0, err
	}
	if val < 31 {
		return int(val) + 6, nil
	}

	val, err = d.bio.ReadBits(7)
	if err != nil {
		return 0, err
	}
	return int(val) + 37, nil
}

// decodeLength decodes a code-block's new byte count for this layer,
// mirroring encodeLength's Annex B.10.3 Lblock coding.
func (d *PacketDecoder) decodeLength(cb *CodeBlock, newPasses int) (int, error) {
	if cb.Lblock == 0 {
		cb.Lblock = 3
	}
	for {
		bit, err := d.bio.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == 0 {
			break
		}
		cb.Lblock++
	}
	extra := bitsFloorLog2(newPasses)
	total := cb.Lblock + extra
	if total <= 0 {
		return 0, nil
	}
	val, err := d.bio.ReadBits(uint(total))
	if err != nil {
		return 0, err
	}
	return int(val), nil
}

// Position returns the current position in the data.
func (d *PacketDecoder) Position() int {
	return d.pos
}
