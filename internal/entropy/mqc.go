// Package entropy implements the Annex C MQ arithmetic coder, the EBCOT
// context model's state tables, and the Annex B.10.1/B.10.2 raw
// (bypass) bit coder for the significance-propagation and
// magnitude-refinement passes. The Tier-1 coder in this package does
// not call the raw coder.
package entropy

// mqQe, mqNMPS, and mqNLPS are the 94-state MQ probability-estimation
// table (Annex C Table C.2): even indices have MPS=0, odd indices MPS=1.
// The values match the JPEG 2000 reference software's Qe table.
var (
	mqQe = [94]uint32{
		0x5601, 0x5601, 0x3401, 0x3401, 0x1801, 0x1801, 0x0AC1, 0x0AC1,
		0x0521, 0x0521, 0x0221, 0x0221, 0x5601, 0x5601, 0x5401, 0x5401,
		0x4801, 0x4801, 0x3801, 0x3801, 0x3001, 0x3001, 0x2401, 0x2401,
		0x1C01, 0x1C01, 0x1601, 0x1601, 0x5601, 0x5601, 0x5401, 0x5401,
		0x5101, 0x5101, 0x4801, 0x4801, 0x3801, 0x3801, 0x3401, 0x3401,
		0x3001, 0x3001, 0x2801, 0x2801, 0x2401, 0x2401, 0x2201, 0x2201,
		0x1C01, 0x1C01, 0x1801, 0x1801, 0x1601, 0x1601, 0x1401, 0x1401,
		0x1201, 0x1201, 0x1101, 0x1101, 0x0AC1, 0x0AC1, 0x09C1, 0x09C1,
		0x08A1, 0x08A1, 0x0521, 0x0521, 0x0441, 0x0441, 0x02A1, 0x02A1,
		0x0221, 0x0221, 0x0141, 0x0141, 0x0111, 0x0111, 0x0085, 0x0085,
		0x0049, 0x0049, 0x0025, 0x0025, 0x0015, 0x0015, 0x0009, 0x0009,
		0x0005, 0x0005, 0x0001, 0x0001, 0x5601, 0x5601,
	}
	mqNMPS = [94]uint8{
		2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 76, 77, 14, 15, 16, 17,
		18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 58, 59, 30, 31, 32, 33,
		34, 35, 36, 37, 38, 39, 40, 41, 42, 43, 44, 45, 46, 47, 48, 49,
		50, 51, 52, 53, 54, 55, 56, 57, 58, 59, 60, 61, 62, 63, 64, 65,
		66, 67, 68, 69, 70, 71, 72, 73, 74, 75, 76, 77, 78, 79, 80, 81,
		82, 83, 84, 85, 86, 87, 88, 89, 90, 91, 90, 91, 92, 93,
	}
	mqNLPS = [94]uint8{
		3, 2, 12, 13, 18, 19, 24, 25, 58, 59, 66, 67, 13, 12, 28, 29,
		28, 29, 28, 29, 34, 35, 36, 37, 40, 41, 42, 43, 29, 28, 28, 29,
		30, 31, 32, 33, 34, 35, 36, 37, 38, 39, 38, 39, 40, 41, 42, 43,
		44, 45, 46, 47, 48, 49, 50, 51, 52, 53, 54, 55, 56, 57, 58, 59,
		60, 61, 62, 63, 64, 65, 66, 67, 68, 69, 70, 71, 72, 73, 74, 75,
		76, 77, 78, 79, 80, 81, 82, 83, 84, 85, 86, 87, 92, 93,
	}
)

// Context indices the EBCOT coding passes address into.
const (
	CtxZC0 = iota // zero coding, LL band / neighbor pattern 0
	CtxZC1
	CtxZC2
	CtxZC3
	CtxZC4
	CtxZC5
	CtxZC6
	CtxZC7
	CtxZC8

	CtxSC0 // sign coding, 5 contexts by neighbor sign pattern
	CtxSC1
	CtxSC2
	CtxSC3
	CtxSC4

	CtxMag0 // magnitude refinement, 3 contexts
	CtxMag1
	CtxMag2

	CtxRL  // run-length context
	CtxUni // uniform context, used for sign and run-length decisions

	NumContexts
)

// uniformState is the initial state index for CtxUni (Annex C.2.1): a
// fixed 0.5 probability context, distinct from the all-zero initial
// state every other context starts in.
const uniformState = 92

func initContexts(contexts *[NumContexts]uint8) {
	for i := range contexts {
		contexts[i] = 0
	}
	contexts[CtxUni] = uniformState
}

// MQEncoder implements the Annex C.2 MQ arithmetic encoder.
type MQEncoder struct {
	A, C uint32 // interval register, code register
	CT   uint32 // bit counter until next byte-out

	buf []byte // output, buf[0] is the dummy byte preceding the first real output
	bp  int    // index of the last written byte

	contexts [NumContexts]uint8 // per-context state-table index
}

// NewMQEncoder creates an encoder ready to encode from a freshly
// initialized context set.
func NewMQEncoder() *MQEncoder {
	e := &MQEncoder{
		A:   0x8000,
		CT:  12,
		buf: make([]byte, 1, 8192),
	}
	initContexts(&e.contexts)
	return e
}

// Reset reinitializes e for a new code-block, reusing its output buffer's
// capacity.
func (e *MQEncoder) Reset() {
	e.A = 0x8000
	e.C = 0
	e.CT = 12
	if cap(e.buf) > 0 {
		e.buf = e.buf[:1]
	} else {
		e.buf = make([]byte, 1, 8192)
	}
	e.buf[0] = 0
	e.bp = 0
	initContexts(&e.contexts)
}

// Encode codes one binary decision under context ctx.
func (e *MQEncoder) Encode(ctx int, decision int) {
	stateIdx := e.contexts[ctx]
	qe := mqQe[stateIdx]
	mps := stateIdx & 1

	e.A -= qe

	if uint8(decision) == mps {
		if (e.A & 0x8000) == 0 {
			if e.A < qe {
				e.A = qe
			} else {
				e.C += qe
			}
			e.contexts[ctx] = mqNMPS[stateIdx]
			e.renormEnc()
		} else {
			e.C += qe
		}
		return
	}

	if e.A < qe {
		e.C += qe
	} else {
		e.A = qe
	}
	e.contexts[ctx] = mqNLPS[stateIdx]
	e.renormEnc()
}

func (e *MQEncoder) renormEnc() {
	for (e.A & 0x8000) == 0 {
		e.A <<= 1
		e.C <<= 1
		e.CT--
		if e.CT == 0 {
			e.byteOut()
		}
	}
}

func (e *MQEncoder) appendByte(v byte) {
	e.bp++
	if e.bp >= len(e.buf) {
		e.buf = append(e.buf, 0)
	}
	e.buf[e.bp] = v
}

// byteOut emits one output byte, applying Annex C.2.4's bit-stuffing
// carry handling.
func (e *MQEncoder) byteOut() {
	if e.buf[e.bp] == 0xFF {
		e.appendByte(byte(e.C >> 20))
		e.C &= 0xFFFFF
		e.CT = 7
		return
	}

	if (e.C & 0x8000000) == 0 {
		e.appendByte(byte(e.C >> 19))
		e.C &= 0x7FFFF
		e.CT = 8
		return
	}

	e.buf[e.bp]++
	if e.buf[e.bp] == 0xFF {
		e.C &= 0x7FFFFFF
		e.appendByte(byte(e.C >> 20))
		e.C &= 0xFFFFF
		e.CT = 7
	} else {
		e.appendByte(byte(e.C >> 19))
		e.C &= 0x7FFFF
		e.CT = 8
	}
}

// Flush terminates coding (Annex C.2.9's FLUSH procedure) and returns the
// compressed codeword, with the leading dummy byte and any trailing 0xFF
// stripped.
func (e *MQEncoder) Flush() []byte {
	e.setBits()
	e.C <<= e.CT
	e.byteOut()
	e.C <<= e.CT
	e.byteOut()

	endPos := e.bp + 1
	if endPos > 0 && e.buf[endPos-1] == 0xFF {
		endPos--
	}
	if endPos > 1 {
		return e.buf[1:endPos]
	}
	return nil
}

func (e *MQEncoder) setBits() {
	tempC := e.C + e.A
	e.C |= 0xFFFF
	if e.C >= tempC {
		e.C -= 0x8000
	}
}

// Bytes returns the data encoded so far, without flushing.
func (e *MQEncoder) Bytes() []byte {
	if e.bp > 0 {
		return e.buf[1 : e.bp+1]
	}
	return nil
}

// MQDecoder implements the Annex C.3 MQ arithmetic decoder.
type MQDecoder struct {
	C, A uint32
	CT   uint32

	bp   int
	data []byte

	contexts   [NumContexts]uint8
	endCounter int // number of times byteIn ran past the end of data
}

// NewMQDecoder creates a decoder over data, running Annex C.3.5's
// INITDEC procedure.
func NewMQDecoder(data []byte) *MQDecoder {
	d := &MQDecoder{
		A:    0x8000,
		data: data,
		bp:   -1,
	}
	initContexts(&d.contexts)

	if len(data) == 0 {
		d.C = 0xFF << 16
	} else {
		d.bp = 0
		d.C = uint32(data[0]) << 16
	}
	d.byteIn()
	d.C <<= 7
	d.CT -= 7
	d.A = 0x8000

	return d
}

// byteIn advances the code register by one byte, recognizing a following
// marker (a 0xFF byte followed by a byte > 0x8F) as end-of-data padding.
func (d *MQDecoder) byteIn() {
	if d.bp < 0 {
		d.bp = 0
	}

	if d.bp >= len(d.data) {
		d.C += 0xFF00
		d.CT = 8
		d.endCounter++
		return
	}

	var next byte
	if d.bp+1 < len(d.data) {
		next = d.data[d.bp+1]
	} else {
		next = 0xFF
	}

	if d.data[d.bp] != 0xFF {
		d.bp++
		d.C += uint32(next) << 8
		d.CT = 8
		return
	}

	if next > 0x8F {
		d.C += 0xFF00
		d.CT = 8
		d.endCounter++
	} else {
		d.bp++
		d.C += uint32(next) << 9
		d.CT = 7
	}
}

// Decode decodes one binary decision under context ctx.
func (d *MQDecoder) Decode(ctx int) int {
	stateIdx := d.contexts[ctx]
	qe := mqQe[stateIdx]
	mps := int(stateIdx & 1)

	d.A -= qe

	if (d.C >> 16) < qe {
		var decision int
		if d.A < qe {
			d.A = qe
			decision = mps
			d.contexts[ctx] = mqNMPS[stateIdx]
		} else {
			d.A = qe
			decision = 1 - mps
			d.contexts[ctx] = mqNLPS[stateIdx]
		}
		d.renormDec()
		return decision
	}

	d.C -= qe << 16
	if (d.A & 0x8000) == 0 {
		var decision int
		if d.A < qe {
			decision = 1 - mps
			d.contexts[ctx] = mqNLPS[stateIdx]
		} else {
			decision = mps
			d.contexts[ctx] = mqNMPS[stateIdx]
		}
		d.renormDec()
		return decision
	}
	return mps
}

func (d *MQDecoder) renormDec() {
	for (d.A & 0x8000) == 0 {
		if d.CT == 0 {
			d.byteIn()
		}
		d.A <<= 1
		d.C <<= 1
		d.CT--
	}
}

// ResetContext reinitializes a single context to its initial state.
func (d *MQDecoder) ResetContext(ctx int) {
	if ctx == CtxUni {
		d.contexts[ctx] = uniformState
	} else {
		d.contexts[ctx] = 0
	}
}

// ResetAllContexts reinitializes every context.
func (d *MQDecoder) ResetAllContexts() {
	initContexts(&d.contexts)
}

// RawDecoder implements Annex B.10.2's raw (selective arithmetic coding
// bypass) bit decoding.
type RawDecoder struct {
	data []byte
	pos  int
	c    byte
	ct   int
}

// NewRawDecoder creates a raw decoder over data.
func NewRawDecoder(data []byte) *RawDecoder {
	return &RawDecoder{data: data}
}

// DecodeBit decodes a single raw bit, applying the same 0xFF stuffing
// rule the MQ decoder's byteIn does: a byte following an 0xFF loses its
// top bit unless it looks like a marker, in which case decoding pads
// with 0xFF instead of consuming it.
func (r *RawDecoder) DecodeBit() int {
	if r.ct == 0 {
		atMarker := r.c == 0xFF && (r.pos >= len(r.data) || r.data[r.pos] > 0x8F)
		switch {
		case atMarker || r.pos >= len(r.data):
			r.c, r.ct = 0xFF, 8
		case r.c == 0xFF:
			r.c, r.ct = r.data[r.pos], 7
			r.pos++
		default:
			r.c, r.ct = r.data[r.pos], 8
			r.pos++
		}
	}
	r.ct--
	return int((r.c >> r.ct) & 1)
}

// RawEncoder implements Annex B.10.2's raw bit encoding.
type RawEncoder struct {
	buf []byte
	c   uint32
	ct  int
}

// NewRawEncoder creates a raw encoder.
func NewRawEncoder() *RawEncoder {
	return &RawEncoder{buf: make([]byte, 0, 64), ct: 8}
}

// EncodeBit encodes a single raw bit.
func (r *RawEncoder) EncodeBit(bit int) {
	r.ct--
	r.c += uint32(bit&1) << r.ct
	if r.ct == 0 {
		r.buf = append(r.buf, byte(r.c))
		r.ct = 8
		if byte(r.c) == 0xFF {
			r.ct = 7
		}
		r.c = 0
	}
}

// Flush appends any partially-filled byte and returns the encoded data.
func (r *RawEncoder) Flush() []byte {
	if r.ct < 8 {
		r.buf = append(r.buf, byte(r.c))
	}
	return r.buf
}
