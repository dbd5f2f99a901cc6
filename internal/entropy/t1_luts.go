// t1_luts.go precomputes the EBCOT context-selection lookup tables
// (Annex D.3 zero coding, D.4 sign coding) so the Tier-1 coding passes
// index into a table instead of branching on neighbor state per sample.
package entropy

// lutZCCtx maps bandType*256+packedNeighbors to a zero-coding context
// (0-8). packedNeighbors bit layout: 0=W 1=E 2=N 3=S 4=NW 5=NE 6=SW 7=SE
// significance, all relative to the sample being coded.
var lutZCCtx [4 * 256]uint8

// lutSCCtx maps (hContrib+2)*5+(vContrib+2), hContrib/vContrib in
// [-2, 2], to a packed (context<<1)|prediction value for sign coding.
var lutSCCtx [25]uint8

// lutSignCtx and lutSignPred are lutSCCtx's counterpart indexed directly
// by packed neighbor sign/significance bits (0=W sig, 1=W sign, 2=E sig,
// 3=E sign, 4=N sig, 5=N sign, 6=S sig, 7=S sign), for call sites that
// already have that representation instead of a (h,v) contribution pair.
var lutSignCtx [256]uint8
var lutSignPred [256]uint8

func init() {
	for bandType := 0; bandType < 4; bandType++ {
		for packed := 0; packed < 256; packed++ {
			lutZCCtx[bandType*256+packed] = uint8(zcContext(bandType, packed))
		}
	}

	for hc := -2; hc <= 2; hc++ {
		for vc := -2; vc <= 2; vc++ {
			ctx, pred := signContextAndPred(hc, vc)
			// lutSCCtx stores the absolute context index (CtxSC0..CtxSC4),
			// unlike lutSignCtx below, which callers add CtxSC0 to themselves.
			lutSCCtx[(hc+2)*5+(vc+2)] = uint8((ctx+CtxSC0)<<1 | pred)
		}
	}

	for i := 0; i < 256; i++ {
		hc, vc := signContributions(uint8(i))
		ctx, pred := signContextAndPred(hc, vc)
		lutSignCtx[i] = uint8(ctx)
		lutSignPred[i] = uint8(pred)
	}
}

// zcContext implements Annex D.3's zero-coding context-selection rules
// for one band type given a sample's packed neighbor significance.
func zcContext(bandType int, packed int) int {
	w := packed & 1
	e := (packed >> 1) & 1
	n := (packed >> 2) & 1
	s := (packed >> 3) & 1
	nw := (packed >> 4) & 1
	ne := (packed >> 5) & 1
	sw := (packed >> 6) & 1
	se := (packed >> 7) & 1

	h := w + e
	v := n + s
	d := nw + ne + sw + se

	switch bandType {
	case BandHL:
		h, v = v, h
		fallthrough
	case BandLL, BandLH:
		switch {
		case h == 2:
			return 8
		case h == 1:
			switch {
			case v >= 1:
				return 7
			case d >= 1:
				return 6
			default:
				return 5
			}
		case v == 2:
			return 4
		case v == 1:
			if d >= 1 {
				return 3
			}
			return 2
		case d >= 2:
			return 1
		default:
			return 0
		}
	case BandHH:
		hv := h + v
		switch {
		case hv >= 3:
			return 8
		case hv == 2:
			switch {
			case d >= 2:
				return 7
			case d >= 1:
				return 6
			default:
				return 5
			}
		case hv == 1:
			if d >= 2 {
				return 4
			}
			return 3
		default:
			if d >= 2 {
				return 2
			} else if d >= 1 {
				return 1
			}
			return 0
		}
	}
	return 0
}

// signContributions unpacks a W/E/N/S significance+sign byte into the
// horizontal and vertical sign contributions signContextAndPred expects:
// a significant neighbor contributes +1 if positive, -1 if negative.
func signContributions(packed uint8) (hc, vc int) {
	contrib := func(sig, neg int) int {
		if sig == 0 {
			return 0
		}
		if neg != 0 {
			return -1
		}
		return 1
	}
	wSig, wNeg := int(packed&1), int((packed>>1)&1)
	eSig, eNeg := int((packed>>2)&1), int((packed>>3)&1)
	nSig, nNeg := int((packed>>4)&1), int((packed>>5)&1)
	sSig, sNeg := int((packed>>6)&1), int((packed>>7)&1)

	hc = contrib(wSig, wNeg) + contrib(eSig, eNeg)
	vc = contrib(nSig, nNeg) + contrib(sSig, sNeg)
	return hc, vc
}

// signContextAndPred implements Annex D.4's sign-coding context and
// prediction-bit selection from the horizontal/vertical sign
// contributions of a sample's four immediate neighbors.
func signContextAndPred(hc, vc int) (ctx, pred int) {
	h, v := hc, vc
	if h < 0 {
		pred = 1
		h = -h
	}
	if h == 0 && v < 0 {
		pred = 1
		v = -v
	}

	switch {
	case h == 1 && v == 1:
		ctx = CtxSC4 - CtxSC0
	case h == 1 && v == 0:
		ctx = CtxSC2 - CtxSC0
	case h == 1:
		ctx = CtxSC1 - CtxSC0
	case h == 0 && v == 1:
		ctx = CtxSC1 - CtxSC0
	case h == 2:
		ctx = CtxSC3 - CtxSC0
	}
	return ctx, pred
}

// getZCContextFast returns the zero-coding context for a sample's packed
// neighbor significance, suitable for inlining on hot paths.
func getZCContextFast(packed uint8, bandType int) int {
	return int(lutZCCtx[bandType*256+int(packed)])
}

// getSCContextFast returns the sign-coding context and prediction bit
// for a sample's clamped horizontal/vertical sign contributions.
func getSCContextFast(hContrib, vContrib int) (ctx int, pred int) {
	if hContrib < -2 {
		hContrib = -2
	} else if hContrib > 2 {
		hContrib = 2
	}
	if vContrib < -2 {
		vContrib = -2
	} else if vContrib > 2 {
		vContrib = 2
	}

	v := lutSCCtx[(hContrib+2)*5+(vContrib+2)]
	return int(v >> 1), int(v & 1)
}
