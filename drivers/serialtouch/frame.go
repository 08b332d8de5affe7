package serialtouch

import "errors"

// Wire format, both directions:
//
//	sample frame (device -> host):  [SOF0][SOF1][N][hi0][lo0]...[hiN-1][loN-1][CKS]
//	command frame (host -> device): [SOF0][SOF1][LEN][CMD][payload...][CKS]
//
// CKS is the XOR of every byte after SOF1. For a command frame LEN counts
// CMD plus payload and has the high bit set so it never parses as a sample
// count.
const (
	SOF0 = 0xAA
	SOF1 = 0x55

	MaxChannels = 32

	cmdFlag      = 0x80
	CmdConfigure = 0x01 // ch, threshold hi, threshold lo
	CmdStream    = 0x02 // period in ms, 0 stops
)

var (
	ErrChecksum = errors.New("serialtouch: checksum mismatch")
	ErrLength   = errors.New("serialtouch: bad frame length")
)

// EncodeSamples builds a sample frame.
func EncodeSamples(vals []uint16) []byte {
	n := len(vals)
	out := make([]byte, 0, 4+2*n)
	out = append(out, SOF0, SOF1, byte(n))
	cks := byte(n)
	for _, v := range vals {
		hi, lo := byte(v>>8), byte(v)
		out = append(out, hi, lo)
		cks ^= hi ^ lo
	}
	return append(out, cks)
}

// EncodeCommand builds a command frame.
func EncodeCommand(cmd byte, payload ...byte) []byte {
	length := byte(len(payload)+1) | cmdFlag
	cks := length ^ cmd
	for _, b := range payload {
		cks ^= b
	}
	out := []byte{SOF0, SOF1, length, cmd}
	out = append(out, payload...)
	return append(out, cks)
}

type decState uint8

const (
	stSOF0 decState = iota
	stSOF1
	stLen
	stBody
	stCks
)

// Decoder reassembles sample frames from a byte stream. Command frames and
// garbage between frames are skipped.
type Decoder struct {
	st   decState
	n    int
	body []byte
	cks  byte
	vals []uint16

	// Bad counts frames dropped for a checksum or length error.
	Bad uint32
}

// Feed consumes one byte. When it completes a valid sample frame it returns
// the decoded values, which stay valid until the next completed frame.
func (d *Decoder) Feed(b byte) ([]uint16, error) {
	switch d.st {
	case stSOF0:
		if b == SOF0 {
			d.st = stSOF1
		}
	case stSOF1:
		switch b {
		case SOF1:
			d.st = stLen
		case SOF0:
			// stay: AA AA 55 still syncs
		default:
			d.st = stSOF0
		}
	case stLen:
		if b&cmdFlag != 0 {
			d.st = stSOF0 // echo of a command frame
			return nil, nil
		}
		if b == 0 || b > MaxChannels {
			d.st = stSOF0
			d.Bad++
			return nil, ErrLength
		}
		d.n = int(b)
		d.cks = b
		d.body = d.body[:0]
		d.st = stBody
	case stBody:
		d.body = append(d.body, b)
		d.cks ^= b
		if len(d.body) == 2*d.n {
			d.st = stCks
		}
	case stCks:
		d.st = stSOF0
		if b != d.cks {
			d.Bad++
			return nil, ErrChecksum
		}
		d.vals = d.vals[:0]
		for i := 0; i < d.n; i++ {
			d.vals = append(d.vals, uint16(d.body[2*i])<<8|uint16(d.body[2*i+1]))
		}
		return d.vals, nil
	}
	return nil, nil
}
