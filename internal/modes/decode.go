package modes

import (
	"errors"
	"fmt"
)

var (
	ErrShortFrame    = errors.New("frame length does not match downlink format")
	ErrBadCRC        = errors.New("crc check failed")
	ErrUnsupportedDF = errors.New("unsupported downlink format")
)

const (
	shortFrameLen = 7
	longFrameLen  = 14

	crcPoly = 0xfff409
)

var crcTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		c := uint32(i) << 16
		for j := 0; j < 8; j++ {
			if c&0x800000 != 0 {
				c = (c << 1) ^ crcPoly
			} else {
				c <<= 1
			}
		}
		crcTable[i] = c & 0xffffff
	}
}

// checksum computes the Mode S CRC-24 over data
func checksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = ((crc << 8) ^ crcTable[byte(crc>>16)^b]) & 0xffffff
	}
	return crc
}

// Residual returns the CRC of the frame body xor the trailing parity field.
// Zero for a clean DF17, the address for address/parity formats.
func Residual(data []byte) uint32 {
	n := len(data)
	if n < 4 {
		return 0
	}
	parity := uint32(data[n-3])<<16 | uint32(data[n-2])<<8 | uint32(data[n-1])
	return checksum(data[:n-3]) ^ parity
}

// Parity returns the parity field that makes data's residual equal to addr.
// Used to build address/parity frames.
func Parity(body []byte, addr uint32) [3]byte {
	p := checksum(body) ^ (addr & 0xffffff)
	return [3]byte{byte(p >> 16), byte(p >> 8), byte(p)}
}

func frameLen(df int) int {
	if df >= 16 {
		return longFrameLen
	}
	return shortFrameLen
}

// Decode extracts the fields the client needs from a raw Mode S frame
func Decode(data []byte, timestamp int64, signal byte) (*Message, error) {
	if len(data) != shortFrameLen && len(data) != longFrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}

	df := int(data[0] >> 3)
	kind := KindOf(df)
	if kind == KindOther {
		return nil, fmt.Errorf("%w: DF%d", ErrUnsupportedDF, df)
	}
	if len(data) != frameLen(df) {
		return nil, fmt.Errorf("%w: DF%d with %d bytes", ErrShortFrame, df, len(data))
	}

	msg := &Message{
		DF:        df,
		Kind:      kind,
		Timestamp: timestamp,
		Signal:    signal,
		Data:      append([]byte(nil), data...),
	}

	residual := Residual(data)

	switch kind {
	case KindDF11:
		// Low 7 bits may carry the interrogator identifier
		if residual&^0x7f != 0 {
			return nil, ErrBadCRC
		}
		msg.Address = announcedAddress(data)

	case KindDF17:
		if residual != 0 {
			return nil, ErrBadCRC
		}
		msg.Address = announcedAddress(data)
		decodeExtendedSquitter(msg, data)

	default:
		// Address/parity overlay; cannot be validated on its own
		msg.Address = residual
	}

	return msg, nil
}

func announcedAddress(data []byte) uint32 {
	return uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
}

// decodeExtendedSquitter fills the airborne position fields of a DF17 frame
func decodeExtendedSquitter(msg *Message, data []byte) {
	tc := int(data[4] >> 3)

	baro := tc >= 9 && tc <= 18
	gnss := tc >= 20 && tc <= 22
	if !baro && !gnss {
		return
	}

	odd := (data[6]>>2)&1 == 1
	msg.OddCPR = odd
	msg.EvenCPR = !odd

	ac12 := uint16(data[5])<<4 | uint16(data[6])>>4

	if baro {
		msg.NUC = 18 - tc
		msg.Altitude = decodeAC12(ac12)
	} else {
		msg.NUC = 29 - tc
		if ac12 != 0 {
			// GNSS height in metres
			alt := int(float64(ac12) * 3.28084)
			msg.Altitude = &alt
		}
	}
}

// decodeAC12 decodes a 12-bit altitude field with the Q bit set.
// Gillham coded values are reported as absent.
func decodeAC12(ac12 uint16) *int {
	if ac12 == 0 {
		return nil
	}
	if ac12&0x10 == 0 {
		return nil
	}
	n := int(((ac12 & 0x0fe0) >> 1) | (ac12 & 0x000f))
	alt := n*25 - 1000
	return &alt
}
