package adsb

import (
	"bufio"
	"errors"
	"io"
)

// Beast binary frame types
const (
	BeastModeAC    = byte('1')
	BeastModeShort = byte('2')
	BeastModeLong  = byte('3')

	beastEscape = byte(0x1A)
)

// errResync means a frame was cut short by the start of the next one
var errResync = errors.New("beast frame interrupted")

// Frame is one unescaped Beast frame
type Frame struct {
	Type      byte
	Timestamp int64 // raw 48-bit receiver timestamp
	Signal    byte
	Data      []byte
}

// BeastReader splits a Beast binary stream into frames
type BeastReader struct {
	r *bufio.Reader

	// the escape byte opening the next frame has already been consumed
	synced bool

	// Resyncs counts frames dropped because the stream lost framing
	Resyncs int
}

// NewBeastReader wraps r
func NewBeastReader(r io.Reader) *BeastReader {
	return &BeastReader{r: bufio.NewReaderSize(r, 16*1024)}
}

// Buffered returns the number of bytes already read from the underlying reader
// but not yet consumed. Zero means the next call to Next will block on I/O.
func (b *BeastReader) Buffered() int {
	return b.r.Buffered()
}

// Next returns the next complete frame. Garbage between frames is skipped.
func (b *BeastReader) Next() (Frame, error) {
	for {
		if !b.synced {
			if err := b.seekEscape(); err != nil {
				return Frame{}, err
			}
		}
		b.synced = false

		typ, err := b.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}

		var size int
		switch typ {
		case BeastModeAC:
			size = 2
		case BeastModeShort:
			size = 7
		case BeastModeLong:
			size = 14
		case beastEscape:
			// escaped data byte outside a frame
			continue
		default:
			b.Resyncs++
			continue
		}

		buf := make([]byte, 7+size)
		if err := b.readEscaped(buf); err != nil {
			if errors.Is(err, errResync) {
				b.Resyncs++
				continue
			}
			return Frame{}, err
		}

		var ts int64
		for _, v := range buf[:6] {
			ts = ts<<8 | int64(v)
		}
		return Frame{
			Type:      typ,
			Timestamp: ts,
			Signal:    buf[6],
			Data:      buf[7:],
		}, nil
	}
}

func (b *BeastReader) seekEscape() error {
	for {
		c, err := b.r.ReadByte()
		if err != nil {
			return err
		}
		if c == beastEscape {
			return nil
		}
	}
}

// readEscaped fills buf, collapsing doubled escape bytes
func (b *BeastReader) readEscaped(buf []byte) error {
	for i := range buf {
		c, err := b.r.ReadByte()
		if err != nil {
			return err
		}
		if c == beastEscape {
			next, err := b.r.ReadByte()
			if err != nil {
				return err
			}
			if next != beastEscape {
				// a lone escape starts a new frame
				_ = b.r.UnreadByte()
				b.synced = true
				return errResync
			}
		}
		buf[i] = c
	}
	return nil
}

// EncodeBeast builds an escaped Beast frame
func EncodeBeast(typ byte, timestamp int64, signal byte, data []byte) []byte {
	buf := make([]byte, 0, 2+(7+len(data))*2)
	buf = append(buf, beastEscape, typ)

	put := func(v byte) {
		buf = append(buf, v)
		if v == beastEscape {
			buf = append(buf, v)
		}
	}
	for i := 5; i >= 0; i-- {
		put(byte(timestamp >> (8 * i)))
	}
	put(signal)
	for _, v := range data {
		put(v)
	}
	return buf
}
