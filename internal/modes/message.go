package modes

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// Kind is the closed set of message kinds the client distinguishes
type Kind int

const (
	KindOther Kind = iota
	KindClockReset
	KindDF0  // Short air-air surveillance
	KindDF4  // Surveillance, altitude reply
	KindDF5  // Surveillance, identity reply
	KindDF11 // All-call reply
	KindDF16 // Long air-air surveillance
	KindDF17 // Extended squitter
	KindDF20 // Comm-B, altitude reply
	KindDF21 // Comm-B, identity reply
)

// DFClockReset is the synthetic downlink format carried by clock reset markers
const DFClockReset = -1

// KindOf maps a downlink format code to its Kind
func KindOf(df int) Kind {
	switch df {
	case DFClockReset:
		return KindClockReset
	case 0:
		return KindDF0
	case 4:
		return KindDF4
	case 5:
		return KindDF5
	case 11:
		return KindDF11
	case 16:
		return KindDF16
	case 17:
		return KindDF17
	case 20:
		return KindDF20
	case 21:
		return KindDF21
	default:
		return KindOther
	}
}

func (k Kind) String() string {
	switch k {
	case KindClockReset:
		return "clock-reset"
	case KindDF0:
		return "DF0"
	case KindDF4:
		return "DF4"
	case KindDF5:
		return "DF5"
	case KindDF11:
		return "DF11"
	case KindDF16:
		return "DF16"
	case KindDF17:
		return "DF17"
	case KindDF20:
		return "DF20"
	case KindDF21:
		return "DF21"
	default:
		return "other"
	}
}

// Message is one decoded Mode S frame as delivered by the receiver
type Message struct {
	DF        int
	Kind      Kind
	Address   uint32 // 24-bit ICAO address
	Timestamp int64  // receiver clock ticks
	Signal    byte

	// CPR parity of an airborne position (DF17 only)
	EvenCPR bool
	OddCPR  bool

	Altitude *int // feet, nil when not present or not decodable
	NUC      int  // navigational uncertainty category of a position

	Data []byte // raw frame including parity
}

// ClockResetMarker returns the synthetic message the receiver emits when its
// timestamp counter restarts while the stream stays intact
func ClockResetMarker(timestamp int64) *Message {
	return &Message{
		DF:        DFClockReset,
		Kind:      KindClockReset,
		Timestamp: timestamp,
	}
}

// Hex returns the raw frame as lowercase hex
func (m *Message) Hex() string {
	return hex.EncodeToString(m.Data)
}

func (m *Message) String() string {
	if m.Kind == KindClockReset {
		return fmt.Sprintf("clock-reset@%d", m.Timestamp)
	}
	return fmt.Sprintf("%s %s @%d %s", m.Kind, FormatAddress(m.Address), m.Timestamp, m.Hex())
}

// FormatAddress renders an ICAO address as six lowercase hex digits
func FormatAddress(addr uint32) string {
	return fmt.Sprintf("%06x", addr&0xffffff)
}

// ParseAddress parses a six digit hex ICAO address
func ParseAddress(s string) (uint32, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid address %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
