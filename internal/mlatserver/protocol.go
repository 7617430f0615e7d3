package mlatserver

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/yegors/mlat-client/internal/coordinator"
	"github.com/yegors/mlat-client/internal/modes"
)

// ProtocolVersion is the handshake version spoken by this client
const ProtocolVersion = 3

// Compression methods
const (
	CompressNone = "none"
	CompressZlib = "zlib"
)

// Handshake is the first line sent to the server
type Handshake struct {
	Version          int      `json:"version"`
	ClientVersion    string   `json:"client_version"`
	User             string   `json:"user"`
	Lat              float64  `json:"lat"`
	Lon              float64  `json:"lon"`
	Alt              float64  `json:"alt"`
	ClockType        string   `json:"clock_type"`
	Compress         []string `json:"compress"`
	SelectiveTraffic bool     `json:"selective_traffic"`
	Heartbeat        bool     `json:"heartbeat"`
	ReturnResults    bool     `json:"return_results"`
}

// HandshakeReply is the server's answer to the handshake
type HandshakeReply struct {
	Compress    string   `json:"compress"`
	Deny        []string `json:"deny"`
	MOTD        string   `json:"motd"`
	SplitSync   bool     `json:"split_sync"`
	ReconnectIn float64  `json:"reconnect_in"` // seconds
}

type mlatMessage struct {
	T int64  `json:"t"`
	M string `json:"m"`
}

type syncMessage struct {
	ET int64  `json:"et"`
	OT int64  `json:"ot"`
	EM string `json:"em"`
	OM string `json:"om"`
}

type resultMessage struct {
	At        float64  `json:"@"`
	Addr      string   `json:"addr"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Alt       float64  `json:"alt"`
	Callsign  string   `json:"callsign"`
	Squawk    string   `json:"squawk"`
	Error     *float64 `json:"error"`
	NStations int      `json:"nstations"`
}

func hexAddresses(addrs []uint32) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = modes.FormatAddress(a)
	}
	return out
}

func parseAddresses(raw json.RawMessage) ([]uint32, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to parse address list: %w", err)
	}

	out := make([]uint32, 0, len(list))
	for _, s := range list {
		a, err := modes.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r resultMessage) toResult() (coordinator.Result, error) {
	addr, err := modes.ParseAddress(r.Addr)
	if err != nil {
		return coordinator.Result{}, err
	}

	secs, frac := math.Modf(r.At)
	res := coordinator.Result{
		Timestamp: time.Unix(int64(secs), int64(frac*1e9)).UTC(),
		Address:   addr,
		Latitude:  r.Lat,
		Longitude: r.Lon,
		Altitude:  r.Alt,
		Callsign:  r.Callsign,
		Squawk:    r.Squawk,
		Stations:  r.NStations,
	}
	if r.Error != nil {
		res.ErrorEstimate = *r.Error
	}
	return res, nil
}
