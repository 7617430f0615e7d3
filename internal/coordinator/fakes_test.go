package coordinator

import (
	"sync"
	"time"

	"github.com/yegors/mlat-client/internal/modes"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
	return f.t
}

type fakeReceiver struct {
	mu            sync.Mutex
	state         string
	heartbeats    int
	disconnects   []string
	reconnects    int
	panicOnDetach bool
}

func (r *fakeReceiver) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeReceiver) Heartbeat(time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
}

func (r *fakeReceiver) Disconnect(reason string) {
	r.mu.Lock()
	r.disconnects = append(r.disconnects, reason)
	r.mu.Unlock()
	if r.panicOnDetach {
		panic("receiver exploded")
	}
}

func (r *fakeReceiver) Reconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects++
}

type syncPair struct {
	even, odd *modes.Message
}

type fakeServer struct {
	mu          sync.Mutex
	state       string
	splitSync   bool
	disconnects []string

	seen              [][]uint32
	lost              [][]uint32
	rates             []map[uint32]float64
	mlat              []*modes.Message
	syncs             []syncPair
	splitSyncs        []*modes.Message
	clockResets       []string
	inputConnected    int
	inputDisconnected int
}

func (s *fakeServer) State() string       { return s.state }
func (s *fakeServer) Heartbeat(time.Time) {}
func (s *fakeServer) SplitSync() bool     { return s.splitSync }
func (s *fakeServer) SendInputConnected() { s.inputConnected++ }
func (s *fakeServer) SendMLAT(m *modes.Message) {
	s.mlat = append(s.mlat, m)
}

func (s *fakeServer) Disconnect(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, reason)
}

func (s *fakeServer) SendSeen(addrs []uint32)                 { s.seen = append(s.seen, addrs) }
func (s *fakeServer) SendLost(addrs []uint32)                 { s.lost = append(s.lost, addrs) }
func (s *fakeServer) SendRateReport(rates map[uint32]float64) { s.rates = append(s.rates, rates) }
func (s *fakeServer) SendSync(even, odd *modes.Message) {
	s.syncs = append(s.syncs, syncPair{even, odd})
}
func (s *fakeServer) SendSplitSync(m *modes.Message) { s.splitSyncs = append(s.splitSyncs, m) }
func (s *fakeServer) SendClockReset(reason string)   { s.clockResets = append(s.clockResets, reason) }
func (s *fakeServer) SendInputDisconnected()         { s.inputDisconnected++ }

type fakeOutput struct {
	mu           sync.Mutex
	heartbeats   int
	disconnected bool
	positions    []Result
}

func (o *fakeOutput) Heartbeat(time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.heartbeats++
}

func (o *fakeOutput) Disconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnected = true
}

func (o *fakeOutput) SendPosition(r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.positions = append(o.positions, r)
}

func (o *fakeOutput) Positions() []Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Result(nil), o.positions...)
}

type harness struct {
	clock    *fakeClock
	receiver *fakeReceiver
	server   *fakeServer
	output   *fakeOutput
	c        *Coordinator
}

const testFreq = 12e6

func newHarness() *harness {
	h := &harness{
		clock:    newFakeClock(),
		receiver: &fakeReceiver{state: StateReady},
		server:   &fakeServer{state: StateReady},
		output:   &fakeOutput{},
	}
	h.c = New(h.receiver, h.server, []Output{h.output}, testFreq, nil, nil, WithClock(h.clock.Now))
	return h
}

func (h *harness) feed(msgs ...*modes.Message) {
	h.c.InputReceivedMessages(msgs)
}

// warm feeds enough all-call replies for addr to complete warm-up
func (h *harness) warm(addr uint32) {
	for i := 0; i < WarmupMessages; i++ {
		h.feed(df11(addr))
	}
}

func df11(addr uint32) *modes.Message {
	return &modes.Message{DF: 11, Kind: modes.KindDF11, Address: addr}
}

func misc(kind modes.Kind, addr uint32) *modes.Message {
	return &modes.Message{Kind: kind, Address: addr}
}

func identification(addr uint32) *modes.Message {
	return &modes.Message{DF: 17, Kind: modes.KindDF17, Address: addr}
}

func position(addr uint32, even bool, ts int64, nuc int) *modes.Message {
	alt := 38000
	return &modes.Message{
		DF:        17,
		Kind:      modes.KindDF17,
		Address:   addr,
		Timestamp: ts,
		EvenCPR:   even,
		OddCPR:    !even,
		Altitude:  &alt,
		NUC:       nuc,
	}
}
