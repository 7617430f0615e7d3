package coordinator

import (
	"context"

	"github.com/yegors/mlat-client/internal/modes"
)

// Inbound queues collaborator callbacks onto the coordinator loop. It is safe
// for concurrent use and satisfies the receiver and server handler interfaces.
type Inbound struct {
	c *Coordinator
}

// Inbound returns the handle collaborators use to reach the coordinator
func (c *Coordinator) Inbound() *Inbound {
	return &Inbound{c: c}
}

func (in *Inbound) InputConnected() {
	_ = in.c.post(context.Background(), func(c *Coordinator) { c.InputConnected() })
}

func (in *Inbound) InputDisconnected() {
	_ = in.c.post(context.Background(), func(c *Coordinator) { c.InputDisconnected() })
}

func (in *Inbound) InputMessages(messages []*modes.Message) {
	_ = in.c.post(context.Background(), func(c *Coordinator) { c.InputReceivedMessages(messages) })
}

func (in *Inbound) ServerConnected() {
	_ = in.c.post(context.Background(), func(c *Coordinator) { c.ServerConnected() })
}

func (in *Inbound) ServerDisconnected() {
	_ = in.c.post(context.Background(), func(c *Coordinator) { c.ServerDisconnected() })
}

func (in *Inbound) MLATResult(r Result) {
	_ = in.c.post(context.Background(), func(c *Coordinator) { c.ServerMLATResult(r) })
}

func (in *Inbound) StartSending(addrs []uint32) {
	_ = in.c.post(context.Background(), func(c *Coordinator) { c.ServerStartSending(addrs) })
}

func (in *Inbound) StopSending(addrs []uint32) {
	_ = in.c.post(context.Background(), func(c *Coordinator) { c.ServerStopSending(addrs) })
}
