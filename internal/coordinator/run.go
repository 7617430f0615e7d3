package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/yegors/mlat-client/pkg/logger"
)

// ErrStopped is returned by queries made after the run loop has exited
var ErrStopped = errors.New("coordinator stopped")

// Run processes events until ctx is cancelled
func (c *Coordinator) Run(ctx context.Context) error {
	return c.RunUntil(ctx, nil)
}

// RunUntil processes events and heartbeats until ctx is cancelled or done
// reports true. On exit the receiver, the server and every output are
// disconnected even if the loop is unwinding from a panic; the panic then
// continues to propagate.
func (c *Coordinator) RunUntil(ctx context.Context, done func() bool) (err error) {
	defer func() {
		if terr := c.teardown(); terr != nil {
			c.logger.Error("Teardown failed", logger.Error(terr))
			err = multierr.Append(err, terr)
		}
	}()

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	nextHeartbeat := c.now().Add(HeartbeatInterval)
	c.logger.Info("Coordinator running")

	for done == nil || !done() {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			ev(c)
		case <-poll.C:
		}

		if now := c.now(); !now.Before(nextHeartbeat) {
			nextHeartbeat = now.Add(HeartbeatInterval)
			c.Heartbeat(now)
		}
	}
	return nil
}

// teardown disconnects every collaborator, attempting each step regardless of
// failures in earlier ones.
func (c *Coordinator) teardown() error {
	c.stopOnce.Do(func() { close(c.stopped) })

	var err error
	err = multierr.Append(err, guard("receiver", func() { c.receiver.Disconnect(reasonShutdown) }))
	err = multierr.Append(err, guard("server", func() { c.server.Disconnect(reasonShutdown) }))
	for i, o := range c.outputs {
		err = multierr.Append(err, guard(fmt.Sprintf("output %d", i), o.Disconnect))
	}
	return err
}

func guard(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to disconnect %s: %v", name, r)
		}
	}()
	fn()
	return nil
}
