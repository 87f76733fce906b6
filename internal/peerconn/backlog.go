package peerconn

import "time"

// Backlog returns the number of requests sent to the peer and not answered yet.
func (c *Conn) Backlog() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.backlog
}

// DecrementBacklog decrements the number of outstanding requests.
// The counter does not go below zero since a choke may have reset it already.
func (c *Conn) DecrementBacklog() {
	c.m.Lock()
	if c.backlog > 0 {
		c.backlog--
	}
	c.cond.Broadcast()
	c.m.Unlock()
}

// ReserveRequest waits until the peer unchokes us and the backlog is below the configured maximum,
// then increments the backlog. The caller must send a request or call DecrementBacklog afterwards.
func (c *Conn) ReserveRequest(timeout time.Duration) error {
	c.m.Lock()
	defer c.m.Unlock()
	err := c.waitUntil(func() bool {
		return !c.flags.PeerChoking && c.backlog < c.config.MaxBacklog
	}, timeout)
	if err != nil {
		return err
	}
	c.backlog++
	return nil
}

// WaitUnchoke blocks until the peer unchokes us.
func (c *Conn) WaitUnchoke(timeout time.Duration) error {
	c.m.Lock()
	defer c.m.Unlock()
	return c.waitUntil(func() bool { return !c.flags.PeerChoking }, timeout)
}

// WaitBacklogChange blocks until a request is answered, the peer chokes us or the backlog is already zero.
func (c *Conn) WaitBacklogChange(timeout time.Duration) error {
	c.m.Lock()
	defer c.m.Unlock()
	start := c.backlog
	return c.waitUntil(func() bool { return c.backlog == 0 || c.backlog != start || c.flags.PeerChoking }, timeout)
}

// waitUntil waits on the condition variable until cond returns true.
// A zero timeout waits forever. Must be called with c.m held.
func (c *Conn) waitUntil(cond func() bool, timeout time.Duration) error {
	var timedOut bool
	if timeout > 0 {
		t := time.AfterFunc(timeout, func() {
			c.m.Lock()
			timedOut = true
			c.cond.Broadcast()
			c.m.Unlock()
		})
		defer t.Stop()
	}
	for {
		if c.state == Closed || c.state == Failed {
			return ErrClosed
		}
		if cond() {
			return nil
		}
		if timedOut {
			return ErrTimeout
		}
		c.cond.Wait()
	}
}
