package transport

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Connection is the receiver's view of the single active sender.
// It is owned by the receive goroutine and never shared; readers use Stats.
type Connection struct {
	// ID distinguishes successive connections from the same address in logs.
	ID   string
	Addr netip.AddrPort

	Established    time.Time
	LastPacketTime time.Time
	LastAckTime    time.Time

	PacketsReceived uint64
	PacketsLost     uint64

	lastSequence uint32
	hasSequence  bool
}

func newConnection(addr netip.AddrPort, now time.Time) *Connection {
	return &Connection{
		ID:          uuid.NewString(),
		Addr:        addr,
		Established: now,
	}
}

// LastSequence returns the last accepted sequence number and whether one has
// been seen on this connection.
func (c *Connection) LastSequence() (uint32, bool) {
	return c.lastSequence, c.hasSequence
}

// observe records an accepted packet and returns how many packets the
// sequence gap adds to the loss counter.
//
// Gaps of threshold or more are treated as noise. That covers both huge
// forward jumps and reordered packets, whose gap wraps to near 2^32.
func (c *Connection) observe(sequence uint32, now time.Time, threshold uint32) uint32 {
	c.LastPacketTime = now
	c.PacketsReceived++

	var lost uint32
	if c.hasSequence {
		expected := c.lastSequence + 1
		if sequence != expected {
			gap := sequence - expected
			if gap < threshold {
				lost = gap
				c.PacketsLost += uint64(gap)
			}
		}
	}

	c.lastSequence = sequence
	c.hasSequence = true
	return lost
}
