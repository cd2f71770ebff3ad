// Package hlc mints transaction ids from a hybrid logical clock so ids
// recorded on different nodes stay totally ordered.
package hlc

import (
	"sync"
	"time"
)

// LogicalBits is the number of bits reserved for the logical counter in txn ids.
// 16 bits = ~65k ids per millisecond per node.
const LogicalBits = 16

// LogicalMask masks the logical counter to 16 bits
const LogicalMask = (1 << LogicalBits) - 1

// NodeIDBits is the number of bits reserved for the node id in txn ids.
const NodeIDBits = 6

// NodeIDMask masks the node id to 6 bits
const NodeIDMask = (1 << NodeIDBits) - 1

// TotalShiftBits is the shift applied to the millisecond wall time
const TotalShiftBits = NodeIDBits + LogicalBits

// MaxLogical is the maximum value for the logical counter before the clock
// waits for the next millisecond
const MaxLogical = LogicalMask

// Timestamp represents a point in time across the cluster
type Timestamp struct {
	WallTime int64
	Logical  int32
	NodeID   uint64
}

// Clock is a hybrid logical clock
type Clock struct {
	nodeID   uint64
	wallTime int64
	logical  int32
	lastMS   int64 // logical resets when the millisecond changes
	physical func() int64
	mu       sync.Mutex
}

// NewClock creates a new HLC instance
func NewClock(nodeID uint64) *Clock {
	return newClock(nodeID, func() int64 { return time.Now().UnixNano() })
}

func newClock(nodeID uint64, physical func() int64) *Clock {
	now := physical()
	return &Clock{
		nodeID:   nodeID,
		wallTime: now,
		lastMS:   now / 1_000_000,
		physical: physical,
	}
}

// Now generates a new timestamp for a local event
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := c.physical()
	if physicalNow > c.wallTime {
		c.wallTime = physicalNow
	}
	if ms := c.wallTime / 1_000_000; ms > c.lastMS {
		c.lastMS = ms
		c.logical = 0
	}

	if c.logical >= MaxLogical {
		c.waitNextMillisecond()
	}
	c.logical++

	return c.timestamp()
}

// Update merges a timestamp observed from elsewhere and returns a local
// timestamp ordered after both
func (c *Clock) Update(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := c.physical()

	switch {
	case physicalNow > c.wallTime && physicalNow > remote.WallTime:
		c.wallTime = physicalNow
		if physicalNow/1_000_000 > c.lastMS {
			c.logical = 0
		} else {
			c.logical++
		}
	case remote.WallTime > c.wallTime:
		c.wallTime = remote.WallTime
		c.logical = remote.Logical + 1
	case remote.WallTime == c.wallTime:
		if remote.Logical > c.logical {
			c.logical = remote.Logical
		}
		c.logical++
	default:
		c.logical++
	}
	c.lastMS = c.wallTime / 1_000_000

	if c.logical >= MaxLogical {
		c.waitNextMillisecond()
		c.logical = 1
	}

	return c.timestamp()
}

// Observe advances the clock so every later NextTxnID is greater than txnID.
// Node id bits sit above the logical counter, so the clock moves to the
// millisecond after txnID's instead of merging logical counters.
func (c *Clock) Observe(txnID uint64) {
	remoteMS := int64(txnID >> TotalShiftBits)

	c.mu.Lock()
	defer c.mu.Unlock()

	if remoteMS < c.lastMS {
		return
	}
	c.lastMS = remoteMS + 1
	c.wallTime = c.lastMS * 1_000_000
	c.logical = 0
}

// NextTxnID mints a transaction id greater than every id this clock has
// minted or observed
func (c *Clock) NextTxnID() uint64 {
	return c.Now().ToTxnID()
}

// waitNextMillisecond blocks until the physical clock moves to a later
// millisecond. Caller must hold c.mu.
func (c *Clock) waitNextMillisecond() {
	for {
		now := c.physical()
		if ms := now / 1_000_000; ms > c.lastMS {
			c.wallTime = now
			c.lastMS = ms
			c.logical = 0
			return
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func (c *Clock) timestamp() Timestamp {
	return Timestamp{
		WallTime: c.wallTime,
		Logical:  c.logical,
		NodeID:   c.nodeID,
	}
}

// Compare orders timestamps by wall time, then logical counter, then node id.
// Returns -1, 0 or 1.
func Compare(a, b Timestamp) int {
	switch {
	case a.WallTime != b.WallTime:
		return cmp(a.WallTime < b.WallTime)
	case a.Logical != b.Logical:
		return cmp(a.Logical < b.Logical)
	case a.NodeID != b.NodeID:
		return cmp(a.NodeID < b.NodeID)
	}
	return 0
}

func cmp(less bool) int {
	if less {
		return -1
	}
	return 1
}

// PhysicalTime returns the physical time component as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

// String returns a human-readable representation
func (t Timestamp) String() string {
	return t.PhysicalTime().Format(time.RFC3339Nano)
}

// ToTxnID packs a timestamp into a transaction id:
// (physical_ms << 22) | (node_id << 16) | logical
func (t Timestamp) ToTxnID() uint64 {
	physicalMS := uint64(t.WallTime / 1_000_000)
	nodeID := t.NodeID & NodeIDMask
	logical := uint64(t.Logical) & LogicalMask
	return (physicalMS << TotalShiftBits) | (nodeID << LogicalBits) | logical
}

// FromTxnID unpacks a transaction id. Wall time is truncated to the millisecond.
func FromTxnID(id uint64) Timestamp {
	return Timestamp{
		WallTime: int64(id>>TotalShiftBits) * 1_000_000,
		Logical:  int32(id & LogicalMask),
		NodeID:   (id >> LogicalBits) & NodeIDMask,
	}
}
