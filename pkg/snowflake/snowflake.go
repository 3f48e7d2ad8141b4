package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch is the custom epoch in milliseconds (Jan 01 2023 00:00:00 UTC).
	Epoch int64 = 1672531200000

	// NodeBits holds the number of bits to use for the node id.
	NodeBits uint8 = 10

	// StepBits holds the number of bits to use for the per-millisecond sequence.
	StepBits uint8 = 12

	nodeMask  = -1 ^ (-1 << NodeBits)
	stepMask  = -1 ^ (-1 << StepBits)
	timeShift = NodeBits + StepBits
	nodeShift = StepBits
)

// IDGenerator generates unique, time-ordered ids using the snowflake layout.
type IDGenerator struct {
	mu        sync.Mutex
	timestamp int64
	nodeID    int64
	step      int64
}

// NewIDGenerator creates a new ID generator for the given node.
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	if nodeID < 0 || nodeID > nodeMask {
		return nil, errors.New("invalid node ID")
	}

	return &IDGenerator{nodeID: nodeID}, nil
}

// NextID generates a new ID
func (g *IDGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()

	if g.timestamp == now {
		g.step = (g.step + 1) & stepMask

		if g.step == 0 {
			// Sequence exhausted, wait for next millisecond
			for now <= g.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.step = 0
	}

	g.timestamp = now

	return (now-Epoch)<<timeShift | g.nodeID<<nodeShift | g.step
}

// NextUint64 generates a new ID as uint64, which is what the models use.
func (g *IDGenerator) NextUint64() uint64 {
	return uint64(g.NextID())
}
