package ids

import (
	"strconv"
	"sync"
	"time"
)

// Source hands out unique identifiers.
type Source interface {
	NextString() string
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// Snowflake produces 63-bit ids: 41 bits of milliseconds since epoch, 10 bits of node,
// 12 bits of per-millisecond sequence.
type Snowflake struct {
	mu       sync.Mutex
	nodeID   int64
	seq      int64
	lastTSMS int64
	now      func() time.Time
}

// NewSnowflake builds a generator for node 0..1023; out of range falls back to 1.
func NewSnowflake(nodeID int64) *Snowflake {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	return &Snowflake{nodeID: nodeID, now: time.Now}
}

func (g *Snowflake) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := g.now().UnixMilli()
		if now < g.lastTSMS {
			// clock moved backwards
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF
			if g.seq == 0 {
				for now <= g.lastTSMS {
					now = g.now().UnixMilli()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - epoch) & ((1 << 41) - 1)
		return (ts << 22) | (g.nodeID << 12) | g.seq
	}
}

func (g *Snowflake) NextString() string {
	return strconv.FormatInt(g.Next(), 10)
}

// Node extracts the node bits of an id produced by Snowflake.
func Node(id int64) int64 {
	return (id >> 12) & 0x3FF
}
