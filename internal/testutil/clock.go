package testutil

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Epoch is the instant every FixedClock starts at.
var Epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// FixedClock returns a fake clock frozen at Epoch. Time only moves on Advance.
func FixedClock() clockwork.FakeClock {
	return clockwork.NewFakeClockAt(Epoch)
}

// SeqIDs hands out "id-1", "id-2", ... in call order.
type SeqIDs struct {
	n atomic.Int64
}

func NewStubIDGenerator() *SeqIDs {
	return &SeqIDs{}
}

func (g *SeqIDs) New() string {
	return "id-" + strconv.FormatInt(g.n.Add(1), 10)
}
