package app

import (
	"fmt"
	"io"
	"sync"
	"time"

	"drivesync/internal/ds"
)

// Notifier logs the outcome of background syncs and prints a one-line
// summary for the operator.
type Notifier struct {
	logger ds.Logger
	mu     sync.Mutex
	out    io.Writer
	now    func() time.Time
}

// NewNotifier creates a Notifier writing to out. out may be nil.
func NewNotifier(logger ds.Logger, out io.Writer) *Notifier {
	return &Notifier{logger: logger, out: out, now: time.Now}
}

func (n *Notifier) Notify(groupID, status, message string) {
	switch status {
	case ds.NotifyError:
		n.logger.Error(message, "group", groupID)
	case ds.NotifyWarning:
		n.logger.Warn(message, "group", groupID)
	default:
		n.logger.Info(message, "group", groupID)
	}

	if n.out == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, "%s [%s] %s: %s\n", n.now().Format("15:04:05"), status, groupID, message)
}

var _ ds.Notifier = (*Notifier)(nil)
