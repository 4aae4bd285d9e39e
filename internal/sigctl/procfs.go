package sigctl

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Sleeping reports whether the thread is parked in an interruptible sleep,
// which is where a worker sits once it has entered its blocking call.
func (t *Thread) Sleeping() (bool, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return false, fmt.Errorf("open procfs: %w", err)
	}
	th, err := fs.Thread(t.pid, t.tid)
	if err != nil {
		return false, fmt.Errorf("thread %d: %w", t.tid, err)
	}
	stat, err := th.Stat()
	if err != nil {
		return false, fmt.Errorf("thread %d stat: %w", t.tid, err)
	}
	return stat.State == "S", nil
}
