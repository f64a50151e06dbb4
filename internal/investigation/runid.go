package investigation

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

var runIDMu sync.Mutex
var lastRunEpoch int64

// NewRunID derives a process-unique, monotonically increasing run identifier
// from the current epoch milliseconds and a hash of the raw input. Two calls
// in the same millisecond bump the epoch component so IDs never collide or
// go backwards within a process.
func NewRunID(input string) string {
	runIDMu.Lock()
	defer runIDMu.Unlock()

	epoch := time.Now().UnixMilli()
	if epoch <= lastRunEpoch {
		epoch = lastRunEpoch + 1
	}
	lastRunEpoch = epoch

	h := fnv.New32a()
	_, _ = h.Write([]byte(input))
	return fmt.Sprintf("rca-%d-%08x", epoch, h.Sum32())
}
