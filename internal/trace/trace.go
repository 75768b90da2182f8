// Package trace emits Chrome trace-event-format JSON for lifecycle step
// execution, so a full pull/build/stage/prime run can be loaded into
// chrome://tracing or the Perfetto UI to see where time went per part/step.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

var start = time.Now()

var (
	sinkMu sync.Mutex
	sink   io.Writer = ioutil.Discard
)

// Sink writes all following Event()s as a Chrome trace event file into w.
func Sink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	// Start the JSON Array Format
	w.Write([]byte{'['})
	// The ] at the end is optional, so we skip it
}

// Enable is a convenience function for creating a file in
// $TMPDIR/parts.traces/<prefix>.<run-id>.trace, where run-id distinguishes
// concurrent invocations that share a PID (e.g. re-exec'd step processes).
func Enable(prefix string) (string, error) {
	runID := uuid.NewString()
	fn := filepath.Join(os.TempDir(), "parts.traces", fmt.Sprintf("%s.%s.trace", prefix, runID))
	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	Sink(f)
	return fn, nil
}

// PendingEvent is a started-but-not-yet-finished trace event; call Done once
// the work it describes has completed.
type PendingEvent struct {
	Name           string      `json:"name"` // name of the event, as displayed in Trace Viewer
	Categories     string      `json:"cat"`  // event categories (comma-separated)
	Type           string      `json:"ph"`   // event type (single character)
	ClockTimestamp uint64      `json:"ts"`   // tracing clock timestamp (microsecond granularity)
	Duration       uint64      `json:"dur"`
	Pid            uint64      `json:"pid"` // process ID for the process that output this event
	Tid            uint64      `json:"tid"` // thread ID for the thread that output this event
	Args           interface{} `json:"args"`

	start time.Time
}

// Done finalizes the event and writes it to the configured sink.
func (pe *PendingEvent) Done() {
	pe.Duration = uint64(time.Since(pe.start) / time.Microsecond)
	b, err := json.Marshal(pe)
	if err != nil {
		panic(err)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if _, err := sink.Write(append(b, ',')); err != nil {
		log.Printf("[trace] %v", err)
	}
}

// Event starts a new trace event named name on the given (fake) thread id.
// The executor passes the step number as tid, so each lifecycle step shows
// up on its own row.
func Event(name string, tid int) *PendingEvent {
	return &PendingEvent{
		Name:           name,
		Type:           "X",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		Tid:            uint64(tid),
		start:          time.Now(),
	}
}
