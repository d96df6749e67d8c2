package orchestrator

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"

	"github.com/codefionn/werkzeug/internal/toolcall"
)

// Verdict is the repetition detector's judgement after recording a call.
type Verdict int

const (
	// Progressing means the run is still doing new things.
	Progressing Verdict = iota
	// Stalled means the last N calls were identical; the run is not going
	// to converge and should abort.
	Stalled
)

// RepetitionDetector watches the stream of executed tool calls for a run.
// A call is identified by its host, tool name and canonicalized arguments;
// the call id and ordering metadata do not participate, so re-issued calls
// with fresh ids still count as repeats.
type RepetitionDetector struct {
	threshold int
	window    []uint64
}

// NewRepetitionDetector creates a detector that stalls after threshold
// identical consecutive calls. Thresholds below 2 are raised to 2, a single
// occurrence can never be a repeat.
func NewRepetitionDetector(threshold int) *RepetitionDetector {
	if threshold < 2 {
		threshold = 2
	}
	return &RepetitionDetector{threshold: threshold}
}

// Record adds a call and reports whether the run has stalled. The detector
// is run-local and accessed from the loop goroutine only.
func (d *RepetitionDetector) Record(call toolcall.Call) Verdict {
	fp := Fingerprint(call)

	d.window = append(d.window, fp)
	if len(d.window) > d.threshold {
		d.window = d.window[1:]
	}

	if len(d.window) < d.threshold {
		return Progressing
	}
	for _, prev := range d.window[1:] {
		if prev != d.window[0] {
			return Progressing
		}
	}
	return Stalled
}

// Reset clears the window.
func (d *RepetitionDetector) Reset() {
	d.window = d.window[:0]
}

// Fingerprint hashes the identity of a call: host, tool and canonical
// argument JSON. encoding/json writes map keys in sorted order, so argument
// maps with equal contents hash equally regardless of construction order.
func Fingerprint(call toolcall.Call) uint64 {
	h := xxhash.New()
	h.WriteString(call.Server)
	h.Write([]byte{0})
	h.WriteString(call.Tool)
	h.Write([]byte{0})
	if data, err := json.Marshal(call.Arguments); err == nil {
		h.Write(data)
	}
	return h.Sum64()
}
