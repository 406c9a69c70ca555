package distribution

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/go-units"

	"github.com/docker/model-zoo/pkg/logging"
)

// UpdateInterval defines how often progress updates should be sent
const UpdateInterval = 100 * time.Millisecond

// MinBytesForUpdate defines the minimum number of bytes that need to be transferred
// before sending a progress update
const MinBytesForUpdate = 1024 * 1024 // 1MB

// Message represents a structured message for progress reporting
type Message struct {
	Type    string `json:"type"`              // "progress", "success", or "error"
	Message string `json:"message"`           // Human-readable message
	Key     string `json:"key,omitempty"`     // Artifact key
	Total   int64  `json:"total,omitempty"`   // Artifact size, if known
	Current int64  `json:"current,omitempty"` // Bytes transferred
}

// Reporter throttles byte counts into progress messages written to an
// optional writer and to the log.
type Reporter struct {
	log   logging.Logger
	out   io.Writer
	key   string
	total int64

	mu          sync.Mutex
	err         error
	lastUpdate  time.Time
	lastCurrent int64
}

// NewReporter creates a reporter for one artifact. out may be nil.
func NewReporter(log logging.Logger, out io.Writer, key string, total int64) *Reporter {
	if log == nil {
		log = logging.Discard()
	}
	return &Reporter{log: log, out: out, key: key, total: total}
}

// Update records that current bytes were transferred.
func (r *Reporter) Update(current int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.lastUpdate) < UpdateInterval && current-r.lastCurrent < MinBytesForUpdate {
		return
	}
	r.lastUpdate = now
	r.lastCurrent = current
	msg := "Downloaded: " + units.HumanSize(float64(current))
	if r.total > 0 {
		msg += " of " + units.HumanSize(float64(r.total))
	}
	r.log.Debugf("%s: %s", r.key, msg)
	r.write(Message{Type: "progress", Message: msg, Key: r.key, Total: r.total, Current: current})
}

// Success reports a completed transfer.
func (r *Reporter) Success(current int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := fmt.Sprintf("Downloaded %s (%s)", r.key, units.HumanSize(float64(current)))
	r.log.Info(msg)
	r.write(Message{Type: "success", Message: msg, Key: r.key, Total: r.total, Current: current})
}

// Error reports a failed transfer.
func (r *Reporter) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write(Message{Type: "error", Message: err.Error(), Key: r.key})
}

// Err returns the first error encountered writing progress.
func (r *Reporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// write writes a JSON-formatted progress message to the writer
func (r *Reporter) write(msg Message) {
	if r.out == nil || r.err != nil {
		return // If we fail to write progress, don't try again
	}
	data, err := json.Marshal(msg)
	if err != nil {
		r.err = err
		return
	}
	if _, err := fmt.Fprintf(r.out, "%s\n", data); err != nil {
		r.err = err
		return
	}
	if f, ok := r.out.(interface{ Flush() }); ok {
		f.Flush()
	}
}

// ProgressReader counts the bytes read through it.
type ProgressReader struct {
	r        io.Reader
	current  int64
	reporter *Reporter
}

// NewProgressReader wraps r, reporting to reporter, which may be nil.
func NewProgressReader(r io.Reader, reporter *Reporter) *ProgressReader {
	return &ProgressReader{r: r, reporter: reporter}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.current += int64(n)
	if n > 0 && p.reporter != nil {
		p.reporter.Update(p.current)
	}
	return n, err
}

// Current returns the number of bytes read so far.
func (p *ProgressReader) Current() int64 {
	return p.current
}

// DecodeMessages reads newline-delimited progress messages from r, calling
// fn for each until r is exhausted.
func DecodeMessages(r io.Reader, fn func(Message) error) error {
	dec := json.NewDecoder(r)
	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decoding progress message: %w", err)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
