package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TraceEventType is the closed set of trace record kinds (spec §4.1, §6).
type TraceEventType string

const (
	TraceObservation  TraceEventType = "observation"
	TraceMemoryQuery  TraceEventType = "memory_query"
	TraceMemoryWrite  TraceEventType = "memory_write"
	TracePlan         TraceEventType = "plan"
	TraceStep         TraceEventType = "step"
	TraceReflection   TraceEventType = "reflection"
	TraceStop         TraceEventType = "stop"
)

// TraceEvent is one record of the append-only execution trace. Every
// record carries a monotonic Seq and ISO-8601 Timestamp (spec §6).
type TraceEvent struct {
	Type      TraceEventType `json:"type"`
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`

	Observation *Observation `json:"observation,omitempty"`
	MemoryQuery *MemoryQueryEvent `json:"memory_query,omitempty"`
	MemoryWrite *MemoryWriteEvent `json:"memory_write,omitempty"`
	Plan        *Plan        `json:"plan,omitempty"`
	Step        *Step        `json:"step,omitempty"`
	Reflection  *Reflection  `json:"reflection,omitempty"`
	Stop        *StopEvent   `json:"stop,omitempty"`
}

// MemoryQueryEvent records a memory.search call and the number of records
// returned (not the full payload, to keep traces bounded).
type MemoryQueryEvent struct {
	Query   string `json:"query"`
	K       int    `json:"k"`
	Results int    `json:"results"`
}

// MemoryWriteEvent records a memory.store call.
type MemoryWriteEvent struct {
	Kind MemoryKind `json:"kind"`
	Key  string     `json:"key"`
}

// StopEvent is the payload of the terminal stop record (spec §6).
type StopEvent struct {
	Reason          StopReason `json:"reason"`
	Success         bool       `json:"success"`
	Steps           int        `json:"steps"`
	DurationSeconds float64    `json:"duration_seconds"`
	CostEstimate    *float64   `json:"cost_estimate,omitempty"`
}

// TraceSink is the external collaborator of spec §6: append(event),
// close(). Implementations must guarantee append-atomicity per record — a
// partial record must never be observable (P10).
type TraceSink interface {
	Append(event TraceEvent) error
	Close() error
}

// FileTraceSink writes a newline-delimited JSON trace to a single
// O_APPEND-opened file. One os.File.Write call per record keeps each append
// atomic at the sizes a trace record reaches in practice; there is no
// partial-record window between processes sharing the same file descriptor
// because POSIX append writes below PIPE_BUF-scale are atomic.
type FileTraceSink struct {
	mu   sync.Mutex
	f    *os.File
	seq  int64
}

// NewFileTraceSink opens (creating if needed) path for append and returns a
// TraceSink backed by it.
func NewFileTraceSink(path string) (*FileTraceSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	return &FileTraceSink{f: f}, nil
}

func (s *FileTraceSink) Append(event TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.Seq = s.seq
	s.seq++

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling trace event: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("writing trace event: %w", err)
	}
	return nil
}

func (s *FileTraceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// MemoryTraceSink is an in-memory TraceSink, used by tests that want to
// assert on the recorded sequence without touching the filesystem.
type MemoryTraceSink struct {
	mu     sync.Mutex
	events []TraceEvent
	seq    int64
	closed bool
}

func NewMemoryTraceSink() *MemoryTraceSink { return &MemoryTraceSink{} }

func (s *MemoryTraceSink) Append(event TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Seq = s.seq
	s.seq++
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryTraceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryTraceSink) Events() []TraceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TraceEvent, len(s.events))
	copy(out, s.events)
	return out
}
