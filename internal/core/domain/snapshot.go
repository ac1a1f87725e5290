package domain

import (
	"time"

	"github.com/berfenger/lynx2mqtt/pkg/lynx"
)

// FunctionState is the last known state of one exposed function.
type FunctionState struct {
	FunctionID     int64
	InstallationID int64
	Type           string
	Name           string
	TopicRead      string
	// DeviceID is the best-effort parse of meta device_id, 0 when the
	// function is not assigned to a device.
	DeviceID  int64
	Meta      lynx.Meta
	Value     float64
	Msg       string
	Timestamp float64
}

// HasSample reports whether a status sample has ever been seen for the
// function's read topic.
func (s FunctionState) HasSample() bool {
	return s.Timestamp > 0
}

// Snapshot is one complete poll cycle result. Snapshots are immutable:
// every cycle builds a fresh one and replaces the previous as a whole.
type Snapshot struct {
	InstallationID int64
	TakenAt        time.Time
	Functions      map[int64]FunctionState
}

func (s *Snapshot) Get(functionID int64) (FunctionState, bool) {
	if s == nil {
		return FunctionState{}, false
	}
	st, ok := s.Functions[functionID]
	return st, ok
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Functions)
}

// ReadTopics returns the distinct read topics of all functions in the
// snapshot.
func (s *Snapshot) ReadTopics() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]bool, len(s.Functions))
	var topics []string
	for _, fn := range s.Functions {
		if fn.TopicRead == "" || seen[fn.TopicRead] {
			continue
		}
		seen[fn.TopicRead] = true
		topics = append(topics, fn.TopicRead)
	}
	return topics
}
