package resource

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Statistics tallies cache activity and policy outcomes for diagnostics.
type Statistics struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func newStatistics() *Statistics {
	return &Statistics{counters: make(map[string]uint64)}
}

func (s *Statistics) bump(name string) {
	s.mu.Lock()
	s.counters[name]++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Log emits the counters as one structured line.
func (s *Statistics) Log(log *logrus.Entry) {
	fields := logrus.Fields{}
	for k, v := range s.Snapshot() {
		fields[k] = v
	}
	log.WithFields(fields).Info("cache statistics")
}
