package logging

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is one captured log line
type Record struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// Ring keeps the most recent records in a fixed size ring. When full, the
// oldest record is overwritten. It is meant to be drained regularly, the
// control server empties it into every response.
type Ring struct {
	sync.Mutex

	ring []Record

	readPointer  int
	writePointer int
	elements     int
}

// DefaultRingCapacity is used when NewRing is given a capacity below 1
const DefaultRingCapacity = 1024

// NewRing creates a ring holding at most capacity records
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultRingCapacity
	}

	return &Ring{
		ring: make([]Record, capacity),
	}
}

func (r *Ring) incrementPointer(ptr *int) {
	*ptr++
	if *ptr >= len(r.ring) {
		*ptr = 0
	}
}

// Push appends a record. Returns number of records held.
func (r *Ring) Push(rec Record) int {
	r.Lock()
	defer r.Unlock()

	if r.elements == len(r.ring) {
		/* Full, drop the oldest */
		r.incrementPointer(&r.readPointer)
		r.elements--
	}

	r.ring[r.writePointer] = rec
	r.incrementPointer(&r.writePointer)
	r.elements++

	return r.elements
}

// Len returns the number of records held
func (r *Ring) Len() int {
	r.Lock()
	defer r.Unlock()

	return r.elements
}

// Drain removes and returns all records, oldest first
func (r *Ring) Drain() []Record {
	r.Lock()
	defer r.Unlock()

	out := make([]Record, 0, r.elements)
	for r.elements > 0 {
		out = append(out, r.ring[r.readPointer])
		r.ring[r.readPointer] = Record{}
		r.incrementPointer(&r.readPointer)
		r.elements--
	}

	return out
}

// Levels implements logrus.Hook
func (r *Ring) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (r *Ring) Fire(entry *logrus.Entry) error {
	source, _ := entry.Data["prefix"].(string)
	r.Push(Record{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Source:  source,
		Message: entry.Message,
	})
	return nil
}
