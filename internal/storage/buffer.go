package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

type node struct {
	record *telemetry.Record
	next   *node
}

// RecordBuffer is a thread-safe buffer keeping records in timestamp order.
// Records arriving out of order are inserted at their place, records with
// equal timestamps keep their arrival order.
type RecordBuffer struct {
	capacity   int // Maximum number of records to hold before flushing
	flushCount int // Number of records to remove when the buffer is full

	mu   sync.Mutex
	head *node
	tail *node
	size int
}

// NewRecordBuffer creates a buffer holding up to capacity records, flushing
// flushCount records at a time.
func NewRecordBuffer(capacity, flushCount int) (*RecordBuffer, error) {
	if capacity <= 0 || flushCount <= 0 || flushCount > capacity {
		return nil, fmt.Errorf("invalid buffer parameters: capacity=%d, flushCount=%d", capacity, flushCount)
	}
	return &RecordBuffer{
		capacity:   capacity,
		flushCount: flushCount,
	}, nil
}

// Insert adds a record to the buffer in timestamp order
func (rb *RecordBuffer) Insert(r *telemetry.Record) error {
	if r == nil {
		return errors.New("cannot insert nil record")
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := &node{record: r}
	rb.size++

	switch {
	case rb.head == nil:
		rb.head, rb.tail = n, n
		return nil

	// Records usually arrive in order
	case !r.Timestamp.Before(rb.tail.record.Timestamp):
		rb.tail.next = n
		rb.tail = n
		return nil

	case r.Timestamp.Before(rb.head.record.Timestamp):
		n.next = rb.head
		rb.head = n
		return nil
	}

	current := rb.head
	for !current.next.record.Timestamp.After(r.Timestamp) {
		current = current.next
	}
	n.next = current.next
	current.next = n
	return nil
}

// IsFull returns true if the buffer has reached its capacity
func (rb *RecordBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return rb.size >= rb.capacity
}

// Flush removes and returns the oldest records. It returns flushCount records,
// plus any records above capacity, or nil if the buffer is empty.
func (rb *RecordBuffer) Flush() []*telemetry.Record {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	count := rb.flushCount
	if rb.size > rb.capacity {
		count += rb.size - rb.capacity
	}
	return rb.take(min(count, rb.size))
}

// DrainAll removes and returns all records, nil if the buffer is empty
func (rb *RecordBuffer) DrainAll() []*telemetry.Record {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return rb.take(rb.size)
}

func (rb *RecordBuffer) take(count int) []*telemetry.Record {
	if count == 0 {
		return nil
	}

	results := make([]*telemetry.Record, 0, count)
	current := rb.head
	for i := 0; i < count && current != nil; i++ {
		results = append(results, current.record)
		current = current.next
	}

	rb.head = current
	if rb.head == nil {
		rb.tail = nil
	}
	rb.size -= len(results)
	return results
}

func (rb *RecordBuffer) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}
