package storage

import (
	"context"
	"fmt"

	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

// DefaultBatchSize is the number of records a BatchSink stores within a
// single transaction
const DefaultBatchSize = 100

type recordsStorer interface {
	StoreRecords(ctx context.Context, flightID int64, records []*telemetry.Record) ([]*survey.LogEntry, error)
}

// BatchSink buffers delivered records and stores them in batches. Flush must
// be called once the last record was delivered.
type BatchSink struct {
	store    recordsStorer
	flightID int64
	buffer   *RecordBuffer
	stored   int
}

var _ telemetry.Sink = (*BatchSink)(nil)

// BatchSink returns a sink that logs records to the given flight, size
// records per transaction
func (s *SqliteStore) BatchSink(flightID int64, size int) (*BatchSink, error) {
	return newBatchSink(s, flightID, size)
}

func newBatchSink(store recordsStorer, flightID int64, size int) (*BatchSink, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}
	buffer, err := NewRecordBuffer(size, size)
	if err != nil {
		return nil, err
	}
	return &BatchSink{
		store:    store,
		flightID: flightID,
		buffer:   buffer,
	}, nil
}

func (b *BatchSink) Deliver(ctx context.Context, r *telemetry.Record) error {
	// The caller may reuse r once Deliver returns
	record := *r
	if err := b.buffer.Insert(&record); err != nil {
		return err
	}
	if !b.buffer.IsFull() {
		return nil
	}
	return b.write(ctx, b.buffer.Flush())
}

// Flush stores every buffered record
func (b *BatchSink) Flush(ctx context.Context) error {
	return b.write(ctx, b.buffer.DrainAll())
}

// Pending returns the number of records buffered but not stored yet
func (b *BatchSink) Pending() int {
	return b.buffer.Size()
}

// Stored returns the number of records stored so far
func (b *BatchSink) Stored() int {
	return b.stored
}

func (b *BatchSink) write(ctx context.Context, records []*telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := b.store.StoreRecords(ctx, b.flightID, records); err != nil {
		return fmt.Errorf("storing %d records: %w", len(records), err)
	}
	b.stored += len(records)
	return nil
}
