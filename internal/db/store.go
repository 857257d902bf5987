package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/batchworks/adaptivebatch/internal/csvrecord"
	"github.com/batchworks/adaptivebatch/internal/engine"
	"github.com/batchworks/adaptivebatch/internal/obscontext"
)

// StoredRecord is a persisted csvrecord.Row: the concrete
// ProcessingResult[V].Value the shipped binaries use as V.
type StoredRecord struct {
	ID         int64
	SourceFile string
	RowIndex   int
	StoredAt   time.Time
}

// ProcessBatch implements engine.BatchProcessor[csvrecord.Row, StoredRecord]
// by inserting each row as its own autocommitted statement, grounded on
// the teacher's per-record INSERT idiom in
// pkg/compliance/storage/postgres/repository.go. Rows are independent: one
// row's constraint violation must not poison the rest of the batch the
// way a shared transaction would (Postgres aborts an entire transaction
// on the first error), so each insert commits on its own and reports its
// own ProcessingResult.
func (s *Store) ProcessBatch(ctx context.Context, records []csvrecord.Row, _ *obscontext.ExecutionContext) ([]engine.ProcessingResult[StoredRecord], error) {
	results := make([]engine.ProcessingResult[StoredRecord], len(records))
	for i, row := range records {
		fields, err := json.Marshal(row.Fields)
		if err != nil {
			results[i] = engine.Failure[StoredRecord](fmt.Errorf("db: encoding row %d of %s: %w", row.Index, row.File, err))
			continue
		}

		var stored StoredRecord
		err = s.pool.QueryRow(ctx,
			`INSERT INTO stored_records (source_file, row_index, fields)
			 VALUES ($1, $2, $3)
			 RETURNING id, source_file, row_index, stored_at`,
			row.File, row.Index, fields,
		).Scan(&stored.ID, &stored.SourceFile, &stored.RowIndex, &stored.StoredAt)
		if err != nil {
			results[i] = engine.Failure[StoredRecord](fmt.Errorf("db: inserting row %d of %s: %w", row.Index, row.File, err))
			continue
		}
		results[i] = engine.Success(stored)
	}
	return results, nil
}
