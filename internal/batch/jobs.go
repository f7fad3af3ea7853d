package batch

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/menumap/internal/storage"
)

// JobTypeMapRow is the job queue type for one batch row.
const JobTypeMapRow = "map_row"

// DefaultMaxAttempts bounds retries of a failing row.
const DefaultMaxAttempts = 3

type rowPayload struct {
	BatchID string `json:"batch_id"`
	Row     Row    `json:"row"`
}

// Queue is the storage the submitter writes to.
type Queue interface {
	CreateBatch(b storage.Batch) error
	EnqueueJob(job storage.Job) error
}

// Submit records a new batch and enqueues one map_row job per row. The
// returned batch is already completed when rows is empty.
func Submit(q Queue, filename, source string, rows []Row, maxAttempts int) (storage.Batch, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	b := storage.Batch{
		ID:        uuid.New().String(),
		Filename:  filename,
		Source:    source,
		Status:    storage.BatchQueued,
		TotalRows: len(rows),
	}
	if len(rows) == 0 {
		b.Status = storage.BatchCompleted
	}
	if err := q.CreateBatch(b); err != nil {
		return storage.Batch{}, fmt.Errorf("creating batch: %w", err)
	}

	for _, row := range rows {
		payload, err := json.Marshal(rowPayload{BatchID: b.ID, Row: row})
		if err != nil {
			return b, fmt.Errorf("encoding row %d: %w", row.ID, err)
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        JobTypeMapRow,
			PayloadJSON: string(payload),
			MaxAttempts: maxAttempts,
		}
		if err := q.EnqueueJob(job); err != nil {
			return b, fmt.Errorf("enqueueing row %d: %w", row.ID, err)
		}
	}
	return b, nil
}
