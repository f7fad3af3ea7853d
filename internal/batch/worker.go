package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kalambet/menumap/internal/mapper"
	"github.com/kalambet/menumap/internal/storage"
)

// JobStore abstracts the job queue and result storage the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) (final bool, err error)
	SavePrediction(p storage.Prediction) error
	RecordBatchRow(id string, failed bool) error
}

// Mapper maps one menu name.
type Mapper interface {
	Map(ctx context.Context, menuName string) (mapper.Result, error)
}

// Worker processes map_row jobs from the SQLite job queue on a bounded
// goroutine pool.
type Worker struct {
	store  JobStore
	mapper Mapper
	pool   *ants.Pool
	size   int
	poll   time.Duration
	logger *slog.Logger

	// inflight counts rows handed to the pool and not yet finished. Idle ants
	// workers still count as running until they expire, so pool.Free cannot
	// gate claiming.
	inflight atomic.Int32
	wg       sync.WaitGroup
}

// NewWorker creates a Worker running up to size rows concurrently.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, m Mapper, size int, pollInterval time.Duration) (*Worker, error) {
	if size <= 0 {
		size = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	logger := slog.Default()
	pool, err := ants.NewPool(size,
		ants.WithExpiryDuration(30*time.Second),
		ants.WithPanicHandler(func(p any) {
			logger.Error("batch worker panic recovered", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	return &Worker{
		store:  store,
		mapper: m,
		pool:   pool,
		size:   size,
		poll:   pollInterval,
		logger: logger,
	}, nil
}

// Run polls for jobs until ctx is cancelled, then waits for in-flight rows
// and releases the pool.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		w.wg.Wait()
		w.pool.Release()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if int(w.inflight.Load()) >= w.size {
			if !w.sleep(ctx, w.poll/10) {
				return
			}
			continue
		}

		job, err := w.store.ClaimNextJob([]string{JobTypeMapRow})
		if err != nil {
			w.logger.Error("worker iteration failed", "error", fmt.Errorf("claiming job: %w", err))
		}
		if job == nil {
			if !w.sleep(ctx, w.poll) {
				return
			}
			continue
		}

		w.wg.Add(1)
		w.inflight.Add(1)
		if err := w.pool.Submit(func() {
			defer w.wg.Done()
			defer w.inflight.Add(-1)
			w.handle(ctx, job)
		}); err != nil {
			w.inflight.Add(-1)
			w.wg.Done()
			w.logger.Error("submitting job to pool", "job_id", job.ID, "error", err)
			w.fail(job, "", fmt.Errorf("pool rejected job: %w", err))
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// RunOnce claims and processes a single map_row job on the calling
// goroutine. Returns true if a job was processed (regardless of outcome).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeMapRow})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	w.handle(ctx, job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job *storage.Job) {
	var payload rowPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		w.fail(job, "", fmt.Errorf("parsing payload: %w", err))
		return
	}

	if err := w.processRow(ctx, payload); err != nil {
		w.fail(job, payload.BatchID, err)
		return
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		w.logger.Error("completing job", "job_id", job.ID, "error", err)
	}
	if err := w.store.RecordBatchRow(payload.BatchID, false); err != nil {
		w.logger.Error("recording batch progress", "batch_id", payload.BatchID, "error", err)
	}
}

// fail reschedules the job or, once attempts are exhausted, counts the row
// as failed on its batch.
func (w *Worker) fail(job *storage.Job, batchID string, cause error) {
	w.logger.Warn("job failed", "job_id", job.ID, "batch_id", batchID, "error", cause)
	final, err := w.store.FailJob(job.ID, cause.Error())
	if err != nil {
		w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", err)
		return
	}
	if final && batchID != "" {
		if err := w.store.RecordBatchRow(batchID, true); err != nil {
			w.logger.Error("recording batch failure", "batch_id", batchID, "error", err)
		}
	}
}

func (w *Worker) processRow(ctx context.Context, p rowPayload) error {
	res, err := w.mapper.Map(ctx, p.Row.Name)
	if err != nil {
		return fmt.Errorf("mapping %q: %w", p.Row.Name, err)
	}

	pred := PredictionFor(p.BatchID, p.Row, res)
	if err := w.store.SavePrediction(pred); err != nil {
		return fmt.Errorf("saving prediction: %w", err)
	}
	return nil
}

// PredictionFor builds the audit row for one mapped batch row, evaluating
// the result against the expected master item.
func PredictionFor(batchID string, row Row, res mapper.Result) storage.Prediction {
	best := res.Best()
	ranked, err := json.Marshal(res.Candidates)
	if err != nil || res.Candidates == nil {
		ranked = []byte("[]")
	}

	// Rows without an expected master item (PDF uploads) never evaluate true.
	evalCurrent := false
	for _, c := range res.Candidates {
		if row.MasterID > 0 && c.ItemID == row.MasterID {
			evalCurrent = true
			break
		}
	}

	return storage.Prediction{
		ID:                uuid.New().String(),
		BatchID:           batchID,
		MenuID:            row.ID,
		MenuName:          row.Name,
		MasterMenuID:      row.MasterID,
		MasterMenuName:    row.MasterName,
		CorrectedMenuName: res.Corrected,
		EvalCurrent:       evalCurrent,
		PredictedMenuID:   best.ID,
		PredictedMenuName: best.Name,
		EvalPrediction:    row.MasterID > 0 && best.ID == row.MasterID,
		Ambiguous:         res.Classification.Ambiguous,
		MRP:               res.Classification.MRP,
		LogID:             res.LogID,
		Response:          mapper.MarshalMatches(res.Matches),
		RankedNodes:       ranked,
		CreatedAt:         time.Now().UTC(),
	}
}
