// Package replay applies an operation journal to a fresh pool engine. Each
// operation is all-or-nothing: the asset ledger is snapshotted before every
// apply and restored on rejection, emulating the host's transactional
// rollback. Results stream to storage in batches with a resumable checkpoint.
package replay

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"ammcore/internal/assets"
	"ammcore/internal/engine"
	"ammcore/internal/model"
	"ammcore/internal/storage"
)

// RunConfig holds runtime settings for a replay run.
type RunConfig struct {
	JournalPath       string
	SnapshotPath      string
	BatchSize         int
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// Runner replays journal operations against the engine and writes results to
// storage.
type Runner struct {
	cfg        RunConfig
	ledger     *assets.MemoryLedger
	engine     *engine.Engine
	storage    storage.Storage
	logger     *zap.Logger
	seen       map[uint64]struct{}
	checkpoint *CheckpointStore
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, ledger *assets.MemoryLedger, eng *engine.Engine, storageSink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		ledger:     ledger,
		engine:     eng,
		storage:    storageSink,
		logger:     logger,
		seen:       make(map[uint64]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Run executes the replay loop and returns the final snapshot.
func (r *Runner) Run(ctx context.Context) (model.StateSnapshot, error) {
	if r.ledger == nil {
		return model.StateSnapshot{}, fmt.Errorf("asset ledger is nil")
	}
	if r.engine == nil {
		return model.StateSnapshot{}, fmt.Errorf("engine is nil")
	}
	if r.storage == nil {
		return model.StateSnapshot{}, fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize <= 0 {
		return model.StateSnapshot{}, fmt.Errorf("batch size must be greater than zero")
	}

	file, err := os.Open(r.cfg.JournalPath)
	if err != nil {
		return model.StateSnapshot{}, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	ops, err := ReadJournal(file)
	if err != nil {
		return model.StateSnapshot{}, err
	}

	resumeAfter := uint64(0)
	if r.checkpoint != nil {
		cp, ok, err := r.checkpoint.Load()
		if err != nil {
			return model.StateSnapshot{}, err
		}
		if ok {
			resumeAfter = cp.LastAppliedSeq
			r.logger.Info("resume from checkpoint", zap.Uint64("last_applied_seq", resumeAfter))
		}
	}

	pending := make([]model.OpRecord, 0, len(ops))
	for _, op := range ops {
		if op.Seq <= resumeAfter {
			continue
		}
		if r.isDuplicate(op.Seq) {
			r.logger.Warn("duplicate journal seq skipped", zap.Uint64("seq", op.Seq))
			continue
		}
		pending = append(pending, op)
	}

	if len(pending) == 0 {
		r.logger.Info("nothing to replay", zap.Uint64("resume_after", resumeAfter))
		return buildSnapshot(r.engine, resumeAfter), nil
	}

	batches, err := SplitBatches(len(pending), r.cfg.BatchSize)
	if err != nil {
		return model.StateSnapshot{}, err
	}

	lastSeq := resumeAfter
	accepted, rejected := 0, 0
	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return model.StateSnapshot{}, ctx.Err()
		default:
		}

		results := make([]model.OpResult, 0, batch.To-batch.From)
		for _, op := range pending[batch.From:batch.To] {
			snap := r.ledger.Snapshot()
			result := r.applyOp(op)
			if !result.Accepted {
				r.ledger.Restore(snap)
				rejected++
				r.logger.Warn("op rejected",
					zap.Uint64("seq", op.Seq),
					zap.String("kind", op.Kind),
					zap.String("reason", result.Error),
				)
			} else {
				accepted++
			}
			results = append(results, result)
			lastSeq = op.Seq
		}

		if err := r.putResultsWithRetry(ctx, results); err != nil {
			return model.StateSnapshot{}, fmt.Errorf("store results: %w", err)
		}
		if r.checkpoint != nil {
			if err := r.checkpoint.Save(lastSeq); err != nil {
				return model.StateSnapshot{}, err
			}
		}

		r.logger.Info("batch complete",
			zap.Int("ops", len(results)),
			zap.Uint64("last_seq", lastSeq),
		)
	}

	r.logger.Info("replay complete",
		zap.Int("accepted", accepted),
		zap.Int("rejected", rejected),
		zap.Uint64("last_seq", lastSeq),
	)

	snapshot := buildSnapshot(r.engine, lastSeq)
	if r.cfg.SnapshotPath != "" {
		if err := storage.WriteSnapshot(r.cfg.SnapshotPath, snapshot); err != nil {
			return model.StateSnapshot{}, err
		}
	}
	return snapshot, nil
}

func (r *Runner) putResultsWithRetry(ctx context.Context, results []model.OpResult) error {
	return withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		err := r.storage.PutResultBatch(results)
		if err != nil {
			r.logger.Warn("store results failed", zap.Error(err), zap.Int("count", len(results)))
		}
		return err
	})
}

func (r *Runner) isDuplicate(seq uint64) bool {
	if _, ok := r.seen[seq]; ok {
		return true
	}
	r.seen[seq] = struct{}{}
	return false
}
