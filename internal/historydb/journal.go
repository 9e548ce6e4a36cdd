package historydb

import (
	"log/slog"

	"taskdeck/internal/reconcile"
)

// Journal records task transitions seen by a reconciler.
type Journal struct {
	store  *Store
	logger *slog.Logger
}

func NewJournal(store *Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: store, logger: logger.With("module", "history")}
}

func (j *Journal) TaskStarted(rec reconcile.TaskRecord) {
	if _, err := j.store.RecordStarted(rec.ID, rec.ArgumentValues); err != nil {
		j.logger.Warn("record started failed", "task", rec.ID, "err", err)
	}
}

func (j *Journal) TaskFinished(rec reconcile.TaskRecord) {
	if err := j.store.RecordFinished(rec.ID, rec.ExitCode); err != nil {
		j.logger.Warn("record finished failed", "task", rec.ID, "err", err)
	}
}
