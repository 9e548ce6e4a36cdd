package historydb

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	dbmodel "taskdeck/internal/db"
	"taskdeck/internal/events"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errNotInitialized = errors.New("history store is not initialized")

type Run struct {
	RunID      string
	TaskID     string
	Arguments  map[string]string
	State      string
	ExitCode   events.ExitCode
	StartedAt  time.Time
	FinishedAt time.Time
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore wraps an open history database. Caller owns the db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

// RecordStarted opens a run for taskID and remembers args as the task's
// last used arguments. It returns the new run id.
func (s *Store) RecordStarted(taskID string, args map[string]string) (string, error) {
	if s == nil || s.db == nil {
		return "", errNotInitialized
	}
	id := strings.TrimSpace(taskID)
	if id == "" {
		return "", errors.New("task id is required")
	}
	encoded, err := encodeArgs(args)
	if err != nil {
		return "", err
	}
	now := s.now().UTC().Unix()
	row := dbmodel.RunEntry{
		RunID:     uuid.NewString(),
		TaskID:    id,
		Arguments: encoded,
		RunState:  dbmodel.RunStateRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return upsertArgs(tx, id, encoded, now)
	})
	if err != nil {
		return "", err
	}
	return row.RunID, nil
}

// RememberArguments stores args as taskID's last used arguments without
// opening a run.
func (s *Store) RememberArguments(taskID string, args map[string]string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	encoded, err := encodeArgs(args)
	if err != nil {
		return err
	}
	return upsertArgs(s.db, strings.TrimSpace(taskID), encoded, s.now().UTC().Unix())
}

// RecordFinished closes the newest open run of taskID. A finish without an
// observed start gets a run of its own with no start time.
func (s *Store) RecordFinished(taskID string, code events.ExitCode) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	id := strings.TrimSpace(taskID)
	if id == "" {
		return errors.New("task id is required")
	}
	now := s.now().UTC().Unix()
	state := dbmodel.RunStateExited
	if code.IsStopped() {
		state = dbmodel.RunStateStopped
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var open dbmodel.RunEntry
		err := tx.Where("task_id = ? AND run_state IN ?", id, []string{dbmodel.RunStateRunning, dbmodel.RunStateAbandoned}).
			Order("started_at DESC").
			First(&open).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&dbmodel.RunEntry{
				RunID:      uuid.NewString(),
				TaskID:     id,
				Arguments:  "{}",
				RunState:   state,
				ExitCode:   code.Code,
				FinishedAt: now,
				UpdatedAt:  now,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&dbmodel.RunEntry{}).Where("run_id = ?", open.RunID).Updates(map[string]any{
			"run_state":   state,
			"exit_code":   code.Code,
			"finished_at": now,
			"updated_at":  now,
		}).Error
	})
}

// LastArguments returns the arguments taskID was last started with, or nil.
func (s *Store) LastArguments(taskID string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var row dbmodel.TaskArguments
	err := s.db.Where("task_id = ?", strings.TrimSpace(taskID)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeArgs(row.Values), nil
}

// List returns the newest runs first, optionally for one task.
func (s *Store) List(taskID string, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = 20
	}
	q := s.db.Order("max(started_at, finished_at) DESC").Limit(limit)
	if id := strings.TrimSpace(taskID); id != "" {
		q = q.Where("task_id = ?", id)
	}
	rows := make([]dbmodel.RunEntry, 0, limit)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run := Run{
			RunID:     row.RunID,
			TaskID:    row.TaskID,
			Arguments: decodeArgs(row.Arguments),
			State:     row.RunState,
		}
		if row.StartedAt > 0 {
			run.StartedAt = time.Unix(row.StartedAt, 0).UTC()
		}
		if row.FinishedAt > 0 {
			run.FinishedAt = time.Unix(row.FinishedAt, 0).UTC()
		}
		switch row.RunState {
		case dbmodel.RunStateExited:
			if row.ExitCode != nil {
				run.ExitCode = events.Exited(*row.ExitCode)
			}
		case dbmodel.RunStateStopped:
			run.ExitCode = events.Stopped()
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *Store) Clear() error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&dbmodel.RunEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&dbmodel.TaskArguments{}).Error
	})
}

func upsertArgs(tx *gorm.DB, taskID, encoded string, now int64) error {
	row := dbmodel.TaskArguments{TaskID: taskID, Values: encoded, UpdatedAt: now}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"arg_values", "updated_at"}),
	}).Create(&row).Error
}

func encodeArgs(args map[string]string) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeArgs(raw string) map[string]string {
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}
