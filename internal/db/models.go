package db

// RunEntry is one observed run of a dashboard task.
type RunEntry struct {
	RunID      string `gorm:"column:run_id;primaryKey"`
	TaskID     string `gorm:"column:task_id;not null"`
	Arguments  string `gorm:"column:arguments;not null;default:'{}'"`
	RunState   string `gorm:"column:run_state;not null;default:'running'"`
	ExitCode   *int   `gorm:"column:exit_code"`
	StartedAt  int64  `gorm:"column:started_at;not null;default:0"`
	FinishedAt int64  `gorm:"column:finished_at;not null;default:0"`
	UpdatedAt  int64  `gorm:"column:updated_at;not null;default:0"`
}

func (RunEntry) TableName() string { return "run_entries" }

// TaskArguments holds the argument values last used to start a task.
type TaskArguments struct {
	TaskID    string `gorm:"column:task_id;primaryKey"`
	Values    string `gorm:"column:arg_values;not null;default:'{}'"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (TaskArguments) TableName() string { return "task_arguments" }

const (
	RunStateRunning   = "running"
	RunStateExited    = "exited"
	RunStateStopped   = "stopped"
	RunStateAbandoned = "abandoned"
)
