package models

import "time"

// TrainingJob is the registry record for one training run on the backend host
type TrainingJob struct {
	TrainingID    string         `json:"training_id"`
	JobID         string         `json:"job_id"`
	Status        TrainingStatus `json:"status"`
	Progress      float64        `json:"progress"`
	CurrentEpoch  int            `json:"current_epoch"`
	TotalEpochs   int            `json:"total_epochs"`
	Loss          *float64       `json:"loss,omitempty"`
	EvalLoss      *float64       `json:"eval_loss,omitempty"`
	LearningRate  *float64       `json:"learning_rate,omitempty"`
	ProcessHandle string         `json:"-"`
	WorkDir       string         `json:"work_dir"`
	ModelVersion  string         `json:"model_version"`
	DatasetID     string         `json:"dataset_id,omitempty"`
	ExampleCount  int            `json:"example_count"`
	Logs          []string       `json:"logs"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// MaxLogLines is the size of the rolling log window kept on each record
const MaxLogLines = 20

// TrainingStatus represents the lifecycle state of a training job
type TrainingStatus string

const (
	TrainingStatusPending   TrainingStatus = "pending"
	TrainingStatusRunning   TrainingStatus = "running"
	TrainingStatusCompleted TrainingStatus = "completed"
	TrainingStatusFailed    TrainingStatus = "failed"
	TrainingStatusStopped   TrainingStatus = "stopped"
)

// IsTerminal reports whether no further transitions are allowed out of s
func (s TrainingStatus) IsTerminal() bool {
	switch s {
	case TrainingStatusCompleted, TrainingStatusFailed, TrainingStatusStopped:
		return true
	}
	return false
}

// Clone returns a deep copy safe to hand out of the registry
func (j *TrainingJob) Clone() *TrainingJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Loss = cloneFloat(j.Loss)
	c.EvalLoss = cloneFloat(j.EvalLoss)
	c.LearningRate = cloneFloat(j.LearningRate)
	if j.Logs != nil {
		c.Logs = append([]string(nil), j.Logs...)
	}
	return &c
}

// SetLogs replaces the log window, keeping only the last MaxLogLines lines
func (j *TrainingJob) SetLogs(lines []string) {
	if len(lines) > MaxLogLines {
		lines = lines[len(lines)-MaxLogLines:]
	}
	j.Logs = append([]string(nil), lines...)
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

// TrainingRequest is the input to StartTraining
type TrainingRequest struct {
	TrainingData   []TrainingDataItem `json:"training_data" yaml:"training_data"`
	DatasetID      string             `json:"dataset_id,omitempty" yaml:"dataset_id"`
	ModelConfig    ModelConfig        `json:"model_config" yaml:"model_config"`
	TrainingConfig TrainingConfig     `json:"training_config" yaml:"training_config"`
}
