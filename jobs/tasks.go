package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rxoptima/rxoptima/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockAlert reports one drug that dropped below the threshold
	// after a committed sale or prescription fill.
	TaskLowStockAlert = "inventory:low-stock"
	// TaskLowStockSweep scans an operator's whole inventory for low stock.
	TaskLowStockSweep = "inventory:low-stock-sweep"
)

// LowStockPayload is the wire form of inventory.LowStockAlert.
type LowStockPayload struct {
	Identity  string    `json:"identity"`
	DrugID    string    `json:"drugId"`
	Name      string    `json:"name"`
	Remaining int       `json:"remaining"`
	Threshold int       `json:"threshold"`
	Source    string    `json:"source"`
	RaisedAt  time.Time `json:"raisedAt"`
}

// NewLowStockAlertTask constructs an Asynq task for alert.
func NewLowStockAlertTask(alert inventory.LowStockAlert) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockPayload(alert))
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockAlert, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// LowStockSweepPayload selects the operator to sweep. A zero Threshold uses
// the worker default.
type LowStockSweepPayload struct {
	Identity  string `json:"identity"`
	Threshold int    `json:"threshold"`
}

// NewLowStockSweepTask constructs an Asynq task for a sweep.
func NewLowStockSweepTask(payload LowStockSweepPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockSweep, body, asynq.Queue(QueueDefault)), nil
}

// LowStockSweepSchedule registers a recurring sweep of identity's inventory.
func LowStockSweepSchedule(spec, identity string, threshold int) (CronRegistration, error) {
	if spec == "" || identity == "" {
		return CronRegistration{}, errors.New("jobs: sweep schedule needs a cron spec and an identity")
	}
	task, err := NewLowStockSweepTask(LowStockSweepPayload{Identity: identity, Threshold: threshold})
	if err != nil {
		return CronRegistration{}, err
	}
	return CronRegistration{Spec: spec, Task: task, Options: []asynq.Option{asynq.Unique(time.Hour)}}, nil
}
