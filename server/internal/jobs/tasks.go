// Package jobs runs background maintenance for the credential store on asynq
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueMaintenance is the queue maintenance tasks run on
	QueueMaintenance = "maintenance"
	// TaskPurgeCredentials deletes refresh credentials past their retention
	TaskPurgeCredentials = "auth:purge_credentials"
)

// PurgePayload carries the retention applied by one purge run.
// Credentials that expired or were revoked more than Retention ago are deleted.
type PurgePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewPurgeTask constructs a purge task
func NewPurgeTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(PurgePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurgeCredentials, data, asynq.Queue(QueueMaintenance), asynq.MaxRetry(3)), nil
}
