package domain

import "time"

// Project lifecycle statuses. Transitions are monotonic through the happy
// path; deletion removes the row instead of persisting a terminal status.
const (
	StatusCreated      = "created"
	StatusQueued       = "queued"
	StatusProvisioning = "provisioning"
	StatusReady        = "ready"
	StatusError        = "error"
	StatusDeleted      = "deleted"
)

// Project describes one isolated coding environment.
type Project struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	UserID      int64      `json:"user_id"`
	Location    string     `json:"location"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	URL         string     `json:"url"`
	ContainerID string     `json:"container_id"`
	InstanceID  int64      `json:"service_instance_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProvisionResult carries the sandbox identity recorded when a worker
// finishes provisioning. ContainerID and URL are set together or not at all.
type ProvisionResult struct {
	ProjectID   int64
	ContainerID string
	URL         string
	InstanceID  int64
}
