package domain

import "time"

// Instance is a worker process registration: its stable name and the address
// the control plane uses to reach it. Immutable for the life of a project
// once assigned.
type Instance struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}
