package domain

import (
	"time"

	"github.com/google/uuid"
)

// Remote is a reusable named destination that configs link to as their
// primary target or as replication targets.
type Remote struct {
	ID        string
	UserID    int64
	Name      string
	Type      DestinationType
	Config    map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewRemote(userID int64, name string, destType DestinationType, config map[string]string, now time.Time) *Remote {
	return &Remote{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Type:      destType,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
