package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrBackupInProgress  = errors.New("a backup is already pending or running for this configuration")
	ErrInvalidSchedule   = errors.New("invalid schedule expression")
	ErrInvalidTransition = errors.New("invalid status transition")
)
