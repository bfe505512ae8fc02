package domain

import (
	"time"

	"github.com/google/uuid"
)

type ProcessStatus string

const (
	ProcessStatusPending   ProcessStatus = "pending"
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusSuccess   ProcessStatus = "success"
	ProcessStatusFailed    ProcessStatus = "failed"
	ProcessStatusCancelled ProcessStatus = "cancelled"
)

type ProcessType string

const (
	ProcessTypeBackup        ProcessType = "backup"
	ProcessTypeRestore       ProcessType = "restore"
	ProcessTypeSchedulerPass ProcessType = "scheduler_pass"
	ProcessTypeReap          ProcessType = "reap"
)

// Process is a task ledger entry: human-visible progress for one unit of
// background work, polled by command_id.
type Process struct {
	ID         int64
	CommandID  string
	Command    string
	PID        *int
	Status     ProcessStatus
	Progress   int
	Output     *string
	Error      *string
	ReturnCode *int
	StartTime  time.Time
	EndTime    *time.Time
	UpdatedAt  time.Time
	Type       ProcessType
	Args       map[string]any
}

func NewProcess(command string, processType ProcessType, args map[string]any) *Process {
	now := time.Now()
	return &Process{
		CommandID: uuid.New().String(),
		Command:   command,
		Status:    ProcessStatusPending,
		StartTime: now,
		UpdatedAt: now,
		Type:      processType,
		Args:      args,
	}
}

func (p *Process) SetPID(pid int) {
	p.PID = &pid
}

func (p *Process) Start() {
	p.Status = ProcessStatusRunning
	p.UpdatedAt = time.Now()
}

func (p *Process) SetProgress(progress int) {
	p.Progress = min(max(progress, 0), 100)
	p.UpdatedAt = time.Now()
}

func (p *Process) Complete(returnCode int, output, errorOutput string) {
	now := time.Now()
	p.EndTime = &now
	p.UpdatedAt = now
	p.ReturnCode = &returnCode

	if output != "" {
		p.Output = &output
	}
	if errorOutput != "" {
		p.Error = &errorOutput
	}

	if returnCode == 0 {
		p.Status = ProcessStatusSuccess
		p.Progress = 100
	} else {
		p.Status = ProcessStatusFailed
	}
}

func (p *Process) Fail(errorOutput string) {
	now := time.Now()
	p.EndTime = &now
	p.UpdatedAt = now
	p.Status = ProcessStatusFailed
	if errorOutput != "" {
		p.Error = &errorOutput
	}
}

func (p *Process) Cancel() {
	now := time.Now()
	p.EndTime = &now
	p.UpdatedAt = now
	p.Status = ProcessStatusCancelled
}

func (p *Process) IsComplete() bool {
	return p.Status == ProcessStatusSuccess || p.Status == ProcessStatusFailed || p.Status == ProcessStatusCancelled
}
