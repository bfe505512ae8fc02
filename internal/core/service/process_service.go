package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

// ProcessService writes the task ledger. Ledger writes after creation are
// best effort: a failure is logged and never fails the job it describes.
// An entry that already reached a terminal state is never rewritten.
type ProcessService struct {
	processRepo repository.ProcessRepository
	logger      zerolog.Logger
}

func NewProcessService(processRepo repository.ProcessRepository, logger zerolog.Logger) *ProcessService {
	return &ProcessService{
		processRepo: processRepo,
		logger:      logger.With().Str("component", "ledger").Logger(),
	}
}

// CreateProcess creates a new pending ledger entry
func (s *ProcessService) CreateProcess(ctx context.Context, command string, processType domain.ProcessType, args map[string]any) (*domain.Process, error) {
	process := domain.NewProcess(command, processType, args)

	if err := s.processRepo.Create(ctx, process); err != nil {
		return nil, fmt.Errorf("failed to create process: %w", err)
	}

	return process, nil
}

func (s *ProcessService) Start(ctx context.Context, p *domain.Process) {
	if p == nil {
		return
	}
	p.Start()
	s.save(ctx, p)
}

func (s *ProcessService) SetPID(ctx context.Context, p *domain.Process, pid int) {
	if p == nil {
		return
	}
	p.SetPID(pid)
	s.save(ctx, p)
}

func (s *ProcessService) Progress(ctx context.Context, p *domain.Process, progress int) {
	if p == nil {
		return
	}
	p.SetProgress(progress)
	s.save(ctx, p)
}

func (s *ProcessService) Succeed(ctx context.Context, p *domain.Process, output string) {
	if p == nil {
		return
	}
	p.Complete(0, output, "")
	s.save(ctx, p)
}

func (s *ProcessService) Fail(ctx context.Context, p *domain.Process, message string) {
	if p == nil {
		return
	}
	p.Fail(message)
	s.save(ctx, p)
}

func (s *ProcessService) Cancel(ctx context.Context, p *domain.Process) {
	if p == nil {
		return
	}
	p.Cancel()
	s.save(ctx, p)
}

func (s *ProcessService) save(ctx context.Context, p *domain.Process) {
	ok, err := s.processRepo.UpdateIfActive(ctx, p)
	if err != nil {
		s.logger.Warn().Err(err).Int64("process_id", p.ID).Str("status", string(p.Status)).Msg("failed to update ledger entry")
		return
	}
	if !ok {
		s.logger.Debug().Int64("process_id", p.ID).Str("status", string(p.Status)).Msg("ledger entry already settled, write skipped")
	}
}

// GetProcess retrieves a process by ID
func (s *ProcessService) GetProcess(ctx context.Context, id int64) (*domain.Process, error) {
	return s.processRepo.FindByID(ctx, id)
}

// GetProcessByCommandID retrieves a process by command ID
func (s *ProcessService) GetProcessByCommandID(ctx context.Context, commandID string) (*domain.Process, error) {
	return s.processRepo.FindByCommandID(ctx, commandID)
}

// ListProcesses lists processes with filtering
func (s *ProcessService) ListProcesses(ctx context.Context, filter repository.ProcessFilter) ([]*domain.Process, error) {
	return s.processRepo.List(ctx, filter)
}

// CountProcesses counts processes with filtering
func (s *ProcessService) CountProcesses(ctx context.Context, filter repository.ProcessFilter) (int, error) {
	return s.processRepo.Count(ctx, filter)
}
