package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vsisnet/vsispanel-sub003/internal/adapter/process"
	"github.com/vsisnet/vsispanel-sub003/internal/adapter/restic"
	"github.com/vsisnet/vsispanel-sub003/internal/core/destination"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
	"github.com/vsisnet/vsispanel-sub003/internal/infrastructure/sqlite"
	"github.com/vsisnet/vsispanel-sub003/internal/logging"
	"github.com/vsisnet/vsispanel-sub003/pkg/config"
)

var (
	cfgFile string
	userID  int64
	cfg     *config.Config
	logger  zerolog.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vsispanel-backup",
	Short: "Backup and restore orchestration for the hosting panel",
	Long: `vsispanel-backup schedules, runs and tracks backups of hosted sites,
databases, mailboxes and panel configuration.

It provides:
- Scheduled and manual backups through restic
- Retention and replication to secondary remotes
- Restores into a target directory
- A stuck-job reaper
- An ops endpoint for health, metrics and process status`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		return nil
	},
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().Int64Var(&userID, "user", 0, "panel user acting on owned resources")
}

// Services holds all initialized services
type Services struct {
	DB          *sqlite.DB
	RemoteRepo  repository.RemoteRepository
	BackupRepo  repository.BackupRepository
	ConfigRepo  repository.BackupConfigRepository
	RestoreRepo repository.RestoreRepository

	Dispatcher     *service.Dispatcher
	ProcessService *service.ProcessService
	BackupService  *service.BackupService
	RestoreService *service.RestoreService
	ConfigService  *service.ConfigService
	Scheduler      *service.SchedulerService
	Reaper         *service.ReaperService
}

// initServices opens the database and wires every service. Backup and
// restore jobs are registered on the dispatcher, which the caller runs.
func initServices() (*Services, error) {
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	configRepo := sqlite.NewBackupConfigRepository(db)
	backupRepo := sqlite.NewBackupRepository(db)
	restoreRepo := sqlite.NewRestoreRepository(db)
	processRepo := sqlite.NewProcessRepository(db)
	remoteRepo := sqlite.NewRemoteRepository(db)
	lockRepo := sqlite.NewLockRepository(db)

	eng := restic.NewClient(cfg.ResticBinary, process.NewRunner(cfg.OutputTailBytes), cfg.OutputTailBytes)
	dispatcher := service.NewDispatcher(cfg.Workers, cfg.QueueSize, logger)

	resolver := service.NewDestinationResolver(remoteRepo, destination.Options{CheckS3: cfg.CheckS3}, cfg.DefaultRepositoryPassword)
	processService := service.NewProcessService(processRepo, logger)
	backupService := service.NewBackupService(backupRepo, configRepo, processService, resolver, eng, dispatcher,
		service.BackupOptions{
			Timeout:          cfg.BackupTimeout,
			CopyTimeout:      cfg.CopyTimeout,
			InitTimeout:      cfg.InitTimeout,
			RetentionTimeout: cfg.RetentionTimeout,
			BasePaths:        basePaths(cfg.BasePaths),
			CancelPoll:       cfg.CancelPoll,
		}, logger)
	restoreService := service.NewRestoreService(restoreRepo, backupRepo, configRepo, processService, resolver, eng, dispatcher,
		service.RestoreOptions{
			Timeout:      cfg.RestoreTimeout,
			AllowedRoots: cfg.RestoreRoots,
			CancelPoll:   cfg.CancelPoll,
		}, logger)

	dispatcher.Handle(service.JobBackup, backupService.Execute)
	dispatcher.Handle(service.JobRestore, restoreService.Execute)

	return &Services{
		DB:             db,
		RemoteRepo:     remoteRepo,
		BackupRepo:     backupRepo,
		ConfigRepo:     configRepo,
		RestoreRepo:    restoreRepo,
		Dispatcher:     dispatcher,
		ProcessService: processService,
		BackupService:  backupService,
		RestoreService: restoreService,
		ConfigService:  service.NewConfigService(configRepo, remoteRepo, backupRepo, resolver, logger),
		Scheduler:      service.NewSchedulerService(configRepo, lockRepo, backupService, cfg.LockTTL, logger),
		Reaper: service.NewReaperService(backupRepo, restoreRepo, processRepo, lockRepo,
			cfg.StuckThreshold, cfg.LockTTL, logger),
	}, nil
}

// Close closes all resources
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}

// runJobs starts the dispatcher for a one-shot command, calls fn, then waits
// until every job fn queued has finished. An interrupt abandons the jobs; the
// reaper settles their records later.
func (s *Services) runJobs(ctx context.Context, fn func() error) error {
	served := make(chan error, 1)
	go func() { served <- s.Dispatcher.Serve(ctx) }()

	err := fn()
	s.Dispatcher.Drain()
	if serveErr := <-served; err == nil {
		err = serveErr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

func basePaths(in map[string][]string) map[domain.BackupType][]string {
	out := make(map[domain.BackupType][]string, len(in))
	for k, v := range in {
		out[domain.BackupType(k)] = v
	}
	return out
}

func requireUser() error {
	if userID <= 0 {
		return fmt.Errorf("--user is required")
	}
	return nil
}
