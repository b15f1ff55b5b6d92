// Package main is the maintenance process: it retrains the allocation
// policy on recorded strategy returns and, when configured, archives
// the databases and checkpoints to an S3-compatible bucket. It shares
// nothing with the trader beyond the databases and the checkpoint
// file, so a crash here never takes trading down.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/neolight/smarttrader/internal/config"
	"github.com/neolight/smarttrader/internal/database"
	"github.com/neolight/smarttrader/internal/ledger"
	"github.com/neolight/smarttrader/internal/reliability"
	"github.com/neolight/smarttrader/internal/rl"
	"github.com/neolight/smarttrader/internal/scheduler"
	"github.com/neolight/smarttrader/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("trainer_schedule", cfg.TrainerSchedule).
		Bool("backup_enabled", cfg.BackupEnabled).
		Msg("Starting trainer")

	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerDBPath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	portfolioDB, err := database.New(database.Config{
		Path:    cfg.PortfolioDBPath(),
		Profile: database.ProfileStandard,
		Name:    "portfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer portfolioDB.Close()

	tradeRepo, err := ledger.NewTradeRepository(ledgerDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize trade repository")
	}
	stateRepo, err := ledger.NewStrategyStateRepository(portfolioDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize strategy state repository")
	}
	returnsRepo, err := ledger.NewReturnsRepository(portfolioDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize returns repository")
	}

	trainer := rl.NewTrainer(tradeRepo, stateRepo, returnsRepo, rl.TrainerConfig{
		CheckpointDir: cfg.CheckpointDir(),
		InitialEquity: cfg.InitialEquity,
		Agent: rl.AgentConfig{
			LearningRate: cfg.RLLearningRate,
			Gamma:        cfg.RLGamma,
			EntropyCoeff: cfg.RLEntropyCoeff,
		},
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(ctx, log)

	err = sched.AddJob(cfg.TrainerSchedule, scheduler.JobFunc{
		JobName: "policy-training",
		Fn:      trainer.Run,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register training job")
	}

	if cfg.BackupEnabled {
		store, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize object store")
		}

		databases := map[string]*database.DB{
			"ledger":    ledgerDB,
			"portfolio": portfolioDB,
		}
		backups := reliability.NewBackupService(store, databases, cfg.CheckpointDir(), cfg.DataDir, log)
		maintenance := reliability.NewMaintenanceService(databases, cfg.DataDir, log)

		err = sched.AddJob(cfg.BackupSchedule, scheduler.JobFunc{
			JobName: "backup",
			Fn: func(ctx context.Context) error {
				if err := maintenance.Run(ctx); err != nil {
					log.Error().Err(err).Msg("Maintenance failed, continuing with backup")
				}
				if err := backups.CreateAndUploadBackup(ctx); err != nil {
					return err
				}
				return backups.RotateOldBackups(ctx, cfg.BackupRetentionDays)
			},
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}

	sched.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	cancel()
	sched.Stop()

	log.Info().Msg("Trainer stopped")
}
