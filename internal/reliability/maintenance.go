package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/database"
)

// MaintenanceService performs periodic database upkeep: integrity checks,
// WAL checkpoints and a disk space watchdog. Scheduled from the trainer
// daemon's cron alongside backups.
type MaintenanceService struct {
	databases map[string]*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenanceService creates a maintenance service over the given databases.
func NewMaintenanceService(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *MaintenanceService {
	return &MaintenanceService{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("service", "maintenance").Logger(),
	}
}

// Run executes one maintenance pass.
func (s *MaintenanceService) Run(ctx context.Context) error {
	s.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	for name, db := range s.databases {
		s.log.Debug().Str("database", name).Msg("Running integrity check")
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}
	}

	for name, db := range s.databases {
		s.log.Debug().Str("database", name).Msg("Running WAL checkpoint")
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			// Not critical, the next checkpoint will catch up
			s.log.Warn().Str("database", name).Err(err).Msg("WAL checkpoint failed")
		}

		stats, err := db.GetStats()
		if err != nil {
			s.log.Warn().Str("database", name).Err(err).Msg("Failed to read database stats")
			continue
		}
		s.log.Info().
			Str("database", name).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_size_bytes", stats.WALSizeBytes).
			Int64("page_count", stats.PageCount).
			Msg("Database stats")
	}

	if err := s.checkDiskSpace(); err != nil {
		return err
	}

	s.log.Info().Dur("duration_ms", time.Since(startTime)).Msg("Maintenance completed")
	return nil
}

// checkDiskSpace fails the run when free space drops below 500MB.
func (s *MaintenanceService) checkDiskSpace() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	freeBytes := stat.Bavail * uint64(stat.Bsize)
	const minFreeBytes = 500 * 1024 * 1024

	if freeBytes < minFreeBytes {
		return fmt.Errorf("disk space critical: %dMB free", freeBytes/1024/1024)
	}

	s.log.Debug().Uint64("free_mb", freeBytes/1024/1024).Msg("Disk space ok")
	return nil
}
