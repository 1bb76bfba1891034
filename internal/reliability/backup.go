// Package reliability keeps the history database healthy: integrity checks,
// WAL checkpoints, disk space monitoring and rotated backups.
package reliability

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stockbot/internal/database"
)

const backupTimeFormat = "2006-01-02_150405.000"

// Uploader copies a finished backup off the host.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// BackupService writes consistent copies of a database with VACUUM INTO.
type BackupService struct {
	db        *database.DB
	backupDir string
	keep      int
	uploader  Uploader // nil keeps backups local only
	log       zerolog.Logger
}

// NewBackupService creates a backup service. keep <= 0 keeps every backup.
func NewBackupService(db *database.DB, backupDir string, keep int, uploader Uploader, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:        db,
		backupDir: backupDir,
		keep:      keep,
		uploader:  uploader,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Backup writes, verifies and rotates a backup, then uploads it when an
// uploader is configured. It returns the local backup path.
func (s *BackupService) Backup(ctx context.Context) (string, error) {
	startTime := time.Now()

	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.db", s.db.Name(), startTime.Format(backupTimeFormat))
	backupPath := filepath.Join(s.backupDir, name)

	// VACUUM INTO takes a transactionally consistent snapshot without blocking writers for long.
	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := s.db.Conn().ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", fmt.Errorf("VACUUM INTO failed: %w", err)
	}

	if err := verifyBackup(ctx, backupPath); err != nil {
		_ = os.Remove(backupPath)
		return "", fmt.Errorf("backup verification failed: %w", err)
	}

	if err := s.rotate(); err != nil {
		s.log.Error().Err(err).Msg("Failed to rotate backups")
	}

	if s.uploader != nil {
		if err := s.upload(ctx, backupPath, name); err != nil {
			// The local copy is still good.
			s.log.Error().Err(err).Str("backup_path", backupPath).Msg("Failed to upload backup")
		}
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("backup_path", backupPath).
		Msg("Backup completed")
	return backupPath, nil
}

func (s *BackupService) upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()
	return s.uploader.Upload(ctx, key, f)
}

// rotate deletes the oldest backups beyond the keep limit.
func (s *BackupService) rotate() error {
	if s.keep <= 0 {
		return nil
	}

	backups, err := s.List()
	if err != nil {
		return err
	}
	if len(backups) <= s.keep {
		return nil
	}

	for _, name := range backups[:len(backups)-s.keep] {
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old backup %s: %w", name, err)
		}
		s.log.Debug().Str("backup", name).Msg("Removed old backup")
	}
	return nil
}

// List returns backup file names, oldest first.
func (s *BackupService) List() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	prefix := s.db.Name() + "_"
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// verifyBackup opens a backup and runs an integrity check on it.
func verifyBackup(ctx context.Context, path string) error {
	backupDB, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer backupDB.Close()

	var result string
	if err := backupDB.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
