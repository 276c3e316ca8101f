// Package maintenance implements spec.md §4.15's housekeeping operations:
// TTL-bounded cleanup of dedupe/sync-ledger/quarantine/log artifacts, and
// tar(.gz) vault backup/restore with retention pruning.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/internal/dedupe"
	"github.com/kira-host/kira/internal/syncledger"
)

// Report summarizes one cleanup run's effect, for the CLI's --json output.
type Report struct {
	DedupeRemoved     int `json:"dedupe_removed"`
	SyncLedgerRemoved int `json:"sync_ledger_removed"`
	QuarantineRemoved int `json:"quarantine_removed"`
	LogsRemoved       int `json:"logs_removed"`
}

// Maintenance wires the dedupe store, sync ledger, and vault/artifact
// directory layout spec.md §6 names (quarantine/, logs/) into one
// housekeeping surface.
type Maintenance struct {
	dedupeStore   *dedupe.Store
	syncLedger    *syncledger.Ledger
	quarantineDir string
	logsDir       string
	backupDir     string
	vaultRoot     string
	log           *logging.Logger
}

// Config configures a Maintenance instance. VaultRoot is the directory
// Backup tars up; QuarantineDir/LogsDir/BackupDir follow the layout spec.md
// §6 names under it unless overridden.
type Config struct {
	DedupeStore   *dedupe.Store
	SyncLedger    *syncledger.Ledger
	VaultRoot     string
	QuarantineDir string
	LogsDir       string
	BackupDir     string
	Logger        *logging.Logger
}

// New constructs a Maintenance from cfg, defaulting directory paths to the
// vault-relative layout when left blank.
func New(cfg Config) *Maintenance {
	quarantine := cfg.QuarantineDir
	if quarantine == "" {
		quarantine = filepath.Join(cfg.VaultRoot, "artifacts", "quarantine")
	}
	logs := cfg.LogsDir
	if logs == "" {
		logs = filepath.Join(cfg.VaultRoot, "artifacts", "logs")
	}
	backup := cfg.BackupDir
	if backup == "" {
		backup = filepath.Join(cfg.VaultRoot, "artifacts", "backups")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewFromEnv("maintenance")
	}
	return &Maintenance{
		dedupeStore:   cfg.DedupeStore,
		syncLedger:    cfg.SyncLedger,
		quarantineDir: quarantine,
		logsDir:       logs,
		backupDir:     backup,
		vaultRoot:     cfg.VaultRoot,
		log:           log,
	}
}

// CleanupDedupe purges seen-event records older than ttlDays.
func (m *Maintenance) CleanupDedupe(ctx context.Context, ttlDays int) (int, error) {
	if m.dedupeStore == nil {
		return 0, nil
	}
	return m.dedupeStore.Purge(ctx, time.Duration(ttlDays)*24*time.Hour)
}

// CleanupQuarantine deletes quarantined files older than ttlDays, reclaiming
// their disk space.
func (m *Maintenance) CleanupQuarantine(ttlDays int) (int, error) {
	return purgeFilesOlderThan(m.quarantineDir, time.Duration(ttlDays)*24*time.Hour)
}

// CleanupLogs deletes log files older than ttlDays under the configured
// logs directory.
func (m *Maintenance) CleanupLogs(ttlDays int) (int, error) {
	return purgeFilesOlderThan(m.logsDir, time.Duration(ttlDays)*24*time.Hour)
}

// CleanupAll runs every cleanup operation with the given TTLs and returns a
// combined Report.
func (m *Maintenance) CleanupAll(ctx context.Context, dedupeTTLDays, quarantineTTLDays, logTTLDays int) (*Report, error) {
	report := &Report{}

	dedupeRemoved, err := m.CleanupDedupe(ctx, dedupeTTLDays)
	if err != nil {
		return nil, err
	}
	report.DedupeRemoved = dedupeRemoved

	if m.syncLedger != nil {
		ledgerRemoved, err := m.syncLedger.Purge(ctx, time.Duration(dedupeTTLDays)*24*time.Hour)
		if err != nil {
			return nil, err
		}
		report.SyncLedgerRemoved = ledgerRemoved
	}

	quarantineRemoved, err := m.CleanupQuarantine(quarantineTTLDays)
	if err != nil {
		return nil, err
	}
	report.QuarantineRemoved = quarantineRemoved

	logsRemoved, err := m.CleanupLogs(logTTLDays)
	if err != nil {
		return nil, err
	}
	report.LogsRemoved = logsRemoved

	m.log.Info(ctx, "cleanup_all finished", map[string]interface{}{
		"dedupe_removed": report.DedupeRemoved, "sync_ledger_removed": report.SyncLedgerRemoved,
		"quarantine_removed": report.QuarantineRemoved, "logs_removed": report.LogsRemoved,
	})
	return report, nil
}

// purgeFilesOlderThan removes every regular file under dir whose mtime
// predates now-ttl. A missing directory is not an error: there is simply
// nothing to clean.
func purgeFilesOlderThan(dir string, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, kerrors.Internal("list directory for cleanup", err)
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return removed, kerrors.Internal("remove expired file", err)
			}
			removed++
		}
	}
	return removed, nil
}

// backupName formats the filename spec.md §4.15 prescribes:
// vault-backup-<utc>.tar[.gz].
func backupName(at time.Time, compress bool) string {
	ext := "tar"
	if compress {
		ext = "tar.gz"
	}
	return fmt.Sprintf("vault-backup-%s.%s", at.UTC().Format("20060102-150405"), ext)
}

// sortedBackups returns every vault-backup-*.tar[.gz] file under dir, newest
// first.
func sortedBackups(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, kerrors.Internal("list backup directory", err)
	}
	var backups []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && isBackupFile(e.Name()) {
			backups = append(backups, e)
		}
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Name() > backups[j].Name() })
	return backups, nil
}

func isBackupFile(name string) bool {
	return len(name) > len("vault-backup-") && name[:len("vault-backup-")] == "vault-backup-"
}
