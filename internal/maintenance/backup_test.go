package maintenance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackupMaintenance(t *testing.T, vaultRoot string) *Maintenance {
	t.Helper()
	return New(Config{VaultRoot: vaultRoot, BackupDir: filepath.Join(t.TempDir(), "backups")})
}

func seedVault(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "task"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "task", "a.md"), []byte("---\ntitle: a\n---\nbody"), 0o644))
	return root
}

func TestBackupCreatesGzippedArchive(t *testing.T) {
	root := seedVault(t)
	m := newBackupMaintenance(t, root)

	path, err := m.Backup(true)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".tar.gz"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestBackupCreatesUncompressedArchive(t *testing.T) {
	root := seedVault(t)
	m := newBackupMaintenance(t, root)

	path, err := m.Backup(false)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".tar"))
	assert.False(t, strings.HasSuffix(path, ".tar.gz"))
}

func TestBackupThenRestoreRoundTrips(t *testing.T) {
	root := seedVault(t)
	m := newBackupMaintenance(t, root)

	path, err := m.Backup(true)
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, m.Restore(path, filepath.Join(target, "restored"), false))

	restored, err := os.ReadFile(filepath.Join(target, "restored", "task", "a.md"))
	require.NoError(t, err)
	assert.Contains(t, string(restored), "title: a")
}

func TestRestoreRefusesNonEmptyTargetWithoutForce(t *testing.T) {
	root := seedVault(t)
	m := newBackupMaintenance(t, root)
	path, err := m.Backup(true)
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "existing.txt"), []byte("x"), 0o644))

	err = m.Restore(path, target, false)
	assert.Error(t, err)
}

func TestRestoreForceOverwritesNonEmptyTarget(t *testing.T) {
	root := seedVault(t)
	m := newBackupMaintenance(t, root)
	path, err := m.Backup(true)
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "existing.txt"), []byte("x"), 0o644))

	err = m.Restore(path, target, true)
	assert.NoError(t, err)
}

func TestCleanupOldBackupsKeepsNewestN(t *testing.T) {
	root := seedVault(t)
	m := newBackupMaintenance(t, root)

	// Backups taken within the same second share a name, so the five
	// archives are laid down with distinct timestamps directly.
	require.NoError(t, os.MkdirAll(m.backupDir, 0o755))
	for _, name := range []string{
		"vault-backup-20250101-000001.tar.gz",
		"vault-backup-20250101-000002.tar.gz",
		"vault-backup-20250101-000003.tar.gz",
		"vault-backup-20250101-000004.tar.gz",
		"vault-backup-20250101-000005.tar.gz",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(m.backupDir, name), []byte("x"), 0o644))
	}

	removed, err := m.CleanupOldBackups(2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	remaining, err := sortedBackups(m.backupDir)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "vault-backup-20250101-000005.tar.gz", remaining[0].Name())
	assert.Equal(t, "vault-backup-20250101-000004.tar.gz", remaining[1].Name())
}
