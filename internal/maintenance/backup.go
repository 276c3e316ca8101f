package maintenance

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
)

// Backup tars (optionally gzipping) the vault root into
// <backup_dir>/vault-backup-<utc>.tar[.gz] and returns the written path.
// Grounded on the teacher's neo-snapshot command's
// tar.NewWriter(gzip.NewWriter(file)) pipeline, generalized from a
// contract-storage bundle to a whole-directory archive.
func (m *Maintenance) Backup(compress bool) (string, error) {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", kerrors.Internal("create backup directory", err)
	}
	path := filepath.Join(m.backupDir, backupName(time.Now(), compress))

	f, err := os.Create(path)
	if err != nil {
		return "", kerrors.Internal("create backup file", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gzw *gzip.Writer
	if compress {
		gzw = gzip.NewWriter(f)
		w = gzw
	}
	tw := tar.NewWriter(w)

	err = filepath.Walk(m.vaultRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(m.vaultRoot, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		hdr, hdrErr := tar.FileInfoHeader(info, "")
		if hdrErr != nil {
			return hdrErr
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer src.Close()
		_, copyErr := io.Copy(tw, src)
		return copyErr
	})
	if err != nil {
		return "", kerrors.Internal("write backup archive", err)
	}
	if err := tw.Close(); err != nil {
		return "", kerrors.Internal("finalize backup archive", err)
	}
	if gzw != nil {
		if err := gzw.Close(); err != nil {
			return "", kerrors.Internal("finalize backup gzip stream", err)
		}
	}
	return path, nil
}

// Restore extracts a vault-backup-*.tar[.gz] archive into target. It
// refuses to overwrite a non-empty target directory unless force is true.
func (m *Maintenance) Restore(archivePath, target string, force bool) error {
	entries, err := os.ReadDir(target)
	if err == nil && len(entries) > 0 && !force {
		return kerrors.Conflict("restore target is not empty; pass force to overwrite")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return kerrors.Internal("create restore target", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return kerrors.Internal("open backup archive", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(archivePath, ".gz") {
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return kerrors.Internal("open backup gzip stream", err)
		}
		defer gzr.Close()
		r = gzr
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return kerrors.Internal("read backup archive", err)
		}
		dest := filepath.Join(target, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return kerrors.Internal("create restored directory", err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return kerrors.Internal("create restored directory", err)
			}
			out, err := os.Create(dest)
			if err != nil {
				return kerrors.Internal("create restored file", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return kerrors.Internal("write restored file", err)
			}
			out.Close()
		}
	}
	return nil
}

// CleanupOldBackups keeps only the newest retentionCount backup files under
// the backup directory, deleting the rest.
func (m *Maintenance) CleanupOldBackups(retentionCount int) (int, error) {
	backups, err := sortedBackups(m.backupDir)
	if err != nil {
		return 0, err
	}
	if len(backups) <= retentionCount {
		return 0, nil
	}
	removed := 0
	for _, b := range backups[retentionCount:] {
		if err := os.Remove(filepath.Join(m.backupDir, b.Name())); err != nil {
			return removed, kerrors.Internal("remove stale backup", err)
		}
		removed++
	}
	return removed, nil
}
