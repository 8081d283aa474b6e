package artifact

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/dupreaper/pkg/spl"
)

// Archive compresses csvPath into <processed>/<earliest>_<latest>/<name>.tgz
// and removes the CSV. It returns the archive path.
func (e *Exporter) Archive(s spl.Scope, csvPath string) (string, error) {
	targetDir := filepath.Join(e.processedDir, epochDir(s))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive dir: %w", err)
	}

	name := filepath.Base(csvPath)
	tgzPath := filepath.Join(targetDir, strings.TrimSuffix(name, ".csv")+".tgz")
	if err := writeTarGz(tgzPath, csvPath, name); err != nil {
		os.Remove(tgzPath)
		return "", err
	}

	if err := os.Remove(csvPath); err != nil {
		return "", fmt.Errorf("removing archived csv: %w", err)
	}

	e.logger.Info("discovery results archived", "file", csvPath, "archive", tgzPath)
	return tgzPath, nil
}

func writeTarGz(dst, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening csv: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat csv: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header: %w", err)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := io.Copy(tw, in); err != nil {
		return fmt.Errorf("writing tar body: %w", err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip: %w", err)
	}
	return out.Close()
}
