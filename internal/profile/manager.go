// Package profile persists the browser user-data directory between daemon
// runs, so the portal's long-lived session cookie outlives restarts.
package profile

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const archiveName = "profile.tar.gz"

// Manager saves and restores the single browser profile.
type Manager struct {
	storePath string
}

// NewManager creates a profile manager rooted at storePath.
func NewManager(storePath string) (*Manager, error) {
	if err := os.MkdirAll(storePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Manager{storePath: storePath}, nil
}

// HasSaved reports whether a persisted profile exists.
func (m *Manager) HasSaved() bool {
	_, err := os.Stat(m.archivePath())
	return err == nil
}

// Save compresses the browser user-data directory into the store.
func (m *Manager) Save(userDataDir string) error {
	if err := m.compressDirectory(userDataDir, m.archivePath()); err != nil {
		return fmt.Errorf("failed to compress profile: %w", err)
	}
	return nil
}

// Restore extracts the persisted profile into a working directory and
// returns its path.
func (m *Manager) Restore() (string, error) {
	if !m.HasSaved() {
		return "", fmt.Errorf("no saved profile")
	}

	extractPath := filepath.Join(os.TempDir(), "checkin-browser-data")
	if err := os.MkdirAll(extractPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	if err := m.extractDirectory(m.archivePath(), extractPath); err != nil {
		return "", fmt.Errorf("failed to extract profile: %w", err)
	}

	return extractPath, nil
}

func (m *Manager) archivePath() string {
	return filepath.Join(m.storePath, archiveName)
}

// compressDirectory creates a tar.gz archive of a directory
func (m *Manager) compressDirectory(source, target string) error {
	file, err := os.Create(target)
	if err != nil {
		return err
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		header.Name = relPath

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if !info.IsDir() {
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			_, err = io.Copy(tarWriter, file)
			return err
		}

		return nil
	})
}

// extractDirectory extracts a tar.gz archive to a directory
func (m *Manager) extractDirectory(source, target string) error {
	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		targetPath := filepath.Join(target, header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return err
			}

			outFile, err := os.Create(targetPath)
			if err != nil {
				return err
			}

			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return err
			}
			outFile.Close()
		}
	}

	return nil
}
