// Package archive writes .tar.gz snapshots of a game's data files, taken
// before dbck repairs are saved so a bad pass can be rolled back by hand.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/dbck"
)

// timeFormat is fixed width so timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	MudName   string               `json:"mud_name"`
	Objects   int                  `json:"objects"`
	Reason    string               `json:"reason,omitempty"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "bolt", "sql", "conf", "report"
}

// Params holds all inputs needed to create an archive.
type Params struct {
	BoltSnapshot  func(destPath string) error // Caller provides bolt snapshot closure (nil = skip)
	SQLPath       string                      // SQLite audit database (empty = skip)
	SQLCheckpoint func() error                // Checkpoint WAL before copy (nil = skip)
	ConfPath      string                      // Game config file (empty = skip)
	Included      []string                    // Files pulled in by the config
	Report        *dbck.Report                // Last dbck report (nil = skip)
	Dir           string                      // Output directory for the archive
	MudName       string
	ObjectCount   int
	Reason        string
}

// Create writes a .tar.gz archive and returns its path.
func Create(p Params) (string, error) {
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.Dir, err)
	}
	now := time.Now()
	archivePath := filepath.Join(p.Dir, fmt.Sprintf("archive-%s.tar.gz", now.Format("20060102-150405.000000")))

	tmpDir, err := os.MkdirTemp("", "mushkeeper-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	manifest := Manifest{
		Version:   1,
		Server:    "mushkeeper",
		Timestamp: now.UTC().Format(timeFormat),
		MudName:   p.MudName,
		Objects:   p.ObjectCount,
		Reason:    p.Reason,
		Files:     make(map[string]FileEntry),
	}

	// Stage everything before the output file exists so a failed snapshot
	// leaves nothing behind.
	type staged struct{ src, name, kind string }
	var files []staged
	if p.BoltSnapshot != nil {
		dst := filepath.Join(tmpDir, "game.bolt")
		if err := p.BoltSnapshot(dst); err != nil {
			return "", fmt.Errorf("archive: bolt snapshot: %w", err)
		}
		files = append(files, staged{dst, "data/game.bolt", "bolt"})
	}
	if p.SQLPath != "" {
		if p.SQLCheckpoint != nil {
			if err := p.SQLCheckpoint(); err != nil {
				return "", fmt.Errorf("archive: sql checkpoint: %w", err)
			}
		}
		dst := filepath.Join(tmpDir, "audit.sqlite")
		if err := copyFile(p.SQLPath, dst); err != nil {
			return "", fmt.Errorf("archive: copy sql: %w", err)
		}
		files = append(files, staged{dst, "data/audit.sqlite", "sql"})
	}
	if p.Report != nil {
		dst := filepath.Join(tmpDir, "dbck-report.json")
		f, err := os.Create(dst)
		if err != nil {
			return "", fmt.Errorf("archive: stage report: %w", err)
		}
		err = p.Report.WriteJSON(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", fmt.Errorf("archive: stage report: %w", err)
		}
		files = append(files, staged{dst, "data/dbck-report.json", "report"})
	}
	for _, c := range append([]string{p.ConfPath}, p.Included...) {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			files = append(files, staged{c, "conf/" + filepath.Base(c), "conf"})
		}
	}

	outFile, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", archivePath, err)
	}
	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	err = func() error {
		for _, s := range files {
			entry, err := addFileToTar(tw, s.src, s.name)
			if err != nil {
				return err
			}
			entry.Type = s.kind
			manifest.Files[s.name] = entry
		}
		manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return fmt.Errorf("archive: marshal manifest: %w", err)
		}
		if err := tw.WriteHeader(&tar.Header{
			Name:    "manifest.json",
			Size:    int64(len(manifestJSON)),
			Mode:    0644,
			ModTime: now,
		}); err != nil {
			return fmt.Errorf("archive: write manifest header: %w", err)
		}
		if _, err := tw.Write(manifestJSON); err != nil {
			return fmt.Errorf("archive: write manifest: %w", err)
		}
		if err := tw.Close(); err != nil {
			return err
		}
		if err := gw.Close(); err != nil {
			return err
		}
		return outFile.Close()
	}()
	if err != nil {
		outFile.Close()
		os.Remove(archivePath)
		return "", err
	}
	return archivePath, nil
}

// addFileToTar adds a single file to the tar archive with the given archive name,
// computing its SHA-256 while writing.
func addFileToTar(tw *tar.Writer, srcPath, archName string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}

	archName = strings.ReplaceAll(archName, "\\", "/")
	if err := tw.WriteHeader(&tar.Header{
		Name:    archName,
		Size:    info.Size(),
		Mode:    0644,
		ModTime: info.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", archName, err)
	}

	h := sha256.New()
	written, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", archName, err)
	}
	return FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: written}, nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
