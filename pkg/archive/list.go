package archive

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Info holds metadata about an existing archive file.
type Info struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Timestamp string `json:"timestamp"` // From manifest, or file mod time
	MudName   string `json:"mud_name,omitempty"`
	Objects   int    `json:"objects"`
	Reason    string `json:"reason,omitempty"`
}

// List scans dir for .tar.gz files and returns info about each,
// sorted newest-first. A missing directory lists as empty.
func List(dir string) ([]Info, error) {
	pattern := filepath.Join(dir, "*.tar.gz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	var archives []Info
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		ai := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      info.Size(),
			Timestamp: info.ModTime().UTC().Format(timeFormat),
		}
		if m, err := ReadManifest(path); err == nil {
			ai.Timestamp = m.Timestamp
			ai.MudName = m.MudName
			ai.Objects = m.Objects
			ai.Reason = m.Reason
		}
		archives = append(archives, ai)
	}

	// Filenames carry the creation time, so they break timestamp ties.
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].Timestamp != archives[j].Timestamp {
			return archives[i].Timestamp > archives[j].Timestamp
		}
		return archives[i].Filename > archives[j].Filename
	})
	return archives, nil
}

// Prune removes all but the newest keep archives in dir and returns the
// number removed. keep <= 0 removes nothing.
func Prune(dir string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	archives, err := List(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, a := range archives[min(keep, len(archives)):] {
		if err := os.Remove(a.Path); err != nil {
			return removed, fmt.Errorf("archive: remove %s: %w", a.Filename, err)
		}
		removed++
	}
	return removed, nil
}

// ReadManifest opens a .tar.gz file and extracts the manifest.json entry.
func ReadManifest(archivePath string) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name == "manifest.json" {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			var m Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, err
			}
			return &m, nil
		}
	}
	return nil, fmt.Errorf("archive: manifest.json not found in %s", filepath.Base(archivePath))
}
