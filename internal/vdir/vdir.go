// ABOUTME: Reads vdir-style calendar collections: one .ics file per event group.
// ABOUTME: Computes a content hash per file so unchanged files can skip re-expansion.

package vdir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File is one event source file handed to the loader: its basename, raw
// iCalendar text and a content hash acting as etag.
type File struct {
	Name string
	Raw  string
	Etag string
}

// ReadDir lists the event files of one collection directory in name order.
// Hidden files, temp files and anything that is not an .ics file are
// ignored, matching what synchronization tools leave behind.
func ReadDir(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ".ics") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, File{Name: name, Raw: string(data), Etag: Etag(data)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Etag returns the content hash used for change detection.
func Etag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
