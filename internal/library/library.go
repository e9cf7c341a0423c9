// Package library maintains the scanned catalogue of game files.
//
// A scan walks the configured directories for disc images and WADs and
// extracts per-file metadata through the blob, disc and wad parsers. Scan
// results persist to a YAML cache keyed by path, size and mtime so unchanged
// files are not re-parsed on the next scan.
package library

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/wavebird/internal/logger"
	"github.com/Faultbox/wavebird/pkg/blob"
	"github.com/Faultbox/wavebird/pkg/disc"
	"github.com/Faultbox/wavebird/pkg/wad"
)

// Entry describes one catalogued game file.
type Entry struct {
	Path       string    `yaml:"path"`
	FileSize   int64     `yaml:"file_size"`
	ModTime    time.Time `yaml:"mod_time"`
	GameID     string    `yaml:"game_id,omitempty"`
	Title      string    `yaml:"title,omitempty"`
	Platform   string    `yaml:"platform"`
	Region     string    `yaml:"region,omitempty"`
	BlobType   string    `yaml:"blob_type"`
	VolumeSize uint64    `yaml:"volume_size"`
	TitleID    uint64    `yaml:"title_id,omitempty"`
}

// cacheFile is the on-disk shape of the scan cache.
type cacheFile struct {
	Entries []Entry `yaml:"entries"`
}

// Library is the catalogue plus its cache location.
type Library struct {
	cachePath string
	entries   map[string]Entry
}

// Open loads the catalogue cache at cachePath. A missing cache yields an
// empty library.
func Open(cachePath string) (*Library, error) {
	l := &Library{
		cachePath: cachePath,
		entries:   make(map[string]Entry),
	}

	data, err := os.ReadFile(cachePath)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading library cache: %w", err)
	}

	var cf cacheFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing library cache: %w", err)
	}
	for _, e := range cf.Entries {
		l.entries[e.Path] = e
	}
	return l, nil
}

// Save writes the catalogue cache back to disk.
func (l *Library) Save() error {
	cf := cacheFile{Entries: l.Entries()}
	data, err := yaml.Marshal(&cf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.cachePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(l.cachePath, data, 0644)
}

// gameExts are the file extensions a scan considers.
var gameExts = map[string]bool{
	".iso":         true,
	".gcm":         true,
	".wad":         true,
	blob.Extension: true,
}

// Scan walks dirs for game files and rebuilds the catalogue. Files whose
// size and mtime match a cached entry are not re-parsed. Unreadable files
// are skipped with a warning.
func (l *Library) Scan(dirs []string) error {
	fresh := make(map[string]Entry)

	for _, dir := range dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				logger.Warn("scan error", zap.String("path", path), zap.Error(err))
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if !gameExts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}

			if cached, ok := l.entries[path]; ok &&
				cached.FileSize == info.Size() && cached.ModTime.Equal(info.ModTime()) {
				fresh[path] = cached
				return nil
			}

			entry, perr := probe(path, info)
			if perr != nil {
				logger.Warn("skipping unreadable game file",
					zap.String("path", path), zap.Error(perr))
				return nil
			}
			fresh[path] = entry
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning %s: %w", dir, err)
		}
	}

	l.entries = fresh
	logger.Info("library scan complete", zap.Int("entries", len(fresh)))
	return nil
}

// probe parses one game file into a catalogue entry.
func probe(path string, info os.FileInfo) (Entry, error) {
	entry := Entry{
		Path:     path,
		FileSize: info.Size(),
		ModTime:  info.ModTime(),
	}

	if strings.EqualFold(filepath.Ext(path), ".wad") {
		w, err := wad.ParseFile(path)
		if err != nil {
			return Entry{}, err
		}
		entry.BlobType = "wad"
		entry.Platform = "Wii (WAD)"
		entry.TitleID = w.TitleID
		entry.GameID = titleGameID(w.TitleIDLo())
		entry.VolumeSize = uint64(info.Size())
		return entry, nil
	}

	r, err := blob.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer r.Close()

	h, err := disc.Parse(r)
	if err != nil {
		return Entry{}, err
	}

	entry.BlobType = r.Type().String()
	entry.VolumeSize = r.Size()
	entry.GameID = h.ID()
	entry.Title = h.InternalName
	entry.Platform = h.Platform.String()
	entry.Region = h.Region().String()
	return entry, nil
}

// titleGameID renders the low title ID word as its four-character code when
// it is printable (e.g. "HAXX").
func titleGameID(lo uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], lo)
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return ""
		}
	}
	return string(b[:])
}

// Entries returns all catalogue entries sorted by title, then path.
func (l *Library) Entries() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Get returns the catalogue entry for a path.
func (l *Library) Get(path string) (Entry, bool) {
	e, ok := l.entries[path]
	return e, ok
}

// Search returns entries whose title, game ID or path contains the query,
// case-insensitively.
func (l *Library) Search(query string) []Entry {
	q := strings.ToLower(query)
	var out []Entry
	for _, e := range l.Entries() {
		if strings.Contains(strings.ToLower(e.Title), q) ||
			strings.Contains(strings.ToLower(e.GameID), q) ||
			strings.Contains(strings.ToLower(e.Path), q) {
			out = append(out, e)
		}
	}
	return out
}

// Remove deletes a game file from disk and drops it from the catalogue.
func (l *Library) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting game file: %w", err)
	}
	delete(l.entries, path)
	logger.Info("removed game file", zap.String("path", path))
	return nil
}
