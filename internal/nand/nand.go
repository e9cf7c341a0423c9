// Package nand manages Wii titles inside an emulated NAND directory tree.
//
// The tree mirrors the console layout: a title lives under
// title/<hi>/<lo>/ with its TMD and contents in content/ and its save data
// in data/. Tickets live under ticket/<hi>/<lo>.tik. Uninstalling a title
// removes the ticket and contents but keeps the save data.
package nand

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Faultbox/wavebird/internal/logger"
	"github.com/Faultbox/wavebird/pkg/wad"
)

// NAND store errors.
var (
	ErrNotInstalled = errors.New("title is not installed")
	ErrNoSaveData   = errors.New("title has no save data")
)

// Store is a NAND tree rooted at a directory.
type Store struct {
	root string
}

// New returns a Store for the NAND tree at root. The directory is created
// lazily on first install.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the NAND root directory.
func (s *Store) Root() string {
	return s.root
}

func splitTitleID(titleID uint64) (hi, lo string) {
	return fmt.Sprintf("%08x", uint32(titleID>>32)), fmt.Sprintf("%08x", uint32(titleID))
}

// TitlePath returns the directory holding a title's content and data.
func (s *Store) TitlePath(titleID uint64) string {
	hi, lo := splitTitleID(titleID)
	return filepath.Join(s.root, "title", hi, lo)
}

func (s *Store) contentDir(titleID uint64) string {
	return filepath.Join(s.TitlePath(titleID), "content")
}

func (s *Store) tmdPath(titleID uint64) string {
	return filepath.Join(s.contentDir(titleID), "title.tmd")
}

func (s *Store) ticketPath(titleID uint64) string {
	hi, lo := splitTitleID(titleID)
	return filepath.Join(s.root, "ticket", hi, lo+".tik")
}

// SavePath returns the directory holding a title's save data.
func (s *Store) SavePath(titleID uint64) string {
	return filepath.Join(s.TitlePath(titleID), "data")
}

// Installed reports whether a title's TMD is present in the NAND.
func (s *Store) Installed(titleID uint64) bool {
	_, err := os.Stat(s.tmdPath(titleID))
	return err == nil
}

// Install writes a parsed WAD's ticket, TMD and contents into the NAND.
// An existing installation of the same title is replaced; save data is
// untouched.
func (s *Store) Install(w *wad.WAD) error {
	titleID := w.TitleID

	ticketPath := s.ticketPath(titleID)
	if err := os.MkdirAll(filepath.Dir(ticketPath), 0755); err != nil {
		return fmt.Errorf("creating ticket directory: %w", err)
	}
	if err := os.WriteFile(ticketPath, w.Ticket, 0644); err != nil {
		return fmt.Errorf("writing ticket: %w", err)
	}

	contentDir := s.contentDir(titleID)
	// Drop any previous installation's contents before writing the new set.
	if err := os.RemoveAll(contentDir); err != nil {
		return fmt.Errorf("clearing old contents: %w", err)
	}
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return fmt.Errorf("creating content directory: %w", err)
	}
	if err := os.WriteFile(s.tmdPath(titleID), w.TMD, 0644); err != nil {
		return fmt.Errorf("writing TMD: %w", err)
	}
	for _, c := range w.Contents {
		name := fmt.Sprintf("%08x.app", c.ID)
		if err := os.WriteFile(filepath.Join(contentDir, name), c.Data, 0644); err != nil {
			return fmt.Errorf("writing content %08x: %w", c.ID, err)
		}
	}

	if err := os.MkdirAll(s.SavePath(titleID), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	logger.Info("installed title to NAND",
		zap.String("title_id", fmt.Sprintf("%016x", titleID)),
		zap.Int("contents", len(w.Contents)))
	return nil
}

// Uninstall removes a title's ticket and contents from the NAND. The save
// data directory is preserved.
func (s *Store) Uninstall(titleID uint64) error {
	if !s.Installed(titleID) {
		return fmt.Errorf("%016x: %w", titleID, ErrNotInstalled)
	}

	if err := os.RemoveAll(s.contentDir(titleID)); err != nil {
		return fmt.Errorf("removing contents: %w", err)
	}
	if err := os.Remove(s.ticketPath(titleID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing ticket: %w", err)
	}

	logger.Info("removed title from NAND",
		zap.String("title_id", fmt.Sprintf("%016x", titleID)))
	return nil
}

// ExportSave copies a title's save data tree into
// destRoot/Wii/title/<hi>/<lo>/data.
func (s *Store) ExportSave(titleID uint64, destRoot string) error {
	src := s.SavePath(titleID)
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%016x: %w", titleID, ErrNoSaveData)
	}
	empty, err := isEmptyDir(src)
	if err != nil {
		return fmt.Errorf("reading save data: %w", err)
	}
	if empty {
		return fmt.Errorf("%016x: %w", titleID, ErrNoSaveData)
	}

	hi, lo := splitTitleID(titleID)
	dest := filepath.Join(destRoot, "Wii", "title", hi, lo, "data")
	if err := copyTree(src, dest); err != nil {
		return fmt.Errorf("exporting save data: %w", err)
	}

	logger.Info("exported save data",
		zap.String("title_id", fmt.Sprintf("%016x", titleID)),
		zap.String("dest", dest))
	return nil
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// copyTree copies a directory tree, preserving the relative layout.
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
