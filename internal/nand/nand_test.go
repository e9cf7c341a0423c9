package nand

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/wavebird/pkg/wad"
)

// buildWAD assembles a minimal installable WAD for the given title.
func buildWAD(t *testing.T, titleID uint64, contents [][]byte) *wad.WAD {
	t.Helper()

	cert := bytes.Repeat([]byte{0xA5}, 0x2C0)

	tik := make([]byte, 0x2A4)
	binary.BigEndian.PutUint64(tik[0x1DC:], titleID)

	tmd := make([]byte, 0x1E4+len(contents)*0x24)
	binary.BigEndian.PutUint64(tmd[0x18C:], titleID)
	binary.BigEndian.PutUint16(tmd[0x1DE:], uint16(len(contents)))
	for i, c := range contents {
		rec := tmd[0x1E4+i*0x24:]
		binary.BigEndian.PutUint32(rec[0x00:], uint32(0x100+i))
		binary.BigEndian.PutUint16(rec[0x04:], uint16(i))
		binary.BigEndian.PutUint16(rec[0x06:], 0x0001)
		binary.BigEndian.PutUint64(rec[0x08:], uint64(len(c)))
	}

	align := func(n uint32) uint32 { return (n + 0x3F) &^ 0x3F }
	var contentSize uint32
	for _, c := range contents {
		contentSize += align(uint32(len(c)))
	}

	hdr := make([]byte, 0x20)
	binary.BigEndian.PutUint32(hdr[0x00:], 0x20)
	binary.BigEndian.PutUint32(hdr[0x04:], 0x49730000)
	binary.BigEndian.PutUint32(hdr[0x08:], uint32(len(cert)))
	binary.BigEndian.PutUint32(hdr[0x10:], uint32(len(tik)))
	binary.BigEndian.PutUint32(hdr[0x14:], uint32(len(tmd)))
	binary.BigEndian.PutUint32(hdr[0x18:], contentSize)
	binary.BigEndian.PutUint32(hdr[0x1C:], 0)

	var buf bytes.Buffer
	pad := func() {
		for buf.Len()%0x40 != 0 {
			buf.WriteByte(0)
		}
	}
	buf.Write(hdr)
	pad()
	buf.Write(cert)
	pad()
	buf.Write(tik)
	pad()
	buf.Write(tmd)
	pad()
	for _, c := range contents {
		buf.Write(c)
		pad()
	}

	w, err := wad.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("failed to parse built WAD: %v", err)
	}
	return w
}

const testTitleID = uint64(0x0001000148415858)

func TestInstallUninstall(t *testing.T) {
	s := New(t.TempDir())
	w := buildWAD(t, testTitleID, [][]byte{
		bytes.Repeat([]byte{0x11}, 100),
		bytes.Repeat([]byte{0x22}, 50),
	})

	if s.Installed(testTitleID) {
		t.Fatal("title reported installed in an empty NAND")
	}

	if err := s.Install(w); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if !s.Installed(testTitleID) {
		t.Fatal("title not reported installed after install")
	}

	contentDir := filepath.Join(s.TitlePath(testTitleID), "content")
	for _, name := range []string{"title.tmd", "00000100.app", "00000101.app"} {
		if _, err := os.Stat(filepath.Join(contentDir, name)); err != nil {
			t.Errorf("expected %s after install: %v", name, err)
		}
	}
	ticket := filepath.Join(s.Root(), "ticket", "00010001", "48415858.tik")
	if _, err := os.Stat(ticket); err != nil {
		t.Errorf("expected ticket after install: %v", err)
	}

	// drop a save file, then uninstall: the save must survive
	saveFile := filepath.Join(s.SavePath(testTitleID), "banner.bin")
	if err := os.WriteFile(saveFile, []byte("save"), 0644); err != nil {
		t.Fatalf("failed to write save file: %v", err)
	}

	if err := s.Uninstall(testTitleID); err != nil {
		t.Fatalf("uninstall failed: %v", err)
	}
	if s.Installed(testTitleID) {
		t.Error("title still reported installed after uninstall")
	}
	if _, err := os.Stat(contentDir); !os.IsNotExist(err) {
		t.Error("content directory survived uninstall")
	}
	if _, err := os.Stat(ticket); !os.IsNotExist(err) {
		t.Error("ticket survived uninstall")
	}
	if _, err := os.Stat(saveFile); err != nil {
		t.Errorf("save data did not survive uninstall: %v", err)
	}
}

func TestReinstallReplacesContents(t *testing.T) {
	s := New(t.TempDir())

	first := buildWAD(t, testTitleID, [][]byte{{1}, {2}})
	if err := s.Install(first); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	second := buildWAD(t, testTitleID, [][]byte{{3}})
	if err := s.Install(second); err != nil {
		t.Fatalf("reinstall failed: %v", err)
	}

	contentDir := filepath.Join(s.TitlePath(testTitleID), "content")
	if _, err := os.Stat(filepath.Join(contentDir, "00000101.app")); !os.IsNotExist(err) {
		t.Error("stale content survived reinstall")
	}
	if _, err := os.Stat(filepath.Join(contentDir, "00000100.app")); err != nil {
		t.Errorf("expected new content after reinstall: %v", err)
	}
}

func TestUninstallNotInstalled(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Uninstall(testTitleID); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
}

func TestExportSave(t *testing.T) {
	s := New(t.TempDir())
	w := buildWAD(t, testTitleID, [][]byte{{1}})
	if err := s.Install(w); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	// install leaves an empty data directory
	dest := t.TempDir()
	if err := s.ExportSave(testTitleID, dest); !errors.Is(err, ErrNoSaveData) {
		t.Fatalf("expected ErrNoSaveData, got %v", err)
	}

	save := s.SavePath(testTitleID)
	if err := os.MkdirAll(filepath.Join(save, "nested"), 0755); err != nil {
		t.Fatalf("failed to create save tree: %v", err)
	}
	files := map[string]string{
		"banner.bin":      "banner",
		"nested/save.dat": "progress",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(save, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write save file: %v", err)
		}
	}

	if err := s.ExportSave(testTitleID, dest); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	exported := filepath.Join(dest, "Wii", "title", "00010001", "48415858", "data")
	for name, content := range files {
		got, err := os.ReadFile(filepath.Join(exported, name))
		if err != nil {
			t.Errorf("missing exported file %s: %v", name, err)
			continue
		}
		if string(got) != content {
			t.Errorf("exported %s: got %q, want %q", name, got, content)
		}
	}
}

func TestExportSaveNotInstalled(t *testing.T) {
	s := New(t.TempDir())
	if err := s.ExportSave(testTitleID, t.TempDir()); !errors.Is(err, ErrNoSaveData) {
		t.Fatalf("expected ErrNoSaveData, got %v", err)
	}
}

func TestTitlePaths(t *testing.T) {
	s := New("/nand")

	want := filepath.Join("/nand", "title", "00010001", "48415858")
	if got := s.TitlePath(testTitleID); got != want {
		t.Errorf("TitlePath = %s, want %s", got, want)
	}
	if got := s.SavePath(testTitleID); got != filepath.Join(want, "data") {
		t.Errorf("SavePath = %s, want %s", got, filepath.Join(want, "data"))
	}
}
