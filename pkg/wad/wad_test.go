package wad

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// buildWAD assembles a well-formed installable WAD around the given contents.
func buildWAD(titleID uint64, contents [][]byte) []byte {
	cert := bytes.Repeat([]byte{0xA5}, 0x2C0)

	tik := make([]byte, 0x2A4)
	binary.BigEndian.PutUint64(tik[ticketTitleIDOff:], titleID)

	tmd := make([]byte, tmdContentsOff+len(contents)*contentRecSize)
	binary.BigEndian.PutUint64(tmd[tmdTitleIDOff:], titleID)
	binary.BigEndian.PutUint16(tmd[tmdNumContents:], uint16(len(contents)))
	for i, c := range contents {
		rec := tmd[tmdContentsOff+i*contentRecSize:]
		binary.BigEndian.PutUint32(rec[0x00:], uint32(0x100+i))
		binary.BigEndian.PutUint16(rec[0x04:], uint16(i))
		binary.BigEndian.PutUint16(rec[0x06:], 0x0001)
		binary.BigEndian.PutUint64(rec[0x08:], uint64(len(c)))
	}

	footer := []byte("build metadata")

	var contentSize uint32
	for _, c := range contents {
		contentSize += align(uint32(len(c)))
	}

	hdr := make([]byte, wadHeaderSize)
	binary.BigEndian.PutUint32(hdr[0x00:], wadHeaderSize)
	binary.BigEndian.PutUint32(hdr[0x04:], typeIs)
	binary.BigEndian.PutUint32(hdr[0x08:], uint32(len(cert)))
	binary.BigEndian.PutUint32(hdr[0x10:], uint32(len(tik)))
	binary.BigEndian.PutUint32(hdr[0x14:], uint32(len(tmd)))
	binary.BigEndian.PutUint32(hdr[0x18:], contentSize)
	binary.BigEndian.PutUint32(hdr[0x1C:], uint32(len(footer)))

	var buf bytes.Buffer
	pad := func() {
		for buf.Len()%sectionAlign != 0 {
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
	buf.Write(footer)
	return buf.Bytes()
}

func TestParse(t *testing.T) {
	contents := [][]byte{
		bytes.Repeat([]byte{0x11}, 100),
		bytes.Repeat([]byte{0x22}, 0x40), // exactly one alignment unit
		{0x33},
	}
	data := buildWAD(0x0001000148415858, contents)

	w, err := Parse(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if w.TitleID != 0x0001000148415858 {
		t.Errorf("expected title ID 0001000148415858, got %016x", w.TitleID)
	}
	if w.TitleIDHi() != 0x00010001 || w.TitleIDLo() != 0x48415858 {
		t.Errorf("unexpected title ID words: %08x/%08x", w.TitleIDHi(), w.TitleIDLo())
	}
	if len(w.CertChain) != 0x2C0 {
		t.Errorf("expected 0x2C0-byte cert chain, got %d", len(w.CertChain))
	}
	if len(w.Ticket) != 0x2A4 {
		t.Errorf("expected 0x2A4-byte ticket, got %d", len(w.Ticket))
	}
	if string(w.Footer) != "build metadata" {
		t.Errorf("unexpected footer: %q", w.Footer)
	}

	if len(w.Contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(w.Contents))
	}
	for i, c := range w.Contents {
		if c.ID != uint32(0x100+i) {
			t.Errorf("content %d: expected ID %08x, got %08x", i, 0x100+i, c.ID)
		}
		if c.Index != uint16(i) {
			t.Errorf("content %d: expected index %d, got %d", i, i, c.Index)
		}
		if c.Size != uint64(len(contents[i])) {
			t.Errorf("content %d: expected size %d, got %d", i, len(contents[i]), c.Size)
		}
		if !bytes.Equal(c.Data, contents[i]) {
			t.Errorf("content %d: payload differs", i)
		}
	}
}

func TestParseNoContents(t *testing.T) {
	w, err := Parse(buildWAD(0x0000000100000002, nil))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(w.Contents) != 0 {
		t.Errorf("expected no contents, got %d", len(w.Contents))
	}
}

func TestParseTitleIDMismatch(t *testing.T) {
	data := buildWAD(0x0001000148415858, [][]byte{{1, 2, 3}})

	// corrupt the TMD copy of the title ID
	tmdStart := align(wadHeaderSize) + align(0x2C0) + align(0x2A4)
	binary.BigEndian.PutUint64(data[tmdStart+tmdTitleIDOff:], 0xDEADBEEF)

	if _, err := Parse(data); !errors.Is(err, ErrTitleIDMismatch) {
		t.Fatalf("expected ErrTitleIDMismatch, got %v", err)
	}
}

func TestParseTruncated(t *testing.T) {
	data := buildWAD(0x0001000148415858, [][]byte{bytes.Repeat([]byte{7}, 200)})

	tests := []struct {
		name string
		n    int
	}{
		{"shorter than header", 0x10},
		{"inside ticket", 0x200},
		{"inside contents", len(data) - 0x80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(data[:tt.n]); !errors.Is(err, ErrTruncated) {
				t.Fatalf("expected ErrTruncated, got %v", err)
			}
		})
	}
}

func TestAlign64(t *testing.T) {
	tests := []struct {
		in, want uint64
	}{
		{0, 0},
		{1, 0x40},
		{0x40, 0x40},
		{0x41, 0x80},
		{0x100000000, 0x100000000},
		{0x100000001, 0x100000040}, // offsets past 4 GiB must not wrap
	}
	for _, tt := range tests {
		if got := align64(tt.in); got != tt.want {
			t.Errorf("align64(%#x) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestParseBadHeader(t *testing.T) {
	data := buildWAD(0x0001000148415858, nil)

	badSize := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(badSize[0x00:], 0x40)
	if _, err := Parse(badSize); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}

	badType := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(badType[0x04:], 0x58585858)
	if _, err := Parse(badType); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestParseFile(t *testing.T) {
	data := buildWAD(0x0001000148415858, [][]byte{{0xAA, 0xBB}})
	path := filepath.Join(t.TempDir(), "title.wad")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write WAD: %v", err)
	}

	w, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if w.TitleID != 0x0001000148415858 {
		t.Errorf("unexpected title ID %016x", w.TitleID)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.wad")); err == nil {
		t.Error("expected error for missing file")
	}
}
