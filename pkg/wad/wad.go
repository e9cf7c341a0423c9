// Package wad parses Wii WAD title containers.
//
// A WAD carries the pieces of an installable title: certificate chain,
// ticket, TMD (title metadata) and the content files the TMD describes,
// each section aligned to a 0x40-byte boundary. Content payloads are kept
// as carried in the container; title-key crypto is not this package's job.
package wad

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// WAD format errors.
var (
	ErrInvalidHeader   = errors.New("invalid WAD header")
	ErrUnsupportedType = errors.New("unsupported WAD type")
	ErrTruncated       = errors.New("truncated WAD")
	ErrTitleIDMismatch = errors.New("ticket and TMD title IDs disagree")
)

const (
	wadHeaderSize = 0x20
	sectionAlign  = 0x40

	typeIs = 0x49730000 // "Is\0\0": installable title
	typeIb = 0x69620000 // "ib\0\0": boot2

	// offsets within the ticket and TMD
	ticketTitleIDOff = 0x1DC
	tmdTitleIDOff    = 0x18C
	tmdNumContents   = 0x1DE
	tmdContentsOff   = 0x1E4
	contentRecSize   = 0x24
)

// Content is one content file described by the TMD.
type Content struct {
	ID    uint32
	Index uint16
	Type  uint16
	Size  uint64
	Data  []byte
}

// WAD is a parsed title container.
type WAD struct {
	TitleID   uint64
	CertChain []byte
	Ticket    []byte
	TMD       []byte
	Footer    []byte
	Contents  []Content
}

// TitleIDHi returns the upper word of the title ID (the title type).
func (w *WAD) TitleIDHi() uint32 {
	return uint32(w.TitleID >> 32)
}

// TitleIDLo returns the lower word of the title ID.
func (w *WAD) TitleIDLo() uint32 {
	return uint32(w.TitleID)
}

func align(n uint32) uint32 {
	return (n + sectionAlign - 1) &^ (sectionAlign - 1)
}

// align64 is align for content offsets, which can pass 4 GiB in large
// containers.
func align64(n uint64) uint64 {
	return (n + sectionAlign - 1) &^ (sectionAlign - 1)
}

// Parse parses a WAD from raw bytes.
func Parse(data []byte) (*WAD, error) {
	if len(data) < wadHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}

	hdrSize := binary.BigEndian.Uint32(data[0x00:])
	wadType := binary.BigEndian.Uint32(data[0x04:])
	certSize := binary.BigEndian.Uint32(data[0x08:])
	tikSize := binary.BigEndian.Uint32(data[0x10:])
	tmdSize := binary.BigEndian.Uint32(data[0x14:])
	contentSize := binary.BigEndian.Uint32(data[0x18:])
	footerSize := binary.BigEndian.Uint32(data[0x1C:])

	if hdrSize != wadHeaderSize {
		return nil, fmt.Errorf("%w: header size 0x%x", ErrInvalidHeader, hdrSize)
	}
	if wadType != typeIs && wadType != typeIb {
		return nil, fmt.Errorf("%w: 0x%08x", ErrUnsupportedType, wadType)
	}

	section := func(off, size uint32, name string) ([]byte, uint32, error) {
		end := uint64(off) + uint64(size)
		if end > uint64(len(data)) {
			return nil, 0, fmt.Errorf("%w: %s section extends past end of file", ErrTruncated, name)
		}
		return data[off:end], align(off + size), nil
	}

	w := &WAD{}
	off := align(hdrSize)
	var err error
	if w.CertChain, off, err = section(off, certSize, "certificate"); err != nil {
		return nil, err
	}
	if w.Ticket, off, err = section(off, tikSize, "ticket"); err != nil {
		return nil, err
	}
	if w.TMD, off, err = section(off, tmdSize, "TMD"); err != nil {
		return nil, err
	}
	contentsStart := off
	if _, off, err = section(off, contentSize, "contents"); err != nil {
		return nil, err
	}
	if w.Footer, _, err = section(off, footerSize, "footer"); err != nil {
		return nil, err
	}

	if len(w.Ticket) < ticketTitleIDOff+8 {
		return nil, fmt.Errorf("%w: ticket is %d bytes", ErrTruncated, len(w.Ticket))
	}
	if len(w.TMD) < tmdContentsOff {
		return nil, fmt.Errorf("%w: TMD is %d bytes", ErrTruncated, len(w.TMD))
	}

	tikTitle := binary.BigEndian.Uint64(w.Ticket[ticketTitleIDOff:])
	tmdTitle := binary.BigEndian.Uint64(w.TMD[tmdTitleIDOff:])
	if tikTitle != tmdTitle {
		return nil, fmt.Errorf("%w: ticket %016x, TMD %016x", ErrTitleIDMismatch, tikTitle, tmdTitle)
	}
	w.TitleID = tmdTitle

	count := binary.BigEndian.Uint16(w.TMD[tmdNumContents:])
	if len(w.TMD) < tmdContentsOff+int(count)*contentRecSize {
		return nil, fmt.Errorf("%w: TMD lists %d contents", ErrTruncated, count)
	}

	w.Contents = make([]Content, count)
	dataOff := uint64(contentsStart)
	for i := 0; i < int(count); i++ {
		rec := w.TMD[tmdContentsOff+i*contentRecSize:]
		c := Content{
			ID:    binary.BigEndian.Uint32(rec[0x00:]),
			Index: binary.BigEndian.Uint16(rec[0x04:]),
			Type:  binary.BigEndian.Uint16(rec[0x06:]),
			Size:  binary.BigEndian.Uint64(rec[0x08:]),
		}
		end := dataOff + c.Size
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: content %08x extends past end of file", ErrTruncated, c.ID)
		}
		c.Data = data[dataOff:end]
		dataOff = align64(end)
		w.Contents[i] = c
	}

	return w, nil
}

// ParseFile parses a WAD from disk.
func ParseFile(path string) (*WAD, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading WAD file: %w", err)
	}
	return Parse(data)
}
