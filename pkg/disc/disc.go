// Package disc extracts metadata from GameCube and Wii disc images.
//
// Parsing goes through a blob.Reader, so compressed images are handled
// transparently.
package disc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Faultbox/wavebird/pkg/blob"
)

// Disc header errors.
var (
	ErrNotDisc         = errors.New("not a GameCube/Wii disc image")
	ErrTruncatedHeader = errors.New("truncated disc header")
)

const (
	wiiMagic uint32 = 0x5D1C9EA3 // big-endian word at 0x18
	gcMagic  uint32 = 0xC2339F3D // big-endian word at 0x1C

	headerLen   = 0x60
	nameOffset  = 0x20
	wiiMagicOff = 0x18
	gcMagicOff  = 0x1C
)

// Platform identifies the console family of a disc image.
type Platform int

// Platforms.
const (
	PlatformUnknown Platform = iota
	PlatformGameCube
	PlatformWii
)

// String returns the console family name.
func (p Platform) String() string {
	switch p {
	case PlatformGameCube:
		return "GameCube"
	case PlatformWii:
		return "Wii"
	default:
		return "Unknown"
	}
}

// SubType maps the platform onto the blob container sub-type.
func (p Platform) SubType() blob.SubType {
	if p == PlatformWii {
		return blob.SubTypeWii
	}
	return blob.SubTypeGameCube
}

// Region is the video/market region encoded in the game ID.
type Region int

// Regions.
const (
	RegionUnknown Region = iota
	RegionNTSCU
	RegionNTSCJ
	RegionPAL
)

// String returns the region name.
func (r Region) String() string {
	switch r {
	case RegionNTSCU:
		return "NTSC-U"
	case RegionNTSCJ:
		return "NTSC-J"
	case RegionPAL:
		return "PAL"
	default:
		return "Unknown"
	}
}

// Header is the parsed disc header.
type Header struct {
	GameID       [6]byte
	DiscNumber   uint8
	Version      uint8
	InternalName string
	Platform     Platform
}

// ID returns the six-character game ID.
func (h *Header) ID() string {
	return string(h.GameID[:])
}

// MakerCode returns the two-character publisher code.
func (h *Header) MakerCode() string {
	return string(h.GameID[4:6])
}

// Region derives the market region from the fourth game ID byte.
func (h *Header) Region() Region {
	switch h.GameID[3] {
	case 'E':
		return RegionNTSCU
	case 'J', 'K', 'W':
		return RegionNTSCJ
	case 'P', 'D', 'F', 'I', 'S', 'H', 'U', 'X', 'Y', 'Z', 'R':
		return RegionPAL
	default:
		return RegionUnknown
	}
}

// CompressionRemovesPadding reports whether compressing this image discards
// padding data that cannot be restored. True only for Wii discs.
func (h *Header) CompressionRemovesPadding() bool {
	return h.Platform == PlatformWii
}

// Parse reads the disc header from the start of an image.
func Parse(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, headerLen)
	if n, err := r.ReadAt(buf, 0); err != nil && n < headerLen {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: image is smaller than %d bytes", ErrTruncatedHeader, headerLen)
		}
		return nil, fmt.Errorf("reading disc header: %w", err)
	}

	h := &Header{
		DiscNumber: buf[0x06],
		Version:    buf[0x07],
	}
	copy(h.GameID[:], buf[0:6])

	switch {
	case binary.BigEndian.Uint32(buf[wiiMagicOff:]) == wiiMagic:
		h.Platform = PlatformWii
	case binary.BigEndian.Uint32(buf[gcMagicOff:]) == gcMagic:
		h.Platform = PlatformGameCube
	default:
		return nil, ErrNotDisc
	}

	name := buf[nameOffset:headerLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	h.InternalName = string(name)

	return h, nil
}

// ParseFile opens an image (plain or compressed) and parses its header.
func ParseFile(path string) (*Header, error) {
	r, err := blob.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Parse(r)
}
