// Package blob reads and writes GameCube/Wii disc-image containers.
//
// A blob is either a plain image (ISO/GCM) or a block-compressed container
// identified by the "BLOB" magic word. Compressed containers split the image
// into fixed-size blocks; each block is stored deflate- or lz4-compressed,
// raw when compression does not shrink it, or elided entirely when it is all
// zero. Every stored block carries an Adler-32 checksum that is verified
// before the block is decoded.
package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// Magic identifies a compressed blob ("BLOB" as a little-endian word).
	Magic uint32 = 0x424C4F42

	// FormatVersion is the current compressed container version.
	FormatVersion uint32 = 1

	// DefaultBlockSize is the block size used when none is requested.
	DefaultBlockSize uint32 = 16384

	// Extension is the conventional file extension for compressed blobs.
	Extension = ".blob"
)

// Blob format errors.
var (
	ErrUnsupportedVersion = errors.New("unsupported blob version")
	ErrUnsupportedMethod  = errors.New("unsupported compression method")
	ErrTruncated          = errors.New("truncated blob")
	ErrChecksum           = errors.New("block checksum mismatch")
	ErrNotCompressed      = errors.New("not a compressed blob")
	ErrSizeMismatch       = errors.New("decompressed size mismatch")
	ErrAborted            = errors.New("operation aborted")
	ErrSameFile           = errors.New("output file is the input file")
)

// Type distinguishes plain images from compressed containers.
type Type int

// Container types.
const (
	TypePlain Type = iota
	TypeCompressed
)

// String returns a human-readable container type name.
func (t Type) String() string {
	switch t {
	case TypePlain:
		return "plain"
	case TypeCompressed:
		return "compressed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Method selects the per-block compression codec.
type Method uint32

// Compression methods.
const (
	MethodDeflate Method = 0
	MethodLZ4     Method = 1
)

// String returns the codec name.
func (m Method) String() string {
	switch m {
	case MethodDeflate:
		return "deflate"
	case MethodLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(m))
	}
}

// ParseMethod converts a codec name to a Method.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "deflate", "zlib":
		return MethodDeflate, nil
	case "lz4":
		return MethodLZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMethod, name)
	}
}

// SubType records which console family the image belongs to.
type SubType uint32

// Image sub-types.
const (
	SubTypeGameCube SubType = 0
	SubTypeWii      SubType = 1
)

// String returns the console family name.
func (s SubType) String() string {
	switch s {
	case SubTypeGameCube:
		return "GameCube"
	case SubTypeWii:
		return "Wii"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(s))
	}
}

// Reader is a random-access view of a disc image, independent of whether it
// is stored plain or compressed.
type Reader interface {
	io.ReaderAt
	io.Closer

	// Size returns the uncompressed image size in bytes.
	Size() uint64
	// RawSize returns the on-disk size of the container.
	RawSize() uint64
	// Type reports whether the container is plain or compressed.
	Type() Type
}

// Open opens a disc image for reading, detecting the container type from the
// leading magic word. Files too short to hold a magic word are treated as
// plain images.
func Open(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}

	var magic uint32
	err = binary.Read(io.NewSectionReader(f, 0, 4), binary.LittleEndian, &magic)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		f.Close()
		return nil, fmt.Errorf("reading magic: %w", err)
	}

	if err == nil && magic == Magic {
		r, cerr := newCompressedReader(f)
		if cerr != nil {
			f.Close()
			return nil, cerr
		}
		return r, nil
	}

	r, perr := newPlainReader(f)
	if perr != nil {
		f.Close()
		return nil, perr
	}
	return r, nil
}
