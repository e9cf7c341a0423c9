package blob

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
)

// header is the fixed on-disk prefix of a compressed blob (little-endian).
type header struct {
	Magic     uint32
	Version   uint32
	Method    uint32
	SubType   uint32
	DataSize  uint64
	BlockSize uint32
	NumBlocks uint32
}

const headerSize = 32

// Block pointer flags. The remaining bits are the offset of the stored block
// within the data area.
const (
	ptrRaw     uint64 = 1 << 63 // stored uncompressed
	ptrZero    uint64 = 1 << 62 // all-zero block, nothing stored
	ptrOffMask uint64 = ptrZero - 1
)

// CompressedReader provides checksum-verified random access to a compressed
// blob. Use Open to construct one.
type CompressedReader struct {
	file      *os.File
	hdr       header
	pointers  []uint64
	hashes    []uint32
	dataStart int64
	rawSize   uint64

	// single-block cache for sequential small reads
	cachedIdx  int64
	cachedData []byte
}

func newCompressedReader(f *os.File) (*CompressedReader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat blob: %w", err)
	}

	r := &CompressedReader{
		file:      f,
		rawSize:   uint64(info.Size()),
		cachedIdx: -1,
	}

	sr := io.NewSectionReader(f, 0, info.Size())
	if err := binary.Read(sr, binary.LittleEndian, &r.hdr); err != nil {
		return nil, fmt.Errorf("%w: reading header", ErrTruncated)
	}
	if r.hdr.Magic != Magic {
		return nil, ErrNotCompressed
	}
	if r.hdr.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.hdr.Version)
	}
	if m := Method(r.hdr.Method); m != MethodDeflate && m != MethodLZ4 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMethod, r.hdr.Method)
	}
	if r.hdr.DataSize > 0 {
		if r.hdr.BlockSize == 0 {
			return nil, fmt.Errorf("invalid blob: zero block size")
		}
		want := (r.hdr.DataSize + uint64(r.hdr.BlockSize) - 1) / uint64(r.hdr.BlockSize)
		if uint64(r.hdr.NumBlocks) != want {
			return nil, fmt.Errorf("invalid blob: %d blocks for %d bytes of %d-byte blocks",
				r.hdr.NumBlocks, r.hdr.DataSize, r.hdr.BlockSize)
		}
	}

	r.dataStart = headerSize + int64(r.hdr.NumBlocks)*12
	if uint64(r.dataStart) > r.rawSize {
		return nil, fmt.Errorf("%w: block tables extend past end of file", ErrTruncated)
	}

	r.pointers = make([]uint64, r.hdr.NumBlocks)
	if err := binary.Read(sr, binary.LittleEndian, &r.pointers); err != nil {
		return nil, fmt.Errorf("%w: reading block pointers", ErrTruncated)
	}
	r.hashes = make([]uint32, r.hdr.NumBlocks)
	if err := binary.Read(sr, binary.LittleEndian, &r.hashes); err != nil {
		return nil, fmt.Errorf("%w: reading block checksums", ErrTruncated)
	}

	return r, nil
}

func (r *CompressedReader) Size() uint64 {
	return r.hdr.DataSize
}

func (r *CompressedReader) RawSize() uint64 {
	return r.rawSize
}

func (r *CompressedReader) Type() Type {
	return TypeCompressed
}

// Method returns the per-block codec the blob was written with.
func (r *CompressedReader) Method() Method {
	return Method(r.hdr.Method)
}

// SubType returns the console family recorded at compression time.
func (r *CompressedReader) SubType() SubType {
	return SubType(r.hdr.SubType)
}

// BlockSize returns the uncompressed size of a full block.
func (r *CompressedReader) BlockSize() uint32 {
	return r.hdr.BlockSize
}

// NumBlocks returns the number of blocks in the blob.
func (r *CompressedReader) NumBlocks() uint32 {
	return r.hdr.NumBlocks
}

func (r *CompressedReader) Close() error {
	return r.file.Close()
}

// blockLen returns the uncompressed length of block i. Only the final block
// may be short.
func (r *CompressedReader) blockLen(i uint32) int {
	start := uint64(i) * uint64(r.hdr.BlockSize)
	remain := r.hdr.DataSize - start
	if remain < uint64(r.hdr.BlockSize) {
		return int(remain)
	}
	return int(r.hdr.BlockSize)
}

// storedRange returns the offset (within the data area) and length of the
// stored form of block i.
func (r *CompressedReader) storedRange(i uint32) (off int64, length int64, err error) {
	off = int64(r.pointers[i] & ptrOffMask)
	var end int64
	if i+1 < r.hdr.NumBlocks {
		end = int64(r.pointers[i+1] & ptrOffMask)
	} else {
		end = int64(r.rawSize) - r.dataStart
	}
	length = end - off
	if length < 0 || r.dataStart+end > int64(r.rawSize) {
		return 0, 0, fmt.Errorf("%w: block %d has invalid extent", ErrTruncated, i)
	}
	return off, length, nil
}

// readBlock returns the uncompressed contents of block i, verifying the
// stored checksum first.
func (r *CompressedReader) readBlock(i uint32) ([]byte, error) {
	if i >= r.hdr.NumBlocks {
		return nil, fmt.Errorf("block %d out of range (have %d)", i, r.hdr.NumBlocks)
	}

	out := make([]byte, r.blockLen(i))
	ptr := r.pointers[i]

	if ptr&ptrZero != 0 {
		return out, nil
	}

	off, length, err := r.storedRange(i)
	if err != nil {
		return nil, err
	}
	stored := make([]byte, length)
	if _, err := r.file.ReadAt(stored, r.dataStart+off); err != nil {
		return nil, fmt.Errorf("%w: reading block %d", ErrTruncated, i)
	}

	if sum := adler32.Checksum(stored); sum != r.hashes[i] {
		return nil, fmt.Errorf("%w: block %d (stored %08x, want %08x)",
			ErrChecksum, i, sum, r.hashes[i])
	}

	if ptr&ptrRaw != 0 {
		if len(stored) != len(out) {
			return nil, fmt.Errorf("raw block %d is %d bytes, want %d", i, len(stored), len(out))
		}
		copy(out, stored)
		return out, nil
	}

	switch Method(r.hdr.Method) {
	case MethodDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(stored))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, out); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
	case MethodLZ4:
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if n != len(out) {
			return nil, fmt.Errorf("block %d decoded to %d bytes, want %d", i, n, len(out))
		}
	}
	return out, nil
}

// ReadAt implements io.ReaderAt over the uncompressed image.
func (r *CompressedReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if uint64(off) >= r.hdr.DataSize {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && uint64(off) < r.hdr.DataSize {
		idx := uint32(uint64(off) / uint64(r.hdr.BlockSize))
		within := int(uint64(off) % uint64(r.hdr.BlockSize))

		if r.cachedIdx != int64(idx) {
			block, err := r.readBlock(idx)
			if err != nil {
				return n, err
			}
			r.cachedIdx = int64(idx)
			r.cachedData = block
		}

		c := copy(p[n:], r.cachedData[within:])
		n += c
		off += int64(c)
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
