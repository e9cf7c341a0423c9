package blob

import (
	"fmt"
	"os"
)

// plainReader serves an uncompressed image straight from the file.
type plainReader struct {
	file *os.File
	size uint64
}

func newPlainReader(f *os.File) (*plainReader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	return &plainReader{file: f, size: uint64(info.Size())}, nil
}

func (r *plainReader) ReadAt(p []byte, off int64) (int, error) {
	return r.file.ReadAt(p, off)
}

func (r *plainReader) Size() uint64 {
	return r.size
}

func (r *plainReader) RawSize() uint64 {
	return r.size
}

func (r *plainReader) Type() Type {
	return TypePlain
}

func (r *plainReader) Close() error {
	return r.file.Close()
}
