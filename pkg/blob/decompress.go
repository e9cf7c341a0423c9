package blob

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
)

// Decompress restores the plain image from a compressed blob at src,
// writing it to dst. The progress callback may abort the operation; on
// abort or error the partial output file is removed.
func Decompress(ctx context.Context, src, dst string, progress ProgressFunc) (err error) {
	r, err := Open(src)
	if err != nil {
		return err
	}
	defer r.Close()

	cr, ok := r.(*CompressedReader)
	if !ok {
		return fmt.Errorf("%s: %w", src, ErrNotCompressed)
	}
	if sameFile(src, dst) {
		return fmt.Errorf("%s: %w", dst, ErrSameFile)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	bw := bufio.NewWriterSize(out, 1<<20)
	rep := newReporter(progress)

	var written uint64
	total := cr.NumBlocks()
	for i := uint32(0); i < total; i++ {
		if err = ctxErr(ctx); err != nil {
			return err
		}

		var block []byte
		if block, err = cr.readBlock(i); err != nil {
			return err
		}
		if _, err = bw.Write(block); err != nil {
			return fmt.Errorf("writing block %d: %w", i, err)
		}
		written += uint64(len(block))

		err = rep.step(fmt.Sprintf("Decompressing block %d of %d", i+1, total),
			float64(i+1)/float64(total), i+1 == total)
		if err != nil {
			return err
		}
	}

	if err = bw.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}
	if written != cr.Size() {
		return fmt.Errorf("%w: wrote %d bytes, want %d", ErrSizeMismatch, written, cr.Size())
	}
	return nil
}

// Verify checks every block of a compressed blob against its stored
// checksum and returns the indices of damaged blocks. I/O errors and
// structural damage (truncation, bad tables) are returned as an error.
func Verify(ctx context.Context, path string, progress ProgressFunc) ([]uint32, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	cr, ok := r.(*CompressedReader)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotCompressed)
	}

	rep := newReporter(progress)

	var bad []uint32
	total := cr.NumBlocks()
	for i := uint32(0); i < total; i++ {
		if err := ctxErr(ctx); err != nil {
			return bad, err
		}

		if _, err := cr.readBlock(i); err != nil {
			if errors.Is(err, ErrTruncated) {
				return bad, err
			}
			bad = append(bad, i)
		}

		err := rep.step(fmt.Sprintf("Verifying block %d of %d", i+1, total),
			float64(i+1)/float64(total), i+1 == total)
		if err != nil {
			return bad, err
		}
	}
	return bad, nil
}
