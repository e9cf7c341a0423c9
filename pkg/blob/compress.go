package blob

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"io"
	"os"
	"runtime"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"
)

// Options control how an image is compressed.
type Options struct {
	Method    Method
	SubType   SubType
	BlockSize uint32 // 0 means DefaultBlockSize
	Workers   int    // 0 means runtime.NumCPU()
}

// compressedBlock is the stored form of one block.
type compressedBlock struct {
	stored []byte
	raw    bool
	zero   bool
}

// Compress writes src as a compressed blob at dst. Blocks are encoded by a
// bounded worker pool but written in order, so the output is deterministic
// for a given input and options. The progress callback may abort the
// operation; on abort or error the partial output file is removed.
func Compress(ctx context.Context, src, dst string, opts Options, progress ProgressFunc) (err error) {
	if m := opts.Method; m != MethodDeflate && m != MethodLZ4 {
		return fmt.Errorf("%w: %d", ErrUnsupportedMethod, uint32(m))
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if sameFile(src, dst) {
		return fmt.Errorf("%s: %w", dst, ErrSameFile)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	dataSize := uint64(info.Size())

	bs := uint64(opts.BlockSize)
	var numBlocks uint32
	if dataSize > 0 {
		numBlocks = uint32((dataSize + bs - 1) / bs)
	}
	dataStart := int64(headerSize) + int64(numBlocks)*12

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

	if _, err = out.Seek(dataStart, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to data area: %w", err)
	}
	bw := bufio.NewWriterSize(out, 1<<20)

	pointers := make([]uint64, numBlocks)
	hashes := make([]uint32, numBlocks)
	rep := newReporter(progress)

	srcBufs := make([][]byte, opts.Workers)
	results := make([]compressedBlock, opts.Workers)

	var offset uint64
	for base := uint32(0); base < numBlocks; base += uint32(opts.Workers) {
		n := opts.Workers
		if remain := int(numBlocks - base); remain < n {
			n = remain
		}

		for j := 0; j < n; j++ {
			i := base + uint32(j)
			length := bs
			if tail := dataSize - uint64(i)*bs; tail < length {
				length = tail
			}
			buf := make([]byte, length)
			if _, err = io.ReadFull(in, buf); err != nil {
				return fmt.Errorf("reading block %d: %w", i, err)
			}
			srcBufs[j] = buf
		}

		g := new(errgroup.Group)
		for j := 0; j < n; j++ {
			j := j
			g.Go(func() error {
				res, eerr := encodeBlock(opts.Method, srcBufs[j])
				if eerr != nil {
					return fmt.Errorf("encoding block %d: %w", base+uint32(j), eerr)
				}
				results[j] = res
				return nil
			})
		}
		if err = g.Wait(); err != nil {
			return err
		}

		for j := 0; j < n; j++ {
			i := base + uint32(j)
			res := results[j]
			switch {
			case res.zero:
				pointers[i] = offset | ptrZero
				hashes[i] = adler32.Checksum(nil)
			default:
				pointers[i] = offset
				if res.raw {
					pointers[i] |= ptrRaw
				}
				hashes[i] = adler32.Checksum(res.stored)
				if _, err = bw.Write(res.stored); err != nil {
					return fmt.Errorf("writing block %d: %w", i, err)
				}
				offset += uint64(len(res.stored))
			}
		}

		if err = ctxErr(ctx); err != nil {
			return err
		}
		done := base + uint32(n)
		err = rep.step(fmt.Sprintf("Compressing block %d of %d", done, numBlocks),
			float64(done)/float64(numBlocks), done == numBlocks)
		if err != nil {
			return err
		}
	}

	if err = bw.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}

	var tb bytes.Buffer
	hdr := header{
		Magic:     Magic,
		Version:   FormatVersion,
		Method:    uint32(opts.Method),
		SubType:   uint32(opts.SubType),
		DataSize:  dataSize,
		BlockSize: opts.BlockSize,
		NumBlocks: numBlocks,
	}
	binary.Write(&tb, binary.LittleEndian, &hdr)
	binary.Write(&tb, binary.LittleEndian, pointers)
	binary.Write(&tb, binary.LittleEndian, hashes)
	if _, err = out.WriteAt(tb.Bytes(), 0); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	return nil
}

// encodeBlock produces the stored form of one uncompressed block: elided
// when all zero, compressed when that helps, raw otherwise.
func encodeBlock(m Method, src []byte) (compressedBlock, error) {
	if isZero(src) {
		return compressedBlock{zero: true}, nil
	}

	switch m {
	case MethodDeflate:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(src); err != nil {
			return compressedBlock{}, err
		}
		if err := zw.Close(); err != nil {
			return compressedBlock{}, err
		}
		if buf.Len() >= len(src) {
			return compressedBlock{stored: src, raw: true}, nil
		}
		return compressedBlock{stored: buf.Bytes()}, nil

	case MethodLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		var c lz4.Compressor
		n, err := c.CompressBlock(src, dst)
		if err != nil {
			return compressedBlock{}, err
		}
		if n == 0 || n >= len(src) {
			return compressedBlock{stored: src, raw: true}, nil
		}
		return compressedBlock{stored: dst[:n]}, nil
	}
	return compressedBlock{}, fmt.Errorf("%w: %d", ErrUnsupportedMethod, uint32(m))
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// sameFile reports whether two paths name the same existing file. Creating
// the output would truncate the input in that case.
func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// ctxErr maps context cancellation onto the abort error.
func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
	default:
		return nil
	}
}
