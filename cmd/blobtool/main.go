// blobtool is a CLI utility for GameCube/Wii disc images, compressed blobs
// and the emulated NAND.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Faultbox/wavebird/internal/config"
	"github.com/Faultbox/wavebird/internal/library"
	"github.com/Faultbox/wavebird/internal/logger"
	"github.com/Faultbox/wavebird/internal/nand"
	"github.com/Faultbox/wavebird/pkg/blob"
	"github.com/Faultbox/wavebird/pkg/disc"
	"github.com/Faultbox/wavebird/pkg/wad"
)

func main() {
	config.ParseFlags()
	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		die(err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		die(err)
	}
	defer logger.Sync()

	// Ctrl-C aborts block pipelines cleanly; partial outputs are removed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command := args[0]
	rest := args[1:]

	switch command {
	case "info":
		cmdInfo(rest)
	case "compress":
		cmdCompress(ctx, cfg, rest)
	case "decompress":
		cmdDecompress(ctx, rest)
	case "verify":
		cmdVerify(ctx, rest)
	case "scan":
		cmdScan(cfg, rest)
	case "search", "find":
		cmdSearch(cfg, rest)
	case "remove", "rm":
		cmdRemove(cfg, rest)
	case "install":
		cmdInstall(cfg, rest)
	case "uninstall":
		cmdUninstall(cfg, rest)
	case "export-save":
		cmdExportSave(cfg, rest)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`blobtool - GameCube/Wii disc image and NAND utility

Usage:
  blobtool [flags] <command> [options]

Commands:
  info <image>                       Show container and disc/WAD details
  compress <image> [output]          Compress an image to a blob
  decompress <image.blob> [output]   Restore the plain image from a blob
  verify <image.blob>                Check every block checksum
  scan [dir...]                      Rescan the game library
  search <query>                     Search the game library
  remove <path>                      Delete a game file and drop it from the library
  install <file.wad>                 Install a title to the emulated NAND
  uninstall <title-id|file.wad>      Remove a title from the NAND (keeps saves)
  export-save <title-id|wad> <dir>   Copy a title's save data out of the NAND

Examples:
  blobtool compress game.iso
  blobtool compress -method lz4 -block-size 32768 game.iso game.blob
  blobtool decompress game.blob
  blobtool install homebrew.wad
  blobtool export-save 00010001-48415858 ./backups`)
}

func die(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobtool info <image>")
		os.Exit(1)
	}
	path := args[0]

	if strings.EqualFold(filepath.Ext(path), ".wad") {
		w, err := wad.ParseFile(path)
		if err != nil {
			die(err)
		}
		fmt.Printf("File:      %s\n", path)
		fmt.Printf("Container: WAD\n")
		fmt.Printf("Title ID:  %08x-%08x\n", w.TitleIDHi(), w.TitleIDLo())
		fmt.Printf("Contents:  %d\n", len(w.Contents))
		for _, c := range w.Contents {
			fmt.Printf("  %08x  index %-3d type 0x%04x  %s\n",
				c.ID, c.Index, c.Type, blob.FormatSize(c.Size))
		}
		return
	}

	r, err := blob.Open(path)
	if err != nil {
		die(err)
	}
	defer r.Close()

	fmt.Printf("File:      %s\n", path)
	fmt.Printf("Container: %s\n", r.Type())
	fmt.Printf("Size:      %s\n", blob.FormatSize(r.Size()))
	if cr, ok := r.(*blob.CompressedReader); ok {
		if r.Size() > 0 {
			ratio := 100 * float64(r.RawSize()) / float64(r.Size())
			fmt.Printf("On disk:   %s (%.1f%%)\n", blob.FormatSize(r.RawSize()), ratio)
		} else {
			fmt.Printf("On disk:   %s\n", blob.FormatSize(r.RawSize()))
		}
		fmt.Printf("Method:    %s\n", cr.Method())
		fmt.Printf("Sub-type:  %s\n", cr.SubType())
		fmt.Printf("Blocks:    %d x %s\n", cr.NumBlocks(), blob.FormatSize(uint64(cr.BlockSize())))
	}

	h, err := disc.Parse(r)
	if err != nil {
		fmt.Printf("Disc:      (%v)\n", err)
		return
	}
	fmt.Printf("Game ID:   %s\n", h.ID())
	fmt.Printf("Title:     %s\n", h.InternalName)
	fmt.Printf("Platform:  %s\n", h.Platform)
	fmt.Printf("Region:    %s\n", h.Region())
	fmt.Printf("Disc:      %d (v%d)\n", h.DiscNumber, h.Version)
}

func cmdCompress(ctx context.Context, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("compress", flag.ExitOnError)
	method := fs.String("method", cfg.Blob.Method, "Compression method (deflate, lz4)")
	blockSize := fs.Uint("block-size", uint(cfg.Blob.BlockSize), "Uncompressed bytes per block")
	workers := fs.Int("workers", cfg.Blob.Workers, "Worker count (0 = CPUs)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobtool compress <image> [output]")
		os.Exit(1)
	}
	in := fs.Arg(0)
	out := fs.Arg(1)
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + blob.Extension
	}

	m, err := blob.ParseMethod(*method)
	if err != nil {
		die(err)
	}

	opts := blob.Options{
		Method:    m,
		BlockSize: uint32(*blockSize),
		Workers:   *workers,
	}

	if h, herr := disc.ParseFile(in); herr == nil {
		opts.SubType = h.Platform.SubType()
		if h.CompressionRemovesPadding() {
			fmt.Println("Note: compressing a Wii disc image removes padding data from the")
			fmt.Println("compressed copy. The image will still work.")
		}
	} else {
		fmt.Fprintf(os.Stderr, "Warning: %s does not look like a GC/Wii disc, compressing anyway\n", in)
	}

	if err := blob.Compress(ctx, in, out, opts, blob.ConsoleProgress(os.Stdout)); err != nil {
		fmt.Println()
		if errors.Is(err, blob.ErrAborted) {
			fmt.Fprintln(os.Stderr, "Aborted.")
			os.Exit(1)
		}
		die(err)
	}
	fmt.Println()

	srcInfo, _ := os.Stat(in)
	dstInfo, _ := os.Stat(out)
	if srcInfo != nil && dstInfo != nil && srcInfo.Size() > 0 {
		fmt.Printf("Compressed %s -> %s (%.1f%%)\n",
			blob.FormatSize(uint64(srcInfo.Size())), blob.FormatSize(uint64(dstInfo.Size())),
			100*float64(dstInfo.Size())/float64(srcInfo.Size()))
	}
}

func cmdDecompress(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("decompress", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobtool decompress <image.blob> [output]")
		os.Exit(1)
	}
	in := fs.Arg(0)
	out := fs.Arg(1)
	if out == "" {
		out = strings.TrimSuffix(in, blob.Extension)
		if out == in || filepath.Ext(out) == "" {
			out += ".iso"
		}
	}

	if err := blob.Decompress(ctx, in, out, blob.ConsoleProgress(os.Stdout)); err != nil {
		fmt.Println()
		if errors.Is(err, blob.ErrAborted) {
			fmt.Fprintln(os.Stderr, "Aborted.")
			os.Exit(1)
		}
		die(err)
	}
	fmt.Println()
	fmt.Printf("Decompressed to %s\n", out)
}

func cmdVerify(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobtool verify <image.blob>")
		os.Exit(1)
	}

	bad, err := blob.Verify(ctx, args[0], blob.ConsoleProgress(os.Stdout))
	fmt.Println()
	if err != nil {
		die(err)
	}
	if len(bad) > 0 {
		fmt.Printf("%d damaged block(s): %v\n", len(bad), bad)
		os.Exit(1)
	}
	fmt.Println("All blocks OK")
}

func openLibrary(cfg *config.Config) *library.Library {
	lib, err := library.Open(cfg.Library.CacheFile)
	if err != nil {
		die(err)
	}
	return lib
}

func printEntries(entries []library.Entry) {
	for _, e := range entries {
		fmt.Printf("%-6s %-10s %-10s %-9s %-24s %s\n",
			e.GameID, e.Platform, e.BlobType,
			blob.FormatSize(uint64(e.FileSize)), e.Title, e.Path)
	}
}

func cmdScan(cfg *config.Config, args []string) {
	dirs := append([]string{}, cfg.Library.Dirs...)
	dirs = append(dirs, args...)
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, "No directories to scan (configure library.dirs or pass them as arguments)")
		os.Exit(1)
	}

	lib := openLibrary(cfg)
	if err := lib.Scan(dirs); err != nil {
		die(err)
	}
	if err := lib.Save(); err != nil {
		die(err)
	}

	entries := lib.Entries()
	printEntries(entries)
	fmt.Fprintf(os.Stderr, "\n(%d games)\n", len(entries))
}

func cmdSearch(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobtool search <query>")
		os.Exit(1)
	}

	lib := openLibrary(cfg)
	results := lib.Search(args[0])
	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "No games found")
		return
	}
	printEntries(results)
}

func cmdRemove(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobtool remove <path>")
		os.Exit(1)
	}

	lib := openLibrary(cfg)
	if err := lib.Remove(args[0]); err != nil {
		die(err)
	}
	if err := lib.Save(); err != nil {
		die(err)
	}
	fmt.Printf("Removed %s\n", args[0])
}

func cmdInstall(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobtool install <file.wad>")
		os.Exit(1)
	}

	w, err := wad.ParseFile(args[0])
	if err != nil {
		die(err)
	}
	store := nand.New(cfg.NAND.Root)
	if err := store.Install(w); err != nil {
		die(err)
	}
	fmt.Printf("Installed title %08x-%08x to the NAND\n", w.TitleIDHi(), w.TitleIDLo())
}

func cmdUninstall(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobtool uninstall <title-id|file.wad>")
		os.Exit(1)
	}

	titleID, err := parseTitleArg(args[0])
	if err != nil {
		die(err)
	}
	store := nand.New(cfg.NAND.Root)
	if err := store.Uninstall(titleID); err != nil {
		die(err)
	}
	fmt.Printf("Removed title %016x from the NAND (save data kept)\n", titleID)
}

func cmdExportSave(cfg *config.Config, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: blobtool export-save <title-id|file.wad> <dest-dir>")
		os.Exit(1)
	}

	titleID, err := parseTitleArg(args[0])
	if err != nil {
		die(err)
	}
	store := nand.New(cfg.NAND.Root)
	if err := store.ExportSave(titleID, args[1]); err != nil {
		die(err)
	}
	fmt.Printf("Exported save data for %016x to %s\n", titleID, args[1])
}

// parseTitleArg accepts a WAD path, "hhhhhhhh-llllllll", or 16 hex digits.
func parseTitleArg(s string) (uint64, error) {
	if strings.EqualFold(filepath.Ext(s), ".wad") {
		w, err := wad.ParseFile(s)
		if err != nil {
			return 0, err
		}
		return w.TitleID, nil
	}

	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if hi, lo, ok := strings.Cut(s, "-"); ok {
		h, err := strconv.ParseUint(hi, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid title ID %q", s)
		}
		l, err := strconv.ParseUint(lo, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid title ID %q", s)
		}
		return h<<32 | l, nil
	}

	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid title ID %q", s)
	}
	return id, nil
}
