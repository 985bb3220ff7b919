package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/shubham/diskrescue/internal/carver"
	"github.com/shubham/diskrescue/internal/disk"
	"github.com/shubham/diskrescue/internal/ntfs"
)

func main() {
	var (
		image     = flag.String("image", "", "Path to disk image or block device (e.g., disk.img, /dev/sdb)")
		outputDir = flag.String("output", ".", "Output directory for recovered files")
		carveMode = flag.Bool("carve", false, "Run signature carving only")
		ntfsMode  = flag.Bool("ntfs", false, "Run NTFS deleted-file scan only")
		doRecover = flag.Bool("recover", false, "Also extract content of deleted NTFS files")
		maxSizeMB = flag.Int64("max-size", 100, "Per-file carving size cap in MiB")
	)
	flag.Parse()

	// Bare positional path also accepted: rescue disk.img
	if *image == "" && flag.NArg() == 1 {
		*image = flag.Arg(0)
	}
	if *image == "" {
		fmt.Println("Usage: rescue -image <path> [-output <dir>] [-carve] [-ntfs] [-recover]")
		fmt.Println("\nExamples:")
		fmt.Println("  rescue disk.img")
		fmt.Println("  rescue -image /dev/sdb1 -output ./recovered -carve")
		fmt.Println("  rescue -image disk.img -ntfs -recover")
		os.Exit(1)
	}

	reader, err := disk.Open(*image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening image: %v\n", err)
		os.Exit(1)
	}
	defer reader.Close()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Image: %s (%s)\n", *image, humanize.IBytes(uint64(reader.Size())))

	// Neither flag selects both strategies.
	runCarve := *carveMode || !*ntfsMode
	runNTFS := *ntfsMode || !*carveMode

	if runCarve {
		carve(reader, *outputDir, *maxSizeMB)
	}
	if runNTFS {
		scanNTFS(reader, *outputDir, *doRecover)
	}
}

func carve(reader *disk.Reader, outputDir string, maxSizeMB int64) {
	fmt.Println("\nScanning for file signatures...")

	c := carver.New(reader)
	c.OutputDir = outputDir
	c.MaxFileSize = maxSizeMB * 1024 * 1024

	bar := progressbar.DefaultBytes(reader.Size(), "carving")
	c.OnProgress = func(scanned, total int64) {
		bar.Set64(scanned)
	}

	files, err := c.Run()
	bar.Finish()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Carving error: %v\n", err)
	}

	byType := make(map[string]int)
	var totalBytes int64
	for _, f := range files {
		byType[f.Extension]++
		totalBytes += f.Size
	}

	fmt.Printf("\nCarved %d files (%s):\n", len(files), humanize.IBytes(uint64(totalBytes)))
	for ext, count := range byType {
		fmt.Printf("  %s: %d\n", ext, count)
	}
	for _, f := range files {
		state := "complete"
		if !f.Complete {
			state = "truncated"
		}
		fmt.Printf("  %s (%s, %s)\n", f.Path, humanize.IBytes(uint64(f.Size)), state)
	}
}

func scanNTFS(reader *disk.Reader, outputDir string, doRecover bool) {
	fmt.Println("\n--- Scanning for Deleted Files ---")

	geom, err := ntfs.Locate(reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "NTFS scan skipped: %v\n", err)
		return
	}

	fmt.Printf("NTFS partition at offset %d\n", geom.PartitionOffset)
	fmt.Printf("  Bytes per sector: %d\n", geom.BytesPerSector)
	fmt.Printf("  Cluster size: %d bytes\n", geom.BytesPerCluster)
	fmt.Printf("  MFT record size: %d bytes\n", geom.EntrySize)
	fmt.Printf("  MFT location: cluster %d\n", geom.MFTCluster)

	scanner := ntfs.NewScanner(reader, geom)
	scanner.OnDiscovery = func(e ntfs.DeletedEntry) {
		kind := " (File)"
		if e.IsDirectory {
			kind = " (Directory)"
		}
		fmt.Printf("[Found Deleted File] MFT Index: %d%s\n", e.Index, kind)
		for _, name := range e.Names {
			fmt.Printf(" - File Name: %s\n", name)
		}
	}

	entries, err := scanner.ScanAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "NTFS scan failed: %v\n", err)
		return
	}
	fmt.Printf("\nFound %d deleted entries.\n", len(entries))

	if !doRecover {
		return
	}

	recovered := 0
	for _, e := range entries {
		if e.IsDirectory {
			continue
		}
		path, err := scanner.Extract(e, outputDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Failed to extract entry %d: %v\n", e.Index, err)
			continue
		}
		fmt.Printf("  Recovered: %s (%s)\n", path, humanize.IBytes(e.DataSize))
		recovered++
	}
	fmt.Printf("Extracted %d files.\n", recovered)
}
