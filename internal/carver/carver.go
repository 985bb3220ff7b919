package carver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shubham/diskrescue/internal/disk"
	"github.com/shubham/diskrescue/internal/search"
)

const (
	// DefaultMaxFileSize bounds a single carved output when no footer turns
	// up. Missing footers would otherwise swallow the rest of the image.
	DefaultMaxFileSize = 100 * 1024 * 1024

	// overlap carried between read buffers so a header straddling a buffer
	// boundary is still found. Must cover the longest header.
	overlap = 16
)

// CarvedFile describes one recovered output.
type CarvedFile struct {
	Extension string
	Offset    int64 // absolute header offset in the image
	Size      int64 // bytes in the final output
	Path      string
	Complete  bool // true when extraction ended on the type's footer
}

// Carver scans an image for file signatures and writes out everything
// between a header and its matching footer. At most one output file is
// open at any time.
type Carver struct {
	reader      *disk.Reader
	OutputDir   string
	BufSize     int
	MaxFileSize int64
	Signatures  []FileSignature

	// OnFile is called as each output is finalized. OnProgress reports
	// scan position against total image size. Both may be nil.
	OnFile     func(CarvedFile)
	OnProgress func(scanned, total int64)

	// extraction state
	extracting   bool
	active       int // index into Signatures, -1 when idle
	out          *os.File
	outPath      string
	headerOffset int64
	written      int64
	lastFooter   int64 // output length at the most recent candidate footer, 0 = none
}

func New(reader *disk.Reader) *Carver {
	return &Carver{
		reader:      reader,
		OutputDir:   ".",
		BufSize:     disk.DefaultBufSize,
		MaxFileSize: DefaultMaxFileSize,
		Signatures:  Signatures,
		active:      -1,
	}
}

// Run scans the whole image and returns the carved files in ascending
// header-offset order.
func (c *Carver) Run() ([]CarvedFile, error) {
	var files []CarvedFile
	emit := c.OnFile
	c.OnFile = func(f CarvedFile) {
		files = append(files, f)
		if emit != nil {
			emit(f)
		}
	}
	defer func() { c.OnFile = emit }()

	diskSize := c.reader.Size()
	buf := make([]byte, c.BufSize)

	var currentOffset int64
	for currentOffset < diskSize {
		n, err := c.reader.ReadAt(buf, currentOffset)
		if err != nil && err != io.EOF {
			c.forceFinish()
			return files, fmt.Errorf("read at offset %d: %w", currentOffset, err)
		}
		if n == 0 {
			break
		}

		c.scanBuffer(buf[:n], currentOffset)

		switch {
		case c.extracting:
			// Output already consumed the tail; never rewind over it.
			currentOffset += int64(n)
		case currentOffset+int64(n) < diskSize && n > overlap:
			currentOffset += int64(n) - overlap
		default:
			currentOffset += int64(n)
		}

		if c.OnProgress != nil {
			c.OnProgress(min(currentOffset, diskSize), diskSize)
		}
	}

	// Image ended mid-extraction: close out what we have.
	c.forceFinish()
	return files, nil
}

// scanBuffer runs the per-buffer state machine: hunt for a header while
// idle, hunt for the active type's footer or a colliding header while
// extracting.
func (c *Carver) scanBuffer(buf []byte, base int64) {
	idx := 0
	for idx < len(buf) {
		if !c.extracting {
			pos, si := c.findHeader(buf, idx)
			if pos == -1 {
				return
			}
			sig := &c.Signatures[si]
			if err := c.startFile(base+int64(pos), si); err != nil {
				// Could not create the output; skip this header.
				idx = pos + len(sig.Header)
				continue
			}
			c.write(sig.Header)
			idx = pos + len(sig.Header)
			continue
		}

		sig := &c.Signatures[c.active]

		colPos := c.findCollision(buf, idx)
		footPos := -1
		if sig.HasFooter {
			footPos = search.Index(buf, sig.Footer, idx)
		}

		switch {
		case colPos != -1 && (footPos == -1 || colPos < footPos):
			// A new file begins before our footer: cut the current one off.
			if c.writeCapped(buf[idx:colPos]) {
				c.forceFinish()
			}
			idx = colPos

		case footPos != -1:
			if !c.writeCapped(buf[idx:footPos]) {
				idx = footPos
				continue
			}
			// The footer itself counts against the cap too.
			if !c.writeCapped(sig.Footer) {
				idx = footPos + len(sig.Footer)
				continue
			}
			idx = footPos + len(sig.Footer)
			if sig.Incremental {
				// Candidate end only; keep going and remember where it was.
				c.lastFooter = c.written
			} else {
				c.finish(true)
			}

		default:
			c.writeCapped(buf[idx:])
			return
		}
	}
}

// findHeader returns the earliest header occurrence at or after idx across
// the catalog, with catalog order breaking ties.
func (c *Carver) findHeader(buf []byte, idx int) (pos, sig int) {
	pos, sig = -1, -1
	for si := range c.Signatures {
		if p := search.Index(buf, c.Signatures[si].Header, idx); p != -1 && (pos == -1 || p < pos) {
			pos, sig = p, si
		}
	}
	return pos, sig
}

// findCollision returns the earliest occurrence of any header that starts
// a new file while extraction is active. PDFs routinely embed JPEG
// streams, so jpg headers do not interrupt a pdf extraction.
func (c *Carver) findCollision(buf []byte, idx int) int {
	active := &c.Signatures[c.active]
	best := -1
	for si := range c.Signatures {
		if active.Extension == "pdf" && c.Signatures[si].Extension == "jpg" {
			continue
		}
		if p := search.Index(buf, c.Signatures[si].Header, idx); p != -1 && (best == -1 || p < best) {
			best = p
		}
	}
	return best
}

func (c *Carver) startFile(offset int64, si int) error {
	name := fmt.Sprintf("recovered_%d.%s", offset, c.Signatures[si].Extension)
	path := filepath.Join(c.OutputDir, name)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	c.extracting = true
	c.active = si
	c.out = out
	c.outPath = path
	c.headerOffset = offset
	c.written = 0
	c.lastFooter = 0
	return nil
}

// write appends to the current output. A write failure abandons the
// current file but not the scan.
func (c *Carver) write(b []byte) {
	if c.out == nil || len(b) == 0 {
		return
	}
	if _, err := c.out.Write(b); err != nil {
		c.out.Close()
		c.clear()
		return
	}
	c.written += int64(len(b))
}

// writeCapped writes b unless that would push the output past MaxFileSize,
// in which case it writes up to the cap, force-finalizes, and reports
// false.
func (c *Carver) writeCapped(b []byte) bool {
	if !c.extracting {
		return false
	}
	remain := c.MaxFileSize - c.written
	if int64(len(b)) <= remain {
		c.write(b)
		return c.extracting
	}
	c.write(b[:remain])
	c.forceFinish()
	return false
}

// finish closes the current output normally.
func (c *Carver) finish(complete bool) {
	if !c.extracting {
		return
	}
	f := CarvedFile{
		Extension: c.Signatures[c.active].Extension,
		Offset:    c.headerOffset,
		Size:      c.written,
		Path:      c.outPath,
		Complete:  complete,
	}
	c.out.Close()
	c.clear()
	if c.OnFile != nil {
		c.OnFile(f)
	}
}

// forceFinish terminates extraction without a footer. Incremental types
// roll back to the most recent candidate footer.
func (c *Carver) forceFinish() {
	if !c.extracting {
		return
	}
	if c.Signatures[c.active].Incremental && c.lastFooter > 0 {
		if err := c.out.Truncate(c.lastFooter); err == nil {
			c.written = c.lastFooter
		}
	}
	c.finish(false)
}

func (c *Carver) clear() {
	c.extracting = false
	c.active = -1
	c.out = nil
	c.outPath = ""
	c.written = 0
	c.lastFooter = 0
}
