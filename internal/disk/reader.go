package disk

import (
	"fmt"
	"io"
	"os"
)

const (
	SectorSize     = 512
	DefaultBufSize = 1024 * 1024 // 1MB buffer for fast reads
)

// Reader provides random-access reads against a disk image or block device.
type Reader struct {
	file       *os.File
	size       int64
	sectorSize int
}

func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}

	size := stat.Size()

	// For block devices, size might be 0, need to seek to end
	if size == 0 {
		size, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to determine image size: %w", err)
		}
		file.Seek(0, io.SeekStart)
	}

	return &Reader{
		file:       file,
		size:       size,
		sectorSize: SectorSize,
	}, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

func (r *Reader) Size() int64 {
	return r.size
}

func (r *Reader) SectorSize() int {
	return r.sectorSize
}

// ReadAt reads up to len(buf) bytes starting at offset. Short reads at
// EOF are reported truthfully with io.EOF.
func (r *Reader) ReadAt(buf []byte, offset int64) (int, error) {
	return r.file.ReadAt(buf, offset)
}

// ReadExact reads exactly len(buf) bytes at offset, erroring on anything
// short.
func (r *Reader) ReadExact(buf []byte, offset int64) error {
	n, err := r.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read at offset %d: %w", offset, err)
	}
	if n != len(buf) {
		return fmt.Errorf("short read at offset %d: got %d of %d bytes", offset, n, len(buf))
	}
	return nil
}

func (r *Reader) ReadSector(sector int64) ([]byte, error) {
	buf := make([]byte, r.sectorSize)
	if err := r.ReadExact(buf, sector*int64(r.sectorSize)); err != nil {
		return nil, err
	}
	return buf, nil
}

// ProbeNTFS reports whether the sector at offset carries the NTFS OEM tag.
// Used as a fallback for partition images that have no MBR.
func (r *Reader) ProbeNTFS(offset int64) bool {
	buf := make([]byte, 8)
	if err := r.ReadExact(buf, offset+3); err != nil {
		return false
	}
	return string(buf[:4]) == "NTFS"
}
