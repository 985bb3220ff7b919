// Package ntfs parses the NTFS on-disk structures (MBR, VBR, $MFT) to
// enumerate deleted entries and reconstruct their names and extents.
package ntfs

import (
	"encoding/binary"
	"fmt"

	"github.com/shubham/diskrescue/internal/disk"
)

const (
	MFTRecordMagic = "FILE"

	AttrFileName = 0x30
	AttrData     = 0x80
	AttrEnd      = 0xFFFFFFFF

	FlagInUse     = 0x01
	FlagDirectory = 0x02

	partitionTypeNTFS = 0x07
	bootSignature     = 0xAA55
)

// Geometry carries everything derived from the MBR and VBR that the MFT
// scan needs.
type Geometry struct {
	PartitionOffset   int64
	BytesPerSector    uint16
	SectorsPerCluster uint8
	BytesPerCluster   int64
	MFTCluster        uint64
	MFTOffset         int64
	EntrySize         int64
}

// FindPartitionOffset walks the MBR partition table and returns the byte
// offset of the first NTFS partition, or 0 when none is marked.
func FindPartitionOffset(r *disk.Reader) (int64, error) {
	mbr, err := r.ReadSector(0)
	if err != nil {
		return 0, fmt.Errorf("read MBR: %w", err)
	}
	if binary.LittleEndian.Uint16(mbr[0x1FE:]) != bootSignature {
		return 0, fmt.Errorf("invalid MBR signature")
	}

	for i := 0; i < 4; i++ {
		entry := mbr[0x1BE+i*16:]
		if entry[0x04] == partitionTypeNTFS {
			// Partition table LBAs assume 512-byte sectors.
			return int64(binary.LittleEndian.Uint32(entry[0x08:])) * 512, nil
		}
	}
	return 0, nil
}

// ReadGeometry parses the VBR at partitionOffset and derives cluster and
// MFT record sizes.
func ReadGeometry(r *disk.Reader, partitionOffset int64) (*Geometry, error) {
	vbr := make([]byte, 512)
	if err := r.ReadExact(vbr, partitionOffset); err != nil {
		return nil, fmt.Errorf("read VBR: %w", err)
	}
	if binary.LittleEndian.Uint16(vbr[0x1FE:]) != bootSignature {
		return nil, fmt.Errorf("invalid VBR signature at offset %d", partitionOffset)
	}
	if string(vbr[3:7]) != "NTFS" {
		return nil, fmt.Errorf("not an NTFS volume at offset %d", partitionOffset)
	}

	g := &Geometry{
		PartitionOffset:   partitionOffset,
		BytesPerSector:    binary.LittleEndian.Uint16(vbr[0x0B:]),
		SectorsPerCluster: vbr[0x0D],
		MFTCluster:        binary.LittleEndian.Uint64(vbr[0x30:]),
	}
	g.BytesPerCluster = int64(g.SectorsPerCluster) * int64(g.BytesPerSector)
	g.MFTOffset = partitionOffset + int64(g.MFTCluster)*g.BytesPerCluster

	// Negative raw value N means the record size is 2^-N bytes; positive
	// means N clusters.
	raw := int8(vbr[0x40])
	if raw < 0 {
		g.EntrySize = 1 << uint(-raw)
	} else {
		g.EntrySize = int64(raw) * g.BytesPerCluster
	}
	if g.EntrySize <= 0 || g.BytesPerCluster <= 0 {
		return nil, fmt.Errorf("implausible NTFS geometry (cluster %d bytes, record %d bytes)", g.BytesPerCluster, g.EntrySize)
	}

	return g, nil
}

// Locate finds the NTFS volume on the image: via the MBR when one is
// present, falling back to treating the image itself as a bare partition
// when sector 0 carries the NTFS OEM tag.
func Locate(r *disk.Reader) (*Geometry, error) {
	offset, err := FindPartitionOffset(r)
	if err != nil {
		// No valid MBR; the image may start directly with a VBR.
		if r.ProbeNTFS(0) {
			return ReadGeometry(r, 0)
		}
		return nil, err
	}
	if offset == 0 && !r.ProbeNTFS(0) {
		return nil, fmt.Errorf("no NTFS partition found")
	}
	return ReadGeometry(r, offset)
}
