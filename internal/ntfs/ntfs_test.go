package ntfs

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"

	"github.com/shubham/diskrescue/internal/disk"
)

const (
	testPartitionOffset = 1048576 // LBA 2048 * 512
	testClusterSize     = 4096    // 8 sectors * 512
	testEntrySize       = 1024
	testMFTOffset       = testPartitionOffset + 4*testClusterSize
)

func openImage(t *testing.T, data []byte) *disk.Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.img")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write test image: %v", err)
	}
	reader, err := disk.Open(path)
	if err != nil {
		t.Fatalf("Failed to open test image: %v", err)
	}
	t.Cleanup(func() { reader.Close() })
	return reader
}

// makeMBR builds sector 0 with one NTFS partition entry at LBA 2048.
func makeMBR() []byte {
	mbr := make([]byte, 512)
	entry := mbr[0x1BE:]
	entry[0x04] = 0x07 // NTFS
	binary.LittleEndian.PutUint32(entry[0x08:], 2048)
	binary.LittleEndian.PutUint16(mbr[0x1FE:], 0xAA55)
	return mbr
}

// makeVBR builds an NTFS boot sector: 512-byte sectors, 8 sectors per
// cluster, $MFT at cluster 4, 1024-byte records.
func makeVBR() []byte {
	vbr := make([]byte, 512)
	copy(vbr[3:], "NTFS    ")
	binary.LittleEndian.PutUint16(vbr[0x0B:], 512)
	vbr[0x0D] = 8
	binary.LittleEndian.PutUint64(vbr[0x30:], 4)
	clustersPerRecord := int8(-10)
	vbr[0x40] = byte(clustersPerRecord)
	binary.LittleEndian.PutUint16(vbr[0x1FE:], 0xAA55)
	return vbr
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// mftRecord assembles a 1024-byte record with the given attributes and an
// end marker.
func mftRecord(flags uint16, attrs ...[]byte) []byte {
	rec := make([]byte, testEntrySize)
	copy(rec, MFTRecordMagic)
	binary.LittleEndian.PutUint16(rec[0x14:], 0x38)
	binary.LittleEndian.PutUint16(rec[0x16:], flags)

	off := 0x38
	for _, a := range attrs {
		copy(rec[off:], a)
		off += len(a)
	}
	binary.LittleEndian.PutUint32(rec[off:], AttrEnd)
	off += 8

	binary.LittleEndian.PutUint32(rec[0x18:], uint32(off))
	binary.LittleEndian.PutUint32(rec[0x1C:], testEntrySize)
	return rec
}

func fileNameAttr(name string) []byte {
	units := utf16.Encode([]rune(name))
	value := make([]byte, 0x42+len(units)*2)
	value[0x40] = byte(len(units))
	value[0x41] = 1 // Win32 namespace
	for i, u := range units {
		binary.LittleEndian.PutUint16(value[0x42+i*2:], u)
	}

	attr := make([]byte, align8(0x18+len(value)))
	binary.LittleEndian.PutUint32(attr[0x00:], AttrFileName)
	binary.LittleEndian.PutUint32(attr[0x04:], uint32(len(attr)))
	binary.LittleEndian.PutUint32(attr[0x10:], uint32(len(value)))
	binary.LittleEndian.PutUint16(attr[0x14:], 0x18)
	copy(attr[0x18:], value)
	return attr
}

func residentDataAttr(content []byte) []byte {
	attr := make([]byte, align8(0x18+len(content)))
	binary.LittleEndian.PutUint32(attr[0x00:], AttrData)
	binary.LittleEndian.PutUint32(attr[0x04:], uint32(len(attr)))
	binary.LittleEndian.PutUint32(attr[0x10:], uint32(len(content)))
	binary.LittleEndian.PutUint16(attr[0x14:], 0x18)
	copy(attr[0x18:], content)
	return attr
}

func nonResidentDataAttr(runlist []byte, dataSize uint64) []byte {
	attr := make([]byte, align8(0x40+len(runlist)))
	binary.LittleEndian.PutUint32(attr[0x00:], AttrData)
	binary.LittleEndian.PutUint32(attr[0x04:], uint32(len(attr)))
	attr[0x08] = 1
	binary.LittleEndian.PutUint16(attr[0x20:], 0x40)
	binary.LittleEndian.PutUint64(attr[0x28:], dataSize)
	binary.LittleEndian.PutUint64(attr[0x30:], dataSize)
	binary.LittleEndian.PutUint64(attr[0x38:], dataSize)
	copy(attr[0x40:], runlist)
	return attr
}

// makeNTFSImage lays out MBR, VBR, and a one-cluster MFT of four records:
// the $MFT itself, a deleted file carrying a name and resident content, a
// deleted directory, and an in-use record.
func makeNTFSImage() []byte {
	img := make([]byte, testMFTOffset+testClusterSize)
	copy(img, makeMBR())
	copy(img[testPartitionOffset:], makeVBR())

	// $MFT's own record: one 1-cluster $DATA run at cluster 4.
	rec0 := mftRecord(FlagInUse, nonResidentDataAttr([]byte{0x11, 0x01, 0x04, 0x00}, testClusterSize))
	copy(img[testMFTOffset:], rec0)

	rec1 := mftRecord(0, fileNameAttr("deleted.txt"), residentDataAttr([]byte("hello, recovered world")))
	copy(img[testMFTOffset+1*testEntrySize:], rec1)

	rec2 := mftRecord(FlagDirectory, fileNameAttr("lost_dir"))
	copy(img[testMFTOffset+2*testEntrySize:], rec2)

	rec3 := mftRecord(FlagInUse, fileNameAttr("still_here.txt"))
	copy(img[testMFTOffset+3*testEntrySize:], rec3)

	return img
}

func TestFindPartitionOffset(t *testing.T) {
	reader := openImage(t, makeNTFSImage())

	offset, err := FindPartitionOffset(reader)
	if err != nil {
		t.Fatalf("FindPartitionOffset failed: %v", err)
	}
	if offset != testPartitionOffset {
		t.Errorf("Partition offset = %d, want %d", offset, testPartitionOffset)
	}
}

func TestFindPartitionOffsetBadSignature(t *testing.T) {
	img := make([]byte, 4096)
	reader := openImage(t, img)

	if _, err := FindPartitionOffset(reader); err == nil {
		t.Error("Expected error for missing MBR signature")
	}
}

func TestReadGeometry(t *testing.T) {
	reader := openImage(t, makeNTFSImage())

	geom, err := ReadGeometry(reader, testPartitionOffset)
	if err != nil {
		t.Fatalf("ReadGeometry failed: %v", err)
	}

	if geom.BytesPerCluster != testClusterSize {
		t.Errorf("BytesPerCluster = %d, want %d", geom.BytesPerCluster, testClusterSize)
	}
	if geom.EntrySize != testEntrySize {
		t.Errorf("EntrySize = %d, want %d", geom.EntrySize, testEntrySize)
	}
	if geom.MFTOffset != testMFTOffset {
		t.Errorf("MFTOffset = %d, want %d", geom.MFTOffset, testMFTOffset)
	}
}

func TestEntrySizeDerivation(t *testing.T) {
	tests := []struct {
		name              string
		raw               int8
		sectorsPerCluster uint8
		want              int64
	}{
		{"negative power of two", -10, 8, 1024},
		{"positive clusters", 2, 8, 8192},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vbr := makeVBR()
			vbr[0x0D] = tt.sectorsPerCluster
			vbr[0x40] = byte(tt.raw)

			img := make([]byte, 4096)
			copy(img, vbr)
			reader := openImage(t, img)

			geom, err := ReadGeometry(reader, 0)
			if err != nil {
				t.Fatalf("ReadGeometry failed: %v", err)
			}
			if geom.EntrySize != tt.want {
				t.Errorf("EntrySize = %d, want %d", geom.EntrySize, tt.want)
			}
		})
	}
}

func TestLocateViaMBR(t *testing.T) {
	reader := openImage(t, makeNTFSImage())

	geom, err := Locate(reader)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if geom.PartitionOffset != testPartitionOffset {
		t.Errorf("PartitionOffset = %d, want %d", geom.PartitionOffset, testPartitionOffset)
	}
}

func TestLocateBarePartition(t *testing.T) {
	// A partition image starts with the VBR directly; there is no MBR to
	// walk but the NTFS tag at offset 3 gives it away.
	img := make([]byte, 4096)
	copy(img, makeVBR())
	reader := openImage(t, img)

	geom, err := Locate(reader)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if geom.PartitionOffset != 0 {
		t.Errorf("PartitionOffset = %d, want 0", geom.PartitionOffset)
	}
}

func TestLocateNoNTFS(t *testing.T) {
	reader := openImage(t, make([]byte, 4096))
	if _, err := Locate(reader); err == nil {
		t.Error("Expected error when no NTFS volume exists")
	}
}

func TestScanAll(t *testing.T) {
	reader := openImage(t, makeNTFSImage())
	geom, err := Locate(reader)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}

	var streamed []DeletedEntry
	scanner := NewScanner(reader, geom)
	scanner.OnDiscovery = func(e DeletedEntry) { streamed = append(streamed, e) }

	entries, err := scanner.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 deleted entries, got %d", len(entries))
	}
	if len(streamed) != len(entries) {
		t.Errorf("Callback saw %d entries, result has %d", len(streamed), len(entries))
	}

	file := entries[0]
	if file.Index != 1 || file.IsDirectory {
		t.Errorf("Entry 0 = index %d, dir %v; want index 1 file", file.Index, file.IsDirectory)
	}
	if len(file.Names) != 1 || file.Names[0] != "deleted.txt" {
		t.Errorf("Entry 0 names = %v, want [deleted.txt]", file.Names)
	}
	if file.Offset != testMFTOffset+testEntrySize {
		t.Errorf("Entry 0 offset = %d, want %d", file.Offset, testMFTOffset+testEntrySize)
	}

	dir := entries[1]
	if dir.Index != 2 || !dir.IsDirectory {
		t.Errorf("Entry 1 = index %d, dir %v; want index 2 directory", dir.Index, dir.IsDirectory)
	}
	if len(dir.Names) != 1 || dir.Names[0] != "lost_dir" {
		t.Errorf("Entry 1 names = %v, want [lost_dir]", dir.Names)
	}
}

func TestExtractResident(t *testing.T) {
	reader := openImage(t, makeNTFSImage())
	geom, err := Locate(reader)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}

	scanner := NewScanner(reader, geom)
	entries, err := scanner.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}

	outDir := t.TempDir()
	path, err := scanner.Extract(entries[0], outDir)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if filepath.Base(path) != "mft_1_deleted.txt" {
		t.Errorf("Output name = %s, want mft_1_deleted.txt", filepath.Base(path))
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read extracted file: %v", err)
	}
	if !bytes.Equal(got, []byte("hello, recovered world")) {
		t.Errorf("Extracted content = %q", got)
	}
}

func TestExtractNonResident(t *testing.T) {
	// Deleted file whose content lives in cluster 5, right after the MFT
	// cluster.
	img := make([]byte, testMFTOffset+2*testClusterSize)
	copy(img, makeMBR())
	copy(img[testPartitionOffset:], makeVBR())

	rec0 := mftRecord(FlagInUse, nonResidentDataAttr([]byte{0x11, 0x01, 0x04, 0x00}, testClusterSize))
	copy(img[testMFTOffset:], rec0)

	content := bytes.Repeat([]byte{0xEE}, 1000)
	copy(img[testPartitionOffset+5*testClusterSize:], content)

	rec1 := mftRecord(0,
		fileNameAttr("big.bin"),
		nonResidentDataAttr([]byte{0x11, 0x01, 0x05, 0x00}, uint64(len(content))))
	copy(img[testMFTOffset+1*testEntrySize:], rec1)

	reader := openImage(t, img)
	geom, err := Locate(reader)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}

	scanner := NewScanner(reader, geom)
	entries, err := scanner.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 deleted entry, got %d", len(entries))
	}

	outDir := t.TempDir()
	path, err := scanner.Extract(entries[0], outDir)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read extracted file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Extracted %d bytes, want %d matching cluster content", len(got), len(content))
	}
}

func TestDecodeUTF16(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"ascii", []byte{'d', 0, 'e', 0, 'l', 0}, "del"},
		{"bmp", []byte{0xE9, 0x00, 0x9E, 0x8A}, "é語"},
		{"surrogate pair", []byte{0x34, 0xD8, 0x1E, 0xDD}, "\U0001D11E"},
		{"lone high surrogate", []byte{0x34, 0xD8}, "�"},
		{"lone low surrogate", []byte{0x1E, 0xDD}, "�"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeUTF16(tt.in); got != tt.want {
				t.Errorf("DecodeUTF16(% x) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRecordHeaderRejectsGarbage(t *testing.T) {
	rec := make([]byte, testEntrySize)
	copy(rec, "BAAD")
	if _, ok := ParseRecordHeader(rec); ok {
		t.Error("Expected non-FILE record to be rejected")
	}
	if _, ok := ParseRecordHeader(nil); ok {
		t.Error("Expected empty record to be rejected")
	}
}
