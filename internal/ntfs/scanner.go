package ntfs

import (
	"fmt"

	"github.com/shubham/diskrescue/internal/disk"
)

const (
	entriesPerBatch = 1024

	// defaultMaxEntries bounds the scan when the $MFT's own data size is
	// unknown.
	defaultMaxEntries = 10000

	// emptyBatchLimit short-circuits runs that point into unallocated
	// space: after this many consecutive batches without a single FILE
	// signature, the scan stops.
	emptyBatchLimit = 5
)

// Scanner batch-reads MFT records across all $MFT extents and reports
// entries whose in-use flag is clear.
type Scanner struct {
	reader *disk.Reader
	geom   *Geometry

	// OnDiscovery is called for each deleted entry as it is found. May be
	// nil.
	OnDiscovery func(DeletedEntry)
}

func NewScanner(reader *disk.Reader, geom *Geometry) *Scanner {
	return &Scanner{reader: reader, geom: geom}
}

// ScanAll reads MFT record #0, follows its non-resident $DATA run-list to
// every $MFT extent, and scans each extent for deleted records. Returned
// entries follow the run-list order, which is ascending record index; an
// extent reached by a negative run offset lies earlier on disk than the
// one before it.
func (s *Scanner) ScanAll() ([]DeletedEntry, error) {
	g := s.geom

	rec0 := make([]byte, g.EntrySize)
	if err := s.reader.ReadExact(rec0, g.MFTOffset); err != nil {
		return nil, fmt.Errorf("read MFT record 0: %w", err)
	}
	hdr, ok := ParseRecordHeader(rec0)
	if !ok {
		return nil, fmt.Errorf("MFT record 0 at offset %d is not a FILE record", g.MFTOffset)
	}

	var mftSelf DeletedEntry
	parseAttributes(rec0, hdr, &mftSelf)
	if len(mftSelf.DataRuns) == 0 {
		return nil, fmt.Errorf("MFT record 0 carries no non-resident $DATA runs")
	}

	totalEntries := uint64(defaultMaxEntries)
	if mftSelf.DataSize > 0 {
		totalEntries = mftSelf.DataSize / uint64(g.EntrySize)
	}
	safetyLimit := totalEntries + totalEntries/10

	var (
		found       []DeletedEntry
		scanned     uint64
		index       int64
		emptyStreak int
	)

scan:
	for _, run := range mftSelf.DataRuns {
		if run.Sparse {
			continue
		}
		runStart := g.PartitionOffset + int64(run.LCN)*g.BytesPerCluster
		runEntries := uint64(int64(run.Length) * g.BytesPerCluster / g.EntrySize)

		for batch := uint64(0); batch < runEntries; batch += entriesPerBatch {
			if scanned >= safetyLimit {
				break scan
			}
			count := min(uint64(entriesPerBatch), runEntries-batch)
			if scanned+count > safetyLimit {
				count = safetyLimit - scanned
			}

			buf := make([]byte, int64(count)*g.EntrySize)
			batchOffset := runStart + int64(batch)*g.EntrySize
			n, _ := s.reader.ReadAt(buf, batchOffset)
			got := int64(n) / g.EntrySize
			if got == 0 {
				// Unreadable batch: skip it, keep scanning.
				scanned += count
				index += int64(count)
				continue
			}

			validInBatch := false
			for j := int64(0); j < got; j++ {
				rec := buf[j*g.EntrySize : (j+1)*g.EntrySize]
				recHdr, ok := ParseRecordHeader(rec)
				if !ok {
					continue
				}
				validInBatch = true
				if recHdr.InUse() {
					continue
				}

				entry := DeletedEntry{
					Index:       index + j,
					Offset:      batchOffset + j*g.EntrySize,
					IsDirectory: recHdr.IsDirectory(),
				}
				parseAttributes(rec, recHdr, &entry)
				found = append(found, entry)
				if s.OnDiscovery != nil {
					s.OnDiscovery(entry)
				}
			}

			if validInBatch {
				emptyStreak = 0
			} else {
				emptyStreak++
				if emptyStreak >= emptyBatchLimit {
					break scan
				}
			}

			scanned += count
			index += int64(count)
		}
	}

	return found, nil
}
