package ntfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract writes a deleted entry's $DATA content into outputDir and
// returns the output path. Resident values are written directly;
// non-resident content is read cluster-run by cluster-run, bounded by the
// attribute's data size. Sparse runs are zero-filled. Records are read
// as-is; fixup corruption in the source data carries through.
func (s *Scanner) Extract(e DeletedEntry, outputDir string) (string, error) {
	if e.IsDirectory {
		return "", fmt.Errorf("entry %d is a directory", e.Index)
	}
	if e.DataResident == nil && len(e.DataRuns) == 0 {
		return "", fmt.Errorf("entry %d carries no $DATA content", e.Index)
	}

	outputPath := filepath.Join(outputDir, outputName(e))
	out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", outputPath, err)
	}
	defer out.Close()

	if e.DataResident != nil {
		if _, err := out.Write(e.DataResident); err != nil {
			return "", fmt.Errorf("write %s: %w", outputPath, err)
		}
		return outputPath, nil
	}

	g := s.geom
	cluster := make([]byte, g.BytesPerCluster)
	var written uint64

	for _, run := range e.DataRuns {
		for c := uint64(0); c < run.Length && written < e.DataSize; c++ {
			toWrite := min(uint64(g.BytesPerCluster), e.DataSize-written)

			if run.Sparse {
				for i := range cluster {
					cluster[i] = 0
				}
			} else {
				offset := g.PartitionOffset + (int64(run.LCN)+int64(c))*g.BytesPerCluster
				if n, err := s.reader.ReadAt(cluster, offset); err != nil && err != io.EOF {
					return "", fmt.Errorf("read cluster at %d: %w", offset, err)
				} else if uint64(n) < toWrite {
					toWrite = uint64(n)
				}
			}

			if toWrite == 0 {
				break
			}
			if _, err := out.Write(cluster[:toWrite]); err != nil {
				return "", fmt.Errorf("write %s: %w", outputPath, err)
			}
			written += toWrite
		}
	}

	return outputPath, nil
}

// outputName builds a stable file name for an extracted entry. Names can
// repeat across records and may contain separators, so the MFT index
// prefixes everything.
func outputName(e DeletedEntry) string {
	name := fmt.Sprintf("entry_%d", e.Index)
	if len(e.Names) > 0 && e.Names[0] != "" {
		name = e.Names[0]
	}
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf("mft_%d_%s", e.Index, name)
}
