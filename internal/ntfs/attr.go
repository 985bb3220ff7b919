package ntfs

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// RecordHeader is the fixed front of an MFT record.
type RecordHeader struct {
	FirstAttrOffset uint16
	Flags           uint16
	UsedSize        uint32
	AllocatedSize   uint32
}

// ParseRecordHeader reads the header of one MFT record. ok is false when
// the record does not carry the "FILE" signature.
func ParseRecordHeader(rec []byte) (hdr RecordHeader, ok bool) {
	if len(rec) < 0x20 || string(rec[0:4]) != MFTRecordMagic {
		return hdr, false
	}
	hdr.FirstAttrOffset = binary.LittleEndian.Uint16(rec[0x14:])
	hdr.Flags = binary.LittleEndian.Uint16(rec[0x16:])
	hdr.UsedSize = binary.LittleEndian.Uint32(rec[0x18:])
	hdr.AllocatedSize = binary.LittleEndian.Uint32(rec[0x1C:])
	return hdr, true
}

func (h RecordHeader) InUse() bool       { return h.Flags&FlagInUse != 0 }
func (h RecordHeader) IsDirectory() bool { return h.Flags&FlagDirectory != 0 }

// DeletedEntry is one deleted MFT record with everything the recovery
// paths need from its attributes.
type DeletedEntry struct {
	Index       int64 // record index within the scan
	Offset      int64 // absolute byte offset of the record in the image
	IsDirectory bool
	Names       []string // one per $FILE_NAME attribute

	// $DATA, when present: a resident value, or a non-resident run-list.
	DataResident []byte
	DataRuns     []Segment
	DataSize     uint64
}

// parseAttributes walks the attribute list of one record, bounded by the
// header's used size, and fills e. Malformed records (zero attribute
// length, out-of-range offsets) end the walk early rather than failing
// the scan.
func parseAttributes(rec []byte, hdr RecordHeader, e *DeletedEntry) {
	limit := int(hdr.UsedSize)
	if limit > len(rec) {
		limit = len(rec)
	}

	off := int(hdr.FirstAttrOffset)
	for off+0x10 <= limit {
		attrType := binary.LittleEndian.Uint32(rec[off:])
		if attrType == AttrEnd {
			break
		}
		attrLen := int(binary.LittleEndian.Uint32(rec[off+0x04:]))
		if attrLen == 0 || off+attrLen > limit {
			break
		}
		attr := rec[off : off+attrLen]
		nonResident := attr[0x08] != 0

		switch attrType {
		case AttrFileName:
			if !nonResident {
				if name, ok := parseFileName(attr); ok {
					e.Names = append(e.Names, name)
				}
			}

		case AttrData:
			if nonResident {
				if len(attr) >= 0x40 {
					runOff := int(binary.LittleEndian.Uint16(attr[0x20:]))
					e.DataSize = binary.LittleEndian.Uint64(attr[0x30:])
					if runOff > 0 && runOff < len(attr) {
						e.DataRuns = DecodeRuns(attr[runOff:])
					}
				}
			} else if len(attr) >= 0x18 {
				valueLen := int(binary.LittleEndian.Uint32(attr[0x10:]))
				valueOff := int(binary.LittleEndian.Uint16(attr[0x14:]))
				if valueOff >= 0x18 && valueOff+valueLen <= len(attr) {
					e.DataResident = append([]byte(nil), attr[valueOff:valueOff+valueLen]...)
					e.DataSize = uint64(valueLen)
				}
			}
		}

		off += attrLen
	}
}

// parseFileName extracts the UTF-16LE name from a resident $FILE_NAME
// attribute. The value carries the parent reference and timestamps first;
// the name length in code units sits at +0x40 and the name itself at
// +0x42.
func parseFileName(attr []byte) (string, bool) {
	if len(attr) < 0x18 {
		return "", false
	}
	valueOff := int(binary.LittleEndian.Uint16(attr[0x14:]))
	if valueOff <= 0 || valueOff+0x42 > len(attr) {
		return "", false
	}
	value := attr[valueOff:]

	nameLen := int(value[0x40])
	if 0x42+nameLen*2 > len(value) {
		return "", false
	}
	return DecodeUTF16(value[0x42 : 0x42+nameLen*2]), true
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DecodeUTF16 converts UTF-16LE bytes to a UTF-8 string. Unpaired
// surrogates and other invalid sequences become U+FFFD instead of
// aborting the scan.
func DecodeUTF16(b []byte) string {
	out, _, err := transform.Bytes(utf16le.NewDecoder(), b)
	if err != nil {
		return string([]rune{0xFFFD})
	}
	return string(out)
}
