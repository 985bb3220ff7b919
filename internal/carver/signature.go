package carver

// FileSignature defines a file type's magic bytes.
type FileSignature struct {
	Extension string
	Header    []byte
	Footer    []byte // present iff HasFooter
	HasFooter bool
	// Incremental marks types whose footer may legitimately occur several
	// times (PDF %%EOF in linearized documents). Each footer match is only
	// a candidate end; on forced termination the output is truncated back
	// to the last candidate.
	Incremental bool
}

// Signatures is the static catalog. Order is the priority order when
// several headers match at the same position.
var Signatures = []FileSignature{
	{Extension: "jpg", Header: []byte{0xFF, 0xD8, 0xFF}, Footer: []byte{0xFF, 0xD9}, HasFooter: true},
	{Extension: "png", Header: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
		Footer: []byte{0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82}, HasFooter: true},
	{Extension: "pdf", Header: []byte{0x25, 0x50, 0x44, 0x46, 0x2D},
		Footer: []byte{0x25, 0x25, 0x45, 0x4F, 0x46}, HasFooter: true, Incremental: true},
	{Extension: "gif", Header: []byte{0x47, 0x49, 0x46, 0x38}, Footer: []byte{0x00, 0x3B}, HasFooter: true},
}
