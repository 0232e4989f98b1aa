// Package export renders an approved workflow submission, with its full
// decision trail and captured signatures, as a PDF.
package export

import "errors"

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNotApproved is returned for submissions that have not finished the
	// approval chain.
	ErrNotApproved = errors.New("submission is not approved")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
