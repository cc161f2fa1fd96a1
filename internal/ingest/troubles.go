package ingest

import "fmt"

type (
	TroubleType int

	// Trouble is a failure to reconcile a single file. It never stops the
	// run; the file is left for the next run to pick up.
	Trouble struct {
		error
		tType TroubleType
		Path  string
	}
)

const (
	ExtractionFailure TroubleType = iota
	IdentityFailure
	TranscodeFailure
	CatalogFailure
	UnknownFailure
)

func newTrouble(tType TroubleType, path string, err error) *Trouble {
	return &Trouble{error: err, tType: tType, Path: path}
}

func (t *Trouble) Type() TroubleType { return t.tType }
func (t *Trouble) Unwrap() error     { return t.error }

func (t TroubleType) String() string {
	switch t {
	case ExtractionFailure:
		return fmt.Sprintf("EXTRACTION_FAILURE[%d]", t)
	case IdentityFailure:
		return fmt.Sprintf("IDENTITY_FAILURE[%d]", t)
	case TranscodeFailure:
		return fmt.Sprintf("TRANSCODE_FAILURE[%d]", t)
	case CatalogFailure:
		return fmt.Sprintf("CATALOG_FAILURE[%d]", t)
	default:
		return fmt.Sprintf("UNKNOWN_FAILURE[%d]", t)
	}
}
