package iforest

import "errors"

var (
	// ErrEmptyPool is returned by Create when no training samples were added.
	ErrEmptyPool = errors.New("empty training pool")

	// ErrInvalidState is returned when an operation is not valid for the
	// forest's lifecycle stage: Create called twice, AddSample after Create,
	// or scoring before Create.
	ErrInvalidState = errors.New("invalid forest state")

	// ErrDegenerateConfig is returned when the parameters make construction
	// or normalization undefined, e.g. a subsampling size of 1.
	ErrDegenerateConfig = errors.New("degenerate forest configuration")

	// ErrUnknownDumpFormat is returned by Dump for an unsupported format.
	ErrUnknownDumpFormat = errors.New("unknown dump format")
)
