package triggers

import "errors"

var (
	// ErrEmptySourceID is returned when encoding an id without a source id
	ErrEmptySourceID = errors.New("source id is empty")

	// ErrUnknownSourceType is returned when encoding an id for an unknown source type
	ErrUnknownSourceType = errors.New("unknown source type")
)
