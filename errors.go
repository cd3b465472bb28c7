package papertutor

import "errors"

var (
	// ErrPaperNotFound is returned when a paper ID does not exist.
	ErrPaperNotFound = errors.New("papertutor: paper not found")

	// ErrEmptyDocument is returned when ingestion receives no document bytes.
	ErrEmptyDocument = errors.New("papertutor: document is empty")

	// ErrRasterization is returned when page rendering fails.
	ErrRasterization = errors.New("papertutor: page rasterization failed")

	// ErrDetection is returned when question boundary detection fails.
	ErrDetection = errors.New("papertutor: question detection failed")

	// ErrStorage is returned when persisting pages or question records fails.
	ErrStorage = errors.New("papertutor: storing results failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("papertutor: invalid configuration")
)
