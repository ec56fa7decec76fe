package scanbatches

import "errors"

var (
	ErrNotFound              = errors.New("scan batch not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidState          = errors.New("scan batch is not in a valid state for this operation")
	ErrNoDocumentsDownloaded = errors.New("no documents could be downloaded")
	ErrInvalidModelResponse  = errors.New("invalid model response")
)
