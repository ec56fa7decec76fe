package usage

import "errors"

// ErrInvalidInput indicates a missing tenant or metric.
var ErrInvalidInput = errors.New("invalid usage input")
