package pipeline

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid build request")
	ErrStageFailed    = errors.New("stage execution failed")
)
