package graph

import "errors"

var (
	ErrCycleDetected = errors.New("cycle detected")
	ErrUnknownNode   = errors.New("unknown node")
	ErrSkipped       = errors.New("skipped due to upstream failure")
)
