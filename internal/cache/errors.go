package cache

import "errors"

var (
	ErrNotFound            = errors.New("artifact not found")
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrCacheCorruption     = errors.New("cache corruption")
	ErrStore               = errors.New("store operation failed")
)
