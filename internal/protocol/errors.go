package protocol

import "errors"

var (
	// Failure to serialize a message.
	ErrEncode = errors.New("encode failure")

	// Failure to parse a message.
	ErrDecode = errors.New("decode failure")
)
