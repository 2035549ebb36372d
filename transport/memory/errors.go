package memory

import "errors"

var (
	ErrServerClosed   = errors.New("server is closed")
	ErrServerFull     = errors.New("server is full")
	ErrConfigMismatch = errors.New("channel configuration mismatch")
)
