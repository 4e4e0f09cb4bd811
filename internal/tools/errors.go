package tools

import "errors"

var (
	// ErrUnknownTool is returned when a tool name has no registration.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when arguments fail schema
	// validation. The handler is never invoked in that case.
	ErrInvalidArguments = errors.New("invalid arguments")
)
