package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool matches any *UnknownToolError.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrInvalidDefinition is returned for malformed definitions.
	ErrInvalidDefinition = errors.New("invalid tool definition")

	// ErrApprovalNotFound is returned for unknown approval ids.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrAlreadyResolved is returned when a decision arrives twice.
	ErrAlreadyResolved = errors.New("approval request already resolved")

	// ErrApprovalMismatch is returned when a decision does not belong to the
	// tool call it is applied to.
	ErrApprovalMismatch = errors.New("approval id does not match tool call")
)

// UnknownToolError reports a lookup of a name that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

func (e *UnknownToolError) Is(target error) bool {
	return target == ErrUnknownTool
}
