package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrFileTooLarge is wrapped by ValidationError when a file exceeds the size ceiling.
	ErrFileTooLarge = errors.New("file too large")
	// ErrFileType is wrapped by ValidationError when a file type is not accepted.
	ErrFileType = errors.New("file type not allowed")
	// ErrNoRoom is returned by actions that need an active room.
	ErrNoRoom = errors.New("no active room")
	// ErrEmptyMessage is returned when a text message has no content.
	ErrEmptyMessage = errors.New("message is empty")
)

// ValidationError is returned synchronously by BeginUpload before any network
// call is made. Reason is meant to be shown to the user as is.
type ValidationError struct {
	FileName string
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.FileName == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.FileName, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
