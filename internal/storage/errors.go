package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DuplicateMovementError is returned when the transactional re-check finds
// that the invoice already has a linked movement. The service layer maps it
// to the engine's AlreadyLinked conflict.
type DuplicateMovementError struct {
	ExistingMovementID string
	MatchedRule        int
}

func (e *DuplicateMovementError) Error() string {
	return fmt.Sprintf("invoice already linked to movement %s", e.ExistingMovementID)
}
