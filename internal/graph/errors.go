package graph

import (
	"errors"
	"fmt"
)

var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrInvalidEntity = errors.New("invalid entity")
)

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %q not found", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNodeNotFound
}
