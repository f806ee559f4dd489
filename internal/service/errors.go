package service

import "errors"

var (
	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied means the entity exists but belongs to another user.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidInput means the request failed validation.
	ErrInvalidInput = errors.New("invalid input")
)
