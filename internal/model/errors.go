package model

import "errors"

// Error kinds shared by the stores and mapped to HTTP responses by httpx
var (
	ErrValidation        = errors.New("validation error")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStorage           = errors.New("storage error")
)
