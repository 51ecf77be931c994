package model

import "errors"

// Application-wide standard errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrTaskNotFound = errors.New("generation task not found")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenRevoked = errors.New("token not found in storage")

	// ErrNoReadyTasks — нет задач, готовых к обработке (no-op вызов воркера).
	ErrNoReadyTasks = errors.New("no ready tasks to process")

	ErrInvalidInput = errors.New("invalid input data")
)
