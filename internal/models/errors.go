package models

import "errors"

// ErrInvalidInput marks malformed symbols, timeframes, modes and paging arguments
var ErrInvalidInput = errors.New("invalid input")
