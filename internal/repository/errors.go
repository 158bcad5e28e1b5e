package repository

import "errors"

// ErrNotFound means no row matched, or the row belongs to another user.
var ErrNotFound = errors.New("not found")
