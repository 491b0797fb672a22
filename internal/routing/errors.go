package routing

import "errors"

var (
	ErrNotFound        = errors.New("routing: not found")
	ErrDuplicateSource = errors.New("routing: source already exists")
	ErrDuplicateTarget = errors.New("routing: target already exists")
	ErrUnknownSource   = errors.New("routing: unknown source")
)
