package model

import (
	"errors"
)

// Error categories. Component errors wrap one of these, so callers can
// tell a file access problem from a database one with errors.Is.
var (
	ErrIO     = errors.New("io error")
	ErrSchema = errors.New("schema error")
	ErrStore  = errors.New("store error")
)
