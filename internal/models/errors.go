package models

import "errors"

// ErrEmptyQuery is returned when a retrieval query has no text.
var ErrEmptyQuery = errors.New("query cannot be empty")
