package model

import "errors"

// ErrNotFound is returned for unknown event, dead-letter or subscription ids.
var ErrNotFound = errors.New("not found")
