package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrClientGone = errors.New("client deregistered")
var ErrUnknownQuality = errors.New("unknown quality")
var ErrSegmentOutOfRange = errors.New("segment index out of range")
var ErrMediaUnusable = errors.New("media unusable")
