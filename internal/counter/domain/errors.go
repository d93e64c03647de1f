package domain

import "errors"

var (
	ErrUnknownFacility = errors.New("unknown_facility")
	ErrUnknownLine     = errors.New("unknown_line")
	ErrInvalidDate     = errors.New("invalid_date")
	ErrRateLimited     = errors.New("rate_limited")
)
