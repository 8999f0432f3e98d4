package channel

import "errors"

var (
	ErrAlreadyExists  = errors.New("channel already exists")
	ErrNotFound       = errors.New("channel not found")
	ErrNoPermission   = errors.New("no permission")
	ErrNoInvite       = errors.New("no pending invite")
	ErrPlayerNotFound = errors.New("player not found")
	ErrAlreadyMember  = errors.New("already a member")
	ErrInvalidName    = errors.New("invalid channel name")
)
