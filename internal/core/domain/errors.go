package domain

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrAlreadyBroadcasting  = errors.New("endpoint already owns an active session")
	ErrEndpointNotConnected = errors.New("endpoint not connected")
	ErrNotSessionOwner      = errors.New("endpoint does not own this session")
	ErrInvalidTransition    = errors.New("invalid link state transition")
	ErrLinkTerminated       = errors.New("peer link already terminated")
)
