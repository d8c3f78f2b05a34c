package whatsapp

import "github.com/pkg/errors"

var (
	ErrDuplicateSession  = errors.New("whatsapp: session already exists")
	ErrSessionNotFound   = errors.New("whatsapp: session not found")
	ErrSessionTerminated = errors.New("whatsapp: session is logged out")
	ErrRecipientNotFound = errors.New("whatsapp: no account exists")
	ErrNotConnected      = errors.New("whatsapp: session is not connected")
	ErrInvalidJID        = errors.New("whatsapp: invalid id")
	ErrInvalidPresence   = errors.New("whatsapp: invalid presence")
	ErrGroupNotFound     = errors.New("whatsapp: group not found")
	ErrInvalidAction     = errors.New("whatsapp: invalid action")
)
