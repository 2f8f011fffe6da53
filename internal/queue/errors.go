package queue

import "errors"

var (
	ErrIllegalTransition = errors.New("illegal ticket transition")
	ErrUnknownStatus     = errors.New("unknown ticket status")
	ErrUnknownAction     = errors.New("unknown ticket action")
	ErrTerminalTicket    = errors.New("ticket is in a terminal state")
)
