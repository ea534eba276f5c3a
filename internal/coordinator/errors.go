package coordinator

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrPersistence       = errors.New("persistence failed")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrDuplicateConn     = errors.New("connection already registered")
	ErrClosed            = errors.New("coordinator closed")
	ErrRoomFull          = errors.New("room is full")
)

// ErrorCode maps an error to the code carried by an error event
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownConnection):
		return "not_found"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	default:
		return "internal"
	}
}
