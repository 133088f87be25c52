package protocol

const (
	// Frame/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoUnknown    = "E_PROTO_UNKNOWN_COMMAND"

	// Command layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrConflict      = "E_CONFLICT"
	ErrBusy          = "E_BUSY"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoUnknown:    {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrInvalidTarget:   {},
	ErrConflict:        {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
