package heater

import "errors"

// Error kinds surfaced by the session. Everything the transport reports is
// converted to one of these before crossing the package boundary; callers
// classify with errors.Is.
var (
	// ErrConnection means the transport could not establish or keep a link
	// within the bounded timeout. Retrying Connect is reasonable.
	ErrConnection = errors.New("heater: connection failed")

	// ErrProtocol means the peripheral rejected a write or a handshake step.
	ErrProtocol = errors.New("heater: peripheral rejected operation")

	// ErrInvalidLevel rejects power levels outside {0, 33, 66, 100}.
	ErrInvalidLevel = errors.New("heater: level must be 0, 33, 66 or 100")

	// ErrCharacteristicNotFound means a UUID lookup found no match on the
	// connected peripheral.
	ErrCharacteristicNotFound = errors.New("heater: characteristic not found")

	// ErrSessionClosed is returned for operations submitted after Close.
	ErrSessionClosed = errors.New("heater: session closed")
)
