package engine

import "errors"

var (
	// ErrAdapterUnavailable means no adapter is registered for the
	// requested system. Checked before any I/O.
	ErrAdapterUnavailable = errors.New("no adapter registered for external system")

	// ErrGatewayUnavailable means no entity gateway is registered for the
	// requested internal entity type
	ErrGatewayUnavailable = errors.New("no gateway registered for entity type")

	// ErrEntityNotFound means the external system reported the entity as
	// absent. No mapping state is mutated on this path.
	ErrEntityNotFound = errors.New("entity not found in external system")

	// ErrMappingNotFound means the requested mapping id does not exist
	ErrMappingNotFound = errors.New("mapping not found")

	// ErrInternalEntityNotFound means a mapping points at an internal
	// entity that no longer exists (a dangling mapping)
	ErrInternalEntityNotFound = errors.New("internal entity not found")

	// ErrGatewayNotFound is returned by EntityGateway implementations for
	// absent rows, so the engine can tell "missing" from "broken"
	ErrGatewayNotFound = errors.New("entity not found in internal store")
)
