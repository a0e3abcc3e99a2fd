package graph

import "errors"

// Sentinel errors for graph operations. Callers match them with errors.Is;
// the returned errors wrap them with the offending ids.
var (
	// ErrValidation is returned when an edit would leave the graph malformed:
	// duplicate ids, dangling segment endpoints, bad coordinates or weights.
	ErrValidation = errors.New("graph validation failed")

	// ErrUnknownNode is returned when a caller names a node id that is not in
	// the graph. It signals bad input, never an unreachable destination.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNotFound is returned when removing a segment or POI that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrFrozen is returned when editing a graph that has been published.
	ErrFrozen = errors.New("graph is frozen and cannot be modified")
)
