package tree

import "errors"

var (
	// ErrCyclicMove is returned when a move would place a node inside its own
	// subtree. The store is left unchanged.
	ErrCyclicMove = errors.New("cannot move a node into its own subtree")
	// ErrInvalidPosition is returned for an unrecognized position, or a
	// position that has no meaning for the target (e.g. left of a root).
	ErrInvalidPosition = errors.New("invalid tree position")
	// ErrTargetNotFound is returned when the referenced target node does not exist.
	ErrTargetNotFound = errors.New("target node not found")
)
