package graphstore

import "fmt"

// EntityNotFoundError indicates a mutation referenced an entity with no
// current version. Inside a batch operation this is logged and the
// affected item is skipped; it is not raised across the whole batch's
// transaction.
type EntityNotFoundError struct {
	Name string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("graphstore: entity %q has no current version", e.Name)
}

// EntityNotCurrentError is raised (not warned) by UpdateRelation when an
// endpoint is not the currently-valid version.
type EntityNotCurrentError struct {
	Name string
}

func (e *EntityNotCurrentError) Error() string {
	return fmt.Sprintf("graphstore: entity %q is not current", e.Name)
}

// InvariantViolationError indicates a bug in the store: a check the code
// relies on (e.g. "current uniqueness") was found violated. It is always
// raised and is fatal to the enclosing transaction.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("graphstore: invariant violation (%s): %s", e.Invariant, e.Detail)
}
