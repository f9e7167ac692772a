package nestedset

import "errors"

// Structural precondition errors. Every mutation returns one of these,
// unwrapped, when a caller attempts an operation the Nested Sets invariants
// forbid; adapter failures are wrapped separately with fmt.Errorf at each
// call site instead of being folded into this list.
var (
	ErrRootAlreadyExists         = errors.New("nestedset: root already exists")
	ErrAlreadyRoot               = errors.New("nestedset: node is already a root")
	ErrTreeRequired              = errors.New("nestedset: operation requires multi-tree mode")
	ErrCannotInsertBeforeRoot    = errors.New("nestedset: cannot insert before or after a root")
	ErrCannotMoveBeforeAfterRoot = errors.New("nestedset: cannot move before or after a root")
	ErrCannotMoveToItself        = errors.New("nestedset: cannot move a node to itself")
	ErrCannotMoveToDescendant    = errors.New("nestedset: cannot move a node into its own descendant")
	ErrCannotDeleteRoot          = errors.New("nestedset: cannot delete a root")
	ErrCannotDeleteNonEmptyRoot  = errors.New("nestedset: cannot delete a root that still has children")
	ErrTargetIsNew               = errors.New("nestedset: target is not persisted")
	ErrSchemaNotConfigured       = errors.New("nestedset: schema is not configured for nested sets")
)
