package cos

import "fmt"

// ErrUnbound is what a receiver observes for an item whose origin
// interpreter died before delivery under UnboundOp Error (spec.md §4.8).
// It wraps errors.Is-compatible sentinel semantics while still carrying
// the origin id for logging.
type ErrUnbound struct {
	Origin int64
}

func NewErrUnbound(origin int64) *ErrUnbound { return &ErrUnbound{Origin: origin} }

func (e *ErrUnbound) Error() string {
	return fmt.Sprintf("item unbound: origin interpreter %d no longer exists", e.Origin)
}

func (e *ErrUnbound) Is(target error) bool {
	_, ok := target.(*ErrUnbound)
	return ok
}
