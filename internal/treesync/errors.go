package treesync

import (
	"fmt"
)

// PartialActionError reports a dispatch round that failed after some actions
// already took effect. Completed lists the actions that succeeded; the
// document reflects them but the baseline does not, so the next session
// re-plans only what is still missing.
type PartialActionError struct {
	Completed []Action
	Err       error
}

func (e *PartialActionError) Error() string {
	return fmt.Sprintf("push incomplete after %d applied actions: %v", len(e.Completed), e.Err)
}

func (e *PartialActionError) Unwrap() error {
	return e.Err
}
