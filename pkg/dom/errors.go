package dom

import "fmt"

// FailureReason classifies why a patch could not be applied. The retry
// stream feeds the reason back to the generator in a corrective
// continuation, so the values are stable wire-visible strings.
type FailureReason string

const (
	ReasonEmptySelector    FailureReason = "empty-selector"
	ReasonInvalidSelector  FailureReason = "invalid-selector"
	ReasonSelectorNotFound FailureReason = "selector-not-found"
	ReasonApplyFailure     FailureReason = "apply-failure"
)

// PatchError reports a structured patch application failure.
type PatchError struct {
	Selector string
	Reason   FailureReason
	Message  string
}

func (e *PatchError) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("patch failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("patch %q failed (%s): %s", e.Selector, e.Reason, e.Message)
}
