package domain

import "fmt"

type ApplicationStatus string

const (
	StatusDraft             ApplicationStatus = "draft"
	StatusDocumentsUploaded ApplicationStatus = "documents_uploaded"
	StatusAnalyzing         ApplicationStatus = "analyzing"
	StatusGenerating        ApplicationStatus = "generating"
	StatusCompleted         ApplicationStatus = "completed"
	StatusFailed            ApplicationStatus = "failed"
)

// allowedTransitions is the full application lifecycle. Analysis failure and
// an analysis that completes with mandatory gaps both revert to
// documents_uploaded so the applicant can retry. failed -> documents_uploaded
// is reserved for the explicit operator reset.
var allowedTransitions = map[ApplicationStatus][]ApplicationStatus{
	StatusDraft:             {StatusDocumentsUploaded},
	StatusDocumentsUploaded: {StatusAnalyzing},
	StatusAnalyzing:         {StatusGenerating, StatusDocumentsUploaded},
	StatusGenerating:        {StatusCompleted, StatusFailed},
	StatusFailed:            {StatusDocumentsUploaded},
}

func (s ApplicationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s ApplicationStatus) CanTransitionTo(next ApplicationStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates the move and returns the next status, or an
// ErrStateTransition-kinded error naming both states.
func (s ApplicationStatus) Transition(next ApplicationStatus) (ApplicationStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, WrapError(ErrStateTransition, "transition application status",
			fmt.Errorf("%s -> %s", s, next))
	}
	return next, nil
}
