package handler

import (
	"errors"

	"github.com/redealabama/outbound-queue/internal/worker/domain"
)

// OutcomeKind classifies how a job run ended.
type OutcomeKind int

const (
	KindSuccess OutcomeKind = iota
	KindRetryable
	KindPermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome is the result of executing a job.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

func Success() Outcome {
	return Outcome{Kind: KindSuccess}
}

func Retryable(reason string) Outcome {
	return Outcome{Kind: KindRetryable, Reason: reason}
}

func Permanent(reason string) Outcome {
	return Outcome{Kind: KindPermanent, Reason: reason}
}

// FromError maps an error to an outcome: nil is success, a ValidationError
// is permanent, anything else is retryable.
func FromError(err error) Outcome {
	if err == nil {
		return Success()
	}

	if reason, ok := domain.IsValidation(err); ok {
		return Permanent(reason)
	}

	var tErr *domain.TransientError
	if errors.As(err, &tErr) {
		return Retryable(tErr.Err.Error())
	}

	return Retryable(err.Error())
}
