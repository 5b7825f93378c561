// Package errclass maps transport failures onto the three ways the client
// can react to them: give up, try again later, or hand control to the user.
// It is the only place that policy lives; the polling engine, the
// confirmation flow and the CLI all ask Classify.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/tonimelisma/coach-go/internal/coachapi"
)

// Class is the reaction a failure calls for.
type Class int

// Failure classes.
const (
	// Terminal failures will not resolve by retrying (auth, missing resource).
	Terminal Class = iota
	// Retryable failures are transient (throttling, 5xx, network).
	Retryable
	// UserAction failures need input from the athlete before progress.
	UserAction
)

func (c Class) String() string {
	switch c {
	case Terminal:
		return "TERMINAL"
	case Retryable:
		return "RETRYABLE"
	case UserAction:
		return "USER_ACTION"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Classification is the result of classifying one error.
type Classification struct {
	Class  Class
	Detail string
	Status int // HTTP status, 0 when none
}

// Classify decides how callers should react to err. A nil error is
// reported as Retryable with an empty detail so that callers never need a
// separate nil branch; they should not classify nil in the first place.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Class: Retryable}
	}

	if errors.Is(err, context.Canceled) {
		return Classification{Class: Terminal, Detail: "canceled"}
	}

	var apiErr *coachapi.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Class: Retryable, Detail: "deadline exceeded"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Class: Retryable, Detail: netErr.Error()}
	}

	return Classification{Class: Terminal, Detail: err.Error()}
}

func classifyAPIError(e *coachapi.APIError) Classification {
	c := Classification{Status: e.StatusCode, Detail: e.Message}

	switch {
	case errors.Is(e, coachapi.ErrUserAction):
		c.Class = UserAction
	case e.StatusCode == 0:
		c.Class = Retryable
	case coachapi.IsRetryableStatus(e.StatusCode):
		c.Class = Retryable
	default:
		// 401/403/404 and every other 4xx: the same request will keep failing.
		c.Class = Terminal
	}

	return c
}

// IsTerminal reports whether err should stop any automatic retry.
func IsTerminal(err error) bool {
	return err != nil && Classify(err).Class == Terminal
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return err != nil && Classify(err).Class == Retryable
}

// NeedsUser reports whether err requires the athlete to act.
func NeedsUser(err error) bool {
	return err != nil && Classify(err).Class == UserAction
}
