package sequence

import (
	"errors"
	"fmt"

	"github.com/neurocast-ai/platform/pkg/common/models"
)

var (
	errEmptySequence = errors.New("patient sequence has no visits")
	errDuplicateDate = errors.New("duplicate visit date")
	errUnorderedDate = errors.New("visit dates not strictly increasing")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// NewValidationError wraps a reason into a ValidationError so callers above
// this package can surface request problems through the same taxonomy.
func NewValidationError(reason error) error {
	return ValidationError{reason: reason}
}

// ValidateVisits rejects sequences the forecaster must never see: empty
// input, duplicate visit dates, or dates out of order. Gaps between visits
// are allowed and arbitrary.
func ValidateVisits(visits []models.Visit) error {
	if len(visits) == 0 {
		return ValidationError{reason: errEmptySequence}
	}
	for i := 1; i < len(visits); i++ {
		prev, cur := visits[i-1].VisitDate, visits[i].VisitDate
		if cur.Equal(prev) {
			return ValidationError{reason: fmt.Errorf("visit %s repeated: %w", cur.Format("2006-01-02"), errDuplicateDate)}
		}
		if cur.Before(prev) {
			return ValidationError{reason: fmt.Errorf("visit %s precedes %s: %w",
				cur.Format("2006-01-02"), prev.Format("2006-01-02"), errUnorderedDate)}
		}
	}
	return nil
}
