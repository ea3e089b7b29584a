package analytics

import (
	"fmt"
	"strings"
)

// MissingFieldError indicates that no record in a raw batch carried any of
// the recognized date fields. This is a batch-level failure: there is no
// meaningful per-row fallback, so normalization produces no output.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("no date field found in activity batch: expected one of %s",
		strings.Join(e.Fields, ", "))
}

// InvalidPeriodError indicates an aggregation call with an unrecognized
// granularity. This is a caller bug, not a data problem.
type InvalidPeriodError struct {
	Period string
	Valid  []string
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid period %q: must be one of %s",
		e.Period, strings.Join(e.Valid, ", "))
}
