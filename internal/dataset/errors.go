package dataset

import "fmt"

// DatasetFormatError reports a persisted trajectory record that cannot be
// turned into a Trajectory. Index is -1 when the failure is not tied to one record.
type DatasetFormatError struct {
	Index  int
	Field  string
	Reason string
	Err    error
}

func (e *DatasetFormatError) Error() string {
	msg := "dataset format"
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s: trajectory %d", msg, e.Index)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: field %s", msg, e.Field)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DatasetFormatError) Unwrap() error {
	return e.Err
}

func formatError(index int, field, reason string) error {
	return &DatasetFormatError{Index: index, Field: field, Reason: reason}
}
