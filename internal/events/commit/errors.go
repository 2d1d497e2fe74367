package commit

import "fmt"

// RoundError is a follow-up round that failed after the first round already
// committed. Rows counts what the earlier rounds wrote; the failed round wrote
// nothing and its events were not recorded.
type RoundError struct {
	Rows  int64
	Round int
	Err   error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("commit round %d failed after %d committed rows: %v", e.Round, e.Rows, e.Err)
}

func (e *RoundError) Unwrap() error { return e.Err }

// Committed reports that the outermost write is durable.
func (e *RoundError) Committed() bool { return true }
