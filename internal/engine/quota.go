package engine

import "fmt"

// PassQuota caps the number of messages a single pass may emit.
//
// Candidates over the quota are dropped with ErrCodeQuotaExceeded in
// registry order, so the first definitions in the catalog win.
//
// A limit of 0 means unlimited. A PassQuota is used by one pass only.
type PassQuota struct {
	limit int
	used  int
}

// NewPassQuota creates a quota for one pass.
func NewPassQuota(limit int) *PassQuota {
	return &PassQuota{limit: limit}
}

// Take claims one emission. Returns an error once the limit is reached.
func (q *PassQuota) Take() error {
	if q.limit > 0 && q.used >= q.limit {
		return fmt.Errorf("pass emitted %d messages, limit is %d", q.used, q.limit)
	}
	q.used++
	return nil
}

// Used returns the number of emissions claimed.
func (q *PassQuota) Used() int {
	return q.used
}
