package simpleimage

import (
	"sync"

	"go.uber.org/multierr"
)

// Report collects failures of independent items (uploads, presets, file
// reclamation) that do not abort the surrounding operation.
type Report struct {
	mu  sync.Mutex
	err error
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{}
}

// Add records err; nil is ignored.
func (r *Report) Add(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.err = multierr.Append(r.err, err)
	r.mu.Unlock()
}

// Merge appends every failure of other.
func (r *Report) Merge(other *Report) {
	if other == nil || other == r {
		return
	}
	r.Add(other.Err())
}

// Err returns the combined error, or nil when nothing failed.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Errors returns the individual failures.
func (r *Report) Errors() []error {
	return multierr.Errors(r.Err())
}

// OK reports whether no failure was recorded.
func (r *Report) OK() bool {
	return r.Err() == nil
}
