package adapter

import (
	"context"
	"errors"
	"time"

	"nictopo/internal/domain"
)

// Kind groups adapters by the system they query
type Kind string

const (
	// KindHypervisor reads the hypervisor's configured view of the host
	KindHypervisor Kind = "hypervisor"
	// KindCLI runs live queries over a remote command session
	KindCLI Kind = "cli"
	// KindManagement queries the out-of-band management controller.
	// At most one management adapter runs per host, chosen by model.
	KindManagement Kind = "management"
)

// Source is one external system contributing observations about a host's
// ports. Collect never panics and never returns partially failed transport
// state: a transport failure yields a Result with no observations.
type Source interface {
	// Name returns the unique identifier for this adapter
	Name() string

	// Kind returns the system the adapter queries
	Kind() Kind

	// Cost orders adapters; cheaper sources start first
	Cost() int

	// Collect gathers observations for one host
	Collect(ctx context.Context, host domain.HostTarget, creds domain.Credentials) Result
}

// Result is the outcome of one adapter run for one host
type Result struct {
	Source       string
	Observations []domain.Observation
	Facts        map[domain.HostFact]string
	// Err is set when the adapter failed outright; Observations is then empty
	Err error
	// Skipped is set when the adapter did not apply (absent credentials,
	// no address); Reason says why
	Skipped bool
	Reason  string
	// Warnings are non-fatal problems: a failed sub-query, a dropped
	// malformed observation
	Warnings []string
	Elapsed  time.Duration
}

// NewResult creates an empty successful result
func NewResult(source string) Result {
	return Result{Source: source, Facts: make(map[domain.HostFact]string)}
}

// Failed creates a result for an adapter that contributes nothing
func Failed(source string, err error) Result {
	return Result{Source: source, Err: err}
}

// Skipped creates a result for an adapter that did not apply
func Skipped(source, reason string) Result {
	return Result{Source: source, Skipped: true, Reason: reason}
}

// Add appends non-empty observations
func (r *Result) Add(obs ...domain.Observation) {
	for _, o := range obs {
		if !o.Empty() {
			r.Observations = append(r.Observations, o)
		}
	}
}

// SetFact records a host fact; empty values are ignored
func (r *Result) SetFact(fact domain.HostFact, value string) {
	if value == "" {
		return
	}
	if r.Facts == nil {
		r.Facts = make(map[domain.HostFact]string)
	}
	r.Facts[fact] = value
}

// RecordFact records a host fact even when its value is empty, so a fact that
// was read but blank can be told apart from one that was never read
func (r *Result) RecordFact(fact domain.HostFact, value string) {
	if r.Facts == nil {
		r.Facts = make(map[domain.HostFact]string)
	}
	r.Facts[fact] = value
}

// Warn records a non-fatal problem
func (r *Result) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// State classifies the result
func (r Result) State() domain.AdapterState {
	switch {
	case r.Skipped:
		return domain.AdapterSkipped
	case r.Err != nil:
		return domain.AdapterFailed
	case len(r.Warnings) > 0:
		return domain.AdapterPartial
	}
	return domain.AdapterOK
}

// Status converts the result into its report form
func (r Result) Status() domain.AdapterStatus {
	status := domain.AdapterStatus{
		Source:       r.Source,
		State:        r.State(),
		Reason:       r.Reason,
		Observations: len(r.Observations),
		Warnings:     r.Warnings,
		Elapsed:      r.Elapsed,
	}
	if r.Err != nil {
		status.Reason = r.Err.Error()
	}
	return status
}

// Timeout reports whether the adapter failed by running out of time
func (r Result) Timeout() bool {
	return r.Err != nil && errors.Is(r.Err, context.DeadlineExceeded)
}
