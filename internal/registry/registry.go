// Package registry implements the per-host port registry.
//
// The registry owns the only mutable state of a host's reconciliation run:
// one PortRecord per PCI address, built up by merging observations from
// independent sources. Merge is field-level last-writer-wins and never
// erases a field an observation does not carry.
//
// Observations keyed by MAC, slot id or interface name are resolved through
// secondary indexes built from records already merged. Those that match
// nothing are deferred and retried exactly once by RetryDeferred; after that
// pass, unmatched name or MAC observations become orphan records and
// unmatched slot observations are dropped.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"nictopo/internal/domain"
	"nictopo/internal/pci"
)

// Outcome says what Merge did with an observation
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeMerged   Outcome = "merged"
	OutcomeDeferred Outcome = "deferred"
	OutcomeOrphaned Outcome = "orphaned"
	OutcomeDropped  Outcome = "dropped"
	OutcomeNoop     Outcome = "noop"
)

// RetryResult summarizes the single retry pass
type RetryResult struct {
	Merged   int
	Orphaned int
	Dropped  int
}

// Registry is a mutex-protected map of port records for one host
type Registry struct {
	mu sync.Mutex

	records map[pci.Address]*domain.PortRecord
	orphans map[string]*domain.PortRecord

	byMAC  map[string]pci.Address
	bySlot map[string]pci.Address
	byName map[string]pci.Address

	deferred []domain.Observation
	retried  bool

	conflicts int
	rejected  []error
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		records: make(map[pci.Address]*domain.PortRecord),
		orphans: make(map[string]*domain.PortRecord),
		byMAC:   make(map[string]pci.Address),
		bySlot:  make(map[string]pci.Address),
		byName:  make(map[string]pci.Address),
	}
}

// Merge applies one observation
func (r *Registry) Merge(obs domain.Observation) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.merge(obs, !r.retried)
}

// MergeAll applies observations in order and returns how many were deferred
func (r *Registry) MergeAll(observations []domain.Observation) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	deferred := 0
	for _, obs := range observations {
		if r.merge(obs, !r.retried) == OutcomeDeferred {
			deferred++
		}
	}
	return deferred
}

// RetryDeferred runs the one bounded retry pass over deferred observations.
// Calling it again is a no-op.
func (r *Registry) RetryDeferred() RetryResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result RetryResult
	if r.retried {
		return result
	}
	r.retried = true

	pending := r.deferred
	r.deferred = nil
	for _, obs := range pending {
		switch r.merge(obs, false) {
		case OutcomeCreated, OutcomeMerged:
			result.Merged++
		case OutcomeOrphaned:
			result.Orphaned++
		case OutcomeDropped:
			result.Dropped++
		}
	}
	return result
}

// Snapshot returns copies of all records: addressed records in ascending
// PCI ordering key, then orphans by key
func (r *Registry) Snapshot() []domain.PortRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	addrs := make([]pci.Address, 0, len(r.records))
	for addr := range r.records {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	orphanKeys := make([]string, 0, len(r.orphans))
	for k := range r.orphans {
		orphanKeys = append(orphanKeys, k)
	}
	sort.Strings(orphanKeys)

	out := make([]domain.PortRecord, 0, len(addrs)+len(orphanKeys))
	for _, addr := range addrs {
		out = append(out, r.records[addr].Clone())
	}
	for _, k := range orphanKeys {
		out = append(out, r.orphans[k].Clone())
	}
	return out
}

// Get returns a copy of the record at addr
func (r *Registry) Get(addr pci.Address) (domain.PortRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[addr]
	if !ok {
		return domain.PortRecord{}, false
	}
	return rec.Clone(), true
}

// Len returns the number of records including orphans
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records) + len(r.orphans)
}

// Pending returns the number of deferred observations awaiting the retry pass
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deferred)
}

// Conflicts counts fields overwritten with a different value by a different source
func (r *Registry) Conflicts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conflicts
}

// Rejected returns the field values that failed to parse
func (r *Registry) Rejected() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.rejected...)
}

func (r *Registry) merge(obs domain.Observation, allowDefer bool) Outcome {
	if obs.Empty() {
		return OutcomeNoop
	}

	addr, ok := r.resolve(obs)
	if !ok {
		if orphan, exists := r.orphans[obs.Key.String()]; exists {
			r.apply(orphan, obs)
			return OutcomeMerged
		}
		if allowDefer {
			r.deferred = append(r.deferred, obs)
			return OutcomeDeferred
		}
		return r.orphanOrDrop(obs)
	}

	outcome := OutcomeMerged
	rec, exists := r.records[addr]
	if !exists {
		rec = domain.NewPortRecord(addr)
		r.records[addr] = rec
		outcome = OutcomeCreated
	}

	r.apply(rec, obs)
	r.absorbOrphans(rec)
	r.index(addr, rec)
	return outcome
}

// resolve finds the address an observation refers to
func (r *Registry) resolve(obs domain.Observation) (pci.Address, bool) {
	if obs.Key.Kind == domain.KeyPCI {
		return obs.Key.PCI, true
	}

	if v := obs.Get(domain.FieldPCI); v.Present {
		addr, err := pci.Parse(v.Text)
		if err == nil {
			return addr, true
		}
		r.rejected = append(r.rejected, fmt.Errorf("%s %s: %w", obs.Source, obs.Key, err))
	}

	var index map[string]pci.Address
	key := obs.Key.Value
	switch obs.Key.Kind {
	case domain.KeyMAC:
		index = r.byMAC
		key = domain.NormalizeMAC(key)
	case domain.KeySlot:
		index = r.bySlot
	case domain.KeyName:
		index = r.byName
	default:
		return pci.Address{}, false
	}

	if key == "" {
		return pci.Address{}, false
	}
	addr, ok := index[key]
	return addr, ok
}

func (r *Registry) orphanOrDrop(obs domain.Observation) Outcome {
	switch obs.Key.Kind {
	case domain.KeyName, domain.KeyMAC:
		if obs.Key.Value == "" {
			return OutcomeDropped
		}
		orphan := domain.NewOrphanRecord(obs.Key.String())
		r.apply(orphan, obs)
		r.orphans[orphan.OrphanKey] = orphan
		return OutcomeOrphaned
	}
	return OutcomeDropped
}

// apply writes every present field; absent fields are never touched
func (r *Registry) apply(rec *domain.PortRecord, obs domain.Observation) {
	for field, v := range obs.Fields {
		if !v.Present || field == domain.FieldPCI {
			continue
		}

		old, had := rec.Get(field)
		prevSource := rec.Sources[field]
		if err := rec.Set(field, v.Text); err != nil {
			r.rejected = append(r.rejected, fmt.Errorf("%s %s: %w", obs.Source, obs.Key, err))
			continue
		}

		if now, _ := rec.Get(field); had && now != old && prevSource != obs.Source {
			r.conflicts++
		}
		rec.Sources[field] = obs.Source
	}
}

// absorbOrphans folds orphans matching rec's name or MAC into rec. Fields
// the addressed record already holds win.
func (r *Registry) absorbOrphans(rec *domain.PortRecord) {
	if len(r.orphans) == 0 {
		return
	}

	keys := []string{}
	if rec.Name != "" {
		keys = append(keys, domain.ByName(rec.Name).String())
	}
	if rec.MAC != "" {
		keys = append(keys, domain.ByMAC(rec.MAC).String())
	}

	for _, k := range keys {
		orphan, ok := r.orphans[k]
		if !ok {
			continue
		}
		for _, field := range domain.PortFields {
			if _, has := rec.Get(field); has {
				continue
			}
			if text, ok := orphan.Get(field); ok {
				if err := rec.Set(field, text); err == nil {
					rec.Sources[field] = orphan.Sources[field]
				}
			}
		}
		delete(r.orphans, k)
	}
}

func (r *Registry) index(addr pci.Address, rec *domain.PortRecord) {
	if rec.MAC != "" {
		r.byMAC[rec.MAC] = addr
	}
	if rec.NICSlot != "" {
		r.bySlot[rec.NICSlot] = addr
	}
	if rec.PortSlot != "" {
		r.bySlot[rec.PortSlot] = addr
	}
	if rec.Name != "" {
		r.byName[rec.Name] = addr
	}
}
