// Package domain defines the core types of the nictopo reconciliation engine.
//
// The package holds the per-port record model that every source adapter,
// registry pass and consistency rule works against. It has no dependencies
// beyond the PCI address codec.
//
// # Core Types
//
// PortRecord is one physical network port of a host, keyed by its PCI
// address. Its attributes are filled in piecemeal by observations from
// several independent sources.
//
// Observation is one source's partial view of one port: a match key (PCI
// address, MAC, slot id or interface name) and a sparse set of field values.
// A field that an observation does not carry is Absent, which is distinct
// from a field carried with an empty value.
//
// # Reports
//
// HostReport is the outcome of one host's reconciliation run: the ordered
// port records, host-level facts, the calculated and observed VF vectors,
// per-adapter status and the anomaly list produced by the consistency rules.
//
// AnomalyRecord is a policy violation. It is always data, never an error.
//
// # Errors
//
// The error taxonomy (ErrFormat, ErrTransport, ErrCredentialsAbsent,
// ErrUnsupportedModel) is shared by adapters and the engine so that callers
// classify failures with errors.Is rather than by message.
package domain
