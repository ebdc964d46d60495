// Package adapter implements the sources that observe a host's network ports.
//
// Each adapter queries one external system and turns its answers into
// field-level observations for the port registry. Adapters are independent:
// any of them may fail, time out or be skipped without affecting the others.
//
// # Adapters
//
// HypervisorAdapter reads the hypervisor's configuration from the inventory:
// physical NICs, virtual switch uplinks and the PCI passthrough table.
//
// CLIAdapter opens a remote command session and runs a table of independent
// queries: SR-IOV module parameters, the PCI listing, per-NIC driver and
// firmware versions, the management agent package and, optionally, physical
// switch neighbor hints.
//
// RedfishAdapter walks the management controller's REST resource graph for
// port MAC addresses, slot identifiers and firmware inventory.
//
// LegacyAdapter obtains the same data from older controllers through a
// session-token login and a single remote inventory command.
//
// # Adapter Registry
//
// Registry holds the adapters, chooses the management adapter for a host by
// its hardware model and runs the selected adapters concurrently, each under
// its own deadline, delivering results in completion order.
package adapter
