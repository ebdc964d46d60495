package service

import (
	"strconv"

	"nictopo/internal/domain"
)

// NUMATable maps PCI bus numbers to NUMA nodes. Node i holds the buses up
// to and including Thresholds[i]; the last node takes the rest.
type NUMATable struct {
	Thresholds []int
}

// Nodes returns how many nodes the table describes
func (t NUMATable) Nodes() int {
	return len(t.Thresholds) + 1
}

// Node returns the node for bus
func (t NUMATable) Node(bus uint8) int {
	for i, limit := range t.Thresholds {
		if int(bus) <= limit {
			return i
		}
	}
	return len(t.Thresholds)
}

// Supports reports whether the table covers a host with nodes NUMA nodes.
// An unknown count (0) is assumed to fit.
func (t NUMATable) Supports(nodes int) bool {
	return nodes <= t.Nodes()
}

// AssignNUMA returns a numa_node observation per addressed port. Hosts
// with more nodes than the table covers get no assignment.
func AssignNUMA(ports []domain.PortRecord, table NUMATable, hostNodes int) ([]domain.Observation, bool) {
	if !table.Supports(hostNodes) {
		return nil, false
	}

	var out []domain.Observation
	for _, p := range ports {
		if p.Orphan {
			continue
		}
		out = append(out, domain.NewObservation(DerivedSource, domain.ByPCI(p.PCI)).
			With(domain.FieldNUMANode, strconv.Itoa(table.Node(p.PCI.Bus))))
	}
	return out, true
}
