package service

import (
	"sort"
	"strconv"
	"strings"

	"nictopo/internal/domain"
)

// CalculateVectors derives the expected VF and trust vectors over the ports
// of one driver family, in ascending PCI order. A port contributes its
// configured VF count when its role is SR-IOV and 0 otherwise; the trust
// vector collapses every positive count to 1.
func CalculateVectors(ports []domain.PortRecord, family string) domain.Vectors {
	members := familyPorts(ports, family)

	vfs := make([]string, len(members))
	trust := make([]string, len(members))
	for i, p := range members {
		n := 0
		if p.Role == domain.RoleSRIOV {
			n = p.ConfiguredVFCount()
		}
		vfs[i] = strconv.Itoa(n)
		trust[i] = "0"
		if n > 0 {
			trust[i] = "1"
		}
	}

	return domain.Vectors{
		Family:              family,
		Calculated:          strings.Join(vfs, ","),
		CalculatedTrust:     strings.Join(trust, ","),
		FamilyDriverVersion: commonDriverVersion(members),
	}
}

func familyPorts(ports []domain.PortRecord, family string) []domain.PortRecord {
	var members []domain.PortRecord
	for _, p := range ports {
		if !p.Orphan && p.Driver == family {
			members = append(members, p)
		}
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].PCI.Less(members[j].PCI) })
	return members
}

// commonDriverVersion returns the version every member reports, or ""
func commonDriverVersion(members []domain.PortRecord) string {
	version := ""
	for _, p := range members {
		switch {
		case p.DriverVersion == "":
			continue
		case version == "":
			version = p.DriverVersion
		case version != p.DriverVersion:
			return ""
		}
	}
	return version
}
