package service

import (
	"regexp"
	"strconv"

	"nictopo/internal/domain"
)

// DerivedSource tags observations produced by the post-processing passes
const DerivedSource = "derived"

var interfaceNumber = regexp.MustCompile(`^(.*?)(\d+)$`)

// ResolveSiblings names passthrough ports that no source named, using a
// named function on the same bus and device. The target's number is the
// sibling's number minus the function drift between them. Ports with no
// named sibling stay unnamed.
func ResolveSiblings(ports []domain.PortRecord) []domain.Observation {
	var out []domain.Observation

	for _, target := range ports {
		if target.Orphan || target.Role != domain.RolePassthrough || target.Name != "" {
			continue
		}

		for _, sibling := range ports {
			if sibling.Orphan || sibling.Name == "" || sibling.PCI == target.PCI || !sibling.PCI.SameDevice(target.PCI) {
				continue
			}
			name, ok := siblingName(sibling, target)
			if !ok {
				continue
			}
			out = append(out, domain.NewObservation(DerivedSource, domain.ByPCI(target.PCI)).
				With(domain.FieldName, name))
			break
		}
	}
	return out
}

func siblingName(sibling, target domain.PortRecord) (string, bool) {
	m := interfaceNumber.FindStringSubmatch(sibling.Name)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", false
	}

	// drift = target fn - sibling fn, so a higher function gets a lower
	// number: vmnic3 at fn0 names fn1 vmnic2
	drift := int(target.PCI.Function) - int(sibling.PCI.Function)
	if n-drift < 0 {
		return "", false
	}
	return m[1] + strconv.Itoa(n-drift), true
}
