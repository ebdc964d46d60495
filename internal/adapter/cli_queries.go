package adapter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"nictopo/internal/domain"
	"nictopo/internal/pci"
)

// CLIQuery is one independent sub-query of the CLI adapter. A failing query
// is recorded as a warning and the remaining queries still run.
type CLIQuery struct {
	Name string
	Run  func(ctx context.Context, s *cliSession) error
	// Optional queries only run when switch annotation is enabled
	Optional bool
}

// DefaultCLIQueries are the standard queries, in run order. The name
// queries come before the version query, which needs interface names.
var DefaultCLIQueries = []CLIQuery{
	{Name: "module_parameters", Run: queryModuleParameters},
	{Name: "nic_list", Run: queryNICList},
	{Name: "pci_listing", Run: queryPCIListing},
	{Name: "nic_versions", Run: queryNICVersions},
	{Name: "management_agent", Run: queryManagementAgent},
	{Name: "switch_hints", Run: querySwitchHints, Optional: true},
}

const (
	paramMaxVFs = "max_vfs"
	paramTrust  = "trust_all_vfs"
	agentVIB    = "ism"
)

func queryModuleParameters(ctx context.Context, s *cliSession) error {
	out, err := s.run(ctx, "esxcli system module parameters list -m "+s.cfg.DriverModule)
	if err != nil {
		return err
	}

	vector, err := parseModuleVector(out, paramMaxVFs)
	switch {
	case err == nil:
		s.result.SetFact(domain.FactObservedVFVector, vector)
	case moduleParamListed(out, paramMaxVFs):
		// Listed without a value: the driver provisions no VFs
		s.result.RecordFact(domain.FactObservedVFVector, "")
	default:
		return err
	}

	// Only some driver versions expose the trust parameter
	if trust, err := parseModuleVector(out, paramTrust); err == nil {
		s.result.SetFact(domain.FactObservedTrustVector, trust)
	}
	return nil
}

func queryNICList(ctx context.Context, s *cliSession) error {
	out, err := s.run(ctx, "esxcli network nic list")
	if err != nil {
		return err
	}

	entries, errs := parseNICList(out)
	for _, e := range errs {
		s.result.Warn(fmt.Sprintf("nic_list: %v", e))
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no NICs listed", domain.ErrFormat)
	}

	for _, e := range entries {
		s.learn(e.Name, e.PCI, e.Driver)
		s.result.Add(domain.NewObservation(CLIName, domain.ByPCI(e.PCI)).
			With(domain.FieldName, e.Name).
			Set(domain.FieldDriver, domain.NonEmpty(e.Driver)).
			Set(domain.FieldMAC, domain.NonEmpty(e.MAC)))
	}
	return nil
}

func queryPCIListing(ctx context.Context, s *cliSession) error {
	out, err := s.run(ctx, "lspci | grep vmnic")
	if err != nil {
		return err
	}

	names, errs := parsePCIListing(out)
	for _, e := range errs {
		s.result.Warn(fmt.Sprintf("pci_listing: %v", e))
	}

	for addr, name := range names {
		if _, known := s.ports[name]; !known {
			s.learn(name, addr, "")
		}
		s.result.Add(domain.NewObservation(CLIName, domain.ByPCI(addr)).
			With(domain.FieldName, name))
	}
	return nil
}

func queryNICVersions(ctx context.Context, s *cliSession) error {
	names := s.portNames()
	if len(names) == 0 {
		return fmt.Errorf("no interface names known")
	}

	for _, name := range names {
		// Ports whose driver is unknown are queried too
		if driver, ok := s.drivers[name]; ok && driver != s.cfg.DriverModule {
			continue
		}

		out, err := s.run(ctx, "esxcli network nic get -n "+name)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.result.Warn(fmt.Sprintf("nic_versions %s: %v", name, err))
			continue
		}

		info, err := parseNICGet(out)
		if err != nil {
			s.result.Warn(fmt.Sprintf("nic_versions %s: %v", name, err))
			continue
		}
		s.result.Add(domain.NewObservation(CLIName, domain.ByPCI(s.ports[name])).
			Set(domain.FieldDriver, domain.NonEmpty(info.Driver)).
			Set(domain.FieldDriverVersion, domain.NonEmpty(info.DriverVersion)).
			Set(domain.FieldFirmwareVersion, domain.NonEmpty(info.FirmwareVersion)))
	}
	return nil
}

func queryManagementAgent(ctx context.Context, s *cliSession) error {
	out, err := s.run(ctx, "esxcli software vib list")
	if err != nil {
		return err
	}

	// An absent agent is not a query failure; the rules flag it
	if version, ok := parseVIBVersion(out, agentVIB); ok {
		s.result.SetFact(domain.FactISMVersion, version)
	}
	return nil
}

func querySwitchHints(ctx context.Context, s *cliSession) error {
	out, err := s.run(ctx, "vim-cmd hostsvc/net/query_networkhint")
	if err != nil {
		return err
	}

	for _, hint := range parseNetworkHints(out) {
		key := domain.ByName(hint.Device)
		if addr, ok := s.ports[hint.Device]; ok {
			key = domain.ByPCI(addr)
		}
		s.result.Add(domain.NewObservation(CLIName, key).
			Set(domain.FieldSwitchName, domain.NonEmpty(hint.SwitchName)).
			Set(domain.FieldSwitchPort, domain.NonEmpty(hint.SwitchPort)).
			Set(domain.FieldSwitchVLANs, domain.NonEmpty(strings.Join(hint.VLANs, ","))))
	}
	return nil
}

// parseModuleVector extracts the comma-separated value of an array module
// parameter from the module parameter table:
//
//	Name      Type          Value    Description
//	max_vfs   array of int  8,0,0,4  Maximum number of VFs to be instantiated
func parseModuleVector(output, param string) (string, error) {
	re := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(param) +
		`\s+(?:array of \w+|\w+)\s+([0-9]+(?:,[0-9]+)*)(?:\s|$)`)
	m := re.FindStringSubmatch(output)
	if m == nil {
		return "", fmt.Errorf("%w: parameter %s has no value", domain.ErrFormat, param)
	}
	return m[1], nil
}

// moduleParamListed reports whether param has a row in the parameter table,
// with or without a value
func moduleParamListed(output, param string) bool {
	re := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(param) + `(?:\s|$)`)
	return re.MatchString(output)
}

type nicListEntry struct {
	Name   string
	PCI    pci.Address
	Driver string
	MAC    string
}

// parseNICList parses the NIC table. Columns are Name, PCI Device, Driver,
// Admin Status, Link Status, Speed, Duplex, MAC Address, MTU, Description.
// Malformed rows are reported and skipped.
func parseNICList(output string) ([]nicListEntry, []error) {
	var entries []nicListEntry
	var errs []error

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] == "Name" || strings.HasPrefix(fields[0], "---") {
			continue
		}
		if len(fields) < 8 {
			errs = append(errs, fmt.Errorf("%w: short NIC row %q", domain.ErrFormat, line))
			continue
		}

		addr, err := pci.Parse(fields[1])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, nicListEntry{
			Name:   fields[0],
			PCI:    addr,
			Driver: fields[2],
			MAC:    fields[7],
		})
	}
	return entries, errs
}

// parsePCIListing maps addresses to interface names from listing lines such
// as "0000:18:00.0 Network controller: Intel(R) X710 [vmnic0]"
func parsePCIListing(output string) (map[pci.Address]string, []error) {
	names := make(map[pci.Address]string)
	var errs []error

	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		addr, name, err := pci.ParseListing(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if name != "" {
			names[addr] = name
		}
	}
	return names, errs
}

type nicInfo struct {
	Driver          string
	DriverVersion   string
	FirmwareVersion string
}

var (
	nicDriverPattern  = regexp.MustCompile(`(?m)^\s+Driver: (\S+)`)
	nicVersionPattern = regexp.MustCompile(`(?m)^\s+Version: ([0-9.]+)`)
	nicFirmwareLine   = regexp.MustCompile(`(?m)^\s+Firmware Version: (.*)$`)
	versionToken      = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)
)

// parseNICGet extracts driver information from the per-NIC detail output:
//
//	Driver Info:
//	      Driver: i40en
//	      Firmware Version: 6.01 0x800034a4 18.8.9
//	      Version: 1.10.6
//
// The firmware version is the last numeric token after the hex track id.
func parseNICGet(output string) (nicInfo, error) {
	var info nicInfo

	if m := nicDriverPattern.FindStringSubmatch(output); m != nil {
		info.Driver = m[1]
	}
	if m := nicVersionPattern.FindStringSubmatch(output); m != nil {
		info.DriverVersion = m[1]
	}
	if m := nicFirmwareLine.FindStringSubmatch(output); m != nil {
		seenHex := false
		for _, tok := range strings.Fields(m[1]) {
			if strings.HasPrefix(strings.ToLower(tok), "0x") {
				seenHex = true
				continue
			}
			if seenHex && versionToken.MatchString(tok) {
				info.FirmwareVersion = tok
			}
		}
	}

	if info.DriverVersion == "" && info.FirmwareVersion == "" {
		return info, fmt.Errorf("%w: no driver or firmware version", domain.ErrFormat)
	}
	return info, nil
}

// parseVIBVersion returns the version column of the first installed package
// whose name contains match
func parseVIBVersion(output, match string) (string, bool) {
	match = strings.ToLower(match)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] == "Name" || strings.HasPrefix(fields[0], "---") {
			continue
		}
		if strings.Contains(strings.ToLower(fields[0]), match) {
			return fields[1], true
		}
	}
	return "", false
}

type switchHint struct {
	Device     string
	SwitchName string
	SwitchPort string
	VLANs      []string
}

var (
	hintDevice  = regexp.MustCompile(`device = "([^"]*)"`)
	hintDevID   = regexp.MustCompile(`devId = "([^"]*)"`)
	hintChassis = regexp.MustCompile(`chassisId = "([^"]*)"`)
	hintPortID  = regexp.MustCompile(`portId = "([^"]*)"`)
	hintVLAN    = regexp.MustCompile(`vlanId = (\d+)`)
)

// parseNetworkHints splits the network hint dump into per-device blocks and
// extracts the neighbor switch and observed VLANs. CDP device ids are
// preferred over LLDP chassis ids.
func parseNetworkHints(output string) []switchHint {
	var hints []switchHint

	locs := hintDevice.FindAllStringSubmatchIndex(output, -1)
	for i, loc := range locs {
		end := len(output)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		block := output[loc[0]:end]

		hint := switchHint{Device: output[loc[2]:loc[3]]}
		if m := hintDevID.FindStringSubmatch(block); m != nil {
			hint.SwitchName = m[1]
		} else if m := hintChassis.FindStringSubmatch(block); m != nil {
			hint.SwitchName = m[1]
		}
		if m := hintPortID.FindStringSubmatch(block); m != nil {
			hint.SwitchPort = m[1]
		}

		seen := make(map[string]bool)
		for _, m := range hintVLAN.FindAllStringSubmatch(block, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				hint.VLANs = append(hint.VLANs, m[1])
			}
		}

		if hint.SwitchName != "" || hint.SwitchPort != "" || len(hint.VLANs) > 0 {
			hints = append(hints, hint)
		}
	}
	return hints
}
