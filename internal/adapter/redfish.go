package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"nictopo/internal/domain"
	"nictopo/internal/pci"
)

// RedfishName is the source tag of the REST management adapter
const RedfishName = "redfish"

// RedfishAdapter walks a management controller's REST resource graph
type RedfishAdapter struct {
	cfg        ManagementConfig
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// NewRedfishAdapter creates a REST management adapter
func NewRedfishAdapter(cfg ManagementConfig, logger logrus.FieldLogger) *RedfishAdapter {
	return &RedfishAdapter{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg),
		logger:     logger.WithField("adapter", RedfishName),
	}
}

// Name returns the adapter identifier
func (r *RedfishAdapter) Name() string {
	return RedfishName
}

// Kind returns the adapter kind
func (r *RedfishAdapter) Kind() Kind {
	return KindManagement
}

// Cost returns the adapter cost; a full walk is dozens of requests
func (r *RedfishAdapter) Cost() int {
	return 40
}

// Collect implements Source
func (r *RedfishAdapter) Collect(ctx context.Context, host domain.HostTarget, creds domain.Credentials) Result {
	if res := managementPreconditions(ctx, RedfishName, host, creds, r.cfg.Prober); res != nil {
		return *res
	}

	result := NewResult(RedfishName)
	w := &redfishWalk{
		client: newManagementClient(host.ManagementAddress, creds.Management, r.httpClient, r.cfg),
		result: &result,
		log:    r.logger.WithField("host", host.Name),
	}

	if err := w.run(ctx); err != nil {
		return Failed(RedfishName, domain.NewTransportError(RedfishName, "walk", err))
	}
	return result
}

// Redfish resource shapes, reduced to the members read here

type odataLink struct {
	ID string `json:"@odata.id"`
}

type redfishCollection struct {
	Members []odataLink `json:"Members"`
}

type redfishSystem struct {
	ID                string      `json:"Id"`
	PCIeFunctions     []odataLink `json:"PCIeFunctions"`
	NetworkInterfaces odataLink   `json:"NetworkInterfaces"`
}

type redfishPCIeFunction struct {
	ID          string `json:"Id"`
	DeviceClass string `json:"DeviceClass"`
	Links       struct {
		EthernetInterfaces []odataLink `json:"EthernetInterfaces"`
	} `json:"Links"`
}

type redfishNetworkInterface struct {
	ID           string    `json:"Id"`
	NetworkPorts odataLink `json:"NetworkPorts"`
	Links        struct {
		NetworkAdapter odataLink `json:"NetworkAdapter"`
	} `json:"Links"`
}

type redfishNetworkAdapter struct {
	ID           string    `json:"Id"`
	NetworkPorts odataLink `json:"NetworkPorts"`
}

type redfishNetworkPort struct {
	ID                         string   `json:"Id"`
	AssociatedNetworkAddresses []string `json:"AssociatedNetworkAddresses"`
}

type redfishFirmware struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	Version string `json:"Version"`
}

// redfishFunction is a network function with its controller slot id
type redfishFunction struct {
	addr pci.Address
	slot string
}

type redfishWalk struct {
	client *managementClient
	result *Result
	log    logrus.FieldLogger
}

// run walks systems, functions, ports and firmware. Transport errors abort
// the walk; malformed resources are skipped with a warning.
func (w *redfishWalk) run(ctx context.Context) error {
	system, err := w.system(ctx)
	if err != nil {
		return err
	}

	functions, err := w.functions(ctx, system)
	if err != nil {
		return err
	}

	ports, err := w.ports(ctx, system)
	if err != nil {
		return err
	}
	w.emit(functions, ports)

	return w.firmware(ctx)
}

func (w *redfishWalk) system(ctx context.Context) (*redfishSystem, error) {
	var systems redfishCollection
	if err := w.client.getJSON(ctx, "/redfish/v1/Systems", &systems); err != nil {
		return nil, err
	}
	if len(systems.Members) == 0 {
		return nil, fmt.Errorf("%w: no systems", domain.ErrFormat)
	}

	var system redfishSystem
	if err := w.client.getJSON(ctx, systems.Members[0].ID, &system); err != nil {
		return nil, err
	}
	return &system, nil
}

func (w *redfishWalk) functions(ctx context.Context, system *redfishSystem) ([]redfishFunction, error) {
	var functions []redfishFunction
	for _, link := range system.PCIeFunctions {
		var fn redfishPCIeFunction
		if err := w.client.getJSON(ctx, link.ID, &fn); err != nil {
			if w.skippable(err) {
				continue
			}
			return nil, err
		}
		if fn.DeviceClass != "NetworkController" {
			continue
		}

		addr, err := pci.Parse(fn.ID)
		if err != nil {
			w.result.Warn(fmt.Sprintf("pcie function %s: %v", link.ID, err))
			continue
		}

		var slot string
		if len(fn.Links.EthernetInterfaces) > 0 {
			slot = path.Base(fn.Links.EthernetInterfaces[0].ID)
		}
		functions = append(functions, redfishFunction{addr: addr, slot: slot})
	}
	return functions, nil
}

func (w *redfishWalk) ports(ctx context.Context, system *redfishSystem) ([]redfishNetworkPort, error) {
	if system.NetworkInterfaces.ID == "" {
		return nil, nil
	}

	var adapters redfishCollection
	if err := w.client.getJSON(ctx, system.NetworkInterfaces.ID, &adapters); err != nil {
		if w.skippable(err) {
			return nil, nil
		}
		return nil, err
	}

	var ports []redfishNetworkPort
	for _, link := range adapters.Members {
		var nic redfishNetworkInterface
		if err := w.client.getJSON(ctx, link.ID, &nic); err != nil {
			if w.skippable(err) {
				continue
			}
			return nil, err
		}
		collection, err := w.portCollection(ctx, &nic)
		if err != nil {
			return nil, err
		}
		if collection == "" {
			continue
		}

		var members redfishCollection
		if err := w.client.getJSON(ctx, collection, &members); err != nil {
			if w.skippable(err) {
				continue
			}
			return nil, err
		}

		for _, portLink := range members.Members {
			var port redfishNetworkPort
			if err := w.client.getJSON(ctx, portLink.ID, &port); err != nil {
				if w.skippable(err) {
					continue
				}
				return nil, err
			}
			ports = append(ports, port)
		}
	}
	return ports, nil
}

// portCollection finds the ports of a network interface through its chassis
// NetworkAdapter, falling back to the interface's own NetworkPorts link that
// older firmware exposes
func (w *redfishWalk) portCollection(ctx context.Context, nic *redfishNetworkInterface) (string, error) {
	if link := nic.Links.NetworkAdapter.ID; link != "" {
		var adapter redfishNetworkAdapter
		err := w.client.getJSON(ctx, link, &adapter)
		switch {
		case err == nil && adapter.NetworkPorts.ID != "":
			return adapter.NetworkPorts.ID, nil
		case err != nil && !w.skippable(err):
			return "", err
		}
	}
	return nic.NetworkPorts.ID, nil
}

// emit joins ports to functions through the slot id: function slot
// NIC.Slot.3-2-1 belongs to port NIC.Slot.3-2.
func (w *redfishWalk) emit(functions []redfishFunction, ports []redfishNetworkPort) {
	matched := make(map[pci.Address]bool)

	for _, port := range ports {
		mac := firstMAC(port.AssociatedNetworkAddresses)

		var found bool
		for _, fn := range functions {
			if fn.slot == "" || !strings.HasPrefix(fn.slot, port.ID+"-") {
				continue
			}
			found = true
			matched[fn.addr] = true
			w.result.Add(domain.NewObservation(RedfishName, domain.ByPCI(fn.addr)).
				With(domain.FieldNICSlot, fn.slot).
				With(domain.FieldPortSlot, port.ID).
				Set(domain.FieldMAC, domain.NonEmpty(mac)))
		}

		if !found && mac != "" {
			w.result.Add(domain.NewObservation(RedfishName, domain.ByMAC(mac)).
				With(domain.FieldPortSlot, port.ID))
		}
	}

	for _, fn := range functions {
		if matched[fn.addr] || fn.slot == "" {
			continue
		}
		w.result.Add(domain.NewObservation(RedfishName, domain.ByPCI(fn.addr)).
			With(domain.FieldNICSlot, fn.slot))
	}
}

// firmware reads the installed CPLD and controller versions
func (w *redfishWalk) firmware(ctx context.Context) error {
	var inventory redfishCollection
	if err := w.client.getJSON(ctx, "/redfish/v1/UpdateService/FirmwareInventory", &inventory); err != nil {
		if w.skippable(err) {
			return nil
		}
		return err
	}

	for _, link := range installedMembers(inventory.Members) {
		if w.result.Facts[domain.FactCPLDVersion] != "" && w.result.Facts[domain.FactIDRACVersion] != "" {
			break
		}

		var fw redfishFirmware
		if err := w.client.getJSON(ctx, link.ID, &fw); err != nil {
			if w.skippable(err) {
				continue
			}
			return err
		}

		switch {
		case strings.Contains(strings.ToUpper(fw.Name), "CPLD"):
			w.result.SetFact(domain.FactCPLDVersion, fw.Version)
		case strings.Contains(fw.Name, "Remote Access Controller"), strings.Contains(fw.ID, "iDRAC"):
			w.result.SetFact(domain.FactIDRACVersion, fw.Version)
		}
	}
	return nil
}

// skippable records a warning for malformed or missing resources and
// reports whether the walk may carry on
func (w *redfishWalk) skippable(err error) bool {
	var httpErr *HTTPError
	switch {
	case errors.Is(err, domain.ErrFormat):
	case errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound:
	default:
		return false
	}
	w.log.WithError(err).Debug("Skipping resource")
	w.result.Warn(err.Error())
	return true
}

// installedMembers keeps the installed firmware entries when the
// controller distinguishes them from staged ones
func installedMembers(members []odataLink) []odataLink {
	var installed []odataLink
	for _, m := range members {
		if strings.Contains(m.ID, "Installed") {
			installed = append(installed, m)
		}
	}
	if len(installed) == 0 {
		return members
	}
	return installed
}

func firstMAC(addrs []string) string {
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			return a
		}
	}
	return ""
}
