package adapter

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nictopo/internal/domain"
	"nictopo/internal/pci"
)

// LegacyName is the source tag of the session-token management adapter
const LegacyName = "legacy"

const (
	legacyLoginPath  = "/cgi-bin/login"
	legacyExecPath   = "/cgi-bin/exec"
	legacyLogoutPath = "/cgi-bin/logout"

	legacyInventoryCommand = "racadm hwinventory"
	legacyOK               = "0x0"
)

// LegacyAdapter reads the hardware inventory of older controllers through
// a login, one remote command and a logout
type LegacyAdapter struct {
	cfg        ManagementConfig
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// NewLegacyAdapter creates a legacy management adapter
func NewLegacyAdapter(cfg ManagementConfig, logger logrus.FieldLogger) *LegacyAdapter {
	return &LegacyAdapter{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg),
		logger:     logger.WithField("adapter", LegacyName),
	}
}

// Name returns the adapter identifier
func (l *LegacyAdapter) Name() string {
	return LegacyName
}

// Kind returns the adapter kind
func (l *LegacyAdapter) Kind() Kind {
	return KindManagement
}

// Cost returns the adapter cost; the inventory command is slow
func (l *LegacyAdapter) Cost() int {
	return 40
}

// Collect implements Source
func (l *LegacyAdapter) Collect(ctx context.Context, host domain.HostTarget, creds domain.Credentials) Result {
	if res := managementPreconditions(ctx, LegacyName, host, creds, l.cfg.Prober); res != nil {
		return *res
	}

	client := newManagementClient(host.ManagementAddress, creds.Management, l.httpClient, l.cfg)
	log := l.logger.WithField("host", host.Name)

	sid, err := legacyLogin(ctx, client)
	if err != nil {
		return Failed(LegacyName, domain.NewTransportError(LegacyName, "login", err))
	}
	defer func() {
		// The session must be released even when ctx is already done
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := client.postXML(lctx, legacyLogoutPath, struct {
			XMLName xml.Name `xml:"LOGOUT"`
		}{}, sessionCookie(sid), nil); err != nil {
			log.WithError(err).Debug("Logout failed")
		}
	}()

	output, err := legacyExec(ctx, client, sid, legacyInventoryCommand)
	if err != nil {
		return Failed(LegacyName, domain.NewTransportError(LegacyName, "exec", err))
	}

	result := NewResult(LegacyName)
	inv, errs := parseHardwareInventory(output)
	for _, err := range errs {
		result.Warn(err.Error())
	}

	for _, nic := range inv.nics {
		result.Add(domain.NewObservation(LegacyName, domain.ByPCI(nic.addr)).
			With(domain.FieldNICSlot, nic.slot).
			Set(domain.FieldPortSlot, domain.NonEmpty(portSlot(nic.slot))).
			Set(domain.FieldMAC, domain.NonEmpty(nic.mac)))
	}
	result.SetFact(domain.FactCPLDVersion, inv.cpld)
	result.SetFact(domain.FactIDRACVersion, inv.idrac)

	return result
}

type legacyLoginRequest struct {
	XMLName  xml.Name `xml:"LOGIN"`
	Username string   `xml:"REQ>USERNAME"`
	Password string   `xml:"REQ>PASSWORD"`
}

type legacyLoginResponse struct {
	XMLName xml.Name `xml:"LOGIN"`
	RC      string   `xml:"RESP>RC"`
	SID     string   `xml:"RESP>SID"`
}

type legacyExecRequest struct {
	XMLName   xml.Name `xml:"EXEC"`
	Command   string   `xml:"REQ>CMDINPUT"`
	MaxOutput string   `xml:"REQ>MAXOUTPUTLEN"`
}

type legacyExecResponse struct {
	XMLName   xml.Name `xml:"EXEC"`
	RC        string   `xml:"RESP>RC"`
	CommandRC string   `xml:"RESP>CMDRC"`
	Output    string   `xml:"RESP>CMDOUTPUT"`
}

func legacyLogin(ctx context.Context, client *managementClient) (string, error) {
	req := legacyLoginRequest{
		Username: client.cred.Username(),
		Password: client.cred.Password(),
	}

	var resp legacyLoginResponse
	if err := client.postXML(ctx, legacyLoginPath, req, nil, &resp); err != nil {
		return "", err
	}
	if !strings.EqualFold(strings.TrimSpace(resp.RC), legacyOK) || strings.TrimSpace(resp.SID) == "" {
		return "", fmt.Errorf("login rejected: rc %s", resp.RC)
	}
	return strings.TrimSpace(resp.SID), nil
}

func legacyExec(ctx context.Context, client *managementClient, sid, command string) (string, error) {
	req := legacyExecRequest{Command: command, MaxOutput: "0x0fff"}

	var resp legacyExecResponse
	if err := client.postXML(ctx, legacyExecPath, req, sessionCookie(sid), &resp); err != nil {
		return "", err
	}
	if !strings.EqualFold(strings.TrimSpace(resp.RC), legacyOK) {
		return "", fmt.Errorf("exec %q: rc %s", command, resp.RC)
	}
	if !strings.EqualFold(strings.TrimSpace(resp.CommandRC), legacyOK) {
		return "", fmt.Errorf("exec %q: command rc %s", command, resp.CommandRC)
	}
	return resp.Output, nil
}

func sessionCookie(sid string) *http.Cookie {
	return &http.Cookie{Name: "sid", Value: sid}
}

// hardwareInventory is the part of the inventory dump read here
type hardwareInventory struct {
	nics  []legacyNIC
	cpld  string
	idrac string
}

type legacyNIC struct {
	slot string
	addr pci.Address
	mac  string
}

// parseHardwareInventory reads "[InstanceID: X]" blocks of "Key = Value"
// lines. NIC blocks without a usable address are reported and skipped.
func parseHardwareInventory(output string) (hardwareInventory, []error) {
	var (
		inv  hardwareInventory
		errs []error
	)

	for _, block := range inventoryBlocks(output) {
		switch {
		case strings.HasPrefix(block.id, "NIC."):
			nic, err := legacyNICFromBlock(block)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			inv.nics = append(inv.nics, nic)
		case block.id == "System.Embedded.1":
			inv.cpld = block.values["CPLDVersion"]
		case strings.HasPrefix(block.id, "iDRAC.Embedded.1"):
			if v := block.values["FirmwareVersion"]; v != "" {
				inv.idrac = v
			}
		}
	}

	return inv, errs
}

type inventoryBlock struct {
	id     string
	values map[string]string
}

func inventoryBlocks(output string) []inventoryBlock {
	var (
		blocks  []inventoryBlock
		current *inventoryBlock
	)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if id, ok := instanceID(line); ok {
			blocks = append(blocks, inventoryBlock{id: id, values: make(map[string]string)})
			current = &blocks[len(blocks)-1]
			continue
		}
		if current == nil {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		current.values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return blocks
}

func instanceID(line string) (string, bool) {
	if !strings.HasPrefix(line, "[InstanceID:") || !strings.HasSuffix(line, "]") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(line, "[InstanceID:"), "]")
	return strings.TrimSpace(id), true
}

func legacyNICFromBlock(b inventoryBlock) (legacyNIC, error) {
	bus, device, function := b.values["BusNumber"], b.values["DeviceNumber"], b.values["FunctionNumber"]
	if bus == "" || device == "" || function == "" {
		return legacyNIC{}, fmt.Errorf("%w: %s: missing bus, device or function number", domain.ErrFormat, b.id)
	}

	addr, err := pci.Parse(fmt.Sprintf("%s-%s-%s", bus, device, function))
	if err != nil {
		return legacyNIC{}, fmt.Errorf("%s: %w", b.id, err)
	}

	mac := b.values["CurrentMACAddress"]
	if mac == "" {
		mac = b.values["PermanentMACAddress"]
	}
	return legacyNIC{slot: b.id, addr: addr, mac: mac}, nil
}

// portSlot drops the partition suffix: NIC.Slot.3-2-1 is port NIC.Slot.3-2
func portSlot(nicSlot string) string {
	i := strings.LastIndex(nicSlot, "-")
	if i <= 0 || strings.Count(nicSlot, "-") < 2 {
		return ""
	}
	return nicSlot[:i]
}
