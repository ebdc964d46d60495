package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"nictopo/internal/domain"
	"nictopo/internal/pci"
)

type fakeSource struct {
	name   string
	kind   Kind
	cost   int
	delay  time.Duration
	result func() Result
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Kind() Kind   { return f.kind }
func (f *fakeSource) Cost() int    { return f.cost }

func (f *fakeSource) Collect(ctx context.Context, host domain.HostTarget, creds domain.Credentials) Result {
	if f.delay > 0 {
		// Deliberately ignores ctx to emulate a stuck remote call
		time.Sleep(f.delay)
	}
	if f.result != nil {
		return f.result()
	}
	r := NewResult(f.name)
	r.Add(domain.NewObservation(f.name, domain.ByPCI(pci.MustParse("0000:18:00.0"))).With(domain.FieldName, "vmnic0"))
	return r
}

func testPolicy() ModelPolicy {
	return ModelPolicy{Legacy: []string{"R730"}, REST: []string{"PowerEdge"}}
}

func TestModelPolicy_Select(t *testing.T) {
	tests := []struct {
		model   string
		want    string
		wantErr bool
	}{
		{model: "PowerEdge R730", want: LegacyName},
		{model: "PowerEdge R730xd", want: LegacyName},
		{model: "PowerEdge R740", want: RedfishName},
		{model: "PowerEdge R940", want: RedfishName},
		{model: "ProLiant DL380 Gen10", wantErr: true},
		{model: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := testPolicy().Select(tt.model)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Select() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, domain.ErrUnsupportedModel) {
				t.Errorf("expected ErrUnsupportedModel, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Select() = %q, want %q", got, tt.want)
			}
		})
	}
}

func newTestRegistry(t *testing.T, sources ...Source) *Registry {
	t.Helper()
	r := NewRegistry(testPolicy(), testLogger())
	for _, s := range sources {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register(%s) error: %v", s.Name(), err)
		}
	}
	return r
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry(t, &fakeSource{name: "a", kind: KindHypervisor})
	if err := r.Register(&fakeSource{name: "a", kind: KindCLI}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRegistry_Select(t *testing.T) {
	r := newTestRegistry(t,
		&fakeSource{name: RedfishName, kind: KindManagement, cost: 40},
		&fakeSource{name: LegacyName, kind: KindManagement, cost: 40},
		&fakeSource{name: CLIName, kind: KindCLI, cost: 20},
		&fakeSource{name: HypervisorName, kind: KindHypervisor, cost: 10},
	)

	names := func(sources []Source) []string {
		var out []string
		for _, s := range sources {
			out = append(out, s.Name())
		}
		return out
	}

	got := names(r.Select(domain.HostTarget{Name: "esx01", Model: "PowerEdge R740"}))
	want := []string{HypervisorName, CLIName, RedfishName}
	if len(got) != len(want) {
		t.Fatalf("Select() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Select()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	got = names(r.Select(domain.HostTarget{Name: "esx02", Model: "PowerEdge R730"}))
	if len(got) != 3 || got[2] != LegacyName {
		t.Errorf("Select() = %v, want legacy management adapter", got)
	}

	got = names(r.Select(domain.HostTarget{Name: "esx03", Model: "ProLiant DL380"}))
	if len(got) != 2 {
		t.Errorf("unsupported model should get no management adapter, got %v", got)
	}
	if r.ManagementAdapter(domain.HostTarget{Model: "ProLiant DL380"}) != "" {
		t.Error("ManagementAdapter() should be empty for an unsupported model")
	}
}

func TestRegistry_CollectAll(t *testing.T) {
	r := newTestRegistry(t,
		&fakeSource{name: HypervisorName, kind: KindHypervisor, cost: 10},
		&fakeSource{name: CLIName, kind: KindCLI, cost: 20, result: func() Result {
			return Skipped(CLIName, "no cli credentials")
		}},
		&fakeSource{name: RedfishName, kind: KindManagement, cost: 40, result: func() Result {
			r := NewResult(RedfishName)
			r.Add(domain.NewObservation(RedfishName, domain.ByMAC("3c:fd:fe:aa:bb:00")).With(domain.FieldPortSlot, "NIC.Slot.3-1"))
			r.Err = domain.NewTransportError(RedfishName, "walk", errors.New("reset"))
			return r
		}},
	)

	host := domain.HostTarget{Name: "esx01", Model: "PowerEdge R740"}
	states := make(map[string]domain.AdapterState)
	for res := range r.CollectAll(context.Background(), host, domain.Credentials{}, time.Second) {
		states[res.Source] = res.State()
		if res.Err != nil && (len(res.Observations) != 0 || res.Facts != nil) {
			t.Errorf("%s failed but kept its observations", res.Source)
		}
	}

	want := map[string]domain.AdapterState{
		HypervisorName: domain.AdapterOK,
		CLIName:        domain.AdapterSkipped,
		RedfishName:    domain.AdapterFailed,
	}
	for name, state := range want {
		if states[name] != state {
			t.Errorf("%s state = %s, want %s", name, states[name], state)
		}
	}
}

func TestRegistry_FailureLogLevel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	r := NewRegistry(testPolicy(), logger)
	failing := &fakeSource{name: CLIName, kind: KindCLI, cost: 20, result: func() Result {
		return Failed(CLIName, domain.NewTransportError(CLIName, "dial", errors.New("refused")))
	}}
	if err := r.Register(failing); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	for range r.CollectAll(context.Background(), domain.HostTarget{Name: "esx01"}, domain.Credentials{}, time.Second) {
	}

	// The run's progress log reports failures; the registry only traces them
	var traced bool
	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			t.Errorf("unexpected %s entry %q", e.Level, e.Message)
		}
		if e.Message == "Adapter failed" && e.Level == logrus.DebugLevel {
			traced = true
		}
	}
	if !traced {
		t.Error("expected a debug entry for the failed adapter")
	}
}

func TestRegistry_CollectAllTimeout(t *testing.T) {
	r := newTestRegistry(t,
		&fakeSource{name: HypervisorName, kind: KindHypervisor, cost: 10},
		&fakeSource{name: CLIName, kind: KindCLI, cost: 20, delay: 2 * time.Second},
	)

	start := time.Now()
	var results []Result
	for res := range r.CollectAll(context.Background(), domain.HostTarget{Name: "esx01"}, domain.Credentials{}, 100*time.Millisecond) {
		results = append(results, res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stuck adapter held the host for %s", elapsed)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// The fast adapter completes first
	if results[0].Source != HypervisorName || results[0].State() != domain.AdapterOK {
		t.Errorf("first result = %s %s, want hypervisor ok", results[0].Source, results[0].State())
	}
	if !results[1].Timeout() || !errors.Is(results[1].Err, domain.ErrTransport) {
		t.Errorf("expected timeout transport error, got %v", results[1].Err)
	}
	if len(results[1].Observations) != 0 {
		t.Error("timed out adapter must contribute nothing")
	}
}
