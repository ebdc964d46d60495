package registry

import (
	"fmt"
	"sync"
	"testing"

	"nictopo/internal/domain"
	"nictopo/internal/pci"
)

func obsPCI(source, addr string, fields map[domain.Field]string) domain.Observation {
	obs := domain.NewObservation(source, domain.ByPCI(pci.MustParse(addr)))
	for f, v := range fields {
		obs = obs.With(f, v)
	}
	return obs
}

func obsKey(source string, key domain.MatchKey, fields map[domain.Field]string) domain.Observation {
	obs := domain.NewObservation(source, key)
	for f, v := range fields {
		obs = obs.With(f, v)
	}
	return obs
}

func TestMergeDisjointFieldsYieldsUnion(t *testing.T) {
	r := New()
	r.Merge(obsPCI("hypervisor", "0000:1a:00.0", map[domain.Field]string{
		domain.FieldName:   "vmnic0",
		domain.FieldDriver: "i40en",
	}))
	r.Merge(obsPCI("cli", "0000:1a:00.0", map[domain.Field]string{
		domain.FieldDriverVersion:   "1.10.6",
		domain.FieldFirmwareVersion: "7.10",
	}))

	rec, ok := r.Get(pci.MustParse("0000:1a:00.0"))
	if !ok {
		t.Fatal("record not created")
	}
	want := map[domain.Field]string{
		domain.FieldName:            "vmnic0",
		domain.FieldDriver:          "i40en",
		domain.FieldDriverVersion:   "1.10.6",
		domain.FieldFirmwareVersion: "7.10",
	}
	for f, v := range want {
		if got, _ := rec.Get(f); got != v {
			t.Errorf("field %s = %q, want %q", f, got, v)
		}
	}
	if r.Conflicts() != 0 {
		t.Errorf("Conflicts() = %d, want 0 for disjoint fields", r.Conflicts())
	}
}

func TestMergeEmptyObservationIsNoop(t *testing.T) {
	r := New()
	r.Merge(obsPCI("hypervisor", "0000:1a:00.0", map[domain.Field]string{domain.FieldName: "vmnic0"}))
	before := r.Snapshot()

	outcome := r.Merge(domain.NewObservation("cli", domain.ByPCI(pci.MustParse("0000:1a:00.0"))))
	if outcome != OutcomeNoop {
		t.Errorf("Merge(empty) = %s, want noop", outcome)
	}
	outcome = r.Merge(domain.NewObservation("cli", domain.ByPCI(pci.MustParse("0000:3b:00.0"))))
	if outcome != OutcomeNoop {
		t.Errorf("Merge(empty, new address) = %s, want noop", outcome)
	}

	after := r.Snapshot()
	if len(after) != len(before) || after[0].Name != before[0].Name {
		t.Errorf("empty merge changed the registry: before %+v after %+v", before, after)
	}
}

func TestMergeNeverErasesAbsentFields(t *testing.T) {
	r := New()
	r.Merge(obsPCI("hypervisor", "0000:1a:00.0", map[domain.Field]string{
		domain.FieldName: "vmnic0",
		domain.FieldMAC:  "24:6e:96:00:00:01",
	}))
	obs := domain.NewObservation("redfish", domain.ByPCI(pci.MustParse("0000:1a:00.0"))).
		Set(domain.FieldMAC, domain.Absent).
		With(domain.FieldNICSlot, "NIC.Slot.3-1-1")
	r.Merge(obs)

	rec, _ := r.Get(pci.MustParse("0000:1a:00.0"))
	if rec.MAC != "24:6e:96:00:00:01" {
		t.Errorf("MAC = %q, absent field overwrote it", rec.MAC)
	}
	if rec.NICSlot != "NIC.Slot.3-1-1" {
		t.Errorf("NICSlot = %q", rec.NICSlot)
	}
}

func TestMergeLastWriterWins(t *testing.T) {
	r := New()
	r.Merge(obsPCI("hypervisor", "0000:1a:00.0", map[domain.Field]string{domain.FieldName: ""}))
	r.Merge(obsPCI("cli", "0000:1a:00.0", map[domain.Field]string{domain.FieldName: "vmnic0"}))
	r.Merge(obsPCI("hypervisor", "0000:1a:00.0", map[domain.Field]string{domain.FieldRole: "dVS"}))
	r.Merge(obsPCI("other", "0000:1a:00.0", map[domain.Field]string{domain.FieldRole: "vSwitch"}))

	rec, _ := r.Get(pci.MustParse("0000:1a:00.0"))
	if rec.Name != "vmnic0" {
		t.Errorf("Name = %q, want vmnic0", rec.Name)
	}
	if rec.Role != domain.RoleVSwitch {
		t.Errorf("Role = %q, want vSwitch", rec.Role)
	}
	if rec.Sources[domain.FieldRole] != "other" {
		t.Errorf("Sources[role] = %q, want other", rec.Sources[domain.FieldRole])
	}
	if r.Conflicts() != 1 {
		t.Errorf("Conflicts() = %d, want 1", r.Conflicts())
	}
}

func TestMergeSecondaryKeys(t *testing.T) {
	r := New()
	r.Merge(obsPCI("hypervisor", "0000:1a:00.0", map[domain.Field]string{
		domain.FieldName: "vmnic0",
		domain.FieldMAC:  "24:6E:96:00:00:01",
	}))

	tests := []struct {
		name string
		obs  domain.Observation
		want Outcome
	}{
		{
			name: "by name",
			obs:  obsKey("cli", domain.ByName("vmnic0"), map[domain.Field]string{domain.FieldDriverVersion: "1.10.6"}),
			want: OutcomeMerged,
		},
		{
			name: "by mac with different spelling",
			obs:  obsKey("redfish", domain.ByMAC("24-6E-96-00-00-01"), map[domain.Field]string{domain.FieldPortSlot: "NIC.Slot.3-1"}),
			want: OutcomeMerged,
		},
		{
			name: "by slot indexed from previous merge",
			obs:  obsKey("legacy", domain.BySlot("NIC.Slot.3-1"), map[domain.Field]string{domain.FieldLink: "up"}),
			want: OutcomeMerged,
		},
		{
			name: "unknown name deferred",
			obs:  obsKey("cli", domain.ByName("vmnic9"), map[domain.Field]string{domain.FieldDriverVersion: "1.10.6"}),
			want: OutcomeDeferred,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Merge(tt.obs); got != tt.want {
				t.Errorf("Merge() = %s, want %s", got, tt.want)
			}
		})
	}

	rec, _ := r.Get(pci.MustParse("0000:1a:00.0"))
	if rec.DriverVersion != "1.10.6" || rec.PortSlot != "NIC.Slot.3-1" || rec.Link != domain.LinkUp {
		t.Errorf("secondary merges not applied: %+v", rec)
	}
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", r.Pending())
	}
}

func TestRetryDeferredResolvesLateArrivals(t *testing.T) {
	r := New()
	// CLI reports versions before the hypervisor has named the port
	r.Merge(obsKey("cli", domain.ByName("vmnic4"), map[domain.Field]string{domain.FieldDriverVersion: "1.7.17"}))
	r.Merge(obsKey("redfish", domain.BySlot("NIC.Slot.9-1-1"), map[domain.Field]string{domain.FieldLink: "up"}))
	r.Merge(obsKey("cli", domain.ByMAC("aa:bb:cc:dd:ee:ff"), map[domain.Field]string{domain.FieldSwitchName: "tor-1"}))
	r.Merge(obsPCI("hypervisor", "0000:3b:00.0", map[domain.Field]string{domain.FieldName: "vmnic4"}))

	result := r.RetryDeferred()
	if result.Merged != 1 || result.Orphaned != 1 || result.Dropped != 1 {
		t.Errorf("RetryDeferred() = %+v, want 1 merged, 1 orphaned, 1 dropped", result)
	}

	rec, _ := r.Get(pci.MustParse("0000:3b:00.0"))
	if rec.DriverVersion != "1.7.17" {
		t.Errorf("DriverVersion = %q, want 1.7.17", rec.DriverVersion)
	}

	// a second pass does nothing
	if again := r.RetryDeferred(); again != (RetryResult{}) {
		t.Errorf("second RetryDeferred() = %+v, want zero", again)
	}
	// after the pass, unmatched observations are no longer deferred
	if got := r.Merge(obsKey("cli", domain.ByName("vmnic7"), map[domain.Field]string{domain.FieldDriver: "ixgben"})); got != OutcomeOrphaned {
		t.Errorf("Merge() after retry = %s, want orphaned", got)
	}
}

func TestOrphanAbsorbedByAddressedRecord(t *testing.T) {
	r := New()
	r.Merge(obsKey("cli", domain.ByName("vmnic6"), map[domain.Field]string{
		domain.FieldDriverVersion: "1.10.6",
		domain.FieldName:          "vmnic6",
	}))
	r.RetryDeferred()

	snap := r.Snapshot()
	if len(snap) != 1 || !snap[0].Orphan || snap[0].OrphanKey != "name:vmnic6" {
		t.Fatalf("expected one orphan keyed name:vmnic6, got %+v", snap)
	}

	r.Merge(obsPCI("sibling", "0000:5e:00.1", map[domain.Field]string{domain.FieldName: "vmnic6"}))

	snap = r.Snapshot()
	if len(snap) != 1 || snap[0].Orphan {
		t.Fatalf("orphan not absorbed: %+v", snap)
	}
	if snap[0].DriverVersion != "1.10.6" {
		t.Errorf("DriverVersion = %q, want value carried over from orphan", snap[0].DriverVersion)
	}
}

func TestSnapshotOrderedByPCIKey(t *testing.T) {
	r := New()
	for _, addr := range []string{"0000:86:00.1", "0000:1a:00.1", "0000:86:00.0", "0000:1a:00.0", "0000:3b:00.0"} {
		r.Merge(obsPCI("hypervisor", addr, map[domain.Field]string{domain.FieldDriver: "i40en"}))
	}

	snap := r.Snapshot()
	want := []string{"0000:1a:00.0", "0000:1a:00.1", "0000:3b:00.0", "0000:86:00.0", "0000:86:00.1"}
	if len(snap) != len(want) {
		t.Fatalf("Snapshot() len = %d, want %d", len(snap), len(want))
	}
	for i, w := range want {
		if got := snap[i].PCI.String(); got != w {
			t.Errorf("Snapshot()[%d] = %s, want %s", i, got, w)
		}
	}
}

func TestOneRecordPerAddress(t *testing.T) {
	r := New()
	r.Merge(obsPCI("hypervisor", "0000:1a:00.1", map[domain.Field]string{domain.FieldName: "vmnic1"}))
	r.Merge(obsPCI("redfish", "26-1", map[domain.Field]string{domain.FieldNICSlot: "NIC.Slot.3-2-1"}))
	r.Merge(obsPCI("cli", "1a:00.1", map[domain.Field]string{domain.FieldDriverVersion: "1.10.6"}))

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 record for three spellings of one address", r.Len())
	}
}

func TestRejectedFieldsDoNotBlockOthers(t *testing.T) {
	r := New()
	r.Merge(obsPCI("hypervisor", "0000:1a:00.0", map[domain.Field]string{
		domain.FieldMaxVFs: "n/a",
		domain.FieldName:   "vmnic0",
	}))

	rec, _ := r.Get(pci.MustParse("0000:1a:00.0"))
	if rec.Name != "vmnic0" {
		t.Errorf("Name = %q, want vmnic0", rec.Name)
	}
	if rec.MaxVFs != nil {
		t.Errorf("MaxVFs = %v, want unset", *rec.MaxVFs)
	}
	if len(r.Rejected()) != 1 {
		t.Errorf("Rejected() = %v, want one error", r.Rejected())
	}
}

func TestConcurrentMerges(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for bus := 0; bus < 32; bus++ {
				addr := fmt.Sprintf("0000:%02x:00.0", bus)
				r.Merge(obsPCI(fmt.Sprintf("source-%d", i), addr, map[domain.Field]string{domain.FieldDriver: "i40en"}))
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 32 {
		t.Errorf("Len() = %d, want 32", r.Len())
	}
}
