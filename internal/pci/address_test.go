package pci_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nictopo/internal/pci"
)

var _ = Describe("PCI address codec", func() {

	Context("parse", func() {
		DescribeTable("normalizes every source convention to the canonical form",
			func(input, want string) {
				addr, err := pci.Parse(input)
				Expect(err).ToNot(HaveOccurred())
				Expect(addr.String()).To(Equal(want))
			},
			Entry("hypervisor form", "0000:1a:00.1", "0000:1a:00.1"),
			Entry("uppercase hex", "0000:3B:00.0", "0000:3b:00.0"),
			Entry("short hex without domain", "1a:0.1", "0000:1a:00.1"),
			Entry("decimal bus-function", "26-1", "0000:1a:00.1"),
			Entry("decimal single digit bus", "4-0", "0000:04:00.0"),
			Entry("decimal bus-device-function", "134-2-3", "0000:86:02.3"),
			Entry("lspci listing line", "0000:1a:00.1 Network controller: Intel(R) Ethernet Controller X710 [vmnic3]", "0000:1a:00.1"),
			Entry("surrounding whitespace", "  0000:af:00.0\n", "0000:af:00.0"),
		)

		DescribeTable("rejects malformed text with ErrFormat",
			func(input string) {
				_, err := pci.Parse(input)
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, pci.ErrFormat)).To(BeTrue())
			},
			Entry("empty", ""),
			Entry("garbage", "vmnic3"),
			Entry("function out of range", "0000:1a:00.8"),
			Entry("device out of range", "0000:1a:20.0"),
			Entry("decimal bus overflow", "300-1"),
			Entry("decimal function out of range", "26-9"),
		)

		It("is a left inverse of render", func() {
			for _, addr := range []pci.Address{
				{Domain: 0, Bus: 0x00, Device: 0x00, Function: 0},
				{Domain: 0, Bus: 0x1a, Device: 0x00, Function: 1},
				{Domain: 0, Bus: 0xff, Device: 0x1f, Function: 7},
				{Domain: 0x10, Bus: 0x82, Device: 0x03, Function: 2},
			} {
				parsed, err := pci.Parse(addr.String())
				Expect(err).ToNot(HaveOccurred())
				Expect(parsed).To(Equal(addr))
			}
		})

		It("yields the same address for the same port reported by different sources", func() {
			fromHypervisor := pci.MustParse("0000:1a:00.1")
			fromController := pci.MustParse("26-1")
			Expect(fromController).To(Equal(fromHypervisor))
		})
	})

	Context("listing lines", func() {
		It("extracts the interface name", func() {
			addr, name, err := pci.ParseListing("0000:3b:00.1 Network controller: Intel Corporation Ethernet Controller X710 for 10GbE SFP+ [vmnic5]")
			Expect(err).ToNot(HaveOccurred())
			Expect(addr.String()).To(Equal("0000:3b:00.1"))
			Expect(name).To(Equal("vmnic5"))
		})

		It("returns an empty name when the line carries none", func() {
			_, name, err := pci.ParseListing("0000:00:1f.2 SATA controller: Intel Corporation C620")
			Expect(err).ToNot(HaveOccurred())
			Expect(name).To(BeEmpty())
		})
	})

	Context("ordering key", func() {
		It("is strictly monotonic in bus", func() {
			prev := pci.Address{Bus: 0, Function: 7}.OrderingKey()
			for bus := 1; bus <= 255; bus++ {
				key := pci.Address{Bus: uint8(bus), Function: 0}.OrderingKey()
				Expect(key).To(BeNumerically(">", prev))
				prev = pci.Address{Bus: uint8(bus), Function: 7}.OrderingKey()
			}
		})

		It("is monotonic in function within one bus", func() {
			for fn := 1; fn <= 7; fn++ {
				lo := pci.Address{Bus: 0x10, Function: uint8(fn - 1)}
				hi := pci.Address{Bus: 0x10, Function: uint8(fn)}
				Expect(hi.OrderingKey()).To(BeNumerically(">", lo.OrderingKey()))
				Expect(lo.Less(hi)).To(BeTrue())
			}
		})

		It("computes bus + function/10", func() {
			Expect(pci.MustParse("0000:1a:00.1").OrderingKey()).To(BeNumerically("~", 26.1, 1e-9))
		})
	})

	Context("siblings", func() {
		It("groups functions of the same device", func() {
			a := pci.MustParse("0000:5e:00.0")
			b := pci.MustParse("0000:5e:00.1")
			c := pci.MustParse("0000:5e:01.0")
			Expect(a.SameDevice(b)).To(BeTrue())
			Expect(a.SameDevice(c)).To(BeFalse())
			Expect(a.DevicePrefix()).To(Equal("0000:5e:00"))
		})
	})
})
