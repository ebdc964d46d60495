package domain

import (
	"fmt"
	"strings"

	"nictopo/internal/pci"
)

// Value is one field value carried by an observation. The zero Value is
// Absent: the source did not report the field at all. A present Value may
// still hold the empty string.
type Value struct {
	Text    string
	Present bool
}

// Absent is the "field not reported" sentinel
var Absent = Value{}

// Text wraps a reported value
func Text(s string) Value {
	return Value{Text: s, Present: true}
}

// NonEmpty reports s only when it carries something; empty strings become Absent
func NonEmpty(s string) Value {
	if s == "" {
		return Absent
	}
	return Text(s)
}

// KeyKind says how an observation locates its port
type KeyKind string

const (
	KeyPCI  KeyKind = "pci"
	KeyMAC  KeyKind = "mac"
	KeySlot KeyKind = "slot"
	KeyName KeyKind = "name"
)

// MatchKey locates the port an observation refers to
type MatchKey struct {
	Kind  KeyKind     `json:"kind"`
	Value string      `json:"value,omitempty"`
	PCI   pci.Address `json:"pci,omitempty"`
}

// ByPCI keys an observation by address
func ByPCI(addr pci.Address) MatchKey {
	return MatchKey{Kind: KeyPCI, PCI: addr}
}

// ByMAC keys an observation by MAC address; the MAC is normalized
func ByMAC(mac string) MatchKey {
	return MatchKey{Kind: KeyMAC, Value: NormalizeMAC(mac)}
}

// BySlot keys an observation by management-controller slot id
func BySlot(slot string) MatchKey {
	return MatchKey{Kind: KeySlot, Value: strings.TrimSpace(slot)}
}

// ByName keys an observation by interface name
func ByName(name string) MatchKey {
	return MatchKey{Kind: KeyName, Value: strings.TrimSpace(name)}
}

func (k MatchKey) String() string {
	if k.Kind == KeyPCI {
		return fmt.Sprintf("pci:%s", k.PCI)
	}
	return fmt.Sprintf("%s:%s", k.Kind, k.Value)
}

// Observation is one source's partial view of one port
type Observation struct {
	Source string          `json:"source"`
	Key    MatchKey        `json:"key"`
	Fields map[Field]Value `json:"fields"`
}

// NewObservation creates an empty observation for key
func NewObservation(source string, key MatchKey) Observation {
	return Observation{
		Source: source,
		Key:    key,
		Fields: make(map[Field]Value),
	}
}

// Set records a reported value; Absent values are ignored
func (o Observation) Set(field Field, v Value) Observation {
	if v.Present {
		o.Fields[field] = v
	}
	return o
}

// With records a present value
func (o Observation) With(field Field, text string) Observation {
	return o.Set(field, Text(text))
}

// Get returns the value for field, or Absent
func (o Observation) Get(field Field) Value {
	if o.Fields == nil {
		return Absent
	}
	return o.Fields[field]
}

// Empty reports whether the observation carries no fields
func (o Observation) Empty() bool {
	for _, v := range o.Fields {
		if v.Present {
			return false
		}
	}
	return true
}

// NormalizeMAC lowercases a MAC and converts dashes to colons so that
// hypervisor and controller spellings compare equal
func NormalizeMAC(mac string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
}
