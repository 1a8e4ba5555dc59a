package ddns

import (
	"fmt"
	"net/netip"
	"strings"
)

// Family is an IP address family.
// The numeric values match the "type" field of persisted records.
type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

// Families lists every family in preference order.
var Families = []Family{IPv4, IPv6}

func (f Family) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// Valid reports whether f is IPv4 or IPv6.
func (f Family) Valid() bool {
	return f == IPv4 || f == IPv6
}

// RecordType returns the DNS record type holding addresses of this family.
func (f Family) RecordType() string {
	if f == IPv6 {
		return "AAAA"
	}
	return "A"
}

// Matches reports whether a belongs to family f.
// IPv4-mapped IPv6 addresses count as IPv4.
func (f Family) Matches(a netip.Addr) bool {
	switch f {
	case IPv4:
		return a.Is4() || a.Is4In6()
	case IPv6:
		return a.Is6() && !a.Is4In6()
	}
	return false
}

// ParseFamily accepts "4", "6", "ipv4", "ipv6", "a" and "aaaa" in any case.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "4", "ipv4", "v4", "a":
		return IPv4, nil
	case "6", "ipv6", "v6", "aaaa":
		return IPv6, nil
	}
	return 0, fmt.Errorf("unknown address family %q", s)
}

// parseFamilies builds a set from the numeric families of plugin settings.
// An empty list yields all families.
func parseFamilies(fams []int) (FamilySet, error) {
	if len(fams) == 0 {
		return BothFamilies, nil
	}
	var s FamilySet
	for _, f := range fams {
		if !Family(f).Valid() {
			return NoFamilies, fmt.Errorf("invalid family %d", f)
		}
		s = s.With(Family(f))
	}
	return s, nil
}

// FamilySet is a set of address families.
type FamilySet uint8

const (
	setIPv4 FamilySet = 1 << iota
	setIPv6

	NoFamilies   FamilySet = 0
	BothFamilies           = setIPv4 | setIPv6
)

// SetOf builds a FamilySet from the given families. Invalid families are ignored.
func SetOf(fams ...Family) FamilySet {
	var s FamilySet
	for _, f := range fams {
		s = s.With(f)
	}
	return s
}

func bit(f Family) FamilySet {
	switch f {
	case IPv4:
		return setIPv4
	case IPv6:
		return setIPv6
	}
	return 0
}

func (s FamilySet) Has(f Family) bool       { return bit(f) != 0 && s&bit(f) != 0 }
func (s FamilySet) With(f Family) FamilySet { return s | bit(f) }
func (s FamilySet) Without(f Family) FamilySet {
	return s &^ bit(f)
}
func (s FamilySet) Intersect(o FamilySet) FamilySet { return s & o }
func (s FamilySet) Empty() bool                     { return s&BothFamilies == 0 }

// List returns the members of s in preference order.
func (s FamilySet) List() []Family {
	var out []Family
	for _, f := range Families {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FamilySet) String() string {
	var names []string
	for _, f := range s.List() {
		names = append(names, f.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Addresses holds at most one address per family.
// A zero netip.Addr means the family is unset.
type Addresses struct {
	IPv4 netip.Addr
	IPv6 netip.Addr
}

// FromList picks the first address of each family from addrs.
func FromList(addrs []netip.Addr) Addresses {
	var out Addresses
	for _, a := range addrs {
		for _, f := range Families {
			if f.Matches(a) && !out.Has(f) {
				out = out.With(f, a)
			}
		}
	}
	return out
}

// Get returns the address for f, which is invalid when unset.
func (a Addresses) Get(f Family) netip.Addr {
	switch f {
	case IPv4:
		return a.IPv4
	case IPv6:
		return a.IPv6
	}
	return netip.Addr{}
}

// Has reports whether the family has an address.
func (a Addresses) Has(f Family) bool {
	return a.Get(f).IsValid()
}

// With returns a copy of a with f set to addr. IPv4-mapped addresses are unmapped.
func (a Addresses) With(f Family, addr netip.Addr) Addresses {
	switch f {
	case IPv4:
		a.IPv4 = addr.Unmap()
	case IPv6:
		a.IPv6 = addr
	}
	return a
}

// Set returns the families that have an address.
func (a Addresses) Set() FamilySet {
	var s FamilySet
	for _, f := range Families {
		if a.Has(f) {
			s = s.With(f)
		}
	}
	return s
}

// Only drops every family not in fs and every address that does not belong to its slot.
func (a Addresses) Only(fs FamilySet) Addresses {
	var out Addresses
	for _, f := range fs.List() {
		if addr := a.Get(f); addr.IsValid() && f.Matches(addr) {
			out = out.With(f, addr)
		}
	}
	return out
}

func (a Addresses) String() string {
	v4, v6 := "-", "-"
	if a.IPv4.IsValid() {
		v4 = a.IPv4.String()
	}
	if a.IPv6.IsValid() {
		v6 = a.IPv6.String()
	}
	return fmt.Sprintf("{ipv4: %s, ipv6: %s}", v4, v6)
}
