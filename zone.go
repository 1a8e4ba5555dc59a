package ddns

import "strings"

type zoneRef struct {
	ID   string
	Name string
}

// matchZone returns the zone with the longest name that domain equals or is a subdomain of.
func matchZone(domain string, zones []zoneRef) (id string, ok bool) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	max := 0
	for _, z := range zones {
		name := strings.ToLower(strings.TrimSuffix(z.Name, "."))
		if name == "" {
			continue
		}
		if (domain == name || strings.HasSuffix(domain, "."+name)) && len(name) > max {
			max, id = len(name), z.ID
		}
	}
	return id, max > 0
}
