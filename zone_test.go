package ddns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchZone(t *testing.T) {
	zones := []zoneRef{
		{ID: "1", Name: "example.com"},
		{ID: "2", Name: "home.example.com."},
		{ID: "3", Name: "le.com"},
		{ID: "4", Name: ""},
	}
	for domain, want := range map[string]string{
		"example.com":         "1",
		"www.example.com":     "1",
		"pi.home.example.com": "2",
		"HOME.Example.COM.":   "2",
		"le.com":              "3",
		"sample.le.com":       "3",
		"notexample.com":      "",
		"example.org":         "",
	} {
		id, ok := matchZone(domain, zones)
		assert.Equal(t, want, id, domain)
		assert.Equal(t, want != "", ok, domain)
	}
}
