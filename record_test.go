package ddns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordValidate(t *testing.T) {
	valid := Record{Provider: "cf", Name: "home.example.com", Family: IPv4, TTL: 300, Enabled: true}
	require.NoError(t, valid.Validate())

	for name, r := range map[string]Record{
		"no provider":    {Name: "home.example.com", Family: IPv4},
		"bad name":       {Provider: "cf", Name: "localhost", Family: IPv4},
		"bad family":     {Provider: "cf", Name: "home.example.com", Family: 5},
		"negative ttl":   {Provider: "cf", Name: "home.example.com", Family: IPv6, TTL: -1},
		"spaces in name": {Provider: "cf", Name: "my home.example.com", Family: IPv6},
	} {
		err := r.Validate()
		assert.ErrorIs(t, err, ErrInvalidRecord, name)
	}
}

func TestRecordSplitName(t *testing.T) {
	sub, domain, ok := Record{Name: "a.b.example.com."}.SplitName()
	require.True(t, ok)
	assert.Equal(t, "a.b", sub)
	assert.Equal(t, "example.com", domain)

	sub, domain, ok = Record{Name: "example.com"}.SplitName()
	require.True(t, ok)
	assert.Equal(t, "", sub)
	assert.Equal(t, "example.com", domain)
}

func TestRecordKey(t *testing.T) {
	r := Record{Provider: "cf", Name: "Home.Example.com.", Family: IPv6, TTL: 60}
	assert.Equal(t, RecordKey{Provider: "cf", Name: "Home.Example.com.", Family: IPv6}, r.Key())
	assert.Equal(t, "cf/Home.Example.com./6", r.Key().String())
	assert.Equal(t, "home.example.com", r.FQDN())
	assert.Equal(t, "AAAA Home.Example.com. (cf)", r.String())
}
