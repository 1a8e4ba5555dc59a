package ddns

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudflareTTL(t *testing.T) {
	for in, want := range map[int]int{0: 1, 1: 1, 30: 60, 60: 60, 3600: 3600} {
		assert.Equal(t, want, cloudflareTTL(in), in)
	}
}

func TestNewCloudflareRequiresToken(t *testing.T) {
	_, err := NewCloudflare("")
	assert.Error(t, err)
}

func TestCloudflareFromConfig(t *testing.T) {
	t.Setenv(CloudflareTokenEnv, "")

	_, err := cloudflareProviderFromConfig(context.Background(), PluginConfig{}, PluginEnv{})
	assert.Error(t, err, "no token anywhere")

	t.Setenv(CloudflareTokenEnv, "from-env")
	p, err := cloudflareProviderFromConfig(context.Background(), PluginConfig{"comment": "home lab", "proxied": false}, PluginEnv{})
	require.NoError(t, err)
	cf := p.(*cloudflareProvider)
	assert.Equal(t, "home lab", cf.comment)
	require.NotNil(t, cf.proxied)
	assert.False(t, *cf.proxied)

	keyfile := filepath.Join(t.TempDir(), "cloudflare")
	require.NoError(t, os.WriteFile(keyfile, []byte("from-file\n"), 0644))
	_, err = cloudflareProviderFromConfig(context.Background(), PluginConfig{"tokenFile": keyfile}, PluginEnv{})
	assert.ErrorContains(t, err, "invalid permissions", "world-readable token files are refused")
}

func TestCloudflareUpdateRequiresAddress(t *testing.T) {
	p, err := NewCloudflare("token")
	require.NoError(t, err)
	err = p.Update(context.Background(), Record{Provider: "cf", Name: "home.example.com", Family: IPv6}, Addresses{})
	assert.ErrorIs(t, err, ErrNoAddress)
}
