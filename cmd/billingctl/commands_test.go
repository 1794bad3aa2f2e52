package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Almanac/app/models"
)

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"sweep", "cleanup-states", "providers"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestWriteProviders(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeProviders(&buf, nil))
	assert.Equal(t, "no providers linked\n", buf.String())

	buf.Reset()
	require.NoError(t, writeProviders(&buf, []models.ProviderConfig{
		{ID: "cfg-1", ProviderType: models.ProviderStripe, DisplayName: "Stripe", Enabled: true, WebhookID: "we_1"},
		{ID: "cfg-2", ProviderType: models.ProviderPayPal, DisplayName: "PayPal"},
	}))
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "we_1")
	assert.Contains(t, out, "paypal")
	assert.Contains(t, out, "false")
}
