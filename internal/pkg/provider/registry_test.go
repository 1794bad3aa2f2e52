package provider

import (
	"bytes"
	"testing"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/internal/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) (*Registry, *security.Sealer) {
	t.Helper()
	sealer, err := security.NewSealer(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	return NewRegistry(sealer, Platform{Stripe: StripePlatform{ConnectClientID: "ca_1", SecretKey: "sk_platform"}}, nil, nil), sealer
}

func sealedConfig(t *testing.T, sealer *security.Sealer, providerType string, creds Credentials) *models.ProviderConfig {
	t.Helper()
	blob, err := sealer.SealMap(creds)
	require.NoError(t, err)
	secret, err := sealer.SealString("whsec_1")
	require.NoError(t, err)
	return &models.ProviderConfig{ID: "cfg-" + providerType, ProviderType: providerType, Credentials: blob, WebhookSecret: secret}
}

func TestRegistry_CachesUntilInvalidated(t *testing.T) {
	r, sealer := testRegistry(t)
	cfg := sealedConfig(t, sealer, models.ProviderStripe, StripeCredentials{SecretKey: "sk_test"}.Map())

	first, err := r.Adapter(cfg)
	require.NoError(t, err)
	second, err := r.Adapter(cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, models.ProviderStripe, first.Type())

	r.Invalidate(cfg.ID)
	third, err := r.Adapter(cfg)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestRegistry_BuildsPayPal(t *testing.T) {
	r, sealer := testRegistry(t)
	cfg := sealedConfig(t, sealer, models.ProviderPayPal, PayPalCredentials{ClientID: "id", ClientSecret: "secret"}.Map())

	a, err := r.Adapter(cfg)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderPayPal, a.Type())
	assert.Equal(t, "id", a.Credentials()["client_id"])
}

func TestRegistry_ConfigurationErrors(t *testing.T) {
	r, sealer := testRegistry(t)

	_, err := r.Adapter(&models.ProviderConfig{ID: "x", ProviderType: "square"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = r.Adapter(&models.ProviderConfig{ID: "y", ProviderType: models.ProviderStripe, Credentials: "garbage"})
	assert.ErrorIs(t, err, ErrConfiguration)

	missingKey := sealedConfig(t, sealer, models.ProviderStripe, Credentials{"account_id": "acct_1"})
	_, err = r.Adapter(missingKey)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = r.PlatformAdapter("square")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_PlatformAdapter(t *testing.T) {
	r, _ := testRegistry(t)

	a, err := r.PlatformAdapter(models.ProviderStripe)
	require.NoError(t, err)
	assert.Empty(t, a.Credentials())

	assert.True(t, r.HasPlatformCredentials(models.ProviderStripe))
	assert.False(t, r.HasPlatformCredentials(models.ProviderPayPal))
}

func TestDecodeCredentials(t *testing.T) {
	_, err := DecodePayPalCredentials(Credentials{"client_id": "a", "client_secret": "b", "sandbox": "perhaps"})
	assert.ErrorIs(t, err, ErrConfiguration)

	creds, err := DecodePayPalCredentials(Credentials{"client_id": "a", "client_secret": "b", "sandbox": "true"})
	require.NoError(t, err)
	assert.True(t, creds.Sandbox)

	_, err = DecodeStripeCredentials(Credentials{})
	assert.ErrorIs(t, err, ErrConfiguration)
}
