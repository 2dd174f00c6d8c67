package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAddressPhone(t *testing.T) {
	address, err := ClassifyAddress("+6281234567890")
	require.NoError(t, err)

	assert.Equal(t, AddressPhone, address.Kind)
	assert.Equal(t, "6281234567890", address.JID.User)
	assert.Equal(t, "s.whatsapp.net", address.JID.Server)
	assert.Equal(t, "6281234567890@s.whatsapp.net", address.Canonical)
}

func TestClassifyAddressGroup(t *testing.T) {
	address, err := ClassifyAddress("120363025246125486@g.us")
	require.NoError(t, err)

	assert.Equal(t, AddressGroup, address.Kind)
	assert.Equal(t, "g.us", address.JID.Server)
	assert.Equal(t, "120363025246125486@g.us", address.Canonical)
}

func TestClassifyAddressLegacyGroup(t *testing.T) {
	address, err := ClassifyAddress("6281234567890-1630000000@g.us")
	require.NoError(t, err)
	assert.Equal(t, AddressGroup, address.Kind)
}

func TestClassifyAddressContact(t *testing.T) {
	for _, raw := range []string{"6281234567890@c.us", "6281234567890@s.whatsapp.net"} {
		address, err := ClassifyAddress(raw)
		require.NoError(t, err, raw)

		assert.Equal(t, AddressContact, address.Kind)
		assert.Equal(t, "6281234567890@s.whatsapp.net", address.Canonical)
	}
}

func TestClassifyAddressRejectsInvalid(t *testing.T) {
	invalid := []string{
		"",
		"not-a-number",
		"081234567890",
		"+0123",
		"+",
		"abc@g.us",
		"6281234567890@x.us",
		"+628123456789012345678",
	}
	for _, raw := range invalid {
		_, err := ClassifyAddress(raw)
		assert.ErrorIs(t, err, ErrInvalidAddress, raw)
	}
}

func TestClassifyAddressTrimsWhitespace(t *testing.T) {
	address, err := ClassifyAddress("  +6281234567890 ")
	require.NoError(t, err)
	assert.Equal(t, AddressPhone, address.Kind)
}

func TestAddressKindString(t *testing.T) {
	assert.Equal(t, "phone", AddressPhone.String())
	assert.Equal(t, "group", AddressGroup.String())
	assert.Equal(t, "contact", AddressContact.String())
}
