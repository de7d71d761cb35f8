package stun

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	m := New(ClassRequest, MethodBinding)
	m.AddUsername("abcd:wxyz")
	m.AddPriority(0x6e7f1eff)
	m.AddMessageIntegrity(strings.Repeat("r", 24))
	m.AddFingerprint()

	raw := m.Marshal()

	parsed, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, m.Class, parsed.Class)
	assert.Equal(t, m.Method, parsed.Method)
	assert.Equal(t, m.TransactionID, parsed.TransactionID)
	assert.Equal(t, "abcd:wxyz", parsed.Username())

	p, ok := parsed.Priority()
	require.True(t, ok)
	assert.Equal(t, uint32(0x6e7f1eff), p)
}

func TestMessageIntegrityValidAndTamperDetection(t *testing.T) {
	const pwd = "rrrrrrrrrrrrrrrrrrrrrrrr"

	m := New(ClassRequest, MethodBinding)
	m.AddUsername("abcd:wxyz")
	m.AddPriority(1)
	m.AddMessageIntegrity(pwd)
	m.AddFingerprint()
	raw := m.Marshal()

	assert.True(t, VerifyMessageIntegrity(raw, pwd))

	// Changing any byte of the message should break verification.
	tampered := append([]byte(nil), raw...)
	tampered[0] ^= 0x01
	assert.False(t, VerifyMessageIntegrity(tampered, pwd))

	// Changing one bit of the password should also break verification.
	assert.False(t, VerifyMessageIntegrity(raw, "srrrrrrrrrrrrrrrrrrrrrrr"))
}

func TestFingerprintValidation(t *testing.T) {
	m := New(ClassRequest, MethodBinding)
	m.AddFingerprint()
	raw := m.Marshal()

	assert.True(t, ValidateFingerprint(raw))

	corrupted := append([]byte(nil), raw...)
	corrupted[len(corrupted)-1] ^= 0xFF
	assert.False(t, ValidateFingerprint(corrupted))
}

func TestFingerprintShortBufferDoesNotPanic(t *testing.T) {
	buf := make([]byte, 19)
	assert.False(t, ValidateFingerprint(buf))
}

func TestParseRejectsNonSTUN(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err := Parse(buf)
	assert.Error(t, err)
}

func TestXorMappedAddressRoundTrip(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1").To4(), Port: 40000}

	m := New(ClassSuccessResponse, MethodBinding)
	m.SetXorMappedAddress(addr)
	m.AddFingerprint()
	raw := m.Marshal()

	got, err := Parse(raw)
	require.NoError(t, err)

	out := got.XorMappedAddress()
	require.NotNil(t, out)
	assert.Equal(t, addr.Port, out.Port)
	assert.True(t, addr.IP.Equal(out.IP))
}
