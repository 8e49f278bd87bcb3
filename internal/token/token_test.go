package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	iss := NewIssuer([]byte("changethissecret"), time.Hour)

	issued, err := iss.Issue("service/arithmetic")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.NotEmpty(t, issued.ID)
	assert.Equal(t, "service/arithmetic", issued.Domain)
	assert.WithinDuration(t, time.Now().Add(time.Hour), issued.ExpiresAt, 5*time.Second)

	claims, err := iss.Verify(issued.Token, "service/arithmetic")
	require.NoError(t, err)
	assert.Equal(t, "service/arithmetic", claims.Domain)
	assert.Equal(t, issued.ID, claims.ID)
}

func TestVerifyAnyDomain(t *testing.T) {
	iss := NewIssuer([]byte("changethissecret"), time.Hour)
	issued, err := iss.Issue("user/bob")
	require.NoError(t, err)

	claims, err := iss.Verify(issued.Token, "")
	require.NoError(t, err)
	assert.Equal(t, "user/bob", claims.Domain)
}

func TestVerifyDomainMismatch(t *testing.T) {
	iss := NewIssuer([]byte("changethissecret"), time.Hour)
	issued, err := iss.Issue("user/bob")
	require.NoError(t, err)

	_, err = iss.Verify(issued.Token, "user/alice")
	assert.ErrorIs(t, err, ErrDomainMismatch)
}

func TestVerifyWrongSecret(t *testing.T) {
	iss := NewIssuer([]byte("changethissecret"), time.Hour)
	issued, err := iss.Issue("user/bob")
	require.NoError(t, err)

	other := NewIssuer([]byte("differentsecret"), time.Hour)
	_, err = other.Verify(issued.Token, "user/bob")
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	iss := NewIssuer([]byte("changethissecret"), time.Nanosecond)
	issued, err := iss.Issue("user/bob")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = iss.Verify(issued.Token, "user/bob")
	assert.Error(t, err)
}

func TestVerifyGarbage(t *testing.T) {
	iss := NewIssuer([]byte("changethissecret"), time.Hour)
	_, err := iss.Verify("not-a-token", "")
	assert.Error(t, err)
}

func TestSharedSecretCrossIssuer(t *testing.T) {
	a := NewIssuer([]byte("changethissecret"), time.Hour)
	b := NewIssuer([]byte("changethissecret"), time.Hour)

	issued, err := a.Issue("service/link")
	require.NoError(t, err)

	claims, err := b.Verify(issued.Token, "service/link")
	require.NoError(t, err)
	assert.Equal(t, "service/link", claims.Domain)
}
