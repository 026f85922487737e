package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSigner_SignVerify(t *testing.T) {
	s := NewSigner("secret")
	body := []byte(`{"chain_id":137,"event_type":"escrow_created"}`)

	sig := s.Sign(body)
	assert.NotEmpty(t, sig)
	assert.True(t, s.Verify(body, sig))
}

func TestSigner_RejectsTamperedBody(t *testing.T) {
	s := NewSigner("secret")
	sig := s.Sign([]byte(`{"event_type":"escrow_created"}`))

	assert.False(t, s.Verify([]byte(`{"event_type":"escrow_canceled"}`), sig))
}

func TestSigner_RejectsWrongKey(t *testing.T) {
	body := []byte(`{"event_type":"escrow_created"}`)
	sig := NewSigner("secret").Sign(body)

	assert.False(t, NewSigner("other").Verify(body, sig))
}

func TestSigner_RejectsMalformedSignature(t *testing.T) {
	s := NewSigner("secret")
	assert.False(t, s.Verify([]byte(`{}`), "not-hex"))
	assert.False(t, s.Verify([]byte(`{}`), ""))
}

func TestSigner_Deterministic(t *testing.T) {
	s := NewSigner("secret")
	body := []byte(`{"job_id":"abc"}`)
	assert.Equal(t, s.Sign(body), s.Sign(body))
}
