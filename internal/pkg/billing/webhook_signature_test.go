package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifyStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := StripeSignatureHeader(payload, "whsec_test", now)

	assert.NoError(t, VerifyStripeSignature(payload, header, "whsec_test", DefaultSignatureTolerance, now.Add(time.Minute)))
	assert.ErrorIs(t, VerifyStripeSignature(payload, header, "whsec_other", DefaultSignatureTolerance, now), ErrSignatureInvalid)
	assert.ErrorIs(t, VerifyStripeSignature([]byte(`{"id":"evt_2"}`), header, "whsec_test", DefaultSignatureTolerance, now), ErrSignatureInvalid)
	assert.ErrorIs(t, VerifyStripeSignature(payload, header, "whsec_test", DefaultSignatureTolerance, now.Add(time.Hour)), ErrSignatureTooOld)
	assert.ErrorIs(t, VerifyStripeSignature(payload, "", "whsec_test", DefaultSignatureTolerance, now), ErrSignatureMissing)
	assert.ErrorIs(t, VerifyStripeSignature(payload, "t=1700000000", "whsec_test", DefaultSignatureTolerance, now), ErrSignatureMissing)
	assert.ErrorIs(t, VerifyStripeSignature(payload, header, "", DefaultSignatureTolerance, now), ErrSecretUnavailable)
}

func TestVerifyStripeSignatureAcceptsRotatedSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := StripeSignatureHeader(payload, "whsec_new", now) + ",v1=deadbeef"

	assert.NoError(t, VerifyStripeSignature(payload, header, "whsec_new", DefaultSignatureTolerance, now))
}
