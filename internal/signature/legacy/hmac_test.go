package legacy

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSHA1Verifier(t *testing.T) {
	mac := hmac.New(sha1.New, []byte("shared"))
	mac.Write([]byte("payload"))
	sig := hex.EncodeToString(mac.Sum(nil))

	v := NewHMACSHA1Verifier("shared")
	assert.True(t, v.Verify("payload", sig))
	assert.False(t, v.Verify("payload!", sig))
	assert.False(t, v.Verify("payload", "zz"))
	assert.False(t, NewHMACSHA1Verifier("").Verify("payload", sig))
}
