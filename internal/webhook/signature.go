package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// slackTimestampSkew is the replay window for slack-style signed requests.
const slackTimestampSkew = 5 * time.Minute

// ErrBadSignature rejects a delivery before any processing. Fails closed:
// a missing secret is as fatal as a wrong signature.
type ErrBadSignature struct {
	Provider store.Provider
	Reason   string
}

func (e *ErrBadSignature) Error() string {
	return fmt.Sprintf("%s webhook signature rejected: %s", e.Provider, e.Reason)
}

// Validator verifies per-provider HMAC signatures over the raw body.
type Validator struct {
	secrets map[store.Provider]string
	now     func() time.Time
}

// NewValidator creates a validator with per-provider shared secrets.
func NewValidator(secrets map[store.Provider]string) *Validator {
	return &Validator{secrets: secrets, now: time.Now}
}

// Validate checks the request signature for provider. Constant-time
// comparison throughout; any failure stops processing before matching.
func (v *Validator) Validate(provider store.Provider, header http.Header, body []byte) error {
	secret := v.secrets[provider]
	if secret == "" {
		return &ErrBadSignature{Provider: provider, Reason: "no secret configured"}
	}

	switch provider {
	case store.ProviderGitHub:
		return v.checkPrefixedSHA256(provider, header.Get("X-Hub-Signature-256"), secret, body)
	case store.ProviderJira:
		return v.checkPrefixedSHA256(provider, header.Get("X-Hub-Signature"), secret, body)
	case store.ProviderSentry:
		return v.checkHex(provider, header.Get("Sentry-Hook-Signature"), secret, body)
	case store.ProviderSlack:
		return v.checkSlack(header, secret, body)
	default:
		return &ErrBadSignature{Provider: provider, Reason: "unknown provider"}
	}
}

// checkPrefixedSHA256 verifies "sha256=<hex>" style signatures.
func (v *Validator) checkPrefixedSHA256(provider store.Provider, sig, secret string, body []byte) error {
	if sig == "" {
		return &ErrBadSignature{Provider: provider, Reason: "missing signature header"}
	}
	const prefix = "sha256="
	if !strings.HasPrefix(sig, prefix) {
		return &ErrBadSignature{Provider: provider, Reason: "malformed signature header"}
	}
	want := hmacHex(secret, body)
	if !hmac.Equal([]byte(sig[len(prefix):]), []byte(want)) {
		return &ErrBadSignature{Provider: provider, Reason: "signature mismatch"}
	}
	return nil
}

// checkHex verifies a bare hex HMAC signature.
func (v *Validator) checkHex(provider store.Provider, sig, secret string, body []byte) error {
	if sig == "" {
		return &ErrBadSignature{Provider: provider, Reason: "missing signature header"}
	}
	if !hmac.Equal([]byte(sig), []byte(hmacHex(secret, body))) {
		return &ErrBadSignature{Provider: provider, Reason: "signature mismatch"}
	}
	return nil
}

// checkSlack verifies the v0 signing scheme: HMAC over "v0:<ts>:<body>"
// with a bounded timestamp skew against replays.
func (v *Validator) checkSlack(header http.Header, secret string, body []byte) error {
	sig := header.Get("X-Slack-Signature")
	ts := header.Get("X-Slack-Request-Timestamp")
	if sig == "" || ts == "" {
		return &ErrBadSignature{Provider: store.ProviderSlack, Reason: "missing signature headers"}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return &ErrBadSignature{Provider: store.ProviderSlack, Reason: "malformed timestamp"}
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age > slackTimestampSkew || age < -slackTimestampSkew {
		return &ErrBadSignature{Provider: store.ProviderSlack, Reason: "stale timestamp"}
	}

	base := "v0:" + ts + ":" + string(body)
	want := "v0=" + hmacHex(secret, []byte(base))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return &ErrBadSignature{Provider: store.ProviderSlack, Reason: "signature mismatch"}
	}
	return nil
}

func hmacHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
