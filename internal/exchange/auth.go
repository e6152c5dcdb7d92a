package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"ladder-mm/internal/config"
)

// Credentials is the HMAC API key triplet used to sign every request.
type Credentials struct {
	ApiKey     string
	ApiSecret  string
	Passphrase string
}

// Auth signs REST and streaming requests with HMAC-SHA256, following the
// exchange's v1 (plain passphrase) / v2 (HMAC'd passphrase) scheme.
//
// Request signing: signature = base64(HMAC-SHA256(secret, timestamp_ms +
// UPPER(method) + path + body)), using standard (not URL-safe) base64.
// Streaming handshake signing uses a distinct message (apikey||timestamp)
// and always HMACs the passphrase, regardless of v1/v2.
type Auth struct {
	creds Credentials
	useV2 bool
}

// NewAuth builds an Auth from configured credentials.
func NewAuth(cfg config.Config) (*Auth, error) {
	if cfg.Credentials.ApiKey == "" || cfg.Credentials.ApiSecret == "" || cfg.Credentials.Passphrase == "" {
		return nil, fmt.Errorf("credentials: api_key, api_secret, and passphrase are all required")
	}
	return &Auth{
		creds: Credentials{
			ApiKey:     cfg.Credentials.ApiKey,
			ApiSecret:  cfg.Credentials.ApiSecret,
			Passphrase: cfg.Credentials.Passphrase,
		},
		useV2: cfg.Credentials.UseV2,
	}, nil
}

// ApiKey returns the configured API key (safe to log; never logs the secret).
func (a *Auth) ApiKey() string {
	return a.creds.ApiKey
}

// String redacts the secret and passphrase so Auth is safe to log directly.
func (a *Auth) String() string {
	key := a.creds.ApiKey
	if len(key) > 8 {
		key = key[:8] + "..."
	}
	return fmt.Sprintf("Auth{api_key=%s, use_v2=%v}", key, a.useV2)
}

// RESTHeaders computes the signed headers for a REST request.
func (a *Auth) RESTHeaders(method, path, body string) (map[string]string, error) {
	timestamp := timestampMs()

	strToSign := timestamp + methodUpper(method) + path + body
	sig, err := hmacSign(a.creds.ApiSecret, strToSign)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	passphrase := a.creds.Passphrase
	version := "1"
	if a.useV2 {
		passphrase, err = hmacSign(a.creds.ApiSecret, a.creds.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("sign passphrase: %w", err)
		}
		version = "2"
	}

	return map[string]string{
		"KC-API-KEY":         a.creds.ApiKey,
		"KC-API-SIGN":        sig,
		"KC-API-TIMESTAMP":   timestamp,
		"KC-API-PASSPHRASE":  passphrase,
		"KC-API-KEY-VERSION": version,
	}, nil
}

// StreamHandshake produces the (timestamp, signature, passphrase) triplet
// used to authenticate the duplex streaming connection. The passphrase is
// always HMAC'd here, independent of the REST v1/v2 setting.
func (a *Auth) StreamHandshake() (timestamp, signature, passphrase string, err error) {
	timestamp = timestampMs()
	strToSign := a.creds.ApiKey + timestamp
	signature, err = hmacSign(a.creds.ApiSecret, strToSign)
	if err != nil {
		return "", "", "", fmt.Errorf("sign handshake: %w", err)
	}
	passphrase, err = hmacSign(a.creds.ApiSecret, a.creds.Passphrase)
	if err != nil {
		return "", "", "", fmt.Errorf("sign handshake passphrase: %w", err)
	}
	return timestamp, signature, passphrase, nil
}

func methodUpper(method string) string {
	out := make([]byte, len(method))
	for i := 0; i < len(method); i++ {
		c := method[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func hmacSign(secret, message string) (string, error) {
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(message)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func timestampMs() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
