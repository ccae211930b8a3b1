package facade

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	presignLifetime = 24 * time.Hour
	presignRefloor  = 8 * time.Hour
)

// Presigner rewrites media URLs to the CDN base and signs them with an expiry. URLs are reissued with a
// 24h lifetime; an already-signed URL is left untouched as long as at least 8h of validity remain, so a
// client holding a link in an open tab does not see it invalidated mid-session.
type Presigner struct {
	baseScheme string
	baseHost   string
	key        []byte
	now        func() time.Time
}

// NewPresigner builds a Presigner against cdnBaseURL (the scheme+host new links are rewritten to) using
// hexKey, a hex-encoded HMAC signing key, typically the server's own secret.
func NewPresigner(cdnBaseURL, hexKey string, now func() time.Time) (*Presigner, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode presign key: %w", err)
	}
	base, err := url.Parse(cdnBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse CDN base URL: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Presigner{baseScheme: base.Scheme, baseHost: base.Host, key: key, now: now}, nil
}

// Sign rewrites rawURL's host to the CDN base, preserving its path, and attaches a signed exp query
// param. If rawURL already carries a valid signature with at least 8h of remaining validity, it is
// returned unchanged rather than reissued.
func (p *Presigner) Sign(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse media url: %w", err)
	}

	q := u.Query()
	if expStr, sig := q.Get("exp"), q.Get("sig"); expStr != "" && sig != "" {
		if exp, err := strconv.ParseInt(expStr, 10, 64); err == nil {
			if time.Unix(exp, 0).Sub(p.now()) >= presignRefloor && p.verify(u.Path, exp, sig) {
				return rawURL, nil
			}
		}
	}

	return p.reissue(u.Path), nil
}

func (p *Presigner) reissue(path string) string {
	exp := p.now().Add(presignLifetime).Unix()
	out := url.URL{
		Scheme:   p.baseScheme,
		Host:     p.baseHost,
		Path:     path,
		RawQuery: fmt.Sprintf("exp=%d&sig=%s", exp, p.sign(path, exp)),
	}
	return out.String()
}

func (p *Presigner) sign(path string, exp int64) string {
	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(path))
	mac.Write([]byte(":"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *Presigner) verify(path string, exp int64, sig string) bool {
	return hmac.Equal([]byte(p.sign(path, exp)), []byte(sig))
}
