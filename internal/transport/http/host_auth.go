package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

const (
	hostCookieName   = "host_auth"
	hostKeyHeader    = "X-Host-Key"
	hostCookieMaxAge = 30 * 24 * time.Hour
)

// HostAuth decides whether a request carries the host capability. The shared
// key is never stored client side; the cookie holds an HMAC derived from it.
type HostAuth struct {
	key       string
	signature string
}

func NewHostAuth(key string) *HostAuth {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte("host-ok"))
	return &HostAuth{
		key:       key,
		signature: hex.EncodeToString(mac.Sum(nil)),
	}
}

// Capability inspects the X-Host-Key header, the key query parameter and the
// host_auth cookie, in that order.
func (a *HostAuth) Capability(r *http.Request) domain.Capability {
	if a.key == "" {
		return domain.CapabilityPlayer
	}
	if a.matchesKey(r.Header.Get(hostKeyHeader)) || a.matchesKey(r.URL.Query().Get("key")) {
		return domain.CapabilityHost
	}
	if c, err := r.Cookie(hostCookieName); err == nil && equal(c.Value, a.signature) {
		return domain.CapabilityHost
	}
	return domain.CapabilityPlayer
}

func (a *HostAuth) matchesKey(candidate string) bool {
	return candidate != "" && equal(candidate, a.key)
}

// Login sets the host cookie when the posted key matches.
func (a *HostAuth) Login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	key := r.PostFormValue("key")
	if key == "" {
		key = r.Header.Get(hostKeyHeader)
	}
	if a.key == "" || !a.matchesKey(key) {
		log.Warn().Str("remote", r.RemoteAddr).Msg("host login rejected")
		writeJSON(w, http.StatusUnauthorized, ackPayload{OK: false, Error: "invalid host key"})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     hostCookieName,
		Value:    a.signature,
		Path:     "/",
		MaxAge:   int(hostCookieMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isHTTPS(r),
	})
	log.Info().Str("remote", r.RemoteAddr).Msg("host logged in")
	writeJSON(w, http.StatusOK, ackPayload{OK: true})
}

// Logout clears the host cookie.
func (a *HostAuth) Logout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	http.SetCookie(w, &http.Cookie{
		Name:     hostCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isHTTPS(r),
	})
	writeJSON(w, http.StatusOK, ackPayload{OK: true})
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
