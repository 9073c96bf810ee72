package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/fairway-identity/platform"
	"github.com/jrsteele09/fairway-identity/platform/liff"
)

const (
	platformTokenHeader    = "X-Platform-ID-Token"
	platformInClientHeader = "X-Platform-In-Client"
	platformTokenCookie    = "fw_platform_token"
)

// LIFFPlatforms reads the host ID token from a header or cookie and checks it with
// one shared OpenID Connect provider.
type LIFFPlatforms struct {
	Provider *liff.Provider
}

var _ PlatformFactory = LIFFPlatforms{}

func (p LIFFPlatforms) Credential(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(platformTokenHeader)); token != "" {
		return token
	}
	if c, err := r.Cookie(platformTokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func (p LIFFPlatforms) ForRequest(r *http.Request, redirect func(string)) platform.SDK {
	return p.Provider.ForVisitor(p.Credential(r), isInClient(r), redirect)
}

// the host's in-app browser announces itself in the user agent
func isInClient(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get(platformInClientHeader), "true") {
		return true
	}
	return strings.Contains(r.UserAgent(), " Line/")
}
