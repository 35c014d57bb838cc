package engine

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized covers every handshake-time rejection: bad token, blocked
// IP, disabled user (spec.md 7: AuthError, "reported at handshake; socket is
// rejected").
var ErrUnauthorized = errors.New("engine: unauthorized")

// Claims is the bearer token payload. Name/ID identify the client against
// config.Config.UserEnabled.
type Claims struct {
	jwt.RegisteredClaims
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserChecker reports whether a (id, name) pair is allowed to connect.
// Satisfied by *config.Config.
type UserChecker interface {
	UserEnabled(id, name string) bool
}

// Authenticator verifies the bearer token on the WebSocket upgrade request
// and enforces the IP allow/deny list and the user allowlist.
type Authenticator struct {
	secret   []byte
	allowIPs []*net.IPNet
	denyIPs  []*net.IPNet
	users    UserChecker
}

// NewAuthenticator builds an Authenticator from raw CIDR/IP strings; entries
// that fail to parse as a CIDR are retried as a bare IP with a /32 (or /128)
// mask.
func NewAuthenticator(secret string, allowIPs, denyIPs []string, users UserChecker) (*Authenticator, error) {
	a := &Authenticator{secret: []byte(secret), users: users}
	var err error
	if a.allowIPs, err = parseIPList(allowIPs); err != nil {
		return nil, fmt.Errorf("engine: allow_ips: %w", err)
	}
	if a.denyIPs, err = parseIPList(denyIPs); err != nil {
		return nil, fmt.Errorf("engine: deny_ips: %w", err)
	}
	return a, nil
}

func parseIPList(entries []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, e := range entries {
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP %q", e)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			e = fmt.Sprintf("%s/%d", e, bits)
		}
		_, cidr, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", e, err)
		}
		out = append(out, cidr)
	}
	return out, nil
}

// Authenticate validates the request's bearer token and remote address. A
// nil error means the session may proceed; Claims carries the verified
// identity for Session bookkeeping.
func (a *Authenticator) Authenticate(r *http.Request) (*Claims, error) {
	if err := a.checkIP(r); err != nil {
		return nil, err
	}
	token := bearerToken(r)
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if a.users != nil && !a.users.UserEnabled(claims.ID, claims.Name) {
		return nil, fmt.Errorf("%w: user %s disabled", ErrUnauthorized, claims.Name)
	}
	return claims, nil
}

func (a *Authenticator) checkIP(r *http.Request) error {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: cannot parse remote address %q", ErrUnauthorized, r.RemoteAddr)
	}
	for _, d := range a.denyIPs {
		if d.Contains(ip) {
			return fmt.Errorf("%w: IP %s is denied", ErrUnauthorized, ip)
		}
	}
	if len(a.allowIPs) == 0 {
		return nil
	}
	for _, al := range a.allowIPs {
		if al.Contains(ip) {
			return nil
		}
	}
	return fmt.Errorf("%w: IP %s is not allowlisted", ErrUnauthorized, ip)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return r.URL.Query().Get("token")
}
