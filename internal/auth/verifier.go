package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/naelolaiz/JDY-31-PSG9080/internal/config"
)

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet represents a JSON Web Key Set.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type cachedKey struct {
	key     *rsa.PublicKey
	fetched time.Time
}

// Verifier checks HS256 or RS256 tokens.
type Verifier struct {
	cfg        config.AuthConfig
	publicKey  *rsa.PublicKey
	httpClient *http.Client

	// fetchMu serializes JWKS downloads; mu guards the cache.
	fetchMu   sync.Mutex
	mu        sync.RWMutex
	jwks      map[string]cachedKey
	lastFetch time.Time
}

var _ TokenVerifier = (*Verifier)(nil)

// NewVerifier builds a verifier from the auth config. For RS256 the PEM key
// is read from disk and the JWKS endpoint, if any, is fetched once up front.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{
		cfg:        cfg,
		jwks:       make(map[string]cachedKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	switch cfg.Algorithm {
	case "RS256":
		if cfg.PublicKeyFile != "" {
			data, err := os.ReadFile(cfg.PublicKeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read public key: %w", err)
			}
			if v.publicKey, err = parsePublicKeyPEM(data); err != nil {
				return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
			}
		}
		if cfg.JWKSURL != "" {
			if err := v.fetchJWKS(); err != nil {
				return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
			}
		}
	case "HS256":
		if cfg.Secret == "" {
			return nil, errors.New("HS256 requires a secret")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}
	return v, nil
}

// VerifyToken verifies a token and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, errors.New("token cannot be empty")
	}

	token, err := jwt.Parse(tokenString, v.keyFunc, jwt.WithValidMethods([]string{v.cfg.Algorithm}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return extractClaims(claims)
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.cfg.Algorithm == "HS256" {
		return []byte(v.cfg.Secret), nil
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		if v.publicKey == nil {
			return nil, errors.New("no public key available")
		}
		return v.publicKey, nil
	}
	return v.keyFromJWKS(kid)
}

func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("missing or invalid 'sub' claim")
	}
	roles, err := stringSlice(claims, "roles")
	if err != nil {
		return nil, err
	}
	scopes, err := stringSlice(claims, "scopes")
	if err != nil {
		return nil, err
	}
	if !allIn(roles, RoleViewer, RoleController) {
		return nil, fmt.Errorf("invalid roles: %v", roles)
	}
	if !allIn(scopes, ScopeRead, ScopeControl, ScopeTelemetry) {
		return nil, fmt.Errorf("invalid scopes: %v", scopes)
	}
	return &Claims{Subject: sub, Roles: roles, Scopes: scopes}, nil
}

func stringSlice(claims jwt.MapClaims, key string) ([]string, error) {
	raw, ok := claims[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid '%s' claim", key)
	}
	out := make([]string, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("invalid '%s' claim: not a string", key)
		}
		out[i] = s
	}
	return out, nil
}

// allIn reports whether values is non-empty and every value is allowed.
func allIn(values []string, allowed ...string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		ok := false
		for _, a := range allowed {
			if v == a {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func parsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

// keyFromJWKS returns the cached key for kid, refetching the key set when
// the entry expired or is unknown and the refresh interval has passed.
func (v *Verifier) keyFromJWKS(kid string) (*rsa.PublicKey, error) {
	if v.cfg.JWKSURL == "" {
		return nil, fmt.Errorf("key not found: %s", kid)
	}

	v.mu.RLock()
	entry, ok := v.jwks[kid]
	stale := time.Since(v.lastFetch) > v.cfg.JWKSRefreshInterval
	v.mu.RUnlock()

	if ok && time.Since(entry.fetched) < v.cfg.JWKSCacheTimeout {
		return entry.key, nil
	}
	if !stale {
		return nil, fmt.Errorf("key not found: %s", kid)
	}

	if err := v.fetchJWKS(); err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}

	v.mu.RLock()
	entry, ok = v.jwks[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	return entry.key, nil
}

func (v *Verifier) fetchJWKS() error {
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	resp, err := v.httpClient.Get(v.cfg.JWKSURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	var set JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	now := time.Now()
	keys := make(map[string]cachedKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Use != "sig" || k.Alg != "RS256" {
			continue
		}
		pub, err := jwkToRSAPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = cachedKey{key: pub, fetched: now}
	}

	v.mu.Lock()
	v.jwks = keys
	v.lastFetch = now
	v.mu.Unlock()
	return nil
}

func jwkToRSAPublicKey(k JWK) (*rsa.PublicKey, error) {
	n, err := base64URLDecode(k.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	e, err := base64URLDecode(k.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp int
	for _, b := range e {
		exp = exp<<8 + int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exp}, nil
}

// base64URLDecode accepts base64url with or without padding.
func base64URLDecode(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
