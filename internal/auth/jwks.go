package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/LabShare/services/internal/client"
	"github.com/rs/zerolog/log"
)

// DefaultKeySetTTL is how long a fetched key set is reused before refetching.
const DefaultKeySetTTL = time.Hour

var ErrKeyNotFound = errors.New("kid not found in JWKS")

// KeySet fetches and caches the P-256 signing keys published at a JWKS URL.
// The HTTP client honours Cache-Control, the in-process map avoids reparsing.
type KeySet struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration

	mu        sync.RWMutex
	keys      map[string]*ecdsa.PublicKey // kid → public key
	expiresAt time.Time
}

// NewKeySet creates a key set for jwksURL. A nil httpClient uses an in-memory caching client.
func NewKeySet(jwksURL string, httpClient *http.Client) *KeySet {
	if httpClient == nil {
		httpClient = client.NewCachingHTTPClient("", client.DefaultTimeout)
	}

	return &KeySet{
		url:        jwksURL,
		httpClient: httpClient,
		ttl:        DefaultKeySetTTL,
	}
}

// Key returns the public key for kid. Unknown kids trigger one refetch so
// rotated keys are picked up before the TTL runs out.
func (k *KeySet) Key(ctx context.Context, kid string) (*ecdsa.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.keys[kid]
	fresh := time.Now().Before(k.expiresAt)
	k.mu.RUnlock()

	if ok && fresh {
		log.Debug().Str("kid", kid).Msg("JWKS cache hit")
		return key, nil
	}

	keys, err := k.fetch(ctx)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.keys = keys
	k.expiresAt = time.Now().Add(k.ttl)
	k.mu.Unlock()

	key, ok = keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}

	return key, nil
}

func (k *KeySet) fetch(ctx context.Context) (map[string]*ecdsa.PublicKey, error) {
	log.Debug().Str("jwks_url", k.url).Msg("Fetching JWKS")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS request failed: %s", resp.Status)
	}

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*ecdsa.PublicKey, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		kid, ok := jwk["kid"].(string)
		if !ok || kid == "" {
			log.Warn().Msg("JWK missing kid")
			continue
		}

		key, err := parseJWK(jwk)
		if err != nil {
			log.Warn().Err(err).Str("kid", kid).Msg("Failed to parse JWK")
			continue
		}

		keys[kid] = key
	}

	log.Info().Int("total_keys", len(keys)).Bool("from_cache", client.FromCache(resp)).Msg("Loaded JWKS")
	return keys, nil
}

// parseJWK parses a JWK (JSON Web Key) into an ECDSA public key.
func parseJWK(jwk map[string]any) (*ecdsa.PublicKey, error) {
	kty, _ := jwk["kty"].(string)
	if kty != "EC" {
		return nil, fmt.Errorf("unsupported key type: %v", jwk["kty"])
	}

	crv, _ := jwk["crv"].(string)
	if crv != "P-256" {
		return nil, fmt.Errorf("unsupported curve: %v", jwk["crv"])
	}

	xStr, ok := jwk["x"].(string)
	if !ok {
		return nil, errors.New("missing x coordinate")
	}

	yStr, ok := jwk["y"].(string)
	if !ok {
		return nil, errors.New("missing y coordinate")
	}

	xBytes, err := decodeBase64URL(xStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x: %w", err)
	}

	yBytes, err := decodeBase64URL(yStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// decodeBase64URL decodes a base64url string with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// EncodeJWK renders a P-256 public key as a JWK with the given kid.
func EncodeJWK(kid string, key *ecdsa.PublicKey) map[string]any {
	size := (key.Curve.Params().BitSize + 7) / 8
	return map[string]any{
		"kty": "EC",
		"crv": "P-256",
		"alg": "ES256",
		"use": "sig",
		"kid": kid,
		"x":   base64.RawURLEncoding.EncodeToString(key.X.FillBytes(make([]byte, size))),
		"y":   base64.RawURLEncoding.EncodeToString(key.Y.FillBytes(make([]byte, size))),
	}
}
