package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sourcejob/controlplane/internal/apperr"
)

// ErrIdPCircuitOpen is returned by the breaker's fail-fast gate; callers
// map it to Unavailable exactly like a request timeout.
var ErrIdPCircuitOpen = errors.New("identity provider circuit open")

// idPBreaker adapts the teacher's notification circuit breaker shape
// to guard outbound calls to the external identity provider instead of
// an outbound email/SMS send — same closed/open/half-open state
// machine, same consecutive-failure-threshold-then-cooldown shape.
type idPBreaker struct {
	cfg BreakerConfig
	mu  sync.Mutex

	state string // "closed" | "open" | "half_open"

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

type BreakerConfig struct {
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	HalfOpenMaxCalls int
}

func newIdPBreaker(cfg BreakerConfig) *idPBreaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &idPBreaker{cfg: cfg, state: "closed"}
}

func (b *idPBreaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case "closed":
		return true
	case "open":
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.state = "half_open"
			b.halfOpenInFlight = 0
			return true
		}
		return false
	case "half_open":
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (b *idPBreaker) afterRequest(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == "half_open" && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if !failed {
		b.consecutiveFailures = 0
		b.state = "closed"
		return
	}

	b.consecutiveFailures++
	if b.state == "half_open" {
		b.state = "open"
		b.openedAt = time.Now()
		return
	}
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = "open"
		b.openedAt = time.Now()
	}
}

// idPIntrospectionResponse is the subset of the identity provider's
// token-introspection payload this module cares about. Role is read
// only from app_metadata.role (§6) — never from a top-level/
// user-controlled "role" claim.
type idPIntrospectionResponse struct {
	Active       bool   `json:"active"`
	Subject      string `json:"sub"`
	AppMetadata  struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
}

// HumanVerifier validates a bearer token against the external identity
// provider over HTTPS (§6), mapping an explicit provider rejection to
// Unauthorized and a network/timeout failure to Unavailable — the two
// are distinct per §7's error taxonomy.
type HumanVerifier struct {
	httpClient *http.Client
	breaker    *idPBreaker
	issuer     string
	introspectURL string
	audience   string
}

func NewHumanVerifier(issuer, introspectURL, audience string, breakerCfg BreakerConfig) *HumanVerifier {
	timeout := breakerCfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HumanVerifier{
		httpClient:    &http.Client{Timeout: timeout},
		breaker:       newIdPBreaker(breakerCfg),
		issuer:        issuer,
		introspectURL: introspectURL,
		audience:      audience,
	}
}

func (v *HumanVerifier) Verify(ctx context.Context, bearerToken string) (Human, error) {
	token := strings.TrimPrefix(strings.TrimSpace(bearerToken), "Bearer ")
	if token == "" {
		return Human{}, apperr.Unauthorized("missing_bearer_token", "Authorization: Bearer token is required")
	}

	if !v.breaker.allowRequest() {
		return Human{}, apperr.Unavailable("identity_provider_unavailable", "identity provider circuit is open")
	}

	introspected, err := v.introspect(ctx, token)
	if err != nil {
		v.breaker.afterRequest(true)
		return Human{}, apperr.Unavailable("identity_provider_unreachable", "could not reach identity provider")
	}
	v.breaker.afterRequest(false)

	if !introspected.Active {
		return Human{}, apperr.Unauthorized("token_rejected", "identity provider rejected the token")
	}
	if introspected.Subject == "" {
		return Human{}, apperr.Unauthorized("token_missing_subject", "identity provider response had no subject")
	}

	role := introspected.AppMetadata.Role
	return Human{
		UserID: introspected.Subject,
		Role:   role,
		Scopes: ScopesForRole(role),
	}, nil
}

func (v *HumanVerifier) introspect(ctx context.Context, token string) (idPIntrospectionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.introspectURL, nil)
	if err != nil {
		return idPIntrospectionResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.audience != "" {
		req.Header.Set("X-Audience", v.audience)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return idPIntrospectionResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return idPIntrospectionResponse{}, fmt.Errorf("identity provider returned %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return idPIntrospectionResponse{Active: false}, nil
	}

	var out idPIntrospectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return idPIntrospectionResponse{}, err
	}
	return out, nil
}
