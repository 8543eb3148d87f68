package security

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/config"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/events"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/faults"
	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// Permission names one guarded operation class.
type Permission string

// Permissions checked by credentialed operations.
const (
	PermSubmitTask         Permission = "submit:task"
	PermCreateAgent        Permission = "create:agent"
	PermReadStatus         Permission = "read:status"
	PermArbitrateViolation Permission = "arbitrate:violation"

	// PermAdmin implies every other permission.
	PermAdmin Permission = "admin"
)

// rolePermissions maps each role to the permissions it grants.
var rolePermissions = map[models.Role][]Permission{
	models.RoleAdmin:     {PermAdmin},
	models.RoleOperator:  {PermCreateAgent, PermArbitrateViolation, PermReadStatus},
	models.RoleSubmitter: {PermSubmitTask, PermReadStatus},
	models.RoleViewer:    {PermReadStatus},
}

// Credentials identify a caller on a credentialed operation. The token is
// the authentication secret; Actor, when set, must match the principal the
// token resolves to.
type Credentials struct {
	Actor  string `json:"actor,omitempty"`
	Token  string `json:"-"`
	Tenant string `json:"tenant,omitempty"`
}

// AuditEntry records one authorization decision.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
}

// Audit decisions.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
)

// limiterIdleTTL is how long an actor's rate limiter survives without
// traffic before it is evicted.
const limiterIdleTTL = 10 * time.Minute

type principal struct {
	actor       string
	token       []byte
	permissions map[Permission]struct{}
}

func (p *principal) has(perm Permission) bool {
	if _, ok := p.permissions[PermAdmin]; ok {
		return true
	}
	_, ok := p.permissions[perm]
	return ok
}

type actorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Context is the security gate for credentialed operations: constant-time
// token authentication, role-based permission checks, per-actor rate
// limiting, and a bounded audit log. A nil or disabled Context allows
// everything, so callers hold it unconditionally.
type Context struct {
	cfg     *config.SecurityConfig
	emitter events.Emitter

	principals []*principal

	mu        sync.Mutex
	limiters  map[string]*actorLimiter
	lastSweep time.Time

	audit     []AuditEntry
	auditHead int
	auditSize int
}

// NewContext resolves the configured principals (tokens come from the
// environment variables named in config) and returns the security gate.
// When security is disabled the returned context passes everything through.
func NewContext(cfg *config.SecurityConfig, emitter events.Emitter) (*Context, error) {
	sc := &Context{
		cfg:       cfg,
		emitter:   emitter,
		limiters:  make(map[string]*actorLimiter),
		lastSweep: time.Now(),
	}
	if cfg == nil || !cfg.Enabled {
		return sc, nil
	}

	sc.audit = make([]AuditEntry, cfg.AuditLogSize)
	for _, pc := range cfg.Principals {
		token := os.Getenv(pc.TokenEnv)
		if token == "" {
			return nil, fmt.Errorf("principal %q: environment variable %s is empty", pc.Actor, pc.TokenEnv)
		}
		perms := make(map[Permission]struct{})
		for _, role := range pc.Roles {
			for _, perm := range rolePermissions[models.Role(role)] {
				perms[perm] = struct{}{}
			}
		}
		sc.principals = append(sc.principals, &principal{
			actor:       pc.Actor,
			token:       []byte(token),
			permissions: perms,
		})
	}
	return sc, nil
}

// Enabled reports whether the context enforces anything.
func (sc *Context) Enabled() bool {
	return sc != nil && sc.cfg != nil && sc.cfg.Enabled
}

// Authorize runs the full gate for one operation: authenticate the token,
// check the permission, and charge the actor's rate limiter. Every decision
// lands in the audit log; denials also emit a security.denied event. The
// returned error is an authorization fault naming the failure.
func (sc *Context) Authorize(ctx context.Context, cred Credentials, perm Permission, resource string) error {
	if !sc.Enabled() {
		return nil
	}

	p := sc.authenticate(cred)
	if p == nil {
		sc.deny(ctx, cred.Actor, perm, resource, "authentication failed")
		return faults.Authorization("authentication failed").With("permission", string(perm))
	}

	if !p.has(perm) {
		sc.deny(ctx, p.actor, perm, resource, "permission denied")
		return faults.Authorization("actor %q lacks permission %q", p.actor, perm).
			With("actor", p.actor).With("permission", string(perm))
	}

	if !sc.allow(p.actor) {
		sc.deny(ctx, p.actor, perm, resource, "rate limit exceeded")
		return faults.Authorization("actor %q exceeded the request rate limit", p.actor).
			With("actor", p.actor).With("permission", string(perm))
	}

	sc.record(AuditEntry{
		Timestamp: time.Now().UTC(),
		Actor:     p.actor,
		Action:    string(perm),
		Resource:  resource,
		Decision:  DecisionAllowed,
	})
	return nil
}

// authenticate resolves the principal the token belongs to, comparing in
// constant time against every configured token so timing reveals nothing
// about which (if any) principal matched. A mismatched Actor field fails
// authentication even with a valid token.
func (sc *Context) authenticate(cred Credentials) *principal {
	token := []byte(cred.Token)
	var matched *principal
	for _, p := range sc.principals {
		if subtle.ConstantTimeCompare(token, p.token) == 1 {
			matched = p
		}
	}
	if matched == nil {
		return nil
	}
	if cred.Actor != "" && cred.Actor != matched.actor {
		return nil
	}
	return matched
}

// allow charges the actor's token bucket, creating it on first use and
// opportunistically evicting buckets idle past limiterIdleTTL.
func (sc *Context) allow(actor string) bool {
	now := time.Now()

	sc.mu.Lock()
	if now.Sub(sc.lastSweep) > limiterIdleTTL {
		for key, al := range sc.limiters {
			if now.Sub(al.lastSeen) > limiterIdleTTL {
				delete(sc.limiters, key)
			}
		}
		sc.lastSweep = now
	}
	al, ok := sc.limiters[actor]
	if !ok {
		al = &actorLimiter{
			limiter: rate.NewLimiter(rate.Limit(sc.cfg.RateLimitPerSecond), sc.cfg.RateLimitBurst),
		}
		sc.limiters[actor] = al
	}
	al.lastSeen = now
	sc.mu.Unlock()

	return al.limiter.Allow()
}

func (sc *Context) deny(ctx context.Context, actor string, perm Permission, resource, reason string) {
	if actor == "" {
		actor = "unknown"
	}
	sc.record(AuditEntry{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    string(perm),
		Resource:  resource,
		Decision:  DecisionDenied,
		Reason:    reason,
	})
	if sc.emitter != nil {
		sc.emitter.Emit(ctx, models.Event{
			Type:     events.EventTypeSecurityDenied,
			Severity: models.SeverityWarn,
			Source:   "security",
			Metadata: map[string]any{
				"actor":      actor,
				"permission": string(perm),
				"resource":   resource,
				"reason":     reason,
			},
		})
	}
}

// record appends to the audit ring, overwriting the oldest entry when full.
func (sc *Context) record(entry AuditEntry) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.audit) == 0 {
		return
	}
	idx := (sc.auditHead + sc.auditSize) % len(sc.audit)
	sc.audit[idx] = entry
	if sc.auditSize < len(sc.audit) {
		sc.auditSize++
	} else {
		sc.auditHead = (sc.auditHead + 1) % len(sc.audit)
	}
}

// AuditLog returns up to limit audit entries, most recent first. A limit
// of zero or less returns everything retained.
func (sc *Context) AuditLog(limit int) []AuditEntry {
	if sc == nil {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	n := sc.auditSize
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]AuditEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (sc.auditHead + sc.auditSize - 1 - i + len(sc.audit)) % len(sc.audit)
		out = append(out, sc.audit[idx])
	}
	return out
}
