// Package auth carries already-authenticated principals and the capability
// grants that gate tenant management.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ha1tch/olu-graph/pkg/models"
)

// Authority is a coarse permission level
type Authority int

const (
	None Authority = iota
	Application
	System
)

func (a Authority) String() string {
	switch a {
	case Application:
		return "APPLICATION"
	case System:
		return "SYSTEM"
	default:
		return "NONE"
	}
}

// Principal is a verified caller
type Principal struct {
	Subject   string
	Authority Authority
	// Application is the key of the tenant an APPLICATION principal is
	// scoped to
	Application string
}

// SystemPrincipal creates a principal with SYSTEM authority
func SystemPrincipal(subject string) Principal {
	return Principal{Subject: subject, Authority: System}
}

// ApplicationPrincipal creates a principal scoped to one application
func ApplicationPrincipal(subject, application string) Principal {
	return Principal{Subject: subject, Authority: Application, Application: application}
}

// Require fails unless the principal holds at least the given authority
func (p Principal) Require(min Authority) error {
	if p.Authority == None {
		return errors.Wrap(models.ErrUnauthenticated, "no credentials presented")
	}
	if p.Authority < min {
		return errors.Wrapf(models.ErrForbidden, "%s authority required, %s has %s", min, p.Subject, p.Authority)
	}
	return nil
}

// RequireApplication fails unless the principal may act on the application
func (p Principal) RequireApplication(application string) error {
	if err := p.Require(Application); err != nil {
		return err
	}
	if p.Authority == System || p.Application == application {
		return nil
	}
	return errors.Wrapf(models.ErrForbidden, "%s is not scoped to application %s", p.Subject, application)
}

type contextKey struct{}

// WithPrincipal stores p in the context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored in ctx, or an anonymous one
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(contextKey{}).(Principal)
	return p
}

// Capability names an elevated operation
type Capability string

// CapabilityManageTenants allows creating applications
const CapabilityManageTenants Capability = "tenants:manage"

// DefaultGrantTTL bounds the lifetime of a grant
const DefaultGrantTTL = 5 * time.Minute

// Grant is a signed, short-lived capability token. Only an Issuer can mint
// one and tenant-scoped principals never receive one.
type Grant struct {
	capability Capability
	subject    string
	expires    time.Time
	signature  []byte
}

// Subject returns the principal the grant was issued to
func (g Grant) Subject() string {
	return g.subject
}

// Issuer mints and verifies grants
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. An empty secret is replaced by a random one,
// which invalidates grants across restarts.
func NewIssuer(secret []byte) (*Issuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, errors.Wrap(err, "failed to generate grant secret")
		}
	}
	return &Issuer{secret: secret, ttl: DefaultGrantTTL, now: time.Now}, nil
}

// Grant issues capability c to p. Only SYSTEM principals are eligible.
func (i *Issuer) Grant(p Principal, c Capability) (Grant, error) {
	if err := p.Require(System); err != nil {
		return Grant{}, errors.Wrapf(err, "cannot grant %s", c)
	}
	g := Grant{capability: c, subject: p.Subject, expires: i.now().Add(i.ttl)}
	g.signature = i.sign(g)
	return g, nil
}

// Verify checks that g is authentic, unexpired and carries c
func (i *Issuer) Verify(g Grant, c Capability) error {
	if g.signature == nil {
		return errors.Wrapf(models.ErrForbidden, "missing %s grant", c)
	}
	if !hmac.Equal(g.signature, i.sign(g)) {
		return errors.Wrap(models.ErrForbidden, "grant signature mismatch")
	}
	if g.capability != c {
		return errors.Wrapf(models.ErrForbidden, "grant is for %s, not %s", g.capability, c)
	}
	if i.now().After(g.expires) {
		return errors.Wrapf(models.ErrForbidden, "%s grant expired", c)
	}
	return nil
}

func (i *Issuer) sign(g Grant) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(g.capability))
	mac.Write([]byte{0})
	mac.Write([]byte(g.subject))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(g.expires.UnixNano(), 10)))
	return mac.Sum(nil)
}
