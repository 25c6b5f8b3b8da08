package tenant

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/paysync/internal/auth"
)

const (
	DefaultHeader = "X-Tenant-ID"
	QueryParam    = "tenantId"
	queryParamAlt = "tenant_id"
)

type Source string

const (
	SourceNone   Source = "none"
	SourceHeader Source = "header"
	SourceQuery  Source = "query"
	SourceClaim  Source = "claim"
)

// Resolver derives the request tenant from, in order, the tenant header,
// the tenant query parameter and the tenant claim of a bearer token.
// A malformed value at any source counts as absent.
type Resolver struct {
	header   string
	verifier *auth.Verifier
}

func NewResolver(header string, verifier *auth.Verifier) *Resolver {
	if header == "" {
		header = DefaultHeader
	}
	return &Resolver{header: header, verifier: verifier}
}

func (res *Resolver) Resolve(r *http.Request) (uuid.UUID, Source) {
	if id, ok := parseID(r.Header.Get(res.header)); ok {
		return id, SourceHeader
	}

	q := r.URL.Query()
	for _, key := range []string{QueryParam, queryParamAlt} {
		if id, ok := parseID(q.Get(key)); ok {
			return id, SourceQuery
		}
	}

	if res.verifier != nil && auth.BearerToken(r) != "" {
		if claims, err := res.verifier.FromRequest(r); err == nil {
			if id, ok := parseID(claims.TenantID); ok {
				return id, SourceClaim
			}
		}
	}

	return uuid.Nil, SourceNone
}

func parseID(raw string) (uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
