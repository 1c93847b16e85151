package router

import (
	"testing"

	"github.com/ravelproxy/ravel/internal/core/domain"
)

func buildTestRouter() *Router {
	exact := &domain.Rule{MatchKind: domain.MatchExact, MatchString: "/health", UpstreamNames: []string{"health-origin"}}
	glob := &domain.Rule{MatchKind: domain.MatchGlob, MatchString: "/api/*", UpstreamNames: []string{"api-origin"}}
	regex := &domain.Rule{MatchKind: domain.MatchRegex, MatchString: `^/v[0-9]+/users$`, UpstreamNames: []string{"users-origin"}}
	def := &domain.Rule{MatchKind: domain.MatchDefault, UpstreamNames: []string{"default-origin"}}

	app := &domain.VHost{PrimaryName: "app.example.com", Rules: []*domain.Rule{exact, glob, regex, def}}
	wild := &domain.VHost{Wildcard: true, Rules: []*domain.Rule{def}}

	return New([]*domain.VHost{app, wild})
}

func TestMatchExactWinsOverDefault(t *testing.T) {
	r := buildTestRouter()
	_, rule, err := r.Match("app.example.com", "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.MatchString != "/health" {
		t.Fatalf("expected exact rule, got %+v", rule)
	}
}

func TestMatchGlob(t *testing.T) {
	r := buildTestRouter()
	_, rule, err := r.Match("app.example.com", "/api/widgets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.MatchKind != domain.MatchGlob {
		t.Fatalf("expected glob rule, got %+v", rule)
	}
}

func TestMatchRegex(t *testing.T) {
	r := buildTestRouter()
	_, rule, err := r.Match("app.example.com:8443", "/v2/users")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.MatchKind != domain.MatchRegex {
		t.Fatalf("expected regex rule to match with port stripped from host, got %+v", rule)
	}
}

func TestUnknownHostFallsBackToWildcard(t *testing.T) {
	r := buildTestRouter()
	_, rule, err := r.Match("unknown.example.com", "/anything")
	if err != nil {
		t.Fatalf("expected wildcard vhost to catch unknown host, got error %v", err)
	}
	if rule.MatchKind != domain.MatchDefault {
		t.Fatalf("expected default rule from wildcard vhost, got %+v", rule)
	}
}

func TestNoWildcardNoMatchReturnsErrNoRouteFound(t *testing.T) {
	exact := &domain.Rule{MatchKind: domain.MatchExact, MatchString: "/only"}
	app := &domain.VHost{PrimaryName: "app.example.com", Rules: []*domain.Rule{exact}}
	r := New([]*domain.VHost{app})

	_, _, err := r.Match("nope.example.com", "/x")
	if _, ok := err.(*domain.ErrNoRouteFound); !ok {
		t.Fatalf("expected *domain.ErrNoRouteFound, got %T (%v)", err, err)
	}
}

func TestKeepAliveNormalization(t *testing.T) {
	cases := []struct {
		version, conn string
		want          bool
	}{
		{"HTTP/1.1", "", false},
		{"HTTP/1.1", "close", true},
		{"HTTP/1.0", "", true},
		{"HTTP/1.0", "keep-alive", false},
	}
	for _, tc := range cases {
		if got := NormalizeKeepAlive(tc.version, tc.conn); got != tc.want {
			t.Errorf("NormalizeKeepAlive(%q,%q) = %v, want %v", tc.version, tc.conn, got, tc.want)
		}
	}
}

func TestIsPassthroughOnConnect(t *testing.T) {
	rule := &domain.Rule{}
	if !IsPassthrough(rule, domain.MethodConnect, "") {
		t.Fatal("CONNECT must always be passthrough")
	}
	if !IsPassthrough(rule, "GET", "websocket") {
		t.Fatal("an Upgrade header must force passthrough")
	}
	if IsPassthrough(rule, "GET", "") {
		t.Fatal("a plain GET with no passthrough flag must not be passthrough")
	}
}
