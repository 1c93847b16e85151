// Package router implements the §4.4 two-stage match: Stage 1 picks a VHost
// by Host header (exact name, alias, or wildcard fallback), Stage 2 picks a
// Rule within that VHost by path (exact, glob, regex, or default).
// Grounded on the teacher's glob matcher (internal/util/pattern/glob.go)
// and its request-header helpers (internal/util/request.go).
package router

import (
	"regexp"
	"strings"

	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/util/pattern"
)

// Router holds the configured vhosts and resolves a (host, path) pair to a
// Rule. It is immutable once built; nothing rebuilds or replaces it after
// startup (main.go loads the config once, with no change callback).
type Router struct {
	vhosts   []*domain.VHost
	wildcard *domain.VHost

	regexCache map[string]*regexp.Regexp
}

// New builds a Router from the configured vhosts, in the order they appear
// (that order is also the Stage 1 precedence: first exact/alias match wins).
func New(vhosts []*domain.VHost) *Router {
	r := &Router{regexCache: make(map[string]*regexp.Regexp)}
	for _, v := range vhosts {
		if v.Wildcard {
			r.wildcard = v
			continue
		}
		r.vhosts = append(r.vhosts, v)
	}
	for _, v := range r.vhosts {
		r.precompile(v)
	}
	if r.wildcard != nil {
		r.precompile(r.wildcard)
	}
	return r
}

func (r *Router) precompile(v *domain.VHost) {
	for _, rule := range v.Rules {
		if rule.MatchKind == domain.MatchRegex {
			if _, ok := r.regexCache[rule.MatchString]; !ok {
				if re, err := regexp.Compile(rule.MatchString); err == nil {
					r.regexCache[rule.MatchString] = re
				}
			}
		}
	}
}

// Match resolves host+path to a VHost and its selected Rule. Returns
// domain.ErrNoRouteFound when no vhost matches the host and no wildcard is
// configured, or when the matched vhost has no rule covering the path.
func (r *Router) Match(host, path string) (*domain.VHost, *domain.Rule, error) {
	host = stripPort(host)
	vhost := r.matchVHost(host)
	if vhost == nil {
		return nil, nil, &domain.ErrNoRouteFound{Host: host, Path: path}
	}
	rule := r.matchRule(vhost, path)
	if rule == nil {
		return vhost, nil, &domain.ErrNoRouteFound{Host: host, Path: path}
	}
	return vhost, rule, nil
}

func (r *Router) matchVHost(host string) *domain.VHost {
	for _, v := range r.vhosts {
		if v.Matches(host) {
			return v
		}
	}
	return r.wildcard
}

// matchRule applies Stage 2 in a fixed kind precedence (exact, glob, regex)
// over the configured order within each kind, falling back to the vhost's
// MatchDefault rule if present.
func (r *Router) matchRule(v *domain.VHost, path string) *domain.Rule {
	byKind := map[domain.MatchKind][]*domain.Rule{}
	for _, rule := range v.Rules {
		byKind[rule.MatchKind] = append(byKind[rule.MatchKind], rule)
	}

	for _, rule := range byKind[domain.MatchExact] {
		if rule.MatchString == path {
			return rule
		}
	}
	for _, rule := range byKind[domain.MatchGlob] {
		if pattern.MatchesGlob(path, rule.MatchString) {
			return rule
		}
	}
	for _, rule := range byKind[domain.MatchRegex] {
		if re, ok := r.regexCache[rule.MatchString]; ok && re.MatchString(path) {
			return rule
		}
	}
	if def := byKind[domain.MatchDefault]; len(def) > 0 {
		return def[0]
	}
	return nil
}

func stripPort(host string) string {
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}
