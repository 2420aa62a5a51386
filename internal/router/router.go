// Package router chooses the caching strategy for an intercepted request.
package router

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/strategy"
)

// Rules are the inputs of route selection.
type Rules struct {
	APIPrefix        string
	StaticPrefix     string
	StaticExtensions []string
	CDNHosts         []string
}

// RulesFromSettings builds Rules from worker settings.
func RulesFromSettings(w *conf.WorkerSettings) Rules {
	exts := make([]string, 0, len(w.StaticExtensions))
	for _, e := range w.StaticExtensions {
		exts = append(exts, strings.ToLower(e))
	}
	return Rules{
		APIPrefix:        w.APIPrefix,
		StaticPrefix:     w.StaticPrefix,
		StaticExtensions: exts,
		CDNHosts:         slices.Clone(w.CDNHosts),
	}
}

// Route is the outcome of selection. The zero Route means pass-through.
type Route struct {
	Strategy  strategy.Name
	Partition cachestore.Kind
}

// PassThrough leaves the request to the network untouched.
var PassThrough = Route{}

// Intercepted reports whether a strategy handles the request.
func (r Route) Intercepted() bool {
	return r.Strategy != ""
}

func (r Route) String() string {
	if !r.Intercepted() {
		return "pass-through"
	}
	return string(r.Strategy) + "/" + string(r.Partition)
}

// Select picks the route for a request. u must be absolute. The first matching
// rule wins: API prefix, then static assets, then HTML navigations, then
// everything else.
func Select(method string, u *url.URL, header http.Header, rules Rules) Route {
	if method != http.MethodGet {
		return PassThrough
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return PassThrough
	}

	switch {
	case rules.APIPrefix != "" && strings.HasPrefix(u.Path, rules.APIPrefix):
		return Route{Strategy: strategy.NetworkFirst, Partition: cachestore.KindAPI}
	case isStatic(u, rules):
		return Route{Strategy: strategy.CacheFirst, Partition: cachestore.KindStatic}
	case acceptsHTML(header):
		return Route{Strategy: strategy.NetworkFirstHTML, Partition: cachestore.KindDynamic}
	default:
		return Route{Strategy: strategy.StaleWhileRevalidate, Partition: cachestore.KindDynamic}
	}
}

func isStatic(u *url.URL, rules Rules) bool {
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && slices.Contains(rules.StaticExtensions, ext) {
		return true
	}
	if slices.Contains(rules.CDNHosts, u.Hostname()) {
		return true
	}
	return rules.StaticPrefix != "" && strings.HasPrefix(u.Path, rules.StaticPrefix)
}

func acceptsHTML(h http.Header) bool {
	for _, v := range h.Values("Accept") {
		if strings.Contains(v, "text/html") {
			return true
		}
	}
	return false
}

// Gate reports whether the gateway currently intercepts requests.
type Gate interface {
	Active() bool
}

// Router resolves requests against the origin and dispatches them to a strategy.
type Router struct {
	rules      Rules
	origin     *url.URL
	names      cachestore.Names
	strategies *strategy.Strategies
	gate       Gate
}

// New creates a Router. A nil gate means always active.
func New(rules Rules, origin *url.URL, names cachestore.Names, strategies *strategy.Strategies, gate Gate) *Router {
	return &Router{
		rules:      rules,
		origin:     origin,
		names:      names,
		strategies: strategies,
		gate:       gate,
	}
}

// AllowsHost reports whether the gateway may fetch u. Origin-form URLs and
// the origin itself are always allowed; any other host must be a CDN host.
func (rt *Router) AllowsHost(u *url.URL) bool {
	if !u.IsAbs() {
		return true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if strings.EqualFold(u.Host, rt.origin.Host) {
		return true
	}
	host := u.Hostname()
	return slices.ContainsFunc(rt.rules.CDNHosts, func(h string) bool {
		return strings.EqualFold(h, host)
	})
}

// Resolve returns the absolute URL of r. Origin-form requests resolve against
// the origin; absolute-form requests (CDN assets) keep their own host.
// Callers check AllowsHost first.
func (rt *Router) Resolve(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	rel := &url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery}
	return rt.origin.ResolveReference(rel)
}

// Route returns the route for r, honouring the lifecycle gate.
func (rt *Router) Route(r *http.Request) Route {
	if rt.gate != nil && !rt.gate.Active() {
		return PassThrough
	}
	return Select(r.Method, rt.Resolve(r), r.Header, rt.rules)
}

// Handle runs the selected strategy. When the returned Route is PassThrough the
// response is nil and the caller forwards the request itself.
func (rt *Router) Handle(ctx context.Context, r *http.Request) (*cachestore.Response, Route, error) {
	route := rt.Route(r)
	if !route.Intercepted() {
		return nil, route, nil
	}
	req := &strategy.Request{URL: rt.Resolve(r), Header: r.Header}
	resp, err := rt.strategies.Execute(ctx, route.Strategy, rt.names.For(route.Partition), req)
	return resp, route, err
}
