package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/menubuilder/offline-gateway/internal/observability"
	"github.com/menubuilder/offline-gateway/internal/router"
)

// headerStrategy tells clients which route served a response.
const headerStrategy = "X-Gateway-Route"

// handleFetch is the intercepted fetch: the router picks a strategy, or the
// request is proxied untouched.
func (s *Server) handleFetch(c echo.Context) error {
	req := c.Request()
	if !s.deps.Router.AllowsHost(req.URL) {
		s.log.Warn("rejected request for foreign host",
			logger.String("host", req.URL.Host),
			logger.String("method", req.Method))
		return echo.NewHTTPError(http.StatusForbidden, "host not allowed")
	}
	resp, route, err := s.deps.Router.Handle(req.Context(), req)
	c.Response().Header().Set(headerStrategy, route.String())
	if !route.Intercepted() {
		s.deps.Metrics.RecordRequest(route.String(), observability.ResultPassThrough)
		return s.proxy(c)
	}
	if err != nil {
		s.log.Debug("strategy failed",
			logger.String("route", route.String()),
			logger.String("path", req.URL.Path),
			logger.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "origin unreachable").SetInternal(err)
	}
	return writeResponse(c, resp, route)
}

func writeResponse(c echo.Context, resp *cachestore.Response, route router.Route) error {
	h := c.Response().Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set(headerStrategy, route.String())
	h.Set(echo.HeaderContentLength, strconv.Itoa(len(resp.Body)))
	c.Response().WriteHeader(resp.Status)
	_, err := c.Response().Write(resp.Body)
	return err
}

// passThroughBalancer sends origin-form requests to the origin and
// absolute-form requests to the host they name when allow accepts it.
type passThroughBalancer struct {
	origin *middleware.ProxyTarget
	allow  func(*url.URL) bool
}

func (b *passThroughBalancer) AddTarget(*middleware.ProxyTarget) bool { return false }

func (b *passThroughBalancer) RemoveTarget(string) bool { return false }

func (b *passThroughBalancer) Next(c echo.Context) *middleware.ProxyTarget {
	u := c.Request().URL
	if u.IsAbs() && u.Host != b.origin.URL.Host && b.allow(u) {
		return &middleware.ProxyTarget{
			Name: u.Host,
			URL:  &url.URL{Scheme: u.Scheme, Host: u.Host},
		}
	}
	return b.origin
}

// newPassThrough returns a handler proxying requests without caching.
func newPassThrough(origin *url.URL, allow func(*url.URL) bool, transport http.RoundTripper, log logger.Logger) echo.HandlerFunc {
	balancer := &passThroughBalancer{
		origin: &middleware.ProxyTarget{Name: "origin", URL: origin},
		allow:  allow,
	}
	proxy := middleware.ProxyWithConfig(middleware.ProxyConfig{
		Balancer:  balancer,
		Transport: transport,
		ErrorHandler: func(c echo.Context, err error) error {
			log.Debug("pass-through request failed",
				logger.String("path", c.Request().URL.Path),
				logger.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, "origin unreachable").SetInternal(err)
		},
	})
	return proxy(func(echo.Context) error { return nil })
}
