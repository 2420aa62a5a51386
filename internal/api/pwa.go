package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/menubuilder/offline-gateway/internal/strategy"
)

// webManifest is the PWA manifest served at /manifest.webmanifest.
type webManifest struct {
	Name            string         `json:"name"`
	ShortName       string         `json:"short_name"`
	StartURL        string         `json:"start_url"`
	Scope           string         `json:"scope"`
	Display         string         `json:"display"`
	BackgroundColor string         `json:"background_color"`
	ThemeColor      string         `json:"theme_color"`
	Lang            string         `json:"lang"`
	Icons           []manifestIcon `json:"icons"`
}

type manifestIcon struct {
	Src   string `json:"src"`
	Sizes string `json:"sizes"`
	Type  string `json:"type"`
}

// registerPWARoutes registers the PWA support files. They have fixed names, so
// they are served with no-cache to pick up new versions immediately.
func (s *Server) registerPWARoutes() {
	s.echo.GET("/manifest.webmanifest", s.handleManifest)
	s.echo.GET(s.deps.Settings.Worker.OfflinePath, s.handleOfflinePage)
}

func (s *Server) handleManifest(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set(echo.HeaderContentType, "application/manifest+json")
	prefix := s.deps.Settings.Worker.StaticPrefix
	return c.JSON(http.StatusOK, webManifest{
		Name:            "Menu Builder",
		ShortName:       "MenuBuilder",
		StartURL:        "/",
		Scope:           "/",
		Display:         "standalone",
		BackgroundColor: "#ffffff",
		ThemeColor:      "#0d6efd",
		Lang:            "it",
		Icons: []manifestIcon{
			{Src: prefix + "icons/icon-192x192.png", Sizes: "192x192", Type: "image/png"},
			{Src: prefix + "icons/icon-512x512.png", Sizes: "512x512", Type: "image/png"},
		},
	})
}

// handleOfflinePage serves the precached offline page, or the inline one when
// it was never cached.
func (s *Server) handleOfflinePage(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-cache")

	offlineURL := s.deps.Origin.ResolveReference(c.Request().URL)
	offlineURL.RawQuery = ""
	key := cachestore.RequestKey(http.MethodGet, offlineURL)
	page, ok, err := cachestore.MatchAny(c.Request().Context(), s.deps.Registry, s.deps.Worker.Names().All(), key)
	if err != nil {
		s.log.Warn("offline page lookup failed", logger.Error(err))
	}
	if ok {
		contentType := page.ContentType()
		if contentType == "" {
			contentType = echo.MIMETextHTMLCharsetUTF8
		}
		return c.Blob(http.StatusOK, contentType, page.Body)
	}
	return c.HTMLBlob(http.StatusOK, strategy.OfflinePage(c.Request().Header.Get("Accept-Language")))
}
