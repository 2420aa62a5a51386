package strategy

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"golang.org/x/text/language"
)

// Messages shown by the inline offline page.
type offlineText struct {
	Lang    string
	Title   string
	Heading string
	Body    string
	Retry   string
}

var offlineTexts = map[language.Tag]offlineText{
	language.Italian: {
		Lang:    "it",
		Title:   "Offline - Menu Builder",
		Heading: "Sei offline",
		Body:    "Impossibile raggiungere il server. Controlla la connessione e riprova.",
		Retry:   "Riprova",
	},
	language.English: {
		Lang:    "en",
		Title:   "Offline - Menu Builder",
		Heading: "You are offline",
		Body:    "The server cannot be reached. Check your connection and try again.",
		Retry:   "Retry",
	},
}

// The application UI is Italian, so Italian is the fallback.
var offlineMatcher = language.NewMatcher([]language.Tag{language.Italian, language.English})

var offlineTemplate = template.Must(template.New("offline").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#f8f9fa;color:#212529}
main{text-align:center;padding:2rem}
button{font-size:1rem;padding:.6rem 1.4rem;border:0;border-radius:.3rem;background:#0d6efd;color:#fff;cursor:pointer}
</style>
</head>
<body>
<main>
<h1>{{.Heading}}</h1>
<p>{{.Body}}</p>
<button type="button" onclick="window.location.reload()">{{.Retry}}</button>
</main>
</body>
</html>
`))

// matchOfflineText picks the page language from an Accept-Language header.
func matchOfflineText(acceptLanguage string) offlineText {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return offlineTexts[language.Italian]
	}
	_, idx, _ := offlineMatcher.Match(tags...)
	if idx == 1 {
		return offlineTexts[language.English]
	}
	return offlineTexts[language.Italian]
}

// OfflinePage renders the inline offline page for the given Accept-Language.
func OfflinePage(acceptLanguage string) []byte {
	var buf bytes.Buffer
	// The template and its data are fixed, execution cannot fail.
	_ = offlineTemplate.Execute(&buf, matchOfflineText(acceptLanguage))
	return buf.Bytes()
}

// OfflineDocument is the offline page as a cacheable 200 response, used to
// seed the static partition at install.
func OfflineDocument() *cachestore.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	return &cachestore.Response{
		Status:   http.StatusOK,
		Header:   h,
		Body:     OfflinePage(""),
		StoredAt: time.Now(),
	}
}

func offlineHTMLResponse(acceptLanguage string) *cachestore.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	return &cachestore.Response{
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   OfflinePage(acceptLanguage),
	}
}

// OfflineError is the JSON body returned for API requests with no network
// and no cached copy.
type OfflineError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func offlineJSONResponse() *cachestore.Response {
	body, _ := json.Marshal(OfflineError{
		Error:   "Offline",
		Message: "Network unavailable and no cached data for this request",
	})
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	return &cachestore.Response{Status: http.StatusServiceUnavailable, Header: h, Body: body}
}

func serviceUnavailable() *cachestore.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	return &cachestore.Response{
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   []byte("Service Unavailable"),
	}
}
