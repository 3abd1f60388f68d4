package appserver

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"openui/cli/internal/apperr"
)

// newAppProxy forwards to the developer's app on loopback. Responses are
// flushed immediately so streaming and server-sent events pass through, and
// WebSocket upgrades are relayed as-is.
func newAppProxy(appPort int, logger *slog.Logger) http.Handler {
	target := &url.URL{Scheme: "http", Host: "127.0.0.1:" + strconv.Itoa(appPort)}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
			pr.SetXForwarded()
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			err = apperr.Wrap(err, apperr.CodeServerUpstreamFailure, "app not reachable",
				apperr.Field("app_port", appPort), apperr.Field("path", r.URL.Path))
			logger.Debug("proxy error", "err", err)
			writeUnreachable(w, err, appPort)
		},
	}
}

func writeUnreachable(w http.ResponseWriter, err error, appPort int) {
	var buf bytes.Buffer
	if terr := templates.ExecuteTemplate(&buf, "unreachable.html.tmpl", map[string]any{"AppPort": appPort}); terr != nil {
		writeError(w, err, "Dev app not reachable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(apperr.HTTPStatus(err))
	_, _ = w.Write(buf.Bytes())
}
