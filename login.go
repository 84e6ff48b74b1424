package oauth

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
)

// loginTemplate is rendered under a CSP that forbids scripts and styles,
// so the page must stay plain HTML.
var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in</title>
</head>
<body>
<main>
<h1>Sign in</h1>
{{- if .ClientName}}
<p><strong>{{.ClientName}}</strong> is requesting access{{if .Scope}} to <code>{{.Scope}}</code>{{end}}.</p>
{{- end}}
{{- if .Error}}
<p role="alert">{{.Error}}</p>
{{- end}}
{{- if .Hint}}
<p>{{.Hint}}</p>
{{- end}}
<form action="{{.Action}}" method="post">
<input type="hidden" name="state" value="{{.Txn}}">
<p><label>Username <input name="username" autocomplete="username" required></label></p>
<p><label>Password <input type="password" name="password" autocomplete="current-password" required></label></p>
<p><button type="submit">Sign in</button></p>
</form>
</main>
</body>
</html>
`))

type loginPageData struct {
	Action     string
	Txn        string
	ClientName string
	Scope      string
	Hint       string
	Error      string
}

func (h *Handler) renderLogin(w http.ResponseWriter, status int, txn string, entry pendingAuthorization, errMsg string) {
	var buf bytes.Buffer
	err := loginTemplate.Execute(&buf, loginPageData{
		Action:     h.basePath + PathLoginCallback,
		Txn:        txn,
		ClientName: entry.clientName,
		Scope:      util.FormatScope(entry.request.Scopes),
		Hint:       h.config.LoginHint,
		Error:      errMsg,
	})
	if err != nil {
		h.logger.Error("Failed to render login page", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	security.SetFormPageHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
