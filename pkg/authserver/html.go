package authserver

import (
	"fmt"
	"html"
	"net/http"
)

const htmlPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 32rem; margin: 4rem auto; padding: 0 1rem; }
h1 { font-size: 1.4rem; }
p { color: #444; }
</style>
</head>
<body><h1>%s</h1><p>%s</p></body>
</html>
`

func writeHTML(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	t := html.EscapeString(title)
	fmt.Fprintf(w, htmlPage, t, t, html.EscapeString(message))
}

// writeHTMLSuccess renders the terminal page shown after a completed
// browser-visible flow.
func writeHTMLSuccess(w http.ResponseWriter, title, message string) {
	writeHTML(w, http.StatusOK, title, message)
}

// writeHTMLError renders a browser-facing error page.
func writeHTMLError(w http.ResponseWriter, status int, title, message string) {
	writeHTML(w, status, title, message)
}
