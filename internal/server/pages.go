package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/morezero/rpcmesh/pkg/db"
	"github.com/morezero/rpcmesh/pkg/dispatcher"
	"github.com/morezero/rpcmesh/pkg/protocol"
)

// homePageTemplate is the HTML for the status page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Service}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>{{.Service}}</h1>
  <p class="meta">Subject <code>{{.Subject}}</code>. In-flight calls: <span class="stat">{{.InFlight}}</span>.</p>

  <section>
    <h2>Methods</h2>
    {{if not .Methods}}
    <p>No methods exposed.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Method</th><th>Version</th><th>Parameters</th><th>Faults</th></tr>
      </thead>
      <tbody>
        {{range .Methods}}
        <tr>
          <td>{{.FullName}}</td>
          <td>{{.Version}}</td>
          <td>{{range .Params}}{{.Name}}:{{.Type}} {{end}}</td>
          <td>{{range .Faults}}{{.ErrorCode}} {{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Recent calls</h2>
    {{if .CallsError}}
    <p class="error">{{.CallsError}}</p>
    {{else if not .Calls}}
    <p>No calls recorded.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Started</th><th>Method</th><th>Channel</th><th>Outcome</th><th>Duration (ms)</th></tr>
      </thead>
      <tbody>
        {{range .Calls}}
        <tr>
          <td>{{.StartedAt.Format "2006-01-02 15:04:05"}}</td>
          <td>{{.Method}}</td>
          <td>{{.Channel}}</td>
          <td>{{.Outcome}}{{if .FaultCode}} ({{.FaultCode}}){{end}}</td>
          <td>{{printf "%.1f" .DurationMS}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Service    string
	Subject    string
	InFlight   int64
	Methods    []dispatcher.MethodDescription
	Calls      []db.CallRecord
	CallsError string
}

// handleHome returns an HTTP handler for the status page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		data := homeData{
			Service:  s.cfg.COMMSName,
			Subject:  s.cfg.Subject,
			InFlight: s.handler.Busy().Count(),
			Methods:  s.handler.Describe(string(protocol.ChannelHTTP), nil).Methods,
		}
		if s.journal == nil {
			data.CallsError = "Call journal disabled (DATABASE_URL not set)."
		} else {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			calls, err := s.journal.Recent(ctx, db.RecentParams{Limit: 20})
			if err != nil {
				data.CallsError = err.Error()
			}
			data.Calls = calls
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status, code := "ready", http.StatusOK
	if s.nc == nil || !s.nc.IsConnected() {
		status, code = "comms disconnected", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "inflight": s.handler.Busy().Count()})
}

// handleCalls lists recent journaled calls: ?contract=&outcome=&limit=.
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "call journal disabled"})
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	calls, err := s.journal.Recent(r.Context(), db.RecentParams{
		Contract: q.Get("contract"),
		Outcome:  q.Get("outcome"),
		Limit:    limit,
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - recent calls: %v", logPrefix, err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if calls == nil {
		calls = []db.CallRecord{}
	}
	_ = json.NewEncoder(w).Encode(calls)
}
