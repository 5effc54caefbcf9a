package httpapi

import (
	"html/template"
	"net/http"
	"time"

	"github.com/ghostcopy/clipsync/internal/clipsync"
)

// The dashboard is a single self-contained page for eyeballing the daemon
// from a browser on the same machine. It shares the bearer-token guard with
// the JSON routes; pass the token as ?token= since browsers cannot set the
// Authorization header on a plain navigation.
var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>clipsync</title>
<style>
body { font-family: monospace; margin: 2em; background: #111; color: #ddd; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 4px 12px; border-bottom: 1px solid #333; }
.badge { padding: 1px 6px; border-radius: 3px; background: #234; }
.on { background: #252; }
</style>
</head>
<body>
<h1>clipsync</h1>
<p>
<span class="badge{{if .GameModeActive}} on{{end}}">game mode {{if .GameModeActive}}on ({{.GameModeDepth}} queued){{else}}off{{end}}</span>
<span class="badge{{if .Sleeping}} on{{end}}">{{if .Sleeping}}sleeping{{else}}awake{{end}}</span>
<span class="badge">content cache {{.ContentCache}}</span>
<span class="badge">detection cache {{.DetectionCache}}</span>
</p>
<table>
<tr><th>when</th><th>device</th><th>type</th><th>content</th></tr>
{{range .Items}}
<tr>
<td>{{.CreatedAt.Format "15:04:05"}}</td>
<td>{{.DeviceName}} ({{.DeviceType}})</td>
<td>{{.ContentType}}{{if .IsEncrypted}} &#128274;{{end}}</td>
<td>{{.Preview}}</td>
</tr>
{{end}}
</table>
<p>{{.RenderedAt.Format "2006-01-02 15:04:05 MST"}}</p>
</body>
</html>`))

type dashboardItem struct {
	CreatedAt   time.Time
	DeviceName  string
	DeviceType  clipsync.DeviceType
	ContentType clipsync.ContentType
	IsEncrypted bool
	Preview     string
}

type dashboardData struct {
	GameModeActive bool
	GameModeDepth  int
	Sleeping       bool
	ContentCache   int
	DetectionCache int
	Items          []dashboardItem
	RenderedAt     time.Time
}

const dashboardPreviewRunes = 80

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if authErr := authorizeBearer("Bearer "+r.URL.Query().Get("token"), s.cfg.AuthToken); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}

	items, err := s.opts.Repo.GetHistory(r.Context(), clipsync.DefaultHistoryLimit)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}

	contentCache, detectionCache := s.opts.Repo.CacheSizes()
	data := dashboardData{
		ContentCache:   contentCache,
		DetectionCache: detectionCache,
		RenderedAt:     time.Now(),
	}
	if s.opts.Games != nil {
		data.GameModeActive = s.opts.Games.Active()
		data.GameModeDepth = s.opts.Games.Depth()
	}
	if s.opts.Sleep != nil {
		data.Sleeping = s.opts.Sleep.Sleeping()
	}
	for _, item := range items {
		data.Items = append(data.Items, dashboardItem{
			CreatedAt:   item.CreatedAt,
			DeviceName:  item.DeviceName,
			DeviceType:  item.DeviceType,
			ContentType: item.ContentType,
			IsEncrypted: item.IsEncrypted,
			Preview:     previewContent(item),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		s.logger.Error("dashboard render failed", "error", err)
	}
}

// previewContent truncates text for display and hides binary payload URLs
// behind their mime type.
func previewContent(item clipsync.ClipboardItem) string {
	if item.ContentType.IsBinary() {
		label := item.MimeType
		if label == "" {
			label = string(item.ContentType)
		}
		return "[" + label + "]"
	}
	runes := []rune(item.Content)
	if len(runes) <= dashboardPreviewRunes {
		return item.Content
	}
	return string(runes[:dashboardPreviewRunes]) + "…"
}
