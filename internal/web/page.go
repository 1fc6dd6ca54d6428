package web

import (
	"bytes"
	_ "embed"
	"html/template"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
)

//go:embed instructions.md
var instructionsMD []byte

var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// renderMarkdown：说明文本在启动时渲染一次
func renderMarkdown(src []byte) (template.HTML, error) {
	var buf bytes.Buffer
	if err := mdRenderer.Convert(src, &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Treatment Area Annotation Tool</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>
body{font-family:sans-serif;margin:0;display:flex}
aside{width:280px;padding:1rem;border-right:1px solid #ddd}
main{flex:1;padding:1rem}
#map{height:500px}
.notice{padding:.5rem;margin:.5rem 0}
.success{background:#e6f4ea}.info{background:#e8f0fe}.error{background:#fce8e6}
table{border-collapse:collapse}td,th{border:1px solid #ddd;padding:2px 6px}
</style>
</head>
<body>
<aside>
<h2>Controls</h2>
<form method="post" action="/import" enctype="multipart/form-data">
{{.CSRFField}}
<label>Upload previous annotations (optional)<br><input type="file" name="file" accept=".csv"></label>
<button type="submit">Load</button>
</form>
<form method="post" action="/mode">
{{.CSRFField}}
<p>Annotation Mode:</p>
<label><input type="radio" name="mode" value="Treatment" {{if eq .Mode "Treatment"}}checked{{end}}> Treatment Area</label><br>
<label><input type="radio" name="mode" value="Control" {{if eq .Mode "Control"}}checked{{end}}> Control Area</label><br>
<button type="submit">Set mode</button>
</form>
</aside>
<main>
<h1>Deforestation Annotation Tool</h1>
{{with .Notice}}<div class="notice {{.Level}}">{{.Text}}</div>{{end}}
<h3>Click on the map to annotate areas</h3>
<div id="map"></div>
<h3>Current Annotations ({{len .Annotations}})</h3>
{{if .Annotations}}
<table>
<tr><th>latitude</th><th>longitude</th><th>is_treatment</th><th>timestamp</th><th>type</th></tr>
{{range .Annotations}}<tr><td>{{.Latitude}}</td><td>{{.Longitude}}</td><td>{{.IsTreatment}}</td><td>{{.Timestamp}}</td><td>{{.Type}}</td></tr>
{{end}}</table>
<p><a href="/export/csv">Download Coordinates (CSV)</a> | <a href="/export/map">Download Map (HTML)</a></p>
<form method="post" action="/clear">
{{.CSRFField}}
<button type="submit">Clear All Annotations</button>
</form>
{{else}}
<div class="notice info">No annotations yet. Click on the map to start annotating!</div>
{{end}}
<details><summary>Instructions</summary>{{.Instructions}}</details>
</main>
<script>
var map = L.map('map').setView([{{.View.CenterLat}}, {{.View.CenterLon}}], {{.View.Zoom}});
L.tileLayer('https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png', {attribution: '&copy; OpenStreetMap contributors'}).addTo(map);
var markers = {{.Markers}};
markers.forEach(function (m) {
  L.circleMarker([m.lat, m.lon], {radius: 8, color: m.color, fillColor: m.color, fillOpacity: 0.7}).bindPopup(m.popup).addTo(map);
});
map.on('click', function (e) {
  fetch('/click', {method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify({lat: e.latlng.lat, lng: e.latlng.lng})})
    .then(function () { window.location.reload(); });
});
</script>
</body>
</html>
`))
