package annotate

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

// 标记颜色：处理组红色，对照组蓝色
const (
	ColorTreatment = "red"
	ColorControl   = "blue"
)

// MapView：地图中心与缩放级别
type MapView struct {
	CenterLat float64
	CenterLon float64
	Zoom      int
}

// Marker：渲染用点位
type Marker struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Color string  `json:"color"`
	Popup string  `json:"popup"`
}

// Markers：标注 → 地图点位，弹窗内容为类别与六位小数坐标
func Markers(anns []Annotation) []Marker {
	out := make([]Marker, 0, len(anns))
	for _, a := range anns {
		color := ColorControl
		if a.IsTreatment {
			color = ColorTreatment
		}
		popup := fmt.Sprintf("%s Area<br>Lat: %.6f<br>Lng: %.6f", modeFor(a.IsTreatment), a.Latitude, a.Longitude)
		out = append(out, Marker{Lat: a.Latitude, Lon: a.Longitude, Color: color, Popup: popup})
	}
	return out
}

var snapshotTmpl = template.Must(template.New("snapshot").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Annotations {{.Generated}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>html,body,#map{height:100%;margin:0}</style>
</head>
<body>
<div id="map"></div>
<script>
var map = L.map('map').setView([{{.View.CenterLat}}, {{.View.CenterLon}}], {{.View.Zoom}});
L.tileLayer('https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png', {attribution: '&copy; OpenStreetMap contributors'}).addTo(map);
var markers = {{.Markers}};
markers.forEach(function (m) {
  L.circleMarker([m.lat, m.lon], {radius: 8, color: m.color, fillColor: m.color, fillOpacity: 0.7}).bindPopup(m.popup).addTo(map);
});
</script>
</body>
</html>
`))

// RenderMapHTML：写出静态地图快照（不含点击交互）
func RenderMapHTML(w io.Writer, view MapView, anns []Annotation, now time.Time) error {
	return snapshotTmpl.Execute(w, struct {
		View      MapView
		Markers   []Marker
		Generated string
	}{view, Markers(anns), now.Format("2006-01-02 15:04:05")})
}
