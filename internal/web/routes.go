// 包 web：标注工具的 HTTP 路由；每个交互都是一次 reducer 迁移加一次会话保存
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tz-rubeho/internal/annotate"
	"tz-rubeho/internal/locate"
	"tz-rubeho/internal/logger"
	"tz-rubeho/internal/metrics"
	"tz-rubeho/internal/session"
	"tz-rubeho/internal/store"

	"github.com/gorilla/csrf"
)

// CookieName：会话 cookie
const CookieName = "annotate_session"

// maxUpload：上传 CSV 的大小上限
const maxUpload = 10 << 20

// Archiver：导出归档（可选）；store.Store 满足该接口
type Archiver interface {
	SaveAnnotationExport(ctx context.Context, e store.AnnotationExport) error
}

// Locator：点位所在 ward 查询（可选）；locate.Locator 满足该接口
type Locator interface {
	Locate(lat, lon float64) (locate.Result, bool)
}

// Deps：路由依赖；Archive/Locator 为 nil 时对应功能关闭，Now 为 nil 时使用 time.Now
type Deps struct {
	Sessions     session.Store
	View         annotate.MapView
	Archive      Archiver
	Locator      Locator
	Now          func() time.Time
	SecureCookie bool
}

type server struct {
	Deps
	instructions template.HTML
	locks        [64]sync.Mutex
}

// BuildRoutes：注册页面、交互与导出路由
func BuildRoutes(d Deps) (*http.ServeMux, error) {
	if d.Sessions == nil {
		return nil, errors.New("web: session store is required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	ins, err := renderMarkdown(instructionsMD)
	if err != nil {
		return nil, fmt.Errorf("render instructions: %w", err)
	}
	s := &server{Deps: d, instructions: ins}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("POST /click", s.handleClick)
	mux.HandleFunc("POST /mode", s.handleMode)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("POST /import", s.handleImport)
	mux.HandleFunc("GET /export/csv", s.handleExportCSV)
	mux.HandleFunc("GET /export/map", s.handleExportMap)
	mux.HandleFunc("GET /api/annotations", s.handleAnnotations)
	mux.HandleFunc("GET /api/locate", s.handleLocate)
	return mux, nil
}

// sessionID：读取 cookie，缺失或非法时签发新 id
func (s *server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && session.ValidID(c.Value) {
		return c.Value
	}
	id := session.NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (s *server) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// update：在会话锁内完成 读取 → 迁移 → 保存
func (s *server) update(ctx context.Context, id string, fn func(annotate.Session) annotate.Session) (annotate.Session, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()
	cur, err := s.Sessions.Load(ctx, id)
	if err != nil {
		return cur, err
	}
	next := fn(cur)
	if err := s.Sessions.Save(ctx, id, next); err != nil {
		return cur, err
	}
	return next, nil
}

func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	var shown annotate.Session
	// 提示只显示一次
	_, err := s.update(r.Context(), id, func(cur annotate.Session) annotate.Session {
		shown = cur
		cur.Notice = nil
		return cur
	})
	if err != nil {
		logger.L().Error("session_error", "err", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	tr, ctl := shown.Counts()
	data := map[string]any{
		"Mode":         string(shown.Mode),
		"Annotations":  shown.Annotations,
		"Notice":       shown.Notice,
		"Treatment":    tr,
		"Control":      ctl,
		"Markers":      annotate.Markers(shown.Annotations),
		"View":         s.View,
		"Instructions": s.instructions,
		"CSRFField":    csrf.TemplateField(r),
	}
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		logger.L().Error("page_render_error", "err", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

type clickRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (s *server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if req.Lat == nil || req.Lng == nil || !annotate.ValidLatitude(*req.Lat) || !annotate.ValidLongitude(*req.Lng) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "lat/lng missing or out of range"})
		return
	}
	id := s.sessionID(w, r)
	next, err := s.update(r.Context(), id, func(cur annotate.Session) annotate.Session {
		return annotate.Reduce(cur, annotate.Add{Lat: *req.Lat, Lon: *req.Lng, At: s.Now()})
	})
	if err != nil {
		logger.L().Error("session_error", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session unavailable"})
		return
	}
	added := next.Annotations[len(next.Annotations)-1]
	metrics.AnnotationsAddedTotal.WithLabelValues(added.Type).Inc()
	resp := map[string]any{"annotation": added, "count": len(next.Annotations)}
	if s.Locator != nil {
		if loc, ok := s.Locator.Locate(added.Latitude, added.Longitude); ok {
			resp["location"] = loc
		}
	}
	logger.L().Info("annotation_added", "type", added.Type, "lat", added.Latitude, "lon", added.Longitude, "count", len(next.Annotations))
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleMode(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	mode, ok := annotate.ParseMode(r.PostFormValue("mode"))
	var act annotate.Action = annotate.SetMode{Mode: mode}
	if !ok {
		act = annotate.Notify{Notice: annotate.Notice{Level: "error", Text: fmt.Sprintf("Unknown annotation mode %q", r.PostFormValue("mode"))}}
	}
	if _, err := s.update(r.Context(), id, func(cur annotate.Session) annotate.Session {
		return annotate.Reduce(cur, act)
	}); err != nil {
		logger.L().Error("session_error", "err", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	logger.L().Debug("mode_set", "mode", mode, "ok", ok)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	if _, err := s.update(r.Context(), id, func(cur annotate.Session) annotate.Session {
		return annotate.Reduce(cur, annotate.Clear{})
	}); err != nil {
		logger.L().Error("session_error", "err", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	metrics.AnnotationClearsTotal.Inc()
	logger.L().Info("annotations_cleared")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleImport：解析失败只设置错误提示，标注列表不变
func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	var act annotate.Action
	anns, name, err := readUpload(w, r)
	if err != nil {
		metrics.ImportsTotal.WithLabelValues("error").Inc()
		logger.L().Warn("import_error", "err", err)
		act = annotate.Notify{Notice: annotate.Notice{Level: "error", Text: "Could not load annotations: " + err.Error()}}
	} else {
		metrics.ImportsTotal.WithLabelValues("ok").Inc()
		logger.L().Info("import_ok", "file", name, "rows", len(anns))
		act = annotate.Replace{Annotations: anns, Source: name}
	}
	if _, err := s.update(r.Context(), id, func(cur annotate.Session) annotate.Session {
		return annotate.Reduce(cur, act)
	}); err != nil {
		logger.L().Error("session_error", "err", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]annotate.Annotation, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", errors.New("no file selected")
	}
	defer f.Close()
	anns, err := annotate.ReadCSV(f)
	if err != nil {
		return nil, hdr.Filename, err
	}
	return anns, hdr.Filename, nil
}

func (s *server) current(w http.ResponseWriter, r *http.Request) (string, annotate.Session, bool) {
	id := s.sessionID(w, r)
	cur, err := s.Sessions.Load(r.Context(), id)
	if err != nil {
		logger.L().Error("session_error", "err", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return id, cur, false
	}
	return id, cur, true
}

func (s *server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	id, cur, ok := s.current(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := annotate.WriteCSV(&buf, cur.Annotations); err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	s.archive(r.Context(), id, "csv", cur, buf.String())
	metrics.ExportsTotal.WithLabelValues("csv").Inc()
	attach(w, "text/csv; charset=utf-8", fmt.Sprintf("coordinates_%s.csv", s.Now().Format("20060102_150405")))
	_, _ = w.Write(buf.Bytes())
}

func (s *server) handleExportMap(w http.ResponseWriter, r *http.Request) {
	id, cur, ok := s.current(w, r)
	if !ok {
		return
	}
	now := s.Now()
	var buf bytes.Buffer
	if err := annotate.RenderMapHTML(&buf, s.View, cur.Annotations, now); err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	s.archive(r.Context(), id, "html", cur, buf.String())
	metrics.ExportsTotal.WithLabelValues("html").Inc()
	attach(w, "text/html; charset=utf-8", fmt.Sprintf("map_%s.html", now.Format("20060102_150405")))
	_, _ = w.Write(buf.Bytes())
}

// archive：归档失败不影响下载
func (s *server) archive(ctx context.Context, id, format string, cur annotate.Session, body string) {
	if s.Archive == nil {
		return
	}
	tr, ctl := cur.Counts()
	err := s.Archive.SaveAnnotationExport(ctx, store.AnnotationExport{
		SessionID: id,
		Format:    format,
		Total:     len(cur.Annotations),
		Treatment: tr,
		Control:   ctl,
		Body:      body,
	})
	if err != nil {
		logger.L().Warn("archive_error", "format", format, "err", err)
	}
}

func (s *server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	_, cur, ok := s.current(w, r)
	if !ok {
		return
	}
	tr, ctl := cur.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":        cur.Mode,
		"state":       cur.State(),
		"count":       len(cur.Annotations),
		"treatment":   tr,
		"control":     ctl,
		"annotations": cur.Annotations,
	})
}

// handleLocate：?lat=&lng= → 所在 ward；未配置边界时 404
func (s *server) handleLocate(w http.ResponseWriter, r *http.Request) {
	if s.Locator == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ward lookup not configured"})
		return
	}
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil || !annotate.ValidLatitude(lat) || !annotate.ValidLongitude(lng) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "lat/lng missing or out of range"})
		return
	}
	loc, ok := s.Locator.Locate(lat, lng)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no ward near this point"})
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func attach(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("content-type", contentType)
	w.Header().Set("content-disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("cache-control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
