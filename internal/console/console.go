// Package console is the authenticated web front end and ingest API
// over the collection archive: agents POST screenshots to /api/upload,
// the admin browses, downloads and deletes them per user and day.
package console

import (
	"bytes"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/shotlog/shotlog/internal/archive"
	"github.com/shotlog/shotlog/internal/shot"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Options configures the console from the server config.
type Options struct {
	SiteName       string
	UploadPassword string
	// AdminUsername and AdminPasswordHash gate the browsing pages.
	// The hash is the encoding printed by `shotlog-server -hash-password`.
	AdminUsername     string
	AdminPasswordHash string
	SessionTTL        time.Duration
}

// Console serves the web UI and the upload API.
type Console struct {
	store    *archive.Store
	opts     Options
	sessions *sessionStore
	log      *slog.Logger
	handler  http.Handler
	pages    map[string]*template.Template
}

// New builds the console over store. It fails only when the embedded
// templates do not parse.
func New(store *archive.Store, opts Options, log *slog.Logger) (*Console, error) {
	if opts.SiteName == "" {
		opts.SiteName = "ShotLog"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}

	c := &Console{
		store:    store,
		opts:     opts,
		sessions: newSessionStore(opts.SessionTTL),
		log:      log,
		pages:    make(map[string]*template.Template),
	}

	funcs := template.FuncMap{
		"humanSize": func(n int64) string { return humanize.Bytes(uint64(n)) },
		"timeOfDay": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("15:04:05")
		},
	}
	for _, page := range []string{"login", "index", "user", "day"} {
		t, err := template.New("base.tmpl").Funcs(funcs).ParseFS(templateFS,
			"templates/base.tmpl", "templates/"+page+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", page, err)
		}
		c.pages[page] = t
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", c.handleUpload)
	mux.HandleFunc("GET /login", c.handleLoginPage)
	mux.HandleFunc("POST /login", c.handleLogin)
	mux.HandleFunc("GET /logout", c.handleLogout)
	mux.Handle("GET /{$}", c.requireLogin(c.handleIndex))
	mux.Handle("GET /user/{user}", c.requireLogin(c.handleUser))
	mux.Handle("GET /user/{user}/{day}", c.requireLogin(c.handleDay))
	mux.Handle("GET /user/{user}/{day}/download", c.requireLogin(c.handleDayZip))
	mux.Handle("POST /user/{user}/{day}/delete", c.requireLogin(c.handleDeleteDay))
	mux.Handle("GET /files/{user}/{day}/{file}", c.requireLogin(c.handleFile))
	mux.Handle("POST /files/{user}/{day}/{file}/delete", c.requireLogin(c.handleDeleteFile))
	c.handler = securityHeaders(mux)
	return c, nil
}

func (c *Console) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.handler.ServeHTTP(w, r)
}

// PurgeSessions drops expired admin sessions; the server calls it from
// the scheduled sweep.
func (c *Console) PurgeSessions() int {
	return c.sessions.purge()
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy",
			"default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'")
		next.ServeHTTP(w, r)
	})
}

// requireLogin sends page requests without a live session to /login,
// remembering where they were headed.
func (c *Console) requireLogin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(sessionCookie); err == nil && c.sessions.valid(cookie.Value) {
			next(w, r)
			return
		}
		http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.Path), http.StatusFound)
	})
}

// ---- ingest API ----

type uploadResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path,omitempty"`
}

// uploadAuthorized checks the shared agent credential. An unset
// credential disables ingest instead of opening it.
func (c *Console) uploadAuthorized(r *http.Request) bool {
	if c.opts.UploadPassword == "" {
		return false
	}
	got := []byte(r.Header.Get("X-Upload-Password"))
	return subtle.ConstantTimeCompare(got, []byte(c.opts.UploadPassword)) == 1
}

func (c *Console) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !c.uploadAuthorized(r) {
		writeJSON(w, http.StatusUnauthorized, uploadResult{Status: "error", Message: "Unauthorized"})
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResult{Status: "error", Message: "invalid multipart form"})
		return
	}

	username := r.FormValue("username")
	if !archive.ValidIdentifier(username) {
		writeJSON(w, http.StatusBadRequest, uploadResult{Status: "error", Message: "invalid username"})
		return
	}

	// A batch sent without a day key is bucketed under the current UTC
	// date, mirroring how the agent derives keys for fresh captures.
	day := r.FormValue("day")
	if day == "" {
		day = shot.DayKey(time.Now().UTC())
	}
	if !archive.ValidIdentifier(day) {
		writeJSON(w, http.StatusBadRequest, uploadResult{Status: "error", Message: "invalid day"})
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResult{Status: "error", Message: "file is required"})
		return
	}
	defer file.Close()

	rel, err := c.store.Save(username, day, filepath.Base(hdr.Filename), file)
	if errors.Is(err, archive.ErrInvalidIdentifier) {
		writeJSON(w, http.StatusBadRequest, uploadResult{Status: "error", Message: "invalid filename"})
		return
	}
	if err != nil {
		c.log.Error("storing upload failed", "user", username, "day", day, "error", err)
		writeJSON(w, http.StatusInternalServerError, uploadResult{Status: "error", Message: "storage failure"})
		return
	}

	c.log.Info("received upload", "user", username, "day", day, "file", filepath.Base(hdr.Filename))
	writeJSON(w, http.StatusOK, uploadResult{Status: "ok", Path: rel})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ---- login ----

type pageBase struct {
	Site       string
	ShowLogout bool
}

type loginData struct {
	pageBase
	Error string
	Next  string
}

func (c *Console) loginPage() loginData {
	return loginData{pageBase: pageBase{Site: c.opts.SiteName}}
}

func (c *Console) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	data := c.loginPage()
	data.Next = r.URL.Query().Get("next")
	c.render(w, http.StatusOK, "login", data)
}

func (c *Console) handleLogin(w http.ResponseWriter, r *http.Request) {
	user := r.FormValue("username")
	pass := r.FormValue("password")

	// Evaluate both checks before combining so a bad username costs
	// the same as a bad password.
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.opts.AdminUsername)) == 1
	passOK := VerifyPassword(c.opts.AdminPasswordHash, pass)
	if !userOK || !passOK {
		c.log.Warn("failed console login", "user", user, "from", r.RemoteAddr)
		data := c.loginPage()
		data.Error = "Invalid username or password."
		data.Next = r.URL.Query().Get("next")
		c.render(w, http.StatusUnauthorized, "login", data)
		return
	}

	token := c.sessions.create()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.opts.SessionTTL.Seconds()),
	})

	next := r.URL.Query().Get("next")
	// Only same-site targets: anything not a plain absolute path goes
	// back to the index.
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/"
	}
	c.log.Info("console login", "user", user, "from", r.RemoteAddr)
	http.Redirect(w, r, next, http.StatusFound)
}

func (c *Console) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		c.sessions.destroy(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", HttpOnly: true, MaxAge: -1})
	http.Redirect(w, r, "/login", http.StatusFound)
}

// ---- browsing pages ----

type indexData struct {
	pageBase
	Users []userEntry
}

type userEntry struct {
	archive.UserSummary
	URL string
}

func (c *Console) handleIndex(w http.ResponseWriter, r *http.Request) {
	users, err := c.store.Users()
	if err != nil {
		c.pageError(w, "listing users", err)
		return
	}
	data := indexData{pageBase: pageBase{Site: c.opts.SiteName, ShowLogout: true}}
	for _, u := range users {
		data.Users = append(data.Users, userEntry{
			UserSummary: u,
			URL:         "/user/" + url.PathEscape(u.Name),
		})
	}
	c.render(w, http.StatusOK, "index", data)
}

type userData struct {
	pageBase
	User string
	Days []dayEntry
}

type dayEntry struct {
	archive.DaySummary
	URL string
}

func (c *Console) handleUser(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	days, err := c.store.Days(user)
	if err != nil {
		c.pageError(w, "listing days", err)
		return
	}
	data := userData{pageBase: pageBase{Site: c.opts.SiteName, ShowLogout: true}, User: user}
	for _, d := range days {
		data.Days = append(data.Days, dayEntry{
			DaySummary: d,
			URL:        "/user/" + url.PathEscape(user) + "/" + url.PathEscape(d.Key),
		})
	}
	c.render(w, http.StatusOK, "user", data)
}

type dayData struct {
	pageBase
	User        string
	Day         string
	UserURL     string
	DownloadURL string
	DeleteURL   string
	Files       []fileEntry
}

type fileEntry struct {
	archive.FileInfo
	URL       string
	DeleteURL string
}

func (c *Console) handleDay(w http.ResponseWriter, r *http.Request) {
	user, day := r.PathValue("user"), r.PathValue("day")
	files, err := c.store.Files(user, day)
	if err != nil {
		c.pageError(w, "listing files", err)
		return
	}

	u, d := url.PathEscape(user), url.PathEscape(day)
	data := dayData{
		pageBase:    pageBase{Site: c.opts.SiteName, ShowLogout: true},
		User:        user,
		Day:         day,
		UserURL:     "/user/" + u,
		DownloadURL: "/user/" + u + "/" + d + "/download",
		DeleteURL:   "/user/" + u + "/" + d + "/delete",
	}
	for _, f := range files {
		base := "/files/" + u + "/" + d + "/" + url.PathEscape(f.Name)
		data.Files = append(data.Files, fileEntry{FileInfo: f, URL: base, DeleteURL: base + "/delete"})
	}
	c.render(w, http.StatusOK, "day", data)
}

func (c *Console) handleFile(w http.ResponseWriter, r *http.Request) {
	user, day, name := r.PathValue("user"), r.PathValue("day"), r.PathValue("file")
	f, err := c.store.Open(user, day, name)
	if err != nil {
		c.pageError(w, "opening file", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		c.pageError(w, "opening file", err)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (c *Console) handleDayZip(w http.ResponseWriter, r *http.Request) {
	user, day := r.PathValue("user"), r.PathValue("day")
	// Probe before committing to a download response so a missing day
	// is a clean 404 instead of a truncated archive.
	if _, err := c.store.Files(user, day); err != nil {
		c.pageError(w, "zipping day", err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", user+"_"+day+".zip"))
	if err := c.store.WriteDayZip(w, user, day); err != nil {
		// Headers are gone; all that is left is to log it.
		c.log.Error("zip download failed", "user", user, "day", day, "error", err)
	}
}

func (c *Console) handleDeleteDay(w http.ResponseWriter, r *http.Request) {
	user, day := r.PathValue("user"), r.PathValue("day")
	if err := c.store.DeleteDay(user, day); err != nil {
		c.pageError(w, "deleting day", err)
		return
	}
	http.Redirect(w, r, "/user/"+url.PathEscape(user), http.StatusSeeOther)
}

func (c *Console) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	user, day, name := r.PathValue("user"), r.PathValue("day"), r.PathValue("file")
	if err := c.store.DeleteFile(user, day, name); err != nil {
		c.pageError(w, "deleting file", err)
		return
	}
	http.Redirect(w, r, "/user/"+url.PathEscape(user)+"/"+url.PathEscape(day), http.StatusSeeOther)
}

// pageError maps archive errors onto the right status: unsafe path
// segments are the client's fault, missing entries are 404, the rest
// is ours.
func (c *Console) pageError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, archive.ErrInvalidIdentifier):
		http.Error(w, "bad request", http.StatusBadRequest)
	case os.IsNotExist(err):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		c.log.Error(action+" failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// render executes a page into a buffer first so template failures
// produce a clean 500 instead of a half-written page.
func (c *Console) render(w http.ResponseWriter, status int, page string, data any) {
	var buf bytes.Buffer
	if err := c.pages[page].ExecuteTemplate(&buf, "base.tmpl", data); err != nil {
		c.log.Error("rendering page failed", "page", page, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
