// Package api exposes the directory query surface over HTTP.
//
// Routes (relative to the mount point, normally /api/v1):
//
//	GET    /groups                      ?search=&limit=&offset=
//	GET    /groups/{gid}                existence and details
//	GET    /groups/{gid}/members        ?search=&limit=&offset=
//	GET    /groups/{gid}/members/count  ?search=
//	GET    /groups/{gid}/members/{uid}  in-group check
//	PUT    /groups/{gid}/members/{uid}  add manual membership
//	DELETE /groups/{gid}/members/{uid}  remove manual membership
//	GET    /users                       ?search=&limit=&offset=
//	GET    /users/count
//	GET    /users/{uid}
//	GET    /users/{uid}/groups
//	DELETE /users/{uid}
//	POST   /users/{uid}/password        {"password": "..."}
//	GET    /sync
//	POST   /sync/{kind}
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/directory/query"
	"github.com/thaliawww/cxdir/internal/directory/remote"
	dirsync "github.com/thaliawww/cxdir/internal/directory/sync"
)

// SyncRunner triggers passes and reports their status.
type SyncRunner interface {
	Run(ctx context.Context, kind dirsync.Kind) (*dirsync.Result, error)
	Status() []dirsync.Status
}

// MembershipListener is told about successful manual membership changes.
type MembershipListener interface {
	MembershipChanged(uid, gid string, added bool)
}

// Handler serves the directory API.
type Handler struct {
	groups    query.GroupDirectory
	users     query.UserDirectory
	runner    SyncRunner
	listeners []MembershipListener
	logger    *zap.Logger
	router    chi.Router
}

// New builds the API router. runner may be nil, which disables /sync.
func New(groups query.GroupDirectory, users query.UserDirectory, runner SyncRunner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		groups: groups,
		users:  users,
		runner: runner,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/groups", func(r chi.Router) {
		r.Get("/", h.listGroups)
		r.Route("/{gid}", func(r chi.Router) {
			r.Get("/", h.getGroup)
			r.Get("/members", h.listMembers)
			r.Get("/members/count", h.countMembers)
			r.Get("/members/{uid}", h.inGroup)
			r.Put("/members/{uid}", h.addMember)
			r.Delete("/members/{uid}", h.removeMember)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.listUsers)
		r.Get("/count", h.countUsers)
		r.Route("/{uid}", func(r chi.Router) {
			r.Get("/", h.getUser)
			r.Get("/groups", h.userGroups)
			r.Delete("/", h.deleteUser)
			r.Post("/password", h.checkPassword)
		})
	})

	r.Get("/sync", h.syncStatus)
	r.Post("/sync/{kind}", h.triggerSync)

	h.router = r
	return h
}

// AddListener registers a membership listener.
func (h *Handler) AddListener(l MembershipListener) {
	h.listeners = append(h.listeners, l)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// GroupResponse describes one group.
type GroupResponse struct {
	GID     string              `json:"gid"`
	Details *query.GroupDetails `json:"details,omitempty"`
}

// UserResponse describes one user.
type UserResponse struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
}

// ChangeResponse reports whether a mutation changed anything.
type ChangeResponse struct {
	Changed bool `json:"changed"`
}

// CountResponse carries a count.
type CountResponse struct {
	Count int `json:"count"`
}

// MemberResponse answers an in-group check.
type MemberResponse struct {
	Member bool `json:"member"`
}

// PasswordRequest is the body of a password check.
type PasswordRequest struct {
	Password string `json:"password"`
}

// PasswordResponse is the outcome of a password check.
type PasswordResponse struct {
	Authenticated bool   `json:"authenticated"`
	UID           string `json:"uid,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	gids, err := h.groups.Groups(r.Context(), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(gids))
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")

	exists, err := h.groups.GroupExists(r.Context(), gid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !exists {
		h.fail(w, r, query.ErrGroupNotFound)
		return
	}

	details, err := h.groups.GroupDetails(r.Context(), gid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GroupResponse{GID: gid, Details: details})
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	uids, err := h.groups.UsersInGroup(r.Context(), chi.URLParam(r, "gid"), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(uids))
}

func (h *Handler) countMembers(w http.ResponseWriter, r *http.Request) {
	n, err := h.groups.CountUsersInGroup(r.Context(), chi.URLParam(r, "gid"), r.URL.Query().Get("search"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (h *Handler) inGroup(w http.ResponseWriter, r *http.Request) {
	member, err := h.groups.InGroup(r.Context(), chi.URLParam(r, "uid"), chi.URLParam(r, "gid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MemberResponse{Member: member})
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	uid, gid := chi.URLParam(r, "uid"), chi.URLParam(r, "gid")
	added, err := h.groups.AddToGroup(r.Context(), uid, gid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if added {
		h.notify(uid, gid, true)
	}
	writeJSON(w, http.StatusOK, ChangeResponse{Changed: added})
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	uid, gid := chi.URLParam(r, "uid"), chi.URLParam(r, "gid")
	removed, err := h.groups.RemoveFromGroup(r.Context(), uid, gid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if removed {
		h.notify(uid, gid, false)
	}
	writeJSON(w, http.StatusOK, ChangeResponse{Changed: removed})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	names, err := h.users.DisplayNames(r.Context(), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if names == nil {
		names = []query.UserName{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) countUsers(w http.ResponseWriter, r *http.Request) {
	n, err := h.users.CountUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	exists, err := h.users.UserExists(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !exists {
		h.fail(w, r, query.ErrUserNotFound)
		return
	}

	name, err := h.users.DisplayName(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{UID: uid, DisplayName: name})
}

func (h *Handler) userGroups(w http.ResponseWriter, r *http.Request) {
	gids, err := h.groups.UserGroups(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(gids))
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.users.DeleteUser(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangeResponse{Changed: deleted})
}

func (h *Handler) checkPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	uid, ok, err := h.users.CheckPassword(r.Context(), chi.URLParam(r, "uid"), req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PasswordResponse{Authenticated: ok, UID: uid})
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "sync is not available"})
		return
	}
	writeJSON(w, http.StatusOK, h.runner.Status())
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "sync is not available"})
		return
	}

	kind, ok := dirsync.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown sync kind"})
		return
	}

	res, err := h.runner.Run(r.Context(), kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) notify(uid, gid string, added bool) {
	for _, l := range h.listeners {
		l.MembershipChanged(uid, gid, added)
	}
}

// page parses search/limit/offset. It writes a 400 and returns false on bad input.
func (h *Handler) page(w http.ResponseWriter, r *http.Request) (query.Page, bool) {
	q := r.URL.Query()
	page := query.Page{Search: q.Get("search")}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid " + p.name})
			return query.Page{}, false
		}
		*p.dst = n
	}
	return page, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, query.ErrGroupNotFound), errors.Is(err, query.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dirsync.ErrUnknownKind):
		status = http.StatusNotFound
	case errors.Is(err, remote.ErrFetchFailed):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
