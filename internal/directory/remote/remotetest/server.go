// Package remotetest provides an in-process fake of the concrexit API.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/thaliawww/cxdir/internal/directory/schema"
)

// Group is the wire shape of one groups element.
type Group struct {
	PK      int64    `json:"pk"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// User is the wire shape of one users element.
type User struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Server serves the groups, users and token-auth endpoints from memory.
type Server struct {
	*httptest.Server

	Secret string

	mu        sync.Mutex
	groups    []Group
	users     []User
	passwords map[string]string

	groupsStatus int
	usersStatus  int
	groupsBody   []byte
	usersBody    []byte

	requests map[string]int
}

// NewServer starts a fake API that accepts secret.
// The server is closed by the caller.
func NewServer(secret string) *Server {
	s := &Server{
		Secret:    secret,
		passwords: make(map[string]string),
		requests:  make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/activemembers/nextcloud/groups/", s.handleGroups)
	mux.HandleFunc("GET /api/v1/activemembers/nextcloud/users/", s.handleUsers)
	mux.HandleFunc("POST /api/v1/token-auth", s.handleTokenAuth)

	s.Server = httptest.NewServer(mux)
	return s
}

// SetGroups replaces the groups snapshot.
func (s *Server) SetGroups(groups ...Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = groups
}

// SetUsers replaces the users snapshot.
func (s *Server) SetUsers(users ...User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
}

// SetPassword registers valid credentials for token-auth.
func (s *Server) SetPassword(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[username] = password
}

// FailGroups makes the groups endpoint answer with status (0 restores normal operation).
func (s *Server) FailGroups(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupsStatus = status
}

// FailUsers makes the users endpoint answer with status (0 restores normal operation).
func (s *Server) FailUsers(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usersStatus = status
}

// SetRawGroups makes the groups endpoint return body verbatim (nil restores normal operation).
func (s *Server) SetRawGroups(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupsBody = body
}

// SetRawUsers makes the users endpoint return body verbatim (nil restores normal operation).
func (s *Server) SetRawUsers(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usersBody = body
}

// Requests returns how often endpoint ("groups", "users", "token-auth") was hit.
func (s *Server) Requests(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[endpoint]
}

func (s *Server) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Secret "+s.Secret
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests["groups"]++

	if !s.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if s.groupsStatus != 0 {
		http.Error(w, http.StatusText(s.groupsStatus), s.groupsStatus)
		return
	}
	if s.groupsBody != nil {
		writeRaw(w, s.groupsBody)
		return
	}

	groups := s.groups
	if groups == nil {
		groups = []Group{}
	}
	writeJSON(w, groups)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests["users"]++

	if !s.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if s.usersStatus != 0 {
		http.Error(w, http.StatusText(s.usersStatus), s.usersStatus)
		return
	}
	if s.usersBody != nil {
		writeRaw(w, s.usersBody)
		return
	}

	users := s.users
	if users == nil {
		users = []User{}
	}
	writeJSON(w, users)
}

func (s *Server) handleTokenAuth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests["token-auth"]++

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	want, ok := s.passwords[creds.Username]
	if !ok || want != creds.Password {
		http.Error(w, "invalid credentials", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"token": "token-" + creds.Username})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// GroupsFrom converts schema records to their wire shape.
func GroupsFrom(groups []schema.RemoteGroup) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, Group{PK: g.PK, Name: g.Name, Members: g.Members})
	}
	return out
}

// UsersFrom converts schema records to their wire shape.
func UsersFrom(users []schema.RemoteUser) []User {
	out := make([]User, 0, len(users))
	for _, u := range users {
		out = append(out, User{Username: u.Username, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email})
	}
	return out
}
