// Package testutil provides an in-memory stand-in for the CRUD REST service
// used by executor and runner tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// BasePath is the script path the stub serves under.
const BasePath = "/api.php"

// Seen is one request received by the stub.
type Seen struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

type table struct {
	nextID int
	rows   map[int]map[string]any
}

type user struct {
	id       int
	username string
	password string
}

// CRUDServer serves /records/{table}[/{ids}] and the session auth endpoints
// from memory. Errors use the service's {"code","message"} vocabulary.
type CRUDServer struct {
	*httptest.Server

	// APIKey, when set, is required in X-API-Key on record endpoints.
	APIKey string

	mu       sync.Mutex
	tables   map[string]*table
	users    map[string]*user
	sessions map[string]string
	seen     []Seen
}

// NewCRUDServer starts a stub with the given empty tables. It is closed when
// the test ends.
func NewCRUDServer(t testing.TB, tables ...string) *CRUDServer {
	t.Helper()
	s := &CRUDServer{
		tables:   make(map[string]*table),
		users:    make(map[string]*user),
		sessions: make(map[string]string),
	}
	for _, name := range tables {
		s.tables[name] = &table{nextID: 1, rows: make(map[int]map[string]any)}
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the service base, e.g. http://127.0.0.1:1234/api.php.
func (s *CRUDServer) BaseURL() string { return s.URL + BasePath }

// Seed inserts a row and returns its id.
func (s *CRUDServer) Seed(tableName string, row map[string]any) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[tableName].insert(row)
}

// Seen returns the requests received so far.
func (s *CRUDServer) Seen() []Seen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.seen)
}

func (tb *table) insert(row map[string]any) int {
	id := tb.nextID
	tb.nextID++
	stored := map[string]any{"id": id}
	for k, v := range row {
		if k != "id" {
			stored[k] = v
		}
	}
	tb.rows[id] = stored
	return id
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, apiError{Code: code, Message: msg})
}

func (s *CRUDServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, Seen{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   string(body),
	})

	path := strings.TrimPrefix(r.URL.Path, BasePath)
	var segs []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			segs = append(segs, p)
		}
	}

	switch {
	case len(segs) >= 2 && len(segs) <= 3 && segs[0] == "records":
		if s.APIKey != "" && r.Header.Get("X-API-Key") != s.APIKey {
			fail(w, http.StatusUnauthorized, 1011, "Authentication required")
			return
		}
		id := ""
		if len(segs) == 3 {
			id = segs[2]
		}
		s.records(w, r, segs[1], id, body)
	case len(segs) == 1:
		s.auth(w, r, segs[0], body)
	default:
		fail(w, http.StatusNotFound, 1015, fmt.Sprintf("Route '%s' not found", path))
	}
}

func (s *CRUDServer) records(w http.ResponseWriter, r *http.Request, name, ids string, body []byte) {
	tb, ok := s.tables[name]
	if !ok {
		fail(w, http.StatusNotFound, 1003, fmt.Sprintf("Table '%s' not found", name))
		return
	}

	if ids == "" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"records": tb.list(r)})
		case http.MethodPost:
			var row map[string]any
			if err := json.Unmarshal(body, &row); err != nil {
				fail(w, http.StatusUnprocessableEntity, 1008, "Cannot read HTTP message")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": tb.insert(row)})
		default:
			fail(w, http.StatusMethodNotAllowed, 1016, "Operation not supported")
		}
		return
	}

	keys := strings.Split(ids, ",")
	var results []any
	for _, key := range keys {
		id, err := strconv.Atoi(key)
		row, found := tb.rows[id]
		if err != nil || !found {
			fail(w, http.StatusNotFound, 1001, fmt.Sprintf("Record '%s' not found", key))
			return
		}
		switch r.Method {
		case http.MethodGet:
			results = append(results, row)
		case http.MethodPut, http.MethodPatch:
			var fields map[string]any
			if err := json.Unmarshal(body, &fields); err != nil {
				fail(w, http.StatusUnprocessableEntity, 1008, "Cannot read HTTP message")
				return
			}
			for k, v := range fields {
				if k == "id" {
					continue
				}
				if n, ok := v.(float64); ok && r.Method == http.MethodPatch {
					if cur, ok := row[k].(float64); ok {
						v = cur + n
					}
				}
				row[k] = v
			}
			results = append(results, 1)
		case http.MethodDelete:
			delete(tb.rows, id)
			results = append(results, 1)
		default:
			fail(w, http.StatusMethodNotAllowed, 1016, "Operation not supported")
			return
		}
	}
	if len(results) == 1 {
		writeJSON(w, http.StatusOK, results[0])
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// list returns rows in id order, honouring filter=field,eq,value.
func (tb *table) list(r *http.Request) []any {
	ids := make([]int, 0, len(tb.rows))
	for id := range tb.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	filters := r.URL.Query()["filter"]
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		row := tb.rows[id]
		if matches(row, filters) {
			out = append(out, row)
		}
	}
	return out
}

func matches(row map[string]any, filters []string) bool {
	for _, f := range filters {
		parts := strings.SplitN(f, ",", 3)
		if len(parts) != 3 || parts[1] != "eq" {
			continue
		}
		if fmt.Sprint(row[parts[0]]) != parts[2] {
			return false
		}
	}
	return true
}

type credentials struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

func (u *user) view() map[string]any {
	return map[string]any{"id": u.id, "username": u.username}
}

func (s *CRUDServer) current(r *http.Request) *user {
	c, err := r.Cookie("PHPSESSID")
	if err != nil {
		return nil
	}
	name, ok := s.sessions[c.Value]
	if !ok {
		return nil
	}
	return s.users[name]
}

func (s *CRUDServer) auth(w http.ResponseWriter, r *http.Request, endpoint string, body []byte) {
	switch {
	case endpoint == "me" && r.Method == http.MethodGet:
		if u := s.current(r); u != nil {
			writeJSON(w, http.StatusOK, u.view())
			return
		}
		fail(w, http.StatusUnauthorized, 1011, "Authentication required")
		return
	case endpoint == "logout" && r.Method == http.MethodPost:
		u := s.current(r)
		if u == nil {
			fail(w, http.StatusUnauthorized, 1011, "Authentication required")
			return
		}
		c, _ := r.Cookie("PHPSESSID")
		delete(s.sessions, c.Value)
		writeJSON(w, http.StatusOK, u.view())
		return
	case r.Method != http.MethodPost:
		fail(w, http.StatusNotFound, 1015, fmt.Sprintf("Route '/%s' not found", endpoint))
		return
	}

	var creds credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		fail(w, http.StatusUnprocessableEntity, 1008, "Cannot read HTTP message")
		return
	}

	switch endpoint {
	case "register":
		if _, exists := s.users[creds.Username]; exists {
			fail(w, http.StatusConflict, 1020, fmt.Sprintf("User '%s' already exists", creds.Username))
			return
		}
		if len(creds.Password) < 4 {
			fail(w, http.StatusUnprocessableEntity, 1021, "Password too short (<4 characters)")
			return
		}
		u := &user{id: len(s.users) + 1, username: creds.Username, password: creds.Password}
		s.users[u.username] = u
		writeJSON(w, http.StatusOK, u.view())
	case "login":
		u, ok := s.users[creds.Username]
		if !ok || u.password != creds.Password {
			fail(w, http.StatusForbidden, 1012, fmt.Sprintf("Authentication failed for '%s'", creds.Username))
			return
		}
		sid := "sess" + strconv.Itoa(len(s.sessions)+1) + u.username
		s.sessions[sid] = u.username
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: sid, Path: "/", HttpOnly: true})
		writeJSON(w, http.StatusOK, u.view())
	case "password":
		u, ok := s.users[creds.Username]
		if !ok || u.password != creds.Password {
			fail(w, http.StatusForbidden, 1012, fmt.Sprintf("Authentication failed for '%s'", creds.Username))
			return
		}
		u.password = creds.NewPassword
		writeJSON(w, http.StatusOK, u.view())
	default:
		fail(w, http.StatusNotFound, 1015, fmt.Sprintf("Route '/%s' not found", endpoint))
	}
}

// RegisterUser adds an account directly.
func (s *CRUDServer) RegisterUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{id: len(s.users) + 1, username: username, password: password}
}
