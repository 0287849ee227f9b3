// Package clienttest serves a fake Mastodon-compatible API for any number of
// virtual hosts from one httptest server.
package clienttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/fedmerge/client"
	"github.com/deemkeen/fedmerge/domain"
)

// Instance is the canned content of one virtual host. Zero status fields
// mean 200.
type Instance struct {
	Info       *client.InstanceInfo
	InfoStatus int
	InfoRaw    string

	Statuses      map[string]domain.Post
	Contexts      map[string]domain.ReplyTree
	ContextStatus int
	// SearchStatuses and SearchAccounts are keyed by the q parameter
	SearchStatuses map[string]domain.Post
	SearchAccounts map[string]domain.Account
	// Lookup is keyed by acct
	Lookup                map[string]domain.Account
	Accounts              map[string]domain.Account
	AccountStatuses       map[string][]domain.Post
	AccountStatusesStatus int

	// Delay is applied to every request
	Delay time.Duration
}

type Server struct {
	*httptest.Server

	mu        sync.Mutex
	instances map[string]*Instance
	calls     map[string]int
}

func NewServer() *Server {
	s := &Server{
		instances: make(map[string]*Instance),
		calls:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Instance returns the content of host, creating an empty one
func (s *Server) Instance(host string) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[host]
	if !ok {
		inst = &Instance{
			Statuses:        map[string]domain.Post{},
			Contexts:        map[string]domain.ReplyTree{},
			SearchStatuses:  map[string]domain.Post{},
			SearchAccounts:  map[string]domain.Account{},
			Lookup:          map[string]domain.Account{},
			Accounts:        map[string]domain.Account{},
			AccountStatuses: map[string][]domain.Post{},
		}
		s.instances[host] = inst
	}
	return inst
}

// Calls counts the requests host received for path, the query excluded
func (s *Server) Calls(host, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[host+path]
}

// TotalCalls counts every request host received
func (s *Server) TotalCalls(host string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, c := range s.calls {
		if strings.HasPrefix(key, host+"/") {
			n += c
		}
	}
	return n
}

// HTTPClient sends every request to the fake server, keeping the virtual
// host in the Host header
func (s *Server) HTTPClient() *http.Client {
	target, _ := url.Parse(s.URL)
	return &http.Client{Transport: rewriteTransport{target: target}}
}

// Client is a client.Client wired to the fake server
func (s *Server) Client() *client.Client {
	return client.New(client.Options{Scheme: "http", HTTPClient: s.HTTPClient()})
}

type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	path := r.URL.EscapedPath()

	s.mu.Lock()
	s.calls[host+path]++
	inst, ok := s.instances[host]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown host", http.StatusBadGateway)
		return
	}
	if inst.Delay > 0 {
		select {
		case <-time.After(inst.Delay):
		case <-r.Context().Done():
			return
		}
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := range segments {
		segments[i], _ = url.PathUnescape(segments[i])
	}
	query := r.URL.Query()

	switch {
	case path == "/api/v1/instance":
		if inst.InfoRaw != "" {
			writeStatus(w, inst.InfoStatus)
			w.Write([]byte(inst.InfoRaw))
			return
		}
		if inst.Info == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, inst.InfoStatus, inst.Info)

	case path == "/api/v2/search":
		q := query.Get("q")
		res := map[string]any{"statuses": []domain.Post{}, "accounts": []domain.Account{}}
		if query.Get("type") == "accounts" {
			if acc, found := inst.SearchAccounts[q]; found {
				res["accounts"] = []domain.Account{acc}
			}
		} else if post, found := inst.SearchStatuses[q]; found {
			res["statuses"] = []domain.Post{post}
		}
		writeJSON(w, 0, res)

	case path == "/api/v1/accounts/lookup":
		acc, found := inst.Lookup[query.Get("acct")]
		if !found {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, 0, acc)

	case len(segments) == 4 && segments[2] == "statuses":
		post, found := inst.Statuses[segments[3]]
		if !found {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, 0, post)

	case len(segments) == 5 && segments[2] == "statuses" && segments[4] == "context":
		if inst.ContextStatus >= 300 {
			http.Error(w, "denied", inst.ContextStatus)
			return
		}
		tree, found := inst.Contexts[segments[3]]
		if !found {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, 0, tree)

	case len(segments) == 4 && segments[2] == "accounts":
		acc, found := inst.Accounts[segments[3]]
		if !found {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, 0, acc)

	case len(segments) == 5 && segments[2] == "accounts" && segments[4] == "statuses":
		if inst.AccountStatusesStatus >= 300 {
			http.Error(w, "denied", inst.AccountStatusesStatus)
			return
		}
		posts, found := inst.AccountStatuses[segments[3]]
		if !found {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, 0, posts)

	default:
		http.NotFound(w, r)
	}
}

func writeStatus(w http.ResponseWriter, status int) {
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	writeStatus(w, status)
	json.NewEncoder(w).Encode(v)
}

// Post builds a minimal valid status. acct is the handle as seen by the
// serving host, "user" for its own accounts.
func Post(id, uri, authorID, acct string) domain.Post {
	username := strings.SplitN(strings.TrimPrefix(acct, "@"), "@", 2)[0]
	return domain.Post{
		ID:        id,
		URI:       uri,
		URL:       uri,
		Account:   &domain.Account{ID: authorID, Acct: acct, Username: username},
		Content:   "<p>post " + id + "</p>",
		CreatedAt: "2024-01-01T00:00:00.000Z",
	}
}
