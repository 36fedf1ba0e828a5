// Package portaltest provides an in-memory portal server speaking the
// portal HTTP contract, for tests.
package portaltest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parnexcodes/droppush/internal/portal"
)

// Portal is one portal hosted by the fake server
type Portal struct {
	ID        string
	Token     string
	Policy    portal.Policy
	Reusable  bool
	ExpiresAt time.Time
	Claimed   bool
	Closed    bool
	// Files holds destination contents keyed by relpath
	Files map[string][]byte
}

type upload struct {
	id           string
	portalID     string
	relpath      string
	size         int64
	policy       portal.Policy
	clientSHA256 string
	status       string
	finalRelpath string
	serverSHA256 string
	received     int64
}

// InitRequest records one initialize call as the server decoded it
type InitRequest struct {
	UploadID     string
	Relpath      string
	Size         int64
	ClientSHA256 *string
	Policy       string
}

// Server is a fake portal server
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	portals  map[string]*Portal
	uploads  map[string]*upload
	requests []string
	inits    []InitRequest

	// FailInit makes initialize for the given relpath fail with the status
	FailInit map[string]int
	// FailPut makes the byte transfer for the given relpath fail with the status
	FailPut map[string]int
	// FailPreflight makes every preflight fail with the status when non-zero
	FailPreflight int
	// FailClose makes close fail with the status when non-zero
	FailClose int
	// OmitReusable drops the reusable field from claim responses
	OmitReusable bool
	// OnPut runs before a PUT body is read
	OnPut func(relpath string)
}

// NewServer starts a fake portal server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		portals:  make(map[string]*Portal),
		uploads:  make(map[string]*upload),
		FailInit: make(map[string]int),
		FailPut:  make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/portals/", s.handlePortals)
	mux.HandleFunc("/api/uploads/", s.handleUploads)
	s.Server = httptest.NewServer(mux)
	return s
}

// AddPortal registers an unclaimed portal
func (s *Server) AddPortal(id string, policy portal.Policy, reusable bool) *Portal {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Portal{
		ID:        id,
		Policy:    policy,
		Reusable:  reusable,
		ExpiresAt: time.Now().Add(20 * time.Minute).UTC().Truncate(time.Second),
		Files:     make(map[string][]byte),
	}
	s.portals[id] = p
	return p
}

// PutFile seeds an existing destination file
func (s *Server) PutFile(portalID, relpath string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portals[portalID].Files[relpath] = content
}

// File returns a destination file's contents
func (s *Server) File(portalID, relpath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.portals[portalID].Files[relpath]
	return content, ok
}

// PortalState returns a copy of a portal's claim and close flags
func (s *Server) PortalState(portalID string) (claimed bool, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.portals[portalID]
	return p.Claimed, p.Closed
}

// PortalURL returns the /p/{id} link for a portal
func (s *Server) PortalURL(portalID string) string {
	return s.URL + "/p/" + portalID
}

// Requests returns "METHOD /path" for every request served so far
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests counts requests whose path ends with suffix
func (s *Server) CountRequests(suffix string) int {
	count := 0
	for _, req := range s.Requests() {
		if strings.HasSuffix(req, suffix) {
			count++
		}
	}
	return count
}

// Inits returns every initialize request in arrival order
func (s *Server) Inits() []InitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InitRequest(nil), s.inits...)
}

func (s *Server) record(r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	s.mu.Unlock()
}

func (s *Server) handlePortals(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	segments := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/portals/"), "/"), "/")
	if len(segments) != 2 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	portalID, action := segments[0], segments[1]

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.portals[portalID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "portal not found"})
		return
	}
	if p.Closed {
		writeJSON(w, http.StatusGone, map[string]string{"error": "portal closed"})
		return
	}

	switch action {
	case "info":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"portal_id":  p.ID,
			"expires_at": p.ExpiresAt.Format(time.RFC3339),
			"policy":     claimPolicy(p.Policy),
			"reusable":   p.Reusable,
		})
	case "claim":
		if p.Claimed {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "Portal already claimed"})
			return
		}
		p.Claimed = true
		p.Token = "tok_" + uuid.NewString()
		body := map[string]interface{}{
			"portal_id":    p.ID,
			"client_token": p.Token,
			"expires_at":   p.ExpiresAt.Format(time.RFC3339),
			"policy":       claimPolicy(p.Policy),
		}
		if !s.OmitReusable {
			body["reusable"] = p.Reusable
		}
		writeJSON(w, http.StatusOK, body)
	case "preflight":
		if !s.checkToken(w, r, p) {
			return
		}
		if s.FailPreflight != 0 {
			writeJSON(w, s.FailPreflight, map[string]string{"error": "preflight unavailable"})
			return
		}
		var req portal.PreflightRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		conflicts := make([]portal.Conflict, 0)
		var total int64
		for _, item := range req.Items {
			total += item.Size
			if _, exists := p.Files[item.Relpath]; exists {
				conflicts = append(conflicts, portal.Conflict{Relpath: item.Relpath, Reason: "exists"})
			}
		}
		writeJSON(w, http.StatusOK, portal.PreflightResponse{TotalFiles: len(req.Items), TotalBytes: total, Conflicts: conflicts})
	case "uploads":
		if !s.checkToken(w, r, p) {
			return
		}
		var raw struct {
			UploadID     string  `json:"upload_id"`
			Relpath      string  `json:"relpath"`
			Size         int64   `json:"size"`
			ClientSHA256 *string `json:"client_sha256"`
			Policy       string  `json:"policy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		req := InitRequest(raw)
		s.inits = append(s.inits, req)
		if status := s.FailInit[req.Relpath]; status != 0 {
			writeJSON(w, status, map[string]string{"error": "cannot initialize " + req.Relpath})
			return
		}
		if req.UploadID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "upload_id required"})
			return
		}
		if _, exists := s.uploads[req.UploadID]; exists {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "upload already exists"})
			return
		}
		u := &upload{
			id:       req.UploadID,
			portalID: p.ID,
			relpath:  req.Relpath,
			size:     req.Size,
			policy:   portal.Policy(req.Policy),
			status:   "initialized",
		}
		if req.ClientSHA256 != nil {
			u.clientSHA256 = *req.ClientSHA256
		}
		s.uploads[u.id] = u
		writeJSON(w, http.StatusOK, portal.InitResponse{UploadID: u.id, PutURL: "/api/uploads/" + u.id})
	case "close":
		if !s.checkToken(w, r, p) {
			return
		}
		if s.FailClose != 0 {
			w.WriteHeader(s.FailClose)
			return
		}
		p.Closed = true
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	segments := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/uploads/"), "/"), "/")

	if len(segments) == 2 && segments[1] == "status" {
		s.handleStatus(w, segments[0])
		return
	}
	if len(segments) != 1 || r.Method != http.MethodPut {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	s.mu.Lock()
	u, ok := s.uploads[segments[0]]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "upload not found"})
		return
	}
	p := s.portals[u.portalID]
	if !s.checkToken(w, r, p) {
		s.mu.Unlock()
		return
	}
	failStatus := s.FailPut[u.relpath]
	onPut := s.OnPut
	s.mu.Unlock()

	if onPut != nil {
		onPut(u.relpath)
	}
	if failStatus != 0 {
		_, _ = io.Copy(io.Discard, r.Body)
		writeJSON(w, failStatus, map[string]string{"error": "failed to stream upload"})
		return
	}
	if r.ContentLength != u.size {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size mismatch"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || int64(len(body)) != u.size {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size mismatch"})
		return
	}
	sum := sha256.Sum256(body)
	serverSHA := hex.EncodeToString(sum[:])
	if u.clientSHA256 != "" && !strings.EqualFold(u.clientSHA256, serverSHA) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sha256 mismatch"})
		return
	}

	s.mu.Lock()
	final := u.relpath
	if _, exists := p.Files[final]; exists && u.policy == portal.PolicyAutorename {
		dir, base := path.Split(final)
		ext := path.Ext(base)
		name := strings.TrimSuffix(base, ext)
		for i := 1; ; i++ {
			candidate := path.Join(dir, fmt.Sprintf("%s_%d%s", name, i, ext))
			if _, taken := p.Files[candidate]; !taken {
				final = candidate
				break
			}
		}
	}
	p.Files[final] = body
	u.status = "committed"
	u.finalRelpath = final
	u.serverSHA256 = serverSHA
	u.received = int64(len(body))
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, portal.CommitResponse{
		Status:        "committed",
		Relpath:       u.relpath,
		ServerSHA256:  serverSHA,
		BytesReceived: int64(len(body)),
		FinalRelpath:  final,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok {
		writeJSON(w, http.StatusOK, portal.UploadStatusResponse{UploadID: uploadID, Status: "not_found"})
		return
	}
	resp := portal.UploadStatusResponse{UploadID: u.id, Status: u.status, BytesReceived: u.received}
	if u.serverSHA256 != "" {
		resp.ServerSHA256 = &u.serverSHA256
	}
	if u.finalRelpath != "" {
		resp.FinalRelpath = &u.finalRelpath
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) checkToken(w http.ResponseWriter, r *http.Request, p *Portal) bool {
	token := strings.TrimSpace(r.Header.Get(portal.TokenHeader))
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "client token required"})
		return false
	}
	if token != p.Token {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "client token invalid"})
		return false
	}
	return true
}

func claimPolicy(p portal.Policy) portal.ClaimPolicy {
	return portal.ClaimPolicy{
		Overwrite:  p == portal.PolicyOverwrite,
		Autorename: p == portal.PolicyAutorename,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
