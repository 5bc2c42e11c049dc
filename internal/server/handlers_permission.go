package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/toolguard/internal/audit"
	"github.com/opencode-ai/toolguard/internal/permission"
)

// CheckRequest is a tool invocation to decide.
type CheckRequest struct {
	ToolName  string         `json:"toolName"`
	Content   string         `json:"content,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	SessionID string         `json:"sessionID,omitempty"`
	CallID    string         `json:"callID,omitempty"`
}

func (r CheckRequest) invocation() permission.Invocation {
	inv := permission.Invocation{
		ToolName:  r.ToolName,
		Content:   r.Content,
		Input:     r.Input,
		SessionID: r.SessionID,
		CallID:    r.CallID,
	}
	if inv.Content == "" && inv.Input != nil {
		inv.Content = permission.ContentFromInput(inv.ToolName, inv.Input)
	}
	return inv
}

// BatchCheckRequest is the body of POST /permission/check/batch.
type BatchCheckRequest struct {
	Invocations []CheckRequest `json:"invocations"`
}

// BatchResult is one entry of a batch response.
type BatchResult struct {
	Invocation permission.Invocation `json:"invocation"`
	Decision   *permission.Decision  `json:"decision,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// RulesResponse is the body of GET /permission/rules.
type RulesResponse struct {
	*permission.RuleSet
	Findings []permission.Finding `json:"findings,omitempty"`
}

// SessionRulesRequest adds rules to the session scope.
type SessionRulesRequest struct {
	Behavior permission.Behavior `json:"behavior"`
	Rules    []string            `json:"rules"`
}

// RespondRequest is a reply to a pending permission request.
type RespondRequest struct {
	Response permission.Response `json:"response"`
}

// RequestResponse is the outcome of a blocking permission request.
type RequestResponse struct {
	Decision *permission.Decision `json:"decision"`
	Granted  bool                 `json:"granted"`
	Message  string               `json:"message,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"rootDir": s.rules.RootDir(),
	})
}

// checkPermission decides one invocation without waiting on an ask.
func (s *Server) checkPermission(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeCheckRequest(w, r, &req) {
		return
	}

	d, err := s.checker.Evaluate(r.Context(), req.invocation())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) checkPermissionBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, badRequest("invalid request body"))
		return
	}

	invs := make([]permission.Invocation, 0, len(req.Invocations))
	for i, c := range req.Invocations {
		if c.ToolName == "" {
			writeFailure(w, badRequest("toolName is required").with("index", i))
			return
		}
		invs = append(invs, c.invocation())
	}

	results, err := s.checker.EvaluateAll(r.Context(), invs)
	if err != nil {
		writeFailure(w, err)
		return
	}

	out := make([]BatchResult, len(results))
	for i, res := range results {
		out[i] = BatchResult{Invocation: res.Invocation, Decision: res.Decision}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// requestPermission decides an invocation and, on ask, blocks until the
// request is replied to or the client goes away.
func (s *Server) requestPermission(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeCheckRequest(w, r, &req) {
		return
	}

	d, err := s.checker.Check(r.Context(), req.invocation())
	var rej *permission.RejectedError
	switch {
	case errors.As(err, &rej):
		writeJSON(w, http.StatusOK, RequestResponse{Decision: rej.Decision, Message: rej.Message})
	case err != nil:
		writeFailure(w, err)
	default:
		writeJSON(w, http.StatusOK, RequestResponse{Decision: d, Granted: true})
	}
}

func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, badRequest("invalid request body"))
		return
	}

	err := s.checker.Respond(requestID, req.Response)
	switch {
	case errors.Is(err, permission.ErrRequestNotFound):
		writeFailure(w, err)
	case err != nil:
		writeFailure(w, badRequest(err.Error()))
	default:
		writeSuccess(w)
	}
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.checker.Pending())
}

func (s *Server) getRules(w http.ResponseWriter, r *http.Request) {
	rs, err := s.rules.Snapshot(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := RulesResponse{RuleSet: rs}
	if r.URL.Query().Get("lint") == "true" {
		resp.Findings = permission.Lint(rs, s.mcpToolNames()...)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reloadRules(w http.ResponseWriter, r *http.Request) {
	rs, err := s.rules.Reload(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) getSessionRules(w http.ResponseWriter, r *http.Request) {
	rules := s.rules.SessionRules()
	if rules == nil {
		rules = []permission.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) addSessionRules(w http.ResponseWriter, r *http.Request) {
	var req SessionRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, badRequest("invalid request body"))
		return
	}
	if req.Behavior == "" {
		req.Behavior = permission.BehaviorAllow
	}
	if req.Behavior != permission.BehaviorAllow && req.Behavior != permission.BehaviorDeny {
		writeFailure(w, badRequest("behavior must be allow or deny"))
		return
	}
	if len(req.Rules) == 0 {
		writeFailure(w, badRequest("rules are required"))
		return
	}

	rs, err := s.rules.AddSessionRules(r.Context(), permission.ParseRules(permission.ScopeSession, req.Behavior, req.Rules)...)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) clearSessionRules(w http.ResponseWriter, r *http.Request) {
	rs, err := s.rules.ClearSession(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeFailure(w, notFound("audit log is disabled"))
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		SessionID: q.Get("sessionID"),
		ToolName:  q.Get("tool"),
		Behavior:  q.Get("behavior"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeFailure(w, badRequest("invalid limit"))
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeFailure(w, badRequest("invalid since: want RFC 3339"))
			return
		}
		f.Since = t
	}

	records, err := s.audit.List(r.Context(), f)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeFailure(w, notFound("audit log is disabled"))
		return
	}

	rec, err := s.audit.Get(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getMCPStatus(w http.ResponseWriter, r *http.Request) {
	if s.mcpClient == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.mcpClient.Status())
}

func (s *Server) mcpToolNames() []string {
	if s.mcpClient == nil {
		return nil
	}
	var names []string
	for _, t := range s.mcpClient.Tools() {
		names = append(names, t.Name)
	}
	return names
}

func decodeCheckRequest(w http.ResponseWriter, r *http.Request, req *CheckRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeFailure(w, badRequest("invalid request body"))
		return false
	}
	if req.ToolName == "" {
		writeFailure(w, badRequest("toolName is required"))
		return false
	}
	return true
}
