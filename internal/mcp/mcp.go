// Package mcp implements the Model Context Protocol tool-call endpoint
// (spec §4.10): JSON-RPC 2.0 requests answered over a single SSE stream per
// call, grounded on sse-rag-service/main.go's gin SSE handler generalized
// from a free-form event bus into the fixed JSON-RPC method set.
package mcp

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/config"
	"legal-research-engine/internal/llm"
	"legal-research-engine/internal/orchestrator"
)

// jsonrpcVersion is the MCP wire envelope, JSON-RPC 2.0.
const jsonrpcVersion = "2.0"

// Request is one JSON-RPC 2.0 call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// errorObject is a JSON-RPC 2.0 error payload.
type errorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// response is one SSE-framed JSON-RPC 2.0 reply.
type response struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      any          `json:"id,omitempty"`
	Result  any          `json:"result,omitempty"`
	Error   *errorObject `json:"error,omitempty"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeToolError      = -32001
	codeAuthError      = -32002
)

// Server is the MCP endpoint's gin handler group, wired to one Orchestrator
// per process (spec §3: the orchestrator owns no per-request state, so one
// instance safely serves every concurrent call).
type Server struct {
	orch   *orchestrator.Orchestrator
	cfg    *config.Config
	logger *zap.Logger
}

// New builds the MCP Server.
func New(orch *orchestrator.Orchestrator, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{orch: orch, cfg: cfg, logger: logger}
}

// Register mounts the CORS middleware and the /mcp endpoint onto a gin
// engine, following the teacher's route-group-per-concern layout. The
// /health and /metrics routes are mounted separately by cmd/mcp-server.
func (s *Server) Register(r *gin.Engine) {
	r.Use(corsMiddleware())
	mcp := r.Group("/mcp")
	mcp.POST("", s.handleCall)
	mcp.POST("/", s.handleCall)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key, Mcp-Protocol-Version")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// callerIdentity is the authenticated (or anonymous) caller recovered from
// the request's bearer token / API key.
type callerIdentity struct {
	CallerID      string
	Authenticated bool
}

// authenticate implements spec §4.10/§6's auth contract: a bearer token
// compared in constant time against the configured shared secret, or an API
// key checked against the configured bcrypt hashes (grounded on
// auth-handler.go's bcrypt password-hash pattern, repurposed for API-key
// storage). initialize/ping are allowed to proceed unauthenticated; every
// other method requires one of the two schemes to succeed.
func (s *Server) authenticate(c *gin.Context) callerIdentity {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if s.cfg.MCPBearerSecret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.MCPBearerSecret)) == 1 {
			return callerIdentity{CallerID: "bearer:" + hashPrefix(token), Authenticated: true}
		}
	}
	if key := c.GetHeader("X-Api-Key"); key != "" {
		for _, hash := range s.cfg.MCPAPIKeys {
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
				return callerIdentity{CallerID: "apikey:" + hashPrefix(hash), Authenticated: true}
			}
		}
	}
	return callerIdentity{CallerID: "anonymous", Authenticated: false}
}

func hashPrefix(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

var publicMethods = map[string]bool{"initialize": true, "ping": true}

// handleCall is the single MCP route: it decodes one JSON-RPC request,
// authenticates it (unless the method is public), and streams the reply as
// a sequence of `data:` framed SSE events ending in the result or error, per
// spec §4.10/§6.
func (s *Server) handleCall(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	var req Request
	decodeErr := c.ShouldBindJSON(&req)
	if decodeErr != nil {
		writeEvent(c, response{JSONRPC: jsonrpcVersion, Error: &errorObject{Code: codeParseError, Message: "invalid JSON-RPC request: " + decodeErr.Error()}})
		return
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: &errorObject{Code: codeInvalidRequest, Message: "missing jsonrpc/method"}})
		return
	}

	identity := s.authenticate(c)
	if !identity.Authenticated && !publicMethods[req.Method] {
		writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: &errorObject{Code: codeAuthError, Message: "authentication required"}})
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(c, req)
	case "ping":
		writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: map[string]any{"pong": true}})
	case "prompts/list":
		writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: map[string]any{"prompts": []any{}}})
	case "resources/list":
		writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: map[string]any{"resources": []any{}}})
	case "tools/list":
		s.handleToolsList(c, req)
	case "tools/call":
		s.handleToolsCall(c, req, identity)
	default:
		writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: &errorObject{Code: codeMethodNotFound, Message: "unknown method: " + req.Method}})
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

// handleInitialize negotiates the protocol version against the configured
// accept-list and returns server info/capabilities, per spec §4.10.
func (s *Server) handleInitialize(c *gin.Context, req Request) {
	var params initializeParams
	_ = json.Unmarshal(req.Params, &params)

	negotiated := params.ProtocolVersion
	accepted := false
	for _, v := range s.cfg.MCPProtocolVersions {
		if v == negotiated {
			accepted = true
			break
		}
	}
	if !accepted {
		negotiated = s.cfg.MCPProtocolVersions[len(s.cfg.MCPProtocolVersions)-1]
	}

	writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: map[string]any{
		"protocolVersion": negotiated,
		"serverInfo": map[string]any{
			"name":    s.cfg.ServiceName,
			"version": "1.0.0",
		},
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
			"resources": map[string]any{"listChanged": false},
		},
	}})
}

func (s *Server) handleToolsList(c *gin.Context, req Request) {
	tools := s.orch.ListTools()
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.Schema,
		})
	}
	writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: map[string]any{"tools": out}})
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Budget    string         `json:"budget"`
	Deadline  string         `json:"deadline"` // RFC3339, optional
}

// handleToolsCall streams a "tool started" progress event, invokes the tool
// synchronously (the orchestrator's own suspension points are the real
// streaming boundary — spec §5), and emits the terminal result/error event.
func (s *Server) handleToolsCall(c *gin.Context, req Request, identity callerIdentity) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: &errorObject{Code: codeInvalidParams, Message: "missing tool name"}})
		return
	}

	writeEvent(c, response{JSONRPC: jsonrpcVersion, Result: map[string]any{
		"progress": map[string]any{"tool": params.Name, "status": "started"},
	}})
	c.Writer.Flush()

	ec := orchestrator.ExecutionContext{
		CallerID: identity.CallerID,
		Budget:   llm.Budget(defaultString(params.Budget, string(llm.BudgetDefault))),
	}
	if params.Deadline != "" {
		if d, err := time.Parse(time.RFC3339, params.Deadline); err == nil {
			ec.Deadline = d
		}
	}

	result, err := s.orch.Call(c.Request.Context(), ec, params.Name, params.Arguments)
	if err != nil {
		writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: map[string]any{
			"isError": true,
			"content": []map[string]any{{"type": "text", "text": err.Error()}},
			"code":    string(apperr.KindOf(err)),
		}})
		return
	}

	writeEvent(c, response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: map[string]any{
		"isError": false,
		"content": []map[string]any{{"type": "json", "json": result}},
	}})
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// writeEvent frames one JSON-RPC reply as a single SSE `data:` event,
// per spec §6's exact framing contract.
func writeEvent(c *gin.Context, r response) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
