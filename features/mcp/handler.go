package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragline/features/document"
	"ragline/internal/middleware"
	"ragline/internal/retrieval"
	"ragline/internal/vector"
)

type Engine interface {
	Ask(ctx context.Context, req retrieval.Request) (*retrieval.Answer, error)
	Search(ctx context.Context, req retrieval.Request) ([]vector.Hit, *retrieval.PartialSearchFailure, error)
}

type DocumentLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]document.Document, error)
}

type Handler struct {
	engine       Engine
	documents    DocumentLister
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(e Engine, d DocumentLister) *Handler {
	return &Handler{
		engine:    e,
		documents: d,
		sessions:  make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// QueryArgs are the arguments of ragline_ask and ragline_search.
type QueryArgs struct {
	Query        string   `json:"query"`
	DocumentKeys []string `json:"document_keys"`
	OwnerID      string   `json:"owner_id,omitempty"`
}

type ListDocumentsArgs struct {
	OwnerID string `json:"owner_id,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

const (
	ToolAsk           = "ragline_ask"
	ToolSearch        = "ragline_search"
	ToolListDocuments = "ragline_list_documents"
)

var ownerProperty = map[string]string{
	"type":        "string",
	"description": "Owner of the documents. Ignored when the session is authenticated.",
}

var queryInputSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"query": map[string]string{
			"type":        "string",
			"description": "The question",
		},
		"document_keys": map[string]interface{}{
			"type":        "array",
			"items":       map[string]string{"type": "string"},
			"description": "Keys of the documents to search, as listed by ragline_list_documents",
		},
		"owner_id": ownerProperty,
	},
	"required": []string{"query", "document_keys"},
}

func tools() []Tool {
	return []Tool{
		{
			Name: ToolAsk,
			Description: `Answer a question from a set of your documents. Each document is searched separately and the best passages from all of them ground a single answer.

USAGE EXAMPLE:
ragline_ask(query="what is the notice period?", document_keys=["u1/contract.pdf", "u1/addendum.docx"])`,
			InputSchema: queryInputSchema,
		},
		{
			Name: ToolSearch,
			Description: `Return the passages ragline_ask would ground its answer in, without generating an answer. Use it to quote sources or to check what a document says.

USAGE EXAMPLE:
ragline_search(query="termination clause", document_keys=["u1/contract.pdf"])`,
			InputSchema: queryInputSchema,
		},
		{
			Name:        ToolListDocuments,
			Description: `List the documents that have been indexed for you, with their keys, types and chunk counts.`,
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"owner_id": ownerProperty},
			},
		},
	}
}

// processRequest returns nil for notifications, which get no response.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "ragline-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools()}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			return makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		}
		return h.callTool(ctx, req.ID, params)
	default:
		slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
		return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	}
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	switch params.Name {
	case ToolAsk, ToolSearch:
		var args QueryArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		}
		owner, err := middleware.ResolveOwner(ctx, args.OwnerID)
		if err != nil {
			return makeErrorResponse(id, ErrInvalidParams, "owner_id is required")
		}
		req := retrieval.Request{Query: args.Query, OwnerID: owner, DocumentKeys: args.DocumentKeys}

		var text string
		if params.Name == ToolAsk {
			text, err = h.ask(ctx, req)
		} else {
			text, err = h.search(ctx, req)
		}
		if errors.Is(err, retrieval.ErrInvalidRequest) {
			return makeErrorResponse(id, ErrInvalidParams, err.Error())
		}
		if err != nil {
			slog.ErrorContext(ctx, "tool execution failed", "tool", params.Name, "error", err)
			return toolError(id, err)
		}
		slog.InfoContext(ctx, "tool execution completed", "tool", params.Name, "documents", len(req.DocumentKeys))
		return toolText(id, text)

	case ToolListDocuments:
		var args ListDocumentsArgs
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				return makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
			}
		}
		owner, err := middleware.ResolveOwner(ctx, args.OwnerID)
		if err != nil {
			return makeErrorResponse(id, ErrInvalidParams, "owner_id is required")
		}
		text, err := h.listDocuments(ctx, owner)
		if err != nil {
			slog.ErrorContext(ctx, "list documents failed", "error", err)
			return toolError(id, err)
		}
		return toolText(id, text)

	default:
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		return makeErrorResponse(id, ErrMethodNotFound, "Method not found: "+params.Name)
	}
}

func (h *Handler) ask(ctx context.Context, req retrieval.Request) (string, error) {
	ans, err := h.engine.Ask(ctx, req)
	if err != nil {
		return "", err
	}
	text := ans.Text
	if ans.Partial != nil {
		text += fmt.Sprintf("\n\n(Partial answer: %s could not be searched.)", strings.Join(failedKeys(ans.Partial), ", "))
	}
	return text, nil
}

func (h *Handler) search(ctx context.Context, req retrieval.Request) (string, error) {
	hits, partial, err := h.engine.Search(ctx, req)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&b, "Result %d (Score: %.2f):\n", i+1, hit.Score)
		fmt.Fprintf(&b, "Document: %s\n", hit.Metadata.DocumentKey)
		if hit.Metadata.SourceLabel != "" {
			fmt.Fprintf(&b, "Location: %s\n", hit.Metadata.SourceLabel)
		}
		fmt.Fprintf(&b, "Content:\n%s\n\n---\n", hit.Text)
	}
	if partial != nil {
		fmt.Fprintf(&b, "\nNot searched: %s\n", strings.Join(failedKeys(partial), ", "))
	}
	return b.String(), nil
}

func (h *Handler) listDocuments(ctx context.Context, owner string) (string, error) {
	docs, err := h.documents.ListByOwner(ctx, owner)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "No documents found.", nil
	}

	type simpleDocument struct {
		Key        string `json:"document_key"`
		Name       string `json:"file_name,omitempty"`
		Type       string `json:"file_type"`
		ChunkCount int    `json:"chunk_count"`
	}
	out := make([]simpleDocument, len(docs))
	for i, d := range docs {
		out[i] = simpleDocument{Key: d.DocumentKey, Name: d.FileName, Type: d.FileType, ChunkCount: d.ChunkCount}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func failedKeys(p *retrieval.PartialSearchFailure) []string {
	keys := make([]string, 0, len(p.Failed))
	for k := range p.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toolText(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func toolError(id interface{}, err error) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

// ServeHTTP answers a single JSON-RPC request in the response body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeRPC(w, makeErrorResponse(nil, ErrParse, "Parse error"))
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.writeRPC(w, resp)
}

// HandleSSE opens a session stream. Responses to messages posted for the
// session are delivered on it as "message" events.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeHTTPError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		h.sessionsLock.Unlock()
		slog.InfoContext(r.Context(), "sse session ended", "session_id", sessionID)
	}()

	slog.InfoContext(r.Context(), "sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC request for an open session, replies 202
// and processes it in the background.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHTTPError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId")
		return
	}

	h.sessionsLock.RLock()
	msgChan, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.WarnContext(ctx, "session not found", "session_id", sessionID)
		h.writeHTTPError(w, r, http.StatusNotFound, "NOT_FOUND", "Session not found")
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHTTPError(w, r, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON")
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Keep the request's values (owner, correlation id) past its cancellation.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}
		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(bgCtx, "failed to marshal response", "error", err)
			return
		}
		select {
		case msgChan <- string(respBytes):
		default:
			slog.WarnContext(bgCtx, "session channel full, dropping message", "session_id", sessionID)
		}
	}()
}

func (h *Handler) writeRPC(w http.ResponseWriter, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode error response", "error", err)
	}
}
