package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/pkiaudit/vaultmcp/internal/tools"
)

const (
	jsonRPCVersion  = "2.0"
	ProtocolVersion = "2025-06-18"
	SessionHeader   = "Mcp-Session-Id"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request expects no response.
func (r *rpcRequest) isNotification() bool {
	return len(r.ID) == 0
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callResult struct {
	Content           []textContent `json:"content"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError"`
}

var nullID = json.RawMessage("null")

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: jsonRPCVersion,
			ID:      nullID,
			Error:   &rpcError{Code: codeParseError, Message: "Parse error: " + err.Error()},
		})
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		id := req.ID
		if len(id) == 0 {
			id = nullID
		}
		writeRPC(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: jsonRPCVersion,
			ID:      id,
			Error:   &rpcError{Code: codeInvalidRequest, Message: "Invalid request"},
		})
		return
	}

	if req.isNotification() {
		s.logger.Debug("mcp notification", "method", req.Method)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID}
	switch req.Method {
	case "initialize":
		w.Header().Set(SessionHeader, uuid.New().String())
		resp.Result = initializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			ServerInfo: serverInfo{Name: ServerName, Version: s.version},
		}
	case "ping":
		resp.Result = struct{}{}
	case "tools/list":
		resp.Result = map[string]any{"tools": s.tools.Tools()}
	case "tools/call":
		result, rerr := s.callTool(r, req.Params)
		resp.Result, resp.Error = result, rerr
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "Method not found: " + req.Method}
	}

	writeRPC(w, http.StatusOK, resp)
}

func (s *Server) callTool(r *http.Request, raw json.RawMessage) (any, *rpcError) {
	var params callParams
	if len(raw) == 0 || json.Unmarshal(raw, &params) != nil || params.Name == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "Invalid params: tool name is required"}
	}

	result, err := s.tools.Call(r.Context(), params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			return nil, &rpcError{Code: codeInvalidParams, Message: "Unknown tool: " + params.Name}
		}
		s.logger.Error("tool call failed", "tool", params.Name, "error", err)
		return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
	}

	text, err := encodeIndented(result.Payload)
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: "encoding tool result: " + err.Error()}
	}
	return callResult{
		Content:           []textContent{{Type: "text", Text: text}},
		StructuredContent: result.Payload,
		IsError:           result.IsError,
	}, nil
}

func encodeIndented(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func writeRPC(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
