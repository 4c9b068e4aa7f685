// Package mcp exposes a notebook Session as a Model Context Protocol tool
// server speaking line-delimited JSON-RPC 2.0 over stdio.
//
// One tool, query_notebook, forwards a question to the session and returns
// the answer as text. One resource, notebook://status, reports whether the
// browser is live. Tool failures are reported inside the tool result with
// isError set, never as JSON-RPC faults, so clients can show the message.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"

	"github.com/entrhq/notebridge/pkg/browser"
	"github.com/entrhq/notebridge/pkg/logging"
)

// ProtocolVersion is the MCP revision this server implements.
const ProtocolVersion = "2024-11-05"

const (
	ToolQueryNotebook = "query_notebook"
	StatusURI         = "notebook://status"
)

const codeInvalidParams = jrpc2.Code(-32602)

// Session is the part of browser.Manager the server needs.
type Session interface {
	Query(ctx context.Context, url, question string) (string, error)
	Status() browser.Status
}

// Option configures a Server.
type Option func(*Server)

// WithLogger routes server and protocol logs to l.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithQueryTimeout bounds each query_notebook call. Zero means no bound
// beyond the session's own step timeouts.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Server) { s.queryTimeout = d }
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server dispatches MCP requests to a Session.
type Server struct {
	session      Session
	logger       *logging.Logger
	queryTimeout time.Duration
	name         string
	version      string
}

// NewServer creates a server over session.
func NewServer(session Session, opts ...Option) *Server {
	s := &Server{
		session: session,
		name:    "notebridge",
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Must(s.logger)
	return s
}

// Start runs the server on ch and returns the running jrpc2 server.
func (s *Server) Start(ch channel.Channel) *jrpc2.Server {
	methods := handler.Map{
		"initialize":                handler.New(s.initialize),
		"notifications/initialized": handler.New(s.initialized),
		"ping":                      handler.New(s.ping),
		"tools/list":                handler.New(s.toolsList),
		"tools/call":                handler.New(s.toolsCall),
		"resources/list":            handler.New(s.resourcesList),
		"resources/read":            handler.New(s.resourcesRead),
	}
	opts := &jrpc2.ServerOptions{
		Logger: func(text string) { s.logger.Debugf("jrpc2: %s", text) },
	}
	return jrpc2.NewServer(methods, opts).Start(ch)
}

// Serve speaks line-delimited JSON-RPC on in and out until in reaches EOF or
// ctx ends. A clean shutdown returns nil. When ctx ends and in is an
// io.Closer, in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.WriteCloser) error {
	srv := s.Start(channel.Line(in, out))
	s.logger.Infof("tool server listening on stdio")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock a reader parked on stdin.
			if c, ok := in.(io.Closer); ok {
				_ = c.Close()
			}
			srv.Stop()
		case <-done:
		}
	}()

	st := srv.WaitStatus()
	s.logger.Infof("tool server stopped (closed=%v stopped=%v)", st.Closed, st.Stopped)
	if st.Err != nil && !errors.Is(st.Err, io.EOF) && ctx.Err() == nil {
		return fmt.Errorf("tool server failed: %w", st.Err)
	}
	return nil
}

// InitializeParams is the client's initialize request.
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion,omitempty"`
	ClientInfo      ServerInfo `json:"clientInfo,omitempty"`
}

// InitializeResult answers initialize.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ServerInfo names a protocol peer.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises the features the server supports.
type Capabilities struct {
	Tools     struct{} `json:"tools"`
	Resources struct{} `json:"resources"`
}

// ListParams is the optional pagination input of the list methods.
type ListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// Tool describes a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolsListResult answers tools/list.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// CallParams is the input of tools/call.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Content is one block of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult answers tools/call.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Resource describes a readable resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType"`
}

// ResourcesListResult answers resources/list.
type ResourcesListResult struct {
	Resources []Resource `json:"resources"`
}

// ReadParams is the input of resources/read.
type ReadParams struct {
	URI string `json:"uri"`
}

// ResourceContents is the body of one resource.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ReadResult answers resources/read.
type ReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

type emptyResult struct{}

func (s *Server) initialize(_ context.Context, p *InitializeParams) (*InitializeResult, error) {
	if p.ClientInfo.Name != "" {
		s.logger.Infof("client connected: %s %s (protocol %s)", p.ClientInfo.Name, p.ClientInfo.Version, p.ProtocolVersion)
	}
	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      ServerInfo{Name: s.name, Version: s.version},
	}, nil
}

func (s *Server) initialized(context.Context, *emptyResult) (*emptyResult, error) {
	return &emptyResult{}, nil
}

func (s *Server) ping(context.Context, *emptyResult) (*emptyResult, error) {
	return &emptyResult{}, nil
}

func (s *Server) toolsList(context.Context, *ListParams) (*ToolsListResult, error) {
	return &ToolsListResult{Tools: []Tool{queryNotebookTool()}}, nil
}

func queryNotebookTool() Tool {
	return Tool{
		Name:        ToolQueryNotebook,
		Description: "Ask a question to a notebook and return its answer. Sessions persist between calls.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Notebook URL",
				},
				"question": map[string]any{
					"type":        "string",
					"description": "Question to ask",
				},
			},
			"required": []string{"url", "question"},
		},
	}
}

func (s *Server) toolsCall(ctx context.Context, p *CallParams) (*ToolResult, error) {
	if p.Name != ToolQueryNotebook {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: fmt.Sprintf("unknown tool %q", p.Name)}
	}

	url, err := stringArg(p.Arguments, "url")
	if err != nil {
		return errorResult(err), nil
	}
	question, err := stringArg(p.Arguments, "question")
	if err != nil {
		return errorResult(err), nil
	}

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	answer, err := s.session.Query(ctx, url, question)
	if err != nil {
		s.logger.Warnf("%s failed (%s): %v", ToolQueryNotebook, browser.KindOf(err), err)
		return errorResult(err), nil
	}
	return &ToolResult{Content: []Content{{Type: "text", Text: answer}}}, nil
}

func (s *Server) resourcesList(context.Context, *ListParams) (*ResourcesListResult, error) {
	return &ResourcesListResult{Resources: []Resource{{
		URI:         StatusURI,
		Name:        "Notebook session status",
		Description: "Whether the browser session is running and which page it is on",
		MimeType:    "text/plain",
	}}}, nil
}

func (s *Server) resourcesRead(_ context.Context, p *ReadParams) (*ReadResult, error) {
	if p.URI != StatusURI {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: fmt.Sprintf("unknown resource %q", p.URI)}
	}
	return &ReadResult{Contents: []ResourceContents{{
		URI:      StatusURI,
		MimeType: "text/plain",
		Text:     s.session.Status().String(),
	}}}, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	if strings.TrimSpace(str) == "" {
		return "", fmt.Errorf("argument %q must not be empty", name)
	}
	return str, nil
}

func errorResult(err error) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: "text", Text: "Error: " + err.Error()}},
		IsError: true,
	}
}
