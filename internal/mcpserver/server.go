// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the relister operator tools over streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/control"
	"github.com/starford/relister/internal/models"
)

const guideURI = "relister://guide"

// Controller is the operator service the tools drive.
type Controller interface {
	Jobs() []control.JobStatus
	EnableJob(ctx context.Context, name string) error
	DisableJob(ctx context.Context, name string) error

	Keywords(ctx context.Context) ([]models.Keyword, error)
	AddKeywords(ctx context.Context, raw string) (control.AddResult, error)
	DeleteKeyword(ctx context.Context, pk int64) error

	AutoliftKeywords(ctx context.Context) ([]models.AutoliftKeyword, error)
	AddAutoliftKeyword(ctx context.Context, text string, position int) (models.AutoliftKeyword, error)
	DeleteAutoliftKeyword(ctx context.Context, pk int64) error

	CheckAuth(ctx context.Context) control.AuthStatus
}

// Server wraps the MCP server with relister tools.
type Server struct {
	mcp *server.MCPServer
	svc Controller
}

// New creates a new MCP server with all relister tools registered.
func New(svc Controller, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Relister",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	jobArg := mcp.WithString("name", mcp.Required(),
		mcp.Description("Job name: reupload or autolift"),
		mcp.Enum("reupload", "autolift"),
	)

	s.mcp.AddTool(mcp.NewTool("job_status",
		mcp.WithDescription("Report whether the reupload and autolift jobs are enabled, with their last pass."),
	), s.jobStatus)

	s.mcp.AddTool(mcp.NewTool("enable_job",
		mcp.WithDescription("Enable a job with the current keyword snapshot. "+
			"Requires a valid marketplace session and a non-empty keyword list."),
		jobArg,
	), s.enableJob)

	s.mcp.AddTool(mcp.NewTool("disable_job",
		mcp.WithDescription("Disable a running job. An in-flight pass is cancelled."),
		jobArg,
	), s.disableJob)

	s.mcp.AddTool(mcp.NewTool("list_keywords",
		mcp.WithDescription("List reupload keywords."),
	), s.listKeywords)

	s.mcp.AddTool(mcp.NewTool("add_keyword",
		mcp.WithDescription("Add reupload keywords. Accepts a comma-separated list."),
		mcp.WithString("keyword", mcp.Required(), mcp.Description("Keyword or comma-separated keywords")),
	), s.addKeyword)

	s.mcp.AddTool(mcp.NewTool("delete_keyword",
		mcp.WithDescription("Delete a reupload keyword by its primary key."),
		mcp.WithNumber("pk", mcp.Required(), mcp.Description("Keyword primary key from list_keywords")),
	), s.deleteKeyword)

	s.mcp.AddTool(mcp.NewTool("list_autolift_keywords",
		mcp.WithDescription("List autolift keywords with their position thresholds."),
	), s.listAutoliftKeywords)

	s.mcp.AddTool(mcp.NewTool("add_autolift_keyword",
		mcp.WithDescription("Add an autolift keyword. A matching listing is boosted when its rank is worse than position."),
		mcp.WithString("keyword", mcp.Required(), mcp.Description("Title substring to match")),
		mcp.WithNumber("position", mcp.Required(), mcp.Description("Rank threshold, 1 or greater")),
	), s.addAutoliftKeyword)

	s.mcp.AddTool(mcp.NewTool("delete_autolift_keyword",
		mcp.WithDescription("Delete an autolift keyword by its primary key."),
		mcp.WithNumber("pk", mcp.Required(), mcp.Description("Keyword primary key from list_autolift_keywords")),
	), s.deleteAutoliftKeyword)

	s.mcp.AddTool(mcp.NewTool("check_auth",
		mcp.WithDescription("Re-validate the stored marketplace session."),
	), s.checkAuth)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Operator Guide",
			mcp.WithResourceDescription("How the jobs behave and how keywords are matched."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuide,
	)

	return s
}

// Handler returns the streamable HTTP transport for mounting on a router.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

// errResult turns expected failures into tool errors. Unexpected ones are
// returned as protocol errors.
func errResult(err error) (*mcp.CallToolResult, error) {
	for _, known := range []error{
		apperr.ErrNotFound, apperr.ErrJobNotFound, apperr.ErrAlreadyExists, apperr.ErrConflict,
		apperr.ErrJobActive, apperr.ErrAuthInProgress, apperr.ErrNotAuthenticated,
		apperr.ErrNoKeywords, apperr.ErrInvalidInput, apperr.ErrUnknownJob,
	} {
		if errors.Is(err, known) {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	return nil, err
}

func pkArg(req mcp.CallToolRequest) (int64, error) {
	pk, err := req.RequireFloat("pk")
	if err != nil {
		return 0, err
	}
	if pk < 1 || pk != float64(int64(pk)) {
		return 0, fmt.Errorf("pk must be a positive integer")
	}
	return int64(pk), nil
}

func (s *Server) jobStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Jobs()), nil
}

func (s *Server) enableJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.EnableJob(ctx, name); err != nil {
		return errResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("enabled: %s", name)), nil
}

func (s *Server) disableJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DisableJob(ctx, name); err != nil {
		return errResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("disabled: %s", name)), nil
}

func (s *Server) listKeywords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kws, err := s.svc.Keywords(ctx)
	if err != nil {
		return errResult(err)
	}
	if len(kws) == 0 {
		return mcp.NewToolResultText("no keywords"), nil
	}
	lines := make([]string, 0, len(kws))
	for _, k := range kws {
		lines = append(lines, fmt.Sprintf("%d\t%s", k.PK, k.Text))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) addKeyword(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("keyword")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.AddKeywords(ctx, raw)
	if err != nil {
		return errResult(err)
	}
	if len(res.Added) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("already exists: %s", strings.Join(res.Exists, ", "))), nil
	}
	return jsonResult(res), nil
}

func (s *Server) deleteKeyword(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pk, err := pkArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteKeyword(ctx, pk); err != nil {
		return errResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %d", pk)), nil
}

func (s *Server) listAutoliftKeywords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kws, err := s.svc.AutoliftKeywords(ctx)
	if err != nil {
		return errResult(err)
	}
	if len(kws) == 0 {
		return mcp.NewToolResultText("no autolift keywords"), nil
	}
	lines := make([]string, 0, len(kws))
	for _, k := range kws {
		lines = append(lines, fmt.Sprintf("%d\t%s:%d", k.PK, k.Text, k.Position))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) addAutoliftKeyword(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("keyword")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pos, err := req.RequireFloat("position")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if pos < 1 || pos != float64(int(pos)) {
		return mcp.NewToolResultError("position must be a whole number of at least 1"), nil
	}
	k, err := s.svc.AddAutoliftKeyword(ctx, text, int(pos))
	if err != nil {
		return errResult(err)
	}
	return jsonResult(k), nil
}

func (s *Server) deleteAutoliftKeyword(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pk, err := pkArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteAutoliftKeyword(ctx, pk); err != nil {
		return errResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %d", pk)), nil
}

func (s *Server) checkAuth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.CheckAuth(ctx)), nil
}

func (s *Server) readGuide(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     OperatorGuide,
		},
	}, nil
}
