// Package tooldispatch exposes platform operations as name-addressable
// tools. The registry is populated once at startup from a static table —
// no runtime registration, no per-call reflection — and every invocation
// passes the same gauntlet: authenticate, look up, enforce role, validate
// input, execute, serialize, count.
package tooldispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/google/jsonschema-go/jsonschema"
)

// Handler executes one tool call for an authenticated principal.
type Handler func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error)

// Tool is one registered operation.
type Tool struct {
	Name          string
	Version       string
	Description   string
	RequiredRole  kernel.Role
	RemoteCapable bool
	InputSchema   *jsonschema.Schema
	OutputSchema  *jsonschema.Schema
	Handler       Handler

	resolvedInput *jsonschema.Resolved
}

// ToolInfo is the wire description of a tool.
type ToolInfo struct {
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Description  string             `json:"description"`
	RequiredRole kernel.Role        `json:"required_role"`
	InputSchema  *jsonschema.Schema `json:"input_schema,omitempty"`
	OutputSchema *jsonschema.Schema `json:"output_schema,omitempty"`
}

// Registry holds the tool table. It is write-once: Register is called from
// the startup table and never after.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds one tool, resolving its input schema for validation.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" || tool.Handler == nil {
		return errx.Validation("tool needs a name and a handler")
	}
	if tool.RequiredRole == "" {
		tool.RequiredRole = kernel.RoleUser
	}

	if tool.InputSchema != nil {
		resolved, err := tool.InputSchema.Resolve(nil)
		if err != nil {
			return errx.Wrap(err, "failed to resolve input schema", errx.TypeInternal).
				WithDetail("tool", tool.Name)
		}
		tool.resolvedInput = resolved
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return errx.Conflict("tool already registered").WithDetail("tool", tool.Name)
	}
	r.tools[tool.Name] = &tool
	return nil
}

// Get returns one tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns tool descriptions, sorted by name. With remoteOnly set,
// tools not safe for network invocation are hidden.
func (r *Registry) List(remoteOnly bool) []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		if remoteOnly && !t.RemoteCapable {
			continue
		}
		infos = append(infos, ToolInfo{
			Name:         t.Name,
			Version:      t.Version,
			Description:  t.Description,
			RequiredRole: t.RequiredRole,
			InputSchema:  t.InputSchema,
			OutputSchema: t.OutputSchema,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("TOOL")

var (
	CodeUnknownTool  = ErrRegistry.Register("UNKNOWN_TOOL", errx.TypeNotFound, http.StatusNotFound, "No tool with that name")
	CodeNotRemote    = ErrRegistry.Register("NOT_REMOTE_CAPABLE", errx.TypeForbidden, http.StatusForbidden, "Tool cannot be invoked over the network")
	CodeInvalidInput = ErrRegistry.Register("INVALID_INPUT", errx.TypeValidation, http.StatusBadRequest, "Tool input failed schema validation")
)

func ErrUnknownTool() *errx.Error  { return ErrRegistry.New(CodeUnknownTool) }
func ErrNotRemote() *errx.Error    { return ErrRegistry.New(CodeNotRemote) }
func ErrInvalidInput() *errx.Error { return ErrRegistry.New(CodeInvalidInput) }
