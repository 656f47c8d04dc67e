package tooldispatch

import (
	"context"
	"encoding/json"

	"github.com/aimemory/platform/pkg/graph"
	"github.com/aimemory/platform/pkg/graph/graphsrv"
	"github.com/aimemory/platform/pkg/iam/apikey"
	"github.com/aimemory/platform/pkg/iam/apikey/apikeysrv"
	"github.com/aimemory/platform/pkg/iam/rbac"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/memstore"
	"github.com/aimemory/platform/pkg/memstore/memstoresrv"
	"github.com/aimemory/platform/pkg/retrieval"
	"github.com/google/jsonschema-go/jsonschema"
)

// Deps are the services the tool table closes over.
type Deps struct {
	Memories *memstoresrv.MemoryService
	Graph    *graphsrv.GraphService
	Search   *retrieval.Engine
	APIKeys  *apikeysrv.APIKeyService
}

func mustSchema[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(err)
	}
	return schema
}

// Tool input shapes. Target user is honored for admin principals only.

type memoryKeyInput struct {
	AgentName  string `json:"agent_name,omitempty" jsonschema:"agent namespace, default 'default'"`
	Key        string `json:"key" jsonschema:"memory key"`
	TargetUser string `json:"target_user,omitempty" jsonschema:"admin only: act on another user's data"`
}

type memoryListInput struct {
	Filter     memstore.ListFilter `json:"filter,omitempty"`
	Page       int                 `json:"page,omitempty"`
	PageSize   int                 `json:"page_size,omitempty"`
	TargetUser string              `json:"target_user,omitempty"`
}

type memoryPutInput struct {
	memstore.PutRequest
	TargetUser string `json:"target_user,omitempty"`
}

type memoryUpdateInput struct {
	AgentName  string                 `json:"agent_name,omitempty"`
	Key        string                 `json:"key"`
	Patch      memstore.UpdateRequest `json:"patch"`
	TargetUser string                 `json:"target_user,omitempty"`
}

type graphNodeInput struct {
	graphsrv.AddNodeRequest
	TargetUser string `json:"target_user,omitempty"`
}

type graphEdgeInput struct {
	graphsrv.AddEdgeRequest
	TargetUser string `json:"target_user,omitempty"`
}

type graphRemoveEdgeInput struct {
	Src        string `json:"src"`
	Dst        string `json:"dst"`
	RelType    string `json:"rel_type"`
	TargetUser string `json:"target_user,omitempty"`
}

type graphQueryInput struct {
	graph.TraversalQuery
	TargetUser string `json:"target_user,omitempty"`
}

type targetOnlyInput struct {
	TargetUser string `json:"target_user,omitempty" jsonschema:"admin only: act on another user's data"`
}

type apikeyCreateInput struct {
	Name        string   `json:"name"`
	Scopes      []string `json:"scopes,omitempty"`
	ExpiresDays *int     `json:"expires_days,omitempty"`
}

type apikeyRevokeInput struct {
	ID string `json:"id"`
}

type emptyInput struct{}

// BuildRegistry assembles the platform's static tool table. This is the
// single registration site; nothing registers tools at runtime.
func BuildRegistry(deps Deps) (*Registry, error) {
	registry := NewRegistry()

	owner := func(auth *kernel.AuthContext, target string) (kernel.UserID, error) {
		return rbac.ResolveTarget(auth, kernel.UserID(target))
	}

	table := []Tool{
		{
			Name:          "memory_put",
			Version:       "1",
			Description:   "Create or overwrite a memory at (agent_name, key).",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: true,
			InputSchema:   mustSchema[memoryPutInput](),
			OutputSchema:  mustSchema[memstore.Memory](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in memoryPutInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				return deps.Memories.Put(ctx, uid, in.PutRequest)
			},
		},
		{
			Name:          "memory_get",
			Version:       "1",
			Description:   "Fetch one memory and record the access.",
			RequiredRole:  kernel.RoleReadOnly,
			RemoteCapable: true,
			InputSchema:   mustSchema[memoryKeyInput](),
			OutputSchema:  mustSchema[memstore.Memory](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in memoryKeyInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				return deps.Memories.Get(ctx, uid, in.AgentName, in.Key)
			},
		},
		{
			Name:          "memory_list",
			Version:       "1",
			Description:   "List memories matching a filter.",
			RequiredRole:  kernel.RoleReadOnly,
			RemoteCapable: true,
			InputSchema:   mustSchema[memoryListInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in memoryListInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				return deps.Memories.List(ctx, uid, in.Filter, kernel.PaginationOptions{Page: in.Page, PageSize: in.PageSize})
			},
		},
		{
			Name:          "memory_update",
			Version:       "1",
			Description:   "Apply a partial update to a memory.",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: true,
			InputSchema:   mustSchema[memoryUpdateInput](),
			OutputSchema:  mustSchema[memstore.Memory](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in memoryUpdateInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				agent := in.AgentName
				if agent == "" {
					agent = "default"
				}
				return deps.Memories.Update(ctx, uid, agent, in.Key, in.Patch)
			},
		},
		{
			Name:          "memory_delete",
			Version:       "1",
			Description:   "Delete a memory; deleting a missing key succeeds.",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: true,
			InputSchema:   mustSchema[memoryKeyInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in memoryKeyInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				agent := in.AgentName
				if agent == "" {
					agent = "default"
				}
				if err := deps.Memories.Delete(ctx, uid, agent, in.Key); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": true}, nil
			},
		},
		{
			Name:          "memory_stats",
			Version:       "1",
			Description:   "Summarize the caller's memory footprint.",
			RequiredRole:  kernel.RoleReadOnly,
			RemoteCapable: true,
			InputSchema:   mustSchema[targetOnlyInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in targetOnlyInput
				_ = json.Unmarshal(input, &in)
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				return deps.Memories.Stats(ctx, uid)
			},
		},
		{
			Name:          "memory_gc",
			Version:       "1",
			Description:   "Evict idle working-scope memories. Admin only.",
			RequiredRole:  kernel.RoleAdmin,
			RemoteCapable: true,
			InputSchema:   mustSchema[targetOnlyInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in targetOnlyInput
				_ = json.Unmarshal(input, &in)
				deleted, err := deps.Memories.GC(ctx, kernel.UserID(in.TargetUser))
				if err != nil {
					return nil, err
				}
				return map[string]any{"deleted": deleted}, nil
			},
		},
		{
			Name:          "memory_search",
			Version:       "1",
			Description:   "Hybrid semantic + lexical search over memories.",
			RequiredRole:  kernel.RoleReadOnly,
			RemoteCapable: true,
			InputSchema:   mustSchema[retrieval.SearchRequest](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in retrieval.SearchRequest
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				return deps.Search.Search(ctx, auth, in)
			},
		},
		{
			Name:          "memory_search_ids",
			Version:       "1",
			Description:   "Hybrid search returning ids and previews only.",
			RequiredRole:  kernel.RoleReadOnly,
			RemoteCapable: true,
			InputSchema:   mustSchema[retrieval.SearchRequest](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in retrieval.SearchRequest
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				return deps.Search.RetrieveIDs(ctx, auth, in)
			},
		},
		{
			Name:          "graph_add_node",
			Version:       "1",
			Description:   "Create or update a knowledge-graph node.",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: true,
			InputSchema:   mustSchema[graphNodeInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in graphNodeInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				return deps.Graph.AddNode(ctx, uid, in.AddNodeRequest)
			},
		},
		{
			Name:          "graph_add_edge",
			Version:       "1",
			Description:   "Connect two graph nodes with a typed relation.",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: true,
			InputSchema:   mustSchema[graphEdgeInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in graphEdgeInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				return deps.Graph.AddEdge(ctx, uid, in.AddEdgeRequest)
			},
		},
		{
			Name:          "graph_query",
			Version:       "1",
			Description:   "Breadth-first traversal from start nodes, depth capped at 5.",
			RequiredRole:  kernel.RoleReadOnly,
			RemoteCapable: true,
			InputSchema:   mustSchema[graphQueryInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in graphQueryInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				return deps.Graph.Query(ctx, uid, in.TraversalQuery)
			},
		},
		{
			Name:          "graph_remove_node",
			Version:       "1",
			Description:   "Delete a node and every edge touching it.",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: true,
			InputSchema:   mustSchema[graphNodeInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in graphNodeInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				if err := deps.Graph.RemoveNode(ctx, uid, in.ID); err != nil {
					return nil, err
				}
				return map[string]any{"removed": true}, nil
			},
		},
		{
			Name:          "graph_remove_edge",
			Version:       "1",
			Description:   "Delete one directed edge.",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: true,
			InputSchema:   mustSchema[graphRemoveEdgeInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in graphRemoveEdgeInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				uid, err := owner(auth, in.TargetUser)
				if err != nil {
					return nil, err
				}
				if err := deps.Graph.RemoveEdge(ctx, uid, in.Src, in.Dst, in.RelType); err != nil {
					return nil, err
				}
				return map[string]any{"removed": true}, nil
			},
		},
		{
			Name:          "apikey_list",
			Version:       "1",
			Description:   "List the caller's API keys.",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: true,
			InputSchema:   mustSchema[emptyInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, _ json.RawMessage) (any, error) {
				return deps.APIKeys.ListAPIKeys(ctx, *auth.UserID)
			},
		},
		{
			Name:          "apikey_create",
			Version:       "1",
			Description:   "Create an API key; the plaintext is returned exactly once.",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: false, // minting credentials stays on the first-party surface
			InputSchema:   mustSchema[apikeyCreateInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in apikeyCreateInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				return deps.APIKeys.CreateAPIKey(ctx, auth, apikey.CreateAPIKeyRequest{
					Name:        in.Name,
					Scopes:      in.Scopes,
					ExpiresDays: in.ExpiresDays,
				})
			},
		},
		{
			Name:          "apikey_revoke",
			Version:       "1",
			Description:   "Revoke one of the caller's API keys.",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: true,
			InputSchema:   mustSchema[apikeyRevokeInput](),
			Handler: func(ctx context.Context, auth *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in apikeyRevokeInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, ErrInvalidInput().WithDetail("error", err.Error())
				}
				if err := deps.APIKeys.RevokeAPIKey(ctx, auth, in.ID); err != nil {
					return nil, err
				}
				return map[string]any{"revoked": true}, nil
			},
		},
	}

	for _, tool := range table {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
