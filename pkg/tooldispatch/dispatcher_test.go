package tooldispatch_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/tooldispatch"
	"github.com/google/jsonschema-go/jsonschema"
)

type echoInput struct {
	Message string `json:"message"`
}

func newDispatcher(t *testing.T) *tooldispatch.Dispatcher {
	t.Helper()
	registry := tooldispatch.NewRegistry()

	schema, err := jsonschema.For[echoInput](nil)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}

	tools := []tooldispatch.Tool{
		{
			Name:          "echo",
			Version:       "1",
			RequiredRole:  kernel.RoleReadOnly,
			RemoteCapable: true,
			InputSchema:   schema,
			Handler: func(_ context.Context, _ *kernel.AuthContext, input json.RawMessage) (any, error) {
				var in echoInput
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, err
				}
				return map[string]string{"echo": in.Message}, nil
			},
		},
		{
			Name:          "admin_wipe",
			Version:       "1",
			RequiredRole:  kernel.RoleAdmin,
			RemoteCapable: true,
			Handler: func(context.Context, *kernel.AuthContext, json.RawMessage) (any, error) {
				return "wiped", nil
			},
		},
		{
			Name:          "local_only",
			Version:       "1",
			RequiredRole:  kernel.RoleUser,
			RemoteCapable: false,
			Handler: func(context.Context, *kernel.AuthContext, json.RawMessage) (any, error) {
				return "local", nil
			},
		},
	}
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name, err)
		}
	}
	return tooldispatch.NewDispatcher(registry, nil)
}

func authWith(role kernel.Role) *kernel.AuthContext {
	id := kernel.UserID("u1")
	return &kernel.AuthContext{UserID: &id, Role: role, Scopes: []string{"*"}}
}

func TestDispatchHappyPath(t *testing.T) {
	d := newDispatcher(t)

	out, err := d.Dispatch(context.Background(), authWith(kernel.RoleUser), "echo",
		json.RawMessage(`{"message":"hi"}`), true)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	m, ok := out.(map[string]string)
	if !ok || m["echo"] != "hi" {
		t.Fatalf("unexpected output: %#v", out)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newDispatcher(t)
	if _, err := d.Dispatch(context.Background(), authWith(kernel.RoleUser), "nope", nil, true); err == nil {
		t.Fatal("unknown tool must fail")
	}
}

func TestDispatchEnforcesRole(t *testing.T) {
	d := newDispatcher(t)
	ctx := context.Background()

	if _, err := d.Dispatch(ctx, authWith(kernel.RoleUser), "admin_wipe", nil, true); err == nil {
		t.Fatal("user must not invoke an admin tool")
	}
	if _, err := d.Dispatch(ctx, authWith(kernel.RoleAdmin), "admin_wipe", nil, true); err != nil {
		t.Fatalf("admin should invoke admin tool: %v", err)
	}
}

func TestDispatchValidatesInput(t *testing.T) {
	d := newDispatcher(t)

	if _, err := d.Dispatch(context.Background(), authWith(kernel.RoleUser), "echo",
		json.RawMessage(`{"message":42}`), true); err == nil {
		t.Fatal("type-mismatched input must fail schema validation")
	}
}

func TestRemoteSurfaceHidesLocalTools(t *testing.T) {
	d := newDispatcher(t)
	ctx := context.Background()

	// Invisible remotely, callable locally.
	if _, err := d.Dispatch(ctx, authWith(kernel.RoleUser), "local_only", nil, true); err == nil {
		t.Fatal("local-only tool must be hidden from the remote surface")
	}
	if _, err := d.Dispatch(ctx, authWith(kernel.RoleUser), "local_only", nil, false); err != nil {
		t.Fatalf("local dispatch should succeed: %v", err)
	}

	for _, info := range d.Registry().List(true) {
		if info.Name == "local_only" {
			t.Fatal("remote listing must omit local-only tools")
		}
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	d := newDispatcher(t)
	if _, err := d.Dispatch(context.Background(), nil, "echo", json.RawMessage(`{"message":"x"}`), true); err == nil {
		t.Fatal("nil principal must be rejected")
	}
}
