package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aimemory/platform/pkg/iam/rbac"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/storage"
)

// Dispatcher runs tool invocations. Each call executes on its caller's
// goroutine; parallelism across calls is bounded only by downstream
// per-key and per-owner serialization.
type Dispatcher struct {
	registry *Registry
	cache    storage.Cache // usage counters; may be nil
}

func NewDispatcher(registry *Registry, cache storage.Cache) *Dispatcher {
	return &Dispatcher{registry: registry, cache: cache}
}

// Registry exposes the underlying tool table for listing.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs one invocation: lookup, role check, input validation,
// execution, and usage counting. remote restricts the visible tool set to
// remote-capable tools.
func (d *Dispatcher) Dispatch(ctx context.Context, auth *kernel.AuthContext, toolName string, input json.RawMessage, remote bool) (any, error) {
	tool, ok := d.registry.Get(toolName)
	if !ok {
		return nil, ErrUnknownTool().WithDetail("tool", toolName)
	}
	if remote && !tool.RemoteCapable {
		// Over the network a hidden tool is indistinguishable from a
		// missing one.
		return nil, ErrUnknownTool().WithDetail("tool", toolName)
	}

	if err := rbac.Require(auth, tool.RequiredRole); err != nil {
		return nil, err
	}

	if tool.resolvedInput != nil {
		var instance any
		if len(input) == 0 {
			input = []byte("{}")
		}
		if err := json.Unmarshal(input, &instance); err != nil {
			return nil, ErrInvalidInput().WithDetail("error", err.Error())
		}
		if err := tool.resolvedInput.Validate(instance); err != nil {
			return nil, ErrInvalidInput().WithDetail("error", err.Error())
		}
	}

	started := time.Now()
	output, err := tool.Handler(ctx, auth, input)
	d.countUsage(toolName, err == nil)

	logx.WithFields(logx.Fields{
		"tool":     toolName,
		"user_id":  auth.UserID,
		"duration": time.Since(started).String(),
		"ok":       err == nil,
	}).Debug("tooldispatch: invocation finished")

	if err != nil {
		return nil, err
	}
	return output, nil
}

func (d *Dispatcher) countUsage(toolName string, ok bool) {
	if d.cache == nil {
		return
	}
	day := time.Now().UTC().Format("2006-01-02")
	outcome := "ok"
	if !ok {
		outcome = "err"
	}
	key := fmt.Sprintf("tool:stats:%s:%s:%s", toolName, outcome, day)
	go func() {
		if _, err := d.cache.Incr(context.Background(), key, 1, 30*24*time.Hour); err != nil {
			logx.WithError(err).Debug("tooldispatch: usage counter failed")
		}
	}()
}
