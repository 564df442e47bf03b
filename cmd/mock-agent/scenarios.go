package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/internal/agent"
	"github.com/toolgate/toolgate/internal/common/logger"
	"github.com/toolgate/toolgate/internal/permission"
	"github.com/toolgate/toolgate/pkg/protocol"
)

// scenarioRunner fires scripted tool traffic through a fresh adapter per
// scenario, the same way an agent runtime would.
type scenarioRunner struct {
	permissions *permission.Manager
	plans       *permission.PlanManager
	sessionID   string
	logger      *logger.Logger
}

func (r *scenarioRunner) Run(ctx context.Context, scenario string) {
	// Give the human a moment to connect a websocket client first.
	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return
	}

	switch scenario {
	case "simple":
		r.simple(ctx)
	case "burst":
		r.burst(ctx)
	case "plan":
		r.plan(ctx)
	case "all":
		r.simple(ctx)
		r.burst(ctx)
		r.plan(ctx)
	default:
		r.logger.Error("Unknown scenario", zap.String("scenario", scenario))
	}
}

// simple walks through a read, an edit, and a command, one at a time.
func (r *scenarioRunner) simple(ctx context.Context) {
	adapter := agent.NewAdapter(r.permissions, r.plans, r.sessionID, protocol.ModeDefault, r.logger)

	calls := []struct {
		tool  string
		input map[string]interface{}
	}{
		{"Read", map[string]interface{}{"file_path": "/etc/hosts"}},
		{"Edit", map[string]interface{}{"file_path": "main.go", "old_string": "foo", "new_string": "bar"}},
		{"Bash", map[string]interface{}{"command": "go test ./..."}},
	}

	for _, call := range calls {
		result, err := adapter.DecideTool(ctx, call.tool, call.input)
		if err != nil {
			r.logger.Error("Tool call failed", zap.String("tool", call.tool), zap.Error(err))
			return
		}
		r.logger.Info("Tool call decided",
			zap.String("tool", call.tool),
			zap.String("behavior", string(result.Behavior)),
			zap.String("message", result.Message))
	}
}

// burst fires parallel requests to exercise fan-out and the queue bound.
func (r *scenarioRunner) burst(ctx context.Context) {
	adapter := agent.NewAdapter(r.permissions, r.plans, r.sessionID, protocol.ModeDefault, r.logger)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 10; i++ {
		path := "/tmp/burst-" + string(rune('a'+i)) + ".txt"
		g.Go(func() error {
			result, err := adapter.DecideTool(gctx, "Write", map[string]interface{}{
				"file_path": path,
				"content":   "hello",
			})
			if err != nil {
				r.logger.Warn("Burst call failed", zap.String("file_path", path), zap.Error(err))
				return nil
			}
			r.logger.Info("Burst call decided",
				zap.String("file_path", path),
				zap.String("behavior", string(result.Behavior)))
			return nil
		})
	}
	_ = g.Wait()
}

// plan drafts in plan mode, submits the plan, and continues in the approved
// mode.
func (r *scenarioRunner) plan(ctx context.Context) {
	adapter := agent.NewAdapter(r.permissions, r.plans, r.sessionID, protocol.ModePlan, r.logger)

	if _, err := adapter.DecideTool(ctx, "Read", map[string]interface{}{"file_path": "README.md"}); err != nil {
		r.logger.Error("Plan-mode read failed", zap.Error(err))
		return
	}

	result, err := adapter.DecideTool(ctx, "ExitPlanMode", map[string]interface{}{
		"plan": "1. Read the config loader\n2. Add the new flag\n3. Update tests",
	})
	if err != nil {
		r.logger.Warn("Plan rejected", zap.Error(err))
		return
	}
	r.logger.Info("Plan decided",
		zap.String("behavior", string(result.Behavior)),
		zap.String("mode", string(adapter.Mode())))

	result, err = adapter.DecideTool(ctx, "Edit", map[string]interface{}{
		"file_path": "config.go",
		"old_string": "old",
		"new_string": "new",
	})
	if err != nil {
		r.logger.Error("Post-plan edit failed", zap.Error(err))
		return
	}
	r.logger.Info("Post-plan edit decided", zap.String("behavior", string(result.Behavior)))
}
