package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/compozy/taskengine/engine/collab"
	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/engine/retry"
	"github.com/compozy/taskengine/engine/task"
	"github.com/compozy/taskengine/engine/telemetry"
)

// Atomic executes a single tool call, function call, or LLM prompt
// directly, with no decomposition (spec §4.6.1).
type Atomic struct {
	Retry *retry.Handler

	// Telemetry and Progress are optional collaborators; nil values make
	// Execute behave exactly as before their introduction.
	Telemetry *telemetry.Tracer
	Progress  collab.ProgressStream
}

// NewAtomic constructs an Atomic strategy, defaulting to retry's documented
// backoff policy when retryHandler is nil.
func NewAtomic(retryHandler *retry.Handler) *Atomic {
	if retryHandler == nil {
		retryHandler = retry.NewHandler(retry.DefaultBackoffPolicy())
	}
	return &Atomic{Retry: retryHandler}
}

// Name implements task.ExecutionStrategy.
func (a *Atomic) Name() string { return "atomic" }

// CanHandle implements task.ExecutionStrategy.
func (a *Atomic) CanHandle(t *task.Task, _ *execctx.Context) bool {
	def := t.Definition()
	if def == nil {
		return false
	}
	if atomic, _ := def["atomic"].(bool); atomic {
		return true
	}
	if strategyName, _ := def["strategy"].(string); strategyName == "atomic" {
		return true
	}
	for _, key := range []string{"tool", "toolName", "execute", "fn", "prompt", "description", "operation"} {
		if _, ok := def[key]; ok {
			return true
		}
	}
	return false
}

// EstimateComplexity implements task.ExecutionStrategy.
func (a *Atomic) EstimateComplexity(*task.Task, *execctx.Context) task.Complexity {
	return task.Complexity{EstimatedTimeMs: 500, EstimatedCost: 0.001, Confidence: 0.9, Reasoning: "atomic: single call"}
}

// Execute implements task.ExecutionStrategy.
func (a *Atomic) Execute(goCtx context.Context, t *task.Task, ctx *execctx.Context) (result task.Result) {
	goCtx, end := tracerOrNoop(a.Telemetry).StartStrategySpan(goCtx, string(t.ID()), ctx.Depth(), a.Name())
	emitter := emitterFor(a.Progress, string(t.ID()))
	if emitter != nil {
		emitter.Started(map[string]any{"strategy": a.Name()})
	}
	defer func() {
		if result.Success {
			end(nil)
			if emitter != nil {
				emitter.Completed(map[string]any{"result": result.Result})
			}
		} else {
			end(fmt.Errorf("%v", result.Result))
			if emitter != nil {
				emitter.Failed(map[string]any{"error": result.Result})
			}
		}
	}()

	def := t.Definition()
	params := asMap(def["params"])
	params = resolveParamRefs(params, ctx)

	outcome := a.Retry.ExecuteWithRetry(goCtx, func(attemptCtx context.Context, attempt int, _ []error) (any, error) {
		if emitter != nil && attempt > 1 {
			emitter.Retrying(map[string]any{"attempt": attempt})
		}
		return a.dispatch(attemptCtx, t, ctx, def, params)
	})
	if !outcome.Success {
		return task.Result{Success: false, Result: outcome.Err.Error(), Metadata: map[string]any{"attempts": outcome.Attempts}}
	}

	if schemaRaw, ok := def["outputSchema"]; ok {
		if err := validateOutput(outcome.Data, asMap(schemaRaw)); err != nil {
			return task.Result{Success: false, Result: err.Error()}
		}
	}
	return task.Result{Success: true, Result: outcome.Data, Metadata: map[string]any{"attempts": outcome.Attempts}}
}

func (a *Atomic) dispatch(
	goCtx context.Context,
	t *task.Task,
	ctx *execctx.Context,
	def map[string]any,
	params map[string]any,
) (any, error) {
	if name, ok := toolName(def); ok {
		return a.runTool(goCtx, t, ctx, name, def, params)
	}
	if _, ok := def["execute"]; ok {
		return a.runFunction(def["execute"], params, ctx)
	}
	if _, ok := def["fn"]; ok {
		return a.runFunction(def["fn"], params, ctx)
	}
	if prompt, ok := def["prompt"].(string); ok {
		return a.runLLM(goCtx, t, ctx, prompt, def)
	}
	return nil, fmt.Errorf("atomic: task definition has no tool, function, or prompt")
}

func toolName(def map[string]any) (string, bool) {
	if name, ok := def["tool"].(string); ok {
		return name, true
	}
	if name, ok := def["toolName"].(string); ok {
		return name, true
	}
	return "", false
}

func (a *Atomic) runTool(
	goCtx context.Context,
	t *task.Task,
	ctx *execctx.Context,
	name string,
	def map[string]any,
	params map[string]any,
) (any, error) {
	registryAny, ok := t.Lookup("toolRegistry")
	if !ok {
		return nil, fmt.Errorf("Tool registry not configured")
	}
	registry, ok := registryAny.(collab.ToolRegistry)
	if !ok {
		return nil, fmt.Errorf("Tool registry not configured")
	}
	tool, ok := registry.GetTool(name)
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	if includeContext, _ := def["includeContext"].(bool); includeContext {
		params["_context"] = ctx.ToObject()
	}
	res, err := tool.Execute(goCtx, params)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%s", res.Error)
	}
	return res.Result, nil
}

// funcParams is the shape a `function` task definition's execute/fn value
// must satisfy: either a bare callable, or one that additionally takes a
// snapshot of the ExecutionContext. runFunction picks the form from the
// callable's Go type; a requiresContext key in the definition is not read.
type funcParams func(params map[string]any) (any, error)
type funcParamsWithContext func(params map[string]any, ctxView map[string]any) (any, error)

func (a *Atomic) runFunction(callable any, params map[string]any, ctx *execctx.Context) (any, error) {
	switch fn := callable.(type) {
	case funcParamsWithContext:
		return fn(params, ctx.ToObject())
	case func(map[string]any, map[string]any) (any, error):
		return fn(params, ctx.ToObject())
	case funcParams:
		return fn(params)
	case func(map[string]any) (any, error):
		return fn(params)
	default:
		return nil, fmt.Errorf("atomic: task.execute/fn is not callable (got %T)", callable)
	}
}

func (a *Atomic) runLLM(
	goCtx context.Context,
	t *task.Task,
	ctx *execctx.Context,
	prompt string,
	def map[string]any,
) (any, error) {
	clientAny, ok := t.Lookup("llmClient")
	if !ok {
		return nil, fmt.Errorf("SimplePromptClient not configured")
	}
	client, ok := clientAny.(collab.SimplePromptClient)
	if !ok {
		return nil, fmt.Errorf("SimplePromptClient not configured")
	}
	req := collab.PromptRequest{
		Prompt:    templatePrompt(prompt, ctx),
		MaxTokens: 1000,
	}
	if sys, ok := def["systemPrompt"].(string); ok {
		req.SystemPrompt = sys
	}
	if history, ok := def["chatHistory"].([]map[string]any); ok {
		req.ChatHistory = history
	}
	resp, err := client.Request(goCtx, req)
	if err != nil {
		return nil, err
	}
	content, ok := extractContent(resp)
	if !ok {
		return nil, fmt.Errorf("Cannot extract content from LLM response")
	}
	expectJSON, _ := def["expectJSON"].(bool)
	parseJSON, _ := def["parseJSON"].(bool)
	if expectJSON || parseJSON {
		var parsed any
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			return nil, fmt.Errorf("Failed to parse JSON: %w", err)
		}
		return parsed, nil
	}
	return content, nil
}

func extractContent(resp collab.PromptResponse) (string, bool) {
	if resp.Content != "" {
		return resp.Content, true
	}
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		return resp.Choices[0].Message.Content, true
	}
	if resp.Text != "" {
		return resp.Text, true
	}
	return "", false
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
