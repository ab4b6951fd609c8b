// Package strategy implements the four ExecutionStrategies (spec §4.6)
// plus the StrategyResolver (§4.7). Parameter reference resolution uses
// github.com/tidwall/gjson for dotted-path traversal of previous results
// and dependency values, since those arrive as arbitrary decoded JSON
// (map[string]any / []any) rather than typed structs.
package strategy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/compozy/taskengine/engine/execctx"
)

// resolveParamRefs walks params and rewrites every string value that names
// a reference (spec §4.6.1):
//
//	$context.<field>        -> a scalar field of ctx
//	$previous.<i>.<path>    -> ctx.previousResults[i] via dotted path
//	$shared.<key>           -> ctx.sharedState[key]
//	$<taskId>.<path>        -> ctx.dependencies[taskId] via dotted path
//
// Nested maps/slices are traversed recursively.
func resolveParamRefs(params map[string]any, ctx *execctx.Context) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, ctx)
	}
	return out
}

func resolveValue(v any, ctx *execctx.Context) any {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "$") {
			if resolved, ok := resolveReference(val, ctx); ok {
				return resolved
			}
		}
		return val
	case map[string]any:
		return resolveParamRefs(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = resolveValue(e, ctx)
		}
		return out
	default:
		return v
	}
}

func resolveReference(ref string, ctx *execctx.Context) (any, bool) {
	body := strings.TrimPrefix(ref, "$")
	switch {
	case strings.HasPrefix(body, "context."):
		return contextField(ctx, strings.TrimPrefix(body, "context."))
	case strings.HasPrefix(body, "previous."):
		rest := strings.TrimPrefix(body, "previous.")
		idxStr, path, _ := strings.Cut(rest, ".")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, false
		}
		results := ctx.PreviousResults()
		if idx < 0 || idx >= len(results) {
			return nil, false
		}
		if path == "" {
			return results[idx], true
		}
		return dottedPath(results[idx], path)
	case strings.HasPrefix(body, "shared."):
		return ctx.SharedStateValue(strings.TrimPrefix(body, "shared."))
	default:
		taskID, path, found := strings.Cut(body, ".")
		if !found {
			taskID = body
		}
		dep, ok := ctx.DependencyResult(taskID)
		if !ok {
			return nil, false
		}
		if path == "" {
			return dep, true
		}
		return dottedPath(dep, path)
	}
}

func contextField(ctx *execctx.Context, field string) (any, bool) {
	switch field {
	case "taskId":
		return string(ctx.TaskID()), true
	case "sessionId":
		return string(ctx.SessionID()), true
	case "correlationId":
		return string(ctx.CorrelationID()), true
	case "depth":
		return ctx.Depth(), true
	default:
		if v, ok := ctx.Metadata()[field]; ok {
			return v, true
		}
		return nil, false
	}
}

// dottedPath reads path (e.g. "a.b.0.c") out of value by round-tripping it
// through JSON and querying with gjson.
func dottedPath(value any, path string) (any, bool) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// templatePrompt substitutes {{name}} placeholders drawn in order from
// ctx.sharedState, then ctx scalar fields, then left as a literal (spec
// §4.6.1).
func templatePrompt(prompt string, ctx *execctx.Context) string {
	var b strings.Builder
	rest := prompt
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+2 : end])
		if v, ok := ctx.SharedStateValue(name); ok {
			b.WriteString(fmt.Sprint(v))
		} else if v, ok := contextField(ctx, name); ok {
			b.WriteString(fmt.Sprint(v))
		} else {
			b.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return b.String()
}
