package strategy

import "github.com/compozy/taskengine/engine/task"

// aggregate implements Parallel's aggregationType rules (spec §4.6.3):
// array|object|sum|concat|first|last|all|custom. Order is preserved from
// the input subtask order throughout.
func aggregate(kind string, results []any, errs []error, t *task.Task) (any, map[string]any) {
	successful, failed := 0, 0
	for _, err := range errs {
		if err != nil {
			failed++
		} else {
			successful++
		}
	}
	metadata := map[string]any{"successful": successful, "failed": failed}

	switch kind {
	case "object":
		obj := map[string]any{}
		for i, r := range results {
			if errs[i] != nil {
				continue
			}
			if m, ok := r.(map[string]any); ok {
				for k, v := range m {
					obj[k] = v
				}
			}
		}
		return obj, metadata
	case "sum":
		var total float64
		for i, r := range results {
			if errs[i] != nil {
				continue
			}
			total += toFloat(r)
		}
		return total, metadata
	case "concat":
		out := make([]any, 0, len(results))
		for i, r := range results {
			if errs[i] != nil {
				continue
			}
			if slice, ok := r.([]any); ok {
				out = append(out, slice...)
			} else {
				out = append(out, r)
			}
		}
		return out, metadata
	case "first":
		for i, r := range results {
			if errs[i] == nil {
				return r, metadata
			}
		}
		return nil, metadata
	case "last":
		for i := len(results) - 1; i >= 0; i-- {
			if errs[i] == nil {
				return results[i], metadata
			}
		}
		return nil, metadata
	case "all":
		out := make([]any, len(results))
		for i, r := range results {
			if errs[i] != nil {
				out[i] = map[string]any{"error": errs[i].Error()}
			} else {
				out[i] = r
			}
		}
		return out, metadata
	case "custom":
		if aggregator, ok := t.Definition()["aggregate"].(func([]any) any); ok {
			return aggregator(results), metadata
		}
		fallthrough
	default: // "array" and unrecognized fall back to array-of-successes order-preserved
		out := make([]any, 0, len(results))
		for i, r := range results {
			if errs[i] == nil {
				out = append(out, r)
			}
		}
		return out, metadata
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
