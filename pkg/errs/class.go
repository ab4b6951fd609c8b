package errs

import (
	"regexp"
	"strings"
)

// Class is an error taxonomy tag (spec §4.4, §7). Classes are compared as
// plain strings so collaborators outside this module (tools, LLM clients)
// can report a class without importing this package.
type Class string

const (
	ClassNetwork           Class = "network"
	ClassTimeout           Class = "timeout"
	ClassRateLimit         Class = "rate_limit"
	ClassParsing           Class = "parsing"
	ClassToolMissing       Class = "tool_missing"
	ClassToolFailure       Class = "tool_failure"
	ClassToolTimeout       Class = "tool_timeout"
	ClassLLMFailure        Class = "llm_failure"
	ClassLLMTokenLimit     Class = "llm_token_limit"
	ClassAuthError         Class = "auth_error"
	ClassPermissionError   Class = "permission_error"
	ClassResourceExhausted Class = "resource_exhausted"
	ClassValidationError   Class = "validation_error"
	ClassCircularDep       Class = "circular_dependency"
	ClassMaxDepthExceeded  Class = "max_depth_exceeded"
	ClassTaskCancelled     Class = "task_cancelled"
	ClassQueueDraining     Class = "queue_draining"
	ClassUnknown           Class = "unknown"
)

// Coder is implemented by errors that carry an explicit machine code
// (e.g. ECONNREFUSED, AUTH_ERROR) that must win over text matching.
type Coder interface {
	Code() string
}

// codeMarkers maps explicit error.code values to a forced class,
// regardless of the error message text (spec §4.4).
var codeMarkers = map[string]Class{
	"ECONNREFUSED":        ClassNetwork,
	"ETIMEDOUT":           ClassTimeout,
	"EHOSTUNREACH":        ClassNetwork,
	"AUTH_ERROR":          ClassAuthError,
	"PERMISSION_DENIED":   ClassPermissionError,
	"CIRCULAR_DEPENDENCY": ClassCircularDep,
}

// textMarkers is evaluated in order; the first matching pattern wins. Order
// matches the taxonomy listed in spec §4.4.
var textMarkers = []struct {
	class Class
	re    *regexp.Regexp
}{
	{ClassNetwork, regexp.MustCompile(`(?i)network|connection refused|econnrefused|dns|unreachable|dial tcp`)},
	{ClassTimeout, regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`)},
	{ClassRateLimit, regexp.MustCompile(`(?i)rate limit|too many requests|429`)},
	{ClassParsing, regexp.MustCompile(`(?i)parse|parsing|unmarshal|invalid json|syntax error`)},
	{ClassToolMissing, regexp.MustCompile(`(?i)tool not found|not found \(tool\)|unknown tool|tool missing`)},
	{ClassToolTimeout, regexp.MustCompile(`(?i)tool.*timeout|tool timed out`)},
	{ClassToolFailure, regexp.MustCompile(`(?i)tool.*fail|tool execution error`)},
	{ClassLLMTokenLimit, regexp.MustCompile(`(?i)token limit|context length|max_tokens|too many tokens`)},
	{ClassLLMFailure, regexp.MustCompile(`(?i)llm|completion failed|model error|prompt client`)},
	{ClassAuthError, regexp.MustCompile(`(?i)auth|unauthorized|invalid credentials|401`)},
	{ClassPermissionError, regexp.MustCompile(`(?i)permission denied|forbidden|403`)},
	{ClassResourceExhausted, regexp.MustCompile(`(?i)resource exhausted|out of memory|quota exceeded|too many open files`)},
	{ClassValidationError, regexp.MustCompile(`(?i)validation|invalid input|required field|schema`)},
	{ClassCircularDep, regexp.MustCompile(`(?i)circular dependency`)},
	{ClassMaxDepthExceeded, regexp.MustCompile(`(?i)maximum recursion depth|max.?depth exceeded`)},
	{ClassTaskCancelled, regexp.MustCompile(`(?i)task.?cancel`)},
	{ClassQueueDraining, regexp.MustCompile(`(?i)queue.*drain`)},
}

// Classify determines the error Class of err by first consulting an
// explicit code (via Coder, or Code on *Error), then matching the error
// text against the ordered taxonomy, falling back to ClassUnknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if c, ok := err.(Coder); ok {
		if class, known := codeMarkers[c.Code()]; known {
			return class
		}
	}
	if e, ok := err.(*Error); ok && e.Code != "" {
		if class, known := codeMarkers[strings.ToUpper(e.Code)]; known {
			return class
		}
	}
	text := err.Error()
	for _, m := range textMarkers {
		if m.re.MatchString(text) {
			return m.class
		}
	}
	return ClassUnknown
}

// IsRecoverable reports whether an error of this class should ever be
// retried/recovered. auth_error and permission_error are always fatal, as
// is a circular-dependency or tool-not-found message (spec §4.4).
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	class := Classify(err)
	if class == ClassAuthError || class == ClassPermissionError {
		return false
	}
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "circular dependency") || strings.Contains(text, "not found (tool)") {
		return false
	}
	return true
}

// IsFatal reports whether class is one of the classes that §7 declares
// "never recovered; they surface upward".
func IsFatal(class Class) bool {
	switch class {
	case ClassAuthError, ClassPermissionError, ClassCircularDep, ClassMaxDepthExceeded:
		return true
	default:
		return false
	}
}
