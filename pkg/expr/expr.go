// Package expr evaluates the ${{ }} expressions a workflow file embeds in
// step arguments and if conditions. Expressions run inside a goja runtime
// seeded with the evaluation scope plus a small set of helper functions.
package expr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"
)

// Scope is the name table an expression evaluates against, e.g. "matrix",
// "env", "event" and "job". The "status" entry, when present, carries the
// verdict so far and feeds the success/failure/cancelled helpers.
type Scope map[string]any

var (
	// ${{ ... }} with a non-greedy body.
	exprPattern = regexp.MustCompile(`\$\{\{(.*?)\}\}`)
	// Property access with hyphens, e.g. .python-version, which is not
	// valid javascript and gets rewritten to bracket form.
	hyphenAccess = regexp.MustCompile(`\.([A-Za-z_][A-Za-z0-9_]*(?:-[A-Za-z0-9_]+)+)`)
)

// Eval runs a bare expression (without the ${{ }} delimiters) and returns
// the exported result.
func Eval(expression string, scope Scope) (any, error) {
	vm := goja.New()
	for name, value := range scope {
		if err := vm.Set(name, value); err != nil {
			return nil, err
		}
	}
	if err := installHelpers(vm, scope); err != nil {
		return nil, err
	}

	src := hyphenAccess.ReplaceAllString(expression, `["$1"]`)
	result, err := vm.RunString(src)
	if err != nil {
		return nil, fmt.Errorf("expr: %q: %w", strings.TrimSpace(expression), err)
	}
	return result.Export(), nil
}

// EvalBool evaluates an if condition. Javascript truthiness applies, with
// one workflow-friendly bend: the strings "false" and "0" read as false,
// so a matrix value can feed a condition directly.
func EvalBool(expression string, scope Scope) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true, nil
	}
	if inner, ok := singleExpression(expression); ok {
		expression = inner
	}
	v, err := Eval(expression, scope)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Expand replaces every ${{ ... }} in s with its evaluated value rendered
// as a string. Text outside the delimiters passes through untouched.
func Expand(s string, scope Scope) (string, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}
	var evalErr error
	out := exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		if evalErr != nil {
			return match
		}
		inner := match[3 : len(match)-2]
		v, err := Eval(inner, scope)
		if err != nil {
			evalErr = err
			return match
		}
		return Stringify(v)
	})
	if evalErr != nil {
		return "", evalErr
	}
	return out, nil
}

// Truthy applies javascript truthiness plus the string bend described on
// EvalBool.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	return true
}

// Stringify renders an expression result for substitution into step text.
// Whole floats drop the fraction so a matrix value never grows a ".0".
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	}
	return fmt.Sprint(v)
}

// singleExpression reports whether s is exactly one ${{ ... }} block and
// returns its body.
func singleExpression(s string) (string, bool) {
	if !strings.HasPrefix(s, "${{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	inner := s[3 : len(s)-2]
	if strings.Contains(inner, "${{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return inner, true
}

func installHelpers(vm *goja.Runtime, scope Scope) error {
	status, _ := scope["status"].(string)

	helpers := map[string]any{
		"contains": func(search any, item any) bool {
			if list, ok := search.([]any); ok {
				for _, e := range list {
					if fmt.Sprint(e) == fmt.Sprint(item) {
						return true
					}
				}
				return false
			}
			return strings.Contains(fmt.Sprint(search), fmt.Sprint(item))
		},
		"startsWith": func(s, prefix string) bool {
			return strings.HasPrefix(s, prefix)
		},
		"endsWith": func(s, suffix string) bool {
			return strings.HasSuffix(s, suffix)
		},
		"format": func(tmpl string, args ...any) string {
			out := tmpl
			for i, arg := range args {
				out = strings.ReplaceAll(out, fmt.Sprintf("{%d}", i), Stringify(arg))
			}
			return out
		},
		"join": func(items []any, sep ...string) string {
			s := ","
			if len(sep) > 0 {
				s = sep[0]
			}
			parts := make([]string, 0, len(items))
			for _, item := range items {
				parts = append(parts, Stringify(item))
			}
			return strings.Join(parts, s)
		},
		"always": func() bool { return true },
		"success": func() bool {
			return status == "" || status == "success"
		},
		"failure": func() bool {
			return status == "failure"
		},
		"cancelled": func() bool {
			return status == "cancelled"
		},
	}
	for name, fn := range helpers {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}
