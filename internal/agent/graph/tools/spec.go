package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Arg declares one tool argument.
type Arg struct {
	Name     string
	Type     schema.DataType
	Desc     string
	Required bool
	Default  any
	Enum     []string
	Elem     *Arg  // element of an Array
	Fields   []Arg // properties of an Object
}

// Spec is the static schema of a tool.
type Spec struct {
	Name string
	Desc string
	Args []Arg
}

// ValidationError lists every problem found in a call's arguments.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid arguments: " + strings.Join(e.Problems, "; ")
}

// ToolInfo converts s into the schema the reasoning model is bound with.
func (s Spec) ToolInfo() *schema.ToolInfo {
	info := &schema.ToolInfo{Name: s.Name, Desc: s.Desc}
	if len(s.Args) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(paramsOf(s.Args))
	}
	return info
}

func paramsOf(args []Arg) map[string]*schema.ParameterInfo {
	params := make(map[string]*schema.ParameterInfo, len(args))
	for i := range args {
		params[args[i].Name] = args[i].paramInfo()
	}
	return params
}

func (a *Arg) paramInfo() *schema.ParameterInfo {
	desc := a.Desc
	if a.Default != nil {
		desc = fmt.Sprintf("%s (default: %v)", desc, a.Default)
	}
	p := &schema.ParameterInfo{
		Type:     a.Type,
		Desc:     desc,
		Enum:     a.Enum,
		Required: a.Required,
	}
	if a.Elem != nil {
		p.ElemInfo = a.Elem.paramInfo()
	}
	if len(a.Fields) > 0 {
		p.SubParams = paramsOf(a.Fields)
	}
	return p
}

// NormalizeArgs decodes raw JSON arguments, applies declared defaults,
// coerces values to their declared types and checks required fields and
// enums. Undeclared keys are dropped.
func NormalizeArgs(args []Arg, raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	var in map[string]any
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, &ValidationError{Problems: []string{"arguments must be a JSON object"}}
	}

	var problems []string
	out := normalizeObject(args, in, "", &problems)
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ValidationError{Problems: problems}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	return b, nil
}

func normalizeObject(args []Arg, in map[string]any, path string, problems *[]string) map[string]any {
	out := make(map[string]any, len(args))
	for i := range args {
		a := &args[i]
		name := path + a.Name
		v, ok := in[a.Name]
		if ok && v != nil {
			cv, err := coerce(a, v, name, problems)
			if err != nil {
				*problems = append(*problems, err.Error())
				continue
			}
			// blank strings count as absent
			if s, isStr := cv.(string); !isStr || s != "" {
				out[a.Name] = cv
				continue
			}
		}
		switch {
		case a.Default != nil:
			out[a.Name] = a.Default
		case a.Required:
			*problems = append(*problems, fmt.Sprintf("%s is required", name))
		}
	}
	return out
}

func coerce(a *Arg, v any, name string, problems *[]string) (any, error) {
	switch a.Type {
	case schema.String:
		var s string
		switch vv := v.(type) {
		case string:
			s = strings.TrimSpace(vv)
		case float64, bool:
			s = fmt.Sprint(vv)
		default:
			return nil, fmt.Errorf("%s must be a string", name)
		}
		if len(a.Enum) > 0 && s != "" {
			for _, e := range a.Enum {
				if strings.EqualFold(e, s) {
					return e, nil
				}
			}
			return nil, fmt.Errorf("%s must be one of [%s], got %q", name, strings.Join(a.Enum, ", "), s)
		}
		return s, nil

	case schema.Integer:
		switch vv := v.(type) {
		case float64:
			if vv != math.Trunc(vv) {
				return nil, fmt.Errorf("%s must be a whole number", name)
			}
			return int64(vv), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(vv), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s must be an integer", name)
			}
			return n, nil
		}
		return nil, fmt.Errorf("%s must be an integer", name)

	case schema.Number:
		switch vv := v.(type) {
		case float64:
			return vv, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(vv), "$")), 64)
			if err != nil {
				return nil, fmt.Errorf("%s must be a number", name)
			}
			return f, nil
		}
		return nil, fmt.Errorf("%s must be a number", name)

	case schema.Boolean:
		switch vv := v.(type) {
		case bool:
			return vv, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(vv))
			if err != nil {
				return nil, fmt.Errorf("%s must be a boolean", name)
			}
			return b, nil
		}
		return nil, fmt.Errorf("%s must be a boolean", name)

	case schema.Array:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%s must be an array", name)
		}
		if a.Elem == nil {
			return items, nil
		}
		out := make([]any, 0, len(items))
		for i, it := range items {
			cv, err := coerce(a.Elem, it, fmt.Sprintf("%s[%d]", name, i), problems)
			if err != nil {
				*problems = append(*problems, err.Error())
				continue
			}
			out = append(out, cv)
		}
		return out, nil

	case schema.Object:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s must be an object", name)
		}
		if len(a.Fields) == 0 {
			return m, nil
		}
		return normalizeObject(a.Fields, m, name+".", problems), nil
	}
	return v, nil
}
