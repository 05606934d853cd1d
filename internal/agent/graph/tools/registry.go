package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"

	logx "github.com/stockbroker-core/server/pkg/logger"
)

// ErrorPrefix marks tool outputs that report a failure.
const ErrorPrefix = "Error: "

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names so the engine sees the argument names it used
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handler runs a tool with arguments already normalized against its Spec.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool pairs a schema with its implementation.
type Tool struct {
	Spec    Spec
	Handler Handler
}

// Registry is the fixed tool catalog. It is built once and read-only afterwards.
type Registry struct {
	tools map[string]*Tool
	order []string
	infos []*schema.ToolInfo
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for i := range tools {
		t := tools[i]
		if t.Spec.Name == "" {
			return nil, errors.New("tool with empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", t.Spec.Name)
		}
		if _, dup := r.tools[t.Spec.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Spec.Name)
		}
		r.tools[t.Spec.Name] = &t
		r.order = append(r.order, t.Spec.Name)
		r.infos = append(r.infos, t.Spec.ToolInfo())
	}
	return r, nil
}

// Infos returns the schemas handed to the reasoning engine, in registration order.
func (r *Registry) Infos() []*schema.ToolInfo {
	return r.infos
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// BaseTools adapts every registered tool for an eino ToolsNode.
func (r *Registry) BaseTools() []tool.BaseTool {
	out := make([]tool.BaseTool, 0, len(r.order))
	for i, name := range r.order {
		out = append(out, &invokable{r: r, t: r.tools[name], info: r.infos[i]})
	}
	return out
}

// Invoke validates arguments and runs the named tool. It never fails: every
// problem is reported as ErrorPrefix text so the engine can react to it.
func (r *Registry) Invoke(ctx context.Context, name, arguments string) string {
	t, ok := r.tools[name]
	if !ok {
		return UnknownToolText(name)
	}
	return r.run(ctx, t, arguments)
}

func (r *Registry) run(ctx context.Context, t *Tool, arguments string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			logx.Error().
				Str("tool_name", t.Spec.Name).
				Str("stack", string(debug.Stack())).
				Msgf("tool panic recovered: %v", rec)
			out = ErrorText(fmt.Errorf("tool %s failed unexpectedly", t.Spec.Name))
		}
	}()

	args, err := NormalizeArgs(t.Spec.Args, arguments)
	if err != nil {
		logx.Debug().Str("tool_name", t.Spec.Name).Err(err).Msg("Rejected tool arguments")
		return ErrorText(err)
	}

	res, err := t.Handler(ctx, args)
	if err != nil {
		logx.Warn().Str("tool_name", t.Spec.Name).Err(err).Msg("Tool returned an error")
		return ErrorText(err)
	}
	return res
}

// ErrorText renders err as a tool result payload.
func ErrorText(err error) string {
	return ErrorPrefix + err.Error()
}

// UnknownToolText is the result for a call naming no registered tool.
func UnknownToolText(name string) string {
	return fmt.Sprintf("%sunknown tool %q; use one of the declared tools", ErrorPrefix, name)
}

// Typed decodes normalized arguments into T, validates its struct tags and
// calls fn.
func Typed[T any](fn func(ctx context.Context, in *T) (string, error)) Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		in := new(T)
		if err := json.Unmarshal(args, in); err != nil {
			return "", &ValidationError{Problems: []string{err.Error()}}
		}
		if err := validate.Struct(in); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				ve := &ValidationError{}
				for _, fe := range verrs {
					ve.Problems = append(ve.Problems, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
				}
				return "", ve
			}
			return "", err
		}
		return fn(ctx, in)
	}
}

// JSONText marshals v as a tool result.
func JSONText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

type invokable struct {
	r    *Registry
	t    *Tool
	info *schema.ToolInfo
}

func (i *invokable) Info(_ context.Context) (*schema.ToolInfo, error) {
	return i.info, nil
}

func (i *invokable) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	return i.r.run(ctx, i.t, argumentsInJSON), nil
}

var _ tool.InvokableTool = (*invokable)(nil)
