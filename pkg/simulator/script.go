package simulator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/parity/pkg/config"
	"github.com/openfroyo/parity/pkg/engine"
)

// DefaultScriptTimeout bounds a single fault function call.
const DefaultScriptTimeout = 2 * time.Second

// maxScriptSteps bounds the work a single call may do.
const maxScriptSteps = 1_000_000

// FaultScript is a FaultRule defined by a Starlark script. The script must
// define a function
//
//	def fault(step, environment, category, product, plan):
//
// returning None or False for no fault, True for a plain 500, or a dict with
// optional status_code, error and patch keys.
type FaultScript struct {
	name    string
	fn      starlark.Callable
	timeout time.Duration
	schemas *config.SchemaRegistry
}

// LoadFaultScript compiles a fault script from a file.
func LoadFaultScript(path string, timeout time.Duration) (*FaultScript, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read fault script", err).
			WithCode(engine.ErrCodeNotFound).WithResource(path)
	}
	return NewFaultScript(filepath.Base(path), string(src), timeout)
}

// NewFaultScript compiles a fault script from source.
func NewFaultScript(name, src string, timeout time.Duration) (*FaultScript, error) {
	if timeout == 0 {
		timeout = DefaultScriptTimeout
	}

	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, msg string) {},
	}
	thread.SetMaxExecutionSteps(maxScriptSteps)

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFile(thread, name, src, predeclared)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to load fault script", err).
			WithCode(engine.ErrCodeValidation).WithResource(name)
	}
	// Frozen globals can be shared by concurrent calls.
	globals.Freeze()

	fn, ok := globals["fault"].(starlark.Callable)
	if !ok {
		return nil, engine.NewConfigurationError("fault script does not define fault()", nil).
			WithCode(engine.ErrCodeValidation).WithResource(name)
	}

	return &FaultScript{
		name:    name,
		fn:      fn,
		timeout: timeout,
		schemas: config.NewSchemaRegistry(),
	}, nil
}

// Fault implements FaultRule.
func (fs *FaultScript) Fault(ctx context.Context, req *engine.StepRequest) (*Fault, error) {
	ctx, cancel := context.WithTimeout(ctx, fs.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  fs.name,
		Print: func(_ *starlark.Thread, msg string) {},
	}
	thread.SetMaxExecutionSteps(maxScriptSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	args := starlark.Tuple{
		starlark.String(req.Step.String()),
		starlark.String(req.Role),
		starlark.String(req.WorkItem.Category),
		starlark.String(req.WorkItem.Product),
		starlark.String(req.WorkItem.Plan),
	}

	result, err := starlark.Call(thread, fs.fn, args, nil)
	if err != nil {
		return nil, fmt.Errorf("fault script %s failed: %w", fs.name, err)
	}

	return fs.toFault(ctx, result)
}

func (fs *FaultScript) toFault(ctx context.Context, v starlark.Value) (*Fault, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		if !val {
			return nil, nil
		}
		return &Fault{StatusCode: http.StatusInternalServerError, Error: "injected fault"}, nil
	}

	goVal, err := fromStarlarkValue(v)
	if err != nil {
		return nil, fmt.Errorf("fault script %s returned an unsupported value: %w", fs.name, err)
	}
	dict, ok := goVal.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("fault script %s returned %s, want None, bool or dict", fs.name, v.Type())
	}
	if err := fs.schemas.ValidateAgainstSchema(ctx, "fault", dict); err != nil {
		return nil, fmt.Errorf("fault script %s returned an invalid fault: %w", fs.name, err)
	}

	f := &Fault{}
	if code, ok := dict["status_code"].(int64); ok {
		f.StatusCode = int(code)
	}
	if msg, ok := dict["error"].(string); ok {
		f.Error = msg
	}
	if patch, ok := dict["patch"].(map[string]interface{}); ok {
		f.Patch = patch
	}
	if f.Fails() && f.Error == "" {
		f.Error = http.StatusText(f.StatusCode)
	}
	return f, nil
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
