// Package jsvm is the JavaScript sandbox backend, built on goja.
//
// A program is the body of a function with the parameters
// (nodes, edges, handles, templates, generateId) and must return
// {nodes, edges, handles}:
//
//	const id = generateId();
//	nodes.push({id, type: "Text", templateId: "text", position: {x: 0, y: 0}});
//	return {nodes, edges, handles};
//
// Date and Math.random are removed so runs are deterministic apart from
// generateId.
package jsvm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/sandbox"
	"github.com/dop251/goja"
)

// Name is the language identifier of this backend.
const Name = "javascript"

type program struct {
	compiled *goja.Program
}

func (program) Language() string { return Name }

// Backend runs JavaScript programs.
type Backend struct{}

// New returns the JavaScript backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string { return Name }

// Load compiles source once; the result can be run many times.
func (b *Backend) Load(source string) (sandbox.Program, error) {
	wrapped := "(function (nodes, edges, handles, templates, generateId) {\n" + source + "\n})"
	compiled, err := goja.Compile("transform.js", wrapped, true)
	if err != nil {
		return nil, &domain.SandboxError{Kind: domain.SandboxFault, Stage: "load", Message: err.Error()}
	}
	return program{compiled: compiled}, nil
}

func (b *Backend) Run(ctx context.Context, prog sandbox.Program, in sandbox.Input) ([]byte, error) {
	p, ok := prog.(program)
	if !ok {
		return nil, fmt.Errorf("jsvm: cannot run %s program", prog.Language())
	}

	vm := goja.New()
	if in.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(in.MaxCallStack)
	}
	harden(vm)

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	out, err := run(vm, p, in)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return out, nil
}

func run(vm *goja.Runtime, p program, in sandbox.Input) ([]byte, error) {
	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, _ := goja.AssertFunction(jsonObj.Get("parse"))
	stringify, _ := goja.AssertFunction(jsonObj.Get("stringify"))

	snap, err := parse(goja.Undefined(), vm.ToValue(string(in.Snapshot)))
	if err != nil {
		return nil, fmt.Errorf("jsvm: failed to load snapshot: %w", err)
	}
	obj := snap.ToObject(vm)

	fnValue, err := vm.RunProgram(p.compiled)
	if err != nil {
		return nil, fault("run", err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, fault("run", errors.New("program did not compile to a function"))
	}

	newID := vm.ToValue(func() string { return in.NewID() })
	result, err := fn(goja.Undefined(),
		obj.Get("nodes"), obj.Get("edges"), obj.Get("handles"), obj.Get("templates"), newID)
	if err != nil {
		return nil, fault("run", err)
	}

	if goja.IsUndefined(result) || goja.IsNull(result) {
		return []byte("null"), nil
	}
	encoded, err := stringify(goja.Undefined(), result)
	if err != nil {
		return nil, fault("output", err)
	}
	if goja.IsUndefined(encoded) {
		return []byte("null"), nil
	}
	return []byte(encoded.String()), nil
}

// harden removes the few ambient sources of nondeterminism goja ships with.
func harden(vm *goja.Runtime) {
	global := vm.GlobalObject()
	_ = global.Delete("Date")
	if math, ok := global.Get("Math").(*goja.Object); ok {
		_ = math.Delete("random")
	}
}

func fault(stage string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return err
	}
	msg := err.Error()
	var ex *goja.Exception
	if errors.As(err, &ex) {
		msg = ex.Error()
	}
	return &domain.SandboxError{Kind: domain.SandboxFault, Stage: stage, Message: msg}
}
