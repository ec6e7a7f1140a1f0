// Package luavm is the Lua sandbox backend, built on gopher-lua.
//
// A program is a chunk that sees the globals nodes, edges, handles,
// templates and generateId, and returns a table with nodes, edges and
// handles:
//
//	table.insert(nodes, {id = generateId(), type = "Text", templateId = "text",
//		position = {x = 0, y = 0}})
//	return {nodes = nodes, edges = edges, handles = handles}
//
// Only the base, table, string and math libraries are opened. Loaders,
// print and math.random are removed.
package luavm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/sandbox"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Name is the language identifier of this backend.
const Name = "lua"

const maxDepth = 64

// Fields that hold objects even when a program leaves them empty.
var objectFields = map[string]bool{
	"config":   true,
	"position": true,
	"size":     true,
	"result":   true,
}

var removedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"print", "collectgarbage", "newproxy", "_printregs",
}

type program struct {
	proto *lua.FunctionProto
}

func (program) Language() string { return Name }

// Backend runs Lua programs.
type Backend struct{}

// New returns the Lua backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string { return Name }

// Load parses and compiles source.
func (b *Backend) Load(source string) (sandbox.Program, error) {
	chunk, err := parse.Parse(strings.NewReader(source), "transform.lua")
	if err != nil {
		return nil, &domain.SandboxError{Kind: domain.SandboxFault, Stage: "load", Message: err.Error()}
	}
	proto, err := lua.Compile(chunk, "transform.lua")
	if err != nil {
		return nil, &domain.SandboxError{Kind: domain.SandboxFault, Stage: "load", Message: err.Error()}
	}
	return program{proto: proto}, nil
}

func (b *Backend) Run(ctx context.Context, prog sandbox.Program, in sandbox.Input) ([]byte, error) {
	p, ok := prog.(program)
	if !ok {
		return nil, fmt.Errorf("luavm: cannot run %s program", prog.Language())
	}

	opts := lua.Options{SkipOpenLibs: true}
	if in.MaxCallStack > 0 {
		opts.CallStackSize = in.MaxCallStack
	}
	L := lua.NewState(opts)
	defer L.Close()
	openSafeLibs(L)
	L.SetContext(ctx)

	conv := newConverter(L)

	var snap map[string]any
	if err := json.Unmarshal(in.Snapshot, &snap); err != nil {
		return nil, fmt.Errorf("luavm: failed to load snapshot: %w", err)
	}
	for _, name := range []string{"nodes", "edges", "handles", "templates"} {
		L.SetGlobal(name, conv.toLua(snap[name]))
	}
	L.SetGlobal("generateId", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(in.NewID()))
		return 1
	}))

	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *lua.ApiError
		msg := err.Error()
		if errors.As(err, &apiErr) && apiErr.Object != nil {
			msg = apiErr.Object.String()
		}
		return nil, &domain.SandboxError{Kind: domain.SandboxFault, Stage: "run", Message: msg}
	}
	ret := L.Get(-1)
	L.Pop(1)

	value, err := conv.toGo(ret, "", 0)
	if err != nil {
		return nil, &domain.SandboxError{Kind: domain.SandboxFault, Stage: "output", Message: err.Error()}
	}
	out, err := json.Marshal(value)
	if err != nil {
		return nil, &domain.SandboxError{Kind: domain.SandboxFault, Stage: "output", Message: err.Error()}
	}
	return out, nil
}

func openSafeLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if m, ok := L.GetGlobal("math").(*lua.LTable); ok {
		m.RawSetString("random", lua.LNil)
		m.RawSetString("randomseed", lua.LNil)
	}
}

// converter maps JSON values to Lua tables and back. Tables built from JSON
// carry a marker metatable so empty arrays and objects survive a round trip.
type converter struct {
	L          *lua.LState
	arrayMeta  *lua.LTable
	objectMeta *lua.LTable
}

func newConverter(L *lua.LState) *converter {
	return &converter{L: L, arrayMeta: L.NewTable(), objectMeta: L.NewTable()}
}

func (c *converter) toLua(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := c.L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, c.toLua(item))
		}
		c.L.SetMetatable(t, c.arrayMeta)
		return t
	case map[string]any:
		t := c.L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, c.toLua(item))
		}
		c.L.SetMetatable(t, c.objectMeta)
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func (c *converter) toGo(v lua.LValue, key string, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errors.New("returned value is nested too deeply")
	}
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("field %q is not a finite number", key)
		}
		return f, nil
	case lua.LString:
		return string(val), nil
	case *lua.LTable:
		if c.isArray(val, key) {
			return c.arrayToGo(val, key, depth)
		}
		return c.objectToGo(val, depth)
	default:
		return nil, fmt.Errorf("field %q holds a %s, which cannot be returned", key, v.Type())
	}
}

func (c *converter) isArray(t *lua.LTable, key string) bool {
	switch c.L.GetMetatable(t) {
	case c.arrayMeta:
		return true
	case c.objectMeta:
		return false
	}
	if t.MaxN() > 0 {
		return true
	}
	empty := true
	t.ForEach(func(lua.LValue, lua.LValue) { empty = false })
	return empty && !objectFields[key]
}

func (c *converter) arrayToGo(t *lua.LTable, key string, depth int) (any, error) {
	n := t.MaxN()
	out := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		item, err := c.toGo(t.RawGetInt(i), key, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *converter) objectToGo(t *lua.LTable, depth int) (any, error) {
	out := make(map[string]any)
	var firstErr error
	t.ForEach(func(k, v lua.LValue) {
		if firstErr != nil {
			return
		}
		name := k.String()
		item, err := c.toGo(v, name, depth+1)
		if err != nil {
			firstErr = err
			return
		}
		out[name] = item
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
