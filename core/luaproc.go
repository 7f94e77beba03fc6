package core

// luaproc.go – stored procedures, implemented in Lua and invoked via the
// CALL opcode (spec.md §4.4/§4.11). Each call gets a fresh *lua.LState
// seeded with a box.* table exposing insert/select/delete against the
// server's spaces (there is no box.update), plus fiber.sleep for
// procedures that want to yield.
// gopher-lua is the one dependency in this repo not grounded in the
// example corpus (see DESIGN.md): it is pure Go, matching the rest of
// this stack's avoidance of cgo, and is the only engine that gives every
// procedure call its own isolated interpreter state cheaply.

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ProcRegistry holds named Lua procedure sources; every call parses and
// runs the source afresh in a new interpreter state.
type ProcRegistry struct {
	mu    sync.RWMutex
	procs map[string]string // name -> Lua source
}

// NewProcRegistry creates an empty registry.
func NewProcRegistry() *ProcRegistry {
	return &ProcRegistry{procs: make(map[string]string)}
}

// Register binds name to the given Lua source, panicking on a duplicate
// name — a collision here is a deployment bug, not a runtime condition
// (spec.md §4.11 treats procedure names as defined once at load time).
func (r *ProcRegistry) Register(name, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procs[name]; exists {
		panic(fmt.Sprintf("core: stored procedure %q already registered", name))
	}
	r.procs[name] = source
}

// Call runs the named procedure with args as its single table argument,
// returning whatever tuples the procedure returns via box.return_tuple.
func (r *ProcRegistry) Call(ctx context.Context, srv *Server, name string, args *Tuple) ([]*Tuple, error) {
	r.mu.RLock()
	src, ok := r.procs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewProtoError(ErrNoSuchProc, name)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()
	L.SetContext(ctx)

	var returned []*Tuple
	registerBoxAPI(L, srv, &returned)
	registerFiberAPI(L)

	if err := L.DoString(src); err != nil {
		return nil, NewProtoError(ErrProcLua, err.Error())
	}

	fn := L.GetGlobal("main")
	if fn.Type() != lua.LTFunction {
		return nil, NewProtoError(ErrProcLua, fmt.Sprintf("procedure %q defines no main()", name))
	}
	argTable := tupleToLuaTable(L, args)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, argTable); err != nil {
		return nil, NewProtoError(ErrProcLua, err.Error())
	}
	return returned, nil
}

func tupleToLuaTable(L *lua.LState, t *Tuple) *lua.LTable {
	tbl := L.NewTable()
	if t == nil {
		return tbl
	}
	for i := 0; i < t.FieldCount(); i++ {
		f, _ := t.Field(i)
		tbl.Append(lua.LString(f))
	}
	return tbl
}

func luaTableToTuple(tbl *lua.LTable) *Tuple {
	var fields [][]byte
	tbl.ForEach(func(_, v lua.LValue) {
		fields = append(fields, []byte(lua.LVAsString(v)))
	})
	return NewTuple(fields)
}

// registerBoxAPI installs the box.* table: insert/select/delete against
// srv's spaces (no update), plus box.return_tuple to hand a result back
// to the caller.
func registerBoxAPI(L *lua.LState, srv *Server, returned *[]*Tuple) {
	box := L.NewTable()
	L.SetGlobal("box", box)

	L.SetField(box, "insert", L.NewFunction(func(L *lua.LState) int {
		spaceName := L.CheckString(1)
		tbl := L.CheckTable(2)
		sp := srv.SpaceByName(spaceName)
		if sp == nil {
			L.RaiseError("no such space: %s", spaceName)
			return 0
		}
		t := luaTableToTuple(tbl)
		txn := NewTxn(srv.SpaceByID)
		key, _ := keyOf(t, sp.Primary().KeyFields())
		old := sp.Primary().Find([]byte(key))
		txn.AddRedo(sp.ID, old, t)
		if err := commitTxn(srv, txn); err != nil {
			L.RaiseError("insert failed: %v", err)
			return 0
		}
		return 0
	}))

	L.SetField(box, "select", L.NewFunction(func(L *lua.LState) int {
		spaceName := L.CheckString(1)
		key := L.CheckString(2)
		sp := srv.SpaceByName(spaceName)
		if sp == nil {
			L.RaiseError("no such space: %s", spaceName)
			return 0
		}
		t := sp.Primary().Find([]byte(key))
		if t == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(tupleToLuaTable(L, t))
		return 1
	}))

	L.SetField(box, "delete", L.NewFunction(func(L *lua.LState) int {
		spaceName := L.CheckString(1)
		key := L.CheckString(2)
		sp := srv.SpaceByName(spaceName)
		if sp == nil {
			L.RaiseError("no such space: %s", spaceName)
			return 0
		}
		old := sp.Primary().Find([]byte(key))
		if old == nil {
			return 0
		}
		txn := NewTxn(srv.SpaceByID)
		txn.AddRedo(sp.ID, old, nil)
		if err := commitTxn(srv, txn); err != nil {
			L.RaiseError("delete failed: %v", err)
		}
		return 0
	}))

	L.SetField(box, "return_tuple", L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		*returned = append(*returned, luaTableToTuple(tbl))
		return 0
	}))
}

// registerFiberAPI installs fiber.sleep, letting a procedure yield
// without blocking the whole process — backed by a plain time.Sleep
// since a Lua call already runs off the fiber scheduler's own Yield path
// on its own goroutine per invocation.
func registerFiberAPI(L *lua.LState) {
	fiber := L.NewTable()
	L.SetGlobal("fiber", fiber)
	L.SetField(fiber, "sleep", L.NewFunction(func(L *lua.LState) int {
		secs := L.CheckNumber(1)
		time.Sleep(time.Duration(float64(secs) * float64(time.Second)))
		return 0
	}))
}
