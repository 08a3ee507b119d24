package engine

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/Evoltonnac/quota-board/pkg/api"
)

type (
	// LuaEnv provides a Lua script execution environment with state
	// pooling and per-step bytecode caching
	LuaEnv struct {
		statePool chan *lua.State
		scripts   sync.Map

		// baseline is the global name set of a fresh sandboxed state;
		// anything beyond it is per-run and cleared before pooling
		baseline map[string]struct{}
	}

	compiledLua struct {
		bytecode []byte
	}
)

const (
	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaArrayTableIndex  = -3
	luaMapTableIndex    = -3
	luaGlobalTableName  = "_G"
)

var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewLuaEnv creates a Lua script execution environment with a state pool
// for efficient script reuse
func NewLuaEnv() *LuaEnv {
	e := &LuaEnv{
		statePool: make(chan *lua.State, luaStatePoolSize),
		baseline:  map[string]struct{}{},
	}

	L := lua.NewState()
	e.setupSandbox(L)
	for _, name := range globalNames(L) {
		e.baseline[name] = struct{}{}
	}
	return e
}

// Execute runs a script step. Inputs are bound as globals and the
// declared output names are read back from the script's globals after
// it finishes. Outputs the script never assigned are omitted
func (e *LuaEnv) Execute(
	stepID api.StepID, script string, inputs api.Args, outputs []api.Name,
) (api.Args, error) {
	c, err := e.compileScript(stepID, script)
	if err != nil {
		return nil, err
	}

	L := e.getState()
	defer e.returnState(L)

	e.setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "chunk", "b"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	for name, value := range inputs {
		goToLua(L, value)
		L.SetGlobal(string(name))
	}

	if err := L.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}

	result := api.Args{}
	for _, name := range outputs {
		L.Global(string(name))
		if !L.IsNil(-1) {
			result[name] = luaToGo(L, -1)
		}
		L.Pop(1)
	}

	return result, nil
}

func (e *LuaEnv) compileScript(
	stepID api.StepID, script string,
) (*compiledLua, error) {
	key := scriptCacheKey(stepID, script)

	if val, ok := e.scripts.Load(key); ok {
		return val.(*compiledLua), nil
	}

	c, err := e.compile(script)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", stepID, err)
	}

	e.scripts.Store(key, c)
	return c, nil
}

func (e *LuaEnv) compile(script string) (*compiledLua, error) {
	L := lua.NewState()

	e.setupSandbox(L)

	if err := lua.LoadString(L, script); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, err
	}

	return &compiledLua{bytecode: buf.Bytes()}, nil
}

func (e *LuaEnv) setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

// returnState clears every global a run may have set, declared or not,
// before the state goes back to the pool, so values never leak between
// sources
func (e *LuaEnv) returnState(L *lua.State) {
	for _, name := range globalNames(L) {
		if _, ok := e.baseline[name]; ok {
			continue
		}
		L.PushNil()
		L.SetGlobal(name)
	}
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

// globalNames collects the string keys of the global table
func globalNames(L *lua.State) []string {
	L.Global(luaGlobalTableName)

	var names []string
	L.PushNil()
	for L.Next(-2) {
		L.Pop(1)
		if L.TypeOf(-1) == lua.TypeString {
			if s, ok := L.ToString(-1); ok {
				names = append(names, s)
			}
		}
	}
	L.Pop(1)
	return names
}

func scriptCacheKey(stepID api.StepID, script string) string {
	return strings.Join([]string{string(stepID), script}, "\x00")
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		pushLuaArray(L, v)
	case map[string]any:
		pushLuaMap(L, v)
	case nil:
		L.PushNil()
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(luaArrayTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		goToLua(L, val)
		L.SetTable(luaMapTableIndex)
	}
}

func luaNumberToGo(L *lua.State, index int) any {
	num, _ := L.ToNumber(index)
	if num == float64(int(num)) {
		return int(num)
	}
	return num
}

func luaToGo(L *lua.State, index int) any {
	switch {
	case L.IsNil(index):
		return nil
	case L.IsBoolean(index):
		return L.ToBoolean(index)
	case L.IsNumber(index):
		return luaNumberToGo(L, index)
	case L.IsString(index):
		s, _ := L.ToString(index)
		return s
	case L.IsTable(index):
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

func luaTableToAny(L *lua.State, index int) any {
	isArray := true
	length := 0

	L.PushNil()
	for L.Next(index - 1) {
		if !L.IsNumber(-2) {
			isArray = false
			// Drop the value and the iteration key so the table is
			// back on top before the second pass
			L.Pop(2)
			break
		}
		length++
		L.Pop(1)
	}

	if isArray && length > 0 {
		return convertLuaArray(L, index, length)
	}

	result := map[string]any{}
	L.PushNil()
	for L.Next(index - 1) {
		var key string
		if !L.IsString(-2) {
			key = fmt.Sprintf("%v", luaToGo(L, -2))
			result[key] = luaToGo(L, -1)
			L.Pop(1)
			continue
		}
		key, _ = L.ToString(-2)
		result[key] = luaToGo(L, -1)
		L.Pop(1)
	}

	return result
}

func convertLuaArray(L *lua.State, index, length int) []any {
	arr := make([]any, length)
	absIndex := index
	if index < 0 {
		absIndex = L.Top() + index + 1
	}
	for i := 1; i <= length; i++ {
		L.RawGetInt(absIndex, i)
		arr[i-1] = luaToGo(L, -1)
		L.Pop(1)
	}
	return arr
}
