package lua

import (
	"fmt"
	"reflect"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Attributes is implemented by receivers whose attributes Lua code reads
// and writes as fields of self.
type Attributes interface {
	Attr(key string) any
	SetAttr(key string, value any)
}

// Bridge converts values between Go and Lua.
type Bridge struct {
	L *lua.LState

	receiverMT *lua.LTable
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value. Integral numbers become
// int64, tables become []any or map[string]any, functions become nil.
// A table shared by several fields is converted at each; a reference back
// to a table that encloses it becomes nil.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGoValue(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGoValue(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		return b.tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

// tableToGo converts a Lua table to a slice when its keys are exactly
// 1..n, and to a map otherwise.
func (b *Bridge) tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	maxN, count := 0, 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = b.toGoValue(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		m[key] = b.toGoValue(v, visited)
	})
	return m
}

// ToLuaValue converts a Go value to a Lua value.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case fmt.Stringer:
		return lua.LString(val.String())
	case []any:
		t := b.L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, b.ToLuaValue(item))
		}
		return t
	case map[string]any:
		t := b.L.NewTable()
		for k, item := range val {
			t.RawSetString(k, b.ToLuaValue(item))
		}
		return t
	default:
		return b.reflectToLua(v)
	}
}

// reflectToLua converts slices, maps, structs and pointers by reflection.
// Anything else is wrapped as userdata.
func (b *Bridge) reflectToLua(v any) lua.LValue {
	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.reflectToLua(rv.Elem().Interface())

	case reflect.Slice, reflect.Array:
		t := b.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, b.ToLuaValue(rv.Index(i).Interface()))
		}
		return t

	case reflect.Map:
		t := b.L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(b.ToLuaValue(iter.Key().Interface()), b.ToLuaValue(iter.Value().Interface()))
		}
		return t

	case reflect.Struct:
		t := b.L.NewTable()
		rt := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, _, _ := strings.Cut(field.Tag.Get("json"), ","); tag != "" && tag != "-" {
				name = tag
			}
			t.RawSetString(name, b.ToLuaValue(rv.Field(i).Interface()))
		}
		return t

	default:
		ud := b.L.NewUserData()
		ud.Value = v
		return ud
	}
}

// Receiver converts the receiver of a call. Receivers implementing
// Attributes become userdata with field access; anything else is
// converted with ToLuaValue.
func (b *Bridge) Receiver(self any) lua.LValue {
	attrs, ok := self.(Attributes)
	if !ok {
		return b.ToLuaValue(self)
	}

	ud := b.L.NewUserData()
	ud.Value = attrs
	b.L.SetMetatable(ud, b.receiverMetatable())
	return ud
}

func (b *Bridge) receiverMetatable() *lua.LTable {
	if b.receiverMT != nil {
		return b.receiverMT
	}

	mt := b.L.NewTable()
	b.L.SetField(mt, "__index", b.L.NewFunction(func(L *lua.LState) int {
		attrs := checkAttributes(L)
		L.Push(b.ToLuaValue(attrs.Attr(L.CheckString(2))))
		return 1
	}))
	b.L.SetField(mt, "__newindex", b.L.NewFunction(func(L *lua.LState) int {
		attrs := checkAttributes(L)
		attrs.SetAttr(L.CheckString(2), b.ToGoValue(L.Get(3)))
		return 0
	}))
	b.L.SetField(mt, "__tostring", b.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(fmt.Sprintf("receiver<%T>", checkAttributes(L))))
		return 1
	}))

	b.receiverMT = mt
	return mt
}

func checkAttributes(L *lua.LState) Attributes {
	ud := L.CheckUserData(1)
	attrs, ok := ud.Value.(Attributes)
	if !ok {
		L.ArgError(1, "receiver expected")
		return nil
	}
	return attrs
}
