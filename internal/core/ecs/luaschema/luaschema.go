// Package luaschema implements ecs.SchemaSource by reading a component
// declaration out of a Lua table instead of a Go struct's tags. It is
// purely a declarative-metadata adapter — field names, default values,
// clone policy, validation tags — evaluated once at schema-build time via
// gopher-lua; it never runs gameplay logic and holds no reference to any
// Repository or EntityStore.
package luaschema

import (
	"fmt"
	"reflect"

	lua "github.com/yuin/gopher-lua"

	"latticecs/internal/core/ecs"
)

// Source is an ecs.SchemaSource backed by a Lua table of the shape:
//
//	{
//	  typeName = "game.Health",
//	  fields = {
//	    { name = "current", type = "float64", default = 100, clone = "value" },
//	    { name = "max",     type = "float64", default = 100 },
//	    { name = "tag",     type = "string",  validate = "required" },
//	  },
//	}
//
// Fields run through the same element-type and clone-mode rules as a
// struct-tag source; they are just never backed by a concrete Go struct
// field (FieldIndex is always -1).
type Source struct {
	typeName string
	fields   []ecs.FieldSource
}

// Load evaluates script in a fresh Lua state, reads the global variable
// named table into a Source, and closes the state before returning.
func Load(script string, table string) (*Source, error) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("luaschema: evaluating script: %w", err)
	}

	v := L.GetGlobal(table)
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("luaschema: global %q is not a table", table)
	}
	return FromTable(tbl)
}

// FromTable builds a Source directly from an already-evaluated Lua table,
// for callers that manage their own *lua.LState (e.g. to share it across
// several schema tables).
func FromTable(tbl *lua.LTable) (*Source, error) {
	typeName, ok := tbl.RawGetString("typeName").(lua.LString)
	if !ok || typeName == "" {
		return nil, fmt.Errorf("luaschema: table missing string field typeName")
	}

	fieldsVal := tbl.RawGetString("fields")
	fieldsTbl, ok := fieldsVal.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("luaschema: table missing fields array")
	}

	src := &Source{typeName: string(typeName)}
	var walkErr error
	fieldsTbl.ForEach(func(_, v lua.LValue) {
		if walkErr != nil {
			return
		}
		row, ok := v.(*lua.LTable)
		if !ok {
			walkErr = fmt.Errorf("luaschema: fields entry is not a table")
			return
		}
		fs, err := fieldFromRow(row)
		if err != nil {
			walkErr = err
			return
		}
		src.fields = append(src.fields, fs)
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return src, nil
}

func fieldFromRow(row *lua.LTable) (ecs.FieldSource, error) {
	name, ok := row.RawGetString("name").(lua.LString)
	if !ok || name == "" {
		return ecs.FieldSource{}, fmt.Errorf("luaschema: field missing string name")
	}
	typeName, ok := row.RawGetString("type").(lua.LString)
	if !ok {
		return ecs.FieldSource{}, fmt.Errorf("luaschema: field %q missing type", name)
	}
	elemType, err := elementTypeFor(string(typeName))
	if err != nil {
		return ecs.FieldSource{}, fmt.Errorf("luaschema: field %q: %w", name, err)
	}

	fs := ecs.FieldSource{
		Name:        string(name),
		ElementType: elemType,
		FieldIndex:  -1,
	}

	if shared, ok := row.RawGetString("shared").(lua.LBool); ok {
		fs.Shared = bool(shared)
	}
	if validate, ok := row.RawGetString("validate").(lua.LString); ok {
		fs.Validate = string(validate)
	}
	switch clone, _ := row.RawGetString("clone").(lua.LString); clone {
	case "value":
		fs.CloneMode = ecs.CloneValueCopy
	case "reference":
		fs.CloneMode = ecs.CloneReferenceCopy
	case "invoke":
		fs.CloneMode = ecs.CloneInvoke
	default:
		fs.CloneMode = ecs.CloneDisable
	}

	if def := row.RawGetString("default"); def != lua.LNil {
		fs.Default = convertDefault(def, elemType)
	}
	return fs, nil
}

func elementTypeFor(name string) (reflect.Type, error) {
	switch name {
	case "bool":
		return reflect.TypeOf(false), nil
	case "int":
		return reflect.TypeOf(int(0)), nil
	case "int64":
		return reflect.TypeOf(int64(0)), nil
	case "float64":
		return reflect.TypeOf(float64(0)), nil
	case "string":
		return reflect.TypeOf(""), nil
	default:
		return nil, fmt.Errorf("unsupported lua schema field type %q", name)
	}
}

func convertDefault(v lua.LValue, elemType reflect.Type) any {
	switch elemType.Kind() {
	case reflect.Bool:
		if b, ok := v.(lua.LBool); ok {
			return bool(b)
		}
	case reflect.String:
		if s, ok := v.(lua.LString); ok {
			return string(s)
		}
	case reflect.Int, reflect.Int64:
		if n, ok := v.(lua.LNumber); ok {
			return reflect.ValueOf(int64(n)).Convert(elemType).Interface()
		}
	case reflect.Float64:
		if n, ok := v.(lua.LNumber); ok {
			return float64(n)
		}
	}
	return nil
}

func (s *Source) TypeName() string                   { return s.typeName }
func (s *Source) Fields() []ecs.FieldSource           { return s.fields }
func (s *Source) RequiredTypes() []ecs.ComponentType { return nil }
