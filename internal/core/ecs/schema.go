package ecs

import (
	"crypto/md5"
	"encoding/binary"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
)

var fieldValidate = validator.New(validator.WithRequiredStructEnabled())

// FieldSource is one property as described by a schema source: a field
// name, its Go element type, and the declarative metadata (default,
// shared-instance flag, clone policy, validation tag) a surface syntax
// (struct tags, a Lua table, an IDL file) would attach to it. It is the
// in-memory representation spec.md §6 calls "a schema source the core
// consumes" — the surface syntax that produces it is out of scope.
type FieldSource struct {
	Name        string
	ElementType reflect.Type
	FieldIndex  int // index into the backing Go struct's fields, -1 if not struct-backed
	Shared      bool
	CloneMode   CloneMode
	Default     any
	Validate    string // go-playground/validator tag, e.g. "required,min=0,max=100"
}

// SchemaSource is anything that can describe one component type's
// properties plus its required-component composition.
type SchemaSource interface {
	TypeName() string
	Fields() []FieldSource
	RequiredTypes() []ComponentType
}

// PropertyDeclaration is one parsed, validated field of a component
// schema, ordered ascending by Name within its Schema.
type PropertyDeclaration struct {
	Name        string
	ElementType reflect.Type
	FieldIndex  int // index into the component struct's reflect.Value, -1 for a schema-source field not backed by a concrete struct
	Getter      string
	Setter      string
	Shared      bool
	CloneMode   CloneMode
	Default     any
	ValidateTag string
}

// Schema is the parsed, ordered description of one component type: its
// properties, required-component list, and a content-addressable
// fingerprint used to name generated accessors (spec §6).
type Schema struct {
	TypeName    string
	Properties  []PropertyDeclaration
	Required    []ComponentType
	Fingerprint uint64
}

// PropertyByName looks up a declaration by name, or ok=false.
func (s *Schema) PropertyByName(name string) (PropertyDeclaration, bool) {
	i := sort.Search(len(s.Properties), func(i int) bool { return s.Properties[i].Name >= name })
	if i < len(s.Properties) && s.Properties[i].Name == name {
		return s.Properties[i], true
	}
	return PropertyDeclaration{}, false
}

// fingerprint folds an MD5 of the fully-qualified type name into a
// non-negative uint64, used to name generated/looked-up accessor classes
// as "<TypeName>Impl<hash>" per spec §6.
func fingerprint(typeName string) uint64 {
	sum := md5.Sum([]byte(typeName))
	v := binary.BigEndian.Uint64(sum[:8])
	return v &^ (1 << 63) // fold into non-negative range
}

func isPrimitiveKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return true
	default:
		return false
	}
}

func decapitalize(name string) string {
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// BuildSchema validates a schema source per spec §4.2 and returns its
// ordered, fingerprinted Schema. Validation failures are ErrIllDefinedSchema
// and are fatal: no partial schema is ever returned.
func BuildSchema(src SchemaSource) (*Schema, error) {
	fields := src.Fields()
	seen := make(map[string]bool, len(fields))
	decls := make([]PropertyDeclaration, 0, len(fields))

	for _, f := range fields {
		if f.Name == "" {
			return nil, newError(ErrIllDefinedSchema, "property with empty name").WithComponent(src.TypeName())
		}
		if seen[f.Name] {
			return nil, newError(ErrIllDefinedSchema, "duplicate property name "+f.Name).WithComponent(src.TypeName())
		}
		seen[f.Name] = true

		if f.Shared && isPrimitiveKind(f.ElementType.Kind()) {
			return nil, newError(ErrIllDefinedSchema,
				"shared-instance flag is only valid for non-primitive element types: "+f.Name).WithComponent(src.TypeName())
		}
		if f.CloneMode == CloneInvoke {
			return nil, newError(ErrIllDefinedSchema,
				"declared property "+f.Name+" requests invoke-clone, but a schema source has no way to carry a clone function").WithComponent(src.TypeName())
		}

		mode := f.CloneMode
		if mode == CloneDisable && f.Default == nil {
			// caller didn't pick a policy; default to value-copy for
			// primitives, reference-copy for everything else.
			if isPrimitiveKind(f.ElementType.Kind()) {
				mode = CloneValueCopy
			} else {
				mode = CloneReferenceCopy
			}
		}

		decls = append(decls, PropertyDeclaration{
			Name:        f.Name,
			ElementType: f.ElementType,
			FieldIndex:  f.FieldIndex,
			Getter:      "Get" + strings.ToUpper(f.Name[:1]) + f.Name[1:],
			Setter:      "Set" + strings.ToUpper(f.Name[:1]) + f.Name[1:],
			Shared:      f.Shared,
			CloneMode:   mode,
			Default:     f.Default,
			ValidateTag: f.Validate,
		})
	}

	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })

	return &Schema{
		TypeName:    src.TypeName(),
		Properties:  decls,
		Required:    src.RequiredTypes(),
		Fingerprint: fingerprint(src.TypeName()),
	}, nil
}

// structSchemaSource reflects a struct type's exported fields into a
// SchemaSource, reading the `ecs:"..."` and `validate:"..."` struct tags.
// This is the "reflective introspection of the declaration" build path;
// the companion path is any other SchemaSource (e.g. luaschema).
type structSchemaSource struct {
	t        reflect.Type
	required []ComponentType
}

// ReflectSchemaSource builds a SchemaSource from a struct type's exported
// fields by reading `ecs:"name,shared,clone=value|reference|invoke|disable,default=<literal>"`
// and `validate:"..."` struct tags. If t implements Requires, its
// RequiredTypes() seeds the schema's required-component list.
func ReflectSchemaSource(t reflect.Type) SchemaSource {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var required []ComponentType
	if rv := reflect.New(t).Interface(); rv != nil {
		if r, ok := rv.(Requires); ok {
			required = r.RequiredTypes()
		}
	}
	return &structSchemaSource{t: t, required: required}
}

func (s *structSchemaSource) TypeName() string { return s.t.PkgPath() + "." + s.t.Name() }

func (s *structSchemaSource) RequiredTypes() []ComponentType { return s.required }

func (s *structSchemaSource) Fields() []FieldSource {
	out := make([]FieldSource, 0, s.t.NumField())
	for i := 0; i < s.t.NumField(); i++ {
		f := s.t.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}
		tag := f.Tag.Get("ecs")
		name := decapitalize(f.Name)
		shared := false
		mode := CloneDisable
		var def any
		if tag != "" {
			for _, part := range strings.Split(tag, ",") {
				switch {
				case part == "shared":
					shared = true
				case part == "-":
					continue
				case strings.HasPrefix(part, "clone="):
					switch strings.TrimPrefix(part, "clone=") {
					case "value":
						mode = CloneValueCopy
					case "reference":
						mode = CloneReferenceCopy
					case "invoke":
						mode = CloneInvoke
					case "disable":
						mode = CloneDisable
					}
				case strings.HasPrefix(part, "default="):
					def = parseDefaultLiteral(f.Type, strings.TrimPrefix(part, "default="))
				case part != "":
					name = part
				}
			}
		}
		out = append(out, FieldSource{
			Name:        name,
			ElementType: f.Type,
			FieldIndex:  i,
			Shared:      shared,
			CloneMode:   mode,
			Default:     def,
			Validate:    f.Tag.Get("validate"),
		})
	}
	return out
}

func parseDefaultLiteral(t reflect.Type, lit string) any {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, _ := strconv.ParseInt(lit, 10, 64)
		return reflect.ValueOf(n).Convert(t).Interface()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, _ := strconv.ParseUint(lit, 10, 64)
		return reflect.ValueOf(n).Convert(t).Interface()
	case reflect.Float32, reflect.Float64:
		n, _ := strconv.ParseFloat(lit, 64)
		return reflect.ValueOf(n).Convert(t).Interface()
	case reflect.Bool:
		b, _ := strconv.ParseBool(lit)
		return b
	case reflect.String:
		return lit
	default:
		return nil
	}
}

// Requires is implemented by component struct types that require another
// component type to be present; Repository.AddComponent resolves this
// chain, adding and owning any missing required component whose type
// already has a repository in the store (other required types are skipped).
type Requires interface {
	RequiredTypes() []ComponentType
}

// schemaRegistry builds each component type's Schema exactly once,
// de-duplicating concurrent first use with a singleflight group from
// golang.org/x/sync, so two goroutines racing SchemaFor[T]() on a cold
// type build it once and both observe the same *Schema.
type schemaRegistry struct {
	group singleflight.Group
	mu    sync.RWMutex
	byT   map[reflect.Type]*Schema
}

var globalSchemas = &schemaRegistry{byT: make(map[reflect.Type]*Schema)}

// SchemaFor returns (building if necessary) the Schema for struct type T.
func SchemaFor[T any]() (*Schema, error) {
	var zero T
	t := reflect.TypeOf(zero)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	globalSchemas.mu.RLock()
	if s, ok := globalSchemas.byT[t]; ok {
		globalSchemas.mu.RUnlock()
		return s, nil
	}
	globalSchemas.mu.RUnlock()

	v, err, _ := globalSchemas.group.Do(t.String(), func() (any, error) {
		src := ReflectSchemaSource(t)
		s, err := BuildSchema(src)
		if err != nil {
			Logger.Warn().Str("type", t.String()).Err(err).Msg("schema build failed")
			return nil, err
		}
		globalSchemas.mu.Lock()
		globalSchemas.byT[t] = s
		globalSchemas.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Schema), nil
}
