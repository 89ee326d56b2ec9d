package routes

import (
	"reflect"
	"strings"
	"sync"

	"github.com/studiowebux/restcall/internal/types"
)

// RouteProvider is implemented by request DTOs that declare route templates
type RouteProvider interface {
	Routes() []types.Route
}

// Named is implemented by request DTOs whose operation name differs from the Go type name
type Named interface {
	OperationName() string
}

// Describer is implemented by requests only known at runtime.
// They supply their own descriptor and field values instead of reflection.
type Describer interface {
	Descriptor() *Descriptor
	RequestFields() []Field
}

// Property is a bindable property of a request type
type Property struct {
	Name      string // Go field name
	WireName  string // name used in query strings and bodies
	SkipQuery bool   // never written to the query string
	index     []int
}

// Field is a property paired with its value on a request
type Field struct {
	Property
	Value any
}

// IsSet reports whether the field carries a value worth sending
func (f Field) IsSet() bool {
	return isSet(reflect.ValueOf(f.Value))
}

// String renders the value the way it appears in a URL
func (f Field) String() string {
	return formatValue(f.Value)
}

// Descriptor is the route and property metadata of one request type
type Descriptor struct {
	Name       string
	properties []Property
	routes     []*compiledRoute
}

// NewDescriptor builds a descriptor from explicit metadata
func NewDescriptor(name string, routeList []types.Route, properties []Property) *Descriptor {
	d := &Descriptor{
		Name:       name,
		properties: properties,
	}
	for _, route := range routeList {
		d.routes = append(d.routes, &compiledRoute{route: route})
	}
	return d
}

// Routes returns the declared route templates
func (d *Descriptor) Routes() []types.Route {
	out := make([]types.Route, len(d.routes))
	for i, r := range d.routes {
		out[i] = r.route
	}
	return out
}

// Properties returns the bindable properties in declaration order
func (d *Descriptor) Properties() []Property {
	return d.properties
}

// property finds a property by Go name or wire name, ignoring case
func (d *Descriptor) property(name string) (int, bool) {
	for i, p := range d.properties {
		if strings.EqualFold(p.Name, name) || strings.EqualFold(p.WireName, name) {
			return i, true
		}
	}
	return -1, false
}

var (
	descriptors sync.Map // reflect.Type -> *Descriptor

	registeredMu sync.RWMutex
	registered   = map[reflect.Type][]types.Route{}
)

// Register declares routes for a request type that can't implement RouteProvider.
// Call it before the first request of that type is sent.
func Register(request any, routeList ...types.Route) {
	t := indirectType(reflect.TypeOf(request))
	registeredMu.Lock()
	registered[t] = append(registered[t], routeList...)
	registeredMu.Unlock()
	descriptors.Delete(t)
}

// DescriptorFor returns the cached descriptor for the request's type
func DescriptorFor(request any) *Descriptor {
	if d, ok := request.(Describer); ok {
		return d.Descriptor()
	}

	t := indirectType(reflect.TypeOf(request))
	if cached, ok := descriptors.Load(t); ok {
		return cached.(*Descriptor)
	}

	// Concurrent builders produce identical descriptors; the first stored wins
	actual, _ := descriptors.LoadOrStore(t, buildDescriptor(t))
	return actual.(*Descriptor)
}

// OperationName returns the operation name of a request
func OperationName(request any) string {
	if n, ok := request.(Named); ok {
		return n.OperationName()
	}
	return DescriptorFor(request).Name
}

// Fields returns the request's property values in declaration order
func Fields(request any) []Field {
	if d, ok := request.(Describer); ok {
		return d.RequestFields()
	}

	desc := DescriptorFor(request)
	v := reflect.ValueOf(request)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			v = reflect.Value{}
			break
		}
		v = v.Elem()
	}

	fields := make([]Field, len(desc.properties))
	for i, p := range desc.properties {
		fields[i] = Field{Property: p}
		if v.IsValid() && v.Kind() == reflect.Struct {
			if fv, err := v.FieldByIndexErr(p.index); err == nil {
				fields[i].Value = fv.Interface()
			}
		}
	}
	return fields
}

func buildDescriptor(t reflect.Type) *Descriptor {
	name := ""
	var routeList []types.Route
	var properties []Property

	if t != nil {
		name = t.Name()
		zero := reflect.New(t)
		if n, ok := zero.Interface().(Named); ok {
			name = n.OperationName()
		}
		if rp, ok := zero.Interface().(RouteProvider); ok {
			routeList = append(routeList, rp.Routes()...)
		}
		if t.Kind() == reflect.Struct {
			properties = collectProperties(t, nil)
		}
	}

	registeredMu.RLock()
	routeList = append(routeList, registered[t]...)
	registeredMu.RUnlock()

	return NewDescriptor(name, routeList, properties)
}

func collectProperties(t reflect.Type, parent []int) []Property {
	var properties []Property
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int{}, parent...), i)

		jsonName, jsonSkip := parseTag(f.Tag.Get("json"))
		qsName, qsSkip := parseTag(f.Tag.Get("qs"))

		if f.Anonymous && jsonName == "" && indirectType(f.Type).Kind() == reflect.Struct {
			// Pointer embeds are skipped: they can't be walked without allocating
			if f.Type.Kind() == reflect.Struct {
				properties = append(properties, collectProperties(f.Type, index)...)
			}
			continue
		}
		if !f.IsExported() {
			continue
		}

		wire := qsName
		if wire == "" {
			wire = jsonName
		}
		if wire == "" {
			wire = lowerFirst(f.Name)
		}

		properties = append(properties, Property{
			Name:      f.Name,
			WireName:  wire,
			SkipQuery: jsonSkip || qsSkip,
			index:     index,
		})
	}
	return properties
}

// parseTag returns the name part of a struct tag and whether it is "-"
func parseTag(tag string) (string, bool) {
	if tag == "-" {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	return name, false
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
