package routes

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/studiowebux/restcall/internal/types"
)

// KeyValue is one ordered property of a Dynamic request
type KeyValue struct {
	Key   string
	Value any
}

// Dynamic is a request whose shape is only known at runtime, such as one loaded from a
// request file. Property order is preserved for query strings and bodies.
type Dynamic struct {
	Operation string
	RouteList []types.Route
	Values    []KeyValue

	once sync.Once
	desc *Descriptor
}

// OperationName implements Named
func (d *Dynamic) OperationName() string {
	return d.Operation
}

// Descriptor implements Describer
func (d *Dynamic) Descriptor() *Descriptor {
	d.once.Do(func() {
		properties := make([]Property, len(d.Values))
		for i, kv := range d.Values {
			properties[i] = Property{Name: kv.Key, WireName: kv.Key}
		}
		d.desc = NewDescriptor(d.Operation, d.RouteList, properties)
	})
	return d.desc
}

// RequestFields implements Describer
func (d *Dynamic) RequestFields() []Field {
	properties := d.Descriptor().Properties()
	fields := make([]Field, len(d.Values))
	for i, kv := range d.Values {
		fields[i] = Field{Property: properties[i], Value: kv.Value}
	}
	return fields
}

// Get returns the value of a property by key
func (d *Dynamic) Get(key string) (any, bool) {
	for _, kv := range d.Values {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// MarshalJSON writes the properties as an object in declaration order
func (d *Dynamic) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range d.Values {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
