// Package geomessage reads, transforms and writes geomessage event logs:
// XML documents whose root wraps a sequence of flat records, each a list
// of named text fields.
package geomessage

import (
	"encoding/json"
	"time"

	"github.com/iancoleman/orderedmap"
)

// Well-known field and element names.
const (
	IDField     = "_id"
	TypeField   = "_type"
	ActionField = "_action"

	RootElement    = "geomessages"
	RecordElement  = "geomessage"
	VersionAttr    = "v"
	DefaultVersion = "1.0"

	// TimestampLayout is the layout of stamped timestamps. It carries no
	// zone; callers pick one with Time.In.
	TimestampLayout = "2006-01-02 15:04:05"
)

// FormatTimestamp renders t in its own location the way override fields
// are stamped.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Record is one event: an element name, a version and an ordered set of
// named text fields. Records loaded from a log are treated as immutable;
// transformations return copies.
type Record struct {
	Name    string
	Version string
	fields  *orderedmap.OrderedMap
}

// NewRecord returns an empty geomessage record.
func NewRecord() *Record {
	return &Record{
		Name:    RecordElement,
		Version: DefaultVersion,
		fields:  orderedmap.New(),
	}
}

// Set assigns a field, keeping its original position if it already exists.
func (r *Record) Set(name, value string) {
	r.fields.Set(name, value)
}

// Get returns a field value.
func (r *Record) Get(name string) (string, bool) {
	v, ok := r.fields.Get(name)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// Fields returns the field names in order.
func (r *Record) Fields() []string {
	return r.fields.Keys()
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.fields.Keys())
}

func (r *Record) ID() string {
	v, _ := r.Get(IDField)
	return v
}

func (r *Record) Type() string {
	v, _ := r.Get(TypeField)
	return v
}

func (r *Record) Action() string {
	v, _ := r.Get(ActionField)
	return v
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := &Record{Name: r.Name, Version: r.Version, fields: orderedmap.New()}
	for _, k := range r.fields.Keys() {
		v, _ := r.fields.Get(k)
		c.fields.Set(k, v)
	}
	return c
}

// MarshalJSON renders the fields as a JSON object in field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields)
}

// ApplyOverrides returns a copy of rec in which every field named in names
// that exists on rec holds the timestamp for now. Names the record does
// not have are ignored.
func ApplyOverrides(rec *Record, names []string, now time.Time) *Record {
	out := rec.Clone()
	if len(names) == 0 {
		return out
	}
	stamp := FormatTimestamp(now)
	for _, name := range names {
		if _, ok := out.Get(name); ok {
			out.Set(name, stamp)
		}
	}
	return out
}
