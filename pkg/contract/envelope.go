package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// System field names present in every envelope.
const (
	FieldConnID       = "_conn_id"
	FieldCallID       = "_call_id"
	FieldStreamLength = "_stream_length"
)

// Field is one envelope field.
type Field struct {
	Name   string
	Type   reflect.Type
	System bool
	// Param indexes the method's parameter list, or -1 for a system field.
	Param int
}

// Shape is the synthesized envelope layout of one method: its non-system
// parameters in declaration order, then the three system fields.
type Shape struct {
	fields []Field
	values int
	byName map[string]int
}

func newShape(params []PPInfo) (*Shape, error) {
	s := &Shape{byName: make(map[string]int)}
	for i, p := range params {
		if p.Kind.System() {
			continue
		}
		if err := s.add(Field{Name: p.DefineName, Type: p.Type, Param: i}); err != nil {
			return nil, err
		}
		s.values++
	}
	sys := []Field{
		{Name: FieldConnID, Type: reflect.TypeOf(""), System: true, Param: -1},
		{Name: FieldCallID, Type: reflect.TypeOf(""), System: true, Param: -1},
		{Name: FieldStreamLength, Type: reflect.TypeOf(int64(0)), System: true, Param: -1},
	}
	for _, f := range sys {
		if err := s.add(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Shape) add(f Field) error {
	if f.Name == "" {
		return fmt.Errorf("%w: empty wire name", ErrConfig)
	}
	if _, dup := s.byName[f.Name]; dup {
		return fmt.Errorf("%w: duplicate wire name %q", ErrConfig, f.Name)
	}
	s.byName[f.Name] = len(s.fields)
	s.fields = append(s.fields, f)
	return nil
}

// Fields returns the envelope fields in order.
func (s *Shape) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// ValueCount is the number of non-system fields.
func (s *Shape) ValueCount() int {
	return s.values
}

// New builds an envelope. args must hold exactly one value per non-system field.
func (s *Shape) New(callID, connID string, streamLength int64, args []any) (*Envelope, error) {
	if len(args) != s.values {
		return nil, fmt.Errorf("%w: envelope wants %d values, got %d", ErrArgCount, s.values, len(args))
	}
	values := make([]any, len(args))
	copy(values, args)
	return &Envelope{shape: s, callID: callID, connID: connID, streamLength: streamLength, values: values}, nil
}

// Decode parses a wire envelope. Unknown field names are rejected; missing
// value fields take their zero value.
func (s *Shape) Decode(data []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelope, err)
	}
	e := &Envelope{shape: s, values: make([]any, 0, s.values)}
	for name := range raw {
		if _, ok := s.byName[name]; !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrEnvelope, name)
		}
	}
	for _, f := range s.fields {
		msg, present := raw[f.Name]
		switch f.Name {
		case FieldConnID:
			if present {
				if err := json.Unmarshal(msg, &e.connID); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrEnvelope, f.Name, err)
				}
			}
			continue
		case FieldCallID:
			if present {
				if err := json.Unmarshal(msg, &e.callID); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrEnvelope, f.Name, err)
				}
			}
			continue
		case FieldStreamLength:
			if present {
				if err := json.Unmarshal(msg, &e.streamLength); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrEnvelope, f.Name, err)
				}
			}
			continue
		}
		ptr := reflect.New(f.Type)
		if present && !bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
			if err := json.Unmarshal(msg, ptr.Interface()); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrEnvelope, f.Name, err)
			}
		}
		e.values = append(e.values, ptr.Elem().Interface())
	}
	return e, nil
}

// Envelope is one call's flattened wire record.
type Envelope struct {
	shape        *Shape
	callID       string
	connID       string
	streamLength int64
	values       []any
}

func (e *Envelope) CallID() string      { return e.callID }
func (e *Envelope) ConnID() string      { return e.connID }
func (e *Envelope) StreamLength() int64 { return e.streamLength }

// Values returns the non-system values in declaration order.
func (e *Envelope) Values() []any {
	out := make([]any, len(e.values))
	copy(out, e.values)
	return out
}

// MarshalJSON writes the envelope as an object in field order.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	vi := 0
	for i, f := range e.shape.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(f.Name)
		buf.Write(name)
		buf.WriteByte(':')
		var v any
		switch f.Name {
		case FieldConnID:
			v = e.connID
		case FieldCallID:
			v = e.callID
		case FieldStreamLength:
			v = e.streamLength
		default:
			v = e.values[vi]
			vi++
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrEnvelope, f.Name, err)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
