// Package envelope describes the uniform response shape of the control-plane API:
// a single route-specific field holding the payload, the status code and an
// error description.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const DefaultField = "data"

type Response struct {
	Field            string
	Value            interface{}
	Code             int
	ErrorDescription string
}

func Ok(field string, code int, value interface{}) Response {
	return Response{Field: field, Value: value, Code: code}
}

func Fail(field string, code int, description string) Response {
	return Response{Field: field, Code: code, ErrorDescription: description}
}

// Marshal encodes the response as {"<field>": value, "code": n, "errorDescription": string|null}
// keeping that key order.
func Marshal(r Response) ([]byte, error) {
	field := r.Field
	if field == "" {
		field = DefaultField
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeKey(&buf, field); err != nil {
		return nil, err
	}
	value, err := json.Marshal(r.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", field, err)
	}
	buf.Write(value)

	buf.WriteString(`,"code":`)
	fmt.Fprintf(&buf, "%d", r.Code)

	buf.WriteString(`,"errorDescription":`)
	if r.ErrorDescription == "" {
		buf.WriteString("null")
	} else {
		description, err := json.Marshal(r.ErrorDescription)
		if err != nil {
			return nil, err
		}
		buf.Write(description)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	encoded, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(encoded)
	buf.WriteByte(':')
	return nil
}

// Fields maps a route key ("METHOD /path" as registered in the router) to the
// name of the field its responses carry.
type Fields map[string]string

func RouteKey(method string, path string) string {
	return method + " " + path
}

// Field returns the field name of given route, DefaultField if not mapped.
func (f Fields) Field(method string, path string) string {
	if field, ok := f[RouteKey(method, path)]; ok {
		return field
	}
	return DefaultField
}
