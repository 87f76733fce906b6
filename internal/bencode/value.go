package bencode

import (
	"errors"
	"fmt"
)

// Value is one of Int, String, List or Dict.
type Value interface {
	bencodeValue()
}

// Int is a bencoded integer.
type Int int64

// String is a bencoded byte string. It is not necessarily valid UTF-8.
type String []byte

// List is an ordered sequence of values.
type List []Value

// Dict maps raw key bytes to values.
type Dict map[string]Value

func (Int) bencodeValue()    {}
func (String) bencodeValue() {}
func (List) bencodeValue()   {}
func (Dict) bencodeValue()   {}

// ErrKeyNotFound is returned by Dict accessors when the key is absent.
var ErrKeyNotFound = errors.New("key not found")

// TypeError is returned when a value is not of the expected variant.
type TypeError struct {
	Key  string
	Want string
	Got  Value
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("value of %q is %s, not %s", e.Key, kindOf(e.Got), e.Want)
}

func kindOf(v Value) string {
	switch v.(type) {
	case Int:
		return "integer"
	case String:
		return "string"
	case List:
		return "list"
	case Dict:
		return "dictionary"
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func (d Dict) get(key string) (Value, error) {
	v, ok := d[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return v, nil
}

// Int returns the integer value of key.
func (d Dict) Int(key string) (int64, error) {
	v, err := d.get(key)
	if err != nil {
		return 0, err
	}
	i, ok := v.(Int)
	if !ok {
		return 0, &TypeError{Key: key, Want: "integer", Got: v}
	}
	return int64(i), nil
}

// String returns the byte string value of key.
func (d Dict) String(key string) ([]byte, error) {
	v, err := d.get(key)
	if err != nil {
		return nil, err
	}
	s, ok := v.(String)
	if !ok {
		return nil, &TypeError{Key: key, Want: "string", Got: v}
	}
	return []byte(s), nil
}

// List returns the list value of key.
func (d Dict) List(key string) (List, error) {
	v, err := d.get(key)
	if err != nil {
		return nil, err
	}
	l, ok := v.(List)
	if !ok {
		return nil, &TypeError{Key: key, Want: "list", Got: v}
	}
	return l, nil
}

// Dict returns the dictionary value of key.
func (d Dict) Dict(key string) (Dict, error) {
	v, err := d.get(key)
	if err != nil {
		return nil, err
	}
	m, ok := v.(Dict)
	if !ok {
		return nil, &TypeError{Key: key, Want: "dictionary", Got: v}
	}
	return m, nil
}
