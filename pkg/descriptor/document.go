package descriptor

import (
	"encoding/json"

	"github.com/sidkik/packsync/pkg/errors"
)

// Document is a JSON object whose fields are kept verbatim unless they're
// explicitly replaced. Descriptors carry many fields that packsync doesn't
// interpret, and they all need to survive the merge.
type Document map[string]json.RawMessage

// ParseDocument decodes a JSON object.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("not a JSON object")
	}
	return doc, nil
}

// Has returns whether the field is set to anything other than null.
func (d Document) Has(key string) bool {
	raw, ok := d[key]
	return ok && string(raw) != "null"
}

// Get decodes the field into v. It returns false if the field is absent.
func (d Document) Get(key string, v interface{}) (bool, error) {
	if !d.Has(key) {
		return false, nil
	}
	if err := json.Unmarshal(d[key], v); err != nil {
		return true, errors.WithContext(err, "decode "+key)
	}
	return true, nil
}

// Set replaces the field with the JSON encoding of v.
func (d Document) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.WithContext(err, "encode "+key)
	}
	d[key] = raw
	return nil
}

// StringField returns the field if it's a string, and the empty string
// otherwise.
func (d Document) StringField(key string) string {
	var s string
	if _, err := d.Get(key, &s); err != nil {
		return ""
	}
	return s
}

// copyField copies the field from src, or removes it if src doesn't have
// it.
func (d Document) copyField(src Document, key string) {
	if raw, ok := src[key]; ok {
		d[key] = raw
	} else {
		delete(d, key)
	}
}

// documents decodes the field as an array of objects.
func (d Document) documents(key string) ([]Document, error) {
	var docs []Document
	_, err := d.Get(key, &docs)
	return docs, err
}

// rawList decodes the field as an array, keeping every element verbatim.
func (d Document) rawList(key string) ([]json.RawMessage, error) {
	var list []json.RawMessage
	_, err := d.Get(key, &list)
	return list, err
}
