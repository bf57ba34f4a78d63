package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Collection is a typed view over one list/create/update/delete endpoint.
type Collection[T any] struct {
	client *Client
	path   string
	id     func(T) string
}

// NewCollection binds a record type to a collection path. id extracts the
// server identifier used for shape validation and per-record URLs.
func NewCollection[T any](c *Client, path string, id func(T) string) Collection[T] {
	return Collection[T]{client: c, path: path, id: id}
}

// Path returns the collection root path.
func (c Collection[T]) Path() string {
	return c.path
}

// List fetches the full collection. The response must be a JSON array (or an
// {"items": [...]} envelope) of objects with unique non-empty identifiers;
// anything else is reported as ErrUnexpectedShape.
func (c Collection[T]) List(ctx context.Context, query url.Values) ([]T, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client is nil")
	}
	rel := &url.URL{Path: c.path}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	data, err := c.client.doURL(ctx, http.MethodGet, rel, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(data, c.id)
}

// CreateRequest builds the POST for a new record.
func (c Collection[T]) CreateRequest(rec T) (Request, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s: %w", c.path, err)
	}
	return Request{Method: http.MethodPost, Path: c.path, Body: body}, nil
}

// UpdateRequest builds the PUT replacing the record with id.
func (c Collection[T]) UpdateRequest(id string, rec T) (Request, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s: %w", c.path, err)
	}
	return Request{Method: http.MethodPut, Path: c.itemPath(id), Body: body}, nil
}

// PatchRequest builds a partial update for the record with id.
func (c Collection[T]) PatchRequest(id string, fields map[string]any) (Request, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s patch: %w", c.path, err)
	}
	return Request{Method: http.MethodPatch, Path: c.itemPath(id), Body: body}, nil
}

// DeleteRequest builds the DELETE for the record with id.
func (c Collection[T]) DeleteRequest(id string) Request {
	return Request{Method: http.MethodDelete, Path: c.itemPath(id)}
}

func (c Collection[T]) itemPath(id string) string {
	return strings.TrimRight(c.path, "/") + "/" + url.PathEscape(id)
}

func decodeList[T any](data []byte, id func(T) string) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnexpectedShape)
	}

	var raws []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
	case '{':
		var env struct {
			Items *[]json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		if env.Items == nil {
			return nil, fmt.Errorf("%w: object without items", ErrUnexpectedShape)
		}
		raws = *env.Items
	default:
		return nil, fmt.Errorf("%w: not a list", ErrUnexpectedShape)
	}

	records := make([]T, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		elem := bytes.TrimSpace(raw)
		if len(elem) == 0 || elem[0] != '{' {
			return nil, fmt.Errorf("%w: item %d is not an object", ErrUnexpectedShape, i)
		}
		var rec T
		if err := json.Unmarshal(elem, &rec); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrUnexpectedShape, i, err)
		}
		key := strings.TrimSpace(id(rec))
		if key == "" {
			return nil, fmt.Errorf("%w: item %d has no id", ErrUnexpectedShape, i)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrUnexpectedShape, key)
		}
		seen[key] = struct{}{}
		records = append(records, rec)
	}
	return records, nil
}
