package unireq

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"strings"
)

// JSON encodes structured request bodies and decodes JSON responses into
// Response.Value.
func JSON() Policy {
	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		if req.Header.Get("Accept") == "" {
			req = req.WithHeader("Accept", "application/json")
		}
		if structuredBody(req.Body) {
			data, err := json.Marshal(req.Body)
			if err != nil {
				return nil, SerializationError(req, "encode json body", err)
			}
			req = req.WithBody(data)
			if req.Header.Get("Content-Type") == "" {
				req.Header.Set("Content-Type", "application/json")
			}
		}

		resp, err := next(ctx, req)
		if err != nil || resp == nil || len(resp.Body) == 0 {
			return resp, err
		}
		ct := resp.Header.Get("Content-Type")
		var v any
		switch {
		case ct == "":
			// Undeclared bodies are decoded opportunistically.
			if json.Unmarshal(resp.Body, &v) != nil {
				return resp, nil
			}
		case isJSONContent(ct):
			if err := json.Unmarshal(resp.Body, &v); err != nil {
				return nil, SerializationError(req, "decode json response", err)
			}
		default:
			return resp, nil
		}
		return resp.WithValue(v), nil
	}
	return Define(fn, Descriptor{Name: "json", Kind: KindParser, Options: map[string]any{"accept": "application/json"}})
}

// Text exposes the body as a string in Response.Value.
func Text() Policy {
	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		if req.Header.Get("Accept") == "" {
			req = req.WithHeader("Accept", "text/plain")
		}
		resp, err := next(ctx, req)
		if err != nil || resp == nil {
			return resp, err
		}
		return resp.WithValue(string(resp.Body)), nil
	}
	return Define(fn, Descriptor{Name: "text", Kind: KindParser, Options: map[string]any{"accept": "text/plain"}})
}

// DecodeJSON unmarshals the response body into a T.
func DecodeJSON[T any](resp *Response) (T, error) {
	var v T
	if resp == nil {
		return v, SerializationError(nil, "decode json response", io.ErrUnexpectedEOF)
	}
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return v, SerializationError(resp.Request, "decode json response", err)
	}
	return v, nil
}

func structuredBody(body any) bool {
	switch body.(type) {
	case nil, string, []byte, io.Reader:
		return false
	default:
		return true
	}
}

// isJSONContent accepts application/json and +json suffixes.
func isJSONContent(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
