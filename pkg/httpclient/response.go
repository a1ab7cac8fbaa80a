package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte

	acceptXML bool
}

// IsEmpty returns true for 204 responses and empty bodies.
func (r *Response) IsEmpty() bool {
	return r.StatusCode == http.StatusNoContent || len(strings.TrimSpace(string(r.Body))) == 0
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// IsXML returns true if XML was requested or the server declared an XML body.
func (r *Response) IsXML() bool {
	return r.acceptXML || strings.Contains(strings.ToLower(r.ContentType), "xml")
}

// Decode unmarshals a JSON body into v. An empty response leaves v untouched.
func (r *Response) Decode(v interface{}) error {
	if r.IsEmpty() {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return nil
}

// Map decodes a JSON object body. An empty response yields an empty map.
func (r *Response) Map() (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if err := r.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
