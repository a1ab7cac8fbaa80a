package httpclient

import (
	"encoding/json"
	"errors"

	"github.com/openfroyo/hubsetup/pkg/engine"
)

type requestConfig struct {
	body        []byte
	contentType string
	accept      string
	acceptXML   bool
	headers     map[string]string
	err         error
}

// RequestOption customizes a single request.
type RequestOption func(*requestConfig)

// WithBody sends text as the request body with the given content type.
func WithBody(text, contentType string) RequestOption {
	return func(r *requestConfig) {
		r.body = []byte(text)
		r.contentType = contentType
	}
}

// WithXML sends an XML request body.
func WithXML(text string) RequestOption {
	return WithBody(text, "application/xml")
}

// WithJSON sends v encoded as JSON.
func WithJSON(v interface{}) RequestOption {
	return func(r *requestConfig) {
		data, err := json.Marshal(v)
		if err != nil {
			r.err = err
			return
		}
		r.body = data
		r.contentType = "application/json"
	}
}

// AcceptXML asks for an XML response.
func AcceptXML() RequestOption {
	return func(r *requestConfig) {
		r.accept = "application/xml"
		r.acceptXML = true
	}
}

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(r *requestConfig) {
		r.headers[key] = value
	}
}

func asEngineError(err error) (*engine.EngineError, bool) {
	var e *engine.EngineError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
