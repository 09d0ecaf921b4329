// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authn

import (
	"encoding/json"
	"net/http"
	"strings"
)

// maxAuthBodyBytes bounds the JSON body of authentication requests.
const maxAuthBodyBytes = 16 * 1024

// Request wraps the HTTP request for an authentication endpoint.
//
// The body can be consumed only once, but both the authorize manager and the
// vendor handler need to read parameters from it. The wrapper parses the
// JSON body lazily on first use and serves every later lookup from the
// parsed form.
type Request struct {
	HTTP *http.Request

	bodyParsed bool
	body       map[string]any
}

// Wrap creates a Request around the raw HTTP request.
func Wrap(request *http.Request) *Request {
	return &Request{HTTP: request}
}

// Param returns the named string parameter, checking the query string first
// and the JSON body second.
func (request *Request) Param(name string) (string, bool) {
	if query := request.HTTP.URL.Query(); query.Has(name) {
		return query.Get(name), true
	}

	value, found := request.bodyValue(name)
	if !found {
		return "", false
	}
	text, ok := value.(string)
	return text, ok
}

// BoolParam returns the named parameter interpreted as a boolean. Query
// values of "true" and "1" count as true; JSON booleans pass through.
func (request *Request) BoolParam(name string) bool {
	if query := request.HTTP.URL.Query(); query.Has(name) {
		raw := query.Get(name)
		return raw == "true" || raw == "1"
	}

	value, found := request.bodyValue(name)
	if !found {
		return false
	}
	flag, ok := value.(bool)
	return ok && flag
}

func (request *Request) bodyValue(name string) (any, bool) {
	request.parseBody()
	if request.body == nil {
		return nil, false
	}
	value, found := request.body[name]
	return value, found
}

func (request *Request) parseBody() {
	if request.bodyParsed {
		return
	}
	request.bodyParsed = true

	if request.HTTP.Method != http.MethodPost || request.HTTP.Body == nil {
		return
	}
	contentType := request.HTTP.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return
	}

	parsed := make(map[string]any)
	decoder := json.NewDecoder(http.MaxBytesReader(nil, request.HTTP.Body, maxAuthBodyBytes))
	if decoder.Decode(&parsed) == nil {
		request.body = parsed
	}
}

// BasicCredentials extracts the username and password from an Authorization
// header with the Basic scheme.
func (request *Request) BasicCredentials() (username, password string, found bool) {
	return request.HTTP.BasicAuth()
}
