// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/stretchr/testify/require"
)

var (
	openapiOnce sync.Once
	openapiDoc  *openapi3.T
	openapiErr  error
)

func loadOpenAPIDoc(t *testing.T) *openapi3.T {
	t.Helper()
	openapiOnce.Do(func() {
		doc, err := openapi3.NewLoader().LoadFromData(OpenAPIDocument())
		if err != nil {
			openapiErr = err
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			openapiErr = err
			return
		}
		openapiDoc = doc
	})
	if openapiErr != nil {
		t.Fatalf("openapi load failed: %v", openapiErr)
	}
	return openapiDoc
}

// exchange runs req through the server and validates both sides against the document.
func exchange(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	doc := loadOpenAPIDoc(t)
	router, err := legacy.NewRouter(doc)
	require.NoError(t, err, "openapi router init")

	newReq := func() *http.Request {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		return req
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newReq())

	req := newReq()
	route, pathParams, err := router.FindRoute(req)
	require.NoError(t, err, "openapi route lookup")

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: rr.Code,
		Header: rr.Header(),
	}
	input.SetBodyBytes(rr.Body.Bytes())
	require.NoError(t, openapi3filter.ValidateResponse(context.Background(), input), "openapi response validation for %s %s", method, path)
	return rr
}

func TestOpenAPIContract(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	exchange(t, h, http.MethodGet, "/ping", "")
	exchange(t, h, http.MethodGet, "/healthz", "")
	exchange(t, h, http.MethodGet, "/readyz", "")
	exchange(t, h, http.MethodGet, "/sessions", "")
	exchange(t, h, http.MethodGet, "/sessions/all", "")

	rr := exchange(t, h, http.MethodPost, "/sessions", `{"host":"10.0.0.5","port":5000,"options":["a","b"]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	id := strings.Trim(strings.TrimSpace(rr.Body.String()), `"`)

	exchange(t, h, http.MethodGet, "/sessions", "")
	exchange(t, h, http.MethodGet, "/sessions/"+id, "")
	exchange(t, h, http.MethodPatch, "/sessions/"+id, `{"status":"voting"}`)
	exchange(t, h, http.MethodGet, "/sessions/ZZZZZZ", "")
	exchange(t, h, http.MethodGet, "/sessions/bad", "")
	exchange(t, h, http.MethodPost, "/sessions", `{"host":"10.0.0.5"}`)
	exchange(t, h, http.MethodDelete, "/sessions/"+id, "")
}
