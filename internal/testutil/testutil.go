// Package testutil provides shared test helpers for the admin routes.
//
// tsweb only serves /debug/ to loopback and tailnet peers, so requests
// built here always come from localhost.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// LocalAddr is the remote address given to every request.
const LocalAddr = "127.0.0.1:12345"

// NewLocalRequest creates a request that tsweb accepts as local.
func NewLocalRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = LocalAddr
	return req
}

// Serve runs req against h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// Get issues a local GET for target.
func Get(h http.Handler, target string) *httptest.ResponseRecorder {
	return Serve(h, NewLocalRequest(http.MethodGet, target, nil))
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Errorf("status code = %d, want %d (body %q)", w.Code, want, w.Body.String())
	}
}
