package provider

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestServer serves handler on an IPv4 loopback listener and skips the
// test when no listener can be opened.
func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}

	srv := &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
