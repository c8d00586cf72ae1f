package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer   abc.def  ", "abc.def", true},
		{"", "", false},
		{"Basic dXNlcjpwdw==", "", false},
		{"Bearer ", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.ok != (err == nil) || got != tc.want {
			t.Fatalf("header %q: got %q, err %v", tc.header, got, err)
		}
	}
}

func TestIsPublic(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPost, "/token", true},
		{http.MethodGet, "/healthz", true},
		{http.MethodGet, "/status", true},
		{http.MethodPatch, "/status", false},
		{http.MethodGet, "/user", false},
		{http.MethodGet, "/proposals/2021-1-SCI-017", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := isPublic(req); got != tc.want {
			t.Fatalf("%s %s: expected %v, got %v", tc.method, tc.path, tc.want, got)
		}
	}
}

func TestCurrentUserRequiresAuthentication(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	if _, err := currentUser(req); err == nil {
		t.Fatal("expected error without an authenticated user")
	}
}
