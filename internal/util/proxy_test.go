package util

import (
	"net/http"
	"net/url"
	"testing"
)

func TestProxyFunc_Routes(t *testing.T) {
	fn := ProxyFunc("http://proxy:3128", "http://secure-proxy:3128", "localhost,.internal.example")

	tests := []struct {
		target string
		want   string
	}{
		{"http://api.crossref.org/works", "http://proxy:3128"},
		{"https://api.openalex.org/works", "http://secure-proxy:3128"},
		{"http://localhost:11434/api/generate", ""},
		{"https://llm.internal.example/v1", ""},
	}

	for _, tt := range tests {
		u, _ := url.Parse(tt.target)
		got, err := fn(&http.Request{URL: u})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.target, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("%s: proxy = %q, want %q", tt.target, gotStr, tt.want)
		}
	}
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(0, "", "", "")
	if c.Transport == nil {
		t.Fatal("expected transport to be set")
	}
}
