package httpsession

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
)

func TestRedirectPolicy_MaxHops(t *testing.T) {
	t.Run("allows redirects within limit", func(t *testing.T) {
		policy := redirectPolicy(5)
		via := make([]*http.Request, 4)
		for i := range via {
			via[i] = &http.Request{URL: &url.URL{Scheme: "http", Host: "example.com", Path: fmt.Sprintf("/%d", i)}}
		}
		req := &http.Request{URL: &url.URL{Scheme: "http", Host: "example.com", Path: "/final"}, Header: make(http.Header)}
		if err := policy(req, via); err != nil {
			t.Errorf("expected no error for 4 hops, got: %v", err)
		}
	})

	t.Run("rejects redirects exceeding limit", func(t *testing.T) {
		policy := redirectPolicy(5)
		via := make([]*http.Request, 5)
		for i := range via {
			via[i] = &http.Request{URL: &url.URL{Scheme: "http", Host: "example.com", Path: fmt.Sprintf("/%d", i)}}
		}
		req := &http.Request{URL: &url.URL{Scheme: "http", Host: "example.com", Path: "/overflow"}, Header: make(http.Header)}
		err := policy(req, via)
		if !errors.Is(err, ErrTooManyRedirects) {
			t.Fatalf("expected ErrTooManyRedirects, got: %v", err)
		}
	})
}

func TestRedirectPolicy_StripsHeadersCrossOrigin(t *testing.T) {
	policy := redirectPolicy(5)
	via := []*http.Request{
		{URL: &url.URL{Scheme: "https", Host: "origin.example.org"}},
	}
	req := &http.Request{
		URL: &url.URL{Scheme: "https", Host: "other.example.org"},
		Header: http.Header{
			"Authorization": {"Bearer secret"},
			"X-Custom":      {"value"},
			"User-Agent":    {"esgfetch/1.0"},
		},
	}
	if err := policy(req, via); err != nil {
		t.Fatalf("policy() error = %v", err)
	}
	if req.Header.Get("Authorization") != "" || req.Header.Get("X-Custom") != "" {
		t.Fatalf("expected unsafe headers stripped, got: %v", req.Header)
	}
	if req.Header.Get("User-Agent") == "" {
		t.Fatalf("expected User-Agent preserved, got: %v", req.Header)
	}
}

func TestRedirectPolicy_SameOriginKeepsHeaders(t *testing.T) {
	policy := redirectPolicy(5)
	via := []*http.Request{
		{URL: &url.URL{Scheme: "https", Host: "origin.example.org"}},
	}
	req := &http.Request{
		URL:    &url.URL{Scheme: "https", Host: "origin.example.org", Path: "/next"},
		Header: http.Header{"X-Custom": {"value"}},
	}
	if err := policy(req, via); err != nil {
		t.Fatalf("policy() error = %v", err)
	}
	if req.Header.Get("X-Custom") != "value" {
		t.Fatalf("expected same-origin headers preserved, got: %v", req.Header)
	}
}
