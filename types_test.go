package computor

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestResponseJSON(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		Body:       []byte(`{"id": 7, "title": "Algorithms"}`),
	}

	var course struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	if err := resp.JSON(&course); err != nil {
		t.Fatalf("JSON() returned error: %v", err)
	}
	if course.ID != 7 || course.Title != "Algorithms" {
		t.Errorf("Unexpected decode result: %+v", course)
	}
}

func TestResponseValue(t *testing.T) {
	jsonHeader := http.Header{}
	jsonHeader.Set("Content-Type", "application/json; charset=utf-8")

	resp := &Response{Header: jsonHeader, Body: []byte(`{"ok": true}`)}
	v, err := resp.Value()
	if err != nil {
		t.Fatalf("Value() returned error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["ok"] != true {
		t.Errorf("Expected decoded JSON object, got %#v", v)
	}

	textHeader := http.Header{}
	textHeader.Set("Content-Type", "text/plain")
	resp = &Response{Header: textHeader, Body: []byte("hello")}
	v, err = resp.Value()
	if err != nil {
		t.Fatalf("Value() returned error: %v", err)
	}
	if v != "hello" {
		t.Errorf("Expected raw string for text body, got %#v", v)
	}
}

func TestResponseValueEmptyJSONBody(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")

	resp := &Response{Header: header, Body: nil}
	v, err := resp.Value()
	if err != nil {
		t.Fatalf("Value() returned error: %v", err)
	}
	if v != nil {
		t.Errorf("Expected nil for empty JSON body, got %#v", v)
	}
}

func TestResponseIsJSON(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"application/problem+json", true},
		{"text/html", false},
		{"", false},
	}

	for _, tt := range tests {
		header := http.Header{}
		if tt.contentType != "" {
			header.Set("Content-Type", tt.contentType)
		}
		resp := &Response{Header: header}
		if got := resp.IsJSON(); got != tt.want {
			t.Errorf("IsJSON() with %q = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestResponseIsSuccess(t *testing.T) {
	for _, code := range []int{200, 201, 204, 299} {
		if !(&Response{StatusCode: code}).IsSuccess() {
			t.Errorf("Expected %d to be success", code)
		}
	}
	for _, code := range []int{199, 300, 301, 404, 500} {
		if (&Response{StatusCode: code}).IsSuccess() {
			t.Errorf("Expected %d to not be success", code)
		}
	}
}

func TestCacheControlContext(t *testing.T) {
	ctx := context.Background()

	if _, ok := cacheControlFrom(ctx); ok {
		t.Error("Expected no cache control on fresh context")
	}

	cc, ok := cacheControlFrom(WithContextCacheEnabled(ctx))
	if !ok || !cc.Enabled {
		t.Error("Expected enabled cache control")
	}

	cc, ok = cacheControlFrom(WithContextCacheDisabled(ctx))
	if !ok || cc.Enabled {
		t.Error("Expected disabled cache control")
	}

	cc, ok = cacheControlFrom(WithContextCacheTTL(ctx, 42*time.Second))
	if !ok || !cc.Enabled || cc.TTL != 42*time.Second {
		t.Errorf("Expected enabled cache control with TTL, got %+v", cc)
	}
}
