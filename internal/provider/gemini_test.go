package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGeminiCompatibleGeneratePageSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"parts": []map[string]interface{}{
							{"text": `{"kind":"full_page_html","html":"<html><body>gemini</body></html>"}`},
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewGeminiCompatible(Config{Name: "gemini", APIKey: "k", BaseURL: srv.URL, Model: "gemini-2"}, nil)
	doc, err := c.GeneratePage(context.Background(), "brief", 1, "category")
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil || doc.HTML != "<html><body>gemini</body></html>" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}
