package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestListModelsFiltersInactive(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing upstream credentials")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data": [
				{"id":"GLM-4-6-API-V1","name":"GLM-4.6","owned_by":"z.ai",
				 "info":{"id":"GLM-4-6-API-V1","created_at":1700000000,"is_active":true,
				         "meta":{"capabilities":{"file_qa":true},"hidden":false}}},
				{"id":"old-model","name":"Old","owned_by":"z.ai",
				 "info":{"id":"old-model","is_active":false,"meta":{}}},
				{"id":"secret-model","name":"Secret","owned_by":"z.ai",
				 "info":{"id":"secret-model","is_active":true,"meta":{"hidden":true}}}
			]
		}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	if len(models) != 1 {
		t.Fatalf("expected inactive and hidden models filtered, got %d", len(models))
	}
	m := models[0]
	if m.ID != "GLM-4-6-API-V1" || m.Name != "GLM-4.6" {
		t.Fatalf("unexpected model: %#v", m)
	}
	if !m.SupportsFiles {
		t.Fatalf("file_qa capability should enable file support")
	}
	if m.Created != 1700000000 {
		t.Fatalf("created_at lost: %d", m.Created)
	}
	if !m.Capabilities["file_qa"] {
		t.Fatalf("capability flags not carried: %#v", m.Capabilities)
	}
}

func TestListModelsUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if _, err := client.ListModels(context.Background()); err == nil {
		t.Fatalf("expected error on 500")
	}
}
