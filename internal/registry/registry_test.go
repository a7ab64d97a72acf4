package registry

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"glmgate/internal/apierr"
	"glmgate/internal/config"
	"glmgate/internal/upstream"
)

type fakeSource struct {
	models []upstream.DiscoveredModel
	err    error
	calls  int
}

func (f *fakeSource) ListModels(ctx context.Context) ([]upstream.DiscoveredModel, error) {
	f.calls++
	return f.models, f.err
}

func seedCatalog() []config.ModelSeed {
	return []config.ModelSeed{
		{PublicID: "glm-4.6", UpstreamID: "GLM-4-6-API-V1", Name: "GLM-4.6", OwnedBy: "z.ai", SupportsStreaming: true, SupportsFiles: true},
		{PublicID: "glm-4.5", UpstreamID: "0727-360B-API", Name: "GLM-4.5", OwnedBy: "z.ai", SupportsStreaming: true},
	}
}

func TestResolveFromSeed(t *testing.T) {
	t.Parallel()

	r := New(seedCatalog(), nil, 0, zaptest.NewLogger(t))
	defer r.Close()

	d, err := r.Resolve("glm-4.6")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.UpstreamID != "GLM-4-6-API-V1" {
		t.Fatalf("unexpected upstream id: %s", d.UpstreamID)
	}
	if !d.SupportsStreaming {
		t.Fatalf("streaming capability lost")
	}
}

func TestResolveUnknownModel(t *testing.T) {
	t.Parallel()

	r := New(seedCatalog(), nil, 0, zaptest.NewLogger(t))
	defer r.Close()

	_, err := r.Resolve("gpt-4")
	var aerr *apierr.Error
	if !errors.As(err, &aerr) || aerr.Type != apierr.TypeModelNotFound {
		t.Fatalf("expected model not found error, got %v", err)
	}
}

func TestListPreservesCatalogOrder(t *testing.T) {
	t.Parallel()

	r := New(seedCatalog(), nil, 0, zaptest.NewLogger(t))
	defer r.Close()

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 models, got %d", len(list))
	}
	if list[0].PublicID != "glm-4.6" || list[1].PublicID != "glm-4.5" {
		t.Fatalf("catalog order not preserved: %v, %v", list[0].PublicID, list[1].PublicID)
	}
}

func TestRefreshPrefersConfiguredIDs(t *testing.T) {
	t.Parallel()

	source := &fakeSource{models: []upstream.DiscoveredModel{
		{ID: "GLM-4-6-API-V1", Name: "GLM-4.6", OwnedBy: "z.ai", SupportsStreaming: true},
		{ID: "glm-4.7", SupportsStreaming: true},
	}}

	r := New(seedCatalog(), source, 0, zaptest.NewLogger(t))
	defer r.Close()

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// A discovered model the catalog maps keeps its public id.
	d, err := r.Resolve("glm-4.6")
	if err != nil {
		t.Fatalf("configured public id lost after refresh: %v", err)
	}
	if d.UpstreamID != "GLM-4-6-API-V1" {
		t.Fatalf("unexpected upstream id: %s", d.UpstreamID)
	}

	// A new model gets a derived public id and a formatted name.
	d, err = r.Resolve("glm-4.7")
	if err != nil {
		t.Fatalf("new model not published: %v", err)
	}
	if d.Name != "GLM-4.7" {
		t.Fatalf("name not formatted: %q", d.Name)
	}
	if d.OwnedBy != "z.ai" {
		t.Fatalf("owner default not applied: %q", d.OwnedBy)
	}

	// The seed-only model is gone after a successful refresh.
	if _, err := r.Resolve("glm-4.5"); err == nil {
		t.Fatalf("expected stale seed model to be replaced")
	}
}

func TestRefreshKeepsCatalogVariants(t *testing.T) {
	t.Parallel()

	// All three stock upstream models, including the one that backs
	// four public variants.
	source := &fakeSource{models: []upstream.DiscoveredModel{
		{ID: "GLM-4-6-API-V1", Name: "GLM-4.6", OwnedBy: "z.ai", SupportsStreaming: true},
		{ID: "0727-360B-API", Name: "GLM-4.5", OwnedBy: "z.ai", SupportsStreaming: true},
		{ID: "glm-4.5v", Name: "GLM-4.5V", OwnedBy: "z.ai", SupportsStreaming: true},
	}}

	catalog := config.DefaultCatalog()
	r := New(catalog.Models, source, 0, zaptest.NewLogger(t))
	defer r.Close()

	// Several refreshes: the published set must not depend on
	// iteration order or on how many rounds have run.
	for i := 0; i < 3; i++ {
		if err := r.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh %d: %v", i, err)
		}

		for _, seed := range catalog.Models {
			d, err := r.Resolve(seed.PublicID)
			if err != nil {
				t.Fatalf("refresh %d dropped %q: %v", i, seed.PublicID, err)
			}
			if d.UpstreamID != seed.UpstreamID {
				t.Fatalf("refresh %d remapped %q to %q", i, seed.PublicID, d.UpstreamID)
			}
		}
		if got := len(r.List()); got != len(catalog.Models) {
			t.Fatalf("refresh %d published %d models, want %d", i, got, len(catalog.Models))
		}
	}
}

func TestRefreshGeneratesCapabilityVariants(t *testing.T) {
	t.Parallel()

	source := &fakeSource{models: []upstream.DiscoveredModel{
		{ID: "GLM-5", SupportsStreaming: true, Capabilities: map[string]bool{
			"think":      true,
			"web_search": true,
		}},
	}}

	r := New(nil, source, 0, zaptest.NewLogger(t))
	defer r.Close()

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	for _, want := range []struct {
		id, name string
	}{
		{"glm-5", "GLM-5"},
		{"glm-5-nothinking", "GLM-5-NOTHINKING"},
		{"glm-5-search", "GLM-5-SEARCH"},
		{"glm-5-advanced-search", "GLM-5-ADVANCED-SEARCH"},
	} {
		d, err := r.Resolve(want.id)
		if err != nil {
			t.Fatalf("variant %q not generated: %v", want.id, err)
		}
		if d.Name != want.name {
			t.Fatalf("variant %q name = %q, want %q", want.id, d.Name, want.name)
		}
		if d.UpstreamID != "GLM-5" {
			t.Fatalf("variant %q must resolve to the base upstream model, got %q", want.id, d.UpstreamID)
		}
	}

	// A model without the capabilities gets no variants.
	source.models = []upstream.DiscoveredModel{{ID: "GLM-5", SupportsStreaming: true}}
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(r.List()); got != 1 {
		t.Fatalf("expected 1 model without capabilities, got %d", got)
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	source := &fakeSource{err: errors.New("upstream down")}
	r := New(seedCatalog(), source, 0, zaptest.NewLogger(t))
	defer r.Close()

	if err := r.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if _, err := r.Resolve("glm-4.6"); err != nil {
		t.Fatalf("seed snapshot lost on refresh failure: %v", err)
	}
}

func TestRefreshEmptyListingKeepsSnapshot(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	r := New(seedCatalog(), source, 0, zaptest.NewLogger(t))
	defer r.Close()

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("empty listing should not be an error: %v", err)
	}
	if got := len(r.List()); got != 2 {
		t.Fatalf("snapshot replaced by empty listing, %d models left", got)
	}
}

func TestFormatModelName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id, name, want string
	}{
		{"GLM-4.6", "", "GLM-4.6"},
		{"glm-4.5v", "", "GLM-4.5v"},
		{"0727-360B-API", "GLM-4.5", "GLM-4.5"},
		{"some-model", "Friendly Name", "Friendly Name"},
		{"4.5-flash", "", "GLM-4.5-Flash"},
	}
	for _, tc := range cases {
		if got := formatModelName(tc.id, tc.name); got != tc.want {
			t.Errorf("formatModelName(%q, %q) = %q, want %q", tc.id, tc.name, got, tc.want)
		}
	}
}
