package registry

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"glmgate/internal/apierr"
	"glmgate/internal/config"
	"glmgate/internal/upstream"
)

// Descriptor maps one public model identifier to its upstream
// counterpart.
type Descriptor struct {
	PublicID          string
	UpstreamID        string
	Name              string
	OwnedBy           string
	Created           int64
	SupportsStreaming bool
	SupportsFiles     bool
}

// Source is the upstream discovery call the refresh loop uses.
type Source interface {
	ListModels(ctx context.Context) ([]upstream.DiscoveredModel, error)
}

// snapshot is an immutable published view. Readers load it atomically
// and never block on a refresh in progress.
type snapshot struct {
	ordered []Descriptor
	byID    map[string]Descriptor
}

// Registry serves the model table. Read-mostly: lookups hit the current
// snapshot; a single background writer replaces the snapshot wholesale
// on each successful refresh (copy-on-write).
type Registry struct {
	logger   *zap.Logger
	source   Source
	interval time.Duration
	seeds    []config.ModelSeed // catalog order, public id -> upstream id

	snap     atomic.Pointer[snapshot]
	mu       sync.Mutex // serializes refreshes
	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a registry seeded from the model catalog. source may be
// nil, in which case the seed is never refreshed.
func New(seed []config.ModelSeed, source Source, interval time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		logger:   logger.Named("registry"),
		source:   source,
		interval: interval,
		seeds:    append([]config.ModelSeed(nil), seed...),
		stop:     make(chan struct{}),
	}

	descriptors := make([]Descriptor, 0, len(seed))
	created := time.Now().Unix()
	for _, m := range seed {
		descriptors = append(descriptors, Descriptor{
			PublicID:          m.PublicID,
			UpstreamID:        m.UpstreamID,
			Name:              m.Name,
			OwnedBy:           m.OwnedBy,
			Created:           created,
			SupportsStreaming: m.SupportsStreaming,
			SupportsFiles:     m.SupportsFiles,
		})
	}
	r.publish(descriptors)

	return r
}

// Resolve maps a public model id to its descriptor.
func (r *Registry) Resolve(publicID string) (Descriptor, error) {
	snap := r.snap.Load()
	if d, ok := snap.byID[publicID]; ok {
		return d, nil
	}
	return Descriptor{}, apierr.ModelNotFound(publicID)
}

// List returns the descriptors in catalog order.
func (r *Registry) List() []Descriptor {
	snap := r.snap.Load()
	out := make([]Descriptor, len(snap.ordered))
	copy(out, snap.ordered)
	return out
}

// Start launches the periodic refresh loop. No-op without a source or
// interval.
func (r *Registry) Start(ctx context.Context) {
	if r.source == nil || r.interval <= 0 {
		return
	}
	go r.run(ctx)
}

func (r *Registry) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("model refresh failed, keeping last snapshot", zap.Error(err))
			}
		}
	}
}

// Refresh fetches the upstream catalog and publishes a new snapshot.
// On failure the previous snapshot stays in place.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	discovered, err := r.source.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(discovered) == 0 {
		r.logger.Warn("upstream listed no models, keeping last snapshot")
		return nil
	}

	descriptors := make([]Descriptor, 0, len(discovered))
	for _, m := range discovered {
		descriptors = append(descriptors, r.descriptorsFor(m)...)
	}
	r.publish(descriptors)

	r.logger.Info("model registry refreshed", zap.Int("models", len(descriptors)))
	return nil
}

// Close stops the refresh loop.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) publish(descriptors []Descriptor) {
	byID := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.PublicID] = d
	}
	r.snap.Store(&snapshot{ordered: descriptors, byID: byID})
}

// descriptorsFor converts a discovered upstream model into its public
// descriptors. Every catalog entry mapped to this upstream model keeps
// its public id across refreshes, several variants sharing one base
// model included. Models the catalog does not know get a derived id
// plus variants driven by the provider's capability flags.
func (r *Registry) descriptorsFor(m upstream.DiscoveredModel) []Descriptor {
	name := formatModelName(m.ID, m.Name)

	ownedBy := m.OwnedBy
	if ownedBy == "" {
		ownedBy = "z.ai"
	}

	created := m.Created
	if created == 0 {
		created = time.Now().Unix()
	}

	base := Descriptor{
		PublicID:          strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		UpstreamID:        m.ID,
		Name:              name,
		OwnedBy:           ownedBy,
		Created:           created,
		SupportsStreaming: m.SupportsStreaming,
		SupportsFiles:     m.SupportsFiles,
	}

	var out []Descriptor
	for _, seed := range r.seeds {
		if seed.UpstreamID != m.ID {
			continue
		}
		d := base
		d.PublicID = seed.PublicID
		if seed.Name != "" {
			d.Name = seed.Name
		}
		out = append(out, d)
	}
	if len(out) > 0 {
		return out
	}

	out = append(out, base)
	if m.Capabilities["think"] {
		v := base
		v.PublicID = base.PublicID + "-nothinking"
		v.Name = base.Name + "-NOTHINKING"
		out = append(out, v)
	}
	if m.Capabilities["web_search"] {
		s := base
		s.PublicID = base.PublicID + "-search"
		s.Name = base.Name + "-SEARCH"
		out = append(out, s)

		a := base
		a.PublicID = base.PublicID + "-advanced-search"
		a.Name = base.Name + "-ADVANCED-SEARCH"
		out = append(out, a)
	}
	return out
}

// formatModelName normalizes provider names: prefer a name that already
// carries the series prefix, otherwise derive one from the id
// (glm-4.6 -> GLM-4.6).
func formatModelName(sourceID, name string) string {
	hasSeries := func(s string) bool {
		return (strings.HasPrefix(s, "GLM") || strings.HasPrefix(s, "Z")) && strings.Contains(s, ".")
	}
	if hasSeries(sourceID) {
		return sourceID
	}
	if hasSeries(name) {
		return name
	}
	if name != "" && isLetter(name[0]) {
		return name
	}

	formatted := formatID(sourceID)
	if !strings.HasPrefix(strings.ToUpper(formatted), "GLM") && !strings.HasPrefix(strings.ToUpper(formatted), "Z") {
		formatted = "GLM-" + formatted
	}
	return formatted
}

func formatID(id string) string {
	parts := strings.Split(id, "-")
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		switch {
		case i == 0:
			out = append(out, strings.ToUpper(p))
		case p == "" || isDigitString(p):
			out = append(out, p)
		default:
			out = append(out, strings.ToUpper(p[:1])+p[1:])
		}
	}
	return strings.Join(out, "-")
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigitString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
