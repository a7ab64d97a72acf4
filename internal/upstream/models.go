package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"glmgate/internal/apierr"
)

// DiscoveredModel is one entry of the provider's model listing, reduced
// to the fields the registry cares about. Capabilities carries the raw
// provider capability flags so the registry can derive model variants.
type DiscoveredModel struct {
	ID                string
	Name              string
	OwnedBy           string
	Created           int64
	SupportsStreaming bool
	SupportsFiles     bool
	Capabilities      map[string]bool
}

// ListModels fetches the provider's model catalog. Used by the registry
// refresh loop; a single attempt, since the registry keeps serving its
// last snapshot on failure.
func (c *Client) ListModels(ctx context.Context) ([]DiscoveredModel, error) {
	endpoint := c.cfg.BaseURL + "/api/models"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("build models request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("model discovery failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), 200)),
		)
		return nil, apierr.FromStatus(resp.StatusCode, fmt.Sprintf("model discovery returned status %d", resp.StatusCode))
	}

	var listing upstreamModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, apierr.BadResponse("malformed model listing", err)
	}

	models := make([]DiscoveredModel, 0, len(listing.Data))
	for _, m := range listing.Data {
		if m.Info.IsActive != nil && !*m.Info.IsActive {
			continue
		}
		if m.Info.Meta.Hidden {
			continue
		}
		models = append(models, DiscoveredModel{
			ID:                m.ID,
			Name:              m.Name,
			OwnedBy:           m.OwnedBy,
			Created:           m.Info.CreatedAt,
			SupportsStreaming: true,
			SupportsFiles:     m.Info.Meta.Capabilities["file_qa"] || m.Info.Meta.Capabilities["vision"],
			Capabilities:      m.Info.Meta.Capabilities,
		})
	}

	c.logger.Info("model discovery completed", zap.Int("count", len(models)))
	return models, nil
}
