/*
PURPOSE:
  Engine handle for talking to an OpenAI-compatible inference server.
  Owns the shared HTTP client (connection pool) and the server-facing collaborators:
  model catalog, metadata resolver and service locator.

REQUIREMENTS:
  User-specified:
  - Detect models.
  - Locate the running server before probing it.

  Implementation-discovered:
  - Probe budgets are enforced per request by internal/probe, so the client itself has no
    Timeout and no ResponseHeaderTimeout. Catalog calls get their own short deadline.
  - LM Studio's native /api/v0/models knows about variants the OpenAI listing hides.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/config, internal/model, internal/probe, internal/output

ERROR HANDLING:
  - Catalog failures are returned wrapped.
  - Metadata is best-effort: failures are logged at debug and reported as "not found".

USAGE:
  e := engine.New(cfg)
  defer e.Close()
  models, err := e.Catalog(baseURL).ListModels(ctx)

RELATED FILES:
  - internal/engine/locator.go
  - internal/engine/runner.go
*/

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/daryltucker/stream-probe/internal/config"
	"github.com/daryltucker/stream-probe/internal/model"
	"github.com/daryltucker/stream-probe/internal/output"
	"github.com/daryltucker/stream-probe/internal/probe"
)

// catalogTimeout bounds every non-probe request (catalog, metadata, locator checks).
const catalogTimeout = 10 * time.Second

// Engine is the caller-owned handle shared by every command.
type Engine struct {
	Config *config.Config
	Client *http.Client
}

// New creates a new Engine.
func New(cfg *config.Config) *Engine {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Streams are long-lived; keep a small pool per host.
	transport.MaxIdleConnsPerHost = 4

	return &Engine{
		Config: cfg,
		Client: &http.Client{Transport: transport},
	}
}

// Close releases idle connections. The Engine must not be used afterwards.
func (e *Engine) Close() {
	e.Client.CloseIdleConnections()
}

// Catalog returns the model catalog of the server at baseURL.
func (e *Engine) Catalog(baseURL string) Catalog {
	return &HTTPCatalog{Client: e.Client, BaseURL: baseURL}
}

// Metadata returns the metadata resolver for the server at baseURL.
func (e *Engine) Metadata(baseURL string) MetadataResolver {
	return &RESTMetadata{Client: e.Client, BaseURL: baseURL}
}

// Catalog lists the models a server offers.
type Catalog interface {
	ListModels(ctx context.Context) ([]model.ModelInfo, error)
}

// HTTPCatalog reads GET {base}/v1/models.
type HTTPCatalog struct {
	Client  *http.Client
	BaseURL string
}

// ListModels returns the catalog in server order.
func (c *HTTPCatalog) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	var payload struct {
		Data []model.ModelInfo `json:"data"`
	}
	url := probe.APIBase(c.BaseURL) + "/models"
	if err := getJSON(ctx, c.Client, url, &payload); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	models := make([]model.ModelInfo, 0, len(payload.Data))
	for _, m := range payload.Data {
		if m.ID != "" {
			models = append(models, m)
		}
	}
	return models, nil
}

// MetadataResolver enriches a model id with server-specific metadata.
type MetadataResolver interface {
	ResolveModelMetadata(ctx context.Context, id string) (model.ModelMetadata, bool)
}

// RESTMetadata reads LM Studio's native GET {root}/api/v0/models listing.
type RESTMetadata struct {
	Client  *http.Client
	BaseURL string
}

type restModel struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	State string `json:"state"`
}

// ResolveModelMetadata groups the variants of id (entries equal to id or prefixed "id@" / "id:")
// and picks the loaded one, else the exact one, else the first.
func (m *RESTMetadata) ResolveModelMetadata(ctx context.Context, id string) (model.ModelMetadata, bool) {
	var payload struct {
		Data []restModel `json:"data"`
	}
	url := rootURL(m.BaseURL) + "/api/v0/models"
	if err := getJSON(ctx, m.Client, url, &payload); err != nil {
		output.Logger.Debug("Metadata unavailable", "url", url, "error", err)
		return model.ModelMetadata{}, false
	}

	var variants []restModel
	for _, rm := range payload.Data {
		if rm.ID == id || strings.HasPrefix(rm.ID, id+"@") || strings.HasPrefix(rm.ID, id+":") {
			variants = append(variants, rm)
		}
	}
	if len(variants) == 0 {
		return model.ModelMetadata{}, false
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variantRank(variants[i], id) < variantRank(variants[j], id)
	})
	return model.ModelMetadata{
		Alias:        id,
		ResolvedID:   variants[0].ID,
		VariantCount: len(variants),
	}, true
}

func variantRank(rm restModel, id string) int {
	switch {
	case rm.State == "loaded":
		return 0
	case rm.ID == id:
		return 1
	default:
		return 2
	}
}

// rootURL strips a trailing /v1 so native endpoints can be addressed.
func rootURL(baseURL string) string {
	return strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
}

// getJSON GETs url and decodes a 200 response into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bad status: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
