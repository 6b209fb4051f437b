package soar

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// AppService provides access to the installed apps, their actions and the
// configured assets.
type AppService interface {
	// Catalog returns the action catalogue, loading it on first use.
	Catalog(ctx context.Context) (*Catalog, error)

	// Reload fetches the action catalogue again.
	Reload(ctx context.Context) (*Catalog, error)

	// Apps returns the installed apps.
	Apps(ctx context.Context) ([]*App, error)

	// App returns the first app whose name contains name, ignoring case.
	App(ctx context.Context, name string) (*App, error)

	// Actions returns the actions the installed apps provide.
	Actions(ctx context.Context) ([]*ActionDefinition, error)

	// Assets returns the assets available to actions.
	Assets(ctx context.Context) ([]*Asset, error)

	// AssetIDs returns the ids of the assets available to actions.
	AssetIDs(ctx context.Context) ([]int64, error)

	// Asset returns the first asset whose name contains name, ignoring case,
	// with its full configuration.
	Asset(ctx context.Context, name string) (*Asset, error)
}

// Catalog is the build_action view of apps, actions and assets used by the
// action builder.
type Catalog struct {
	Apps    []*App
	Actions []*ActionDefinition
	Assets  []*Asset
}

// appService implements AppService.
type appService struct {
	gw Gateway

	mu      sync.Mutex
	catalog *Catalog
}

func newAppService(gw Gateway) *appService {
	return &appService{gw: gw}
}

// Catalog returns the cached action catalogue.
func (s *appService) Catalog(ctx context.Context) (*Catalog, error) {
	s.mu.Lock()
	cached := s.catalog
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return s.Reload(ctx)
}

// Reload fetches the action catalogue.
func (s *appService) Reload(ctx context.Context) (*Catalog, error) {
	var reply struct {
		Apps    []map[string]any `json:"apps"`
		Actions []map[string]any `json:"actions"`
		Assets  []map[string]any `json:"assets"`
	}
	if err := send(ctx, s.gw, http.MethodGet, "build_action", nil, nil, &reply); err != nil {
		return nil, err
	}

	catalog := &Catalog{
		Apps:    make([]*App, 0, len(reply.Apps)),
		Actions: make([]*ActionDefinition, 0, len(reply.Actions)),
		Assets:  make([]*Asset, 0, len(reply.Assets)),
	}
	for _, raw := range reply.Apps {
		catalog.Apps = append(catalog.Apps, &App{Record: newRecord(raw)})
	}
	for _, raw := range reply.Actions {
		catalog.Actions = append(catalog.Actions, &ActionDefinition{Record: newRecord(raw)})
	}
	for _, raw := range reply.Assets {
		catalog.Assets = append(catalog.Assets, &Asset{Record: newRecord(raw)})
	}

	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
	return catalog, nil
}

// Apps returns the installed apps.
func (s *appService) Apps(ctx context.Context) ([]*App, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Apps, nil
}

// App returns the first app whose name contains name.
func (s *appService) App(ctx context.Context, name string) (*App, error) {
	if name == "" {
		return nil, validationError("app name cannot be empty")
	}
	apps, err := s.Apps(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	for _, app := range apps {
		if strings.Contains(strings.ToLower(app.Name()), needle) {
			return app, nil
		}
	}
	return nil, &NotFoundError{
		APIError:     APIError{StatusCode: http.StatusNotFound, Message: "app not found"},
		ResourceType: "app",
		ResourceID:   name,
	}
}

// Actions returns the actions the installed apps provide.
func (s *appService) Actions(ctx context.Context) ([]*ActionDefinition, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Actions, nil
}

// Assets returns the assets available to actions.
func (s *appService) Assets(ctx context.Context) ([]*Asset, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Assets, nil
}

// AssetIDs returns the ids of the assets available to actions.
func (s *appService) AssetIDs(ctx context.Context) ([]int64, error) {
	assets, err := s.Assets(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID())
	}
	return ids, nil
}

// Asset looks the asset up on the asset endpoint, which carries the
// configuration the catalogue leaves out.
func (s *appService) Asset(ctx context.Context, name string) (*Asset, error) {
	if name == "" {
		return nil, validationError("asset name cannot be empty")
	}
	var page listPage
	query := Query{"_filter_name__icontains": name, "page_size": 1}
	if err := send(ctx, s.gw, http.MethodGet, "asset", query, nil, &page); err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, &NotFoundError{
			APIError:     APIError{StatusCode: http.StatusNotFound, Message: "asset not found"},
			ResourceType: "asset",
			ResourceID:   name,
		}
	}
	return &Asset{Record: newRecord(page.Data[0])}, nil
}
