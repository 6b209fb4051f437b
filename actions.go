package soar

import (
	"context"
	"maps"
)

// ActionService provides read access to action runs and app runs.
type ActionService interface {
	// Runs returns the action runs matching the query, each enriched with
	// the fields of the app run it triggered.
	Runs(ctx context.Context, query Query) ([]*Action, error)

	// AppRuns returns the raw app runs matching the query.
	AppRuns(ctx context.Context, query Query) ([]map[string]any, error)
}

// actionService implements ActionService.
type actionService struct {
	gw Gateway
}

func newActionService(gw Gateway) *actionService {
	return &actionService{gw: gw}
}

// Runs returns action runs fused with their app runs.
func (s *actionService) Runs(ctx context.Context, query Query) ([]*Action, error) {
	actions, err := Collect(paginate(ctx, s.gw, "action_run", query, func(raw map[string]any) *Action {
		return NewAction(raw)
	}))
	if err != nil {
		return nil, err
	}

	for _, action := range actions {
		appRuns, err := s.AppRuns(ctx, Query{"_filter_action_run": action.ID()})
		if err != nil {
			return nil, err
		}
		// An action can fan out to several assets; the last app run wins.
		for _, appRun := range appRuns {
			action.mergeAppRun(appRun)
		}
	}
	return actions, nil
}

// AppRuns returns the raw app runs matching the query.
func (s *actionService) AppRuns(ctx context.Context, query Query) ([]map[string]any, error) {
	params := maps.Clone(query)
	if params == nil {
		params = Query{}
	}
	params["pretty"] = true
	params["include_expensive"] = true
	return Collect(paginate(ctx, s.gw, "app_run", params, func(raw map[string]any) map[string]any {
		return raw
	}))
}
