package soar

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"net/http"
	"strconv"
)

// PlaybookService provides operations on playbook definitions and runs.
type PlaybookService interface {
	// List returns an iterator over playbook definitions matching the query.
	// The returned playbooks carry the definition id under "playbook".
	List(ctx context.Context, query Query) iter.Seq2[*Playbook, error]

	// Get retrieves a playbook definition by id.
	Get(ctx context.Context, id int64) (*Playbook, error)

	// IDFromName resolves a playbook definition id from its name. The
	// repository prefix of "repo/name" is ignored.
	IDFromName(ctx context.Context, name string) (int64, error)

	// SetActive toggles whether the playbook runs automatically on its label.
	SetActive(ctx context.Context, playbookID int64, active bool) error

	// Runs returns the playbook runs matching the query, each with its
	// actions and log.
	Runs(ctx context.Context, query Query) ([]*Playbook, error)

	// Logs returns the log entries of a playbook run in time order.
	Logs(ctx context.Context, runID int64) ([]map[string]any, error)

	// Run launches a single playbook on the container and waits for it.
	Run(ctx context.Context, c *Container, p *Playbook, opts ...RunOption) (*RunResult, error)

	// Notes returns the notes written on the playbook in the visual editor.
	Notes(ctx context.Context, p *Playbook) (string, error)

	// Containers returns up to count containers the playbook most recently
	// ran against, refreshed, with the newest first. successful selects
	// successful runs or failed ones.
	Containers(ctx context.Context, p *Playbook, count int, successful bool) ([]*Container, error)
}

// playbookService implements PlaybookService.
type playbookService struct {
	gw         Gateway
	actions    *actionService
	containers *containerService
	engine     *engine
}

func newPlaybookService(gw Gateway, actions *actionService) *playbookService {
	return &playbookService{gw: gw, actions: actions}
}

// definition converts a playbook definition payload into a Playbook whose
// "id" is free for a future run id.
func definition(raw map[string]any) *Playbook {
	fields := maps.Clone(raw)
	fields["playbook"] = raw["id"]
	delete(fields, "id")
	return NewPlaybook(fields)
}

// List returns an iterator over playbook definitions matching the query.
func (s *playbookService) List(ctx context.Context, query Query) iter.Seq2[*Playbook, error] {
	return paginate(ctx, s.gw, "playbook", query, definition)
}

// Get retrieves a playbook definition by id.
func (s *playbookService) Get(ctx context.Context, id int64) (*Playbook, error) {
	if id == 0 {
		return nil, validationError("playbook id cannot be zero")
	}
	raw, err := getRecord(ctx, s.gw, idPath("playbook", id), nil)
	if err != nil {
		return nil, notFound(err, "playbook", id)
	}
	return definition(raw), nil
}

// IDFromName resolves a playbook definition id from its name.
func (s *playbookService) IDFromName(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, validationError("playbook name cannot be empty")
	}
	matches, err := CollectN(s.List(ctx, Query{"_filter_name__exact": shortName(name)}), 2)
	if err != nil {
		return 0, err
	}
	switch len(matches) {
	case 0:
		return 0, &NotFoundError{
			APIError:     APIError{StatusCode: http.StatusNotFound, Message: "playbook not found"},
			ResourceType: "playbook",
			ResourceID:   name,
		}
	case 1:
		return matches[0].PlaybookID(), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrAmbiguousPlaybook, name)
	}
}

// SetActive toggles whether the playbook runs automatically on its label.
func (s *playbookService) SetActive(ctx context.Context, playbookID int64, active bool) error {
	if playbookID == 0 {
		return &ReferenceError{Op: "set playbook active", Resource: "playbook"}
	}
	err := send(ctx, s.gw, http.MethodPost, idPath("playbook", playbookID), nil, map[string]any{"active": active}, nil)
	return notFound(err, "playbook", playbookID)
}

// Runs returns the playbook runs matching the query with actions and logs.
func (s *playbookService) Runs(ctx context.Context, query Query) ([]*Playbook, error) {
	params := maps.Clone(query)
	if params == nil {
		params = Query{}
	}
	params["include_expensive"] = true
	params["pretty"] = true

	runs, err := Collect(paginate(ctx, s.gw, "playbook_run", params, func(raw map[string]any) *Playbook {
		return NewPlaybook(raw)
	}))
	if err != nil {
		return nil, err
	}

	for _, run := range runs {
		if run.Name() == "" && run.PlaybookID() != 0 {
			def, err := s.Get(ctx, run.PlaybookID())
			if err != nil {
				return nil, fmt.Errorf("resolving name of playbook %d: %w", run.PlaybookID(), err)
			}
			run.Set("name", def.Name())
		}
		if run.Actions, err = s.actions.Runs(ctx, Query{"_filter_playbook_run": run.RunID()}); err != nil {
			return nil, err
		}
		if run.Logs, err = s.Logs(ctx, run.RunID()); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Logs returns the log entries of a playbook run.
func (s *playbookService) Logs(ctx context.Context, runID int64) ([]map[string]any, error) {
	if runID == 0 {
		return nil, nil
	}
	var page listPage
	// page_size=0 asks SOAR for every entry in one page.
	query := Query{"page_size": 0, "sort": "time"}
	if err := send(ctx, s.gw, http.MethodGet, idPath("playbook_run", runID, "log"), query, nil, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// Run launches a single playbook on the container and waits for it.
func (s *playbookService) Run(ctx context.Context, c *Container, p *Playbook, opts ...RunOption) (*RunResult, error) {
	if p == nil {
		return nil, validationError("playbook cannot be nil")
	}
	return s.engine.run(ctx, c, p, newRunConfig(opts...))
}

// Notes returns the playbook's editor notes from its coa_data.
func (s *playbookService) Notes(ctx context.Context, p *Playbook) (string, error) {
	if p == nil || (p.PlaybookID() == 0 && p.Name() == "") {
		return "", &ReferenceError{Op: "get playbook notes", Resource: "playbook"}
	}
	query := Query{"include_expensive": true, "page_size": 1}
	if name := p.Name(); name != "" {
		query["_filter_name__exact"] = shortName(name)
	}
	if id := p.PlaybookID(); id != 0 {
		query["_filter_id__exact"] = id
	}

	var page listPage
	if err := send(ctx, s.gw, http.MethodGet, "playbook", query, nil, &page); err != nil {
		return "", err
	}
	if len(page.Data) == 0 {
		return "", &NotFoundError{
			APIError:     APIError{StatusCode: http.StatusNotFound, Message: "playbook not found"},
			ResourceType: "playbook",
			ResourceID:   playbookRef(p),
		}
	}
	coa, _ := page.Data[0]["coa_data"].(map[string]any)
	notes, _ := coa["notes"].(string)
	return notes, nil
}

// Containers returns the containers of the playbook's most recent runs.
func (s *playbookService) Containers(ctx context.Context, p *Playbook, count int, successful bool) ([]*Container, error) {
	if p == nil || (p.PlaybookID() == 0 && p.Name() == "") {
		return nil, &ReferenceError{Op: "find containers from playbook", Resource: "playbook"}
	}
	if count <= 0 {
		return nil, validationError("container count must be positive, got %d", count)
	}
	id := p.PlaybookID()
	if id == 0 {
		var err error
		if id, err = s.IDFromName(ctx, p.Name()); err != nil {
			return nil, err
		}
		p.Set("playbook", id)
	}

	status := RunSuccess
	if !successful {
		status = RunFailed
	}
	query := Query{
		"sort":                    "start_time",
		"order":                   "desc",
		"_filter_playbook__exact": id,
		"_filter_status__exact":   string(status),
		"page_size":               count,
		"pretty":                  true,
	}
	runs, err := CollectN(paginate(ctx, s.gw, "playbook_run", query, func(raw map[string]any) *Playbook {
		return NewPlaybook(raw)
	}), count)
	if err != nil {
		return nil, err
	}

	containers := make([]*Container, 0, len(runs))
	seen := make(map[int64]bool, len(runs))
	for _, run := range runs {
		cid := run.ContainerID()
		if cid == 0 || seen[cid] {
			continue
		}
		seen[cid] = true
		c := NewContainer(Fields{"id": cid})
		if err := s.containers.Refresh(ctx, c); err != nil {
			return containers, fmt.Errorf("loading container %d: %w", cid, err)
		}
		containers = append(containers, c)
	}
	return containers, nil
}

func playbookRef(p *Playbook) string {
	if p.Name() != "" {
		return p.Name()
	}
	return strconv.FormatInt(p.PlaybookID(), 10)
}
