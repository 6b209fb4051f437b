package soar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
)

// ContainerService provides operations on SOAR containers.
type ContainerService interface {
	// Get retrieves a single container by id.
	Get(ctx context.Context, id int64) (*Container, error)

	// List returns an iterator over containers matching the query.
	// The iterator fetches pages lazily as you iterate.
	List(ctx context.Context, query Query) iter.Seq2[*Container, error]

	// Create creates the container with its artifacts and stores the
	// server id on the same object.
	Create(ctx context.Context, c *Container) (*Container, error)

	// Update pushes the container's local fields to the server.
	Update(ctx context.Context, c *Container) error

	// Delete removes containers and clears their ids.
	Delete(ctx context.Context, containers ...*Container) error

	// Refresh merges the server state of the container and its artifacts,
	// playbook runs, actions, notes, comments and pins into c.
	// It issues one request per nested resource and per playbook run, so
	// avoid calling it in tight loops.
	Refresh(ctx context.Context, c *Container) error

	// Comments loads the container's comments into c.Comments.
	Comments(ctx context.Context, c *Container) ([]string, error)

	// AddComment posts a comment on the container.
	AddComment(ctx context.Context, c *Container, comment string) error

	// Notes loads the container's notes into c.Notes, newest first.
	Notes(ctx context.Context, c *Container) ([]*Note, error)

	// CreateNote creates a note on the container and reloads c.Notes.
	CreateNote(ctx context.Context, c *Container, note *Note) error

	// Pins loads the container's HUD pins into c.Pins.
	Pins(ctx context.Context, c *Container) ([]*Pin, error)

	// FindByHash returns the id of the container or artifact with the hash.
	FindByHash(ctx context.Context, resource, hash string) (int64, error)

	// Enriched returns the containers matching the query, each refreshed
	// as Refresh does. It costs one Refresh per container.
	Enriched(ctx context.Context, query Query) ([]*Container, error)

	// RefreshArtifacts replaces c.Artifacts with at most limit artifacts
	// from the server, or all of them when limit is not positive.
	RefreshArtifacts(ctx context.Context, c *Container, limit int) error

	// Attachments returns the vault ids of the files attached to a container.
	Attachments(ctx context.Context, containerID int64) ([]int64, error)

	// Export writes the container, its artifacts and optionally its vault
	// attachments to w as a gzipped tarball.
	Export(ctx context.Context, containerID int64, w io.Writer, includeAttachments bool) error
}

// ExportFileName returns the file name SOAR gives a container export.
func ExportFileName(containerID int64) string {
	return fmt.Sprintf("container-%d.tgz", containerID)
}

// containerService implements ContainerService.
type containerService struct {
	gw        Gateway
	artifacts *artifactService
	playbooks *playbookService
}

func newContainerService(gw Gateway, artifacts *artifactService, playbooks *playbookService) *containerService {
	return &containerService{gw: gw, artifacts: artifacts, playbooks: playbooks}
}

func notFound(err error, resource string, id int64) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		nf.ResourceType = resource
		nf.ResourceID = strconv.FormatInt(id, 10)
	}
	return err
}

// Get retrieves a single container by id.
func (s *containerService) Get(ctx context.Context, id int64) (*Container, error) {
	if id == 0 {
		return nil, validationError("container id cannot be zero")
	}
	raw, err := getRecord(ctx, s.gw, idPath("container", id), nil)
	if err != nil {
		return nil, notFound(err, "container", id)
	}
	return NewContainer(raw), nil
}

// List returns an iterator over containers matching the query.
func (s *containerService) List(ctx context.Context, query Query) iter.Seq2[*Container, error] {
	return paginate(ctx, s.gw, "container", query, func(raw map[string]any) *Container {
		return NewContainer(raw)
	})
}

func validateCreateContainer(c *Container) error {
	if c == nil {
		return validationError("container cannot be nil")
	}
	if c.HasID() {
		return validationError("container %d already exists on the server", c.ID())
	}
	if c.Name() == "" || c.Label() == "" {
		return validationError("container must have a name and a label")
	}
	for i, a := range c.Artifacts {
		if a == nil {
			return validationError("container %q artifact %d is nil", c.Name(), i)
		}
		if a.Name() == "" && a.Label() == "" {
			return validationError("container %q artifact %d is missing a name", c.Name(), i)
		}
	}
	return nil
}

// Create creates the container with its artifacts.
func (s *containerService) Create(ctx context.Context, c *Container) (*Container, error) {
	if err := validateCreateContainer(c); err != nil {
		return nil, err
	}

	var reply map[string]any
	if err := send(ctx, s.gw, http.MethodPost, "container", nil, c.CreationFields(true), &reply); err != nil {
		return nil, err
	}
	id, err := createdID(reply, "container")
	if err != nil {
		return nil, err
	}
	c.SetID(id)

	// Pick up server defaults (status, severity, create_time, ...).
	raw, err := getRecord(ctx, s.gw, idPath("container", id), nil)
	if err != nil {
		return c, notFound(err, "container", id)
	}
	c.Merge(raw)

	artifacts, err := s.artifacts.ForContainer(ctx, id)
	if err != nil {
		return c, err
	}
	c.Artifacts = reconcileArtifacts(c.Artifacts, artifacts)

	return c, nil
}

// Update pushes the container's local fields to the server.
func (s *containerService) Update(ctx context.Context, c *Container) error {
	if c == nil || !c.HasID() {
		return &ReferenceError{Op: "modify container", Resource: "container"}
	}
	err := send(ctx, s.gw, http.MethodPost, idPath("container", c.ID()), nil, c.CreationFields(false), nil)
	return notFound(err, "container", c.ID())
}

// Delete removes containers and clears their ids.
func (s *containerService) Delete(ctx context.Context, containers ...*Container) error {
	for _, c := range containers {
		if c == nil || !c.HasID() {
			return &ReferenceError{Op: "delete container", Resource: "container"}
		}
	}
	for _, c := range containers {
		id := c.ID()
		if err := send(ctx, s.gw, http.MethodDelete, idPath("container", id), nil, nil, nil); err != nil {
			return notFound(err, "container", id)
		}
		c.Delete("id")
		for _, a := range c.Artifacts {
			a.Delete("id")
			a.Delete("container")
		}
	}
	return nil
}

// Refresh merges the server state of the container into c.
func (s *containerService) Refresh(ctx context.Context, c *Container) error {
	if c == nil || !c.HasID() {
		return &ReferenceError{Op: "update container values", Resource: "container"}
	}
	id := c.ID()

	raw, err := getRecord(ctx, s.gw, idPath("container", id), nil)
	if err != nil {
		return notFound(err, "container", id)
	}
	c.Merge(raw)

	artifacts, err := s.artifacts.ForContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("loading artifacts: %w", err)
	}
	c.Artifacts = reconcileArtifacts(c.Artifacts, artifacts)

	runs, err := s.playbooks.Runs(ctx, Query{"_filter_container": id})
	if err != nil {
		return fmt.Errorf("loading playbook runs: %w", err)
	}
	reconcilePlaybooks(c, runs)

	if _, err := s.Pins(ctx, c); err != nil {
		return fmt.Errorf("loading pins: %w", err)
	}
	if _, err := s.Comments(ctx, c); err != nil {
		return fmt.Errorf("loading comments: %w", err)
	}
	if _, err := s.Notes(ctx, c); err != nil {
		return fmt.Errorf("loading notes: %w", err)
	}
	return nil
}

// reconcileArtifacts returns the server's artifact list, reusing local
// objects that match a server artifact by id or, for local artifacts not yet
// created, by name and label. Reused objects keep their local-only fields.
func reconcileArtifacts(local, remote []*Artifact) []*Artifact {
	used := make([]bool, len(local))
	match := func(pred func(*Artifact) bool) int {
		for i, l := range local {
			if !used[i] && pred(l) {
				return i
			}
		}
		return -1
	}

	out := make([]*Artifact, 0, len(remote))
	for _, r := range remote {
		i := match(func(l *Artifact) bool { return l.HasID() && l.ID() == r.ID() })
		if i < 0 {
			i = match(func(l *Artifact) bool {
				return !l.HasID() && l.Name() == r.Name() && l.Label() == r.Label()
			})
		}
		if i < 0 {
			out = append(out, r)
			continue
		}
		used[i] = true
		local[i].Merge(r.fields)
		out = append(out, local[i])
	}
	return out
}

// reconcilePlaybooks merges server playbook runs into the container's
// declared playbooks, matched by run id and then by name. Runs with no
// declared counterpart are appended; declared playbooks never run are kept.
func reconcilePlaybooks(c *Container, runs []*Playbook) {
	for _, run := range runs {
		declared := c.PlaybookByRun(run.RunID())
		if declared == nil {
			for _, p := range c.Playbooks {
				if p.RunID() == 0 && p.ShortName() == run.ShortName() {
					declared = p
					break
				}
			}
		}
		if declared == nil {
			c.Playbooks = append(c.Playbooks, run)
			continue
		}
		declared.Merge(run.fields)
		declared.Actions = run.Actions
		declared.Logs = run.Logs
	}
}

// Comments loads the container's comments.
func (s *containerService) Comments(ctx context.Context, c *Container) ([]string, error) {
	if c == nil || !c.HasID() {
		return nil, &ReferenceError{Op: "get comments", Resource: "container"}
	}
	var page listPage
	if err := send(ctx, s.gw, http.MethodGet, idPath("container", c.ID(), "comments"), nil, nil, &page); err != nil {
		return nil, err
	}
	comments := make([]string, 0, len(page.Data))
	for _, raw := range page.Data {
		if text, ok := raw["comment"].(string); ok {
			comments = append(comments, text)
		}
	}
	c.Comments = comments
	return comments, nil
}

// AddComment posts a comment on the container.
func (s *containerService) AddComment(ctx context.Context, c *Container, comment string) error {
	if c == nil || !c.HasID() {
		return &ReferenceError{Op: "add comment", Resource: "container"}
	}
	body := map[string]any{"container": c.ID(), "comment": comment}
	if err := send(ctx, s.gw, http.MethodPost, "container_comment", nil, body, nil); err != nil {
		return err
	}
	c.Comments = append(c.Comments, comment)
	return nil
}

// Notes loads the container's notes.
func (s *containerService) Notes(ctx context.Context, c *Container) ([]*Note, error) {
	if c == nil || !c.HasID() {
		return nil, &ReferenceError{Op: "get notes", Resource: "container"}
	}
	query := Query{
		"_filter_container_id":              c.ID(),
		"pretty":                            true,
		"page_size":                         100,
		"order":                             "desc",
		"sort":                              "modified_time",
		"_annotation_container_attachments": true,
	}
	notes, err := Collect(paginate(ctx, s.gw, "note", query, func(raw map[string]any) *Note {
		return NewNote(raw)
	}))
	if err != nil {
		return nil, err
	}
	c.Notes = notes
	return notes, nil
}

// CreateNote creates a note on the container.
func (s *containerService) CreateNote(ctx context.Context, c *Container, note *Note) error {
	if c == nil || !c.HasID() {
		return &ReferenceError{Op: "create note", Resource: "container"}
	}
	if note == nil || (note.Content() == "" && note.Title() == "") {
		return validationError("note needs a title or content")
	}

	body := map[string]any{
		"attachments":  []any{},
		"container_id": c.ID(),
		"title":        note.Title(),
		"content":      note.Content(),
		"note_format":  "markdown",
		"note_type":    "general",
	}
	if f := note.GetString("note_format"); f != "" {
		body["note_format"] = f
	}
	if t := note.GetString("note_type"); t != "" {
		body["note_type"] = t
	}

	var reply map[string]any
	if err := send(ctx, s.gw, http.MethodPost, "note", nil, body, &reply); err != nil {
		return err
	}
	if id, ok := toInt(reply["id"]); ok && id != 0 {
		note.SetID(id)
	}
	_, err := s.Notes(ctx, c)
	return err
}

// Pins loads the container's HUD pins.
func (s *containerService) Pins(ctx context.Context, c *Container) ([]*Pin, error) {
	if c == nil || !c.HasID() {
		return nil, &ReferenceError{Op: "get pins", Resource: "container"}
	}
	var page listPage
	if err := send(ctx, s.gw, http.MethodGet, idPath("container", c.ID(), "pins"), nil, nil, &page); err != nil {
		return nil, err
	}
	pins := make([]*Pin, 0, len(page.Data))
	for _, raw := range page.Data {
		pins = append(pins, &Pin{Record: newRecord(raw)})
	}
	c.Pins = pins
	return pins, nil
}

// FindByHash returns the id of the container or artifact with the hash.
func (s *containerService) FindByHash(ctx context.Context, resource, hash string) (int64, error) {
	if resource != "container" && resource != "artifact" {
		return 0, validationError("find by hash supports container or artifact, got %q", resource)
	}
	if hash == "" {
		return 0, validationError("hash cannot be empty")
	}
	var page listPage
	if err := send(ctx, s.gw, http.MethodGet, resource, Query{"_filter_hash": hash}, nil, &page); err != nil {
		return 0, err
	}
	if len(page.Data) == 0 {
		return 0, &NotFoundError{
			APIError:     APIError{StatusCode: http.StatusNotFound, Message: resource + " not found"},
			ResourceType: resource,
			ResourceID:   hash,
		}
	}
	id, _ := toInt(page.Data[0]["id"])
	return id, nil
}

// Enriched returns the containers matching the query, each refreshed.
func (s *containerService) Enriched(ctx context.Context, query Query) ([]*Container, error) {
	containers, err := Collect(s.List(ctx, query))
	if err != nil {
		return nil, err
	}
	for _, c := range containers {
		if err := s.Refresh(ctx, c); err != nil {
			return containers, fmt.Errorf("enriching container %d: %w", c.ID(), err)
		}
	}
	return containers, nil
}

// RefreshArtifacts reloads up to limit artifacts of the container.
func (s *containerService) RefreshArtifacts(ctx context.Context, c *Container, limit int) error {
	if c == nil || !c.HasID() {
		return &ReferenceError{Op: "update artifacts", Resource: "container"}
	}
	pageSize := maxPageSize
	if limit > 0 {
		pageSize = min(limit, maxPageSize)
	}
	seq := s.artifacts.List(ctx, Query{"_filter_container": c.ID(), "page_size": pageSize})

	var (
		artifacts []*Artifact
		err       error
	)
	if limit > 0 {
		artifacts, err = CollectN(seq, limit)
	} else {
		artifacts, err = Collect(seq)
	}
	if err != nil {
		return err
	}
	c.Artifacts = reconcileArtifacts(c.Artifacts, artifacts)
	return nil
}

// Attachments returns the vault ids of the container's attachments.
func (s *containerService) Attachments(ctx context.Context, containerID int64) ([]int64, error) {
	if containerID == 0 {
		return nil, &ReferenceError{Op: "get attachments", Resource: "container"}
	}
	var page listPage
	if err := send(ctx, s.gw, http.MethodGet, idPath("container", containerID, "attachments"), nil, nil, &page); err != nil {
		return nil, notFound(err, "container", containerID)
	}
	ids := make([]int64, 0, len(page.Data))
	for _, raw := range page.Data {
		if id, ok := toInt(raw["id"]); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Export writes the container export tarball to w.
func (s *containerService) Export(ctx context.Context, containerID int64, w io.Writer, includeAttachments bool) error {
	if containerID == 0 {
		return &ReferenceError{Op: "export container", Resource: "container"}
	}
	if w == nil {
		return validationError("export writer cannot be nil")
	}
	query := Query{"Filename": ExportFileName(containerID)}
	if includeAttachments {
		ids, err := s.Attachments(ctx, containerID)
		if err != nil {
			return fmt.Errorf("listing attachments: %w", err)
		}
		if len(ids) > 0 {
			query["file_list[]"] = ids
		}
	}
	err := send(ctx, s.gw, http.MethodGet, idPath("container", containerID, "export"), query, nil, w)
	return notFound(err, "container", containerID)
}
