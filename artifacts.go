package soar

import (
	"context"
	"iter"
	"net/http"
)

// ArtifactService provides operations on SOAR artifacts.
type ArtifactService interface {
	// List returns an iterator over artifacts matching the query.
	List(ctx context.Context, query Query) iter.Seq2[*Artifact, error]

	// ForContainer returns every artifact of a container.
	ForContainer(ctx context.Context, containerID int64) ([]*Artifact, error)

	// Create attaches the given artifacts to the container and creates every
	// artifact of the container that has no server id yet.
	Create(ctx context.Context, c *Container, artifacts ...*Artifact) error

	// Delete removes artifacts and clears their ids.
	Delete(ctx context.Context, artifacts ...*Artifact) error
}

// artifactService implements ArtifactService.
type artifactService struct {
	gw Gateway
}

func newArtifactService(gw Gateway) *artifactService {
	return &artifactService{gw: gw}
}

// List returns an iterator over artifacts matching the query.
func (s *artifactService) List(ctx context.Context, query Query) iter.Seq2[*Artifact, error] {
	return paginate(ctx, s.gw, "artifact", query, func(raw map[string]any) *Artifact {
		return NewArtifact(raw)
	})
}

// ForContainer returns every artifact of a container.
func (s *artifactService) ForContainer(ctx context.Context, containerID int64) ([]*Artifact, error) {
	return Collect(s.List(ctx, Query{
		"_filter_container": containerID,
		"page_size":         maxPageSize,
	}))
}

// Create creates the container's uncreated artifacts.
func (s *artifactService) Create(ctx context.Context, c *Container, artifacts ...*Artifact) error {
	if c == nil || !c.HasID() {
		return &ReferenceError{Op: "create artifacts", Resource: "container"}
	}
	for i, a := range artifacts {
		if a == nil || (a.Name() == "" && a.Label() == "") {
			return validationError("artifact %d is missing a name", i)
		}
	}
	c.AddArtifacts(artifacts...)

	for _, a := range c.Artifacts {
		if a.HasID() {
			continue
		}
		body := a.CreationFields()
		delete(body, "container")
		body["container_id"] = c.ID()

		var reply map[string]any
		if err := send(ctx, s.gw, http.MethodPost, "artifact", nil, body, &reply); err != nil {
			return err
		}
		id, err := createdID(reply, "artifact")
		if err != nil {
			return err
		}
		a.SetID(id)
		a.Set("container", c.ID())
	}
	return nil
}

// Delete removes artifacts and clears their ids.
func (s *artifactService) Delete(ctx context.Context, artifacts ...*Artifact) error {
	for _, a := range artifacts {
		if a == nil || !a.HasID() {
			return &ReferenceError{Op: "delete artifact", Resource: "artifact"}
		}
	}
	for _, a := range artifacts {
		id := a.ID()
		if err := send(ctx, s.gw, http.MethodDelete, idPath("artifact", id), nil, nil, nil); err != nil {
			return notFound(err, "artifact", id)
		}
		a.Delete("id")
		a.Delete("container")
	}
	return nil
}
