// Package manifest loads the YAML run manifests used by soarctl.
//
// A manifest describes a container (new or existing), its artifacts and the
// playbooks to run against it with their prompt answers:
//
//	container:
//	  name: Suspicious login
//	  label: events
//	  artifacts:
//	    - name: source ip
//	      cef:
//	        sourceAddress: 10.0.0.1
//	playbooks:
//	  - name: local/triage
//	    prompts:
//	      prompt_1: [Yes, No]
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/go-soar"
)

// ErrEmpty is returned when a manifest document has no content.
var ErrEmpty = errors.New("manifest: empty document")

// Manifest is a parsed run manifest.
type Manifest struct {
	Container      Container  `yaml:"container"`
	Playbooks      []Playbook `yaml:"playbooks,omitempty" validate:"dive"`
	Scope          string     `yaml:"scope,omitempty" validate:"omitempty,oneof=all new"`
	SuppressErrors bool       `yaml:"suppress_errors,omitempty"`
}

// Container describes the container a manifest works on. ID references an
// existing container; without it Name and Label are required to create one.
type Container struct {
	ID          int64          `yaml:"id,omitempty" validate:"gte=0"`
	Name        string         `yaml:"name,omitempty" validate:"required_without=ID"`
	Label       string         `yaml:"label,omitempty" validate:"required_without=ID"`
	Severity    string         `yaml:"severity,omitempty" validate:"omitempty,oneof=low medium high"`
	Description string         `yaml:"description,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
	Fields      map[string]any `yaml:"fields,omitempty"`
	Artifacts   []Artifact     `yaml:"artifacts,omitempty" validate:"dive"`
}

// Artifact describes one artifact to create with the container.
type Artifact struct {
	Name     string         `yaml:"name" validate:"required"`
	Label    string         `yaml:"label,omitempty"`
	Severity string         `yaml:"severity,omitempty" validate:"omitempty,oneof=low medium high"`
	CEF      map[string]any `yaml:"cef,omitempty"`
	Fields   map[string]any `yaml:"fields,omitempty"`
}

// Playbook names a playbook to run and the answers for its prompts.
type Playbook struct {
	ID      int64               `yaml:"id,omitempty" validate:"gte=0"`
	Name    string              `yaml:"name,omitempty" validate:"required_without=ID"`
	Prompts map[string][]string `yaml:"prompts,omitempty" validate:"dive,keys,required,endkeys,min=1"`
}

var validate = validator.New()

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	m, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Read decodes the manifest at path without validating it, for callers that
// fill in fields before calling Validate.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	m, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest document. Unknown keys are
// rejected.
func Parse(data []byte) (*Manifest, error) {
	m, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decode(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return &m, nil
}

// Validate checks the manifest's struct constraints.
func (m *Manifest) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("manifest: validation failed: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Manifest."), fe.Tag()))
	}
	return fmt.Errorf("manifest: validation failed: %s: %w", strings.Join(msgs, ", "), err)
}

// NewContainer builds the container the manifest describes, with its
// artifacts attached.
func (m *Manifest) NewContainer() *soar.Container {
	mc := m.Container
	fields := soar.Fields{}
	for k, v := range mc.Fields {
		fields[k] = v
	}
	if mc.ID != 0 {
		fields["id"] = mc.ID
	}
	setString(fields, "name", mc.Name)
	setString(fields, "label", mc.Label)
	setString(fields, "severity", mc.Severity)
	setString(fields, "description", mc.Description)
	if len(mc.Tags) > 0 {
		fields["tags"] = mc.Tags
	}

	c := soar.NewContainer(fields)
	for _, a := range mc.Artifacts {
		c.AddArtifacts(a.artifact())
	}
	return c
}

func (a Artifact) artifact() *soar.Artifact {
	fields := soar.Fields{}
	for k, v := range a.Fields {
		fields[k] = v
	}
	fields["name"] = a.Name
	setString(fields, "label", a.Label)
	setString(fields, "severity", a.Severity)
	if len(a.CEF) > 0 {
		fields["cef"] = a.CEF
	}
	return soar.NewArtifact(fields)
}

// NewPlaybooks builds the playbooks to run, in manifest order.
func (m *Manifest) NewPlaybooks() []*soar.Playbook {
	playbooks := make([]*soar.Playbook, 0, len(m.Playbooks))
	for _, p := range m.Playbooks {
		fields := soar.Fields{}
		setString(fields, "name", p.Name)
		if p.ID != 0 {
			fields["playbook"] = p.ID
		}
		if len(p.Prompts) > 0 {
			fields["prompts"] = p.Prompts
		}
		playbooks = append(playbooks, soar.NewPlaybook(fields))
	}
	return playbooks
}

// RunOptions returns the run options the manifest sets.
func (m *Manifest) RunOptions() []soar.RunOption {
	var opts []soar.RunOption
	if m.Scope != "" {
		opts = append(opts, soar.WithScope(m.Scope))
	}
	if m.SuppressErrors {
		opts = append(opts, soar.WithSuppressErrors())
	}
	return opts
}

func setString(fields soar.Fields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
