package soar

import (
	"encoding/json"
	"slices"
	"strings"
)

// RunStatus represents the status of a playbook run or action run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the server will not change the status again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Log message types reported by playbook_run/<id>/log.
const (
	LogMessageError = 0
	LogMessageInfo  = 1
)

// Container represents a SOAR container (event or case).
//
// A container with an id references an existing server container and should
// be refreshed with Client.UpdateContainerValues before its collections are
// trusted. A container without one is local until Client.CreateContainer.
type Container struct {
	Record

	Artifacts []*Artifact
	Playbooks []*Playbook
	Notes     []*Note
	Comments  []string
	Pins      []*Pin
}

// NewContainer builds a local container from raw fields.
func NewContainer(fields Fields) *Container {
	return &Container{Record: newRecord(fields)}
}

// AddArtifacts appends artifacts in order. Duplicates are kept.
func (c *Container) AddArtifacts(artifacts ...*Artifact) {
	for _, a := range artifacts {
		if a == nil {
			continue
		}
		if c.HasID() {
			a.Set("container", c.ID())
		}
		c.Artifacts = append(c.Artifacts, a)
	}
}

// AddPlaybooks appends playbooks in order. Duplicates are kept.
func (c *Container) AddPlaybooks(playbooks ...*Playbook) {
	for _, p := range playbooks {
		if p != nil {
			c.Playbooks = append(c.Playbooks, p)
		}
	}
}

// AddPins appends pins in order.
func (c *Container) AddPins(pins ...*Pin) {
	c.Pins = append(c.Pins, pins...)
}

// ArtifactNames returns the artifact names in collection order.
func (c *Container) ArtifactNames() []string {
	names := make([]string, 0, len(c.Artifacts))
	for _, a := range c.Artifacts {
		names = append(names, a.Name())
	}
	return names
}

// ArtifactIDs returns the unique server ids of created artifacts.
func (c *Container) ArtifactIDs() []int64 {
	var ids []int64
	for _, a := range c.Artifacts {
		if id := a.ID(); id != 0 && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// PlaybookNames returns the unique, sorted names of attached playbooks.
func (c *Container) PlaybookNames() []string {
	var names []string
	for _, p := range c.Playbooks {
		if n := p.Name(); n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}

// ActionNames returns the unique, sorted names of actions run on the container.
func (c *Container) ActionNames() []string {
	var names []string
	for _, p := range c.Playbooks {
		for _, a := range p.Actions {
			if n := a.Name(); n != "" && !slices.Contains(names, n) {
				names = append(names, n)
			}
		}
	}
	slices.Sort(names)
	return names
}

// Artifact returns the first artifact with the given name, or nil.
func (c *Container) Artifact(name string) *Artifact {
	for _, a := range c.Artifacts {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// Playbook returns the most recently attached playbook whose name matches.
// The repository prefix of "repo/name" is ignored on both sides.
func (c *Container) Playbook(name string) *Playbook {
	short := shortName(name)
	for _, p := range slices.Backward(c.Playbooks) {
		if p.ShortName() == short {
			return p
		}
	}
	return nil
}

// PlaybookByRun returns the playbook carrying the given run id, or nil.
func (c *Container) PlaybookByRun(runID int64) *Playbook {
	for _, p := range c.Playbooks {
		if p.RunID() == runID {
			return p
		}
	}
	return nil
}

// Actions returns every action with the given name across all playbooks.
func (c *Container) Actions(name string) []*Action {
	var out []*Action
	for _, p := range c.Playbooks {
		for _, a := range p.Actions {
			if a.Name() == name {
				out = append(out, a)
			}
		}
	}
	return out
}

// CreationFields returns the body used to create the container: its own
// fields minus server-managed ones, plus the artifacts when requested.
func (c *Container) CreationFields(includeArtifacts bool) map[string]any {
	body := creationFields(&c.Record, "id")
	if includeArtifacts && len(c.Artifacts) > 0 {
		artifacts := make([]map[string]any, 0, len(c.Artifacts))
		for _, a := range c.Artifacts {
			artifacts = append(artifacts, a.CreationFields())
		}
		body["artifacts"] = artifacts
	}
	return body
}

// MarshalJSON implements json.Marshaler. Attached collections are included
// when non-empty.
func (c Container) MarshalJSON() ([]byte, error) {
	out := map[string]any(c.Fields())
	if out == nil {
		out = map[string]any{}
	}
	if len(c.Artifacts) > 0 {
		out["artifacts"] = c.Artifacts
	}
	if len(c.Playbooks) > 0 {
		out["playbooks"] = c.Playbooks
	}
	if len(c.Notes) > 0 {
		out["notes"] = c.Notes
	}
	if len(c.Comments) > 0 {
		out["comments"] = c.Comments
	}
	if len(c.Pins) > 0 {
		out["pins"] = c.Pins
	}
	return json.Marshal(out)
}

// Artifact represents a unit of evidence attached to a container.
type Artifact struct {
	Record
}

// NewArtifact builds a local artifact from raw fields.
func NewArtifact(fields Fields) *Artifact {
	return &Artifact{Record: newRecord(fields)}
}

// ContainerID returns the owning container id, or zero.
func (a *Artifact) ContainerID() int64 {
	id, _ := a.GetInt("container")
	return id
}

// CEF returns the artifact's CEF field map.
func (a *Artifact) CEF() map[string]any {
	return a.GetMap("cef")
}

// CreationFields returns the body used to create the artifact.
func (a *Artifact) CreationFields() map[string]any {
	return creationFields(&a.Record, "id", "create_time", "update_time", "hash")
}

// Playbook is a fused view of a playbook definition and one run of it.
//
// The record holds the playbook_run payload: "id" is the run id once
// launched, "playbook" the definition id and "name" the repo/name path.
// Prompts maps a prompt name to the answers given to successive occurrences
// of that prompt.
type Playbook struct {
	Record

	Prompts map[string][]string
	Actions []*Action
	Logs    []map[string]any
}

// NewPlaybook builds a playbook from raw fields. Server payloads carry the
// name as _pretty_playbook, which is used when "name" is absent.
func NewPlaybook(fields Fields) *Playbook {
	p := &Playbook{Record: newRecord(fields)}
	if !p.Has("name") {
		if pretty := p.GetString("_pretty_playbook"); pretty != "" {
			p.Set("name", pretty)
		}
	}
	if prompts, ok := fields["prompts"].(map[string][]string); ok {
		p.Prompts = prompts
		p.Delete("prompts")
	}
	return p
}

// RunID returns the playbook_run id, zero until launched.
func (p *Playbook) RunID() int64 {
	return p.ID()
}

// PlaybookID returns the playbook definition id, zero when unknown.
func (p *Playbook) PlaybookID() int64 {
	id, _ := p.GetInt("playbook")
	return id
}

// ContainerID returns the container the run belongs to, or zero.
func (p *Playbook) ContainerID() int64 {
	id, _ := p.GetInt("container")
	return id
}

// RunStatus returns the run status.
func (p *Playbook) RunStatus() RunStatus {
	return RunStatus(p.Status())
}

// ShortName returns the name without its repository prefix.
func (p *Playbook) ShortName() string {
	return shortName(p.Name())
}

// Action returns the first action with the given name, or nil.
func (p *Playbook) Action(name string) *Action {
	for _, a := range p.Actions {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// ActionIDs returns the ids of the run's actions.
func (p *Playbook) ActionIDs() []int64 {
	ids := make([]int64, 0, len(p.Actions))
	for _, a := range p.Actions {
		ids = append(ids, a.ID())
	}
	return ids
}

// Exceptions returns the log entries reporting an error.
func (p *Playbook) Exceptions() []map[string]any {
	var out []map[string]any
	for _, entry := range p.Logs {
		if t, ok := toInt(entry["message_type"]); ok && t == LogMessageError {
			out = append(out, entry)
		}
	}
	return out
}

// ExceptionOccurred reports whether the run logged an error.
func (p *Playbook) ExceptionOccurred() bool {
	return len(p.Exceptions()) > 0
}

// ParentRunID returns the parent playbook run id for child playbooks.
func (p *Playbook) ParentRunID() int64 {
	id, _ := toInt(p.parentRun()["parent_playbook_run_id"])
	return id
}

// ParentName returns the parent playbook name for child playbooks.
func (p *Playbook) ParentName() string {
	name, _ := p.parentRun()["parent_playbook_name"].(string)
	return name
}

func (p *Playbook) parentRun() map[string]any {
	parent, _ := p.GetMap("misc")["parent_playbook_run"].(map[string]any)
	return parent
}

// Action is a fused view of an action_run and the app_run it triggered.
type Action struct {
	Record
}

// NewAction builds an action from raw action_run fields.
func NewAction(fields Fields) *Action {
	a := &Action{Record: newRecord(fields)}
	if pretty := a.GetString("_pretty_app"); pretty != "" && !a.Has("app_name") {
		a.Set("app_name", pretty)
	}
	if pretty := a.GetString("_pretty_asset"); pretty != "" && !a.Has("asset_name") {
		a.Set("asset_name", pretty)
	}
	return a
}

// mergeAppRun copies the app_run fields callers look at onto the action.
func (a *Action) mergeAppRun(appRun map[string]any) {
	a.Merge(map[string]any{
		"app_name":           appRun["app_name"],
		"app_run":            appRun["id"],
		"app_version":        appRun["app_version"],
		"exception_occurred": appRun["exception_occurred"],
		"app_message":        appRun["message"],
		"result_summary":     appRun["result_summary"],
		"result_data":        appRun["result_data"],
	})
}

// AppName returns the name of the app that ran the action.
func (a *Action) AppName() string {
	return a.GetString("app_name")
}

// Message returns the action_run message.
func (a *Action) Message() string {
	return a.GetString("message")
}

// AppMessage returns the app_run message.
func (a *Action) AppMessage() string {
	return a.GetString("app_message")
}

// Failed reports whether the action or its app run failed.
func (a *Action) Failed() bool {
	return RunStatus(a.Status()) == RunFailed || a.GetBool("exception_occurred")
}

// Note represents a note on a container.
type Note struct {
	Record
}

// NewNote builds a local note from raw fields.
func NewNote(fields Fields) *Note {
	return &Note{Record: newRecord(fields)}
}

// Title returns the note title.
func (n *Note) Title() string {
	return n.GetString("title")
}

// Content returns the note body.
func (n *Note) Content() string {
	return n.GetString("content")
}

// Pin represents a HUD pin on a container.
type Pin struct {
	Record
}

// Approval is a pending prompt raised by a running playbook.
type Approval struct {
	Record
}

// PromptName returns the caller-defined prompt name.
func (a *Approval) PromptName() string {
	return a.Name()
}

// RunID returns the playbook run that raised the prompt, read from
// playbook_run or the nested action_run, or 0 when neither is present.
func (a *Approval) RunID() int64 {
	if id, _ := a.GetInt("playbook_run"); id != 0 {
		return id
	}
	id, _ := toInt(a.GetMap("action_run")["playbook_run"])
	return id
}

// App is an installed app from the action catalogue.
type App struct {
	Record
}

// AppID returns the app's GUID.
func (a *App) AppID() string {
	return a.GetString("appid")
}

// Version returns the installed app version.
func (a *App) Version() string {
	return a.GetString("app_version")
}

// Product returns the vendor and product the app integrates with.
func (a *App) Product() (vendor, product string) {
	return a.GetString("product_vendor"), a.GetString("product_name")
}

// Asset is a configured asset that app actions run against.
type Asset struct {
	Record
}

// AppID returns the id of the app the asset is configured for, or zero.
func (a *Asset) AppID() int64 {
	id, _ := a.GetInt("app")
	return id
}

// Product returns the vendor and product the asset connects to.
func (a *Asset) Product() (vendor, product string) {
	return a.GetString("product_vendor"), a.GetString("product_name")
}

// Disabled reports whether the asset is disabled.
func (a *Asset) Disabled() bool {
	return a.GetBool("disabled")
}

// ActionDefinition is an action an app provides, as listed in the action
// catalogue. Action is the record type for action runs.
type ActionDefinition struct {
	Record
}

// Action returns the action name, e.g. "lookup ip".
func (d *ActionDefinition) Action() string {
	if name := d.GetString("action"); name != "" {
		return name
	}
	return d.Name()
}

// Type returns the action type such as "investigate" or "contain".
func (d *ActionDefinition) Type() string {
	return d.GetString("type")
}

// Indicator is an observed value aggregated across container events.
type Indicator struct {
	Record
}

// Value returns the indicator value.
func (i *Indicator) Value() string {
	return i.GetString("value")
}

// ValueHash returns the hash SOAR indexes the value by.
func (i *Indicator) ValueHash() string {
	return i.GetString("value_hash")
}

// OpenEvents returns the number of open events carrying the indicator.
func (i *Indicator) OpenEvents() int64 {
	n, _ := i.GetInt("open_events")
	return n
}

// TotalEvents returns the number of events carrying the indicator.
func (i *Indicator) TotalEvents() int64 {
	n, _ := i.GetInt("total_events")
	return n
}

// creationFields copies a record's fields minus the given keys and any
// server-rendered _pretty_ fields.
func creationFields(r *Record, drop ...string) map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		if v == nil || slices.Contains(drop, k) || strings.HasPrefix(k, "_pretty") {
			continue
		}
		out[k] = v
	}
	return out
}

func shortName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
