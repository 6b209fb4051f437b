package soar_test

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-soar"
)

const testToken = "test-token"

func setupTestServer(t *testing.T, handler http.HandlerFunc, opts ...soar.ClientOption) *soar.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]soar.ClientOption{
		soar.WithBaseURL(server.URL),
		soar.WithToken(testToken),
	}, opts...)
	client, err := soar.NewClient(opts...)
	require.NoError(t, err)

	return client
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeList(w http.ResponseWriter, data []map[string]any) {
	if data == nil {
		data = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(data),
		"num_pages": 1,
		"data":      data,
	})
}

// queryString returns a query value with SOAR's JSON quoting removed.
func queryString(q url.Values, key string) string {
	v := q.Get(key)
	var s string
	if strings.HasPrefix(v, `"`) && json.Unmarshal([]byte(v), &s) == nil {
		return s
	}
	return v
}

func queryInt(q url.Values, key string) int64 {
	n, _ := strconv.ParseInt(queryString(q, key), 10, 64)
	return n
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

// runScript describes how a fake playbook run behaves. Each step raises a
// batch of prompts at once; the next step starts when all are answered.
type runScript struct {
	steps      [][]string
	status     string
	failAction bool
	hang       bool
}

type fakeRun struct {
	fields     map[string]any
	steps      [][]string
	final      string
	failAction bool
	hang       bool
	polls      int
}

type fakeApproval struct {
	id          int64
	runID       int64
	containerID int64
	name        string
	answered    bool
}

type fakeUpload struct {
	name            string
	contentType     string
	data            []byte
	containerID     int64
	importContainer bool
	referer         string
	complete        bool
}

type fakeAnswer struct {
	approvalID int64
	prompt     string
	responses  []string
}

// fakeSOAR is an in-memory SOAR REST API good enough to drive the client.
type fakeSOAR struct {
	mu sync.Mutex

	nextID     int64
	containers map[int64]map[string]any
	artifacts  []map[string]any
	runs       map[int64]*fakeRun
	actions    []map[string]any
	appRuns    []map[string]any
	approvals  []*fakeApproval
	notes      []map[string]any
	comments   []map[string]any
	answers    []fakeAnswer
	requests   []string

	playbooks   []map[string]any
	attachments map[int64][]int64
	exports     []url.Values
	uploads     map[string]*fakeUpload
	indicators  []map[string]any

	// corruptUploads flips a byte of every uploaded file so the sha256
	// check of upload_chunked_complete fails.
	corruptUploads bool

	scripts map[string]*runScript

	// stickyApprovals keeps answered approvals listed as pending until the
	// run finishes, as SOAR does for a short while after an answer.
	stickyApprovals bool

	// launchStatus, when set, fails playbook launches with that status.
	launchStatus int

	// ignoreRunFilter lists approvals of every run on the container, as
	// releases without the playbook_run filter do.
	ignoreRunFilter bool
}

func newFakeSOAR(t *testing.T, opts ...soar.ClientOption) (*fakeSOAR, *soar.Client) {
	t.Helper()
	f := &fakeSOAR{
		nextID:      100,
		containers:  make(map[int64]map[string]any),
		runs:        make(map[int64]*fakeRun),
		scripts:     make(map[string]*runScript),
		attachments: make(map[int64][]int64),
		uploads:     make(map[string]*fakeUpload),
	}
	opts = append([]soar.ClientOption{
		soar.WithPollInterval(time.Millisecond),
		soar.WithRunTimeout(5 * time.Second),
	}, opts...)
	client := setupTestServer(t, f.ServeHTTP, opts...)
	return f, client
}

func (f *fakeSOAR) script(name string, s *runScript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[name] = s
}

func (f *fakeSOAR) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

func (f *fakeSOAR) answerLog() []fakeAnswer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.answers)
}

// addPlaybook stores a playbook definition and returns its id.
func (f *fakeSOAR) addPlaybook(fields map[string]any) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	pb := maps.Clone(fields)
	if _, ok := pb["id"]; !ok {
		pb["id"] = f.id()
	}
	f.playbooks = append(f.playbooks, pb)
	return toInt64(pb["id"])
}

func (f *fakeSOAR) playbook(id int64) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pb := range f.playbooks {
		if toInt64(pb["id"]) == id {
			return maps.Clone(pb)
		}
	}
	return nil
}

func (f *fakeSOAR) upload(id string) *fakeUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[id]
}

func (f *fakeSOAR) exportLog() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.exports)
}

func (f *fakeSOAR) count(request string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, r := range f.requests {
		if r == request {
			n++
		}
	}
	return n
}

func (f *fakeSOAR) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeSOAR) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	if r.Header.Get("ph-auth-token") != testToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"failed": true, "message": "invalid token"})
		return
	}

	if r.URL.Path == "/upload_chunked" || r.URL.Path == "/upload_chunked_complete" {
		f.serveUpload(w, r)
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	q := r.URL.Query()

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/rest/"), "/"), "/")
	resource := parts[0]
	var id int64
	if len(parts) > 1 {
		id, _ = strconv.ParseInt(parts[1], 10, 64)
	}

	switch {
	case resource == "version":
		writeJSON(w, http.StatusOK, map[string]any{"version": "6.2.1.305"})

	case resource == "container" && len(parts) == 1 && r.Method == http.MethodPost:
		writeJSON(w, http.StatusOK, map[string]any{"id": f.createContainer(body), "success": true})

	case resource == "container" && len(parts) == 1:
		var list []map[string]any
		for _, cid := range slices.Sorted(maps.Keys(f.containers)) {
			list = append(list, maps.Clone(f.containers[cid]))
		}
		writeList(w, list)

	case resource == "container" && len(parts) == 2:
		c, ok := f.containers[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "container not found"})
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, maps.Clone(c))
		case http.MethodPost:
			maps.Copy(c, body)
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "success": true})
		case http.MethodDelete:
			delete(f.containers, id)
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}

	case resource == "container" && len(parts) == 3 && parts[2] == "comments":
		var list []map[string]any
		for _, c := range f.comments {
			if toInt64(c["container"]) == id {
				list = append(list, c)
			}
		}
		writeList(w, list)

	case resource == "container" && len(parts) == 3 && parts[2] == "pins":
		writeList(w, nil)

	case resource == "container" && len(parts) == 3 && parts[2] == "attachments":
		if _, ok := f.containers[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "container not found"})
			return
		}
		var list []map[string]any
		for _, vid := range f.attachments[id] {
			list = append(list, map[string]any{"id": vid, "container": id})
		}
		writeList(w, list)

	case resource == "container" && len(parts) == 3 && parts[2] == "export":
		if _, ok := f.containers[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "container not found"})
			return
		}
		f.exports = append(f.exports, q)
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = fmt.Fprintf(w, "tgz container=%d files=%s", id, strings.Join(q["file_list[]"], ","))

	case resource == "container_comment" && r.Method == http.MethodPost:
		comment := maps.Clone(body)
		comment["id"] = f.id()
		f.comments = append(f.comments, comment)
		writeJSON(w, http.StatusOK, map[string]any{"id": comment["id"], "success": true})

	case resource == "note" && r.Method == http.MethodPost:
		note := maps.Clone(body)
		note["id"] = f.id()
		f.notes = append(f.notes, note)
		writeJSON(w, http.StatusOK, map[string]any{"id": note["id"], "success": true})

	case resource == "note":
		cid := queryInt(q, "_filter_container_id")
		var list []map[string]any
		for _, n := range f.notes {
			if toInt64(n["container_id"]) == cid {
				list = append(list, n)
			}
		}
		writeList(w, list)

	case resource == "artifact" && len(parts) == 1 && r.Method == http.MethodPost:
		writeJSON(w, http.StatusOK, map[string]any{"id": f.createArtifact(body, toInt64(body["container_id"])), "success": true})

	case resource == "artifact" && len(parts) == 1:
		cid := queryInt(q, "_filter_container")
		var list []map[string]any
		for _, a := range f.artifacts {
			if cid == 0 || toInt64(a["container"]) == cid {
				list = append(list, maps.Clone(a))
			}
		}
		writeList(w, list)

	case resource == "artifact" && len(parts) == 2 && r.Method == http.MethodDelete:
		f.artifacts = slices.DeleteFunc(f.artifacts, func(a map[string]any) bool {
			return toInt64(a["id"]) == id
		})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	case resource == "playbook_run" && len(parts) == 1 && r.Method == http.MethodPost:
		f.launch(w, body)

	case resource == "playbook_run" && len(parts) == 1:
		cid := queryInt(q, "_filter_container")
		pid := queryInt(q, "_filter_playbook__exact")
		status := queryString(q, "_filter_status__exact")
		ids := slices.Sorted(maps.Keys(f.runs))
		if q.Get("order") == "desc" {
			slices.Reverse(ids)
		}
		var list []map[string]any
		for _, rid := range ids {
			run := f.runs[rid]
			if cid != 0 && toInt64(run.fields["container"]) != cid {
				continue
			}
			if pid != 0 && toInt64(run.fields["playbook"]) != pid {
				continue
			}
			if status != "" && run.fields["status"] != status {
				continue
			}
			list = append(list, maps.Clone(run.fields))
		}
		writeList(w, list)

	case resource == "playbook_run" && len(parts) == 2:
		run, ok := f.runs[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "run not found"})
			return
		}
		f.advance(id, run)
		writeJSON(w, http.StatusOK, maps.Clone(run.fields))

	case resource == "playbook_run" && len(parts) == 3 && parts[2] == "log":
		run := f.runs[id]
		var logs []map[string]any
		if run != nil && run.failAction {
			logs = append(logs, map[string]any{"message_type": 0, "message": "lookup ip failed"})
		}
		logs = append(logs, map[string]any{"message_type": 1, "message": "playbook finished"})
		writeList(w, logs)

	case resource == "playbook" && len(parts) == 1:
		name := queryString(q, "_filter_name__exact")
		pid := queryInt(q, "_filter_id__exact")
		var list []map[string]any
		for _, pb := range f.playbooks {
			if name != "" && pb["name"] != name {
				continue
			}
			if pid != 0 && toInt64(pb["id"]) != pid {
				continue
			}
			item := maps.Clone(pb)
			if q.Get("include_expensive") != "true" {
				delete(item, "coa_data")
			}
			list = append(list, item)
		}
		writeList(w, list)

	case resource == "playbook" && len(parts) == 2 && r.Method == http.MethodPost:
		idx := slices.IndexFunc(f.playbooks, func(pb map[string]any) bool { return toInt64(pb["id"]) == id })
		if idx < 0 {
			writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "playbook not found"})
			return
		}
		maps.Copy(f.playbooks[idx], body)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "success": true})

	case resource == "playbook" && len(parts) == 2:
		for _, pb := range f.playbooks {
			if toInt64(pb["id"]) == id {
				writeJSON(w, http.StatusOK, maps.Clone(pb))
				return
			}
		}
		if id > 10000 {
			writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "playbook not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": fmt.Sprintf("local/playbook_%d", id)})

	case resource == "build_action":
		writeJSON(w, http.StatusOK, map[string]any{
			"apps": []map[string]any{
				{"id": 1, "name": "VirusTotal v3", "appid": "3fe4875d", "app_version": "2.1.0", "product_vendor": "VirusTotal", "product_name": "VirusTotal"},
				{"id": 2, "name": "MaxMind", "appid": "c566e153", "app_version": "3.0.1"},
			},
			"actions": []map[string]any{
				{"id": 5, "action": "lookup ip", "app": 1, "type": "investigate"},
				{"id": 6, "action": "geolocate ip", "app": 2, "type": "investigate"},
			},
			"assets": []map[string]any{
				{"id": 21, "name": "virustotal", "app": 1},
				{"id": 22, "name": "maxmind", "app": 2, "disabled": true},
			},
		})

	case resource == "asset" && len(parts) == 1:
		needle := strings.ToLower(queryString(q, "_filter_name__icontains"))
		var list []map[string]any
		for _, a := range []map[string]any{
			{"id": 21, "name": "virustotal", "app": 1, "product_vendor": "VirusTotal", "configuration": map[string]any{"rate_limit": true}},
			{"id": 22, "name": "maxmind", "app": 2, "disabled": true},
		} {
			if strings.Contains(a["name"].(string), needle) {
				list = append(list, a)
			}
		}
		writeList(w, list)

	case resource == "indicator" && len(parts) == 1:
		value := queryString(q, "_filter_value")
		var list []map[string]any
		for _, ind := range f.indicators {
			if value == "" || ind["value"] == value {
				list = append(list, maps.Clone(ind))
			}
		}
		writeList(w, list)

	case resource == "indicator" && len(parts) == 2:
		for _, ind := range f.indicators {
			if toInt64(ind["id"]) == id {
				writeJSON(w, http.StatusOK, maps.Clone(ind))
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "indicator not found"})

	case resource == "action_run":
		rid := queryInt(q, "_filter_playbook_run")
		var list []map[string]any
		for _, a := range f.actions {
			if toInt64(a["playbook_run"]) == rid {
				list = append(list, maps.Clone(a))
			}
		}
		writeList(w, list)

	case resource == "app_run":
		aid := queryInt(q, "_filter_action_run")
		var list []map[string]any
		for _, a := range f.appRuns {
			if toInt64(a["action_run"]) == aid {
				list = append(list, maps.Clone(a))
			}
		}
		writeList(w, list)

	case resource == "approval" && len(parts) == 1:
		cid := queryInt(q, "_filter_action_run__container_id")
		rid := queryInt(q, "_filter_action_run__playbook_run")
		var list []map[string]any
		for _, a := range f.approvals {
			if a.containerID != cid {
				continue
			}
			if rid != 0 && !f.ignoreRunFilter && a.runID != rid {
				continue
			}
			if a.answered && !(f.stickyApprovals && !f.finished(a.runID)) {
				continue
			}
			list = append(list, map[string]any{
				"id":         a.id,
				"name":       a.name,
				"status":     "pending",
				"action_run": map[string]any{"playbook_run": a.runID},
			})
		}
		writeList(w, list)

	case resource == "approval" && len(parts) == 2 && r.Method == http.MethodPost:
		idx := slices.IndexFunc(f.approvals, func(a *fakeApproval) bool { return a.id == id })
		if idx < 0 {
			writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "approval not found"})
			return
		}
		a := f.approvals[idx]
		if a.answered {
			writeJSON(w, http.StatusBadRequest, map[string]any{"failed": true, "message": "approval already answered"})
			return
		}
		a.answered = true
		var responses []string
		if list, ok := body["responses"].([]any); ok {
			for _, item := range list {
				responses = append(responses, fmt.Sprint(item))
			}
		}
		f.answers = append(f.answers, fakeAnswer{approvalID: id, prompt: a.name, responses: responses})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "no such endpoint " + r.URL.Path})
	}
}

// serveUpload handles the two-step chunked vault upload.
func (f *fakeSOAR) serveUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"failed": true, "message": "POST only"})
		return
	}

	if r.URL.Path == "/upload_chunked" {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"failed": true, "message": err.Error()})
			return
		}
		defer func() { _ = file.Close() }()
		data, _ := io.ReadAll(file)
		if f.corruptUploads && len(data) > 0 {
			data[0] ^= 0xff
		}
		cid, _ := strconv.ParseInt(r.FormValue("container_id"), 10, 64)
		uploadID := "upload-" + itoa(f.id())
		f.uploads[uploadID] = &fakeUpload{
			name:            header.Filename,
			contentType:     header.Header.Get("Content-Type"),
			data:            data,
			containerID:     cid,
			importContainer: r.URL.Query().Get("import_container") == "true",
			referer:         r.Header.Get("Referer"),
		}
		writeJSON(w, http.StatusOK, map[string]any{"upload_id": uploadID})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"failed": true, "message": err.Error()})
		return
	}
	u := f.uploads[r.PostForm.Get("upload_id")]
	if u == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "unknown upload"})
		return
	}
	sum := sha256.Sum256(u.data)
	if hex.EncodeToString(sum[:]) != r.PostForm.Get("sha256") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"failed": true, "message": "checksum mismatch"})
		return
	}
	u.complete = true
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (f *fakeSOAR) createContainer(body map[string]any) int64 {
	id := f.id()
	fields := maps.Clone(body)
	artifacts, _ := fields["artifacts"].([]any)
	delete(fields, "artifacts")
	fields["id"] = id
	fields["status"] = "new"
	fields["severity"] = "medium"
	f.containers[id] = fields
	for _, raw := range artifacts {
		if a, ok := raw.(map[string]any); ok {
			f.createArtifact(a, id)
		}
	}
	return id
}

func (f *fakeSOAR) createArtifact(body map[string]any, containerID int64) int64 {
	id := f.id()
	fields := maps.Clone(body)
	delete(fields, "container_id")
	fields["id"] = id
	fields["container"] = containerID
	fields["create_time"] = "2024-05-01T10:00:00Z"
	f.artifacts = append(f.artifacts, fields)
	return id
}

func (f *fakeSOAR) launch(w http.ResponseWriter, body map[string]any) {
	if f.launchStatus != 0 {
		writeJSON(w, f.launchStatus, map[string]any{"failed": true, "message": "launch rejected"})
		return
	}
	cid := toInt64(body["container_id"])
	if _, ok := f.containers[cid]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"failed": true, "message": "container not found"})
		return
	}
	name := fmt.Sprint(body["playbook_id"])
	s := f.scripts[name]
	if s == nil {
		s = &runScript{}
	}
	final := s.status
	if final == "" {
		final = "success"
	}
	id := f.id()
	f.runs[id] = &fakeRun{
		fields: map[string]any{
			"id":               id,
			"container":        cid,
			"playbook":         7,
			"_pretty_playbook": name,
			"scope":            body["scope"],
			"status":           "running",
		},
		steps:      slices.Clone(s.steps),
		final:      final,
		failAction: s.failAction,
		hang:       s.hang,
	}
	writeJSON(w, http.StatusOK, map[string]any{"playbook_run_id": id, "success": true})
}

func (f *fakeSOAR) finished(runID int64) bool {
	run := f.runs[runID]
	return run != nil && run.fields["status"] != "running"
}

// advance moves a run forward by one poll: it raises the next batch of
// prompts once the previous one is answered, then finishes the run.
func (f *fakeSOAR) advance(runID int64, run *fakeRun) {
	run.polls++
	if run.hang || run.fields["status"] != "running" {
		return
	}
	for _, a := range f.approvals {
		if a.runID == runID && !a.answered {
			return
		}
	}
	if len(run.steps) > 0 {
		cid := toInt64(run.fields["container"])
		for _, name := range run.steps[0] {
			f.approvals = append(f.approvals, &fakeApproval{id: f.id(), runID: runID, containerID: cid, name: name})
		}
		run.steps = run.steps[1:]
		return
	}

	run.fields["status"] = run.final
	actionStatus, message := "success", "1 action succeeded"
	if run.failAction {
		actionStatus, message = "failed", "1 action failed"
	}
	actionID := f.id()
	f.actions = append(f.actions, map[string]any{
		"id":           actionID,
		"playbook_run": runID,
		"container":    run.fields["container"],
		"name":         "lookup_ip_1",
		"action":       "lookup ip",
		"status":       actionStatus,
		"message":      message,
		"_pretty_app":  "VirusTotal",
	})
	appMessage := "ip is clean"
	if run.failAction {
		appMessage = "api key rejected"
	}
	f.appRuns = append(f.appRuns, map[string]any{
		"id":                 f.id(),
		"action_run":         actionID,
		"app_name":           "VirusTotal",
		"app_version":        "2.1.0",
		"status":             actionStatus,
		"message":            appMessage,
		"exception_occurred": run.failAction,
		"result_summary":     map[string]any{"total_objects": 1},
	})
}
