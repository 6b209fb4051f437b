package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tphakala/go-soar"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(header)
	return t
}

func renderContainer(w io.Writer, c *soar.Container) {
	t := newTable(w, "Container", table.Row{"ID", "Name", "Label", "Status", "Severity", "Owner"})
	t.AppendRow(table.Row{c.ID(), c.Name(), c.Label(), c.Status(), c.GetString("severity"), c.GetString("owner_name")})
	t.Render()

	if len(c.Artifacts) > 0 {
		t = newTable(w, "Artifacts", table.Row{"ID", "Name", "Label", "Severity"})
		for _, a := range c.Artifacts {
			t.AppendRow(table.Row{a.ID(), a.Name(), a.Label(), a.GetString("severity")})
		}
		t.Render()
	}

	if len(c.Playbooks) > 0 {
		t = newTable(w, "Playbook runs", table.Row{"Run", "Playbook", "Status", "Actions"})
		for _, p := range c.Playbooks {
			t.AppendRow(table.Row{p.RunID(), p.Name(), p.RunStatus(), len(p.Actions)})
		}
		t.Render()
	}

	if len(c.Comments) > 0 {
		t = newTable(w, "Comments", table.Row{"#", "Comment"})
		for i, comment := range c.Comments {
			t.AppendRow(table.Row{i + 1, comment})
		}
		t.Render()
	}
}

func renderResults(w io.Writer, results []*soar.RunResult) {
	t := newTable(w, "Playbook runs", table.Row{"Playbook", "Run", "Status", "Success", "Error"})
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Playbook.Name(), r.RunID, r.Status, r.Success, errText})
	}
	t.Render()

	answers := newTable(w, "Prompt answers", table.Row{"Playbook", "Approval", "Prompt", "Answer"})
	var n int
	for _, r := range results {
		for _, a := range r.Answers {
			answers.AppendRow(table.Row{r.Playbook.Name(), a.ApprovalID, a.Prompt, a.Answer})
			n++
		}
	}
	if n > 0 {
		answers.Render()
	}

	actions := newTable(w, "Actions", table.Row{"Playbook", "Action", "App", "Status", "Message"})
	n = 0
	for _, r := range results {
		for _, a := range r.Actions {
			msg := a.AppMessage()
			if msg == "" {
				msg = a.Message()
			}
			actions.AppendRow(table.Row{r.Playbook.Name(), a.Name(), a.AppName(), a.Status(), msg})
			n++
		}
	}
	if n > 0 {
		actions.Render()
	}
}

// resultView is the JSON form of a run result.
type resultView struct {
	Playbook string              `json:"playbook"`
	RunID    int64               `json:"run_id"`
	Status   soar.RunStatus      `json:"status"`
	Success  bool                `json:"success"`
	Error    string              `json:"error,omitempty"`
	Answers  []soar.PromptAnswer `json:"answers,omitempty"`
	Actions  []*soar.Action      `json:"actions,omitempty"`
}

func resultViews(results []*soar.RunResult) []resultView {
	views := make([]resultView, 0, len(results))
	for _, r := range results {
		v := resultView{
			Playbook: r.Playbook.Name(),
			RunID:    r.RunID,
			Status:   r.Status,
			Success:  r.Success,
			Answers:  r.Answers,
			Actions:  r.Actions,
		}
		if r.Err != nil {
			v.Error = r.Err.Error()
		}
		views = append(views, v)
	}
	return views
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}
