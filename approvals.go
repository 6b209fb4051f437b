package soar

import (
	"context"
	"net/http"
)

// ApprovalService provides access to playbook prompts awaiting an answer.
type ApprovalService interface {
	// Pending returns the open approvals on a container, oldest first. A
	// non-zero runID limits them to prompts raised by that playbook run.
	Pending(ctx context.Context, containerID, runID int64) ([]*Approval, error)

	// Answer approves a prompt with the given responses.
	Answer(ctx context.Context, approvalID int64, responses []string) error
}

// approvalService implements ApprovalService.
type approvalService struct {
	gw Gateway
}

func newApprovalService(gw Gateway) *approvalService {
	return &approvalService{gw: gw}
}

// Pending returns the open approvals on a container.
func (s *approvalService) Pending(ctx context.Context, containerID, runID int64) ([]*Approval, error) {
	if containerID == 0 {
		return nil, &ReferenceError{Op: "list approvals", Resource: "container"}
	}
	query := Query{
		"_filter_status":                   "pending",
		"_filter_action_run__container_id": containerID,
		"order":                            "asc",
		"sort":                             "start_time",
		"page_size":                        200,
		"pretty":                           true,
	}
	if runID != 0 {
		query["_filter_action_run__playbook_run"] = runID
	}
	var page listPage
	if err := send(ctx, s.gw, http.MethodGet, "approval", query, nil, &page); err != nil {
		return nil, err
	}
	approvals := make([]*Approval, 0, len(page.Data))
	for _, raw := range page.Data {
		a := &Approval{Record: newRecord(raw)}
		// Older releases ignore the run filter.
		if runID != 0 && a.RunID() != 0 && a.RunID() != runID {
			continue
		}
		approvals = append(approvals, a)
	}
	return approvals, nil
}

// Answer approves a prompt with the given responses.
func (s *approvalService) Answer(ctx context.Context, approvalID int64, responses []string) error {
	if approvalID == 0 {
		return &ReferenceError{Op: "answer approval", Resource: "approval"}
	}
	body := map[string]any{
		"status":    "approve",
		"type":      "manual",
		"action":    "prompt",
		"message":   "",
		"responses": responses,
	}
	err := send(ctx, s.gw, http.MethodPost, idPath("approval", approvalID), nil, body, nil)
	return notFound(err, "approval", approvalID)
}
