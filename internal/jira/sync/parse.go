package sync

import (
	"encoding/json"
	"fmt"

	"github.com/devos-platform/agent-orchestrator/internal/jira/adf"
)

type issuePayload struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary     string   `json:"summary"`
		Description adf.Doc  `json:"description"`
		Status      struct{ Name string } `json:"status"`
	} `json:"fields"`
}

func parseCreatedIssue(raw []byte) (issueID, issueKey string, err error) {
	var payload issuePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", fmt.Errorf("sync: decoding created issue: %w", err)
	}
	if payload.Key == "" {
		return "", "", fmt.Errorf("sync: created issue response missing key")
	}
	return payload.ID, payload.Key, nil
}

func parseIssue(raw []byte) (summary string, description adf.Doc, statusName string, err error) {
	var payload issuePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", adf.Doc{}, "", fmt.Errorf("sync: decoding issue: %w", err)
	}
	return payload.Fields.Summary, payload.Fields.Description, payload.Fields.Status.Name, nil
}

func parseIssueIdentity(raw []byte) (issueID, issueKey string, err error) {
	var payload issuePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", "", fmt.Errorf("sync: decoding issue identity: %w", err)
	}
	return payload.ID, payload.Key, nil
}
