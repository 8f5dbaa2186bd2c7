package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
)

// WorkflowTrigger starts the processing workflow for a project after upload.
type WorkflowTrigger struct {
	client   *executions.Client
	parent   string
	workflow string
}

// NewWorkflowTrigger creates an executions client for projects/{p}/locations/{l}/workflows/{w}.
func NewWorkflowTrigger(ctx context.Context, projectID, location, workflowID string) (*WorkflowTrigger, error) {
	if projectID == "" || location == "" || workflowID == "" {
		return nil, fmt.Errorf("NewWorkflowTrigger: projectID, location and workflowID cannot be empty")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowTrigger{
		client:   client,
		parent:   fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
		workflow: workflowID,
	}, nil
}

// Trigger starts one execution and returns its resource name.
func (t *WorkflowTrigger) Trigger(ctx context.Context, projectID, manifestURL string, pageCount int) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"projectId":   projectID,
		"manifestUrl": manifestURL,
		"pageCount":   pageCount,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := t.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: t.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow %s: %w", t.workflow, err)
	}
	return exec.GetName(), nil
}

func (t *WorkflowTrigger) Close() error {
	return t.client.Close()
}
