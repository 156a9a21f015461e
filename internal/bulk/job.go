package bulk

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/bulkforce/internal/auth"
)

// CreateJob opens a job for spec.
func (c *Client) CreateJob(ctx context.Context, cred auth.Credential, spec JobSpec) (*JobInfo, error) {
	const action = "create job"

	if !ValidOperation(spec.Operation) {
		return nil, fmt.Errorf("%s: unsupported operation %q", action, spec.Operation)
	}
	if spec.ContentType == "" {
		spec.ContentType = ContentJSON
	}

	resp, err := c.doJSON(ctx, cred, request{
		action:   action,
		method:   http.MethodPost,
		expected: http.StatusCreated,
	}, spec)
	if err != nil {
		return nil, err
	}

	var info JobInfo
	if err := c.decode(action, resp, &info); err != nil {
		return nil, err
	}
	c.logger.Info("created job", "job_id", info.ID, "operation", spec.Operation, "object", spec.Object)
	return &info, nil
}

// GetJob returns the current details of a job.
func (c *Client) GetJob(ctx context.Context, cred auth.Credential, jobID string) (*JobInfo, error) {
	const action = "get job details"

	resp, err := c.do(ctx, cred, request{
		action:   action,
		method:   http.MethodGet,
		path:     []string{jobID},
		expected: http.StatusOK,
	})
	if err != nil {
		return nil, err
	}

	var info JobInfo
	if err := c.decode(action, resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CloseJob moves a job to the Closed state so no more batches are accepted.
func (c *Client) CloseJob(ctx context.Context, cred auth.Credential, jobID string) error {
	_, err := c.doJSON(ctx, cred, request{
		action:   "close job",
		method:   http.MethodPost,
		path:     []string{jobID},
		expected: http.StatusOK,
	}, map[string]string{"state": "Closed"})
	if err != nil {
		return err
	}
	c.logger.Info("closed job", "job_id", jobID)
	return nil
}
