// Package rest deletes records through the synchronous sObject REST
// endpoint. It is used to clean up after loads, not for bulk work.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/record"
)

// Defaults used when Client fields are zero.
const (
	DefaultAPIVersion = "20.0"
	DefaultWorkers    = 8
)

// Client issues sObject deletes.
type Client struct {
	// APIVersion selects /services/data/v{version}.
	APIVersion string
	// Workers bounds concurrent deletes.
	Workers int
	// Limiter paces requests when set.
	Limiter    *rate.Limiter
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DeleteError reports a record the service did not delete.
type DeleteError struct {
	Object    string
	ID        string
	ErrorCode string
	Message   string
	Err       error
}

func (e *DeleteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to delete record %s from %s due to unexpected error: %v", e.ID, e.Object, e.Err)
	}
	return fmt.Sprintf("failed to delete record %s from %s. Error received: %s; %s", e.ID, e.Object, e.ErrorCode, e.Message)
}

func (e *DeleteError) Unwrap() error { return e.Err }

type apiError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// IDs returns the record ids of rows, read from the id field in any case.
// Rows without an id are skipped.
func IDs(rows []record.Row) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		for _, f := range r {
			if strings.EqualFold(f.Name, "id") {
				if id := record.FormatValue(f.Value); id != "" {
					ids = append(ids, id)
				}
				break
			}
		}
	}
	return ids
}

// DeleteRecords deletes every id from object and returns how many were
// deleted. All ids are attempted; the first failure is returned.
func (c *Client) DeleteRecords(ctx context.Context, cred auth.Credential, object string, ids []string) (int, error) {
	var deleted atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(c.workers())
	for _, id := range ids {
		g.Go(func() error {
			if err := c.deleteRecord(ctx, cred, object, id); err != nil {
				return err
			}
			deleted.Add(1)
			return nil
		})
	}
	err := g.Wait()

	n := int(deleted.Load())
	c.logger().Info("deleted records", "object", object, "deleted", n, "requested", len(ids))
	return n, err
}

func (c *Client) deleteRecord(ctx context.Context, cred auth.Credential, object, id string) error {
	fail := func(err error) error {
		return &DeleteError{Object: object, ID: id, Err: err}
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	endpoint := fmt.Sprintf("%s/services/data/v%s/sobjects/%s/%s",
		strings.TrimRight(cred.InstanceURL, "/"), c.apiVersion(), url.PathEscape(object), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		c.logger().Debug("deleted record", "object", object, "id", id)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(err)
	}
	var errs []apiError
	if jsonErr := json.Unmarshal(body, &errs); jsonErr != nil || len(errs) == 0 {
		return &DeleteError{Object: object, ID: id, ErrorCode: resp.Status, Message: strings.TrimSpace(string(body))}
	}
	return &DeleteError{Object: object, ID: id, ErrorCode: errs[0].ErrorCode, Message: errs[0].Message}
}

func (c *Client) apiVersion() string {
	if c.APIVersion != "" {
		return c.APIVersion
	}
	return DefaultAPIVersion
}

func (c *Client) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultWorkers
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
