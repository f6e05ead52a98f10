// Package couch is a typed HTTP client for the CouchDB API surface that
// couchup drives: database enumeration and metadata, design document CRUD,
// view queries, the replication trigger, and database deletion.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/couchup/couchup/errors"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}

	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsTimeout reports whether err is caused by an expired or canceled deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Client is a CouchDB endpoint client.
type Client struct {
	baseURL string
	creds   *Credentials
	hc      *http.Client
}

// NewClient creates a client for the endpoint at baseURL. creds may be nil.
func NewClient(baseURL string, creds *Credentials) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		hc:      &http.Client{},
	}
}

// BaseURL returns the endpoint base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Credentials returns the client credentials, or nil.
func (c *Client) Credentials() *Credentials {
	return c.creds
}

// DatabaseURL returns the absolute, escaped URL of a database. It is used to
// reference the database inside replication job documents.
func (c *Client) DatabaseURL(db string) string {
	return c.baseURL + "/" + url.PathEscape(db)
}

// AllDBs returns the flat list of database names visible on the endpoint.
func (c *Client) AllDBs(ctx context.Context) ([]string, error) {
	var names []string

	err := c.doJSON(ctx, http.MethodGet, "/_all_dbs", nil, &names)
	if err != nil {
		return nil, err
	}

	return names, nil
}

// DatabaseInfo returns the metadata of a database. A missing database is an
// APIError with status 404, detectable via [IsNotFound].
func (c *Client) DatabaseInfo(ctx context.Context, db string) (*DatabaseInfo, error) {
	info := &DatabaseInfo{}

	err := c.doJSON(ctx, http.MethodGet, "/"+url.PathEscape(db), nil, info)
	if err != nil {
		return nil, err
	}

	return info, nil
}

// GetDesignDoc fetches the design document `_design/{name}` of a database.
func (c *Client) GetDesignDoc(ctx context.Context, db, name string) (*DesignDoc, error) {
	doc := &DesignDoc{}

	path := "/" + url.PathEscape(db) + "/_design/" + url.PathEscape(name)

	err := c.doJSON(ctx, http.MethodGet, path, nil, doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// PutDesignDoc creates or updates a design document.
func (c *Client) PutDesignDoc(ctx context.Context, db string, doc *DesignDoc) error {
	path := "/" + url.PathEscape(db) + "/" + doc.ID

	return c.doJSON(ctx, http.MethodPut, path, doc, nil)
}

// DesignDocIDs returns the ids of all design documents of a database, using a
// range query over the `_design/` key prefix.
func (c *Client) DesignDocIDs(ctx context.Context, db string) ([]string, error) {
	query := url.Values{
		"startkey": {`"_design/"`},
		"endkey":   {`"_design0"`},
	}
	path := "/" + url.PathEscape(db) + "/_all_docs?" + query.Encode()

	var res AllDocsResponse

	err := c.doJSON(ctx, http.MethodGet, path, nil, &res)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		ids = append(ids, row.ID)
	}

	return ids, nil
}

// QueryView reads at most limit rows from a view. The read blocks until the
// view index is up to date, so callers bound it with a context deadline.
func (c *Client) QueryView(ctx context.Context, db, ddoc, view string, limit int) error {
	path := "/" + url.PathEscape(db) +
		"/_design/" + url.PathEscape(ddoc) +
		"/_view/" + url.PathEscape(view) +
		"?limit=" + strconv.Itoa(limit)

	return c.doJSON(ctx, http.MethodGet, path, nil, nil)
}

// Replicate posts a replication job document to the `_replicate` endpoint.
func (c *Client) Replicate(ctx context.Context, job *ReplicationJob) (*ReplicationResult, error) {
	res := &ReplicationResult{}

	err := c.doJSON(ctx, http.MethodPost, "/_replicate", job, res)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// DeleteDB deletes a database on the endpoint.
func (c *Client) DeleteDB(ctx context.Context, db string) error {
	return c.doJSON(ctx, http.MethodDelete, "/"+url.PathEscape(db), nil, nil)
}

// doJSON performs a request with a JSON body and decodes the JSON response
// into respData when non-nil. Any non-2xx status is returned as an *APIError
// carrying the response body. A shape mismatch on decode is an error: the
// client fails closed rather than trusting loosely-typed access.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respData any) error {
	var body io.Reader

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.creds != nil {
		req.Header.Set("Authorization", c.creds.BasicAuthHeader())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if urlErr := errors.Unwrap(err); urlErr != nil {
			err = urlErr // drop the *url.Error noise
		}

		return errors.Wrap(err, method+" "+path)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	if respData != nil && len(data) > 0 {
		err = json.Unmarshal(data, respData)
		if err != nil {
			return errors.Wrapf(err, "decode %s %s response", method, path)
		}
	}

	return nil
}
