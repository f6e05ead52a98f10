package couch

import (
	"encoding/base64"
	"encoding/json"
)

// DatabaseInfo is the per-database metadata returned by `GET /{db}`.
type DatabaseInfo struct {
	DBName   string `json:"db_name"`
	DocCount int64  `json:"doc_count"`
	DataSize int64  `json:"data_size"`
}

// ViewDef is a single view (index) definition inside a design document.
type ViewDef struct {
	Map    string `json:"map,omitempty"`
	Reduce string `json:"reduce,omitempty"`
}

// DesignDoc is a design document holding view and filter definitions.
type DesignDoc struct {
	ID       string             `json:"_id"`
	Rev      string             `json:"_rev,omitempty"`
	Language string             `json:"language,omitempty"`
	Views    map[string]ViewDef `json:"views,omitempty"`
	Filters  map[string]string  `json:"filters,omitempty"`
}

// Credentials is a login/password pair for basic authentication.
type Credentials struct {
	Login    string
	Password string
}

// BasicAuthHeader returns the precomputed Authorization header value.
func (c *Credentials) BasicAuthHeader() string {
	raw := c.Login + ":" + c.Password

	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// Endpoint is a source or target reference inside a replication job document.
// It marshals as a plain URL string unless headers are attached, in which case
// the server expects the `{url, headers}` object form.
type Endpoint struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (e Endpoint) MarshalJSON() ([]byte, error) {
	if len(e.Headers) == 0 {
		return json.Marshal(e.URL) //nolint:wrapcheck
	}

	type endpoint Endpoint // avoid recursion

	return json.Marshal(endpoint(e)) //nolint:wrapcheck
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.URL) //nolint:wrapcheck
	}

	type endpoint Endpoint

	return json.Unmarshal(data, (*endpoint)(e)) //nolint:wrapcheck
}

// ReplicationJob is the job document posted to the `_replicate` endpoint.
// The replication engine on the receiving side performs the actual HTTP calls
// to both endpoints, so credentials must travel inside the endpoint headers.
type ReplicationJob struct {
	Source       Endpoint `json:"source"`
	Target       Endpoint `json:"target"`
	Continuous   bool     `json:"continuous"`
	CreateTarget bool     `json:"create_target"`
	Filter       string   `json:"filter,omitempty"`
}

// ReplicationResult is the response of the `_replicate` endpoint.
type ReplicationResult struct {
	OK        bool `json:"ok"`
	NoChanges bool `json:"no_changes"`
}

// AllDocsRow is one row of an `_all_docs` response.
type AllDocsRow struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// AllDocsResponse is the response of an `_all_docs` range query.
type AllDocsResponse struct {
	TotalRows int64        `json:"total_rows"`
	Rows      []AllDocsRow `json:"rows"`
}
