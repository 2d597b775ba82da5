// Package client calls a gantryd control server.
package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/imroc/req"

	"github.com/yimuchen/GantryMQ/logging"
	"github.com/yimuchen/GantryMQ/server"
	"github.com/yimuchen/GantryMQ/state"
)

// RemoteError is an exception reported by the server
type RemoteError struct {
	Status    int
	Exception string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("Server returned %d: %s", e.Status, e.Exception)
}

type ApiClient struct {
	ApiPrefix string
	ClientID  string

	// Messages receives the log records shipped with every response
	Messages func([]logging.Record)

	r *req.Req
}

// New creates a client for the server at address (host:port or URL)
func New(address, clientID string) *ApiClient {
	prefix := strings.TrimRight(address, "/")
	if !strings.Contains(prefix, "://") {
		prefix = "http://" + prefix
	}

	return &ApiClient{
		ApiPrefix: prefix + "/api",
		ClientID:  clientID,
		r:         req.New(),
	}
}

func (c *ApiClient) header() req.Header {
	return req.Header{
		server.ClientIDHeader: c.ClientID,
	}
}

func (c *ApiClient) decode(r *req.Resp, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}

	var resp server.Response
	if err := r.ToJSON(&resp); err != nil {
		return nil, fmt.Errorf("Bad response (%s): %w", r.Response().Status, err)
	}
	if c.Messages != nil && len(resp.Messages) > 0 {
		c.Messages(resp.Messages)
	}

	if code := r.Response().StatusCode; code != 200 {
		return nil, &RemoteError{Status: code, Exception: resp.Exception}
	}
	return resp.Return, nil
}

func (c *ApiClient) get(path string) (json.RawMessage, error) {
	return c.decode(c.r.Get(c.ApiPrefix+path, c.header()))
}

func (c *ApiClient) post(path string, body interface{}) (json.RawMessage, error) {
	if body == nil {
		return c.decode(c.r.Post(c.ApiPrefix+path, c.header()))
	}
	return c.decode(c.r.Post(c.ApiPrefix+path, c.header(), req.BodyJSON(body)))
}

// Call runs method on instance with positional arguments and returns the
// raw JSON return value
func (c *ApiClient) Call(instance, method string, args ...interface{}) (json.RawMessage, error) {
	var body server.CallRequest
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		body.Args = append(body.Args, raw)
	}
	return c.post(fmt.Sprintf("/call/%s/%s", instance, method), &body)
}

// CallInto runs method and decodes its return value into out
func (c *ApiClient) CallInto(out interface{}, instance, method string, args ...interface{}) error {
	raw, err := c.Call(instance, method, args...)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Claim takes the operator claim, from another client if needed
func (c *ApiClient) Claim() error {
	_, err := c.post("/operator/claim", nil)
	return err
}

// Release gives up the operator claim
func (c *ApiClient) Release() error {
	_, err := c.post("/operator/release", nil)
	return err
}

// IsOperator reports whether this client holds the operator claim
func (c *ApiClient) IsOperator() (bool, error) {
	raw, err := c.get("/operator")
	if err != nil {
		return false, err
	}
	var is bool
	err = json.Unmarshal(raw, &is)
	return is, err
}

// Instances lists the instruments served
func (c *ApiClient) Instances() ([]server.InstanceInfo, error) {
	raw, err := c.get("/instances")
	if err != nil {
		return nil, err
	}
	var infos []server.InstanceInfo
	err = json.Unmarshal(raw, &infos)
	return infos, err
}

// State returns the last recorded operations of instance
func (c *ApiClient) State(instance string) ([]state.Record, error) {
	raw, err := c.get("/state/" + instance)
	if err != nil {
		return nil, err
	}
	var records []state.Record
	err = json.Unmarshal(raw, &records)
	return records, err
}
