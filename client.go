// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Implements the client to access the REST API and the live dump streams of a
// svcdebug service.

package svcdebug

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/siemens/svcdebug/api"
)

// ErrNotFound is matched by errors about hosts or tasks unknown to the
// svcdebug service.
var ErrNotFound = errors.New("not found")

// ServiceError is an error reported by the svcdebug service.
type ServiceError struct {
	StatusCode int
	Detail     string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("svcdebug service error %d: %s", e.StatusCode, e.Detail)
}

// Is allows matching a 404 ServiceError against ErrNotFound.
func (e *ServiceError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to a svcdebug service reachable at a given URL.
type Client struct {
	// URL of the svcdebug service, without the API path.
	serviceurl *url.URL
	opts       ClientOptions
	httpclient *http.Client
	// Cached hosts
	cache HostCache
}

// NewClient returns a new client for the svcdebug service at the specified
// URL. If the URL lacks the http/s scheme, http is assumed.
func NewClient(serviceurl string, opts *ClientOptions) (*Client, error) {
	if !strings.HasPrefix(serviceurl, "http://") && !strings.HasPrefix(serviceurl, "https://") {
		serviceurl = "http://" + serviceurl
	}
	surl, err := url.Parse(serviceurl)
	if err != nil {
		return nil, errors.Wrap(err, "invalid svcdebug service URL")
	}
	// Don't accept fragments and query elements.
	if surl.User != nil || surl.Opaque != "" ||
		surl.RawQuery != "" || surl.Fragment != "" {
		return nil, errors.New("only host name, optional port number and path allowed")
	}
	c := &Client{
		serviceurl: surl,
		opts: ClientOptions{
			Timeout: DefaultServiceTimeout,
		},
	}
	if opts != nil {
		c.opts = *opts
		if c.opts.Timeout <= 0 {
			c.opts.Timeout = DefaultServiceTimeout
		}
	}
	httptrans := http.DefaultTransport.(*http.Transport).Clone()
	if c.opts.InsecureSkipVerify && surl.Scheme == "https" {
		httptrans.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	c.httpclient = &http.Client{
		Timeout:   c.opts.Timeout,
		Transport: httptrans,
	}
	return c, nil
}

// URL returns the service URL of this client.
func (c *Client) URL() string {
	return c.serviceurl.String()
}

// apiURL returns the URL for the specified API path elements.
func (c *Client) apiURL(scheme string, elems ...string) *url.URL {
	apiurl := *c.serviceurl
	if scheme != "" {
		apiurl.Scheme = scheme
	}
	apiurl.Path = path.Join(append([]string{apiurl.Path, "api/v1"}, elems...)...)
	return &apiurl
}

// do sends a REST API request with an optional JSON body, and decodes the
// JSON response into result, unless nil.
func (c *Client) do(method string, apiurl *url.URL, body interface{}, result interface{}) error {
	var reqbody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "cannot encode request")
		}
		reqbody = bytes.NewReader(b)
	}
	log.Debugf("%s %s, time limit %s", method, apiurl.String(), c.opts.Timeout)
	req, err := http.NewRequest(method, apiurl.String(), reqbody)
	if err != nil {
		return errors.Wrap(err, "cannot create new HTTP request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.BearerToken)
	}
	res, err := c.httpclient.Do(req)
	if err != nil {
		return errors.Wrap(err, "svcdebug service request failed")
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var detail api.DetailResponse
		if err := json.NewDecoder(res.Body).Decode(&detail); err != nil || detail.Detail == "" {
			detail.Detail = http.StatusText(res.StatusCode)
		}
		return &ServiceError{StatusCode: res.StatusCode, Detail: detail.Detail}
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(result); err != nil {
		return errors.Wrap(err, "cannot decode svcdebug service response")
	}
	return nil
}

// Hosts returns the registered hosts, caching them for later lookups.
func (c *Client) Hosts() (api.Hosts, error) {
	var hosts api.Hosts
	if err := c.do(http.MethodGet, c.apiURL("", "hosts"), nil, &hosts); err != nil {
		return nil, err
	}
	c.cache.Set(hosts)
	return hosts, nil
}

// Host returns the host with the specified ID.
func (c *Client) Host(id int) (*api.Host, error) {
	var host api.Host
	if err := c.do(http.MethodGet, c.apiURL("", "hosts", strconv.Itoa(id)), nil, &host); err != nil {
		return nil, err
	}
	return &host, nil
}

// Lookup returns the host with the specified ID or name, using the cached
// hosts if possible.
func (c *Client) Lookup(idOrName string) (*api.Host, error) {
	if c.cache.IsEmpty() {
		if _, err := c.Hosts(); err != nil {
			return nil, err
		}
	}
	if h, ok := c.cache.Lookup(idOrName); ok {
		return h, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "no unique host %q", idOrName)
}

// Clear the internally cached hosts: the next lookup will automatically get a
// fresh set.
func (c *Client) Clear() {
	c.cache.Clear()
}

// AddHost registers a new host, returning its ID.
func (c *Client) AddHost(host *api.Host) (int, error) {
	var resp api.IDResponse
	if err := c.do(http.MethodPost, c.apiURL("", "hosts"), host, &resp); err != nil {
		return 0, err
	}
	c.cache.Clear()
	return resp.ID, nil
}

// UpdateHost updates the registered host with the specified ID.
func (c *Client) UpdateHost(id int, host *api.Host) error {
	c.cache.Clear()
	return c.do(http.MethodPut, c.apiURL("", "hosts", strconv.Itoa(id)), host, nil)
}

// DeleteHost unregisters the host with the specified ID.
func (c *Client) DeleteHost(id int) error {
	c.cache.Clear()
	return c.do(http.MethodDelete, c.apiURL("", "hosts", strconv.Itoa(id)), nil, nil)
}

// Tasks returns the dump tasks of the service.
func (c *Client) Tasks() (api.Tasks, error) {
	var tasks api.Tasks
	if err := c.do(http.MethodGet, c.apiURL("", "tasks"), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Task returns the dump task with the specified ID.
func (c *Client) Task(id string) (*api.Task, error) {
	var task api.Task
	if err := c.do(http.MethodGet, c.apiURL("", "tasks", id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// StartTask starts a new dump task.
func (c *Client) StartTask(req *api.TaskRequest) (*api.Task, error) {
	var task api.Task
	if err := c.do(http.MethodPost, c.apiURL("", "tasks"), req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// StopTask stops and removes the dump task with the specified ID, returning
// its final state.
func (c *Client) StopTask(id string) (*api.Task, error) {
	var task api.Task
	if err := c.do(http.MethodDelete, c.apiURL("", "tasks", id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Capture captures network traffic live on the specified host and sends the
// captured packet stream to the writer w, in pcapng format unless specified
// otherwise.
func (c *Client) Capture(w io.Writer, hostID int, opts *PcapOptions) (StreamReceiver, error) {
	if opts == nil {
		opts = &PcapOptions{}
	}
	query := url.Values{}
	if opts.Interface != "" {
		query.Set("interface", opts.Interface)
	}
	if opts.Filter != "" {
		query.Set("filter", opts.Filter)
	}
	if opts.Format != "" {
		query.Set("format", string(opts.Format))
	}
	return c.stream(w, "capture", hostID, query)
}

// FollowLog follows the specified file live on a host and sends the log
// stream to the writer w.
func (c *Client) FollowLog(w io.Writer, hostID int, file string) (StreamReceiver, error) {
	query := url.Values{}
	query.Set("file", file)
	return c.stream(w, "logs", hostID, query)
}

func (c *Client) stream(w io.Writer, kind string, hostID int, query url.Values) (StreamReceiver, error) {
	scheme := "ws"
	if c.serviceurl.Scheme == "https" {
		scheme = "wss"
	}
	apiurl := c.apiURL(scheme, "hosts", strconv.Itoa(hostID), kind)
	apiurl.RawQuery = query.Encode()
	header := http.Header{}
	if c.opts.BearerToken != "" {
		header.Set("Authorization", "Bearer "+c.opts.BearerToken)
	}
	log.Debugf("connecting to svcdebug stream %q, time limit %s", apiurl.String(), c.opts.Timeout)
	wsd := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.Timeout,
	}
	if c.opts.InsecureSkipVerify && scheme == "wss" {
		wsd.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	wscon, resp, err := wsd.Dial(apiurl.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			var detail api.DetailResponse
			if json.NewDecoder(resp.Body).Decode(&detail) == nil && detail.Detail != "" {
				return nil, &ServiceError{StatusCode: resp.StatusCode, Detail: detail.Detail}
			}
			return nil, &ServiceError{StatusCode: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
		}
		return nil, errors.Wrap(err, "cannot contact svcdebug service via websocket")
	}
	log.Debugf("svcdebug stream initial HTTP response: %s", resp.Status)
	return ReceiveStream(w, wscon), nil
}
