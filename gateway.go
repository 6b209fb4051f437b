package soar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tphakala/go-soar/internal/api"
)

// Query holds SOAR REST parameters such as _filter_* expressions, page and
// page_size. String values are JSON-quoted on the wire as SOAR expects.
type Query map[string]any

// Request is a single SOAR REST call. Path is relative to /rest, or to the
// instance root when Root is set. A Body implementing io.Reader is sent
// unencoded with the Content-Type given in Headers.
type Request struct {
	Method  string
	Path    string
	Query   Query
	Body    any
	Headers http.Header
	Root    bool
}

// Gateway sends SOAR REST requests. Send decodes a successful JSON reply
// into out (when non-nil) and returns a typed error for non-2xx replies.
// When out is an io.Writer the reply body is copied to it instead.
//
// The production Gateway is built by NewClient; tests and callers with
// special needs can substitute their own with WithGateway.
type Gateway interface {
	Send(ctx context.Context, req *Request, out any) error
}

// restGateway implements Gateway over the HTTP transport.
type restGateway struct {
	transport *api.Transport
}

func (g *restGateway) Send(ctx context.Context, req *Request, out any) error {
	apiReq := &api.Request{
		Method:  req.Method,
		Path:    req.Path,
		Query:   api.EncodeQuery(req.Query),
		Body:    req.Body,
		Headers: req.Headers,
		Root:    req.Root,
	}

	var (
		resp *api.Response
		err  error
	)
	if w, ok := out.(io.Writer); ok {
		resp, err = g.transport.Download(ctx, apiReq, w)
	} else {
		resp, err = g.transport.DoJSON(ctx, apiReq, out)
	}
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		err := parseError(resp.StatusCode, resp.Body, resp.Headers)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.Method = req.Method
			apiErr.Path = req.Path
		}
		return err
	}

	return nil
}

// listPage is the envelope of SOAR list endpoints.
type listPage struct {
	Count    int              `json:"count"`
	NumPages int              `json:"num_pages"`
	Data     []map[string]any `json:"data"`
}

// send is a small helper so services read like the transport calls they make.
func send(ctx context.Context, gw Gateway, method, path string, query Query, body, out any) error {
	return gw.Send(ctx, &Request{
		Method: method,
		Path:   path,
		Query:  query,
		Body:   body,
	}, out)
}

// getRecord fetches a single object and returns its raw fields.
func getRecord(ctx context.Context, gw Gateway, path string, query Query) (map[string]any, error) {
	var out map[string]any
	if err := send(ctx, gw, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// createdID extracts the id from a create reply ({"id": 1, "success": true}).
func createdID(reply map[string]any, resource string) (int64, error) {
	id, ok := toInt(reply["id"])
	if !ok || id == 0 {
		return 0, fmt.Errorf("soar: %s create reply carried no id", resource)
	}
	return id, nil
}

func idPath(resource string, id int64, suffix ...string) string {
	p := fmt.Sprintf("%s/%d", resource, id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}
