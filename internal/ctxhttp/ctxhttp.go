// Package ctxhttp adapts HTTP clients from SDKs that take no context so
// their requests still honour cancellation.
package ctxhttp

import (
	"context"
	"net/http"
	"net/url"
)

// Transport sends every request with Ctx and appends Query to its URL.
type Transport struct {
	Base  http.RoundTripper
	Ctx   context.Context
	Query url.Values
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := t.Ctx
	if ctx == nil {
		ctx = req.Context()
	}
	r := req.Clone(ctx)
	if len(t.Query) > 0 {
		q := r.URL.Query()
		for k, vs := range t.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		r.URL.RawQuery = q.Encode()
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// Client returns a copy of base bound to ctx. The base timeout moves into
// the context, so cancel must be called once the response has been read.
func Client(ctx context.Context, base *http.Client, query url.Values) (http.Client, context.CancelFunc) {
	if base == nil {
		base = http.DefaultClient
	}
	cancel := context.CancelFunc(func() {})
	if base.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, base.Timeout)
	}
	return http.Client{
		Transport:     &Transport{Base: base.Transport, Ctx: ctx, Query: query},
		Jar:           base.Jar,
		CheckRedirect: base.CheckRedirect,
	}, cancel
}
