package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var errMissingDispatcher = errors.New("dispatch: dispatcher is required")

// Transport serves requests addressed to the mock host from a Dispatcher and
// forwards everything else to Next.
type Transport struct {
	dispatcher *Dispatcher
	host       string
	next       http.RoundTripper
}

// NewTransport builds a Transport. A nil next falls back to http.DefaultTransport.
func NewTransport(dispatcher *Dispatcher, next http.RoundTripper) (*Transport, error) {
	if dispatcher == nil {
		return nil, errMissingDispatcher
	}
	parsed, err := url.Parse(dispatcher.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("dispatch: parse base url: %w", err)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{dispatcher: dispatcher, host: strings.ToLower(parsed.Host), next: next}, nil
}

// NewClient returns an http.Client whose requests to the mock host never leave
// the process.
func NewClient(dispatcher *Dispatcher) (*http.Client, error) {
	transport, err := NewTransport(dispatcher, nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport}, nil
}

// Intercepts reports whether request is served by the dispatcher.
func (t *Transport) Intercepts(request *http.Request) bool {
	return request != nil && request.URL != nil && strings.ToLower(request.URL.Host) == t.host
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	if !t.Intercepts(request) {
		return t.next.RoundTrip(request)
	}

	var body []byte
	if request.Body != nil {
		defer request.Body.Close()
		payload, err := io.ReadAll(request.Body)
		if err != nil {
			return nil, fmt.Errorf("dispatch: read request body: %w", err)
		}
		body = payload
	}

	ctx := request.Context()
	response := t.dispatcher.Do(ctx, Request{
		Method: request.Method,
		URL:    request.URL.String(),
		Header: request.Header.Clone(),
		Body:   body,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	header := response.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(response.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", response.Status, http.StatusText(response.Status)),
		StatusCode:    response.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(response.Body)),
		ContentLength: int64(len(response.Body)),
		Request:       request,
	}, nil
}
