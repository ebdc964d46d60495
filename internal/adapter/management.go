package adapter

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"nictopo/internal/domain"
)

// ManagementConfig configures the management-controller adapters
type ManagementConfig struct {
	// RequestTimeout bounds each HTTP request
	RequestTimeout time.Duration
	InsecureTLS    bool
	// Rate paces requests to each controller, per second. Zero means
	// unpaced.
	Rate  float64
	Burst int
	// Prober checks the controller is reachable before any request. Nil
	// disables the check.
	Prober Prober
}

// Prober checks whether a controller address accepts connections
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// HTTPError is a non-success HTTP response
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	msg := e.Status
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s %s: %s (%s)", e.Method, e.URL, e.Body, msg)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Method, e.URL, msg)
}

func newHTTPClient(cfg ManagementConfig) *http.Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// managementClient talks to one controller
type managementClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cred       *domain.Credential
}

func newManagementClient(address string, cred *domain.Credential, httpClient *http.Client, cfg ManagementConfig) *managementClient {
	c := &managementClient{
		baseURL:    controllerURL(address),
		httpClient: httpClient,
		cred:       cred,
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return c
}

// controllerURL accepts a bare host or a full URL
func controllerURL(address string) string {
	address = strings.TrimRight(address, "/")
	if strings.Contains(address, "://") {
		return address
	}
	return "https://" + address
}

// do paces and sends a request; non-2xx responses become HTTPError
func (c *managementClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, httpErrorFromResponse(req.Method, req.URL.String(), resp)
	}
	return resp, nil
}

// getJSON fetches a resource with basic auth. Undecodable bodies are
// format errors, everything else is a transport error.
func (c *managementClient) getJSON(ctx context.Context, path string, out any) error {
	url := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cred.Username(), c.cred.Password())

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrFormat, path, err)
	}
	return nil
}

// postXML sends an XML document, optionally with a session cookie
func (c *managementClient) postXML(ctx context.Context, path string, payload any, cookie *http.Cookie, out any) error {
	body, err := xml.Marshal(payload)
	if err != nil {
		return err
	}

	url := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/xml")
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrFormat, path, err)
	}
	return nil
}

func (c *managementClient) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func httpErrorFromResponse(method, url string, resp *http.Response) error {
	// Bound memory usage; only a snippet is kept for diagnostics
	const maxBody = 4 * 1024
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	return &HTTPError{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(b)),
	}
}

// managementPreconditions returns a skip or failure result when a
// management adapter cannot run for host, or nil when it can
func managementPreconditions(ctx context.Context, name string, host domain.HostTarget, creds domain.Credentials, prober Prober) *Result {
	if !creds.Management.Usable() {
		r := Skipped(name, "no management credentials")
		return &r
	}
	if host.ManagementAddress == "" {
		r := Skipped(name, "no management address")
		return &r
	}
	if prober != nil {
		if err := prober.Probe(ctx, host.ManagementAddress); err != nil {
			r := Failed(name, domain.NewTransportError(name, "preflight", err))
			return &r
		}
	}
	return nil
}
