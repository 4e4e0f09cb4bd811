// Package kube provides a client for the Kubernetes API server.
//
// The client talks to the REST API directly over net/http rather than
// pulling in the full client machinery: the agent only needs a small,
// fixed set of resource operations, all of which are plain JSON calls.
package kube

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/kubechat/kubechat/internal/httpkit"
)

// Service account paths used for in-cluster configuration.
const (
	serviceAccountDir = "/var/run/secrets/kubernetes.io/serviceaccount"
	tokenFile         = serviceAccountDir + "/token"
	caFile            = serviceAccountDir + "/ca.crt"
)

// APIError is a non-2xx response from the API server, carrying the
// status message the server returned so the agent can surface it verbatim.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("kubernetes API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("kubernetes API error %d", e.StatusCode)
}

// IsNotFound reports whether err is an APIError for a missing resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Option configures a Client.
type Option func(*Client)

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify() Option {
	return func(c *Client) { c.insecure = true }
}

// WithRootCAs sets the CA pool used to verify the API server certificate.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(c *Client) { c.rootCAs = pool }
}

// Client is a Kubernetes API server client.
type Client struct {
	baseURL    string
	token      string
	logger     *slog.Logger
	httpClient *http.Client
	insecure   bool
	rootCAs    *x509.CertPool
}

// NewClient creates a client for the API server at baseURL, authenticating
// with the given bearer token.
func NewClient(baseURL, token string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}

	clientOpts := []httpkit.ClientOption{
		httpkit.WithTimeout(30 * time.Second),
		httpkit.WithRetry(2, time.Second),
		httpkit.WithLogger(logger),
	}
	if c.rootCAs != nil {
		clientOpts = append(clientOpts, httpkit.WithRootCAs(c.rootCAs))
	}
	if c.insecure {
		clientOpts = append(clientOpts, httpkit.WithTLSInsecureSkipVerify())
	}
	c.httpClient = httpkit.NewClient(clientOpts...)

	return c
}

// NewInClusterClient creates a client from the pod's service account:
// token and CA bundle from the serviceaccount mount, API server address
// from the KUBERNETES_SERVICE_HOST/PORT environment.
func NewInClusterClient(logger *slog.Logger) (*Client, error) {
	host, port := os.Getenv("KUBERNETES_SERVICE_HOST"), os.Getenv("KUBERNETES_SERVICE_PORT")
	if host == "" || port == "" {
		return nil, fmt.Errorf("not running in cluster: KUBERNETES_SERVICE_HOST/PORT unset")
	}

	token, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read service account token: %w", err)
	}

	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read service account CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("service account CA contains no certificates")
	}

	baseURL := "https://" + host + ":" + port
	return NewClient(baseURL, string(bytes.TrimSpace(token)), logger, WithRootCAs(pool)), nil
}

// Ping checks that the API server is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Version(ctx)
	return err
}

// Version retrieves the API server version.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var v VersionInfo
	if err := c.get(ctx, "/version", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListNamespaces retrieves all namespaces.
func (c *Client) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	var list NamespaceList
	if err := c.get(ctx, "/api/v1/namespaces", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// CreateNamespace creates a namespace with the given name.
func (c *Client) CreateNamespace(ctx context.Context, name string) error {
	ns := Namespace{
		TypeMeta: TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		Metadata: ObjectMeta{Name: name},
	}
	return c.post(ctx, "/api/v1/namespaces", ns, nil)
}

// DeleteNamespace deletes a namespace by name.
func (c *Client) DeleteNamespace(ctx context.Context, name string) error {
	return c.delete(ctx, "/api/v1/namespaces/"+url.PathEscape(name))
}

// ListPods retrieves pods, cluster-wide when namespace is empty.
func (c *Client) ListPods(ctx context.Context, namespace string) ([]Pod, error) {
	path := "/api/v1/pods"
	if namespace != "" {
		path = "/api/v1/namespaces/" + url.PathEscape(namespace) + "/pods"
	}
	var list PodList
	if err := c.get(ctx, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// GetPod retrieves a single pod.
func (c *Client) GetPod(ctx context.Context, namespace, name string) (*Pod, error) {
	var pod Pod
	path := "/api/v1/namespaces/" + url.PathEscape(namespace) + "/pods/" + url.PathEscape(name)
	if err := c.get(ctx, path, nil, &pod); err != nil {
		return nil, err
	}
	return &pod, nil
}

// CreatePod creates a pod in the given namespace.
func (c *Client) CreatePod(ctx context.Context, namespace string, pod Pod) error {
	pod.TypeMeta = TypeMeta{APIVersion: "v1", Kind: "Pod"}
	return c.post(ctx, "/api/v1/namespaces/"+url.PathEscape(namespace)+"/pods", pod, nil)
}

// DeletePod deletes a pod.
func (c *Client) DeletePod(ctx context.Context, namespace, name string) error {
	return c.delete(ctx, "/api/v1/namespaces/"+url.PathEscape(namespace)+"/pods/"+url.PathEscape(name))
}

// PodLogs retrieves up to tailLines of a pod's log output.
func (c *Client) PodLogs(ctx context.Context, namespace, name string, tailLines int) (string, error) {
	path := "/api/v1/namespaces/" + url.PathEscape(namespace) + "/pods/" + url.PathEscape(name) + "/log"
	query := url.Values{}
	if tailLines > 0 {
		query.Set("tailLines", strconv.Itoa(tailLines))
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}

	// Log endpoint returns plain text, not JSON.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	return string(body), nil
}

// ListDeployments retrieves deployments, cluster-wide when namespace is empty.
func (c *Client) ListDeployments(ctx context.Context, namespace string) ([]Deployment, error) {
	path := "/apis/apps/v1/deployments"
	if namespace != "" {
		path = "/apis/apps/v1/namespaces/" + url.PathEscape(namespace) + "/deployments"
	}
	var list DeploymentList
	if err := c.get(ctx, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// GetDeployment retrieves a single deployment.
func (c *Client) GetDeployment(ctx context.Context, namespace, name string) (*Deployment, error) {
	var dep Deployment
	path := "/apis/apps/v1/namespaces/" + url.PathEscape(namespace) + "/deployments/" + url.PathEscape(name)
	if err := c.get(ctx, path, nil, &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

// CreateDeployment creates a deployment in the given namespace.
func (c *Client) CreateDeployment(ctx context.Context, namespace string, dep Deployment) error {
	dep.TypeMeta = TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"}
	return c.post(ctx, "/apis/apps/v1/namespaces/"+url.PathEscape(namespace)+"/deployments", dep, nil)
}

// DeleteDeployment deletes a deployment.
func (c *Client) DeleteDeployment(ctx context.Context, namespace, name string) error {
	return c.delete(ctx, "/apis/apps/v1/namespaces/"+url.PathEscape(namespace)+"/deployments/"+url.PathEscape(name))
}

// ScaleDeployment sets a deployment's replica count via the scale
// subresource using a JSON merge patch.
func (c *Client) ScaleDeployment(ctx context.Context, namespace, name string, replicas int) error {
	path := "/apis/apps/v1/namespaces/" + url.PathEscape(namespace) + "/deployments/" + url.PathEscape(name) + "/scale"
	patch := map[string]any{"spec": map[string]any{"replicas": replicas}}

	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal scale patch: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/merge-patch+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return nil
}

// ListServices retrieves services, cluster-wide when namespace is empty.
func (c *Client) ListServices(ctx context.Context, namespace string) ([]Service, error) {
	path := "/api/v1/services"
	if namespace != "" {
		path = "/api/v1/namespaces/" + url.PathEscape(namespace) + "/services"
	}
	var list ServiceList
	if err := c.get(ctx, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// CreateService creates a service in the given namespace.
func (c *Client) CreateService(ctx context.Context, namespace string, svc Service) error {
	svc.TypeMeta = TypeMeta{APIVersion: "v1", Kind: "Service"}
	return c.post(ctx, "/api/v1/namespaces/"+url.PathEscape(namespace)+"/services", svc, nil)
}

// DeleteService deletes a service.
func (c *Client) DeleteService(ctx context.Context, namespace, name string) error {
	return c.delete(ctx, "/api/v1/namespaces/"+url.PathEscape(namespace)+"/services/"+url.PathEscape(name))
}

// ListEvents retrieves recent events, cluster-wide when namespace is empty.
func (c *Client) ListEvents(ctx context.Context, namespace string, limit int) ([]Event, error) {
	path := "/api/v1/events"
	if namespace != "" {
		path = "/api/v1/namespaces/" + url.PathEscape(namespace) + "/events"
	}
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var list EventList
	if err := c.get(ctx, path, query, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// ListNodes retrieves all nodes.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	var list NodeList
	if err := c.get(ctx, "/api/v1/nodes", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// GetNode retrieves a single node.
func (c *Client) GetNode(ctx context.Context, name string) (*Node, error) {
	var node Node
	if err := c.get(ctx, "/api/v1/nodes/"+url.PathEscape(name), nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// newRequest builds an authenticated request for the API server.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// get performs a GET request and decodes the JSON response into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// post performs a POST request with a JSON body.
func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.statusError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// delete performs a DELETE request.
func (c *Client) delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return c.statusError(resp)
	}
	return nil
}

// statusError converts a non-2xx response into an APIError, preserving
// the server's Status message when the body parses as one.
func (c *Client) statusError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body := httpkit.ReadErrorBody(resp.Body, 2048)
	var status struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &status); err == nil && status.Message != "" {
		apiErr.Message = status.Message
		apiErr.Reason = status.Reason
	} else {
		apiErr.Message = body
	}

	return apiErr
}
