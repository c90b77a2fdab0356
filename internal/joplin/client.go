package joplin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joplinfs/joplinfs/internal/metrics"
)

// pingResponse is the body the clipper service answers on /ping; it
// distinguishes the service from whatever else grabbed the port.
const pingResponse = "JoplinClipperServer"

// Defaults matching the clipper service.
const (
	DefaultHost        = "http://127.0.0.1"
	DefaultPort        = 41184
	DefaultPortsToScan = 12
	DefaultTimeout     = 5 * time.Second
)

var (
	// ErrServiceNotFound means no port in the scanned range answered
	// like the clipper service.
	ErrServiceNotFound = errors.New("clipper service not found")

	// ErrBadToken means the service rejected the configured token.
	ErrBadToken = errors.New("token rejected by clipper service")
)

// Field sets requested per entity, mirroring what the bridge stores.
const (
	folderFields   = "id,parent_id,title,user_updated_time,user_created_time"
	noteFields     = "id,parent_id,title,user_updated_time,user_created_time"
	tagFields      = "id,title,user_updated_time,user_created_time"
	resourceFields = "id,title,size,user_updated_time,user_created_time"
	eventFields    = "id,item_id,item_type,created_time,type"
)

// Options configures a Client.
type Options struct {
	// Host is the base URL without port. Empty uses DefaultHost.
	Host string

	// Port is the first port probed. Zero uses DefaultPort.
	Port int

	// PortsToScan is how many consecutive ports to probe before
	// giving up. Zero uses DefaultPortsToScan.
	PortsToScan int

	// Token is the clipper authorization token.
	Token string

	// Timeout applies to every remote call. Zero uses
	// DefaultTimeout.
	Timeout time.Duration

	// Logger receives diagnostic messages. If nil, a default text
	// handler on stderr is used.
	Logger *slog.Logger

	// Metrics is optional; nil disables recording.
	Metrics *metrics.Collector
}

// Client talks to the clipper HTTP API. All list calls transparently
// accumulate every page of a paginated resource into one slice.
type Client struct {
	host        string
	token       string
	portsToScan int
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Collector

	// mu guards first-time connection setup: concurrent callers
	// racing to use the client before any call has completed must
	// not both run the port probe. Held only across the connected
	// check and, at most once, the probe itself.
	mu        sync.Mutex
	port      int
	connected bool
	http      *http.Client
}

// NewClient creates a client. No network traffic happens until
// Connect or the first call.
func NewClient(options Options) *Client {
	if options.Host == "" {
		options.Host = DefaultHost
	}
	if options.Port == 0 {
		options.Port = DefaultPort
	}
	if options.PortsToScan == 0 {
		options.PortsToScan = DefaultPortsToScan
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Client{
		host:        options.Host,
		token:       options.Token,
		portsToScan: options.PortsToScan,
		timeout:     options.Timeout,
		logger:      options.Logger,
		metrics:     options.Metrics,
		port:        options.Port,
		http:        &http.Client{Timeout: options.Timeout},
	}
}

// Connect locates the clipper service and verifies the token. The
// starting port may be taken by another application, so a small range
// of consecutive ports is probed. Startup should treat an error here
// as fatal; there is no degraded mode for an unreachable remote.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}

	found := false
	port := c.port
	for i := 0; i < c.portsToScan; i++ {
		body, _, err := c.rawGet(ctx, fmt.Sprintf("%s:%d/ping", c.host, port))
		if err == nil && string(body) == pingResponse {
			found = true
			break
		}
		port++
	}
	if !found {
		return fmt.Errorf("%w: scanned %d ports from %s:%d",
			ErrServiceNotFound, c.portsToScan, c.host, c.port)
	}
	c.port = port

	_, code, err := c.rawGet(ctx, fmt.Sprintf("%s:%d/notes?token=%s&fields=id",
		c.host, c.port, url.QueryEscape(c.token)))
	if err != nil {
		return fmt.Errorf("verifying token: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrBadToken, code)
	}

	c.connected = true
	c.logger.Info("connected to clipper service", "url", c.baseURLLocked())
	return nil
}

// ensureConnected lazily runs the port probe. Every call passes
// through the lock, but after the first success only the cheap
// connected check runs inside it.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) baseURLLocked() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

func (c *Client) baseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURLLocked()
}

// rawGet performs one GET without connection setup or token handling.
// Used by the probe itself and as the transport for get.
func (c *Client) rawGet(ctx context.Context, rawURL string) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// get performs one authenticated GET against an API path and returns
// the response body. Non-success statuses are errors; callers above
// the client degrade them to empty results.
func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	for key, values := range query {
		q[key] = values
	}
	q.Set("token", c.token)

	start := time.Now()
	body, code, err := c.rawGet(ctx, c.baseURL()+path+"?"+q.Encode())
	c.metrics.RecordRemoteRequest(op, code, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", path, code)
	}
	return body, nil
}

// listAll fetches every page of a paginated resource and concatenates
// the items.
func listAll[T any](ctx context.Context, c *Client, op, path string, query url.Values) ([]T, error) {
	var out []T
	for page := 1; ; page++ {
		q := url.Values{}
		for key, values := range query {
			q[key] = values
		}
		q.Set("page", strconv.Itoa(page))

		body, err := c.get(ctx, op, path, q)
		if err != nil {
			return nil, err
		}

		var envelope struct {
			Items   []T  `json:"items"`
			HasMore bool `json:"has_more"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("decoding %s page %d: %w", path, page, err)
		}
		out = append(out, envelope.Items...)
		if !envelope.HasMore {
			return out, nil
		}
	}
}

// fetchOne fetches a single, non-paginated record.
func fetchOne[T any](ctx context.Context, c *Client, op, path string, query url.Values) (*T, error) {
	body, err := c.get(ctx, op, path, query)
	if err != nil {
		return nil, err
	}
	record := new(T)
	if err := json.Unmarshal(body, record); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return record, nil
}

func fieldsQuery(fields string) url.Values {
	return url.Values{"fields": []string{fields}}
}

// Folders lists every notebook, across all pages.
func (c *Client) Folders(ctx context.Context) ([]Folder, error) {
	return listAll[Folder](ctx, c, "folders", "/folders", fieldsQuery(folderFields))
}

// Folder fetches one notebook by id.
func (c *Client) Folder(ctx context.Context, id string) (*Folder, error) {
	return fetchOne[Folder](ctx, c, "folder", "/folders/"+id, fieldsQuery(folderFields))
}

// Notes lists the notes directly inside a folder.
func (c *Client) Notes(ctx context.Context, folderID string) ([]Note, error) {
	return listAll[Note](ctx, c, "folder_notes", "/folders/"+folderID+"/notes", fieldsQuery(noteFields))
}

// Note fetches one note, optionally including its body.
func (c *Client) Note(ctx context.Context, id string, withBody bool) (*Note, error) {
	fields := noteFields
	if withBody {
		fields += ",body"
	}
	return fetchOne[Note](ctx, c, "note", "/notes/"+id, fieldsQuery(fields))
}

// Tags lists every tag, including ones with no remaining members.
func (c *Client) Tags(ctx context.Context) ([]Tag, error) {
	return listAll[Tag](ctx, c, "tags", "/tags", fieldsQuery(tagFields))
}

// TagNotes lists the notes carrying a tag. Only ids are requested;
// the bridge resolves them against its own table.
func (c *Client) TagNotes(ctx context.Context, tagID string) ([]Note, error) {
	return listAll[Note](ctx, c, "tag_notes", "/tags/"+tagID+"/notes", fieldsQuery("id"))
}

// Resources lists every attachment. Sizes are authoritative here,
// unlike note sizes which are only known after a read.
func (c *Client) Resources(ctx context.Context) ([]Resource, error) {
	return listAll[Resource](ctx, c, "resources", "/resources", fieldsQuery(resourceFields))
}

// ResourceFile fetches the raw content of an attachment.
func (c *Client) ResourceFile(ctx context.Context, id string) ([]byte, error) {
	return c.get(ctx, "resource_file", "/resources/"+id+"/file", nil)
}

// Events lists all change-feed entries with id greater than cursor.
func (c *Client) Events(ctx context.Context, cursor int64) ([]Event, error) {
	query := fieldsQuery(eventFields)
	query.Set("cursor", strconv.FormatInt(cursor, 10))
	return listAll[Event](ctx, c, "events", "/events", query)
}

// Cursor fetches the remote's current change-feed position. Events
// strictly after it will be observed by subsequent Events calls.
func (c *Client) Cursor(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "cursor", "/events", nil)
	if err != nil {
		return 0, err
	}
	var envelope struct {
		Cursor json.Number `json:"cursor"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, fmt.Errorf("decoding cursor: %w", err)
	}
	if envelope.Cursor == "" {
		return 0, nil
	}
	value, err := envelope.Cursor.Int64()
	if err != nil {
		return 0, fmt.Errorf("parsing cursor %q: %w", envelope.Cursor, err)
	}
	return value, nil
}
