package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/common"
)

const (
	restPrefix = "/rest/v1/"
	authPrefix = "/auth/v1/"
)

// HTTPBackend talks to the REST surface of the backend.
type HTTPBackend struct {
	baseURL   string
	apiKey    string
	probePath string
	http      *http.Client

	mu      sync.RWMutex
	session *Session
}

type HTTPOption func(*HTTPBackend)

func WithHTTPClient(c *http.Client) HTTPOption { return func(b *HTTPBackend) { b.http = c } }
func WithProbePath(p string) HTTPOption        { return func(b *HTTPBackend) { b.probePath = p } }

func NewHTTPBackend(baseURL, apiKey string, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		probePath: "/healthcheck.txt",
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetSession installs the tokens used for subsequent calls. A nil session
// signs the backend out.
func (b *HTTPBackend) SetSession(s *Session) {
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
}

func (b *HTTPBackend) Session() *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return nil
	}
	s := *b.session
	return &s
}

func (b *HTTPBackend) accessToken() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return ""
	}
	return b.session.AccessToken
}

// apiError is the JSON error body returned by the backend.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a transport failure or a non-2xx response to a sentinel.
func classify(resp *http.Response, err error) error {
	if err != nil {
		// Cancellation by the caller is not a network condition.
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", common.ErrTransientNetwork, err)
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	msg := ae.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	detail := fmt.Sprintf("status %d: %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusConflict || ae.Code == "23505":
		return fmt.Errorf("%w: %s", common.ErrDuplicate, detail)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", common.ErrValidation, detail)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, detail)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, detail)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", common.ErrTransientNetwork, detail)
	}
	return fmt.Errorf("unexpected response: %s", detail)
}

func (b *HTTPBackend) newRequest(ctx context.Context, method, path string, q url.Values, body any) (*http.Request, error) {
	u := b.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %w", common.ErrValidation, err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set(common.APIKeyHeaderName, b.apiKey)
	}
	if tok := b.accessToken(); tok != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+tok)
	}
	return req, nil
}

// do performs the request and decodes a 2xx JSON body into out. On 401 it
// refreshes the session once and retries.
func (b *HTTPBackend) do(ctx context.Context, method, path string, q url.Values, body, out any) (int, error) {
	status, err := b.doOnce(ctx, method, path, q, body, out)
	if !errors.Is(err, common.ErrUnauthorized) || status != http.StatusUnauthorized {
		return status, err
	}
	if rerr := b.refresh(ctx); rerr != nil {
		return status, err
	}
	return b.doOnce(ctx, method, path, q, body, out)
}

func (b *HTTPBackend) doOnce(ctx context.Context, method, path string, q url.Values, body, out any) (int, error) {
	req, err := b.newRequest(ctx, method, path, q, body)
	if err != nil {
		return 0, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return 0, classify(nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, classify(resp, nil)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decode response: %w", common.ErrTransientNetwork, err)
	}
	return resp.StatusCode, nil
}

func (b *HTTPBackend) Fetch(ctx context.Context, resource models.Resource, since *time.Time) ([]models.Row, error) {
	q := url.Values{}
	if since != nil && !since.IsZero() {
		q.Set("since", models.FormatTime(*since))
	}
	var rows []models.Row
	if _, err := b.do(ctx, http.MethodGet, restPrefix+url.PathEscape(string(resource)), q, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", resource, err)
	}
	return rows, nil
}

type sendRequest struct {
	UserID    string `json:"p_user_id"`
	Message   string `json:"p_message"`
	CreatedAt string `json:"p_created_at"`
	ClientID  string `json:"p_client_id"`
}

// SendIdempotent calls the send RPC. 201 means the row was created, 200
// that an existing row with the same client id was returned.
func (b *HTTPBackend) SendIdempotent(ctx context.Context, p models.SendParams) (*SendResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body := sendRequest{
		UserID:    p.UserID,
		Message:   p.Message,
		CreatedAt: models.FormatTime(p.CreatedAt),
		ClientID:  p.ClientID,
	}
	var row models.Row
	status, err := b.do(ctx, http.MethodPost, restPrefix+"rpc/"+common.SendMessageRPC, nil, body, &row)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", p.ClientID, err)
	}
	return &SendResult{Row: row, Duplicate: status == http.StatusOK}, nil
}

func (b *HTTPBackend) lookup(ctx context.Context, q url.Values) (models.Row, error) {
	var row models.Row
	if _, err := b.do(ctx, http.MethodGet, restPrefix+string(models.ResourceMessages)+"/lookup", q, nil, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func (b *HTTPBackend) LookupByClientID(ctx context.Context, clientID string) (models.Row, error) {
	row, err := b.lookup(ctx, url.Values{"client_id": {clientID}})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", clientID, err)
	}
	return row, nil
}

func (b *HTTPBackend) LookupByCreatedAt(ctx context.Context, userID string, createdAt time.Time) (models.Row, error) {
	row, err := b.lookup(ctx, url.Values{"user_id": {userID}, "created_at": {models.FormatTime(createdAt)}})
	if err != nil {
		return nil, fmt.Errorf("lookup %s@%s: %w", userID, models.FormatTime(createdAt), err)
	}
	return row, nil
}

// Probe fetches the health check file with a cache-busting parameter.
func (b *HTTPBackend) Probe(ctx context.Context) error {
	q := url.Values{"t": {strconv.FormatInt(time.Now().UnixNano(), 10)}}
	req, err := b.newRequest(ctx, http.MethodGet, b.probePath, q, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := b.http.Do(req)
	if err != nil {
		return classify(nil, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: probe status %d", common.ErrUnreachable, resp.StatusCode)
	}
	return nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (b *HTTPBackend) authenticate(ctx context.Context, path string, body any) (*Session, error) {
	var s Session
	if _, err := b.doOnce(ctx, http.MethodPost, path, nil, body, &s); err != nil {
		return nil, err
	}
	b.SetSession(&s)
	return &s, nil
}

func (b *HTTPBackend) SignUp(ctx context.Context, email, password string) (*Session, error) {
	s, err := b.authenticate(ctx, authPrefix+"signup", credentials{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	return s, nil
}

func (b *HTTPBackend) SignIn(ctx context.Context, email, password string) (*Session, error) {
	s, err := b.authenticate(ctx, authPrefix+"token", credentials{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return s, nil
}

func (b *HTTPBackend) refresh(ctx context.Context) error {
	cur := b.Session()
	if cur == nil || cur.RefreshToken == "" {
		return common.ErrUnauthorized
	}
	q := url.Values{"grant_type": {"refresh_token"}}
	var s Session
	req, err := b.newRequest(ctx, http.MethodPost, authPrefix+"token", q, map[string]string{"refresh_token": cur.RefreshToken})
	if err != nil {
		return err
	}
	req.Header.Del(common.AuthorizationHeaderName)
	resp, err := b.http.Do(req)
	if err != nil {
		return classify(nil, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return classify(resp, nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return fmt.Errorf("decode refresh: %w", err)
	}
	b.SetSession(&s)
	return nil
}

func (b *HTTPBackend) SignOut(ctx context.Context) error {
	defer b.SetSession(nil)
	if b.accessToken() == "" {
		return nil
	}
	_, err := b.doOnce(ctx, http.MethodPost, authPrefix+"logout", nil, nil, nil)
	return err
}

// RealtimeURL returns the websocket endpoint derived from the base URL.
func (b *HTTPBackend) RealtimeURL() string {
	u := b.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/v1"
}
