package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/nutra/internal/models"
)

var ErrNoSession = errors.New("no active session")

// SessionSource reports the signed-in session, or nil when there is none.
type SessionSource interface {
	CurrentSession(ctx context.Context) (*models.Session, error)
}

// SessionGate is checked once before a chat opens. Sessions that expire
// later are not re-checked until the next chat.
type SessionGate struct {
	source SessionSource
}

func NewSessionGate(source SessionSource) *SessionGate {
	return &SessionGate{source: source}
}

func (g *SessionGate) Check(ctx context.Context) (*models.Session, error) {
	sess, err := g.source.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}
	return sess, nil
}

// ServerIdentity signs in through the server's /api/auth endpoints and keeps
// the resulting session in a local file between runs.
type ServerIdentity struct {
	baseURL     string
	sessionFile string
	httpClient  *http.Client

	mu      sync.Mutex
	session *models.Session
}

var _ SessionSource = (*ServerIdentity)(nil)

func NewServerIdentity(serverURL, sessionFile string, client *http.Client) *ServerIdentity {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	id := &ServerIdentity{
		baseURL:     strings.TrimRight(serverURL, "/"),
		sessionFile: sessionFile,
		httpClient:  client,
	}
	id.session = id.load()
	return id
}

// AccessToken is a TokenFunc for the transports.
func (id *ServerIdentity) AccessToken() string {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.session == nil {
		return ""
	}
	return id.session.AccessToken
}

// CurrentSession validates the stored token with the server. A rejected
// token is forgotten and reported as no session.
func (id *ServerIdentity) CurrentSession(ctx context.Context) (*models.Session, error) {
	id.mu.Lock()
	sess := id.session
	id.mu.Unlock()
	if sess == nil {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id.baseURL+"/api/auth/session", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	if sess.RefreshToken != "" {
		req.AddCookie(&http.Cookie{Name: "sb-refresh-token", Value: sess.RefreshToken})
	}

	resp, err := id.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		id.forget()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session check returned status %d", resp.StatusCode)
	}

	var body struct {
		User models.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	// The server re-issues cookies when it refreshed an expired token.
	updated := *sess
	updated.User = body.User
	for _, c := range resp.Cookies() {
		switch c.Name {
		case "sb-access-token":
			if c.Value != "" {
				updated.AccessToken = c.Value
			}
		case "sb-refresh-token":
			if c.Value != "" {
				updated.RefreshToken = c.Value
			}
		}
	}
	id.store(&updated)
	return &updated, nil
}

func (id *ServerIdentity) Login(ctx context.Context, email, password string) (*models.Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, id.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := id.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(resp, raw)}
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	id.store(&sess)
	return &sess, nil
}

func (id *ServerIdentity) Logout(ctx context.Context) error {
	token := id.AccessToken()
	id.forget()
	if token == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, id.baseURL+"/api/auth/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := id.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (id *ServerIdentity) load() *models.Session {
	if id.sessionFile == "" {
		return nil
	}
	raw, err := os.ReadFile(id.sessionFile)
	if err != nil {
		return nil
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil || sess.AccessToken == "" {
		return nil
	}
	return &sess
}

func (id *ServerIdentity) store(sess *models.Session) {
	id.mu.Lock()
	id.session = sess
	id.mu.Unlock()
	if id.sessionFile == "" {
		return
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(id.sessionFile), 0o700); err != nil {
		return
	}
	_ = os.WriteFile(id.sessionFile, raw, 0o600)
}

func (id *ServerIdentity) forget() {
	id.mu.Lock()
	id.session = nil
	id.mu.Unlock()
	if id.sessionFile != "" {
		_ = os.Remove(id.sessionFile)
	}
}
