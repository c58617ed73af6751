// Package auth talks to the hosted identity provider (Supabase GoTrue) and
// resolves request sessions from cookies or bearer tokens.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"

	"github.com/RichardoC/nutra/internal/ctxhttp"
	"github.com/RichardoC/nutra/internal/models"
)

const MinPasswordLength = 6

var (
	ErrPasswordMismatch  = errors.New("passwords do not match")
	ErrPasswordTooShort  = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrMissingCredential = errors.New("email and password are required")
	ErrUnknownProvider   = errors.New("unsupported oauth provider")
)

// OAuthProviders lists the identity providers offered on the login page.
var OAuthProviders = []string{"google", "github", "apple"}

// Provider is the subset of the identity provider the server and CLI use.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	SignUp(ctx context.Context, req SignUpRequest) error
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*models.User, error)
	OAuthURL(provider, redirectTo string) (string, error)
}

// APIError is a non-2xx answer from the identity provider.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s (%s, status %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("auth: %s (status %d)", e.Message, e.StatusCode)
}

// Unauthorized reports whether the provider rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusBadRequest ||
		e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden
}

type SignUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FullName        string `json:"full_name"`
	RedirectTo      string `json:"-"`
}

// Validate applies the sign-up form rules before anything is sent upstream.
func (r SignUpRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" || r.Password == "" {
		return ErrMissingCredential
	}
	if r.Password != r.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if len([]rune(r.Password)) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// GoTrue wraps the Supabase auth client. Each call gets its own copy bound
// to the caller's context.
type GoTrue struct {
	baseURL    string
	anonKey    string
	client     gotrue.Client
	httpClient *http.Client
	now        func() time.Time
}

var _ Provider = (*GoTrue)(nil)

func NewGoTrue(projectURL, anonKey string, client *http.Client) (*GoTrue, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" || strings.TrimSpace(anonKey) == "" {
		return nil, errors.New("supabase url and anon key are required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := projectURL + "/auth/v1"
	return &GoTrue{
		baseURL:    baseURL,
		anonKey:    anonKey,
		client:     gotrue.New("", anonKey).WithCustomGoTrueURL(baseURL),
		httpClient: client,
		now:        time.Now,
	}, nil
}

// call runs fn against a client bound to ctx. extra is appended to the
// request query.
func (g *GoTrue) call(ctx context.Context, token string, extra url.Values, fn func(gotrue.Client) error) error {
	hc, cancel := ctxhttp.Client(ctx, g.httpClient, extra)
	defer cancel()
	c := g.client.WithClient(hc)
	if token != "" {
		c = c.WithToken(token)
	}
	return mapError(fn(c))
}

func toUser(u types.User) models.User {
	user := models.User{Email: u.Email}
	if u.ID != uuid.Nil {
		user.ID = u.ID.String()
	}
	if name, ok := u.UserMetadata["full_name"].(string); ok {
		user.FullName = name
	}
	return user
}

func toSession(s types.Session, now time.Time) *models.Session {
	sess := &models.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         toUser(s.User),
	}
	switch {
	case s.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		sess.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	return sess
}

func (g *GoTrue) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredential
	}
	var tok *types.TokenResponse
	err := g.call(ctx, "", nil, func(c gotrue.Client) (err error) {
		tok, err = c.SignInWithEmailPassword(email, password)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toSession(tok.Session, g.now()), nil
}

func (g *GoTrue) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}
	var tok *types.TokenResponse
	err := g.call(ctx, "", nil, func(c gotrue.Client) (err error) {
		tok, err = c.RefreshToken(refreshToken)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toSession(tok.Session, g.now()), nil
}

func (g *GoTrue) SignUp(ctx context.Context, req SignUpRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	var extra url.Values
	if req.RedirectTo != "" {
		extra = url.Values{"redirect_to": {req.RedirectTo}}
	}
	return g.call(ctx, "", extra, func(c gotrue.Client) error {
		_, err := c.Signup(types.SignupRequest{
			Email:    strings.TrimSpace(req.Email),
			Password: req.Password,
			Data:     map[string]interface{}{"full_name": strings.TrimSpace(req.FullName)},
		})
		return err
	})
}

func (g *GoTrue) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return g.call(ctx, accessToken, nil, func(c gotrue.Client) error {
		return c.Logout()
	})
}

func (g *GoTrue) GetUser(ctx context.Context, accessToken string) (*models.User, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	var resp *types.UserResponse
	err := g.call(ctx, accessToken, nil, func(c gotrue.Client) (err error) {
		resp, err = c.GetUser()
		return err
	})
	if err != nil {
		return nil, err
	}
	user := toUser(resp.User)
	return &user, nil
}

// OAuthURL builds the provider redirect locally; the browser follows it.
func (g *GoTrue) OAuthURL(provider, redirectTo string) (string, error) {
	if !SupportedOAuthProvider(provider) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return g.baseURL + "/authorize?" + q.Encode(), nil
}

func SupportedOAuthProvider(name string) bool {
	for _, p := range OAuthProviders {
		if p == name {
			return true
		}
	}
	return false
}

// The client reports upstream failures as "response status code N: body".
var statusErrRe = regexp.MustCompile(`(?s)^response status code (\d+)(?:: (.*))?$`)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrInvalidTokenRequest) {
		return ErrMissingCredential
	}
	m := statusErrRe.FindStringSubmatch(err.Error())
	if m == nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	status, _ := strconv.Atoi(m[1])
	return decodeAPIError(status, []byte(m[2]))
}

func decodeAPIError(status int, raw []byte) error {
	var payload struct {
		ErrorCode        string `json:"error_code"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(raw, &payload); err == nil {
		apiErr.Code = payload.ErrorCode
		if apiErr.Code == "" {
			apiErr.Code = payload.Error
		}
		for _, m := range []string{payload.ErrorDescription, payload.Msg, payload.Message} {
			if m != "" {
				apiErr.Message = m
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if len(apiErr.Message) > 4096 {
		apiErr.Message = apiErr.Message[:4096]
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
