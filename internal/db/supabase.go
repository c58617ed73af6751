package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"

	"github.com/RichardoC/nutra/internal/ctxhttp"
	"github.com/RichardoC/nutra/internal/models"
)

const (
	contactTable   = "contact_messages"
	contactColumns = "id,name,email,subject,message,created_at"
)

// SupabaseStore writes contact messages through the project's PostgREST API.
type SupabaseStore struct {
	restURL    string
	apiKey     string
	httpClient *http.Client
}

var _ ContactStore = (*SupabaseStore)(nil)

func NewSupabaseStore(projectURL, apiKey string, client *http.Client) (*SupabaseStore, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" || strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("supabase url and api key are required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SupabaseStore{
		restURL:    projectURL + "/rest/v1",
		apiKey:     apiKey,
		httpClient: client,
	}, nil
}

// rest returns a PostgREST client whose requests carry ctx. The client keeps
// headers on a shared transport, so one is built per call.
func (s *SupabaseStore) rest(ctx context.Context) (*postgrest.Client, context.CancelFunc) {
	hc, cancel := ctxhttp.Client(ctx, s.httpClient, nil)
	c := postgrest.NewClient(s.restURL, "", nil).SetApiKey(s.apiKey).SetAuthToken(s.apiKey)
	c.Transport.Parent = hc.Transport
	return c, cancel
}

type contactInsert struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type contactRow struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *SupabaseStore) SaveContactMessage(ctx context.Context, msg *models.ContactMessage) error {
	c, cancel := s.rest(ctx)
	defer cancel()

	row := []contactInsert{{
		Name:    msg.Name,
		Email:   msg.Email,
		Subject: msg.Subject,
		Message: msg.Message,
	}}
	if _, _, err := c.From(contactTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("supabase: failed to save contact message: %w", err)
	}
	msg.CreatedAt = time.Now().UTC()
	return nil
}

func (s *SupabaseStore) ListContactMessages(ctx context.Context, limit int) ([]models.ContactMessage, error) {
	c, cancel := s.rest(ctx)
	defer cancel()

	var rows []contactRow
	_, err := c.From(contactTable).
		Select(contactColumns, "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: failed to list contact messages: %w", err)
	}

	out := make([]models.ContactMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ContactMessage{
			ID:        r.ID,
			Name:      r.Name,
			Email:     r.Email,
			Subject:   r.Subject,
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
