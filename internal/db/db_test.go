package db

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/RichardoC/nutra/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSaveAndList(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "nutra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	ctx := context.Background()
	first := &models.ContactMessage{Name: "Ada", Email: "ada@example.com", Message: "Hi"}
	require.NoError(t, database.SaveContactMessage(ctx, first))
	assert.NotZero(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	second := &models.ContactMessage{Name: "Grace", Email: "grace@example.com", Subject: "Recipes", Message: "Hello"}
	require.NoError(t, database.SaveContactMessage(ctx, second))

	msgs, err := database.ListContactMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Grace", msgs[0].Name)
	assert.Equal(t, "Recipes", msgs[0].Subject)
	assert.Equal(t, "Ada", msgs[1].Name)

	limited, err := database.ListContactMessages(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSupabaseStoreInsertsRow(t *testing.T) {
	var got []contactInsert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/contact_messages", r.URL.Path)
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store, err := NewSupabaseStore(srv.URL+"/", "anon", srv.Client())
	require.NoError(t, err)

	err = store.SaveContactMessage(context.Background(), &models.ContactMessage{
		Name: "Ada", Email: "ada@example.com", Message: "Hi",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ada", got[0].Name)
	assert.Equal(t, "Hi", got[0].Message)
}

func TestSupabaseStoreSurfacesRESTError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"permission denied for table contact_messages","code":"42501"}`))
	}))
	defer srv.Close()

	store, err := NewSupabaseStore(srv.URL, "anon", srv.Client())
	require.NoError(t, err)

	err = store.SaveContactMessage(context.Background(), &models.ContactMessage{Name: "Ada", Email: "a@b.c", Message: "Hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Contains(t, err.Error(), "42501")
}

func TestSupabaseStoreHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	store, err := NewSupabaseStore(srv.URL, "anon", srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.ListContactMessages(ctx, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSupabaseStoreList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "created_at.desc.nullslast", r.URL.Query().Get("order"))
		assert.Equal(t, "id,name,email,subject,message,created_at", r.URL.Query().Get("select"))
		assert.Equal(t, "Bearer service", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":7,"name":"Ada","email":"ada@example.com","subject":"","message":"Hi","created_at":"2026-01-02T03:04:05Z"}]`))
	}))
	defer srv.Close()

	store, err := NewSupabaseStore(srv.URL, "service", srv.Client())
	require.NoError(t, err)

	msgs, err := store.ListContactMessages(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(7), msgs[0].ID)
	assert.Equal(t, 2026, msgs[0].CreatedAt.Year())
}

func TestNewSupabaseStoreRequiresCredentials(t *testing.T) {
	_, err := NewSupabaseStore("", "key", nil)
	require.Error(t, err)
	_, err = NewSupabaseStore("https://x.supabase.co", " ", nil)
	require.Error(t, err)
}
