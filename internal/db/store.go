package db

import (
	"context"

	"github.com/RichardoC/nutra/internal/models"
)

// ContactStore persists contact-form submissions.
type ContactStore interface {
	SaveContactMessage(ctx context.Context, msg *models.ContactMessage) error
	ListContactMessages(ctx context.Context, limit int) ([]models.ContactMessage, error)
}
