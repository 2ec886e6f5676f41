package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// OwnerRepository resolves owner contact details
type OwnerRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewOwnerRepository creates a new owner repository
func NewOwnerRepository(db *sqlx.DB, logger *zap.Logger) *OwnerRepository {
	return &OwnerRepository{
		db:     db,
		logger: logger,
	}
}

// GetEmail returns the owner's notification email
func (r *OwnerRepository) GetEmail(ctx context.Context, ownerID uuid.UUID) (string, error) {
	query := `SELECT email FROM owner_contacts WHERE owner_id = $1`

	var email string
	err := r.db.GetContext(ctx, &email, query, ownerID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no contact on file for owner %s", ownerID)
	}
	if err != nil {
		r.logger.Error("failed to query owner contact",
			zap.Error(err),
			zap.String("owner_id", ownerID.String()),
		)
		return "", fmt.Errorf("failed to query owner contact: %w", err)
	}

	return email, nil
}
