package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Cause struct {
	ID            uuid.UUID       `json:"id"`
	OrganizerID   string          `json:"organizer_id"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	// Currency is empty when the cause service does not report one.
	Currency      string          `json:"currency"`
}

// Organizer parses organizer_id; donations are credited to this user.
func (c *Cause) Organizer() (uuid.UUID, error) {
	id, err := uuid.Parse(c.OrganizerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("cause %s has no valid organizer: %w", c.ID, err)
	}
	return id, nil
}

type CauseService interface {
	GetCause(ctx context.Context, causeID uuid.UUID, authHeader string) (*Cause, error)
}

type CauseClient struct {
	baseClient
}

func NewCauseClient(baseURL, serviceKey string, timeout time.Duration) *CauseClient {
	return &CauseClient{baseClient: newBaseClient("cause", baseURL, serviceKey, timeout)}
}

func (c *CauseClient) GetCause(ctx context.Context, causeID uuid.UUID, authHeader string) (*Cause, error) {
	var cause Cause
	if err := c.getJSON(ctx, fmt.Sprintf("/causes/%s/", causeID), authHeader, &cause); err != nil {
		return nil, err
	}
	if cause.ID == uuid.Nil {
		return nil, errors.New("cause is not valid")
	}
	return &cause, nil
}
