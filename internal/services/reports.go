package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidReport = errors.New("invalid report request")

// ReportRequest is the payload of the trial-gated action.
type ReportRequest struct {
	Title  string            `json:"title" validate:"required,max=200"`
	Inputs map[string]string `json:"inputs,omitempty" validate:"max=50"`
}

// Report is what the gated action hands back to the caller. Rendering is
// done downstream; the engine only issues the ticket.
type Report struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"user_id"`
	FirmID    string    `json:"firm_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportGenerator performs the action a trial use pays for.
type ReportGenerator interface {
	Generate(ctx context.Context, userID, firmID string, req ReportRequest) (*Report, error)
}

// TicketGenerator issues a report ticket for a renderer to pick up.
type TicketGenerator struct {
	nowF func() time.Time
}

func NewTicketGenerator() *TicketGenerator {
	return &TicketGenerator{nowF: time.Now}
}

func (g *TicketGenerator) Generate(ctx context.Context, userID, firmID string, req ReportRequest) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, ErrInvalidReport
	}
	return &Report{
		ID:        uuid.New(),
		Title:     title,
		UserID:    userID,
		FirmID:    firmID,
		CreatedAt: g.nowF().UTC(),
	}, nil
}
