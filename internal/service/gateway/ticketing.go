package gateway

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"ai-call-triage-service/internal/models"
)

// Tool names exposed by the ticketing endpoint.
const (
	ToolCreateIncident     = "create-incident"
	ToolUpdateCustomer     = "update-customer"
	ToolGetCustomerHistory = "get-customer-history"
)

// CategoryVoiceCall is the incident category for triaged calls.
const CategoryVoiceCall = "VOICE_CALL"

const maxTitleLength = 255

// IncidentRequest holds the create-incident parameters.
type IncidentRequest struct {
	Title              string     `json:"title" validate:"required,max=255"`
	Description        string     `json:"description" validate:"required"`
	Severity           string     `json:"severity" validate:"required,oneof=HIGH MEDIUM LOW"`
	Sentiment          string     `json:"sentiment" validate:"required,oneof=positive negative neutral"`
	Category           string     `json:"category,omitempty"`
	EmotionalIntensity int        `json:"emotionalIntensity,omitempty" validate:"omitempty,min=1,max=10"`
	CustomerID         string     `json:"customerId,omitempty"`
	CallTimestamp      *time.Time `json:"callTimestamp,omitempty"`
	Transcript         string     `json:"transcript,omitempty"`
}

// IncidentResponse is the create-incident result.
type IncidentResponse struct {
	IncidentID string `json:"incidentId"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// SentimentEntry is one point in a customer's sentiment history.
type SentimentEntry struct {
	Date      time.Time `json:"date"`
	Sentiment string    `json:"sentiment"`
	Intensity int       `json:"intensity"`
}

// CustomerUpdate holds the update-customer parameters.
type CustomerUpdate struct {
	CustomerID       string           `json:"customerId" validate:"required"`
	LastInteraction  time.Time        `json:"lastInteraction" validate:"required"`
	SentimentHistory []SentimentEntry `json:"sentimentHistory,omitempty"`
	Notes            string           `json:"notes,omitempty"`
}

// Interaction is one past contact with a customer.
type Interaction struct {
	Date      time.Time `json:"date"`
	Type      string    `json:"type"`
	Sentiment string    `json:"sentiment"`
	Summary   string    `json:"summary"`
}

// CustomerHistory is the get-customer-history result.
type CustomerHistory struct {
	CustomerID   string        `json:"customerId"`
	Interactions []Interaction `json:"interactions"`
}

type customerQuery struct {
	CustomerID string `json:"customerId" validate:"required"`
}

// CreateIncident opens a ticket for a triaged call.
func (g *Gateway) CreateIncident(ctx context.Context, req IncidentRequest) (*IncidentResponse, error) {
	if err := g.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%s: %w", ToolCreateIncident, err)
	}
	resp, err := g.Invoke(ctx, ToolCreateIncident, req)
	if err != nil {
		return nil, err
	}
	var out IncidentResponse
	if err := resp.Decode(&out); err != nil {
		return nil, &ToolInvocationError{Tool: ToolCreateIncident, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// UpdateCustomer records the latest interaction on a customer record.
func (g *Gateway) UpdateCustomer(ctx context.Context, update CustomerUpdate) error {
	if err := g.validator.Validate(update); err != nil {
		return fmt.Errorf("%s: %w", ToolUpdateCustomer, err)
	}
	_, err := g.Invoke(ctx, ToolUpdateCustomer, update)
	return err
}

// GetCustomerHistory returns previous interactions for customerID.
func (g *Gateway) GetCustomerHistory(ctx context.Context, customerID string) (*CustomerHistory, error) {
	q := customerQuery{CustomerID: customerID}
	if err := g.validator.Validate(q); err != nil {
		return nil, fmt.Errorf("%s: %w", ToolGetCustomerHistory, err)
	}
	resp, err := g.Invoke(ctx, ToolGetCustomerHistory, q)
	if err != nil {
		return nil, err
	}
	out := CustomerHistory{CustomerID: customerID}
	if err := resp.Decode(&out); err != nil {
		return nil, &ToolInvocationError{Tool: ToolGetCustomerHistory, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// IncidentFromJob shapes the create-incident parameters for a summarized job.
func IncidentFromJob(job *models.CallJob) IncidentRequest {
	created := job.CreatedAt
	return IncidentRequest{
		Title:              incidentTitle(job.Severity, job.JobID),
		Description:        job.Summary,
		Severity:           string(job.Severity),
		Sentiment:          string(job.Sentiment),
		Category:           CategoryVoiceCall,
		EmotionalIntensity: job.Intensity,
		CustomerID:         job.CustomerID,
		CallTimestamp:      &created,
		Transcript:         job.Transcript,
	}
}

// incidentTitle shortens the job id so the title stays within maxTitleLength runes.
func incidentTitle(severity models.Severity, jobID string) string {
	title := fmt.Sprintf("[%s] Voice call %s", severity, jobID)
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleLength-3]) + "..."
}

// CustomerUpdateFromJob shapes the update-customer parameters after an incident was opened.
func CustomerUpdateFromJob(job *models.CallJob, incidentID string, now time.Time) CustomerUpdate {
	notes := fmt.Sprintf("Voice call %s triaged as %s", job.JobID, job.Severity)
	if incidentID != "" {
		notes += ", incident " + incidentID
	}
	return CustomerUpdate{
		CustomerID:      job.CustomerID,
		LastInteraction: now.UTC(),
		SentimentHistory: []SentimentEntry{{
			Date:      job.CreatedAt,
			Sentiment: string(job.Sentiment),
			Intensity: job.Intensity,
		}},
		Notes: notes,
	}
}
