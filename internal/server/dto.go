package server

import (
	"encoding/json"

	"jointly/internal/domain"
	"jointly/internal/engine"
)

type StartSessionRequest struct {
	Role     string `json:"role" example:"landowner" enum:"landowner,builder"`
	Category string `json:"category" example:"contract-construction" enum:"contract-construction,joint-venture,interior,reconstruction"`
}

type AnswersRequest struct {
	Answers map[string]any `json:"answers"`
}

type SessionResponse struct {
	ID       string         `json:"id"`
	Role     string         `json:"role"`
	Category string         `json:"category"`
	Step     string         `json:"step"`
	Steps    []string       `json:"steps"`
	Answers  map[string]any `json:"answers"`
	Done     bool           `json:"done"`
}

func sessionResponse(v engine.SessionView) SessionResponse {
	return SessionResponse{
		ID:       v.ID,
		Role:     string(v.Role),
		Category: string(v.Category),
		Step:     v.Step,
		Steps:    v.Steps,
		Answers:  v.Answers,
		Done:     v.Done,
	}
}

type SubmissionResponse struct {
	ID            string          `json:"id"`
	Role          string          `json:"role"`
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
	SubmittedAt   string          `json:"submitted_at"`
	Verified      bool            `json:"verified"`
}

func submissionResponse(rec domain.SubmissionRecord) SubmissionResponse {
	return SubmissionResponse{
		ID:            rec.ID,
		Role:          string(rec.Role),
		Type:          string(rec.Type),
		SchemaVersion: rec.SchemaVersion,
		Payload:       rec.Payload,
		SubmittedAt:   rec.SubmittedAt,
		Verified:      rec.Verified(),
	}
}

func submissionResponses(recs []domain.SubmissionRecord) []SubmissionResponse {
	out := make([]SubmissionResponse, len(recs))
	for i, rec := range recs {
		out[i] = submissionResponse(rec)
	}
	return out
}

type DefinitionResponse struct {
	Role     string              `json:"role"`
	Category string              `json:"category"`
	Steps    []string            `json:"steps"`
	Options  map[string][]string `json:"options,omitempty"`
}

type FeasibilityResponse struct {
	Feasibility *domain.Feasibility `json:"feasibility"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
	// Key is the plaintext secret, present only in the create response.
	Key string `json:"key,omitempty"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		Role:      string(k.Role),
		CreatedAt: k.CreatedAt,
	}
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	Role       string          `json:"role,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		Role:       e.Role,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}
