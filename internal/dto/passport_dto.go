package dto

import (
	"encoding/json"
	"time"

	"dpp/internal/entity"
)

// CreatePassportRequest is also the PUT body: every writable field is
// replaced, and an absent sustainability_data resets the document to {}.
type CreatePassportRequest struct {
	Name               string          `json:"name" validate:"required,max=255"`
	QRCode             string          `json:"qr_code" validate:"required,max=100"`
	SustainabilityData json.RawMessage `json:"sustainability_data"`
}

type PatchPassportRequest struct {
	Name               *string         `json:"name" validate:"omitempty,min=1,max=255"`
	QRCode             *string         `json:"qr_code" validate:"omitempty,min=1,max=100"`
	SustainabilityData json.RawMessage `json:"sustainability_data"`
}

type PassportResponse struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	QRCode             string         `json:"qr_code"`
	SustainabilityData map[string]any `json:"sustainability_data"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func PassportResponseFromEntity(passport *entity.Passport, sustainability map[string]any) PassportResponse {
	if sustainability == nil {
		sustainability = map[string]any{}
	}
	return PassportResponse{
		ID:                 passport.ID.String(),
		Name:               passport.Name,
		QRCode:             passport.QRCode,
		SustainabilityData: sustainability,
		CreatedAt:          passport.CreatedAt,
		UpdatedAt:          passport.UpdatedAt,
	}
}

type PassportListResponse struct {
	Count    int64              `json:"count"`
	Next     *string            `json:"next"`
	Previous *string            `json:"previous"`
	Results  []PassportResponse `json:"results"`
}

type DeleteAllResponse struct {
	Deleted int64 `json:"deleted"`
}
