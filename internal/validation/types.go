package validation

// CreateFormRequest is the payload for POST /api/forms.
type CreateFormRequest struct {
	Type        string   `json:"type" validate:"required"`
	OwnerID     string   `json:"ownerId" validate:"required"`
	SubID       string   `json:"subId" validate:"required"`
	Fields      []string `json:"fields" validate:"required,min=1,dive,required"` // at least one field
	RedirectURL string   `json:"url,omitempty" validate:"omitempty,url"`         // optional post-completion redirect
}

// ResetFormRequest is the payload for POST /api/forms/reset.
type ResetFormRequest struct {
	Link   string   `json:"link" validate:"required,url"`
	Fields []string `json:"fields" validate:"required,min=1,dive,required"`
}

// DeleteFormRequest is the payload for DELETE /api/forms.
type DeleteFormRequest struct {
	Link string `json:"link" validate:"required,url"`
}
