package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type CheckoutResponse struct {
	Transaction any    `json:"transaction"`
	PaymentURL  string `json:"payment_url"`
}

type CredentialsResponse struct {
	Category string         `json:"category"`
	Fields   map[string]any `json:"fields"`
}
