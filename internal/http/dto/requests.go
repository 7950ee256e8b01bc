package dto

type InitiatePaymentRequest struct {
	ListingID string `json:"listing_id"`
}

type SubmitCredentialsRequest struct {
	Fields map[string]string `json:"fields"`
}

type ConfirmReceiptRequest struct {
	OTP string `json:"otp,omitempty"`
}

type ReportIssueRequest struct {
	Reason string `json:"reason"`
}
