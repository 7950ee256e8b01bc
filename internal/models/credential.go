package models

import (
	"time"

	"github.com/google/uuid"
)

// Listing categories with distinct credential sets
const (
	CategoryWebsite     = "website"
	CategoryYouTube     = "youtube"
	CategorySocialMedia = "social_media"
)

// MinCredentialFields is the minimum number of non-empty known fields a
// seller must provide. A completeness gate, not a per-field requirement.
const MinCredentialFields = 3

// credentialFields lists the known credential field names per category.
// Unknown fields in a submission are ignored, not rejected.
var credentialFields = map[string][]string{
	CategoryWebsite: {
		"domain_registrar", "registrar_username", "registrar_password",
		"hosting_provider", "hosting_username", "hosting_password",
		"admin_url", "admin_username", "admin_password",
		"transfer_auth_code", "notes",
	},
	CategoryYouTube: {
		"email", "password", "recovery_email", "recovery_phone",
		"channel_url", "backup_codes", "notes",
	},
	CategorySocialMedia: {
		"platform", "profile_url", "username", "password",
		"email", "recovery_email", "backup_codes", "notes",
	},
}

func IsValidCategory(c string) bool {
	_, ok := credentialFields[c]
	return ok
}

// KnownCredentialFields returns the field list for a category, nil if the
// category is unknown.
func KnownCredentialFields(category string) []string {
	return credentialFields[category]
}

// FilterCredentialFields keeps only the category's known fields with
// non-empty values.
func FilterCredentialFields(category string, fields map[string]string) map[string]string {
	out := make(map[string]string)
	for _, name := range credentialFields[category] {
		if v, ok := fields[name]; ok && v != "" {
			out[name] = v
		}
	}
	return out
}

// CredentialRecord holds the encrypted access bundle a seller delivers.
// At most one exists per transaction.
type CredentialRecord struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	EncryptedBlob string    `json:"-"` // base64(iv || ciphertext)
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
