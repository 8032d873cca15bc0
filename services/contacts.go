package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"intake_flow_go/models"
	"intake_flow_go/tabular"
)

// UserKeyLength is the length of derived user keys.
const UserKeyLength = 6

// ContactRegistry upserts per-user contact rows and tracks each user's
// active case pointer. Writes are unsynchronized: concurrent writers may
// race and the last writer wins. Write concurrency on this table is low
// (one messaging channel per user).
type ContactRegistry struct {
	contacts *tabular.Table
	now      func() time.Time
}

// NewContactRegistry creates a registry over the contacts sheet.
func NewContactRegistry(wb *tabular.Workbook) *ContactRegistry {
	return &ContactRegistry{contacts: wb.Table(models.SheetContacts), now: time.Now}
}

// DeriveUserKey derives the deterministic short key for a channel id:
// lowercase, UserKeyLength chars.
func DeriveUserKey(lineID string) string {
	sum := sha256.Sum256([]byte(lineID))
	return hex.EncodeToString(sum[:])[:UserKeyLength]
}

// UpsertContact writes or updates the contact row for userKey. Only supplied
// (non-empty) fields overwrite existing values, plus updated_at; a missing
// row is appended with blanks for unsupplied fields. The header is written
// or grown as needed; the schema only grows, never shrinks.
func (r *ContactRegistry) UpsertContact(userKey, lineID, displayName, email string) error {
	if userKey == "" {
		return fmt.Errorf("user key is required")
	}
	if err := r.contacts.EnsureHeader(models.ContactColumns); err != nil {
		return err
	}

	now := r.now().UTC().Format(time.RFC3339)

	// Fresh linear scan on every call; no cached index.
	row, _, err := r.contacts.FindRow("user_key", userKey)
	if err != nil {
		return err
	}

	if row == 0 {
		_, err := r.contacts.AppendRow(map[string]string{
			"user_key":     userKey,
			"line_id":      lineID,
			"display_name": displayName,
			"email":        email,
			"intake_at":    now,
			"updated_at":   now,
		})
		return err
	}

	updates := map[string]string{"updated_at": now}
	if lineID != "" {
		updates["line_id"] = lineID
	}
	if displayName != "" {
		updates["display_name"] = displayName
	}
	if email != "" {
		updates["email"] = email
	}
	return r.contacts.UpdateRow(row, updates)
}

// SetActiveCase points the contact at its current case. The case row must
// already exist; callers allocate through the CaseLedger first.
func (r *ContactRegistry) SetActiveCase(userKey, caseID string) error {
	row, _, err := r.contacts.FindRow("user_key", userKey)
	if err != nil {
		return err
	}
	if row == 0 {
		return &ResolutionError{Msg: fmt.Sprintf("unknown contact %s", userKey)}
	}
	return r.contacts.UpdateRow(row, map[string]string{
		"active_case_id": caseID,
		"updated_at":     r.now().UTC().Format(time.RFC3339),
	})
}

// FindByUserKey returns the contact for a user key, or nil.
func (r *ContactRegistry) FindByUserKey(userKey string) (*models.Contact, error) {
	row, data, err := r.contacts.FindRow("user_key", userKey)
	if err != nil || row == 0 {
		return nil, err
	}
	return models.ContactFromRow(data), nil
}

// FindByLineID returns the contact for a channel id, or nil.
func (r *ContactRegistry) FindByLineID(lineID string) (*models.Contact, error) {
	row, data, err := r.contacts.FindRow("line_id", lineID)
	if err != nil || row == 0 {
		return nil, err
	}
	return models.ContactFromRow(data), nil
}

// ResolveUserKey finds the user key for a channel id, preferring an existing
// contact row and falling back to derivation.
func (r *ContactRegistry) ResolveUserKey(lineID string) (string, error) {
	contact, err := r.FindByLineID(lineID)
	if err != nil {
		return "", err
	}
	if contact != nil && strings.TrimSpace(contact.UserKey) != "" {
		return contact.UserKey, nil
	}
	return DeriveUserKey(lineID), nil
}
