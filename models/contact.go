package models

// SheetContacts is the logical table holding one row per known user.
const SheetContacts = "contacts"

// ContactColumns is the canonical header for the contacts sheet.
// The store may append further columns at runtime; it never removes any.
var ContactColumns = []string{
	"line_id",
	"user_key",
	"display_name",
	"email",
	"active_case_id",
	"intake_at",
	"updated_at",
}

// Contact represents a user reachable over an inbound messaging channel.
// Contacts are created on first verified signal and never deleted.
type Contact struct {
	LineID       string `json:"line_id"`
	UserKey      string `json:"user_key"`
	DisplayName  string `json:"display_name,omitempty"`
	Email        string `json:"email,omitempty"`
	ActiveCaseID string `json:"active_case_id,omitempty"`
	IntakeAt     string `json:"intake_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// ContactFromRow builds a Contact from a canonicalized row map.
func ContactFromRow(row map[string]string) *Contact {
	return &Contact{
		LineID:       row["lineid"],
		UserKey:      row["userkey"],
		DisplayName:  row["displayname"],
		Email:        row["email"],
		ActiveCaseID: row["activecaseid"],
		IntakeAt:     row["intakeat"],
		UpdatedAt:    row["updatedat"],
	}
}
