package services

import (
	"testing"
	"time"

	"intake_flow_go/models"
	"intake_flow_go/tabular"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContacts(t *testing.T) (*ContactRegistry, *tabular.Workbook) {
	t.Helper()
	wb := tabular.NewWorkbook()
	return NewContactRegistry(wb), wb
}

func TestDeriveUserKey(t *testing.T) {
	key := DeriveUserKey("U-line-12345")
	assert.Len(t, key, UserKeyLength)
	assert.Equal(t, key, DeriveUserKey("U-line-12345"), "deterministic")
	assert.NotEqual(t, key, DeriveUserKey("U-line-12346"))
	assert.Equal(t, key, string([]byte(key)), "lowercase hex")
}

func TestUpsertContactIdempotent(t *testing.T) {
	r, wb := newTestContacts(t)

	require.NoError(t, r.UpsertContact("ab12cd", "U-1", "Yamada", "y@example.com"))
	require.NoError(t, r.UpsertContact("ab12cd", "U-1", "Yamada", "y@example.com"))

	n, err := wb.Table(models.SheetContacts).RowCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "two identical upserts yield one row")

	c, err := r.FindByUserKey("ab12cd")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "U-1", c.LineID)
	assert.Equal(t, "Yamada", c.DisplayName)
}

func TestUpsertContactPartialUpdate(t *testing.T) {
	r, _ := newTestContacts(t)
	r.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, r.UpsertContact("ab12cd", "U-1", "Yamada", "y@example.com"))

	// Empty fields must not blank out existing values
	r.now = func() time.Time { return time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, r.UpsertContact("ab12cd", "", "", ""))

	c, err := r.FindByUserKey("ab12cd")
	require.NoError(t, err)
	assert.Equal(t, "U-1", c.LineID)
	assert.Equal(t, "Yamada", c.DisplayName)
	assert.Equal(t, "y@example.com", c.Email)
	assert.Equal(t, "2026-01-01T00:00:00Z", c.IntakeAt)
	assert.Equal(t, "2026-02-02T00:00:00Z", c.UpdatedAt, "only updated_at moves")
}

func TestUpsertContactRequiresUserKey(t *testing.T) {
	r, _ := newTestContacts(t)
	assert.Error(t, r.UpsertContact("", "U-1", "", ""))
}

func TestSetActiveCase(t *testing.T) {
	r, _ := newTestContacts(t)
	require.NoError(t, r.UpsertContact("ab12cd", "U-1", "", ""))

	require.NoError(t, r.SetActiveCase("ab12cd", "0007"))
	c, err := r.FindByUserKey("ab12cd")
	require.NoError(t, err)
	assert.Equal(t, "0007", c.ActiveCaseID)

	err = r.SetActiveCase("zzzzzz", "0007")
	var resErr *ResolutionError
	assert.ErrorAs(t, err, &resErr)
}

func TestResolveUserKey(t *testing.T) {
	r, _ := newTestContacts(t)
	require.NoError(t, r.UpsertContact("custom", "U-1", "", ""))

	// Existing contact row wins over derivation
	key, err := r.ResolveUserKey("U-1")
	require.NoError(t, err)
	assert.Equal(t, "custom", key)

	// Unknown channel id falls back to derivation
	key, err = r.ResolveUserKey("U-unknown")
	require.NoError(t, err)
	assert.Equal(t, DeriveUserKey("U-unknown"), key)
}
