package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rebindDollar rewrites '?' placeholders into PostgreSQL's $1, $2, ... form.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const leadColumns = `id, agent_id, contact, name, status, conversation_mode, budget, timeline, preferences, created_at, last_contact_at`

// scanLead scans a lead row selected with leadColumns.
func scanLead(row rowScanner) (*models.Lead, error) {
	var l models.Lead
	var mode string
	err := row.Scan(
		&l.ID, &l.AgentID, &l.Contact, &l.Name, &l.Status, &mode,
		&l.Qualification.Budget, &l.Qualification.Timeline, &l.Qualification.Preferences,
		&l.CreatedAt, &l.LastContactAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead failed: %w", err)
	}
	l.ConversationMode = models.ConversationMode(mode)
	return &l, nil
}

const propertyColumns = `id, agent_id, title, address, suburb, price, bedrooms, bathrooms, garages, specs, property_url`

// scanProperty scans a listing row selected with propertyColumns.
func scanProperty(row rowScanner) (models.Property, error) {
	var p models.Property
	var specs sql.NullString
	err := row.Scan(
		&p.ID, &p.AgentID, &p.Title, &p.Address, &p.Suburb, &p.Price,
		&p.Bedrooms, &p.Bathrooms, &p.Garages, &specs, &p.URL,
	)
	if err != nil {
		return p, fmt.Errorf("scan property failed: %w", err)
	}
	p.Specs = specs.String
	return p, nil
}
