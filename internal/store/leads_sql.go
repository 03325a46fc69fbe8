package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/google/uuid"
)

// sqlLeadStore implements LeadStore and StatusStore on database/sql.
// SQLiteStore and PostgresStore embed it and supply their dialect.
type sqlLeadStore struct {
	db       *sql.DB
	name     string
	bind     func(string) string
	isUnique func(error) bool
}

func (s *sqlLeadStore) q(query string) string {
	if s.bind == nil {
		return query
	}
	return s.bind(query)
}

func (s *sqlLeadStore) FindLeadByContact(ctx context.Context, agentID, contact string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+leadColumns+` FROM leads WHERE agent_id = ? AND contact = ? LIMIT 1`), agentID, contact)
	lead, err := scanLead(row)
	if err == ErrNotFound {
		slog.Debug(s.name+" FindLeadByContact not found", "agentID", agentID, "contact", contact)
		return nil, err
	}
	if err != nil {
		slog.Error(s.name+" FindLeadByContact failed", "error", err, "agentID", agentID, "contact", contact)
		return nil, err
	}
	slog.Debug(s.name+" FindLeadByContact found", "leadID", lead.ID)
	return lead, nil
}

func (s *sqlLeadStore) GetLead(ctx context.Context, leadID string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+leadColumns+` FROM leads WHERE id = ?`), leadID)
	lead, err := scanLead(row)
	if err != nil {
		if err != ErrNotFound {
			slog.Error(s.name+" GetLead failed", "error", err, "leadID", leadID)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT role, content, sent_by, created_at FROM lead_messages WHERE lead_id = ? ORDER BY id`), leadID)
	if err != nil {
		slog.Error(s.name+" GetLead transcript query failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to query transcript for %s: %w", leadID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var e models.TranscriptEntry
		var role string
		if err := rows.Scan(&role, &e.Content, &e.SentBy, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		e.Role = models.Role(role)
		lead.Transcript = append(lead.Transcript, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcript rows: %w", err)
	}
	return lead, nil
}

func (s *sqlLeadStore) CreateLead(ctx context.Context, lead models.Lead) (*models.Lead, error) {
	lead, err := prepareLead(lead, time.Now())
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		lead.ID, lead.AgentID, lead.Contact, lead.Name, lead.Status, string(lead.ConversationMode),
		lead.Qualification.Budget, lead.Qualification.Timeline, lead.Qualification.Preferences,
		lead.CreatedAt, lead.LastContactAt)
	if err != nil {
		if s.isUnique != nil && s.isUnique(err) {
			slog.Warn(s.name+" CreateLead duplicate contact", "agentID", lead.AgentID, "contact", lead.Contact)
			return nil, ErrDuplicateLead
		}
		slog.Error(s.name+" CreateLead insert failed", "error", err, "agentID", lead.AgentID)
		return nil, fmt.Errorf("failed to insert lead: %w", err)
	}
	if err := s.insertMessages(ctx, tx, lead.ID, lead.Transcript); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lead: %w", err)
	}
	slog.Debug(s.name+" CreateLead succeeded", "leadID", lead.ID, "transcript", len(lead.Transcript))
	return &lead, nil
}

func (s *sqlLeadStore) insertMessages(ctx context.Context, tx *sql.Tx, leadID string, entries []models.TranscriptEntry) error {
	stmt := s.q(`INSERT INTO lead_messages (lead_id, role, content, sent_by, created_at) VALUES (?, ?, ?, ?, ?)`)
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, stmt, leadID, string(e.Role), e.Content, e.SentBy, e.Timestamp); err != nil {
			slog.Error(s.name+" insert transcript entry failed", "error", err, "leadID", leadID, "role", e.Role)
			return fmt.Errorf("failed to insert transcript entry: %w", err)
		}
	}
	return nil
}

func (s *sqlLeadStore) AppendTranscript(ctx context.Context, leadID string, entries ...models.TranscriptEntry) error {
	now := time.Now()
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return err
		}
		if entries[i].Timestamp.IsZero() {
			entries[i].Timestamp = now
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`UPDATE leads SET last_contact_at = ? WHERE id = ?`), now, leadID)
	if err != nil {
		return fmt.Errorf("failed to touch lead %s: %w", leadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := s.insertMessages(ctx, tx, leadID, entries); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript append: %w", err)
	}
	slog.Debug(s.name+" AppendTranscript succeeded", "leadID", leadID, "entries", len(entries))
	return nil
}

// execLead runs an UPDATE against one lead and maps zero affected rows to ErrNotFound.
func (s *sqlLeadStore) execLead(ctx context.Context, op, leadID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		slog.Error(s.name+" "+op+" failed", "error", err, "leadID", leadID)
		return fmt.Errorf("failed to %s for %s: %w", op, leadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Debug(s.name+" "+op+" succeeded", "leadID", leadID)
	return nil
}

func (s *sqlLeadStore) UpdateLeadStatus(ctx context.Context, leadID, status string) error {
	return s.execLead(ctx, "UpdateLeadStatus", leadID,
		`UPDATE leads SET status = ?, last_contact_at = ? WHERE id = ?`, status, time.Now(), leadID)
}

func (s *sqlLeadStore) UpdateQualification(ctx context.Context, leadID string, q models.Qualification, status string) error {
	return s.execLead(ctx, "UpdateQualification", leadID,
		`UPDATE leads SET budget = ?, timeline = ?, preferences = ?, status = ?, last_contact_at = ? WHERE id = ?`,
		q.Budget, q.Timeline, q.Preferences, status, time.Now(), leadID)
}

func (s *sqlLeadStore) SetConversationMode(ctx context.Context, leadID string, mode models.ConversationMode) error {
	return s.execLead(ctx, "SetConversationMode", leadID,
		`UPDATE leads SET conversation_mode = ? WHERE id = ?`, string(mode), leadID)
}

func (s *sqlLeadStore) CreateBooking(ctx context.Context, b models.Booking) (*models.Booking, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO bookings (id, agent_id, lead_id, title, proposed_time, type, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.AgentID, nilIfEmpty(b.LeadID), b.Title, b.ProposedTime, b.Type, b.Status, b.CreatedAt)
	if err != nil {
		slog.Error(s.name+" CreateBooking failed", "error", err, "agentID", b.AgentID, "leadID", b.LeadID)
		return nil, fmt.Errorf("failed to insert booking: %w", err)
	}
	slog.Debug(s.name+" CreateBooking succeeded", "bookingID", b.ID)
	return &b, nil
}

func (s *sqlLeadStore) AddProperty(ctx context.Context, p models.Property) (*models.Property, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO properties (`+propertyColumns+`, suburb_lowercase) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.AgentID, p.Title, p.Address, p.Suburb, p.Price, p.Bedrooms, p.Bathrooms, p.Garages,
		nilIfEmpty(p.Specs), p.URL, p.SuburbKey())
	if err != nil {
		slog.Error(s.name+" AddProperty failed", "error", err, "agentID", p.AgentID)
		return nil, fmt.Errorf("failed to insert property: %w", err)
	}
	return &p, nil
}

func (s *sqlLeadStore) SearchProperties(ctx context.Context, agentID, suburb string) ([]models.Property, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+propertyColumns+` FROM properties WHERE agent_id = ? AND suburb_lowercase = ? ORDER BY price`),
		agentID, models.NormalizeSuburb(suburb))
	if err != nil {
		slog.Error(s.name+" SearchProperties query failed", "error", err, "agentID", agentID)
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	var out []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate property rows: %w", err)
	}
	slog.Debug(s.name+" SearchProperties succeeded", "agentID", agentID, "suburb", suburb, "count", len(out))
	return out, nil
}

func (s *sqlLeadStore) SaveBotStatus(ctx context.Context, status models.BotStatus) error {
	if status.LastSeen.IsZero() {
		status.LastSeen = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO bot_status (agent_id, status, agent_name, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			status = excluded.status,
			agent_name = excluded.agent_name,
			last_seen = excluded.last_seen`),
		status.AgentID, string(status.Status), status.AgentName, status.LastSeen)
	if err != nil {
		slog.Error(s.name+" SaveBotStatus failed", "error", err, "agentID", status.AgentID)
		return fmt.Errorf("failed to save bot status: %w", err)
	}
	return nil
}

func (s *sqlLeadStore) TouchBotStatus(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE bot_status SET last_seen = ? WHERE agent_id = ?`), at, agentID)
	if err != nil {
		return fmt.Errorf("failed to touch bot status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlLeadStore) GetBotStatus(ctx context.Context, agentID string) (*models.BotStatus, error) {
	var st models.BotStatus
	var status string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT agent_id, status, agent_name, last_seen FROM bot_status WHERE agent_id = ?`), agentID).
		Scan(&st.AgentID, &status, &st.AgentName, &st.LastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot status: %w", err)
	}
	st.Status = models.BotStatusType(status)
	return &st, nil
}
