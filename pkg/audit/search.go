package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Filter narrows an audit search. Zero values mean "no constraint". Slice
// fields match any of their values.
type Filter struct {
	UserID        string
	OrgID         int64
	Action        string
	Categories    []Category
	Statuses      []Status
	Severities    []Severity
	RequestID     string
	CorrelationID string
	TraceID       string
	SourceIP      string
	EntityType    string
	EntityID      string
	MinRisk       int
	From          time.Time
	To            time.Time

	Limit  int
	Offset int
}

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

// Searcher reads the audit trail. Separate from Writer so read-only callers
// never hold a handle that could write.
type Searcher struct {
	db *sql.DB
}

// NewSearcher creates a read-only view over the audit trail.
func NewSearcher(db *sql.DB) *Searcher {
	return &Searcher{db: db}
}

// Search returns records matching the filter, newest first.
func (s *Searcher) Search(ctx context.Context, f Filter) ([]Record, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UserID != "" {
		conds = append(conds, "user_id = "+arg(f.UserID))
	}
	if f.OrgID != 0 {
		conds = append(conds, "org_id = "+arg(f.OrgID))
	}
	if f.Action != "" {
		conds = append(conds, "action = "+arg(f.Action))
	}
	if len(f.Categories) > 0 {
		conds = append(conds, "category = ANY("+arg(pq.Array(categoriesToStrings(f.Categories)))+")")
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, "status = ANY("+arg(pq.Array(statusesToStrings(f.Statuses)))+")")
	}
	if len(f.Severities) > 0 {
		conds = append(conds, "severity = ANY("+arg(pq.Array(severitiesToStrings(f.Severities)))+")")
	}
	if f.RequestID != "" {
		conds = append(conds, "request_id = "+arg(f.RequestID))
	}
	if f.CorrelationID != "" {
		conds = append(conds, "correlation_id = "+arg(f.CorrelationID))
	}
	if f.TraceID != "" {
		conds = append(conds, "trace_id = "+arg(f.TraceID))
	}
	if f.SourceIP != "" {
		conds = append(conds, "source_ip = "+arg(f.SourceIP))
	}
	if f.EntityType != "" {
		conds = append(conds, "affected_entity_type = "+arg(f.EntityType))
	}
	if f.EntityID != "" {
		conds = append(conds, "affected_entity_id = "+arg(f.EntityID))
	}
	if f.MinRisk > 0 {
		conds = append(conds, "risk_score >= "+arg(f.MinRisk))
	}
	if !f.From.IsZero() {
		conds = append(conds, "timestamp >= "+arg(f.From.UTC()))
	}
	if !f.To.IsZero() {
		conds = append(conds, "timestamp <= "+arg(f.To.UTC()))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	query := "SELECT " + recordColumns + " FROM audit_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	query += " LIMIT " + arg(limit)
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

// GetByUUID returns a single record.
func (s *Searcher) GetByUUID(ctx context.Context, recordUUID string) (*Record, error) {
	query := "SELECT " + recordColumns + " FROM audit_log WHERE uuid = $1"
	row := s.db.QueryRowContext(ctx, query, recordUUID)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Verify recomputes the integrity hash of the record with the given uuid
// and reports whether it matches the stored one.
func (s *Searcher) Verify(ctx context.Context, recordUUID string) (bool, *Record, error) {
	record, err := s.GetByUUID(ctx, recordUUID)
	if err != nil {
		return false, nil, err
	}
	return VerifyHash(record), record, nil
}

const recordColumns = `
	id, uuid, timestamp, inserted_at,
	COALESCE(user_id, ''), COALESCE(username, ''), COALESCE(org_id, 0), COALESCE(client_id, ''), COALESCE(session_id, ''), COALESCE(actor_type, ''), COALESCE(auth_method, ''),
	action, category, severity, status, COALESCE(message, ''), COALESCE(metadata, 'null'),
	COALESCE(source_ip, ''), COALESCE(user_agent, ''), COALESCE(request_id, ''), COALESCE(correlation_id, ''), COALESCE(trace_id, ''),
	COALESCE(affected_entity_type, ''), COALESCE(affected_entity_id, ''),
	COALESCE(privilege_level, ''), COALESCE(data_classification, ''), COALESCE(environment, ''), COALESCE(service_name, ''), COALESCE(node_id, ''),
	risk_score, hash
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r            Record
		metadataJSON []byte
	)
	err := row.Scan(
		&r.ID, &r.UUID, &r.Timestamp, &r.InsertedAt,
		&r.UserID, &r.Username, &r.OrgID, &r.ClientID, &r.SessionID, &r.ActorType, &r.Auth,
		&r.Action, &r.Category, &r.Severity, &r.Status, &r.Message, &metadataJSON,
		&r.SourceIP, &r.UserAgent, &r.RequestID, &r.CorrelationID, &r.TraceID,
		&r.AffectedEntityType, &r.AffectedEntityID,
		&r.PrivilegeLevel, &r.DataClassification, &r.Environment, &r.ServiceName, &r.NodeID,
		&r.RiskScore, &r.Hash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
		}
	}

	return &r, nil
}

func categoriesToStrings(in []Category) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func statusesToStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func severitiesToStrings(in []Severity) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}
