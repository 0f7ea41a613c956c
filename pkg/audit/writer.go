package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/castellanhq/castellan/pkg/observability"
)

// Writer appends records to the audit trail. It is the only component with
// write access to the table; there is deliberately no update or delete path.
type Writer struct {
	db      *sql.DB
	ops     *logrus.Logger
	metrics *observability.Metrics

	serviceName string
	nodeID      string
	environment Environment
}

// NewWriter creates an audit writer. ops is the independent operational
// channel for reporting audit failures; it must not be the application
// logger so audit problems stay visible when the main pipeline is the thing
// failing. metrics may be nil.
func NewWriter(db *sql.DB, ops *logrus.Logger, metrics *observability.Metrics, serviceName, nodeID string, env Environment) *Writer {
	if ops == nil {
		ops = logrus.New()
	}
	return &Writer{
		db:          db,
		ops:         ops,
		metrics:     metrics,
		serviceName: serviceName,
		nodeID:      nodeID,
		environment: env,
	}
}

// Write validates, defaults, seals, and inserts one record. Defaulting is
// idempotent: fields already set by the caller are never overwritten, so a
// caller-computed hash survives intact.
func (w *Writer) Write(ctx context.Context, r *Record) error {
	start := time.Now()

	if err := r.Validate(); err != nil {
		w.observeWrite("rejected", start)
		return err
	}

	w.prepareForWrite(r)

	query := `
		INSERT INTO audit_log (
			uuid, timestamp, inserted_at,
			user_id, username, org_id, client_id, session_id, actor_type, auth_method,
			action, category, severity, status, message, metadata,
			source_ip, user_agent, request_id, correlation_id, trace_id,
			affected_entity_type, affected_entity_id,
			privilege_level, data_classification, environment, service_name, node_id,
			risk_score, hash
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30
		)
		RETURNING id
	`

	metadataJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		w.observeWrite("error", start)
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	err = w.db.QueryRowContext(ctx, query,
		r.UUID, r.Timestamp, r.InsertedAt,
		nullable(r.UserID), nullable(r.Username), nullableInt(r.OrgID), nullable(r.ClientID), nullable(r.SessionID), nullable(string(r.ActorType)), nullable(string(r.Auth)),
		r.Action, string(r.Category), string(r.Severity), string(r.Status), nullable(r.Message), string(metadataJSON),
		nullable(r.SourceIP), nullable(r.UserAgent), nullable(r.RequestID), nullable(r.CorrelationID), nullable(r.TraceID),
		nullable(r.AffectedEntityType), nullable(r.AffectedEntityID),
		nullable(string(r.PrivilegeLevel)), nullable(string(r.DataClassification)), nullable(string(r.Environment)), nullable(r.ServiceName), nullable(r.NodeID),
		r.RiskScore, r.Hash,
	).Scan(&r.ID)

	if err != nil {
		w.observeWrite("error", start)
		w.ops.WithFields(logrus.Fields{
			"action":     r.Action,
			"category":   r.Category,
			"request_id": r.RequestID,
		}).WithError(err).Error("audit write failed")
		return fmt.Errorf("failed to write audit record: %w", err)
	}

	w.observeWrite("success", start)
	return nil
}

// Update always fails. The audit trail accepts no mutations.
func (w *Writer) Update(ctx context.Context, id int64, _ *Record) error {
	if w.metrics != nil {
		w.metrics.AuditMutationsRejected.Inc()
	}
	w.ops.WithField("id", id).Warn("rejected attempt to update audit record")
	return ErrImmutableRecord
}

// Delete always fails. The audit trail accepts no mutations.
func (w *Writer) Delete(ctx context.Context, id int64) error {
	if w.metrics != nil {
		w.metrics.AuditMutationsRejected.Inc()
	}
	w.ops.WithField("id", id).Warn("rejected attempt to delete audit record")
	return ErrImmutableRecord
}

// prepareForWrite fills defaults and seals the record. Order matters: the
// hash is computed last, over the fully defaulted record, and only when the
// caller did not supply one.
func (w *Writer) prepareForWrite(r *Record) {
	if r.UUID == "" {
		r.UUID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.InsertedAt.IsZero() {
		r.InsertedAt = time.Now()
	}
	// Timestamps are persisted at exactly the precision the hash covers.
	// Sub-millisecond digits would round in the database and make an
	// untouched row fail verification on read-back; a non-UTC offset would
	// change the stored wall time outright.
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Millisecond)
	r.InsertedAt = r.InsertedAt.UTC().Truncate(time.Millisecond)
	if r.Severity == "" {
		r.Severity = deriveSeverity(r.Status)
	}
	if r.Environment == "" {
		r.Environment = w.environment
	}
	if r.ServiceName == "" {
		r.ServiceName = w.serviceName
	}
	if r.NodeID == "" {
		r.NodeID = w.nodeID
	}

	if len(r.Metadata) == 0 && len(r.Details) > 0 {
		r.Metadata = r.Details
	}
	r.Metadata = SanitizeMetadata(r.Metadata)

	if r.RiskScore == 0 {
		r.RiskScore = ComputeRiskScore(r)
	}
	if r.Hash == "" {
		r.Hash = ComputeHash(r)
	}
}

func deriveSeverity(status Status) Severity {
	switch status {
	case StatusFailure, StatusError:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// sensitiveKeyFragments flags metadata keys whose values must never reach
// the trail.
var sensitiveKeyFragments = []string{
	"password", "secret", "token", "authorization",
	"api_key", "apikey", "credential", "private_key",
}

const redactedValue = "[REDACTED]"

// SanitizeMetadata returns a copy of metadata with sensitive values
// replaced, descending into nested maps.
func SanitizeMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	clean := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if isSensitiveKey(k) {
			clean[k] = redactedValue
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			clean[k] = SanitizeMetadata(nested)
			continue
		}
		clean[k] = v
	}
	return clean
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func (w *Writer) observeWrite(status string, start time.Time) {
	if w.metrics == nil {
		return
	}
	w.metrics.AuditWritesTotal.WithLabelValues(status).Inc()
	w.metrics.AuditWriteDuration.Observe(time.Since(start).Seconds())
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}
