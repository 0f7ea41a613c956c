package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the audit table and its query indexes. The table has
// no UPDATE or DELETE grants in production; immutability is also enforced at
// the application layer.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			uuid VARCHAR(36) NOT NULL UNIQUE,
			timestamp TIMESTAMPTZ NOT NULL,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

			user_id VARCHAR(255),
			username VARCHAR(255),
			org_id BIGINT,
			client_id VARCHAR(255),
			session_id VARCHAR(255),
			actor_type VARCHAR(32),
			auth_method VARCHAR(32),

			action VARCHAR(255) NOT NULL,
			category VARCHAR(32) NOT NULL,
			severity VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			message TEXT,
			metadata JSONB,

			source_ip VARCHAR(64),
			user_agent TEXT,
			request_id VARCHAR(64),
			correlation_id VARCHAR(64),
			trace_id VARCHAR(64),

			affected_entity_type VARCHAR(255),
			affected_entity_id VARCHAR(255),

			privilege_level VARCHAR(32),
			data_classification VARCHAR(32),
			environment VARCHAR(32),
			service_name VARCHAR(255),
			node_id VARCHAR(255),

			risk_score INT NOT NULL DEFAULT 0,
			hash VARCHAR(64) NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_log_user_id ON audit_log(user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_org_id ON audit_log(org_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
		CREATE INDEX IF NOT EXISTS idx_audit_log_category ON audit_log(category);
		CREATE INDEX IF NOT EXISTS idx_audit_log_severity ON audit_log(severity);
		CREATE INDEX IF NOT EXISTS idx_audit_log_status ON audit_log(status);
		CREATE INDEX IF NOT EXISTS idx_audit_log_client_id ON audit_log(client_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_session_id ON audit_log(session_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_request_id ON audit_log(request_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_correlation_id ON audit_log(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_trace_id ON audit_log(trace_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_source_ip ON audit_log(source_ip);
		CREATE INDEX IF NOT EXISTS idx_audit_log_risk_score ON audit_log(risk_score);
		CREATE INDEX IF NOT EXISTS idx_audit_log_hash ON audit_log(hash);
		CREATE INDEX IF NOT EXISTS idx_audit_log_affected_entity ON audit_log(affected_entity_type, affected_entity_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_user_timestamp ON audit_log(user_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_log_org_timestamp ON audit_log(org_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_log_action_timestamp ON audit_log(action, timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_log_category_severity ON audit_log(category, severity);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}
