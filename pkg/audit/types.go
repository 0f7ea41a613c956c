package audit

import (
	"time"
)

// Category classifies what part of the system an event touched.
type Category string

const (
	CategoryAuth           Category = "AUTH"
	CategoryUserManagement Category = "USER_MANAGEMENT"
	CategorySecurity       Category = "SECURITY"
	CategoryAdmin          Category = "ADMIN"
	CategoryAuthorization  Category = "AUTHORIZATION"
	CategoryAPI            Category = "API"
	CategorySystem         Category = "SYSTEM"
)

// Severity grades how serious an event is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Status records the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusPending Status = "PENDING"
	StatusError   Status = "ERROR"
)

// ActorType says what kind of principal performed the action.
type ActorType string

const (
	ActorUser    ActorType = "USER"
	ActorService ActorType = "SERVICE"
	ActorSystem  ActorType = "SYSTEM"
)

// AuthMethod records how the actor authenticated.
type AuthMethod string

const (
	AuthMethodBearer AuthMethod = "BEARER"
	AuthMethodAPIKey AuthMethod = "API_KEY"
	AuthMethodNone   AuthMethod = "NONE"
)

// PrivilegeLevel records the actor's privilege tier at event time.
type PrivilegeLevel string

const (
	PrivilegeStandard   PrivilegeLevel = "STANDARD"
	PrivilegeElevated   PrivilegeLevel = "ELEVATED"
	PrivilegeAdmin      PrivilegeLevel = "ADMIN"
	PrivilegeSuperadmin PrivilegeLevel = "SUPERADMIN"
)

// DataClassification labels the sensitivity of the affected data.
type DataClassification string

const (
	ClassificationPublic       DataClassification = "PUBLIC"
	ClassificationInternal     DataClassification = "INTERNAL"
	ClassificationConfidential DataClassification = "CONFIDENTIAL"
	ClassificationRestricted   DataClassification = "RESTRICTED"
)

// Environment names the deployment tier the event was recorded in.
type Environment string

const (
	EnvironmentProduction  Environment = "PRODUCTION"
	EnvironmentStaging     Environment = "STAGING"
	EnvironmentDevelopment Environment = "DEVELOPMENT"
	EnvironmentTest        Environment = "TEST"
)

// Record is one append-only audit trail entry. Once written it is never
// updated or deleted; the integrity hash covers its identifying fields so
// tampering is detectable offline.
type Record struct {
	ID         int64     `json:"id,omitempty"`
	UUID       string    `json:"uuid"`
	Timestamp  time.Time `json:"timestamp"`
	InsertedAt time.Time `json:"inserted_at,omitempty"`

	UserID    string     `json:"user_id,omitempty"`
	Username  string     `json:"username,omitempty"`
	OrgID     int64      `json:"org_id,omitempty"`
	ClientID  string     `json:"client_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	ActorType ActorType  `json:"actor_type,omitempty"`
	Auth      AuthMethod `json:"auth_method,omitempty"`

	Action   string   `json:"action"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Status   Status   `json:"status"`
	Message  string   `json:"message,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Details is a legacy alias for Metadata. When Metadata is empty it is
	// promoted to Metadata before hashing; it is never persisted itself.
	Details map[string]interface{} `json:"details,omitempty"`

	SourceIP      string `json:"source_ip,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`

	AffectedEntityType string `json:"affected_entity_type,omitempty"`
	AffectedEntityID   string `json:"affected_entity_id,omitempty"`

	PrivilegeLevel     PrivilegeLevel     `json:"privilege_level,omitempty"`
	DataClassification DataClassification `json:"data_classification,omitempty"`
	Environment        Environment        `json:"environment,omitempty"`
	ServiceName        string             `json:"service_name,omitempty"`
	NodeID             string             `json:"node_id,omitempty"`

	RiskScore int    `json:"risk_score"`
	Hash      string `json:"hash"`
}

var validCategories = map[Category]bool{
	CategoryAuth:           true,
	CategoryUserManagement: true,
	CategorySecurity:       true,
	CategoryAdmin:          true,
	CategoryAuthorization:  true,
	CategoryAPI:            true,
	CategorySystem:         true,
}

var validSeverities = map[Severity]bool{
	SeverityInfo:     true,
	SeverityWarning:  true,
	SeverityError:    true,
	SeverityCritical: true,
}

var validStatuses = map[Status]bool{
	StatusSuccess: true,
	StatusFailure: true,
	StatusPending: true,
	StatusError:   true,
}

// Validate rejects records with missing required fields or values outside
// the closed enums.
func (r *Record) Validate() error {
	if r.Action == "" {
		return &ValidationError{Field: "action", Message: "action is required"}
	}
	if !validCategories[r.Category] {
		return &ValidationError{Field: "category", Message: "unknown category: " + string(r.Category)}
	}
	if !validStatuses[r.Status] {
		return &ValidationError{Field: "status", Message: "unknown status: " + string(r.Status)}
	}
	if r.Severity != "" && !validSeverities[r.Severity] {
		return &ValidationError{Field: "severity", Message: "unknown severity: " + string(r.Severity)}
	}
	return nil
}

// RiskWeights used by ComputeRiskScore. The score is additive and capped
// at 100.
const (
	riskFailedOutcome    = 20
	riskSecurityCategory = 30
	riskCriticalSeverity = 15
	riskPrivilegedActor  = 10
	riskScoreCap         = 100
)

// ComputeRiskScore derives a 0-100 risk figure from the record's outcome,
// category, severity, and actor privilege.
func ComputeRiskScore(r *Record) int {
	score := 0
	if r.Status == StatusFailure || r.Status == StatusError {
		score += riskFailedOutcome
	}
	if r.Category == CategorySecurity {
		score += riskSecurityCategory
	}
	if r.Severity == SeverityCritical {
		score += riskCriticalSeverity
	}
	if r.PrivilegeLevel == PrivilegeAdmin || r.PrivilegeLevel == PrivilegeSuperadmin {
		score += riskPrivilegedActor
	}
	if score > riskScoreCap {
		score = riskScoreCap
	}
	return score
}
