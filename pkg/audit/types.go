package audit

import (
	"encoding/json"
	"time"
)

// Action names a state-changing operation
type Action string

const (
	// Authentication
	ActionSignUp         Action = "auth.sign_up"
	ActionSignIn         Action = "auth.sign_in"
	ActionSignOut        Action = "auth.sign_out"
	ActionPasswordChange Action = "auth.password_change"
	ActionTokenRefresh   Action = "auth.token_refresh"

	// Profile and account administration
	ActionProfileUpdate     Action = "profile.update"
	ActionAccountUnlock     Action = "account.unlock"
	ActionAccountDeactivate Action = "account.deactivate"
	ActionAccountReactivate Action = "account.reactivate"
	ActionSessionTerminate  Action = "session.terminate"

	// Company access
	ActionGrantUpsert     Action = "grant.upsert"
	ActionGrantRevoke     Action = "grant.revoke"
	ActionGrantRoleChange Action = "grant.role_change"
	ActionAccessDenied    Action = "access.denied"

	// Invitations
	ActionInvitationCreate Action = "invitation.create"
	ActionInvitationAccept Action = "invitation.accept"
	ActionInvitationRevoke Action = "invitation.revoke"

	// Guard
	ActionSuspiciousIPClear Action = "guard.suspicious_ip_clear"
)

// ResourceType is the kind of record an action touched
type ResourceType string

const (
	ResourceUser       ResourceType = "user_profile"
	ResourceSession    ResourceType = "session"
	ResourceGrant      ResourceType = "company_access"
	ResourceInvitation ResourceType = "invitation"
	ResourceCompany    ResourceType = "company"
	ResourceIP         ResourceType = "ip_address"
)

// Event is one immutable audit log entry
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Actor; nil for unauthenticated failures
	UserID    *string `json:"user_id,omitempty"`
	SessionID *string `json:"session_id,omitempty"`

	Action       Action       `json:"action"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   *string      `json:"resource_id,omitempty"`

	OldValues json.RawMessage        `json:"old_values,omitempty"`
	NewValues json.RawMessage        `json:"new_values,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Snapshot marshals v for OldValues/NewValues. Nil values and marshal failures yield nil.
func Snapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// StringPtr returns nil for an empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Filter narrows audit searches. Zero values are ignored.
type Filter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID       string
	Actions      []Action
	ResourceType ResourceType
	ResourceID   string
	IPAddress    string
	Success      *bool

	Limit  int
	Offset int

	// Ascending orders oldest first; the default is newest first
	Ascending bool
}

// DefaultLimit and MaxLimit bound search page sizes
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// ParseExportFormat validates an export format, defaulting to JSON
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch ExportFormat(s) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, true
	case ExportFormatCSV:
		return ExportFormatCSV, true
	case ExportFormatNDJSON:
		return ExportFormatNDJSON, true
	}
	return "", false
}
