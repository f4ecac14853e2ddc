package domain

import "context"

// TrustLevel is the ordered authorization tier of a tool.
// Untrusted < Verified < Trusted.
type TrustLevel int

const (
	Untrusted TrustLevel = iota
	Verified
	Trusted
)

func (l TrustLevel) String() string {
	switch l {
	case Verified:
		return "VERIFIED"
	case Trusted:
		return "TRUSTED"
	default:
		return "UNTRUSTED"
	}
}

// MarshalText makes trust levels serialize as their audit-friendly names.
func (l TrustLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// AuditEntry records a security-relevant action for the audit trail.
type AuditEntry struct {
	Action   string // tool_exec | trust_promoted | trust_reset | call_denied
	ToolName string
	Level    string // trust level at the time of the action
	Result   string // allowed | denied | promoted | reset
	Details  string
}

// AuditLogger is the interface for writing audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}
