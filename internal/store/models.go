package store

import (
	"time"

	"github.com/google/uuid"
)

// RefreshPolicy enumerates how an Agent Budget replenishes over time.
type RefreshPolicy string

const (
	RefreshPolicyNever   RefreshPolicy = "never"
	RefreshPolicyDaily   RefreshPolicy = "daily"
	RefreshPolicyMonthly RefreshPolicy = "monthly"
)

// LeaseStatus enumerates the lifecycle states of a Budget Lease.
type LeaseStatus string

const (
	LeaseStatusActive   LeaseStatus = "active"
	LeaseStatusReturned LeaseStatus = "returned"
	LeaseStatusExpired  LeaseStatus = "expired"
)

// AgentControlTokenPrefix distinguishes an agent-typed control token from
// an administrator-typed one (§3 invariant v: an agent-typed token row must
// carry a non-null agent FK). AdminControlTokenPrefix carries no role
// segment, per the token format's "absent for administrator-bound tokens".
const (
	AgentControlTokenPrefix = "tok_agent_"
	AdminControlTokenPrefix = "tok"
)

// User is an administrator: a human who authenticates on the admin channel,
// owns agents, and may hold sessions.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalID   string    `gorm:"column:external_id;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null;default:''"`
	DisplayName  string    `gorm:"column:display_name;not null;default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time `gorm:"index"`
}

func (User) TableName() string { return "tbcp_users" }

// Project is the label referenced by provider-token binding and by-project
// usage aggregation.
type Project struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"not null"`
	OwnerUserID uuid.UUID `gorm:"column:owner_user_id;type:uuid;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time `gorm:"index"`
}

func (Project) TableName() string { return "tbcp_projects" }

// Agent is the stable identity that owns exactly one control token and one
// budget record. Deletion cascades to budget, leases, tokens, and usage.
type Agent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	ProjectID *uuid.UUID `gorm:"column:project_id;type:uuid"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time `gorm:"index"`
}

func (Agent) TableName() string { return "tbcp_agents" }

// ControlToken is the visible secret presented to the agent runtime. The
// plaintext body is never stored. BodyHash is the bcrypt hash checked with a
// constant-time comparison; LookupHash is a deterministic HMAC-SHA256 over
// the body, carrying the unique index so a presented token can be found in
// O(1) before the slow bcrypt comparison runs (bcrypt's own random salt makes
// its hash unusable as a lookup key). The plaintext is returned exactly
// once, at creation or rotation time, by the caller that generated it.
type ControlToken struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Prefix      string     `gorm:"not null"`
	BodyHash    string     `gorm:"column:body_hash;not null"`
	LookupHash  string     `gorm:"column:lookup_hash;not null;uniqueIndex"`
	AgentID     *uuid.UUID `gorm:"column:agent_id;type:uuid"`
	UserID      *uuid.UUID `gorm:"column:user_id;type:uuid"`
	ProjectID   *uuid.UUID `gorm:"column:project_id;type:uuid"`
	Description string     `gorm:"not null;default:''"`
	Active      bool       `gorm:"not null;default:true"`
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

func (ControlToken) TableName() string { return "tbcp_control_tokens" }

// IsAgentToken reports whether this row was issued with the agent-token
// prefix, per the §3 invariant binding that prefix to a non-null AgentID.
func (t ControlToken) IsAgentToken() bool {
	return t.Prefix == AgentControlTokenPrefix
}

// ProviderToken maps a {project, provider} tuple to an encrypted upstream
// API key plus non-secret metadata. Ciphertext and Nonce are the AES-GCM
// sealed box and its per-record nonce; see internal/provider.
type ProviderToken struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID  uuid.UUID `gorm:"column:project_id;type:uuid;not null"`
	Provider   string    `gorm:"not null"`
	Label      string    `gorm:"not null;default:''"`
	Ciphertext []byte    `gorm:"not null"`
	Nonce      []byte    `gorm:"not null"`
	BaseURL    string    `gorm:"column:base_url;not null;default:''"`
	Enabled    bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ProviderToken) TableName() string { return "tbcp_provider_tokens" }

// AgentBudget is the per-agent ceiling. Created alongside the agent, never
// deleted while the agent exists.
type AgentBudget struct {
	ID               uuid.UUID     `gorm:"type:uuid;primaryKey"`
	AgentID          uuid.UUID     `gorm:"column:agent_id;type:uuid;not null;uniqueIndex"`
	TotalAllocation  int64         `gorm:"column:total_allocation;not null;default:0"`
	Spent            int64         `gorm:"not null;default:0"`
	RefreshPolicy    RefreshPolicy `gorm:"column:refresh_policy;not null;default:never"`
	LastRefreshAt    time.Time     `gorm:"column:last_refresh_at;not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (AgentBudget) TableName() string { return "tbcp_agent_budgets" }

// Remaining returns the unspent portion of the total allocation. Never
// negative by invariant (iv): usage totals per token never decrease, and
// Spent is only ever incremented by validated spend amounts.
func (b AgentBudget) Remaining() int64 {
	r := b.TotalAllocation - b.Spent
	if r < 0 {
		return 0
	}
	return r
}

// BudgetLease is a borrowed slice held by a specific agent runtime instance.
// An agent may hold at most one active lease at a time, enforced by a
// partial unique index on (agent_id) WHERE status = 'active'.
type BudgetLease struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey"`
	AgentID        uuid.UUID   `gorm:"column:agent_id;type:uuid;not null"`
	BorrowedAmount int64       `gorm:"column:borrowed_amount;not null"`
	SpentSoFar     int64       `gorm:"column:spent_so_far;not null;default:0"`
	Status         LeaseStatus `gorm:"not null;default:active"`
	AcquiredAt     time.Time   `gorm:"column:acquired_at;not null"`
	ExpiresAt      time.Time   `gorm:"column:expires_at;not null"`
}

func (BudgetLease) TableName() string { return "tbcp_budget_leases" }

// LimitRecord holds administrator-defined ceilings keyed by {user, optional
// project}, consulted advisory-then-blocking by the Budget Engine. Nil
// pointer fields mean "no ceiling configured" for that dimension.
type LimitRecord struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID                uuid.UUID  `gorm:"column:user_id;type:uuid;not null"`
	ProjectID             *uuid.UUID `gorm:"column:project_id;type:uuid"`
	MaxTokensPerDay       *int64     `gorm:"column:max_tokens_per_day"`
	MaxRequestsPerMinute  *int64     `gorm:"column:max_requests_per_minute"`
	MaxCostCentsPerMonth  *int64     `gorm:"column:max_cost_cents_per_month"`
	TokensToday           int64      `gorm:"column:tokens_today;not null;default:0"`
	RequestsThisMinute    int64      `gorm:"column:requests_this_minute;not null;default:0"`
	CostCentsThisMonth    int64      `gorm:"column:cost_cents_this_month;not null;default:0"`
	DayWindowResetAt      time.Time  `gorm:"column:day_window_reset_at;not null"`
	MinuteWindowResetAt   time.Time  `gorm:"column:minute_window_reset_at;not null"`
	MonthWindowResetAt    time.Time  `gorm:"column:month_window_reset_at;not null"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (LimitRecord) TableName() string { return "tbcp_limit_records" }

// UsageRecord is an append-only fact row. Never mutated after insert.
type UsageRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	TokenID      uuid.UUID `gorm:"column:token_id;type:uuid;not null"`
	Provider     string    `gorm:"not null"`
	Model        string    `gorm:"not null"`
	InputTokens  int64     `gorm:"column:input_tokens;not null;default:0"`
	OutputTokens int64     `gorm:"column:output_tokens;not null;default:0"`
	CostCents    int64     `gorm:"column:cost_cents;not null;default:0"`
	CreatedAt    time.Time
}

func (UsageRecord) TableName() string { return "tbcp_usage_records" }

// TraceRecord extends a Usage Record with endpoint, status, and latency
// detail. RequestPointer/ResponsePointer may be nil to save space.
type TraceRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	UsageRecordID   uuid.UUID `gorm:"column:usage_record_id;type:uuid;not null;uniqueIndex"`
	Endpoint        string    `gorm:"not null"`
	HTTPStatus      int       `gorm:"column:http_status;not null"`
	LatencyMS       int       `gorm:"column:latency_ms;not null;default:0"`
	RequestPointer  *string   `gorm:"column:request_pointer"`
	ResponsePointer *string   `gorm:"column:response_pointer"`
	CreatedAt       time.Time
}

func (TraceRecord) TableName() string { return "tbcp_trace_records" }

// AuditEntry is an append-only record emitted on every token, limit, and
// budget lifecycle event.
type AuditEntry struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	EntityType  string     `gorm:"column:entity_type;not null"`
	EntityID    string     `gorm:"column:entity_id;not null"`
	Action      string     `gorm:"not null"`
	ActorUserID *uuid.UUID `gorm:"column:actor_user_id;type:uuid"`
	ChangeSet   string     `gorm:"column:change_set;not null;default:'{}'"`
	RemoteAddr  string     `gorm:"column:remote_addr;not null;default:''"`
	UserAgent   string     `gorm:"column:user_agent;not null;default:''"`
	CreatedAt   time.Time
}

func (AuditEntry) TableName() string { return "tbcp_audit_entries" }

// AdminSession is a short-lived access grant plus a longer-lived refresh
// grant, both signed with the process-wide signing key. Only the refresh
// token's hash is persisted; access tokens are stateless JWTs validated by
// signature and expiry alone.
type AdminSession struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	RefreshTokenHash  string    `gorm:"column:refresh_token_hash;not null;uniqueIndex"`
	AccessExpiresAt   time.Time `gorm:"column:access_expires_at;not null"`
	RefreshExpiresAt  time.Time `gorm:"column:refresh_expires_at;not null"`
	Revoked           bool      `gorm:"not null;default:false"`
	CreatedAt         time.Time
}

func (AdminSession) TableName() string { return "tbcp_admin_sessions" }
