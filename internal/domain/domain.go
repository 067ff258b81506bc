package domain

// Project statuses.
const (
	StatusPendingBlueprint        = "pending_blueprint"
	StatusPendingCosting          = "pending_costing"
	StatusPendingCustomerApproval = "pending_customer_approval"
	StatusRevisionRequested       = "revision_requested"
	StatusApproved                = "approved"
	StatusFabrication             = "fabrication"
	StatusCompleted               = "completed"
	StatusCancelled               = "cancelled"
)

// Artifact kinds.
const (
	KindBlueprint = "blueprint"
	KindCosting   = "costing"
)

// Payment plans.
const (
	PlanStaged = "staged"
	PlanFull   = "full"
)

// Payment stage statuses.
const (
	StagePending   = "pending"
	StageSubmitted = "submitted"
	StageVerified  = "verified"
	StageRejected  = "rejected"
)

type Project struct {
	ID               string `json:"id"`
	Category         string `json:"category,omitempty"`
	Status           string `json:"status" enum:"pending_blueprint,pending_costing,pending_customer_approval,revision_requested,approved,fabrication,completed,cancelled"`
	CustomerRef      string `json:"customer_ref,omitempty"`
	SiteAddress      string `json:"site_address,omitempty"`
	PaymentPlan      string `json:"payment_plan,omitempty"`
	ApprovedAmount   *int64 `json:"approved_amount,omitempty"`
	BlueprintVersion int    `json:"blueprint_version"`
	CostingVersion   int    `json:"costing_version"`
	CancelReason     string `json:"cancel_reason,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the project can no longer change state.
func (p Project) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusCancelled
}

// Artifact is an immutable versioned document (blueprint or costing).
// Byte storage is external; only metadata lives here.
type Artifact struct {
	ProjectID   string     `json:"project_id"`
	Kind        string     `json:"kind" enum:"blueprint,costing"`
	Version     int        `json:"version"`
	Filename    string     `json:"filename"`
	URI         string     `json:"uri,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	TotalAmount *int64     `json:"total_amount,omitempty"`
	Breakdown   []CostLine `json:"breakdown,omitempty"`
	UploadedBy  string     `json:"uploaded_by"`
	UploadedAt  string     `json:"uploaded_at" format:"date-time"`
}

// CostLine is one itemized row of a costing breakdown.
type CostLine struct {
	Item      string `json:"item"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

// Revision is a customer request to redo a specific artifact version.
type Revision struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	TargetKind    string  `json:"target_kind" enum:"blueprint,costing"`
	TargetVersion int     `json:"target_version"`
	Feedback      string  `json:"feedback"`
	RequestedBy   string  `json:"requested_by"`
	RequestedAt   string  `json:"requested_at" format:"date-time"`
	ResolvedAt    *string `json:"resolved_at,omitempty" format:"date-time"`
}

// Open reports whether the revision is still unresolved.
func (r Revision) Open() bool { return r.ResolvedAt == nil }

// PaymentStage is one slice of the billing plan. Definitions are frozen at
// approval; only Status changes afterwards.
type PaymentStage struct {
	ProjectID  string `json:"project_id"`
	Seq        int    `json:"seq"`
	Label      string `json:"label"`
	Percentage int    `json:"percentage"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status" enum:"pending,submitted,verified,rejected"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

// StatusChange is one committed transition in a project's audit trail.
type StatusChange struct {
	ID         int64  `json:"id"`
	ProjectID  string `json:"project_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	ActorRole  string `json:"actor_role,omitempty"`
	Notes      string `json:"notes,omitempty"`
	TS         string `json:"ts" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
