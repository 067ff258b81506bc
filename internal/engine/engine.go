package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fabline/internal/config"
	"fabline/internal/domain"
	"fabline/internal/events"
	"fabline/internal/payments"
	"fabline/internal/repo"
)

// Engine owns the project lifecycle. Every mutating operation runs inside
// the project's critical section and a single transaction: status change,
// history row, artifact version and event commit together or not at all.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	locks *keyedLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		locks:  newKeyedLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) lock(projectID string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.acquire(projectID)
}

// Actor identifies who issued a command; role is recorded in the audit
// trail, authorization happens at the coordinator layer.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) orLocal() Actor {
	if a.ID == "" {
		a.ID = "local-user"
	}
	return a
}

// CreateProjectOptions are parameters for converting an appointment into a
// project. The intake collaborator supplies them as an opaque payload.
type CreateProjectOptions struct {
	ID          string
	Category    string
	CustomerRef string
	SiteAddress string
	Actor       Actor
}

func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	actor := opts.Actor.orLocal()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:          id,
		Category:    opts.Category,
		Status:      domain.StatusPendingBlueprint,
		CustomerRef: opts.CustomerRef,
		SiteAddress: opts.SiteAddress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	unlock := e.lock(p.ID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, "project", p.ID, actor.ID, events.EventPayload{
		"status":   p.Status,
		"category": p.Category,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// transition sets the new status, appends the audit row and emits the status
// event inside the caller's transaction.
func (e Engine) transition(ctx context.Context, tx *sql.Tx, p *domain.Project, to string, actor Actor, notes string) error {
	from := p.Status
	ts := e.now().UTC().Format(time.RFC3339)
	p.Status = to
	p.UpdatedAt = ts
	if err := e.Repo.AppendStatusTx(ctx, tx, domain.StatusChange{
		ProjectID:  p.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Notes:      notes,
		TS:         ts,
	}); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return e.Events.Append(ctx, tx, events.TypeStatusChanged, p.ID, "project", p.ID, actor.ID, events.EventPayload{
		"from":  from,
		"to":    to,
		"actor": actor.ID,
		"role":  actor.Role,
	})
}

func ensureNotTerminal(p domain.Project) error {
	if p.Terminal() {
		return TerminalStateError{Status: p.Status}
	}
	return nil
}

// AttachArtifactOptions carries blueprint upload metadata; byte storage is
// handled by the file collaborator before this call.
type AttachArtifactOptions struct {
	ProjectID string
	Filename  string
	URI       string
	Notes     string
	Actor     Actor
}

// AttachBlueprint appends a new blueprint version and advances the project
// to the costing stage: a changed blueprint always invalidates the costing
// built on it. An open revision targeting the blueprint is resolved by the
// new version.
func (e Engine) AttachBlueprint(ctx context.Context, opts AttachArtifactOptions) (domain.Project, domain.Artifact, error) {
	if strings.TrimSpace(opts.Filename) == "" {
		return domain.Project{}, domain.Artifact{}, ValidationError{Field: "filename", Reason: "is required"}
	}
	actor := opts.Actor.orLocal()
	unlock := e.lock(opts.ProjectID)
	defer unlock()

	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Project{}, domain.Artifact{}, err
	}
	if err := ensureNotTerminal(p); err != nil {
		return p, domain.Artifact{}, err
	}
	if p.Status != domain.StatusPendingBlueprint {
		return p, domain.Artifact{}, InvalidTransitionError{Op: "attach blueprint", Status: p.Status}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, domain.Artifact{}, err
	}
	defer tx.Rollback()

	a := domain.Artifact{
		ProjectID:  p.ID,
		Kind:       domain.KindBlueprint,
		Version:    p.BlueprintVersion + 1,
		Filename:   opts.Filename,
		URI:        opts.URI,
		Notes:      opts.Notes,
		UploadedBy: actor.ID,
		UploadedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertArtifactTx(ctx, tx, a); err != nil {
		return p, a, fmt.Errorf("insert blueprint v%d: %w", a.Version, err)
	}
	p.BlueprintVersion = a.Version
	if err := e.resolveOpenRevision(ctx, tx, &p, domain.KindBlueprint, a.Version, actor); err != nil {
		return p, a, err
	}
	if err := e.transition(ctx, tx, &p, domain.StatusPendingCosting, actor, fmt.Sprintf("blueprint v%d attached", a.Version)); err != nil {
		return p, a, err
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, a, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeBlueprintAttached, p.ID, "artifact", artifactKey(a), actor.ID, events.EventPayload{
		"version":  a.Version,
		"filename": a.Filename,
	}); err != nil {
		return p, a, err
	}
	if err := tx.Commit(); err != nil {
		return p, a, err
	}
	return p, a, nil
}

// AttachCostingOptions carries a costing upload with its total and itemized
// breakdown. Amounts are integer minor units.
type AttachCostingOptions struct {
	ProjectID   string
	Filename    string
	URI         string
	Notes       string
	TotalAmount int64
	Breakdown   []domain.CostLine
	Actor       Actor
}

// AttachCosting appends a new costing version and advances the project to
// customer approval. A costing cannot exist without a blueprint to cost.
func (e Engine) AttachCosting(ctx context.Context, opts AttachCostingOptions) (domain.Project, domain.Artifact, error) {
	if strings.TrimSpace(opts.Filename) == "" {
		return domain.Project{}, domain.Artifact{}, ValidationError{Field: "filename", Reason: "is required"}
	}
	if opts.TotalAmount <= 0 {
		return domain.Project{}, domain.Artifact{}, ValidationError{Field: "total_amount", Reason: "must be positive"}
	}
	var breakdownSum int64
	for i, line := range opts.Breakdown {
		if line.Quantity <= 0 || line.UnitPrice < 0 {
			return domain.Project{}, domain.Artifact{}, ValidationError{
				Field:  fmt.Sprintf("breakdown[%d]", i),
				Reason: "quantity must be positive and unit_price non-negative",
			}
		}
		if line.Total != line.Quantity*line.UnitPrice {
			return domain.Project{}, domain.Artifact{}, ValidationError{
				Field:  fmt.Sprintf("breakdown[%d].total", i),
				Reason: fmt.Sprintf("%d != %d*%d", line.Total, line.Quantity, line.UnitPrice),
			}
		}
		breakdownSum += line.Total
	}
	if len(opts.Breakdown) > 0 && breakdownSum != opts.TotalAmount {
		return domain.Project{}, domain.Artifact{}, ValidationError{
			Field:  "breakdown",
			Reason: fmt.Sprintf("line totals sum to %d, total_amount is %d", breakdownSum, opts.TotalAmount),
		}
	}
	actor := opts.Actor.orLocal()
	unlock := e.lock(opts.ProjectID)
	defer unlock()

	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Project{}, domain.Artifact{}, err
	}
	if err := ensureNotTerminal(p); err != nil {
		return p, domain.Artifact{}, err
	}
	if p.BlueprintVersion == 0 {
		return p, domain.Artifact{}, PrerequisiteMissingError{Op: "attach costing", Missing: "blueprint"}
	}
	if p.Status != domain.StatusPendingCosting {
		return p, domain.Artifact{}, InvalidTransitionError{Op: "attach costing", Status: p.Status}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, domain.Artifact{}, err
	}
	defer tx.Rollback()

	total := opts.TotalAmount
	a := domain.Artifact{
		ProjectID:   p.ID,
		Kind:        domain.KindCosting,
		Version:     p.CostingVersion + 1,
		Filename:    opts.Filename,
		URI:         opts.URI,
		Notes:       opts.Notes,
		TotalAmount: &total,
		Breakdown:   opts.Breakdown,
		UploadedBy:  actor.ID,
		UploadedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertArtifactTx(ctx, tx, a); err != nil {
		return p, a, fmt.Errorf("insert costing v%d: %w", a.Version, err)
	}
	p.CostingVersion = a.Version
	if err := e.resolveOpenRevision(ctx, tx, &p, domain.KindCosting, a.Version, actor); err != nil {
		return p, a, err
	}
	if err := e.transition(ctx, tx, &p, domain.StatusPendingCustomerApproval, actor, fmt.Sprintf("costing v%d attached", a.Version)); err != nil {
		return p, a, err
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, a, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeCostingAttached, p.ID, "artifact", artifactKey(a), actor.ID, events.EventPayload{
		"version":      a.Version,
		"total_amount": total,
	}); err != nil {
		return p, a, err
	}
	if err := tx.Commit(); err != nil {
		return p, a, err
	}
	return p, a, nil
}

// resolveOpenRevision closes the project's open revision when the targeted
// artifact kind receives a new version.
func (e Engine) resolveOpenRevision(ctx context.Context, tx *sql.Tx, p *domain.Project, kind string, version int, actor Actor) error {
	rev, err := e.Repo.OpenRevisionTx(ctx, tx, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rev.TargetKind != kind {
		return nil
	}
	ts := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ResolveRevisionTx(ctx, tx, rev.ID, ts); err != nil {
		return fmt.Errorf("resolve revision %s: %w", rev.ID, err)
	}
	return e.Events.Append(ctx, tx, events.TypeRevisionResolved, p.ID, "revision", rev.ID, actor.ID, events.EventPayload{
		"target_kind":      rev.TargetKind,
		"target_version":   rev.TargetVersion,
		"resolved_version": version,
	})
}

// SubmitForApproval is the explicit customer-facing gate. From
// pending_costing with a still-valid earlier costing it advances without a
// new costing version. It is an idempotent no-op when the project already
// awaits approval: no history row, no event.
func (e Engine) SubmitForApproval(ctx context.Context, projectID string, actor Actor) (domain.Project, error) {
	actor = actor.orLocal()
	unlock := e.lock(projectID)
	defer unlock()

	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := ensureNotTerminal(p); err != nil {
		return p, err
	}
	if p.Status == domain.StatusPendingCustomerApproval {
		return p, nil
	}
	if p.BlueprintVersion == 0 {
		return p, PrerequisiteMissingError{Op: "submit for approval", Missing: "blueprint"}
	}
	if p.CostingVersion == 0 {
		return p, PrerequisiteMissingError{Op: "submit for approval", Missing: "costing"}
	}
	if p.Status != domain.StatusPendingBlueprint && p.Status != domain.StatusPendingCosting {
		return p, InvalidTransitionError{Op: "submit for approval", Status: p.Status}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	// A still-open revision means the targeted artifact was never redone.
	if rev, err := e.Repo.OpenRevisionTx(ctx, tx, p.ID); err == nil {
		return p, PrerequisiteMissingError{Op: "submit for approval", Missing: fmt.Sprintf("new %s addressing revision %s", rev.TargetKind, rev.ID)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return p, err
	}
	if err := e.transition(ctx, tx, &p, domain.StatusPendingCustomerApproval, actor, ""); err != nil {
		return p, err
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// ApproveOptions select the payment plan locked in at approval.
type ApproveOptions struct {
	ProjectID string
	Plan      string
	Actor     Actor
}

// Approve moves the project to approved, freezes both artifact series and
// generates the payment schedule exactly once, all atomically.
func (e Engine) Approve(ctx context.Context, opts ApproveOptions) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	if opts.Plan != domain.PlanStaged && opts.Plan != domain.PlanFull {
		return domain.Project{}, ValidationError{Field: "plan", Reason: fmt.Sprintf("must be %q or %q", domain.PlanStaged, domain.PlanFull)}
	}
	actor := opts.Actor.orLocal()
	unlock := e.lock(opts.ProjectID)
	defer unlock()

	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := ensureNotTerminal(p); err != nil {
		return p, err
	}
	if p.Status != domain.StatusPendingCustomerApproval {
		return p, InvalidTransitionError{Op: "approve", Status: p.Status}
	}
	costing, err := e.Repo.GetArtifact(ctx, p.ID, domain.KindCosting, p.CostingVersion)
	if err != nil {
		return p, fmt.Errorf("load costing v%d: %w", p.CostingVersion, err)
	}
	if costing.TotalAmount == nil || *costing.TotalAmount <= 0 {
		return p, PrerequisiteMissingError{Op: "approve", Missing: "costing total amount"}
	}
	stages, err := payments.Compute(*costing.TotalAmount, opts.Plan, e.Config.Payments.Staged)
	if err != nil {
		return p, ValidationError{Field: "plan", Reason: err.Error()}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	ts := e.now().UTC().Format(time.RFC3339)
	for i := range stages {
		stages[i].ProjectID = p.ID
		stages[i].UpdatedAt = ts
	}
	if err := e.Repo.InsertStagesTx(ctx, tx, stages); err != nil {
		return p, fmt.Errorf("insert payment stages: %w", err)
	}
	p.PaymentPlan = opts.Plan
	p.ApprovedAmount = costing.TotalAmount
	if err := e.transition(ctx, tx, &p, domain.StatusApproved, actor, fmt.Sprintf("plan %s, total %d", opts.Plan, *costing.TotalAmount)); err != nil {
		return p, err
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeScheduleCreated, p.ID, "payment_schedule", p.ID, actor.ID, events.EventPayload{
		"plan":   opts.Plan,
		"total":  *costing.TotalAmount,
		"stages": len(stages),
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// ReviseOptions carry a customer revision request. Feedback is mandatory:
// every rejection must be actionable.
type ReviseOptions struct {
	ProjectID string
	Feedback  string
	Target    string
	Actor     Actor
}

// RequestRevision opens a ledger entry against the current version of the
// targeted artifact and returns the project to the stage that must be
// redone. The revision_requested state is pass-through: both transitions
// commit together.
func (e Engine) RequestRevision(ctx context.Context, opts ReviseOptions) (domain.Project, domain.Revision, error) {
	if strings.TrimSpace(opts.Feedback) == "" {
		return domain.Project{}, domain.Revision{}, ValidationError{Field: "feedback", Reason: "is required"}
	}
	if opts.Target != domain.KindBlueprint && opts.Target != domain.KindCosting {
		return domain.Project{}, domain.Revision{}, ValidationError{Field: "target", Reason: fmt.Sprintf("must be %q or %q", domain.KindBlueprint, domain.KindCosting)}
	}
	actor := opts.Actor.orLocal()
	unlock := e.lock(opts.ProjectID)
	defer unlock()

	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Project{}, domain.Revision{}, err
	}
	if err := ensureNotTerminal(p); err != nil {
		return p, domain.Revision{}, err
	}
	if p.Status != domain.StatusPendingCustomerApproval {
		return p, domain.Revision{}, InvalidTransitionError{Op: "request revision", Status: p.Status}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, domain.Revision{}, err
	}
	defer tx.Rollback()

	if e.Config.SingleOpenRevision() {
		if open, err := e.Repo.OpenRevisionTx(ctx, tx, p.ID); err == nil {
			return p, domain.Revision{}, ConflictError{Reason: fmt.Sprintf("revision %s is still unresolved", open.ID)}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return p, domain.Revision{}, err
		}
	}
	targetVersion := p.BlueprintVersion
	returnTo := domain.StatusPendingBlueprint
	if opts.Target == domain.KindCosting {
		targetVersion = p.CostingVersion
		returnTo = domain.StatusPendingCosting
	}
	rev := domain.Revision{
		ID:            uuid.New().String(),
		ProjectID:     p.ID,
		TargetKind:    opts.Target,
		TargetVersion: targetVersion,
		Feedback:      opts.Feedback,
		RequestedBy:   actor.ID,
		RequestedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertRevisionTx(ctx, tx, rev); err != nil {
		return p, rev, fmt.Errorf("insert revision: %w", err)
	}
	if err := e.transition(ctx, tx, &p, domain.StatusRevisionRequested, actor, opts.Feedback); err != nil {
		return p, rev, err
	}
	if err := e.transition(ctx, tx, &p, returnTo, actor, fmt.Sprintf("%s v%d must be redone", opts.Target, targetVersion)); err != nil {
		return p, rev, err
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, rev, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeRevisionRequested, p.ID, "revision", rev.ID, actor.ID, events.EventPayload{
		"target_kind":    rev.TargetKind,
		"target_version": rev.TargetVersion,
		"feedback":       rev.Feedback,
	}); err != nil {
		return p, rev, err
	}
	if err := tx.Commit(); err != nil {
		return p, rev, err
	}
	return p, rev, nil
}

// AdvanceToFabrication starts the shop-floor phase. The gating stage (the
// downpayment, or the single full stage) must have been verified by the
// payment collaborator.
func (e Engine) AdvanceToFabrication(ctx context.Context, projectID string, actor Actor) (domain.Project, error) {
	actor = actor.orLocal()
	unlock := e.lock(projectID)
	defer unlock()

	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := ensureNotTerminal(p); err != nil {
		return p, err
	}
	if p.Status != domain.StatusApproved {
		return p, InvalidTransitionError{Op: "advance to fabrication", Status: p.Status}
	}
	gate, err := e.Repo.GetStage(ctx, p.ID, 1)
	if err != nil {
		return p, fmt.Errorf("load gating stage: %w", err)
	}
	if gate.Status != domain.StageVerified {
		return p, PrerequisiteMissingError{Op: "advance to fabrication", Missing: fmt.Sprintf("verified %s payment (currently %s)", gate.Label, gate.Status)}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.transition(ctx, tx, &p, domain.StatusFabrication, actor, ""); err != nil {
		return p, err
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// Complete marks fabrication finished and delivery done.
func (e Engine) Complete(ctx context.Context, projectID string, actor Actor) (domain.Project, error) {
	actor = actor.orLocal()
	unlock := e.lock(projectID)
	defer unlock()

	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := ensureNotTerminal(p); err != nil {
		return p, err
	}
	if p.Status != domain.StatusFabrication {
		return p, InvalidTransitionError{Op: "complete", Status: p.Status}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.transition(ctx, tx, &p, domain.StatusCompleted, actor, ""); err != nil {
		return p, err
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// Cancel terminates the project from any non-terminal state. Irreversible;
// every later operation fails fast with TerminalStateError.
func (e Engine) Cancel(ctx context.Context, projectID, reason string, actor Actor) (domain.Project, error) {
	actor = actor.orLocal()
	unlock := e.lock(projectID)
	defer unlock()

	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := ensureNotTerminal(p); err != nil {
		return p, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	p.CancelReason = reason
	if err := e.transition(ctx, tx, &p, domain.StatusCancelled, actor, reason); err != nil {
		return p, err
	}
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCancelled, p.ID, "project", p.ID, actor.ID, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// StageUpdateOptions are the payment collaborator's write surface. Stage
// definitions never change; only the status field moves.
type StageUpdateOptions struct {
	ProjectID string
	Seq       int
	Status    string
	Actor     Actor
}

func ensureStageTransition(from, to string) error {
	switch from {
	case domain.StagePending:
		if to == domain.StageSubmitted {
			return nil
		}
	case domain.StageSubmitted:
		if to == domain.StageVerified || to == domain.StageRejected {
			return nil
		}
	case domain.StageRejected:
		if to == domain.StageSubmitted {
			return nil
		}
	}
	return InvalidTransitionError{Op: fmt.Sprintf("payment stage -> %s", to), Status: from}
}

// SetPaymentStageStatus records the external verification outcome for one
// stage. Allowed on completed projects (the completion stage is typically
// verified after delivery) but not on cancelled ones.
func (e Engine) SetPaymentStageStatus(ctx context.Context, opts StageUpdateOptions) (domain.PaymentStage, error) {
	switch opts.Status {
	case domain.StageSubmitted, domain.StageVerified, domain.StageRejected:
	default:
		return domain.PaymentStage{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown stage status %q", opts.Status)}
	}
	actor := opts.Actor.orLocal()
	unlock := e.lock(opts.ProjectID)
	defer unlock()

	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.PaymentStage{}, err
	}
	if p.Status == domain.StatusCancelled {
		return domain.PaymentStage{}, TerminalStateError{Status: p.Status}
	}
	stage, err := e.Repo.GetStage(ctx, p.ID, opts.Seq)
	if err != nil {
		return domain.PaymentStage{}, err
	}
	if err := ensureStageTransition(stage.Status, opts.Status); err != nil {
		return stage, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return stage, err
	}
	defer tx.Rollback()
	ts := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateStageStatusTx(ctx, tx, p.ID, stage.Seq, opts.Status, ts); err != nil {
		return stage, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeStageUpdated, p.ID, "payment_stage", fmt.Sprintf("%s/%d", p.ID, stage.Seq), actor.ID, events.EventPayload{
		"label": stage.Label,
		"from":  stage.Status,
		"to":    opts.Status,
	}); err != nil {
		return stage, err
	}
	if err := tx.Commit(); err != nil {
		return stage, err
	}
	stage.Status = opts.Status
	stage.UpdatedAt = ts
	return stage, nil
}

// Artifact returns one artifact version, or the current one when version is 0.
func (e Engine) Artifact(ctx context.Context, projectID, kind string, version int) (domain.Artifact, error) {
	if version == 0 {
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return domain.Artifact{}, err
		}
		switch kind {
		case domain.KindBlueprint:
			version = p.BlueprintVersion
		case domain.KindCosting:
			version = p.CostingVersion
		default:
			return domain.Artifact{}, ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown artifact kind %q", kind)}
		}
		if version == 0 {
			return domain.Artifact{}, repo.ErrNotFound
		}
	}
	return e.Repo.GetArtifact(ctx, projectID, kind, version)
}

func artifactKey(a domain.Artifact) string {
	return fmt.Sprintf("%s/%s/v%d", a.ProjectID, a.Kind, a.Version)
}
