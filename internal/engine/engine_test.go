package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fabline/internal/config"
	"fabline/internal/db"
	"fabline/internal/domain"
	"fabline/internal/engine"
	"fabline/internal/migrate"
	"fabline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var (
	sales    = engine.Actor{ID: "sara", Role: "sales"}
	eng      = engine.Actor{ID: "ed", Role: "engineer"}
	customer = engine.Actor{ID: "cust-1", Role: "customer"}
	cashier  = engine.Actor{ID: "kay", Role: "cashier"}
)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("fab-1"))
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: e, Ctx: context.Background()}
}

func (env testEnv) createProject(t *testing.T) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{
		ID:          "fab-1",
		Category:    "kitchen",
		CustomerRef: "cust-1",
		SiteAddress: "12 Foundry Rd",
		Actor:       sales,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) attachBlueprint(t *testing.T, id string) domain.Project {
	t.Helper()
	p, _, err := env.Engine.AttachBlueprint(env.Ctx, engine.AttachArtifactOptions{
		ProjectID: id,
		Filename:  "layout.pdf",
		Actor:     eng,
	})
	if err != nil {
		t.Fatalf("attach blueprint: %v", err)
	}
	return p
}

func (env testEnv) attachCosting(t *testing.T, id string, total int64) domain.Project {
	t.Helper()
	p, _, err := env.Engine.AttachCosting(env.Ctx, engine.AttachCostingOptions{
		ProjectID:   id,
		Filename:    "quote.pdf",
		TotalAmount: total,
		Actor:       eng,
	})
	if err != nil {
		t.Fatalf("attach costing: %v", err)
	}
	return p
}

func (env testEnv) historyLen(t *testing.T, id string) int {
	t.Helper()
	rows, err := env.Engine.Repo.ListStatusHistory(env.Ctx, id)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	return len(rows)
}

func TestLifecycleHappyPath(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	if p.Status != domain.StatusPendingBlueprint {
		t.Fatalf("new project status = %s", p.Status)
	}

	p = env.attachBlueprint(t, p.ID)
	if p.Status != domain.StatusPendingCosting || p.BlueprintVersion != 1 {
		t.Fatalf("after blueprint: status=%s v=%d", p.Status, p.BlueprintVersion)
	}

	p = env.attachCosting(t, p.ID, 52000)
	if p.Status != domain.StatusPendingCustomerApproval || p.CostingVersion != 1 {
		t.Fatalf("after costing: status=%s v=%d", p.Status, p.CostingVersion)
	}

	p, err := env.Engine.Approve(env.Ctx, engine.ApproveOptions{ProjectID: p.ID, Plan: domain.PlanStaged, Actor: customer})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if p.Status != domain.StatusApproved || p.PaymentPlan != domain.PlanStaged {
		t.Fatalf("after approve: status=%s plan=%s", p.Status, p.PaymentPlan)
	}
	if p.ApprovedAmount == nil || *p.ApprovedAmount != 52000 {
		t.Fatalf("approved amount = %v", p.ApprovedAmount)
	}
	stages, err := env.Engine.Repo.ListStages(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	want := []int64{15600, 20800, 15600}
	if len(stages) != 3 {
		t.Fatalf("stage count = %d", len(stages))
	}
	for i, st := range stages {
		if st.Amount != want[i] || st.Status != domain.StagePending {
			t.Fatalf("stage %d: amount=%d status=%s", st.Seq, st.Amount, st.Status)
		}
	}

	// fabrication is gated on the verified downpayment
	if _, err := env.Engine.AdvanceToFabrication(env.Ctx, p.ID, sales); err == nil {
		t.Fatal("expected fabrication to be blocked before downpayment")
	} else if !errors.As(err, &engine.PrerequisiteMissingError{}) {
		t.Fatalf("fabrication gate error = %T %v", err, err)
	}
	for _, status := range []string{domain.StageSubmitted, domain.StageVerified} {
		if _, err := env.Engine.SetPaymentStageStatus(env.Ctx, engine.StageUpdateOptions{
			ProjectID: p.ID, Seq: 1, Status: status, Actor: cashier,
		}); err != nil {
			t.Fatalf("stage 1 -> %s: %v", status, err)
		}
	}
	p, err = env.Engine.AdvanceToFabrication(env.Ctx, p.ID, sales)
	if err != nil || p.Status != domain.StatusFabrication {
		t.Fatalf("advance to fabrication: %v (status=%s)", err, p.Status)
	}
	p, err = env.Engine.Complete(env.Ctx, p.ID, sales)
	if err != nil || p.Status != domain.StatusCompleted {
		t.Fatalf("complete: %v (status=%s)", err, p.Status)
	}

	// completion payment can still be recorded after delivery
	if _, err := env.Engine.SetPaymentStageStatus(env.Ctx, engine.StageUpdateOptions{
		ProjectID: p.ID, Seq: 3, Status: domain.StageSubmitted, Actor: cashier,
	}); err != nil {
		t.Fatalf("stage 3 after completion: %v", err)
	}

	hist, err := env.Engine.Repo.ListStatusHistory(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	wantPath := []string{
		domain.StatusPendingCosting,
		domain.StatusPendingCustomerApproval,
		domain.StatusApproved,
		domain.StatusFabrication,
		domain.StatusCompleted,
	}
	if len(hist) != len(wantPath) {
		t.Fatalf("history length = %d, want %d", len(hist), len(wantPath))
	}
	for i, h := range hist {
		if h.ToStatus != wantPath[i] {
			t.Fatalf("history[%d] = %s -> %s, want -> %s", i, h.FromStatus, h.ToStatus, wantPath[i])
		}
	}
}

func TestGuardFailuresLeaveNoHistory(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)

	// costing before blueprint
	_, _, err := env.Engine.AttachCosting(env.Ctx, engine.AttachCostingOptions{
		ProjectID: p.ID, Filename: "quote.pdf", TotalAmount: 1000, Actor: eng,
	})
	var pm engine.PrerequisiteMissingError
	if !errors.As(err, &pm) || pm.Missing != "blueprint" {
		t.Fatalf("costing before blueprint: %T %v", err, err)
	}

	// approve out of order
	_, err = env.Engine.Approve(env.Ctx, engine.ApproveOptions{ProjectID: p.ID, Plan: domain.PlanStaged, Actor: customer})
	if !errors.As(err, &engine.InvalidTransitionError{}) {
		t.Fatalf("early approve: %T %v", err, err)
	}

	// submit with nothing attached
	_, err = env.Engine.SubmitForApproval(env.Ctx, p.ID, customer)
	if !errors.As(err, &engine.PrerequisiteMissingError{}) {
		t.Fatalf("early submit: %T %v", err, err)
	}

	if n := env.historyLen(t, p.ID); n != 0 {
		t.Fatalf("failed guards appended %d history rows", n)
	}
	got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || got.Status != domain.StatusPendingBlueprint {
		t.Fatalf("status mutated to %s (%v)", got.Status, err)
	}
}

func TestRevisionLoopBlueprint(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.attachBlueprint(t, p.ID)
	env.attachCosting(t, p.ID, 10000)

	// empty feedback is rejected and nothing moves
	before := env.historyLen(t, p.ID)
	_, _, err := env.Engine.RequestRevision(env.Ctx, engine.ReviseOptions{
		ProjectID: p.ID, Feedback: "  ", Target: domain.KindBlueprint, Actor: customer,
	})
	if !errors.As(err, &engine.ValidationError{}) {
		t.Fatalf("empty feedback: %T %v", err, err)
	}
	if env.historyLen(t, p.ID) != before {
		t.Fatal("rejected revision appended history")
	}

	p, rev, err := env.Engine.RequestRevision(env.Ctx, engine.ReviseOptions{
		ProjectID: p.ID, Feedback: "island too wide", Target: domain.KindBlueprint, Actor: customer,
	})
	if err != nil {
		t.Fatalf("request revision: %v", err)
	}
	if p.Status != domain.StatusPendingBlueprint {
		t.Fatalf("status after blueprint revision = %s", p.Status)
	}
	if rev.TargetVersion != 1 || !rev.Open() {
		t.Fatalf("revision = %+v", rev)
	}
	// the pass-through state is still on the audit trail
	hist, _ := env.Engine.Repo.ListStatusHistory(env.Ctx, p.ID)
	if len(hist) != before+2 || hist[len(hist)-2].ToStatus != domain.StatusRevisionRequested {
		t.Fatalf("revision transitions not recorded: %d rows", len(hist))
	}

	// uploading the redone blueprint resolves the revision and sends the
	// project back through costing
	p = env.attachBlueprint(t, p.ID)
	if p.Status != domain.StatusPendingCosting || p.BlueprintVersion != 2 {
		t.Fatalf("after redo: status=%s v=%d", p.Status, p.BlueprintVersion)
	}
	revs, err := env.Engine.Repo.ListRevisions(env.Ctx, p.ID)
	if err != nil || len(revs) != 1 || revs[0].Open() {
		t.Fatalf("revision not resolved: %v %+v", err, revs)
	}

	// the earlier costing still stands, so submit skips re-costing
	p, err = env.Engine.SubmitForApproval(env.Ctx, p.ID, customer)
	if err != nil || p.Status != domain.StatusPendingCustomerApproval {
		t.Fatalf("resubmit: %v (status=%s)", err, p.Status)
	}
	if p.CostingVersion != 1 {
		t.Fatalf("costing version changed to %d", p.CostingVersion)
	}

	// submit is an idempotent no-op once already pending approval
	n := env.historyLen(t, p.ID)
	if _, err := env.Engine.SubmitForApproval(env.Ctx, p.ID, customer); err != nil {
		t.Fatalf("idempotent submit: %v", err)
	}
	if env.historyLen(t, p.ID) != n {
		t.Fatal("idempotent submit appended history")
	}
}

func TestRevisionLoopCosting(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.attachBlueprint(t, p.ID)
	env.attachCosting(t, p.ID, 10000)

	p, _, err := env.Engine.RequestRevision(env.Ctx, engine.ReviseOptions{
		ProjectID: p.ID, Feedback: "material cost too high", Target: domain.KindCosting, Actor: customer,
	})
	if err != nil || p.Status != domain.StatusPendingCosting {
		t.Fatalf("costing revision: %v (status=%s)", err, p.Status)
	}

	// blueprint is untouched; attaching a new costing resolves and resubmits
	p = env.attachCosting(t, p.ID, 9000)
	if p.Status != domain.StatusPendingCustomerApproval || p.CostingVersion != 2 || p.BlueprintVersion != 1 {
		t.Fatalf("after redo: status=%s costing=%d blueprint=%d", p.Status, p.CostingVersion, p.BlueprintVersion)
	}
	revs, _ := env.Engine.Repo.ListRevisions(env.Ctx, p.ID)
	if len(revs) != 1 || revs[0].Open() {
		t.Fatalf("revision not resolved: %+v", revs)
	}
}

func TestSecondOpenRevisionConflicts(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.attachBlueprint(t, p.ID)
	env.attachCosting(t, p.ID, 10000)

	// an unresolved revision left behind by an operator blocks a new one
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = env.Engine.Repo.InsertRevisionTx(env.Ctx, tx, domain.Revision{
		ID: "rev-stuck", ProjectID: p.ID, TargetKind: domain.KindCosting,
		TargetVersion: 1, Feedback: "pending review", RequestedBy: "cust-1",
		RequestedAt: "2024-02-01T00:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	_, _, err = env.Engine.RequestRevision(env.Ctx, engine.ReviseOptions{
		ProjectID: p.ID, Feedback: "another round", Target: domain.KindBlueprint, Actor: customer,
	})
	if !errors.As(err, &engine.ConflictError{}) {
		t.Fatalf("second open revision: %T %v", err, err)
	}
}

func TestDoubleApprove(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.attachBlueprint(t, p.ID)
	env.attachCosting(t, p.ID, 10000)
	if _, err := env.Engine.Approve(env.Ctx, engine.ApproveOptions{ProjectID: p.ID, Plan: domain.PlanStaged, Actor: customer}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := env.Engine.Approve(env.Ctx, engine.ApproveOptions{ProjectID: p.ID, Plan: domain.PlanStaged, Actor: customer})
	if !errors.As(err, &engine.InvalidTransitionError{}) {
		t.Fatalf("second approve: %T %v", err, err)
	}
	stages, _ := env.Engine.Repo.ListStages(env.Ctx, p.ID)
	if len(stages) != 3 {
		t.Fatalf("schedule generated twice: %d stages", len(stages))
	}

	// artifacts are frozen once approved
	_, _, err = env.Engine.AttachBlueprint(env.Ctx, engine.AttachArtifactOptions{ProjectID: p.ID, Filename: "v2.pdf", Actor: eng})
	if !errors.As(err, &engine.InvalidTransitionError{}) {
		t.Fatalf("attach after approve: %T %v", err, err)
	}
}

func TestFullPlan(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.attachBlueprint(t, p.ID)
	env.attachCosting(t, p.ID, 333)
	if _, err := env.Engine.Approve(env.Ctx, engine.ApproveOptions{ProjectID: p.ID, Plan: domain.PlanFull, Actor: customer}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	stages, err := env.Engine.Repo.ListStages(env.Ctx, p.ID)
	if err != nil || len(stages) != 1 {
		t.Fatalf("stages: %v %+v", err, stages)
	}
	if stages[0].Amount != 333 || stages[0].Percentage != 100 {
		t.Fatalf("full stage = %+v", stages[0])
	}
}

func TestCancelIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.attachBlueprint(t, p.ID)

	p, err := env.Engine.Cancel(env.Ctx, p.ID, "customer withdrew", sales)
	if err != nil || p.Status != domain.StatusCancelled {
		t.Fatalf("cancel: %v (status=%s)", err, p.Status)
	}
	if p.CancelReason != "customer withdrew" {
		t.Fatalf("cancel reason = %q", p.CancelReason)
	}

	var term engine.TerminalStateError
	if _, _, err := env.Engine.AttachCosting(env.Ctx, engine.AttachCostingOptions{
		ProjectID: p.ID, Filename: "quote.pdf", TotalAmount: 1000, Actor: eng,
	}); !errors.As(err, &term) {
		t.Fatalf("attach after cancel: %T %v", err, err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, p.ID, "again", sales); !errors.As(err, &term) {
		t.Fatalf("double cancel: %T %v", err, err)
	}
	if _, err := env.Engine.Complete(env.Ctx, p.ID, sales); !errors.As(err, &term) {
		t.Fatalf("complete after cancel: %T %v", err, err)
	}
}

func TestPaymentStageTransitions(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.attachBlueprint(t, p.ID)
	env.attachCosting(t, p.ID, 10000)
	if _, err := env.Engine.Approve(env.Ctx, engine.ApproveOptions{ProjectID: p.ID, Plan: domain.PlanStaged, Actor: customer}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// pending cannot jump straight to verified
	_, err := env.Engine.SetPaymentStageStatus(env.Ctx, engine.StageUpdateOptions{
		ProjectID: p.ID, Seq: 1, Status: domain.StageVerified, Actor: cashier,
	})
	if !errors.As(err, &engine.InvalidTransitionError{}) {
		t.Fatalf("pending->verified: %T %v", err, err)
	}

	// rejected proofs can be resubmitted
	steps := []string{domain.StageSubmitted, domain.StageRejected, domain.StageSubmitted, domain.StageVerified}
	for _, s := range steps {
		if _, err := env.Engine.SetPaymentStageStatus(env.Ctx, engine.StageUpdateOptions{
			ProjectID: p.ID, Seq: 1, Status: s, Actor: cashier,
		}); err != nil {
			t.Fatalf("stage -> %s: %v", s, err)
		}
	}
	st, err := env.Engine.Repo.GetStage(env.Ctx, p.ID, 1)
	if err != nil || st.Status != domain.StageVerified {
		t.Fatalf("final stage status: %v %s", err, st.Status)
	}

	if _, err := env.Engine.SetPaymentStageStatus(env.Ctx, engine.StageUpdateOptions{
		ProjectID: p.ID, Seq: 9, Status: domain.StageSubmitted, Actor: cashier,
	}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown stage: %v", err)
	}
}

func TestConcurrentAttachesSerialize(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)

	// 50 engineers race to upload the first blueprint. Exactly one wins;
	// the rest observe the advanced status. No version collides or skips.
	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := env.Engine.AttachBlueprint(env.Ctx, engine.AttachArtifactOptions{
				ProjectID: p.ID, Filename: "layout.pdf", Actor: eng,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.As(err, &engine.InvalidTransitionError{}) {
			t.Fatalf("concurrent attach: %T %v", err, err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d attaches won the race", wins)
	}
	arts, err := env.Engine.Repo.ListArtifacts(env.Ctx, p.ID, domain.KindBlueprint)
	if err != nil || len(arts) != 1 || arts[0].Version != 1 {
		t.Fatalf("artifacts = %v %+v", err, arts)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.StatusPendingCosting || got.BlueprintVersion != 1 {
		t.Fatalf("status=%s v=%d", got.Status, got.BlueprintVersion)
	}
	if n := env.historyLen(t, p.ID); n != 1 {
		t.Fatalf("history rows = %d", n)
	}
}

func TestVersionSequencesNeverSkip(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)

	// 50 revision rounds; both series must come out exactly 1..50.
	const rounds = 50
	for i := 0; i < rounds; i++ {
		env.attachBlueprint(t, p.ID)
		env.attachCosting(t, p.ID, int64(10000+i))
		if i == rounds-1 {
			break
		}
		if _, _, err := env.Engine.RequestRevision(env.Ctx, engine.ReviseOptions{
			ProjectID: p.ID, Feedback: "another pass", Target: domain.KindBlueprint, Actor: customer,
		}); err != nil {
			t.Fatalf("round %d revise: %v", i, err)
		}
	}
	for _, kind := range []string{domain.KindBlueprint, domain.KindCosting} {
		arts, err := env.Engine.Repo.ListArtifacts(env.Ctx, p.ID, kind)
		if err != nil {
			t.Fatalf("list %s: %v", kind, err)
		}
		if len(arts) != rounds {
			t.Fatalf("%s count = %d, want %d", kind, len(arts), rounds)
		}
		for i, a := range arts {
			if a.Version != i+1 {
				t.Fatalf("%s sequence broken at %d: got v%d", kind, i, a.Version)
			}
		}
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.BlueprintVersion != rounds || got.CostingVersion != rounds {
		t.Fatalf("current pointers = %d/%d", got.BlueprintVersion, got.CostingVersion)
	}
}

func TestEndToEndScenario(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)

	p = env.attachBlueprint(t, p.ID)
	if p.Status != domain.StatusPendingCosting {
		t.Fatalf("after blueprint v1: %s", p.Status)
	}
	p = env.attachCosting(t, p.ID, 50000)
	if p.Status != domain.StatusPendingCustomerApproval {
		t.Fatalf("after costing v1: %s", p.Status)
	}

	p, _, err := env.Engine.RequestRevision(env.Ctx, engine.ReviseOptions{
		ProjectID: p.ID, Feedback: "change material", Target: domain.KindBlueprint, Actor: customer,
	})
	if err != nil || p.Status != domain.StatusPendingBlueprint {
		t.Fatalf("revision: %v (status=%s)", err, p.Status)
	}

	// the redone blueprint resolves the revision and requires a new costing
	p = env.attachBlueprint(t, p.ID)
	if p.Status != domain.StatusPendingCosting || p.BlueprintVersion != 2 {
		t.Fatalf("after blueprint v2: status=%s v=%d", p.Status, p.BlueprintVersion)
	}
	p = env.attachCosting(t, p.ID, 52000)
	if p.CostingVersion != 2 {
		t.Fatalf("costing version = %d", p.CostingVersion)
	}
	if p, err = env.Engine.SubmitForApproval(env.Ctx, p.ID, customer); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p, err = env.Engine.Approve(env.Ctx, engine.ApproveOptions{ProjectID: p.ID, Plan: domain.PlanStaged, Actor: customer}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	stages, _ := env.Engine.Repo.ListStages(env.Ctx, p.ID)
	var sum int64
	for _, s := range stages {
		sum += s.Amount
	}
	if len(stages) != 3 || sum != 52000 {
		t.Fatalf("schedule = %+v (sum %d)", stages, sum)
	}

	if _, err := env.Engine.AdvanceToFabrication(env.Ctx, p.ID, sales); !errors.As(err, &engine.PrerequisiteMissingError{}) {
		t.Fatalf("ungated fabrication: %T %v", err, err)
	}
	for _, status := range []string{domain.StageSubmitted, domain.StageVerified} {
		if _, err := env.Engine.SetPaymentStageStatus(env.Ctx, engine.StageUpdateOptions{
			ProjectID: p.ID, Seq: 1, Status: status, Actor: cashier,
		}); err != nil {
			t.Fatalf("downpayment -> %s: %v", status, err)
		}
	}
	if p, err = env.Engine.AdvanceToFabrication(env.Ctx, p.ID, sales); err != nil {
		t.Fatalf("fabricate: %v", err)
	}
	if p, err = env.Engine.Complete(env.Ctx, p.ID, sales); err != nil || p.Status != domain.StatusCompleted {
		t.Fatalf("complete: %v (status=%s)", err, p.Status)
	}
	if _, _, err := env.Engine.AttachBlueprint(env.Ctx, engine.AttachArtifactOptions{
		ProjectID: p.ID, Filename: "late.pdf", Actor: eng,
	}); !errors.As(err, &engine.TerminalStateError{}) {
		t.Fatalf("attach after completion: %T %v", err, err)
	}
}

func TestUnknownPlanRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)
	env.attachBlueprint(t, p.ID)
	env.attachCosting(t, p.ID, 10000)
	_, err := env.Engine.Approve(env.Ctx, engine.ApproveOptions{ProjectID: p.ID, Plan: "installments", Actor: customer})
	if !errors.As(err, &engine.ValidationError{}) {
		t.Fatalf("unknown plan: %T %v", err, err)
	}
}

func TestArtifactLookup(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProject(t)

	_, err := env.Engine.Artifact(env.Ctx, p.ID, domain.KindBlueprint, 0)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("no versions yet: %v", err)
	}

	env.attachBlueprint(t, p.ID)
	a, err := env.Engine.Artifact(env.Ctx, p.ID, domain.KindBlueprint, 0)
	if err != nil || a.Version != 1 {
		t.Fatalf("current blueprint: %v v=%d", err, a.Version)
	}
	if _, err := env.Engine.Artifact(env.Ctx, p.ID, domain.KindBlueprint, 7); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing version: %v", err)
	}
}
