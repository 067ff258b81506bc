package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fabline/internal/config"
	"fabline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `id,category,status,customer_ref,site_address,payment_plan,approved_amount,blueprint_version,costing_version,cancel_reason,created_at,updated_at`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var category, customerRef, siteAddress, paymentPlan, cancelReason sql.NullString
	var approvedAmount sql.NullInt64
	err := scan(&p.ID, &category, &p.Status, &customerRef, &siteAddress, &paymentPlan, &approvedAmount,
		&p.BlueprintVersion, &p.CostingVersion, &cancelReason, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if category.Valid {
		p.Category = category.String
	}
	if customerRef.Valid {
		p.CustomerRef = customerRef.String
	}
	if siteAddress.Valid {
		p.SiteAddress = siteAddress.String
	}
	if paymentPlan.Valid {
		p.PaymentPlan = paymentPlan.String
	}
	if approvedAmount.Valid {
		v := approvedAmount.Int64
		p.ApprovedAmount = &v
	}
	if cancelReason.Valid {
		p.CancelReason = cancelReason.String
	}
	return p, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, nullable(p.Category), p.Status, nullable(p.CustomerRef), nullable(p.SiteAddress),
		nullable(p.PaymentPlan), nullableInt64Ptr(p.ApprovedAmount), p.BlueprintVersion, p.CostingVersion,
		nullable(p.CancelReason), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) ListProjects(ctx context.Context, status string) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx, "")
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET category=?, status=?, customer_ref=?, site_address=?, payment_plan=?, approved_amount=?, blueprint_version=?, costing_version=?, cancel_reason=?, updated_at=? WHERE id=?`,
		nullable(p.Category), p.Status, nullable(p.CustomerRef), nullable(p.SiteAddress),
		nullable(p.PaymentPlan), nullableInt64Ptr(p.ApprovedAmount), p.BlueprintVersion, p.CostingVersion,
		nullable(p.CancelReason), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- project configs ---

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

// --- artifact store ---

const artifactColumns = `project_id,kind,version,filename,uri,notes,total_amount,breakdown_json,uploaded_by,uploaded_at`

// InsertArtifactTx stores one immutable artifact version. The caller assigns
// the version inside the project's critical section.
func (r Repo) InsertArtifactTx(ctx context.Context, tx *sql.Tx, a domain.Artifact) error {
	breakdown, err := marshalBreakdown(a.Breakdown)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO artifacts(`+artifactColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ProjectID, a.Kind, a.Version, a.Filename, nullable(a.URI), nullable(a.Notes),
		nullableInt64Ptr(a.TotalAmount), breakdown, a.UploadedBy, a.UploadedAt)
	return err
}

func scanArtifact(scan func(dest ...any) error) (domain.Artifact, error) {
	var a domain.Artifact
	var uri, notes, breakdown sql.NullString
	var total sql.NullInt64
	err := scan(&a.ProjectID, &a.Kind, &a.Version, &a.Filename, &uri, &notes, &total, &breakdown, &a.UploadedBy, &a.UploadedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if uri.Valid {
		a.URI = uri.String
	}
	if notes.Valid {
		a.Notes = notes.String
	}
	if total.Valid {
		v := total.Int64
		a.TotalAmount = &v
	}
	if breakdown.Valid && breakdown.String != "" {
		if err := json.Unmarshal([]byte(breakdown.String), &a.Breakdown); err != nil {
			return a, fmt.Errorf("decode breakdown: %w", err)
		}
	}
	return a, nil
}

func (r Repo) GetArtifact(ctx context.Context, projectID, kind string, version int) (domain.Artifact, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE project_id=? AND kind=? AND version=?`,
		projectID, kind, version)
	return scanArtifact(row.Scan)
}

func (r Repo) GetArtifactTx(ctx context.Context, tx *sql.Tx, projectID, kind string, version int) (domain.Artifact, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE project_id=? AND kind=? AND version=?`,
		projectID, kind, version)
	return scanArtifact(row.Scan)
}

// ListArtifacts returns the full version history, oldest first.
func (r Repo) ListArtifacts(ctx context.Context, projectID, kind string) ([]domain.Artifact, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE project_id=? AND kind=? ORDER BY version ASC`,
		projectID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func marshalBreakdown(lines []domain.CostLine) (any, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("marshal breakdown: %w", err)
	}
	return string(b), nil
}

// --- revision ledger ---

const revisionColumns = `id,project_id,target_kind,target_version,feedback,requested_by,requested_at,resolved_at`

func (r Repo) InsertRevisionTx(ctx context.Context, tx *sql.Tx, rev domain.Revision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO revisions(`+revisionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		rev.ID, rev.ProjectID, rev.TargetKind, rev.TargetVersion, rev.Feedback, rev.RequestedBy,
		rev.RequestedAt, nullableStringPtr(rev.ResolvedAt))
	return err
}

func scanRevision(scan func(dest ...any) error) (domain.Revision, error) {
	var rev domain.Revision
	var resolved sql.NullString
	err := scan(&rev.ID, &rev.ProjectID, &rev.TargetKind, &rev.TargetVersion, &rev.Feedback,
		&rev.RequestedBy, &rev.RequestedAt, &resolved)
	if err == sql.ErrNoRows {
		return rev, ErrNotFound
	}
	if err != nil {
		return rev, err
	}
	if resolved.Valid {
		rev.ResolvedAt = &resolved.String
	}
	return rev, nil
}

// OpenRevisionTx returns the oldest unresolved revision for the project, or
// ErrNotFound when none is open.
func (r Repo) OpenRevisionTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.Revision, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE project_id=? AND resolved_at IS NULL ORDER BY requested_at ASC, id ASC LIMIT 1`, projectID)
	return scanRevision(row.Scan)
}

func (r Repo) ResolveRevisionTx(ctx context.Context, tx *sql.Tx, id, resolvedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE revisions SET resolved_at=? WHERE id=? AND resolved_at IS NULL`, resolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRevisions returns the project's revision ledger, oldest first.
func (r Repo) ListRevisions(ctx context.Context, projectID string) ([]domain.Revision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE project_id=? ORDER BY requested_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Revision
	for rows.Next() {
		rev, err := scanRevision(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rev)
	}
	return res, rows.Err()
}

// --- payment stages ---

const stageColumns = `project_id,seq,label,percentage,amount,status,updated_at`

func (r Repo) InsertStagesTx(ctx context.Context, tx *sql.Tx, stages []domain.PaymentStage) error {
	for _, s := range stages {
		if _, err := tx.ExecContext(ctx, `INSERT INTO payment_stages(`+stageColumns+`) VALUES (?,?,?,?,?,?,?)`,
			s.ProjectID, s.Seq, s.Label, s.Percentage, s.Amount, s.Status, s.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

func scanStage(scan func(dest ...any) error) (domain.PaymentStage, error) {
	var s domain.PaymentStage
	err := scan(&s.ProjectID, &s.Seq, &s.Label, &s.Percentage, &s.Amount, &s.Status, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetStage(ctx context.Context, projectID string, seq int) (domain.PaymentStage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM payment_stages WHERE project_id=? AND seq=?`, projectID, seq)
	return scanStage(row.Scan)
}

func (r Repo) GetStageTx(ctx context.Context, tx *sql.Tx, projectID string, seq int) (domain.PaymentStage, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM payment_stages WHERE project_id=? AND seq=?`, projectID, seq)
	return scanStage(row.Scan)
}

func (r Repo) ListStages(ctx context.Context, projectID string) ([]domain.PaymentStage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stageColumns+` FROM payment_stages WHERE project_id=? ORDER BY seq ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PaymentStage
	for rows.Next() {
		s, err := scanStage(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateStageStatusTx mutates only the stage status; definitions are frozen.
func (r Repo) UpdateStageStatusTx(ctx context.Context, tx *sql.Tx, projectID string, seq int, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE payment_stages SET status=?, updated_at=? WHERE project_id=? AND seq=?`,
		status, updatedAt, projectID, seq)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- status history ---

func (r Repo) AppendStatusTx(ctx context.Context, tx *sql.Tx, h domain.StatusChange) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO status_history(project_id,from_status,to_status,actor_id,actor_role,notes,ts) VALUES (?,?,?,?,?,?,?)`,
		h.ProjectID, h.FromStatus, h.ToStatus, h.ActorID, nullable(h.ActorRole), nullable(h.Notes), h.TS)
	return err
}

func (r Repo) ListStatusHistory(ctx context.Context, projectID string) ([]domain.StatusChange, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,from_status,to_status,actor_id,actor_role,notes,ts FROM status_history WHERE project_id=? ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusChange
	for rows.Next() {
		var h domain.StatusChange
		var role, notes sql.NullString
		if err := rows.Scan(&h.ID, &h.ProjectID, &h.FromStatus, &h.ToStatus, &h.ActorID, &role, &notes, &h.TS); err != nil {
			return nil, err
		}
		if role.Valid {
			h.ActorRole = role.String
		}
		if notes.Valid {
			h.Notes = notes.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, projectID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID for a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if projectID.Valid {
			e.ProjectID = projectID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
