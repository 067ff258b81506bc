package server

import (
	"fabline/internal/config"
	"fabline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          *string `json:"id,omitempty"`
	Category    string  `json:"category,omitempty"`
	CustomerRef string  `json:"customer_ref,omitempty"`
	SiteAddress string  `json:"site_address,omitempty"`
}

type AttachBlueprintRequest struct {
	Filename string `json:"filename"`
	URI      string `json:"uri,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type CostLineRequest struct {
	Item      string `json:"item"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type AttachCostingRequest struct {
	Filename    string            `json:"filename"`
	URI         string            `json:"uri,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	TotalAmount int64             `json:"total_amount"`
	Breakdown   []CostLineRequest `json:"breakdown,omitempty"`
}

type ApproveRequest struct {
	Plan string `json:"plan" enum:"staged,full"`
}

type RequestRevisionRequest struct {
	Feedback string `json:"feedback"`
	Target   string `json:"target" enum:"blueprint,costing"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type SetStageStatusRequest struct {
	Status string `json:"status" enum:"submitted,verified,rejected"`
}

// Response payloads

type ProjectResponse struct {
	ID               string `json:"id"`
	Category         string `json:"category,omitempty"`
	Status           string `json:"status"`
	CustomerRef      string `json:"customer_ref,omitempty"`
	SiteAddress      string `json:"site_address,omitempty"`
	PaymentPlan      string `json:"payment_plan,omitempty"`
	ApprovedAmount   *int64 `json:"approved_amount,omitempty"`
	BlueprintVersion int    `json:"blueprint_version"`
	CostingVersion   int    `json:"costing_version"`
	CancelReason     string `json:"cancel_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:               p.ID,
		Category:         p.Category,
		Status:           p.Status,
		CustomerRef:      p.CustomerRef,
		SiteAddress:      p.SiteAddress,
		PaymentPlan:      p.PaymentPlan,
		ApprovedAmount:   p.ApprovedAmount,
		BlueprintVersion: p.BlueprintVersion,
		CostingVersion:   p.CostingVersion,
		CancelReason:     p.CancelReason,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, len(items))
	for i, p := range items {
		out[i] = projectResponse(p)
	}
	return out
}

type ArtifactResponse struct {
	ProjectID   string            `json:"project_id"`
	Kind        string            `json:"kind"`
	Version     int               `json:"version"`
	Filename    string            `json:"filename"`
	URI         string            `json:"uri,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	TotalAmount *int64            `json:"total_amount,omitempty"`
	Breakdown   []domain.CostLine `json:"breakdown,omitempty"`
	UploadedBy  string            `json:"uploaded_by"`
	UploadedAt  string            `json:"uploaded_at"`
}

func artifactResponse(a domain.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ProjectID:   a.ProjectID,
		Kind:        a.Kind,
		Version:     a.Version,
		Filename:    a.Filename,
		URI:         a.URI,
		Notes:       a.Notes,
		TotalAmount: a.TotalAmount,
		Breakdown:   a.Breakdown,
		UploadedBy:  a.UploadedBy,
		UploadedAt:  a.UploadedAt,
	}
}

func mapArtifacts(items []domain.Artifact) []ArtifactResponse {
	out := make([]ArtifactResponse, len(items))
	for i, a := range items {
		out[i] = artifactResponse(a)
	}
	return out
}

type AttachResponse struct {
	Project  ProjectResponse  `json:"project"`
	Artifact ArtifactResponse `json:"artifact"`
}

type RevisionResponse struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	TargetKind    string  `json:"target_kind"`
	TargetVersion int     `json:"target_version"`
	Feedback      string  `json:"feedback"`
	RequestedBy   string  `json:"requested_by"`
	RequestedAt   string  `json:"requested_at"`
	ResolvedAt    *string `json:"resolved_at,omitempty"`
}

func revisionResponse(r domain.Revision) RevisionResponse {
	return RevisionResponse{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		TargetKind:    r.TargetKind,
		TargetVersion: r.TargetVersion,
		Feedback:      r.Feedback,
		RequestedBy:   r.RequestedBy,
		RequestedAt:   r.RequestedAt,
		ResolvedAt:    r.ResolvedAt,
	}
}

func mapRevisions(items []domain.Revision) []RevisionResponse {
	out := make([]RevisionResponse, len(items))
	for i, r := range items {
		out[i] = revisionResponse(r)
	}
	return out
}

type ReviseResponse struct {
	Project  ProjectResponse  `json:"project"`
	Revision RevisionResponse `json:"revision"`
}

type StageResponse struct {
	ProjectID  string `json:"project_id"`
	Seq        int    `json:"seq"`
	Label      string `json:"label"`
	Percentage int    `json:"percentage"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
	UpdatedAt  string `json:"updated_at"`
}

func stageResponse(s domain.PaymentStage) StageResponse {
	return StageResponse{
		ProjectID:  s.ProjectID,
		Seq:        s.Seq,
		Label:      s.Label,
		Percentage: s.Percentage,
		Amount:     s.Amount,
		Status:     s.Status,
		UpdatedAt:  s.UpdatedAt,
	}
}

func mapStages(items []domain.PaymentStage) []StageResponse {
	out := make([]StageResponse, len(items))
	for i, s := range items {
		out[i] = stageResponse(s)
	}
	return out
}

type StatusChangeResponse struct {
	ID         int64  `json:"id"`
	ProjectID  string `json:"project_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	ActorRole  string `json:"actor_role,omitempty"`
	Notes      string `json:"notes,omitempty"`
	TS         string `json:"ts"`
}

func mapHistory(items []domain.StatusChange) []StatusChangeResponse {
	out := make([]StatusChangeResponse, len(items))
	for i, h := range items {
		out[i] = StatusChangeResponse{
			ID:         h.ID,
			ProjectID:  h.ProjectID,
			FromStatus: h.FromStatus,
			ToStatus:   h.ToStatus,
			ActorID:    h.ActorID,
			ActorRole:  h.ActorRole,
			Notes:      h.Notes,
			TS:         h.TS,
		}
	}
	return out
}

type ProjectConfigResponse struct {
	ProjectID  string             `json:"project_id"`
	Kind       string             `json:"kind"`
	Staged     []config.StageDef  `json:"staged"`
	SingleOpen bool               `json:"single_open_revision"`
	Roles      map[string][]string `json:"roles,omitempty"`
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	res := ProjectConfigResponse{
		ProjectID:  cfg.Project.ID,
		Kind:       cfg.Project.Kind,
		Staged:     cfg.Payments.Staged,
		SingleOpen: cfg.SingleOpenRevision(),
	}
	if len(cfg.Roles) > 0 {
		res.Roles = make(map[string][]string, len(cfg.Roles))
		for id, role := range cfg.Roles {
			res.Roles[id] = role.Actions
		}
	}
	return res
}

func costLines(lines []CostLineRequest) []domain.CostLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]domain.CostLine, len(lines))
	for i, l := range lines {
		out[i] = domain.CostLine{
			Item:      l.Item,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Total:     l.Total,
		}
	}
	return out
}
