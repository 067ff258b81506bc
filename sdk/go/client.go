package fablinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Fabline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	ActorID     string
	ActorRole   string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project is the API project model.
type Project struct {
	ID               string `json:"id"`
	Category         string `json:"category"`
	Status           string `json:"status"`
	CustomerRef      string `json:"customer_ref"`
	SiteAddress      string `json:"site_address"`
	PaymentPlan      string `json:"payment_plan"`
	ApprovedAmount   *int64 `json:"approved_amount"`
	BlueprintVersion int    `json:"blueprint_version"`
	CostingVersion   int    `json:"costing_version"`
	CancelReason     string `json:"cancel_reason"`
}

// Artifact is one immutable blueprint or costing version.
type Artifact struct {
	ProjectID   string `json:"project_id"`
	Kind        string `json:"kind"`
	Version     int    `json:"version"`
	Filename    string `json:"filename"`
	URI         string `json:"uri"`
	TotalAmount *int64 `json:"total_amount"`
	UploadedBy  string `json:"uploaded_by"`
	UploadedAt  string `json:"uploaded_at"`
}

// Attach wraps attach responses.
type Attach struct {
	Project  Project  `json:"project"`
	Artifact Artifact `json:"artifact"`
}

// Revision is a customer revision request.
type Revision struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	TargetKind    string  `json:"target_kind"`
	TargetVersion int     `json:"target_version"`
	Feedback      string  `json:"feedback"`
	ResolvedAt    *string `json:"resolved_at"`
}

// Revise wraps revision responses.
type Revise struct {
	Project  Project  `json:"project"`
	Revision Revision `json:"revision"`
}

// PaymentStage is one slice of the billing plan.
type PaymentStage struct {
	ProjectID  string `json:"project_id"`
	Seq        int    `json:"seq"`
	Label      string `json:"label"`
	Percentage int    `json:"percentage"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
}

// StatusChange is one audit trail entry.
type StatusChange struct {
	ID         int64  `json:"id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	Notes      string `json:"notes"`
	TS         string `json:"ts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject converts an intake payload into a project.
func (c *Client) CreateProject(ctx context.Context, category, customerRef, siteAddress string) (Project, error) {
	body := map[string]any{
		"category":     category,
		"customer_ref": customerRef,
		"site_address": siteAddress,
	}
	if c.ProjectID != "" {
		body["id"] = c.ProjectID
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// GetProject fetches the active project snapshot.
func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

// AttachBlueprint uploads blueprint metadata as a new version.
func (c *Client) AttachBlueprint(ctx context.Context, filename, uri, notes string) (Attach, error) {
	body := map[string]any{"filename": filename, "uri": uri, "notes": notes}
	var resp Attach
	err := c.do(ctx, http.MethodPost, c.projectPath("blueprint"), body, &resp)
	return resp, err
}

// AttachCosting uploads costing metadata with its total amount.
func (c *Client) AttachCosting(ctx context.Context, filename, uri string, totalAmount int64) (Attach, error) {
	body := map[string]any{"filename": filename, "uri": uri, "total_amount": totalAmount}
	var resp Attach
	err := c.do(ctx, http.MethodPost, c.projectPath("costing"), body, &resp)
	return resp, err
}

// SubmitForApproval moves the project to the customer gate.
func (c *Client) SubmitForApproval(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("submit"), nil, &resp)
	return resp, err
}

// Approve locks the payment plan and generates the schedule.
func (c *Client) Approve(ctx context.Context, plan string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("approve"), map[string]any{"plan": plan}, &resp)
	return resp, err
}

// RequestRevision opens a revision against a blueprint or costing.
func (c *Client) RequestRevision(ctx context.Context, feedback, target string) (Revise, error) {
	body := map[string]any{"feedback": feedback, "target": target}
	var resp Revise
	err := c.do(ctx, http.MethodPost, c.projectPath("revisions"), body, &resp)
	return resp, err
}

// AdvanceToFabrication starts the shop-floor phase.
func (c *Client) AdvanceToFabrication(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("fabricate"), nil, &resp)
	return resp, err
}

// Complete marks the project delivered.
func (c *Client) Complete(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("complete"), nil, &resp)
	return resp, err
}

// Cancel terminates the project.
func (c *Client) Cancel(ctx context.Context, reason string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("cancel"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// PaymentStages lists the schedule.
func (c *Client) PaymentStages(ctx context.Context) ([]PaymentStage, error) {
	var resp []PaymentStage
	err := c.do(ctx, http.MethodGet, c.projectPath("payments"), nil, &resp)
	return resp, err
}

// SetPaymentStageStatus records a stage verification outcome.
func (c *Client) SetPaymentStageStatus(ctx context.Context, seq int, status string) (PaymentStage, error) {
	var resp PaymentStage
	endpoint := c.projectPath(fmt.Sprintf("payments/%d", seq))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// History returns the project's status audit trail.
func (c *Client) History(ctx context.Context) ([]StatusChange, error) {
	var resp []StatusChange
	err := c.do(ctx, http.MethodGet, c.projectPath("history"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	} else {
		if c.ActorID != "" {
			req.Header.Set("X-Actor-Id", c.ActorID)
		}
		if c.ActorRole != "" {
			req.Header.Set("X-Actor-Role", c.ActorRole)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	if p == "" {
		return fmt.Sprintf("v0/projects/%s", project)
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
