package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"fabline/internal/domain"
	"fabline/internal/engine"
	"fabline/internal/engine/auth"
	"fabline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"approve not allowed while status is pending_costing"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"pending_costing\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Fabline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Fabline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerArtifacts(group, cfg.Engine)
	registerWorkflow(group, cfg.Engine)
	registerRevisions(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's typed errors onto the wire envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	}
	var pe engine.PrerequisiteMissingError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusUnprocessableEntity, "prerequisite_missing", err.Error(), map[string]any{"missing": pe.Missing})
	}
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"status": ite.Status, "operation": ite.Op})
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var te engine.TerminalStateError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "terminal_state", err.Error(), map[string]any{"status": te.Status})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fe.Role, "action": fe.Action})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireAction resolves the caller and checks the role policy from config.
func requireAction(ctx context.Context, e engine.Engine, action string) (engine.Actor, huma.StatusError) {
	principal, authErr := actorFromContext(ctx)
	if authErr != nil {
		return engine.Actor{}, authErr
	}
	policy := auth.NewPolicy(e.Config)
	if err := policy.Allow(principal.Role, action); err != nil {
		return engine.Actor{}, handleError(err)
	}
	return engine.Actor{ID: principal.ActorID, Role: principal.Role}, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Fabline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := requireAction(ctx, e, auth.ActionProjectCreate)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateProjectOptions{
			Category:    input.Body.Category,
			CustomerRef: input.Body.CustomerRef,
			SiteAddress: input.Body.SiteAddress,
			Actor:       actor,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		p, err := e.CreateProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" required:"false"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProjects(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		revs, err := e.Repo.ListRevisions(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		open := 0
		for _, r := range revs {
			if r.Open() {
				open++
			}
		}
		stages, err := e.Repo.ListStages(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		verified := 0
		for _, s := range stages {
			if s.Status == domain.StageVerified {
				verified++
			}
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"project_id":        p.ID,
			"status":            p.Status,
			"blueprint_version": p.BlueprintVersion,
			"costing_version":   p.CostingVersion,
			"open_revisions":    open,
			"payment_stages":    len(stages),
			"stages_verified":   verified,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectConfigResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cfg, err := e.Repo.GetProjectConfig(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/history",
		Summary:     "Status history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []StatusChangeResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListStatusHistory(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StatusChangeResponse `json:"body"`
		}{Body: mapHistory(items)}, nil
	})
}

func registerArtifacts(api huma.API, e engine.Engine) {
	attachErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusInternalServerError,
	}

	huma.Register(api, huma.Operation{
		OperationID:   "attach-blueprint",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/blueprint",
		Summary:       "Attach blueprint version",
		DefaultStatus: http.StatusCreated,
		Errors:        attachErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      AttachBlueprintRequest `json:"body"`
	}) (*struct {
		Body AttachResponse `json:"body"`
	}, error) {
		actor, authErr := requireAction(ctx, e, auth.ActionBlueprintAttach)
		if authErr != nil {
			return nil, authErr
		}
		p, a, err := e.AttachBlueprint(ctx, engine.AttachArtifactOptions{
			ProjectID: input.ProjectID,
			Filename:  input.Body.Filename,
			URI:       input.Body.URI,
			Notes:     input.Body.Notes,
			Actor:     actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachResponse `json:"body"`
		}{Body: AttachResponse{Project: projectResponse(p), Artifact: artifactResponse(a)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-costing",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/costing",
		Summary:       "Attach costing version",
		DefaultStatus: http.StatusCreated,
		Errors:        attachErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      AttachCostingRequest `json:"body"`
	}) (*struct {
		Body AttachResponse `json:"body"`
	}, error) {
		actor, authErr := requireAction(ctx, e, auth.ActionCostingAttach)
		if authErr != nil {
			return nil, authErr
		}
		p, a, err := e.AttachCosting(ctx, engine.AttachCostingOptions{
			ProjectID:   input.ProjectID,
			Filename:    input.Body.Filename,
			URI:         input.Body.URI,
			Notes:       input.Body.Notes,
			TotalAmount: input.Body.TotalAmount,
			Breakdown:   costLines(input.Body.Breakdown),
			Actor:       actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachResponse `json:"body"`
		}{Body: AttachResponse{Project: projectResponse(p), Artifact: artifactResponse(a)}}, nil
	})

	for _, kind := range []string{domain.KindBlueprint, domain.KindCosting} {
		kind := kind
		huma.Register(api, huma.Operation{
			OperationID: "get-" + kind,
			Method:      http.MethodGet,
			Path:        "/projects/{project_id}/" + kind + "/current",
			Summary:     "Current " + kind + " version",
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *projectPath) (*struct {
			Body ArtifactResponse `json:"body"`
		}, error) {
			if _, authErr := actorFromContext(ctx); authErr != nil {
				return nil, authErr
			}
			a, err := e.Artifact(ctx, input.ProjectID, kind, 0)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ArtifactResponse `json:"body"`
			}{Body: artifactResponse(a)}, nil
		})

		huma.Register(api, huma.Operation{
			OperationID: "get-" + kind + "-version",
			Method:      http.MethodGet,
			Path:        "/projects/{project_id}/" + kind + "/v{version}",
			Summary:     "Specific " + kind + " version",
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			Version   int    `path:"version" minimum:"1"`
		}) (*struct {
			Body ArtifactResponse `json:"body"`
		}, error) {
			if _, authErr := actorFromContext(ctx); authErr != nil {
				return nil, authErr
			}
			a, err := e.Artifact(ctx, input.ProjectID, kind, input.Version)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ArtifactResponse `json:"body"`
			}{Body: artifactResponse(a)}, nil
		})

		huma.Register(api, huma.Operation{
			OperationID: "get-" + kind + "-history",
			Method:      http.MethodGet,
			Path:        "/projects/{project_id}/" + kind + "/history",
			Summary:     kind + " version history",
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *projectPath) (*struct {
			Body []ArtifactResponse `json:"body"`
		}, error) {
			if _, authErr := actorFromContext(ctx); authErr != nil {
				return nil, authErr
			}
			if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
				return nil, handleError(err)
			}
			items, err := e.Repo.ListArtifacts(ctx, input.ProjectID, kind)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body []ArtifactResponse `json:"body"`
			}{Body: mapArtifacts(items)}, nil
		})
	}
}

func registerWorkflow(api huma.API, e engine.Engine) {
	workflowErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusInternalServerError,
	}

	type projectResult struct {
		Body ProjectResponse `json:"body"`
	}

	register := func(id, pathSuffix, summary, action string, op func(ctx context.Context, projectID string, actor engine.Actor) (domain.Project, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/" + pathSuffix,
			Summary:     summary,
			Errors:      workflowErrors,
		}, func(ctx context.Context, input *projectPath) (*projectResult, error) {
			actor, authErr := requireAction(ctx, e, action)
			if authErr != nil {
				return nil, authErr
			}
			p, err := op(ctx, input.ProjectID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &projectResult{Body: projectResponse(p)}, nil
		})
	}

	register("submit-for-approval", "submit", "Submit for customer approval", auth.ActionSubmit, e.SubmitForApproval)
	register("advance-to-fabrication", "fabricate", "Advance to fabrication", auth.ActionFabricate, e.AdvanceToFabrication)
	register("complete-project", "complete", "Complete project", auth.ActionComplete, e.Complete)

	huma.Register(api, huma.Operation{
		OperationID: "approve-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/approve",
		Summary:     "Approve and lock payment plan",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      ApproveRequest `json:"body"`
	}) (*projectResult, error) {
		actor, authErr := requireAction(ctx, e, auth.ActionApprove)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Approve(ctx, engine.ApproveOptions{
			ProjectID: input.ProjectID,
			Plan:      input.Body.Plan,
			Actor:     actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &projectResult{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/cancel",
		Summary:     "Cancel project",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      CancelRequest `json:"body"`
	}) (*projectResult, error) {
		actor, authErr := requireAction(ctx, e, auth.ActionCancel)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Cancel(ctx, input.ProjectID, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectResult{Body: projectResponse(p)}, nil
	})
}

func registerRevisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-revision",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/revisions",
		Summary:       "Request revision",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      RequestRevisionRequest `json:"body"`
	}) (*struct {
		Body ReviseResponse `json:"body"`
	}, error) {
		actor, authErr := requireAction(ctx, e, auth.ActionRevise)
		if authErr != nil {
			return nil, authErr
		}
		p, rev, err := e.RequestRevision(ctx, engine.ReviseOptions{
			ProjectID: input.ProjectID,
			Feedback:  input.Body.Feedback,
			Target:    input.Body.Target,
			Actor:     actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviseResponse `json:"body"`
		}{Body: ReviseResponse{Project: projectResponse(p), Revision: revisionResponse(rev)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-revisions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/revisions",
		Summary:     "List revisions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []RevisionResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRevisions(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RevisionResponse `json:"body"`
		}{Body: mapRevisions(items)}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-payment-stages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/payments",
		Summary:     "List payment stages",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListStages(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: mapStages(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-payment-stage-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/payments/{seq}",
		Summary:     "Record payment stage verification outcome",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Seq       int                   `path:"seq" minimum:"1"`
		Body      SetStageStatusRequest `json:"body"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		actor, authErr := requireAction(ctx, e, auth.ActionPaymentUpdate)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.SetPaymentStageStatus(ctx, engine.StageUpdateOptions{
			ProjectID: input.ProjectID,
			Seq:       input.Seq,
			Status:    input.Body.Status,
			Actor:     actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(st)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event log",
	}, func(ctx context.Context, input *struct {
		Limit   int    `query:"limit" default:"20" minimum:"1" maximum:"500"`
		Cursor  int64  `query:"cursor" required:"false"`
		Project string `query:"project" required:"false"`
		Type    string `query:"type" required:"false"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEventsFrom(ctx, input.Limit, input.Cursor, input.Project, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
