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
	"github.com/google/uuid"

	"jointly/internal/domain"
	"jointly/internal/engine"
	"jointly/internal/store"
	"jointly/internal/wizard"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"step incomplete"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the funnel API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request; 422 is
			// reserved for step gating.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Store))
	hcfg := huma.DefaultConfig("Jointly API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWizards(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerSubmissions(group, cfg.Engine)
	registerFeasibility(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, wizard.ErrStepIncomplete):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	case errors.Is(err, wizard.ErrSessionDone),
		errors.Is(err, wizard.ErrMustSubmit),
		errors.Is(err, wizard.ErrNotLastStep),
		errors.Is(err, wizard.ErrAtFirstStep):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, wizard.ErrNoDefinition),
		errors.Is(err, engine.ErrUnknownSession),
		errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Jointly API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({ url: %q, dom_id: "#swagger-ui" });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerWizards(api huma.API, e engine.Engine) {
	type wizardPath struct {
		Role     string `path:"role" enum:"landowner,builder"`
		Category string `path:"category" enum:"contract-construction,joint-venture,interior,reconstruction"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-wizard-definition",
		Method:      http.MethodGet,
		Path:        "/wizards/{role}/{category}",
		Summary:     "Wizard definition and option catalog",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *wizardPath) (*struct {
		Body DefinitionResponse `json:"body"`
	}, error) {
		if err := requireRole(ctx, domain.Role(input.Role)); err != nil {
			return nil, err
		}
		def, err := wizard.For(domain.Role(input.Role), domain.Category(input.Category))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DefinitionResponse `json:"body"`
		}{Body: DefinitionResponse{
			Role:     input.Role,
			Category: input.Category,
			Steps:    def.StepNames(),
			Options:  wizard.Catalog(def.Role, def.Category),
		}}, nil
	})
}

// sessionForPrincipal loads a session and enforces the caller's role scope.
func sessionForPrincipal(ctx context.Context, e engine.Engine, id string) (engine.SessionView, huma.StatusError) {
	sv, err := e.Session(id)
	if err != nil {
		return engine.SessionView{}, handleError(err)
	}
	if authErr := requireRole(ctx, sv.Role); authErr != nil {
		return engine.SessionView{}, authErr
	}
	return sv, nil
}

func registerSessions(api huma.API, e engine.Engine) {
	type SessionPath struct {
		SessionID string `path:"session_id"`
	}
	type sessionOutput struct {
		Body SessionResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Start a wizard session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body StartSessionRequest `json:"body"`
	}) (*sessionOutput, error) {
		if input.Body.Role == "" || input.Body.Category == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role and category are required", nil)
		}
		if domain.ValidRole(input.Body.Role) {
			if err := requireRole(ctx, domain.Role(input.Body.Role)); err != nil {
				return nil, err
			}
		}
		sv, err := e.StartSession(input.Body.Role, input.Body.Category)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: sessionResponse(sv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Session state",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SessionPath) (*sessionOutput, error) {
		sv, authErr := sessionForPrincipal(ctx, e, input.SessionID)
		if authErr != nil {
			return nil, authErr
		}
		return &sessionOutput{Body: sessionResponse(sv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-answers",
		Method:      http.MethodPatch,
		Path:        "/sessions/{session_id}/answers",
		Summary:     "Merge answers into the session",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionPath
		Body AnswersRequest `json:"body"`
	}) (*sessionOutput, error) {
		if _, authErr := sessionForPrincipal(ctx, e, input.SessionID); authErr != nil {
			return nil, authErr
		}
		sv, err := e.SetAnswers(input.SessionID, wizard.Answers(input.Body.Answers))
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: sessionResponse(sv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "continue-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/continue",
		Summary:     "Advance to the next step",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *SessionPath) (*sessionOutput, error) {
		if _, authErr := sessionForPrincipal(ctx, e, input.SessionID); authErr != nil {
			return nil, authErr
		}
		sv, err := e.Continue(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: sessionResponse(sv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "back-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/back",
		Summary:     "Return to the previous step",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SessionPath) (*sessionOutput, error) {
		if _, authErr := sessionForPrincipal(ctx, e, input.SessionID); authErr != nil {
			return nil, authErr
		}
		sv, err := e.Back(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: sessionResponse(sv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-session",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/submit",
		Summary:       "Freeze the session into a submission",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *SessionPath) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		if _, authErr := sessionForPrincipal(ctx, e, input.SessionID); authErr != nil {
			return nil, authErr
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.Submit(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(rec)}, nil
	})
}

func registerSubmissions(api huma.API, e engine.Engine) {
	type listInput struct {
		Role     string `path:"role" enum:"landowner,builder"`
		Type     string `query:"type" required:"false" enum:",contract-construction,joint-venture,interior,reconstruction"`
		Verified string `query:"verified" required:"false" enum:",all,yes,no"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/submissions/{role}",
		Summary:     "List a role's submissions",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *listInput) (*struct {
		Body []SubmissionResponse `json:"body"`
	}, error) {
		if err := requireRole(ctx, domain.Role(input.Role)); err != nil {
			return nil, err
		}
		var verified *bool
		switch input.Verified {
		case "", "all":
		case "yes":
			v := true
			verified = &v
		case "no":
			v := false
			verified = &v
		}
		items, err := e.FilterSubmissions(ctx, input.Role, input.Type, verified)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SubmissionResponse `json:"body"`
		}{Body: submissionResponses(items)}, nil
	})

	type getInput struct {
		Role string `path:"role" enum:"landowner,builder"`
		ID   string `path:"id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{role}/{id}",
		Summary:     "Fetch one submission",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *getInput) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		if err := requireRole(ctx, domain.Role(input.Role)); err != nil {
			return nil, err
		}
		rec, err := e.Store.GetSubmission(ctx, domain.Role(input.Role), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(rec)}, nil
	})
}

func registerFeasibility(api huma.API, e engine.Engine) {
	type feasibilityInput struct {
		Dimensions string `query:"dimensions" example:"30×40"`
		RoadWidth  string `query:"road_width" example:"30"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "feasibility-preview",
		Method:      http.MethodGet,
		Path:        "/feasibility",
		Summary:     "Advisory feasibility estimate",
	}, func(ctx context.Context, input *feasibilityInput) (*struct {
		Body FeasibilityResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		// Unparseable dimensions yield a null estimate, not an error.
		return &struct {
			Body FeasibilityResponse `json:"body"`
		}{Body: FeasibilityResponse{Feasibility: e.FeasibilityPreview(input.Dimensions, input.RoadWidth)}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create an API key for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		raw := "jk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: p.ActorID,
			Name:    input.Body.Name,
			Role:    p.Role,
			KeyHash: store.HashAPIKey(raw),
		}
		if err := e.Store.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Store.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(stored)
		resp.Key = raw
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List the caller's API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Store.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, len(keys))
		for i, k := range keys {
			out[i] = apiKeyResponse(k)
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	type keyPath struct {
		ID string `path:"id"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "delete-apikey",
		Method:        http.MethodDelete,
		Path:          "/apikeys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *keyPath) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Store.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	type eventsInput struct {
		After int64 `query:"after" required:"false"`
		Limit int   `query:"limit" required:"false" minimum:"1" maximum:"500"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the activity log",
	}, func(ctx context.Context, input *eventsInput) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		events, err := e.Store.ListEventsAfter(ctx, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, len(events))
		for i, evt := range events {
			out[i] = eventResponse(evt)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
