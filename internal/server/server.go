package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracecheck/internal/config"
	"tracecheck/internal/rules"
	"tracecheck/internal/store"
	"tracecheck/internal/trace"
	"tracecheck/internal/validator"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *validator.Engine
	Store    store.Store
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"unknown validation level"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the tracecheck API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newMetricsMiddleware())
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Tracecheck API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRules(group, cfg.Engine)
	registerValidations(group, cfg)
	registerRuns(group, cfg.Store)

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
	var ce rules.ConfigurationError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ce.Field})
	}
	var fe trace.FormatError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusBadRequest, "trace_format_error", err.Error(), map[string]any{"line": fe.Line})
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

type ruleInfo struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	MinLevel string `json:"min_level"`
}

func registerRules(api huma.API, e *validator.Engine) {
	type rulesQuery struct {
		Level string `query:"level" default:"comprehensive" enum:"basic,standard,comprehensive"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List the rule catalog for a level",
	}, func(ctx context.Context, input *rulesQuery) (*struct {
		Body []ruleInfo `json:"body"`
	}, error) {
		level, err := rules.ParseLevel(input.Level)
		if err != nil {
			return nil, handleError(err)
		}
		active, err := e.Registry.RulesFor(level)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ruleInfo, 0, len(active))
		for _, r := range active {
			out = append(out, ruleInfo{Name: r.Name(), Category: string(r.Category()), MinLevel: r.MinLevel().String()})
		}
		return &struct {
			Body []ruleInfo `json:"body"`
		}{Body: out}, nil
	})
}

type validateRequest struct {
	Level       string         `json:"level" default:"standard" enum:"basic,standard,comprehensive"`
	TraceSource string         `json:"trace_source,omitempty"`
	Config      *config.Config `json:"config,omitempty"`
	Events      []trace.Event  `json:"events"`
}

type validateResponse struct {
	RunID  string          `json:"run_id"`
	Report json.RawMessage `json:"report"`
}

func registerValidations(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-validation",
		Method:        http.MethodPost,
		Path:          "/validations",
		Summary:       "Validate a trace and record the run",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body validateRequest
	}) (*struct {
		Body validateResponse `json:"body"`
	}, error) {
		level, err := rules.ParseLevel(input.Body.Level)
		if err != nil {
			return nil, handleError(err)
		}
		vcfg := input.Body.Config
		if vcfg == nil {
			vcfg = config.Default()
		}
		t := trace.New(input.Body.Events)
		rep, err := cfg.Engine.Validate(ctx, t, level, vcfg)
		if err != nil {
			return nil, handleError(err)
		}
		run, err := cfg.Store.SaveRun(ctx, rep, input.Body.TraceSource, t.Len())
		if err != nil {
			return nil, handleError(err)
		}
		raw, err := json.Marshal(rep)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body validateResponse `json:"body"`
		}{Body: validateResponse{RunID: run.ID, Report: raw}}, nil
	})
}

func registerRuns(api huma.API, st store.Store) {
	type runsQuery struct {
		Limit int `query:"limit" default:"20" minimum:"0"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List recorded validation runs",
	}, func(ctx context.Context, input *runsQuery) (*struct {
		Body []store.Run `json:"body"`
	}, error) {
		runs, err := st.ListRuns(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []store.Run{}
		}
		return &struct {
			Body []store.Run `json:"body"`
		}{Body: runs}, nil
	})

	type runPath struct {
		RunID string `path:"run_id"`
	}
	type runDetail struct {
		Run    store.Run       `json:"run"`
		Report json.RawMessage `json:"report"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Fetch one run with its full report",
	}, func(ctx context.Context, input *runPath) (*struct {
		Body runDetail `json:"body"`
	}, error) {
		run, rep, err := st.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		raw, err := json.Marshal(rep)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body runDetail `json:"body"`
		}{Body: runDetail{Run: run, Report: raw}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-run",
		Method:      http.MethodDelete,
		Path:        "/runs/{run_id}",
		Summary:     "Delete a recorded run",
	}, func(ctx context.Context, input *runPath) (*struct{}, error) {
		if err := st.DeleteRun(ctx, input.RunID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// healthPath is exempt from auth alongside /metrics and the docs.
func exemptPath(basePath, p string) bool {
	return p == "/metrics" ||
		p == path.Join(basePath, "health") ||
		strings.HasPrefix(p, "/openapi")
}
