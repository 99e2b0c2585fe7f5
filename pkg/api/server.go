package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/match"
	"github.com/jdziat/harvest-tasks/pkg/node"
	"github.com/jdziat/harvest-tasks/pkg/pstar"
	"github.com/jdziat/harvest-tasks/pkg/queue"
	"github.com/jdziat/harvest-tasks/pkg/security"
)

// maxBodySize bounds request bodies; configs are limited separately.
const maxBodySize = 2 * security.MaxConfigSize

// TemplateLister lists the templates that can be queued.
type TemplateLister interface {
	List() []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// MaxAwait caps the timeout a caller may request from the await route.
func MaxAwait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.maxAwait = d
		}
	}
}

// WithVersion sets the version reported by the index route.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server serves the queue protocol.
type Server struct {
	client    *queue.Client
	templates TemplateLister
	logger    *slog.Logger
	maxAwait  time.Duration
	version   string
}

// NewServer creates a server. Node listings are read from the client's store.
func NewServer(client *queue.Client, templates TemplateLister, opts ...Option) *Server {
	s := &Server{
		client:    client,
		templates: templates,
		logger:    slog.Default(),
		maxAwait:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	tasks := r.PathPrefix("/tasks").Subrouter()
	tasks.HandleFunc("/queue/{priority}/{category}/{name}", s.handleQueue).Methods(http.MethodPost)
	tasks.HandleFunc("/get_task_status/{id}", s.handleStatus).Methods(http.MethodGet)
	tasks.HandleFunc("/get_task_results/{id}", s.handleResult).Methods(http.MethodGet)
	tasks.HandleFunc("/await/{id}", s.handleAwait).Methods(http.MethodGet)
	tasks.HandleFunc("/escalate/{id}", s.handleEscalate).Methods(http.MethodGet, http.MethodPost)
	tasks.HandleFunc("/list", s.handleList).Methods(http.MethodGet)
	tasks.HandleFunc("/list_available_templates", s.handleTemplates).Methods(http.MethodGet)

	ps := r.PathPrefix("/pstar").Subrouter()
	ps.HandleFunc("/list_platforms", s.handlePlatforms).Methods(http.MethodGet)
	ps.HandleFunc("/list_accounts", s.handleAccounts).Methods(http.MethodGet)
	ps.HandleFunc("/list_services", s.handleServices).Methods(http.MethodGet)

	r.HandleFunc("/match/compile", s.handleCompile).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.respond(w, nil, fmt.Errorf("route %w", core.ErrNotFound))
	})
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, map[string]any{"message": "Welcome to the Harvest API.", "version": s.version}, nil)
}

type queueRequest struct {
	UserConfig map[string]any `json:"user_config"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	priority, err := strconv.Atoi(vars["priority"])
	if err != nil {
		s.respond(w, nil, fmt.Errorf("%w: %q", core.ErrInvalidPriority, vars["priority"]))
		return
	}

	var req queueRequest
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, nil, err)
		return
	}

	receipt, err := s.client.Enqueue(r.Context(), priority, vars["category"], vars["name"], req.UserConfig)
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, receipt, nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := s.client.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, rep, nil)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.client.Result(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, res, nil)
}

func (s *Server) handleAwait(w http.ResponseWriter, r *http.Request) {
	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs <= 0 {
			s.respond(w, nil, badRequest("timeout must be a positive number of seconds"))
			return
		}
		timeout = min(time.Duration(secs*float64(time.Second)), s.maxAwait)
	}

	res, err := s.client.Await(r.Context(), mux.Vars(r)["id"], timeout)
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, res, nil)
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	err := s.client.Escalate(r.Context(), mux.Vars(r)["id"])
	s.respond(w, nil, err)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.client.List(r.Context())
	if err != nil {
		s.respond(w, nil, fmt.Errorf("failed to list tasks: %w", err))
		return
	}
	s.respond(w, list, nil)
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, s.templates.List(), nil)
}

func (s *Server) agentAccounts(ctx context.Context) ([]string, error) {
	nodes, err := node.List(ctx, s.client.Store(), node.RoleAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return node.Accounts(nodes), nil
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	entries, err := s.agentAccounts(r.Context())
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	platforms := pstar.Platforms(entries)
	out := make([]map[string]string, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, map[string]string{"platform": p})
	}
	s.respond(w, out, nil)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	entries, err := s.agentAccounts(r.Context())
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, pstar.Accounts(entries), nil)
}

// handleServices lists the template names of the "services" category.
func (s *Server) handleServices(w http.ResponseWriter, _ *http.Request) {
	services := []string{}
	for _, key := range s.templates.List() {
		if name, ok := strings.CutPrefix(key, "services/"); ok {
			services = append(services, name)
		}
	}
	s.respond(w, services, nil)
}

type compileRequest struct {
	Matches [][]string       `json:"matches"`
	Records []map[string]any `json:"records,omitempty"`
}

// handleCompile renders match groups as a $match stage, or filters the
// posted records when there are any.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := decodeBody(r, &req); err != nil {
		s.respond(w, nil, err)
		return
	}

	sets, err := match.Compile(req.Matches)
	if err != nil {
		s.respond(w, nil, err)
		return
	}

	if req.Records != nil {
		filtered, err := sets.Filter(req.Records)
		if err != nil {
			s.respond(w, nil, badRequest(err.Error()))
			return
		}
		s.respond(w, filtered, nil)
		return
	}

	stage, ok := sets.Stage()
	if !ok {
		stage = map[string]any{}
	}
	s.respond(w, stage, nil)
}

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errBadRequest, msg)
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return badRequest(err.Error())
	}
	if len(body) > maxBodySize {
		return core.ErrConfigTooLarge
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// statusCode maps an operation error onto an HTTP status.
func statusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBadRequest), match.IsSyntaxError(err), queue.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respond(w http.ResponseWriter, result any, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}

	body := core.Envelope(result, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		s.logger.Error("failed to write response", "error", encErr)
	}
}
