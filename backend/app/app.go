package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "onvifsimple/gover/backend/api/handlers"
	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/httpapi"
	"onvifsimple/gover/backend/logging"
	"onvifsimple/gover/backend/metrics"
	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/router"
	"onvifsimple/gover/backend/service/auth"
	"onvifsimple/gover/backend/service/command"
	"onvifsimple/gover/backend/service/maintenance"
	"onvifsimple/gover/backend/service/ptz"
	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/store"
	"onvifsimple/gover/backend/xmltree"
)

// MaxRequestSize bounds one SOAP request.
const MaxRequestSize = 64 << 10

var (
	ErrRequestTooLarge = errors.New("request exceeds 64 KiB")
	ErrEmptyRequest    = errors.New("empty request")
	ErrMalformed       = errors.New("malformed request")
	ErrUnknownService  = errors.New("unknown service")
)

// unknownMethod is the metrics label for methods no dispatch entry names.
const unknownMethod = "unknown"

// Call is one raw request addressed to a service.
type Call struct {
	Service    string
	Body       []byte
	RemoteAddr string
	RequestID  string
}

// Result is the rendered response document. Fault is set when Body is a fault.
type Result struct {
	Method string
	Body   []byte
	Fault  *soap.Fault
}

type App struct {
	cfg         config.Config
	table       *router.Table
	validator   *auth.Validator
	store       *store.Store
	maintenance *maintenance.Service
	metrics     *metrics.Metrics
	server      *http.Server
	logger      *logging.Manager
	now         func() time.Time
}

type Option func(*options)

type options struct {
	executor command.Executor
	now      func() time.Time
}

// WithExecutor replaces the os/exec backend, mostly for tests.
func WithExecutor(executor command.Executor) Option {
	return func(o *options) { o.executor = executor }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(cfg config.Config, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	loggerMgr, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	logging.Debugf("[config] using config file: %s", cfg.ConfigFile)

	var storeDB *store.Store
	if strings.TrimSpace(cfg.AuditDBPath) != "" {
		storeDB, err = store.Open(cfg.AuditDBPath)
		if err != nil {
			_ = loggerMgr.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
	}

	m := metrics.New()
	runner := command.NewRunner(o.executor)
	runner.Observe(m.ObserveCommand)
	deps := &router.Dependencies{
		Config: cfg,
		Runner: runner,
		Now:    o.now,
	}
	if cfg.PTZ.Enable {
		deps.PTZ = ptz.New(cfg.PTZ, runner)
	}

	app := &App{
		cfg:       cfg,
		table:     router.Build(deps),
		validator: auth.New(cfg),
		store:     storeDB,
		metrics:   m,
		logger:    loggerMgr,
		now:       o.now,
	}
	if storeDB != nil {
		app.maintenance = maintenance.New(storeDB, cfg.AuditRetentionDays)
	}
	app.server = &http.Server{
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           app.Handler(),
	}
	logging.Debugf("[router] dispatch table has %d entries", app.table.Len())
	return app, nil
}

// Handle runs one request through parse, authentication, dispatch and render.
// Malformed input is returned as an error and nothing should be written.
func (a *App) Handle(ctx context.Context, call Call) (*Result, error) {
	start := time.Now()
	service, ok := soap.LookupService(call.Service)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, call.Service)
	}
	if len(call.Body) > MaxRequestSize {
		return nil, ErrRequestTooLarge
	}
	if len(strings.TrimSpace(string(call.Body))) == 0 {
		return nil, ErrEmptyRequest
	}
	doc, err := xmltree.Parse(call.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse request: %w", ErrMalformed, err)
	}
	env, err := xmltree.ParseEnvelope(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: parse envelope: %w", ErrMalformed, err)
	}
	call.Service = service
	methodLabel, ok := a.table.Known(service, env.Method)
	if !ok {
		methodLabel = unknownMethod
	}
	if call.RequestID == "" {
		call.RequestID = uuid.NewString()
	}
	logging.Debugf("[soap] %s %s/%s from %s", call.RequestID, service, env.Method, call.RemoteAddr)

	result := &Result{Method: env.Method}
	authResult := store.AuthAccepted
	var token auth.Token
	err = a.metrics.ObserveRequest(service, methodLabel, func() (string, error) {
		switch {
		case !a.validator.Enabled():
			authResult = store.AuthSkipped
		case auth.IsPublic(service, env.Method):
			authResult = store.AuthPublic
		}
		var checkErr error
		token, checkErr = a.validator.Check(service, env.Method, env)
		if checkErr != nil {
			authResult = store.AuthRejected
			a.metrics.AuthFailures.WithLabelValues(service, authReason(checkErr)).Inc()
			log.Printf("[auth][warn] %s/%s rejected: %v", service, env.Method, checkErr)
			result.Fault = a.validator.Fault(service, env.Method)
		} else {
			body, dispatchErr := a.table.Dispatch(ctx, &router.Request{
				Service:  service,
				Method:   env.Method,
				Envelope: env,
				Token:    token,
			})
			var fault *soap.Fault
			switch {
			case errors.As(dispatchErr, &fault):
				result.Fault = fault
			case dispatchErr != nil:
				return "error", fmt.Errorf("%s/%s: %w", service, env.Method, dispatchErr)
			default:
				result.Body = body
			}
		}
		if result.Fault != nil {
			body, renderErr := render.Fault(result.Fault)
			if renderErr != nil {
				return "error", renderErr
			}
			result.Body = body
			a.metrics.Faults.WithLabelValues(service, result.Fault.Subcode).Inc()
			return "fault", nil
		}
		return "ok", nil
	})
	a.metrics.RequestSize.Observe(float64(len(call.Body)))
	if err == nil {
		a.metrics.ResponseSize.Observe(float64(len(result.Body)))
	}
	a.audit(ctx, call, result, token.Username, authResult, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HandleOneShot reads one request from r and writes the CGI response to w.
func (a *App) HandleOneShot(ctx context.Context, service string, r io.Reader, w io.Writer) error {
	body, err := io.ReadAll(io.LimitReader(r, MaxRequestSize+1))
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	result, err := a.Handle(ctx, Call{Service: service, Body: body, RemoteAddr: "stdin"})
	if err != nil {
		return err
	}
	return httpapi.WriteCGI(w, result.Body)
}

func (a *App) audit(ctx context.Context, call Call, result *Result, username, authResult string, handleErr error, elapsed time.Duration) {
	if a.store == nil {
		return
	}
	item := store.RequestLog{
		RequestID:     call.RequestID,
		Service:       call.Service,
		Method:        result.Method,
		RemoteAddr:    call.RemoteAddr,
		Username:      username,
		AuthResult:    authResult,
		Status:        "ok",
		RequestBytes:  len(call.Body),
		ResponseBytes: len(result.Body),
		DurationMS:    elapsed.Milliseconds(),
		RawBody:       string(call.Body),
		CreatedAt:     a.now(),
	}
	switch {
	case handleErr != nil:
		item.Status = "error"
	case result.Fault != nil:
		item.Status = "fault"
		item.FaultSubcode = result.Fault.Subcode
	}
	if _, err := a.store.CreateRequestLog(context.WithoutCancel(ctx), item); err != nil {
		log.Printf("[audit][warn] record %s failed: %v", call.RequestID, err)
	}
}

func authReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingSecurity):
		return "missing_security"
	case errors.Is(err, auth.ErrMissingUsername),
		errors.Is(err, auth.ErrMissingDigest),
		errors.Is(err, auth.ErrMissingNonce),
		errors.Is(err, auth.ErrMissingCreated):
		return "missing_field"
	case errors.Is(err, auth.ErrInvalidNonce):
		return "invalid_nonce"
	case errors.Is(err, auth.ErrInputTooLarge):
		return "input_too_large"
	case errors.Is(err, auth.ErrUserMismatch):
		return "user_mismatch"
	case errors.Is(err, auth.ErrDigestMismatch):
		return "digest_mismatch"
	default:
		return "other"
	}
}

// Close releases the audit log and the log file.
func (a *App) Close() error {
	if a.maintenance != nil {
		a.maintenance.Stop()
	}
	var closeErr error
	if a.store != nil {
		closeErr = a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
	return closeErr
}
