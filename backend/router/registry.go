package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/logging"
	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/service/auth"
	"onvifsimple/gover/backend/service/command"
	"onvifsimple/gover/backend/service/ptz"
	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/xmltree"
)

type Dependencies struct {
	Config config.Config
	Runner *command.Runner
	PTZ    *ptz.Service
	Now    func() time.Time
}

// Request is one parsed call. It lives for a single dispatch.
type Request struct {
	Service  string
	Method   string
	Envelope *xmltree.Envelope
	Token    auth.Token
}

// Handler produces the full response document for a request. A *soap.Fault
// error is rendered as a fault; any other error aborts the request.
type Handler interface {
	Handle(ctx context.Context, req *Request) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, req *Request) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) ([]byte, error) {
	return f(ctx, req)
}

// Entry binds a method to a handler. A nil Condition is always enabled.
type Entry struct {
	Method    string
	Handler   Handler
	Condition func() bool
}

type Module interface {
	Service() string
	Entries() []Entry
}

type Factory func(*Dependencies) Module

var (
	registryMu sync.Mutex
	registry   []Factory
)

func Register(factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, factory)
}

type route struct {
	service   string
	method    string
	handler   Handler
	condition func() bool
}

// Table is the ordered dispatch table. It is immutable once built.
type Table struct {
	routes         []route
	faultIfUnknown bool
	synologyNVR    bool
}

// Build instantiates every registered module in registration order.
func Build(deps *Dependencies) *Table {
	return NewTable(deps.Config, instantiateModules(deps)...)
}

func NewTable(cfg config.Config, modules ...Module) *Table {
	t := &Table{
		routes:         make([]route, 0, 64),
		faultIfUnknown: cfg.FaultIfUnknown,
		synologyNVR:    cfg.SynologyNVR,
	}
	for _, mod := range modules {
		service := strings.TrimSpace(mod.Service())
		for _, entry := range mod.Entries() {
			t.routes = append(t.routes, route{
				service:   service,
				method:    strings.TrimSpace(entry.Method),
				handler:   entry.Handler,
				condition: entry.Condition,
			})
		}
	}
	return t
}

func instantiateModules(deps *Dependencies) []Module {
	registryMu.Lock()
	defer registryMu.Unlock()
	modules := make([]Module, 0, len(registry))
	for _, factory := range registry {
		modules = append(modules, factory(deps))
	}
	return modules
}

// Len reports the number of entries, enabled or not.
func (t *Table) Len() int {
	return len(t.routes)
}

// Known returns the registered spelling of method on service, enabled or not.
// Methods no entry names report false, except the Synology quirk.
func (t *Table) Known(service, method string) (string, bool) {
	for _, rt := range t.routes {
		if strings.EqualFold(rt.service, service) && strings.EqualFold(rt.method, method) {
			return rt.method, true
		}
	}
	if soap.SynologyQuirk(service, method) {
		return "GetProfiles", true
	}
	return "", false
}

// Dispatch runs the first enabled entry matching (service, method), ignoring
// case. Entries whose condition is false are skipped.
func (t *Table) Dispatch(ctx context.Context, req *Request) ([]byte, error) {
	for _, rt := range t.routes {
		if !strings.EqualFold(rt.service, req.Service) || !strings.EqualFold(rt.method, req.Method) {
			continue
		}
		if rt.condition != nil && !rt.condition() {
			logging.Debugf("[router] %s/%s disabled, keep scanning", rt.service, rt.method)
			continue
		}
		return rt.handler.Handle(ctx, req)
	}
	if t.synologyNVR && soap.SynologyQuirk(req.Service, req.Method) {
		return nil, soap.TooManyProfiles(req.Service)
	}
	return t.unsupported(req)
}

func (t *Table) unsupported(req *Request) ([]byte, error) {
	logging.Debugf("[router] unsupported method %s/%s", req.Service, req.Method)
	if t.faultIfUnknown {
		return nil, soap.ActionFailed(req.Service)
	}
	return render.Empty()
}
