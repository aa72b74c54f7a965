package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/router"
	ptzsvc "onvifsimple/gover/backend/service/ptz"
	"onvifsimple/gover/backend/soap"
	"onvifsimple/gover/backend/xmltree"
)

type handlerFunc = func(ctx context.Context, req *router.Request) ([]byte, error)

func entry(method string, fn handlerFunc) router.Entry {
	return router.Entry{Method: method, Handler: router.HandlerFunc(fn)}
}

func entryIf(method string, fn handlerFunc, condition func() bool) router.Entry {
	return router.Entry{Method: method, Handler: router.HandlerFunc(fn), Condition: condition}
}

// bodyText reads the first element called name inside the request body.
func bodyText(req *router.Request, name string) (string, bool) {
	text, ok := xmltree.FindText(name, req.Envelope.Body)
	return strings.TrimSpace(text), ok
}

func requireProfile(req *router.Request, cfg config.Config) (int, *config.Profile, error) {
	token, ok := bodyText(req, "ProfileToken")
	if !ok || token == "" {
		return -1, nil, soap.NoProfile(req.Service)
	}
	index, profile := cfg.ProfileByToken(token)
	if profile == nil {
		return -1, nil, soap.NoProfile(req.Service)
	}
	return index, profile, nil
}

func simpleResponse(element string) ([]byte, error) {
	return render.Response("simple_response", render.Text("ELEMENT", element))
}

func invalidArgVal(service string, detail string) *soap.Fault {
	return soap.InvalidArg(service, "ter:InvalidArgVal", "Argument value invalid", detail)
}

// asFault turns a service error into the fault reported to the client.
// Backend command failures all surface as ActionFailed.
func asFault(service string, err error) error {
	if err == nil {
		return nil
	}
	var fault *soap.Fault
	if errors.As(err, &fault) {
		return fault
	}
	switch {
	case errors.Is(err, ptzsvc.ErrInvalidPresetName):
		return soap.InvalidArg(service, "ter:InvalidPresetName", "Invalid preset name", err.Error())
	case errors.Is(err, ptzsvc.ErrInvalidToken), errors.Is(err, ptzsvc.ErrPresetNotFound):
		return soap.NoToken(service)
	case errors.Is(err, ptzsvc.ErrPresetExists):
		return soap.InvalidArg(service, "ter:PresetExist", "Preset name already exists", err.Error())
	case errors.Is(err, ptzsvc.ErrTooManyPresets):
		return soap.New(service, soap.CodeReceiver, "ter:TooManyPresets", "Maximum number of presets reached", "The maximum number of presets supported by the PTZ node has been reached")
	case errors.Is(err, ptzsvc.ErrMoving):
		return soap.New(service, soap.CodeReceiver, "ter:MovingPTZ", "PTZ is moving", "Preset cannot be set while the PTZ unit is moving")
	case errors.Is(err, ptzsvc.ErrInvalidPosition):
		return soap.InvalidArg(service, "ter:InvalidPosition", "Invalid position", "The requested position is out of bounds or cannot be resolved")
	}
	log.Printf("[handlers] %s action failed: %v", service, err)
	return soap.ActionFailed(service)
}
