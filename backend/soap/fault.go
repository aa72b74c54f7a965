// Package soap defines the fault contract shared by every service.
package soap

import "fmt"

const (
	CodeSender   = "Sender"
	CodeReceiver = "Receiver"
)

// Fault is the single error shape surfaced to ONVIF clients.
type Fault struct {
	Service string
	Code    string
	Subcode string
	Reason  string
	Detail  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault %s/%s: %s", f.Service, f.Code, f.Subcode, f.Reason)
}

func New(service, code, subcode, reason, detail string) *Fault {
	return &Fault{Service: service, Code: code, Subcode: subcode, Reason: reason, Detail: detail}
}

func ActionFailed(service string) *Fault {
	return New(service, CodeReceiver, "ter:ActionFailed", "Action failed", "The requested action could not be completed by the device")
}

func ActionNotSupported(service string) *Fault {
	return New(service, CodeReceiver, "ter:ActionNotSupported", "Optional Action Not Implemented", "The requested action is optional and is not implemented by the device")
}

func NotAuthorized(service string) *Fault {
	return New(service, CodeSender, "ter:NotAuthorized", "Sender not authorized", "The action requested requires authorization and the sender is not authorized")
}

func TooManyProfiles(service string) *Fault {
	return New(service, CodeReceiver, "ter:MaxNVTProfiles", "Maximum number of profiles reached", "The maximum number of supported profiles supported by the device has been reached")
}

// InvalidArg builds a Sender fault for a rejected argument.
func InvalidArg(service, subcode, reason, detail string) *Fault {
	return New(service, CodeSender, subcode, reason, detail)
}

func NoProfile(service string) *Fault {
	return InvalidArg(service, "ter:NoProfile", "Profile token does not exist", "The requested profile token does not exist")
}

func NoToken(service string) *Fault {
	return InvalidArg(service, "ter:NoToken", "Token does not exist", "The requested token does not exist")
}

func SpaceNotSupported(service string) *Fault {
	return InvalidArg(service, "ter:SpaceNotSupported", "Space not supported", "A space is referenced in an argument which is not supported by the PTZ Node")
}
