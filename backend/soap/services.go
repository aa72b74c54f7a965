package soap

import "strings"

// Service identifiers, as taken from the invoking program name.
const (
	DeviceService   = "device_service"
	MediaService    = "media_service"
	Media2Service   = "media2_service"
	PTZService      = "ptz_service"
	DeviceIOService = "deviceio_service"
)

var services = []string{DeviceService, MediaService, Media2Service, PTZService, DeviceIOService}

// LookupService returns the canonical service identifier for name, ignoring
// case and surrounding space.
func LookupService(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, service := range services {
		if strings.EqualFold(service, name) {
			return service, true
		}
	}
	return "", false
}

// Namespaces advertised by GetServices.
const (
	NamespaceDevice   = "http://www.onvif.org/ver10/device/wsdl"
	NamespaceMedia    = "http://www.onvif.org/ver10/media/wsdl"
	NamespaceMedia2   = "http://www.onvif.org/ver20/media/wsdl"
	NamespacePTZ      = "http://www.onvif.org/ver20/ptz/wsdl"
	NamespaceDeviceIO = "http://www.onvif.org/ver10/deviceIO/wsdl"
)

// SynologyQuirk matches the one call Synology recorders must be steered away
// from when the compatibility flag is set.
func SynologyQuirk(service, method string) bool {
	return strings.EqualFold(service, Media2Service) && strings.EqualFold(method, "GetProfiles")
}
