package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"onvifsimple/gover/backend/soap"
)

// SOAPContentType is sent with every SOAP response, faults included.
const SOAPContentType = "application/soap+xml; charset=utf-8"

// Result is the JSON envelope of the admin API.
type Result[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

func OK[T any](w http.ResponseWriter, data T) {
	writeJSON(w, http.StatusOK, Result[T]{
		Code:    0,
		Message: "Success",
		Data:    data,
	})
}

func Error(w http.ResponseWriter, code int, message string, status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, Result[any]{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[httpapi] writeJSON encode error: %v", err)
	}
}

// WriteSOAP sends a rendered SOAP document. Sender faults map to 400 and
// Receiver faults to 500.
func WriteSOAP(w http.ResponseWriter, body []byte, fault *soap.Fault) {
	status := http.StatusOK
	if fault != nil {
		status = http.StatusInternalServerError
		if fault.Code == soap.CodeSender {
			status = http.StatusBadRequest
		}
	}
	w.Header().Set("Content-Type", SOAPContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Printf("[httpapi] write soap response error: %v", err)
	}
}

// WriteCGI writes the CGI header block, a blank line and body to w.
func WriteCGI(w io.Writer, body []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Type: %s\r\nContent-Length: %d\r\n\r\n", SOAPContentType, len(body)); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
