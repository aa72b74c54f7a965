package store

import "time"

// Auth outcomes recorded per request.
const (
	AuthSkipped  = "skipped"
	AuthPublic   = "public"
	AuthAccepted = "accepted"
	AuthRejected = "rejected"
)

// RequestLog is one dispatched SOAP request.
type RequestLog struct {
	ID            int64     `json:"id"`
	RequestID     string    `json:"requestId"`
	Service       string    `json:"service"`
	Method        string    `json:"method"`
	RemoteAddr    string    `json:"remoteAddr"`
	Username      string    `json:"username"`
	AuthResult    string    `json:"authResult"`
	Status        string    `json:"status"`
	FaultSubcode  string    `json:"faultSubcode,omitempty"`
	RequestBytes  int       `json:"requestBytes"`
	ResponseBytes int       `json:"responseBytes"`
	DurationMS    int64     `json:"durationMs"`
	RawBody       string    `json:"rawBody,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type RequestLogQuery struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Status  string `json:"status"`
	Limit   int    `json:"limit"`
}

type RequestLogStats struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Total   int64  `json:"total"`
	Faults  int64  `json:"faults"`
}
