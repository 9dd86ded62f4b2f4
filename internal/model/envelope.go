package model

// Envelope is the body of every API response, success or failure:
//
//	{"e": 0, "d": {...}}   success with payload
//	{"e": 11}              a named failure, no payload
//
// E is the outcome code; D is omitted when there is nothing to return.
// The HTTP status is always 200; clients branch on E alone.
type Envelope struct {
	E int `json:"e"`
	D any `json:"d,omitempty"`
}
