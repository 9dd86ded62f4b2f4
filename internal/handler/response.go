package handler

// RESPONSE HELPERS:
// Every endpoint answers with the same envelope, success or failure:
//
//	{"e": 0, "d": {"user_id": 1, "username": "alice", ...}}
//	{"e": 10}
//
// The HTTP status is always 200 and clients branch on "e" alone, so a
// request always gets a well-formed answer, even when the database is down.

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/userauth/internal/model"
	"github.com/sakif/userauth/internal/service"
)

// writeEnvelope sends an envelope. data is only included for OK.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written. Once Encode
// writes, any header change is silently ignored.
func writeEnvelope(w http.ResponseWriter, logger *slog.Logger, o service.Outcome, data any) {
	env := model.Envelope{E: int(o)}
	if o == service.OK {
		env.D = data
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		// Headers are already out; all we can do is log.
		logger.Error("failed to encode envelope", slog.String("error", err.Error()))
	}
}

// writeResult maps a service result onto the wire. A nil *model.User is
// kept out of the payload rather than sent as "d": null.
func writeResult(w http.ResponseWriter, logger *slog.Logger, res service.Result) {
	if res.User == nil {
		writeEnvelope(w, logger, res.Outcome, nil)
		return
	}
	writeEnvelope(w, logger, res.Outcome, res.User)
}
