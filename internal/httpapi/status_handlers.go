package httpapi

import (
	"errors"
	"net/http"

	"saltapi/internal/authz"
	"saltapi/internal/status"
)

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		a.listStatus(w, r)
	case http.MethodPatch:
		a.updateStatus(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) listStatus(w http.ResponseWriter, r *http.Request) {
	records, err := a.status.List(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// updateStatus checks the caller's network before the body is read.
func (a *API) updateStatus(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	addr, _ := ClientAddrFromContext(r.Context())
	if err := a.authz.Require(r.Context(), user, authz.PermUpdateStatus, authz.Request{ClientIP: addr}); err != nil {
		handleError(w, r, err)
		return
	}

	var upd status.Update
	if err := decodeJSON(r, &upd); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	upd.ReportingUser = user.Username

	if _, err := a.status.Update(r.Context(), upd); err != nil {
		handleError(w, r, err)
		return
	}
	a.listStatus(w, r)
}

// handleDecodeError reports malformed bodies as unprocessable.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		handleError(w, r, err)
		return
	}
	writeError(w, r, http.StatusUnprocessableEntity, err.Error())
}
