package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"saltapi/internal/audit"
	"saltapi/internal/authz"
	"saltapi/internal/identity"
	"saltapi/internal/proposal"
)

const proposalFileField = "proposal"

type timeShare struct {
	PartnerCode string  `json:"partner_code"`
	Percent     float64 `json:"percent"`
}

type proposalResponse struct {
	ProposalCode          proposal.Code `json:"proposal_code"`
	PrincipalInvestigator int64         `json:"principal_investigator"`
	PrincipalContact      int64         `json:"principal_contact"`
	Investigators         []int64       `json:"investigators"`
	TimeShares            []timeShare   `json:"time_shares"`
}

type submissionResponse struct {
	SubmissionID string         `json:"submission_id"`
	ProposalCode *proposal.Code `json:"proposal_code"`
}

// handleProposal serves GET /proposals/{code}.
func (a *API) handleProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/proposals/"), "/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	code, err := proposal.Validate(raw)
	if err != nil {
		handleError(w, r, err)
		return
	}
	user, err := currentUser(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	addr, _ := ClientAddrFromContext(r.Context())
	if err := a.authz.Require(r.Context(), user, authz.PermViewProposal, authz.Request{ProposalCode: &code, ClientIP: addr}); err != nil {
		handleError(w, r, err)
		return
	}

	ctx := r.Context()
	lc, err := a.identity.ProposalLeaderAndContact(ctx, code)
	if err != nil {
		handleError(w, r, err)
		return
	}
	investigators, err := a.identity.ProposalInvestigators(ctx, code)
	if err != nil {
		handleError(w, r, err)
		return
	}
	shares, err := a.identity.PartnerTimeShares(ctx, code)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		handleError(w, r, err)
		return
	}

	resp := proposalResponse{
		ProposalCode:          code,
		PrincipalInvestigator: lc.LeaderID,
		PrincipalContact:      lc.ContactID,
		Investigators:         append([]int64{}, investigators...),
		TimeShares:            make([]timeShare, 0, len(shares)),
	}
	for _, s := range shares {
		resp.TimeShares = append(resp.TimeShares, timeShare{PartnerCode: s.PartnerCode, Percent: s.Percent})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSubmissions forwards a multipart proposal file. Without proposal_code
// the file is a new proposal.
func (a *API) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.submissions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "submission service not configured")
		return
	}
	user, err := currentUser(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	code, err := proposalCodeParam(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	addr, _ := ClientAddrFromContext(r.Context())
	if err := a.authz.Require(r.Context(), user, authz.PermSubmitProposal, authz.Request{ProposalCode: code, ClientIP: addr}); err != nil {
		handleError(w, r, err)
		return
	}

	file, header, err := r.FormFile(proposalFileField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handleError(w, r, err)
			return
		}
		writeError(w, r, http.StatusUnprocessableEntity, "proposal file is required")
		return
	}
	defer file.Close()

	id, err := a.submissions.Submit(r.Context(), user.Username, code, header.Filename, file)
	if err != nil {
		handleError(w, r, err)
		return
	}
	fields := map[string]any{"submission_id": id}
	if code != nil {
		fields["proposal_code"] = code.String()
	}
	_ = audit.LogEvent(r.Context(), "proposal.submitted", fields)

	writeJSON(w, http.StatusAccepted, submissionResponse{SubmissionID: id, ProposalCode: code})
}
