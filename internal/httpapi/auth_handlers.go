package httpapi

import (
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"saltapi/internal/authz"
	"saltapi/internal/identity"
	"saltapi/internal/proposal"
)

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type userResponse struct {
	identity.User
	Roles []authz.Role `json:"roles"`
}

type rolesResponse struct {
	ProposalCode *proposal.Code `json:"proposal_code"`
	Roles        []authz.Role   `json:"roles"`
}

// handleToken accepts JSON or an OAuth2 password-grant form.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	req, err := readTokenRequest(r)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "username is required")
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "password is required")
		return
	}

	tok, _, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: tok.Token,
		TokenType:   "bearer",
		ExpiresAt:   tok.ExpiresAt,
	})
}

func readTokenRequest(r *http.Request) (tokenRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return tokenRequest{}, err
		}
		return tokenRequest{
			Username: r.PostForm.Get("username"),
			Password: r.PostForm.Get("password"),
		}, nil
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		return tokenRequest{}, err
	}
	return req, nil
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, err := currentUser(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if user.Affiliations == nil {
		affiliations, err := a.identity.Affiliations(r.Context(), user.ID)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			handleError(w, r, err)
			return
		}
		user.Affiliations = affiliations
	}
	writeJSON(w, http.StatusOK, userResponse{
		User:  user,
		Roles: a.authz.Roles(r.Context(), user, nil),
	})
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
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
	writeJSON(w, http.StatusOK, rolesResponse{
		ProposalCode: code,
		Roles:        a.authz.Roles(r.Context(), user, code),
	})
}

// proposalCodeParam reads the optional proposal_code query parameter.
func proposalCodeParam(r *http.Request) (*proposal.Code, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("proposal_code"))
	if raw == "" {
		return nil, nil
	}
	code, err := proposal.Validate(raw)
	if err != nil {
		return nil, err
	}
	return &code, nil
}
