package httpapi

import "net/http"

type emailRequest struct {
	Email string `json:"email"`
}

type emailCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type identifierRequest struct {
	Identifier string `json:"identifier"`
}

type identifierCodeRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

type emailChangeRequest struct {
	NewEmail string `json:"new_email"`
}

type emailChangeConfirmRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

// Sends answer 202 whether or not an account matched.
func (a *API) sendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	if err := a.svc.SendVerificationEmail(r.Context(), req.Email); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) confirmVerification(w http.ResponseWriter, r *http.Request) {
	var req emailCodeRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	if err := a.svc.ConfirmVerificationEmail(r.Context(), req.Email, req.Code); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req identifierRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	if err := a.svc.RequestPasswordReset(r.Context(), req.Identifier); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) verifyPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req identifierCodeRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	userID, err := a.svc.VerifyPasswordResetCode(r.Context(), req.Identifier, req.Code)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}

func (a *API) requestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req emailChangeRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	sessionID, err := a.svc.RequestEmailChange(r.Context(), caller(r), req.NewEmail)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

func (a *API) confirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req emailChangeConfirmRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	if err := a.svc.ConfirmEmailChange(r.Context(), caller(r), req.SessionID, req.Code); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
