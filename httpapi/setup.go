package httpapi

import (
	"net/http"
	"strings"
)

type verifyPasswordRequest struct {
	Password string `json:"password"`
}

func sessionToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}

func (a *API) verifyPassword(w http.ResponseWriter, r *http.Request) {
	var req verifyPasswordRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	token, err := a.svc.VerifyPassword(r.Context(), caller(r), req.Password)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_token": token})
}

type totpSetupResponse struct {
	SessionID       string `json:"session_id"`
	ManualEntryKey  string `json:"manual_entry_key"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code,omitempty"`
	ExpiresAt       string `json:"expires_at"`
}

func (a *API) setupTOTP(w http.ResponseWriter, r *http.Request) {
	setup, err := a.svc.SetupTOTP(r.Context(), caller(r), sessionToken(r))
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, totpSetupResponse{
		SessionID:       setup.SessionID,
		ManualEntryKey:  setup.ManualEntryKey,
		ProvisioningURI: setup.ProvisioningURI,
		QRCode:          setup.QRCodeDataURL,
		ExpiresAt:       formatTime(setup.ExpiresAt),
	})
}

type codeRequest struct {
	Code string `json:"code"`
}

func (a *API) confirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	if err := a.svc.ConfirmTOTPSetup(r.Context(), caller(r), sessionToken(r), req.Code); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) enableEmail(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.EnableEmailTwoFactor(r.Context(), caller(r), sessionToken(r)); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resetTwoFactor(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.ResetTwoFactor(r.Context(), caller(r), sessionToken(r)); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Enabled          bool   `json:"enabled"`
	Method           string `json:"method"`
	HasAuthenticator bool   `json:"has_authenticator"`
	EmailConfirmed   bool   `json:"email_confirmed"`
}

func (a *API) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.TwoFactorStatus(r.Context(), caller(r))
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Enabled:          st.Enabled,
		Method:           st.Method.String(),
		HasAuthenticator: st.HasAuthenticator,
		EmailConfirmed:   st.EmailConfirmed,
	})
}
