package httpapi

import (
	"net/http"

	"github.com/MrEthical07/twofa"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	ReturnURL  string `json:"return_url"`
}

type loginResponse struct {
	State       string `json:"state"`
	Method      string `json:"method,omitempty"`
	ChallengeID string `json:"challenge_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Email       string `json:"email,omitempty"`
	RememberMe  bool   `json:"remember_me,omitempty"`
	RedirectTo  string `json:"redirect_to,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	LockedUntil string `json:"locked_until,omitempty"`
}

func toLoginResponse(res twofa.LoginResult) *loginResponse {
	out := &loginResponse{
		State:       res.State.String(),
		ChallengeID: res.ChallengeID,
		UserID:      res.UserID,
		Email:       res.Email,
		RememberMe:  res.RememberMe,
		RedirectTo:  res.RedirectTo,
		AccessToken: res.AccessToken,
		ExpiresAt:   formatTime(res.ExpiresAt),
		LockedUntil: formatTime(res.LockedUntil),
	}
	if res.Method != twofa.MethodNone {
		out.Method = res.Method.String()
	}
	return out
}

// loginContext reports whether a failed result still tells the client
// something useful: a pending challenge it can resend for, or a lockout end.
func loginContext(res twofa.LoginResult) *loginResponse {
	switch res.State {
	case twofa.LoginTwoFactorRequired, twofa.LoginLockedOut:
		return toLoginResponse(res)
	default:
		return nil
	}
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	res, err := a.svc.Login(r.Context(), twofa.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		ReturnURL:  req.ReturnURL,
	})
	if err != nil {
		a.writeError(w, r, err, loginContext(res))
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

type challengeRequest struct {
	UserID      string `json:"user_id"`
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

func (a *API) verifyLoginTOTP(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	res, err := a.svc.VerifyLoginTOTP(r.Context(), req.UserID, req.ChallengeID, req.Code)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

func (a *API) verifyEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	res, err := a.svc.VerifyEmailOTP(r.Context(), req.UserID, req.ChallengeID, req.Code)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

type sendEmailOTPRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func (a *API) sendEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req sendEmailOTPRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	challengeID, err := a.svc.SendEmailOTP(r.Context(), req.UserID, req.Email)
	if err != nil {
		a.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"challenge_id": challengeID})
}
