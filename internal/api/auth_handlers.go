package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/clientpix/clientpix/internal/auth"
	"github.com/clientpix/clientpix/internal/catalog"
	"github.com/clientpix/clientpix/internal/logging"
	"github.com/clientpix/clientpix/internal/metrics"
)

type adminResponse struct {
	ID      string  `json:"id"`
	Email   string  `json:"email"`
	Name    *string `json:"name"`
	IsOwner bool    `json:"is_owner"`
	Has2FA  bool    `json:"totp_enabled"`
}

func toAdminResponse(a *catalog.Admin) adminResponse {
	return adminResponse{
		ID:      a.ID,
		Email:   a.Email,
		Name:    a.Name,
		IsOwner: a.IsOwner,
		Has2FA:  a.TOTPEnabled,
	}
}

// handleRegister creates the owner account. Registration is open only
// while no admin exists; afterwards it always fails.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string  `json:"email"`
		Password string  `json:"password"`
		Name     *string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		s.sendError(w, http.StatusBadRequest, "email and a password of at least 8 characters are required")
		return
	}

	count, err := s.catalog.CountAdmins(r.Context())
	if err != nil {
		logging.Error("count admins", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if count > 0 {
		s.sendError(w, http.StatusForbidden, "registration is closed")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	admin, err := s.catalog.CreateAdmin(r.Context(), req.Email, hash, req.Name, true)
	if err != nil {
		logging.Error("create admin", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	token, expiresIn, err := s.auth.IssueAccessToken(admin.ID, admin.Email)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	logging.Info("owner account registered", zap.String("email", admin.Email))
	s.sendJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"expires_in": expiresIn,
		"admin":      toAdminResponse(admin),
	})
}

// handleLogin checks credentials. With 2FA enabled the response carries a
// short-lived pending token instead of a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.throttle(w, r) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	admin, err := s.catalog.GetAdminByEmail(r.Context(), req.Email)
	if err != nil {
		logging.Error("login lookup", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	if admin == nil || !auth.VerifyPassword(req.Password, admin.PasswordHash) {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed", zap.String("email", req.Email))
		s.sendError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if admin.TOTPEnabled {
		pending, err := s.auth.IssuePendingToken(admin.ID)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, "failed to generate token")
			return
		}
		s.sendJSON(w, http.StatusOK, map[string]any{
			"requires_2fa": true,
			"temp_token":   pending,
		})
		return
	}

	s.issueSession(w, r, admin)
}

// handle2FAVerify exchanges a pending token plus a TOTP or backup code
// for a full session token.
func (s *Server) handle2FAVerify(w http.ResponseWriter, r *http.Request) {
	if !s.throttle(w, r) {
		return
	}
	var req struct {
		TempToken string `json:"temp_token"`
		Code      string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	adminID, err := s.auth.ValidatePendingToken(req.TempToken)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		s.sendError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	admin, err := s.catalog.GetAdmin(r.Context(), adminID)
	if err != nil || admin == nil || admin.TOTPSecret == nil {
		metrics.RecordAuthAttempt(false)
		s.sendError(w, http.StatusUnauthorized, "invalid account state")
		return
	}

	if !auth.VerifyTOTPCode(*admin.TOTPSecret, req.Code) {
		ok, remaining, err := auth.VerifyBackupCode(admin.BackupCodes, req.Code)
		if err != nil || !ok {
			metrics.RecordAuthAttempt(false)
			logging.Warn("2fa verification failed", zap.String("email", admin.Email))
			s.sendError(w, http.StatusUnauthorized, "invalid code")
			return
		}
		// Backup codes are single use
		if err := s.catalog.UpdateBackupCodes(r.Context(), admin.ID, remaining); err != nil {
			logging.Error("consume backup code", zap.Error(err))
		}
		logging.Info("backup code used", zap.String("email", admin.Email))
	}

	s.issueSession(w, r, admin)
}

func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, admin *catalog.Admin) {
	token, expiresIn, err := s.auth.IssueAccessToken(admin.ID, admin.Email)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	metrics.RecordAuthAttempt(true)
	logging.Info("login successful", zap.String("email", admin.Email))
	s.sendJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": expiresIn,
		"admin":      toAdminResponse(admin),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	admin := s.currentAdmin(w, r)
	if admin == nil {
		return
	}
	s.sendJSON(w, http.StatusOK, toAdminResponse(admin))
}

// handle2FASetup stores a fresh secret and returns the QR code. The
// secret stays inactive until enable confirms a valid code.
func (s *Server) handle2FASetup(w http.ResponseWriter, r *http.Request) {
	admin := s.currentAdmin(w, r)
	if admin == nil {
		return
	}
	if admin.TOTPEnabled {
		s.sendError(w, http.StatusConflict, "2fa is already enabled")
		return
	}

	setup, err := auth.GenerateTOTPSetup(admin.Email)
	if err != nil {
		logging.Error("totp setup", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}
	if err := s.catalog.SetTOTPSecret(r.Context(), admin.ID, setup.Secret); err != nil {
		logging.Error("store totp secret", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	s.sendJSON(w, http.StatusOK, setup)
}

// handle2FAEnable activates 2FA once the admin proves they can produce a
// code, and hands out the backup codes exactly once.
func (s *Server) handle2FAEnable(w http.ResponseWriter, r *http.Request) {
	admin := s.currentAdmin(w, r)
	if admin == nil {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if admin.TOTPEnabled {
		s.sendError(w, http.StatusConflict, "2fa is already enabled")
		return
	}
	if admin.TOTPSecret == nil || !auth.VerifyTOTPCode(*admin.TOTPSecret, req.Code) {
		s.sendError(w, http.StatusBadRequest, "invalid code")
		return
	}

	plain, encoded, err := auth.GenerateBackupCodes(10)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to generate backup codes")
		return
	}
	if err := s.catalog.EnableTOTP(r.Context(), admin.ID, encoded); err != nil {
		logging.Error("enable totp", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}

	logging.Info("2fa enabled", zap.String("email", admin.Email))
	s.sendJSON(w, http.StatusOK, map[string]any{"backup_codes": plain})
}

// handle2FADisable turns 2FA off after re-verifying password and code.
func (s *Server) handle2FADisable(w http.ResponseWriter, r *http.Request) {
	admin := s.currentAdmin(w, r)
	if admin == nil {
		return
	}
	var req struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !admin.TOTPEnabled || admin.TOTPSecret == nil {
		s.sendError(w, http.StatusConflict, "2fa is not enabled")
		return
	}
	if !auth.VerifyPassword(req.Password, admin.PasswordHash) {
		s.sendError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	if !auth.VerifyTOTPCode(*admin.TOTPSecret, req.Code) {
		s.sendError(w, http.StatusUnauthorized, "invalid code")
		return
	}

	if err := s.catalog.DisableTOTP(r.Context(), admin.ID); err != nil {
		logging.Error("disable totp", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}
	logging.Info("2fa disabled", zap.String("email", admin.Email))
	s.sendJSON(w, http.StatusOK, map[string]any{"disabled": true})
}

// handle2FABackupCodes replaces all backup codes with a fresh set.
func (s *Server) handle2FABackupCodes(w http.ResponseWriter, r *http.Request) {
	admin := s.currentAdmin(w, r)
	if admin == nil {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !admin.TOTPEnabled {
		s.sendError(w, http.StatusConflict, "2fa is not enabled")
		return
	}
	if !auth.VerifyPassword(req.Password, admin.PasswordHash) {
		s.sendError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	plain, encoded, err := auth.GenerateBackupCodes(10)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to generate backup codes")
		return
	}
	enc := encoded
	if err := s.catalog.UpdateBackupCodes(r.Context(), admin.ID, &enc); err != nil {
		logging.Error("update backup codes", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return
	}

	logging.Info("backup codes regenerated", zap.String("email", admin.Email))
	s.sendJSON(w, http.StatusOK, map[string]any{"backup_codes": plain})
}

// currentAdmin loads the authenticated admin, writing the error response
// itself when the account cannot be resolved.
func (s *Server) currentAdmin(w http.ResponseWriter, r *http.Request) *catalog.Admin {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "not authenticated")
		return nil
	}
	admin, err := s.catalog.GetAdmin(r.Context(), claims.AdminID())
	if err != nil {
		logging.Error("load admin", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if admin == nil {
		s.sendError(w, http.StatusUnauthorized, "account no longer exists")
		return nil
	}
	return admin
}
