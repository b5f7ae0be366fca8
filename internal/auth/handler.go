package auth

import (
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/smsauth/smsauth/internal/identity"
	"github.com/smsauth/smsauth/internal/response"
	"github.com/smsauth/smsauth/internal/verification"
)

const maxNicknameLength = 50

var (
	phonePattern = regexp.MustCompile(`^(1[3-9]\d{9}|\+[1-9]\d{6,14})$`)
	codePattern  = regexp.MustCompile(`^\d{4,10}$`)
)

// Handler exposes the login and account endpoints.
type Handler struct {
	svc   *Service
	codes *verification.Service
	repo  identity.Repository
}

func NewHandler(svc *Service, codes *verification.Service, repo identity.Repository) *Handler {
	return &Handler{svc: svc, codes: codes, repo: repo}
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

type loginRequest struct {
	Phone            string  `json:"phone"`
	VerificationCode string  `json:"verification_code"`
	Nickname         *string `json:"nickname"`
}

type registrationRequest struct {
	Nickname *string `json:"nickname"`
}

type identityView struct {
	ID        string  `json:"id"`
	Phone     string  `json:"phone"`
	Nickname  *string `json:"nickname"`
	Role      string  `json:"role"`
	Active    bool    `json:"active"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type loginResponse struct {
	Identity  identityView `json:"identity"`
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
}

func viewOf(s verification.Snapshot) identityView {
	return identityView{
		ID:        s.ID,
		Phone:     s.Phone,
		Nickname:  s.Nickname,
		Role:      string(s.Role),
		Active:    s.Active,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func validPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

func normalizeNickname(nickname *string) (*string, error) {
	if nickname == nil {
		return nil, nil
	}
	nick := strings.TrimSpace(*nickname)
	if utf8.RuneCountInString(nick) > maxNicknameLength {
		return nil, fiber.NewError(http.StatusBadRequest, "nickname too long")
	}
	return &nick, nil
}

// SendCode issues a verification code.
func (h *Handler) SendCode(c *fiber.Ctx) error {
	var req sendCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if !validPhone(req.Phone) {
		return fiber.NewError(http.StatusBadRequest, "invalid phone number")
	}

	if err := h.svc.SendCode(c.UserContext(), req.Phone); err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "verification code sent", true)
}

// Login verifies the code and returns a session token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.VerificationCode = strings.TrimSpace(req.VerificationCode)
	if !validPhone(req.Phone) {
		return fiber.NewError(http.StatusBadRequest, "invalid phone number")
	}
	if !codePattern.MatchString(req.VerificationCode) {
		return fiber.NewError(http.StatusBadRequest, "invalid verification code format")
	}
	nickname, err := normalizeNickname(req.Nickname)
	if err != nil {
		return err
	}

	session, err := h.svc.VerifyAndLogin(c.UserContext(), req.Phone, req.VerificationCode, nickname)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "login succeeded", loginResponse{
		Identity:  viewOf(session.Identity),
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Me returns the caller's identity.
func (h *Handler) Me(c *fiber.Ctx) error {
	p, ok := PrincipalFrom(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	snap, err := h.codes.Current(c.UserContext(), p.ID)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "ok", viewOf(snap))
}

// CompleteRegistration finishes registration for the caller.
func (h *Handler) CompleteRegistration(c *fiber.Ctx) error {
	p, ok := PrincipalFrom(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	var req registrationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	nickname, err := normalizeNickname(req.Nickname)
	if err != nil {
		return err
	}

	snap, err := h.codes.CompleteRegistration(c.UserContext(), p.ID, nickname)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "registration complete", viewOf(snap))
}

// Deactivate soft-deletes an identity.
func (h *Handler) Deactivate(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return fiber.NewError(http.StatusBadRequest, "identity id is required")
	}
	if p, ok := PrincipalFrom(c); ok && p.ID == id {
		return fiber.NewError(http.StatusBadRequest, "cannot deactivate yourself")
	}
	if err := h.repo.Deactivate(c.UserContext(), id); err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "identity deactivated", fiber.Map{"id": id, "active": false})
}
