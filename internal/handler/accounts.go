package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/servicemarket/internal/model"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию новой учётной записи.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	a, err := h.service.Register(r.Context(), req.Username, req.Password, model.Role(req.Role))
	if err != nil {
		h.handleError(w, err, "register", zap.String("username", req.Username))
		return
	}

	h.respondWithToken(w, a)
}

// Login выполняет аутентификацию и выдаёт токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	a, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.handleError(w, err, "login", zap.String("username", req.Username))
		return
	}

	h.respondWithToken(w, a)
}

func (h *Handler) respondWithToken(w http.ResponseWriter, a *model.Account) {
	token, err := h.authMiddleware.IssueToken(model.Identity{AccountID: a.ID, Role: a.Role})
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err), zap.Int64("accountID", a.ID))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.authMiddleware.SetAuthCookie(w, token)
	w.Header().Set("Authorization", "Bearer "+token)
	writeJSON(w, http.StatusOK, authResponse{Token: token, Account: newAccountResponse(*a)})
}

// Me возвращает учётную запись текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	a, err := h.service.Account(r.Context(), actor)
	if err != nil {
		h.handleError(w, err, "get account", zap.Int64("accountID", actor.AccountID))
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(*a))
}

// ListAccounts возвращает все учётные записи.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	h.listAccounts(w, r, nil)
}

// ListRecipients возвращает учётные записи получателей.
func (h *Handler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	role := model.RoleRecipient
	h.listAccounts(w, r, &role)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request, role *model.Role) {
	accounts, err := h.service.ListAccounts(r.Context(), role)
	if err != nil {
		h.handleError(w, err, "list accounts")
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, newAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListServices возвращает каталог услуг.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.ListServices(r.Context())
	if err != nil {
		h.handleError(w, err, "list services")
		return
	}

	resp := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		resp = append(resp, serviceResponse{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Price:       s.Price,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ledger возвращает журнал движения бюджета текущего пользователя.
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	entries, err := h.service.LedgerEntries(r.Context(), actor)
	if err != nil {
		h.handleError(w, err, "list ledger", zap.Int64("accountID", actor.AccountID))
		return
	}

	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ledgerEntryResponse{
			ID:        e.ID.String(),
			OrderID:   e.OrderID,
			Kind:      string(e.Kind),
			Amount:    e.Amount,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
