package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"parley-backend/internal/apperr"
	"parley-backend/internal/ratelimit"
	"parley-backend/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// maxBodyBytes limita o corpo JSON das requisições
const maxBodyBytes = 64 << 10

var usernameRegex = regexp.MustCompile(`^[a-z0-9_-]{3,20}$`)

// Services agrupa os serviços usados pelos handlers
type Services struct {
	Auth     *service.AuthService
	Users    *service.UserService
	Channels *service.ChannelService
	Members  *service.MemberService
	Bans     *service.BanService
	Messages *service.MessageService
	Calls    *service.CallService
	Stream   *service.StreamService
}

// Info é devolvida em GET /v1/
type Info struct {
	Version                string `json:"version"`
	MaxChannels            int    `json:"maxChannels"`
	CallsEnabled           bool   `json:"callsEnabled"`
	DisableChannelCreation bool   `json:"disableChannelCreation"`
}

// Handler gerencia as dependências para os handlers HTTP
type Handler struct {
	svc            Services
	limiter        ratelimit.Limiter
	validate       *validator.Validate
	info           Info
	corsOrigins    []string
	trustedProxies []netip.Prefix
	logger         *slog.Logger
}

// NewHandler cria uma nova instância do Handler. trustedProxies vazio faz
// a origem ser sempre o endereço do socket.
func NewHandler(svc Services, limiter ratelimit.Limiter, info Info, corsOrigins []string, trustedProxies []netip.Prefix, logger *slog.Logger) *Handler {
	return &Handler{
		svc:            svc,
		limiter:        limiter,
		validate:       newValidator(),
		info:           info,
		corsOrigins:    corsOrigins,
		trustedProxies: trustedProxies,
		logger:         logger,
	}
}

// newValidator reporta erros com o nome JSON do campo e conhece a regra
// de formato de username
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})
	return v
}

// === Funções Auxiliares de Resposta ===

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]any{
		"error":   message,
		"success": false,
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("erro ao serializar JSON", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error","success":false}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondOK acrescenta "success": true aos campos informados
func (h *Handler) respondOK(w http.ResponseWriter, code int, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["success"] = true
	h.respondWithJSON(w, code, fields)
}

// respondWithAppError converte o erro do serviço na resposta HTTP. A causa
// de erros internos só vai para o log.
func (h *Handler) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal(err)
	}
	if appErr.Kind == apperr.KindInternal {
		h.logger.Error("erro interno",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	h.respondWithError(w, appErr.Kind.Status(), appErr.Message)
}

// decode lê o corpo JSON em dst e valida as tags. Em caso de falha a
// resposta já foi escrita.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return false
	}
	return h.check(w, dst)
}

func (h *Handler) check(w http.ResponseWriter, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s parameter, error: %s", fe.Field(), fe.Tag()))
		return false
	}
	h.respondWithError(w, http.StatusBadRequest, "Invalid parameters")
	return false
}

// uuidParam lê um parâmetro de rota com formato de UUID
func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name, notFound string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.respondWithError(w, http.StatusNotFound, notFound)
		return uuid.Nil, false
	}
	return id, true
}

// pagination lê page (a partir de 1) e page_size da query
func (h *Handler) pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	page, size := 1, service.DefaultPageSize
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondWithError(w, http.StatusBadRequest, "Invalid page parameter")
			return 0, 0, false
		}
		page = n
	}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > service.MaxPageSize {
			h.respondWithError(w, http.StatusBadRequest, "Invalid page_size parameter")
			return 0, 0, false
		}
		size = n
	}
	return size, (page - 1) * size, true
}

// handleInfo (GET /v1/)
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	h.respondOK(w, http.StatusOK, map[string]any{
		"running":                "Parley",
		"version":                h.info.Version,
		"maxChannels":            h.info.MaxChannels,
		"callsEnabled":           h.info.CallsEnabled,
		"disableChannelCreation": h.info.DisableChannelCreation,
	})
}
