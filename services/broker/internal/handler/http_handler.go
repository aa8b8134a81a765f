package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kyungseok/federated-broker-go/services/broker/internal/domain"
)

// OrderCounter 상태별 활성 주문 수 제공자
type OrderCounter interface {
	Counts() map[domain.OrderState]int
	Len() int
}

// HTTPHandler 운영용 HTTP 핸들러
type HTTPHandler struct {
	orders      OrderCounter
	gatherer    prometheus.Gatherer
	localMember string
	logger      *zap.Logger
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(orders OrderCounter, gatherer prometheus.Gatherer, localMember string, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		orders:      orders,
		gatherer:    gatherer,
		localMember: localMember,
		logger:      logger,
	}
}

// StatusResponse 상태 응답
type StatusResponse struct {
	Member       string         `json:"member"`
	ActiveOrders int            `json:"activeOrders"`
	Buckets      map[string]int `json:"buckets"`
}

// ErrorResponse 에러 응답
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Router 라우터 생성
func (h *HTTPHandler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/health", h.HealthCheck)
	r.Get("/status", h.Status)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.respondError(w, http.StatusNotFound, "not found", "")
	})
	return r
}

// HealthCheck 헬스 체크 API
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Status 버킷별 주문 수
func (h *HTTPHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts := h.orders.Counts()
	buckets := make(map[string]int, len(counts))
	for state, n := range counts {
		buckets[state.String()] = n
	}

	h.respondJSON(w, http.StatusOK, StatusResponse{
		Member:       h.localMember,
		ActiveOrders: h.orders.Len(),
		Buckets:      buckets,
	})
}

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, status int, message string, code string) {
	h.respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
