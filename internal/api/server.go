package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"CreatorServices/internal/funds"
	"CreatorServices/internal/observability/metrics"
	"CreatorServices/internal/project"
	"CreatorServices/internal/reputation"
	"CreatorServices/internal/storage/mysql"
	"CreatorServices/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Agreements 是项目协调器对外暴露的能力。
type Agreements interface {
	CreateAgreement(ctx context.Context, req project.CreateRequest) (project.Receipt, error)
	RespondToProposal(ctx context.Context, caller common.Address, id uint64, accept bool) (project.Receipt, error)
	MarkCompleted(ctx context.Context, caller common.Address, id uint64) (project.Receipt, error)
	GetAgreement(ctx context.Context, id uint64) (project.Agreement, error)
	ListAgreements(ctx context.Context, account common.Address, role project.Role) (project.Buckets, error)
	Refresh(ctx context.Context, account common.Address, role project.Role) (project.Buckets, error)
}

// Ratings 是评分协调器对外暴露的能力。
type Ratings interface {
	IsEligibleToRate(ctx context.Context, rater, rated common.Address) (bool, error)
	SubmitRating(ctx context.Context, rater, rated common.Address, score int) (reputation.Receipt, error)
	GetAggregate(ctx context.Context, provider common.Address) (reputation.Aggregate, error)
}

// FundChecker 执行余额检查。
type FundChecker interface {
	HasSufficientFunds(ctx context.Context, account common.Address, amount decimal.Decimal) (funds.Check, error)
}

// Session 描述当前连接的钱包账户与网络。
type Session interface {
	Connect(account common.Address)
	Disconnect()
	Account() (common.Address, bool)
	RequireAccount() (common.Address, error)
	Network() string
	SwitchNetwork(name string) error
	Generation() uint64
}

// Deps 汇总 API 依赖的服务。Journal 可以为空。
type Deps struct {
	Agreements Agreements
	Ratings    Ratings
	Funds      FundChecker
	Session    Session
	Journal    mysql.Journal
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr string
	deps Deps
	mux  *http.ServeMux
}

var _ Session = (*wallet.Session)(nil)

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Deps) *Server {
	s := &Server{addr: addr, deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("GET /healthz", "healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.handle("GET /api/v1/session", "session", s.handleGetSession)
	s.handle("POST /api/v1/session", "session", s.handleConnect)
	s.handle("DELETE /api/v1/session", "session", s.handleDisconnect)
	s.handle("POST /api/v1/session/network", "session_network", s.handleSwitchNetwork)

	s.handle("GET /api/v1/agreements", "agreements", s.handleListAgreements)
	s.handle("POST /api/v1/agreements", "agreements", s.handleCreateAgreement)
	s.handle("POST /api/v1/agreements/refresh", "agreements_refresh", s.handleRefresh)
	s.handle("GET /api/v1/agreements/{id}", "agreement", s.handleGetAgreement)
	s.handle("POST /api/v1/agreements/{id}/respond", "agreement_respond", s.handleRespond)
	s.handle("POST /api/v1/agreements/{id}/complete", "agreement_complete", s.handleComplete)

	s.handle("GET /api/v1/dashboard", "dashboard", s.handleDashboard)

	s.handle("POST /api/v1/ratings", "ratings", s.handleSubmitRating)
	s.handle("GET /api/v1/ratings/{provider}", "rating", s.handleAggregate)
	s.handle("GET /api/v1/ratings/{provider}/eligibility", "rating_eligibility", s.handleEligibility)

	s.handle("GET /api/v1/funds/check", "funds_check", s.handleFundCheck)
	s.handle("GET /api/v1/journal", "journal", s.handleJournal)
}

func (s *Server) handle(pattern, name string, fn http.HandlerFunc) {
	s.mux.Handle(pattern, instrument(name, fn))
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
