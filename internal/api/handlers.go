package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"CreatorServices/internal/dashboard"
	xerrors "CreatorServices/internal/errors"
	"CreatorServices/internal/project"
	"CreatorServices/internal/reputation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type sessionView struct {
	Account    string `json:"account,omitempty"`
	Connected  bool   `json:"connected"`
	Network    string `json:"network"`
	Generation uint64 `json:"generation"`
}

func (s *Server) sessionView() sessionView {
	account, ok := s.deps.Session.Account()
	view := sessionView{Connected: ok, Network: s.deps.Session.Network(), Generation: s.deps.Session.Generation()}
	if ok {
		view.Account = account.Hex()
	}
	return view
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := parseAddress(req.Account, "account")
	if err != nil {
		writeError(w, err)
		return
	}
	s.deps.Session.Connect(account)
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.deps.Session.Disconnect()
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Network string `json:"network"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Network) == "" {
		badRequest(w, "network 不能为空")
		return
	}
	if err := s.deps.Session.SwitchNetwork(strings.TrimSpace(req.Network)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

// roleAndAccount 解析 role 参数，账户默认取当前会话。
func (s *Server) roleAndAccount(r *http.Request) (project.Role, common.Address, error) {
	role := project.RoleClient
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, err := project.ParseRole(raw)
		if err != nil {
			return "", common.Address{}, err
		}
		role = parsed
	}
	if raw := r.URL.Query().Get("account"); raw != "" {
		account, err := parseAddress(raw, "account")
		return role, account, err
	}
	account, err := s.deps.Session.RequireAccount()
	return role, account, err
}

type listResponse struct {
	project.Buckets
	Warning *errorBody `json:"warning,omitempty"`
}

func newListResponse(b project.Buckets) listResponse {
	resp := listResponse{Buckets: b}
	if err := b.Partial(); err != nil {
		e, _ := xerrors.From(err)
		resp.Warning = &errorBody{Code: e.Code(), Message: e.Message(), Metadata: e.Metadata()}
	}
	return resp
}

func (s *Server) handleListAgreements(w http.ResponseWriter, r *http.Request) {
	role, account, err := s.roleAndAccount(r)
	if err != nil {
		writeError(w, err)
		return
	}
	buckets, err := s.deps.Agreements.ListAgreements(r.Context(), account, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(buckets))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	role, account, err := s.roleAndAccount(r)
	if err != nil {
		writeError(w, err)
		return
	}
	buckets, err := s.deps.Agreements.Refresh(r.Context(), account, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(buckets))
}

type createAgreementRequest struct {
	Provider    string     `json:"provider"`
	Amount      string     `json:"amount"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Deadline    *time.Time `json:"deadline"`
}

func (s *Server) handleCreateAgreement(w http.ResponseWriter, r *http.Request) {
	client, err := s.deps.Session.RequireAccount()
	if err != nil {
		writeError(w, err)
		return
	}
	var req createAgreementRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	providerAddr, err := parseAddress(req.Provider, "provider")
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		badRequest(w, "amount 不是有效的金额")
		return
	}
	receipt, err := s.deps.Agreements.CreateAgreement(r.Context(), project.CreateRequest{
		Client:      client,
		Provider:    providerAddr,
		Amount:      amount,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Deadline:    req.Deadline,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	agreement, err := s.deps.Agreements.GetAgreement(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	caller, err := s.deps.Session.RequireAccount()
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Accept *bool `json:"accept"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Accept == nil {
		badRequest(w, "accept 必须填写")
		return
	}
	receipt, err := s.deps.Agreements.RespondToProposal(r.Context(), caller, id, *req.Accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	caller, err := s.deps.Session.RequireAccount()
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.deps.Agreements.MarkCompleted(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	role, account, err := s.roleAndAccount(r)
	if err != nil {
		writeError(w, err)
		return
	}
	buckets, err := s.deps.Agreements.ListAgreements(r.Context(), account, role)
	if err != nil {
		writeError(w, err)
		return
	}
	var agg *reputation.Aggregate
	if role == project.RoleProvider && s.deps.Ratings != nil {
		got, err := s.deps.Ratings.GetAggregate(r.Context(), account)
		if err != nil {
			writeError(w, err)
			return
		}
		agg = &got
	}
	writeJSON(w, http.StatusOK, dashboard.Build(role, buckets, agg, ""))
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	rater, err := s.deps.Session.RequireAccount()
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Rated string `json:"rated"`
		Score *int   `json:"score"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rated, err := parseAddress(req.Rated, "rated")
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Score == nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidScore, "score 必须填写"))
		return
	}
	receipt, err := s.deps.Ratings.SubmitRating(r.Context(), rater, rated, *req.Score)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	provider, err := parseAddress(r.PathValue("provider"), "provider")
	if err != nil {
		writeError(w, err)
		return
	}
	agg, err := s.deps.Ratings.GetAggregate(r.Context(), provider)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		reputation.Aggregate
		Summary dashboard.RatingSummary `json:"summary"`
	}{agg, dashboard.Summarize(agg)})
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	rated, err := parseAddress(r.PathValue("provider"), "provider")
	if err != nil {
		writeError(w, err)
		return
	}
	var rater common.Address
	if raw := r.URL.Query().Get("rater"); raw != "" {
		rater, err = parseAddress(raw, "rater")
	} else {
		rater, err = s.deps.Session.RequireAccount()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	ok, err := s.deps.Ratings.IsEligibleToRate(r.Context(), rater, rated)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rater":    rater.Hex(),
		"rated":    rated.Hex(),
		"eligible": ok,
	})
}

func (s *Server) handleFundCheck(w http.ResponseWriter, r *http.Request) {
	account, err := s.deps.Session.RequireAccount()
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("amount")))
	if err != nil {
		badRequest(w, "amount 不是有效的金额")
		return
	}
	check, err := s.deps.Funds.HasSufficientFunds(r.Context(), account, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.deps.Journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
