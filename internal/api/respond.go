package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	xerrors "CreatorServices/internal/errors"
	"CreatorServices/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// errorBody 是所有错误响应的统一格式。
type errorBody struct {
	Code      xerrors.Code      `json:"code"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

var statusByCode = map[xerrors.Code]int{
	xerrors.CodeInvalidArgument:         http.StatusBadRequest,
	xerrors.CodeInvalidScore:            http.StatusBadRequest,
	xerrors.CodeNotFound:                http.StatusNotFound,
	xerrors.CodeNotAuthorized:           http.StatusForbidden,
	xerrors.CodeNotEligible:             http.StatusForbidden,
	xerrors.CodeInvalidTransition:       http.StatusConflict,
	xerrors.CodeInsufficientFunds:       http.StatusPaymentRequired,
	xerrors.CodeUnsupportedNetwork:      http.StatusUnprocessableEntity,
	xerrors.CodeBalanceUnavailable:      http.StatusBadGateway,
	xerrors.CodeLedgerReadFailed:        http.StatusBadGateway,
	xerrors.CodeLedgerWriteFailed:       http.StatusBadGateway,
	xerrors.CodeConfirmationUnparseable: http.StatusBadGateway,
	xerrors.CodeTimeout:                 http.StatusGatewayTimeout,
	xerrors.CodeInitializationFailure:   http.StatusServiceUnavailable,
}

// StatusFor 将错误码映射为 HTTP 状态码。
func StatusFor(err error) int {
	if status, ok := statusByCode[xerrors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: xerrors.CodeOf(err), Message: err.Error(), Retryable: xerrors.RetryableError(err)}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		body.Metadata = e.Metadata()
	}
	switch xerrors.SeverityOf(err) {
	case xerrors.SeverityCritical:
		logger.Named("api").Error("request failed", slog.String("code", string(body.Code)), slog.Any("error", err))
	case xerrors.SeverityWarning:
		logger.Named("api").Warn("request failed", slog.String("code", string(body.Code)), slog.Any("error", err))
	}
	writeJSON(w, StatusFor(err), body)
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, xerrors.New(xerrors.CodeInvalidArgument, message))
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func parseAddress(raw, field string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, field+" 不是有效地址",
			xerrors.WithMetadata("field", field))
	}
	return common.HexToAddress(raw), nil
}

func parseID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "合约编号无效")
	}
	return id, nil
}
