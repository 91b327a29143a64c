package payment

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Callback is a parsed gateway callback.
type Callback struct {
	TxnRef            string
	Amount            int64 // whole currency units
	ResponseCode      string
	TransactionStatus string
	BankCode          string
	GatewayTxnNo      string
	PaidAt            *time.Time
	SignatureValid    bool
}

// Success reports whether the callback confirms a captured payment.  An
// invalid signature is never a success, whatever the codes claim.
func (c Callback) Success() bool {
	return c.SignatureValid && c.ResponseCode == CodeSuccess && c.TransactionStatus == CodeSuccess
}

// ParseCallback verifies and decodes the callback query.  It returns
// ErrMissingTxnRef when the transaction reference is absent and
// ErrInvalidAmount when vnp_Amount is not a whole number of minor units; in
// the latter case the returned Callback is still populated.
func (g *Gateway) ParseCallback(params url.Values) (Callback, error) {
	cb := Callback{
		TxnRef:            strings.TrimSpace(params.Get(ParamTxnRef)),
		ResponseCode:      params.Get(ParamResponseCode),
		TransactionStatus: params.Get(ParamTransactionStatus),
		BankCode:          params.Get(ParamBankCode),
		GatewayTxnNo:      params.Get(ParamTransactionNo),
		SignatureValid:    VerifyCallback(params, g.cfg.HashSecret),
	}
	if cb.TxnRef == "" {
		return cb, ErrMissingTxnRef
	}
	if s := params.Get(ParamPayDate); s != "" {
		if t, err := time.ParseInLocation(TimeLayout, s, g.cfg.Location); err == nil {
			cb.PaidAt = &t
		}
	}
	amount, err := ParseAmount(params.Get(ParamAmount))
	if err != nil {
		return cb, err
	}
	cb.Amount = amount
	return cb, nil
}

// ParseAmount converts a vnp_Amount value back to whole currency units.
func ParseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 || n%minorUnits != 0 {
		return 0, ErrInvalidAmount
	}
	return n / minorUnits, nil
}

// IPNResponse is the JSON body the gateway expects from the IPN endpoint.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

var (
	IPNConfirmed        = IPNResponse{RspCode: "00", Message: "Confirm Success"}
	IPNOrderNotFound    = IPNResponse{RspCode: "01", Message: "Order not found"}
	IPNAlreadyConfirmed = IPNResponse{RspCode: "02", Message: "Order already confirmed"}
	IPNInvalidAmount    = IPNResponse{RspCode: "04", Message: "Invalid amount"}
	IPNInvalidChecksum  = IPNResponse{RspCode: "97", Message: "Invalid signature"}
	IPNUnknownError     = IPNResponse{RspCode: "99", Message: "Unknown error"}
)
