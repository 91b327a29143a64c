// Package payment talks to a VNPay style redirect gateway: it builds the
// signed payment URL a customer is sent to and verifies the signed callback
// the gateway sends back.
//
// Signing is HMAC-SHA512 over the gateway-prefixed parameters sorted by key
// and query-encoded, hex encoded into vnp_SecureHash.
package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	ParamPrefix            = "vnp_"
	ParamVersion           = "vnp_Version"
	ParamCommand           = "vnp_Command"
	ParamTmnCode           = "vnp_TmnCode"
	ParamAmount            = "vnp_Amount"
	ParamCurrCode          = "vnp_CurrCode"
	ParamTxnRef            = "vnp_TxnRef"
	ParamOrderInfo         = "vnp_OrderInfo"
	ParamOrderType         = "vnp_OrderType"
	ParamLocale            = "vnp_Locale"
	ParamReturnURL         = "vnp_ReturnUrl"
	ParamIPAddr            = "vnp_IpAddr"
	ParamCreateDate        = "vnp_CreateDate"
	ParamExpireDate        = "vnp_ExpireDate"
	ParamBankCode          = "vnp_BankCode"
	ParamResponseCode      = "vnp_ResponseCode"
	ParamTransactionStatus = "vnp_TransactionStatus"
	ParamTransactionNo     = "vnp_TransactionNo"
	ParamPayDate           = "vnp_PayDate"
	ParamSecureHash        = "vnp_SecureHash"
	ParamSecureHashType    = "vnp_SecureHashType"
)

// CodeSuccess is the response code and transaction status of a captured
// payment.
const CodeSuccess = "00"

// TimeLayout is the gateway's yyyyMMddHHmmss timestamp format.
const TimeLayout = "20060102150405"

// minorUnits is the factor between whole currency units and vnp_Amount.
const minorUnits = 100

var (
	ErrMissingTxnRef = errors.New("payment: missing transaction reference")
	ErrInvalidAmount = errors.New("payment: invalid amount")
)

// Config is the merchant configuration of the gateway.
type Config struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	ReturnURL   string
	Version     string
	Locale      string
	Currency    string
	ExpireAfter time.Duration
	// Location is the time zone the gateway expects timestamps in.
	Location *time.Location
}

// Request describes one outbound payment.
type Request struct {
	TxnRef    string
	Amount    int64 // whole currency units
	OrderInfo string
	ClientIP  string
	BankCode  string
	CreatedAt time.Time
}

// Gateway builds and verifies signed gateway messages.
type Gateway struct {
	cfg Config
}

// NewGateway returns a Gateway for cfg, filling protocol defaults.
func NewGateway(cfg Config) *Gateway {
	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.Currency == "" {
		cfg.Currency = "VND"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Gateway{cfg: cfg}
}

// Fields returns the unsigned parameter set for req.
func (g *Gateway) Fields(req Request) url.Values {
	created := req.CreatedAt.In(g.cfg.Location)
	v := url.Values{}
	v.Set(ParamVersion, g.cfg.Version)
	v.Set(ParamCommand, "pay")
	v.Set(ParamTmnCode, g.cfg.TmnCode)
	v.Set(ParamAmount, strconv.FormatInt(req.Amount*minorUnits, 10))
	v.Set(ParamCurrCode, g.cfg.Currency)
	v.Set(ParamTxnRef, req.TxnRef)
	v.Set(ParamOrderInfo, req.OrderInfo)
	v.Set(ParamOrderType, "other")
	v.Set(ParamLocale, g.cfg.Locale)
	v.Set(ParamReturnURL, g.cfg.ReturnURL)
	v.Set(ParamIPAddr, req.ClientIP)
	v.Set(ParamCreateDate, created.Format(TimeLayout))
	v.Set(ParamExpireDate, created.Add(g.cfg.ExpireAfter).Format(TimeLayout))
	if req.BankCode != "" {
		v.Set(ParamBankCode, req.BankCode)
	}
	return v
}

// BuildSignedRequest returns the gateway URL the customer is redirected to.
func (g *Gateway) BuildSignedRequest(req Request) (string, error) {
	if req.TxnRef == "" {
		return "", ErrMissingTxnRef
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidAmount, req.Amount)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.ClientIP == "" {
		req.ClientIP = "127.0.0.1"
	}
	fields := g.Fields(req)
	query := Canonical(fields)
	return g.cfg.PayURL + "?" + query + "&" + ParamSecureHash + "=" + sign(query, g.cfg.HashSecret), nil
}

// Canonical returns the string that is signed: every non-empty vnp_
// parameter except the signature fields, sorted by key and query-encoded.
func Canonical(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if !strings.HasPrefix(k, ParamPrefix) || k == ParamSecureHash || k == ParamSecureHashType {
			continue
		}
		if params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// Sign returns the hex HMAC-SHA512 signature of params under secret.
func Sign(params url.Values, secret string) string {
	return sign(Canonical(params), secret)
}

func sign(canonical, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback reports whether params carry a valid signature under
// secret.  The gateway may send the hex digest in either case, but not mixed.
func VerifyCallback(params url.Values, secret string) bool {
	got := params.Get(ParamSecureHash)
	if got == "" {
		return false
	}
	want := Sign(params, secret)
	if hmac.Equal([]byte(got), []byte(want)) {
		return true
	}
	return hmac.Equal([]byte(got), []byte(strings.ToUpper(want)))
}
