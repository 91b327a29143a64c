package model

import "time"

// PaymentTransaction records one processed gateway callback for auditing.
type PaymentTransaction struct {
	ID                string     `db:"id" json:"id"`
	InvoiceID         string     `db:"invoice_id" json:"invoice_id"`
	Amount            int64      `db:"amount" json:"amount"`
	BankCode          string     `db:"bank_code" json:"bank_code"`
	GatewayTxnNo      string     `db:"gateway_txn_no" json:"gateway_txn_no"`
	ResponseCode      string     `db:"response_code" json:"response_code"`
	TransactionStatus string     `db:"transaction_status" json:"transaction_status"`
	SignatureValid    bool       `db:"signature_valid" json:"signature_valid"`
	PaidAt            *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}
