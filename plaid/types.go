package plaid

import "encoding/json"

// LinkToken is returned by the create-link-token endpoint
type LinkToken struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration"`
	RequestID  string `json:"request_id"`
}

// Account is a linked bank account as stored by the proxy
type Account struct {
	ID               string   `json:"id"`
	PlaidAccountID   string   `json:"plaid_account_id"`
	Name             string   `json:"name"`
	OfficialName     *string  `json:"official_name"`
	Type             string   `json:"type"`
	Subtype          *string  `json:"subtype"`
	Balance          float64  `json:"balance"`
	AvailableBalance *float64 `json:"available_balance"`
	LimitAmount      *float64 `json:"limit_amount"`
	CurrencyCode     string   `json:"currency_code"`
	Mask             *string  `json:"mask"`
	InstitutionName  string   `json:"institution_name"`
	InstitutionColor *string  `json:"institution_color"`
	InstitutionLogo  *string  `json:"institution_logo"`
}

// Transaction is a single account transaction
type Transaction struct {
	ID                 string   `json:"id"`
	PlaidTransactionID string   `json:"plaid_transaction_id"`
	AccountID          string   `json:"account_id"`
	Category           []string `json:"category"`
	Date               string   `json:"date"`
	Name               string   `json:"name"`
	Amount             float64  `json:"amount"`
	Pending            bool     `json:"pending"`
	CurrencyCode       string   `json:"currency_code"`
	PaymentChannel     string   `json:"payment_channel"`
	MerchantName       *string  `json:"merchant_name"`
}

// TransactionOptions filters a transactions query. Dates are YYYY-MM-DD.
type TransactionOptions struct {
	StartDate  string
	EndDate    string
	AccountIDs []string
	Count      int
	Offset     int
}

// SyncResult counts the changes applied by a transactions sync
type SyncResult struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// BalancePoint is one day of an account balance history
type BalancePoint struct {
	Date    string  `json:"date"`
	Balance float64 `json:"balance"`
}

// Period selects the span of a balance history
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// InvestmentOptions filters investment transactions
type InvestmentOptions struct {
	StartDate string
	EndDate   string
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type balanceHistoryResponse struct {
	History []BalancePoint `json:"history"`
}

// holdings and investment transactions are passed through untouched
type holdingsResponse struct {
	Holdings []json.RawMessage `json:"holdings"`
}

type investmentTransactionsResponse struct {
	Transactions []json.RawMessage `json:"transactions"`
}

type exchangeRequest struct {
	PublicToken string `json:"publicToken"`
}
