// Package plaid is a client for the serverless Plaid proxy endpoints. Every
// call is sent through a retrying HTTP client; failures are logged and
// returned to the caller unchanged.
package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/finboard/proxy-common/apperrors"
	"github.com/finboard/proxy-common/batch"
	"github.com/finboard/proxy-common/retry"
)

// Executor sends a request with retries and returns the last attempt's
// response body. *httpclient.HTTPClientWithRetries implements it.
type Executor interface {
	ExecuteRequest(req *http.Request) (*http.Response, []byte, time.Duration, error)
}

const (
	defaultChunkSize = 50
	// keeps the accountIds query parameter well below common URL limits
	maxAccountIDsLength = 1500
)

// Service calls the Plaid proxy
type Service struct {
	client  Executor
	baseURL string
	logger  retry.Logger
	limits  batch.Limits
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger for failed calls
func WithLogger(logger retry.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChunkSize sets how many account ids go into one transactions request
func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limits.MaxItems = n
		}
	}
}

// WithChunkDelay sets the pause between chunked transactions requests
func WithChunkDelay(d time.Duration) Option {
	return func(s *Service) {
		s.limits.Delay = d
	}
}

// NewService creates a Service for the proxy mounted at baseURL
// (for example https://app.example.com/api/plaid).
func NewService(client Executor, baseURL string, opts ...Option) *Service {
	s := &Service{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  retry.NoopLogger{},
		limits: batch.Limits{
			MaxItems:        defaultChunkSize,
			MaxJoinedLength: maxAccountIDsLength,
			Separator:       ",",
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateLinkToken requests a Link token for the Plaid Link flow
func (s *Service) CreateLinkToken(ctx context.Context) (string, error) {
	var token LinkToken
	if err := s.call(ctx, http.MethodPost, "/create-link-token", nil, nil, &token); err != nil {
		return "", s.fail("creating link token", err)
	}
	return token.LinkToken, nil
}

// ExchangePublicToken trades a Link public token for stored access
func (s *Service) ExchangePublicToken(ctx context.Context, publicToken string) error {
	if publicToken == "" {
		return s.fail("exchanging public token", apperrors.NewValidationError("public token is required"))
	}
	body := exchangeRequest{PublicToken: publicToken}
	if err := s.call(ctx, http.MethodPost, "/exchange-public-token", nil, body, nil); err != nil {
		return s.fail("exchanging public token", err)
	}
	return nil
}

// GetAccounts lists the linked accounts
func (s *Service) GetAccounts(ctx context.Context) ([]Account, error) {
	var resp accountsResponse
	if err := s.call(ctx, http.MethodGet, "/accounts", nil, nil, &resp); err != nil {
		return nil, s.fail("getting accounts", err)
	}
	return resp.Accounts, nil
}

// GetTransactions lists transactions matching opts
func (s *Service) GetTransactions(ctx context.Context, opts TransactionOptions) ([]Transaction, error) {
	txs, err := s.transactions(ctx, opts)
	if err != nil {
		return nil, s.fail("getting transactions", err)
	}
	return txs, nil
}

// GetTransactionsForAccounts fetches transactions for many accounts, splitting
// the ids over several requests. A failing chunk aborts the fetch with a
// *batch.ChunkError wrapping the request error.
func (s *Service) GetTransactionsForAccounts(ctx context.Context, accountIDs []string, opts TransactionOptions) ([]Transaction, error) {
	txs, err := batch.ChunkArrayFetcher(ctx, accountIDs, s.limits, func(ctx context.Context, chunk []string) ([]Transaction, error) {
		chunkOpts := opts
		chunkOpts.AccountIDs = chunk
		return s.transactions(ctx, chunkOpts)
	})
	if err != nil {
		return nil, s.fail("getting transactions for accounts", err)
	}
	return txs, nil
}

// SyncTransactions asks the proxy to pull the latest transactions from Plaid
func (s *Service) SyncTransactions(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	if err := s.call(ctx, http.MethodPost, "/sync", nil, nil, &result); err != nil {
		return SyncResult{}, s.fail("syncing transactions", err)
	}
	return result, nil
}

// GetBalanceHistory returns the daily balances of one account
func (s *Service) GetBalanceHistory(ctx context.Context, accountID string, period Period) ([]BalancePoint, error) {
	if period == "" {
		period = PeriodMonth
	}
	switch {
	case accountID == "":
		return nil, s.fail("getting balance history", apperrors.NewValidationError("account id is required"))
	case period != PeriodWeek && period != PeriodMonth && period != PeriodYear:
		return nil, s.fail("getting balance history",
			apperrors.NewValidationError(fmt.Sprintf("unknown period %q", period)))
	}

	var resp balanceHistoryResponse
	query := url.Values{"period": {string(period)}}
	if err := s.call(ctx, http.MethodGet, "/balance-history/"+url.PathEscape(accountID), query, nil, &resp); err != nil {
		return nil, s.fail("getting balance history", err)
	}
	return resp.History, nil
}

// GetInvestmentHoldings returns the raw holdings documents
func (s *Service) GetInvestmentHoldings(ctx context.Context) ([]json.RawMessage, error) {
	var resp holdingsResponse
	if err := s.call(ctx, http.MethodGet, "/investments/holdings", nil, nil, &resp); err != nil {
		return nil, s.fail("getting investment holdings", err)
	}
	return resp.Holdings, nil
}

// GetInvestmentTransactions returns the raw investment transactions
func (s *Service) GetInvestmentTransactions(ctx context.Context, opts InvestmentOptions) ([]json.RawMessage, error) {
	query := url.Values{}
	setIfNotEmpty(query, "startDate", opts.StartDate)
	setIfNotEmpty(query, "endDate", opts.EndDate)

	var resp investmentTransactionsResponse
	if err := s.call(ctx, http.MethodGet, "/investments/transactions", query, nil, &resp); err != nil {
		return nil, s.fail("getting investment transactions", err)
	}
	return resp.Transactions, nil
}

func (s *Service) transactions(ctx context.Context, opts TransactionOptions) ([]Transaction, error) {
	query := url.Values{}
	setIfNotEmpty(query, "startDate", opts.StartDate)
	setIfNotEmpty(query, "endDate", opts.EndDate)
	if len(opts.AccountIDs) > 0 {
		query.Set("accountIds", batch.Join(opts.AccountIDs, s.limits))
	}
	if opts.Count > 0 {
		query.Set("count", strconv.Itoa(opts.Count))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	var resp transactionsResponse
	if err := s.call(ctx, http.MethodGet, "/transactions", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// call sends one logical request. in is JSON encoded as the body when not
// nil; out receives the decoded response when not nil.
func (s *Service) call(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	_, respBody, _, err := s.client.ExecuteRequest(req)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.New(apperrors.CodeAPI, "invalid response from "+path).WithDetail("cause", err.Error())
	}
	return nil
}

func (s *Service) fail(action string, err error) error {
	s.logger.Error("Plaid request failed",
		"action", action,
		"code", apperrors.Code(err),
		"error", err)
	return err
}

func setIfNotEmpty(values url.Values, key, value string) {
	if value != "" {
		values.Set(key, value)
	}
}
