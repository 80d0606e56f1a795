package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/upb/pulse/models"
	"github.com/upb/pulse/services"
	"github.com/upb/pulse/services/providers"
	"go.uber.org/zap/zaptest"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := NewAdapter(providers.ProviderConfig{
		ClientID:   "client-id",
		Secret:     "secret",
		BaseURL:    server.URL,
		RetryDelay: time.Millisecond,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	adapter.now = func() time.Time { return time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC) }
	return adapter
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if body["client_id"] != "client-id" || body["secret"] != "secret" {
		t.Errorf("request auth = %v/%v, want client-id/secret", body["client_id"], body["secret"])
	}
	return body
}

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		name        string
		cfg         providers.ProviderConfig
		wantBaseURL string
		expectError bool
	}{
		{
			name:        "defaults to sandbox",
			cfg:         providers.ProviderConfig{ClientID: "id", Secret: "s"},
			wantBaseURL: "https://sandbox.plaid.com",
		},
		{
			name:        "production environment",
			cfg:         providers.ProviderConfig{ClientID: "id", Secret: "s", Environment: "Production"},
			wantBaseURL: "https://production.plaid.com",
		},
		{
			name:        "base url overrides unknown environment",
			cfg:         providers.ProviderConfig{ClientID: "id", Secret: "s", Environment: "local", BaseURL: "http://localhost:9999/"},
			wantBaseURL: "http://localhost:9999",
		},
		{
			name:        "unknown environment",
			cfg:         providers.ProviderConfig{ClientID: "id", Secret: "s", Environment: "staging"},
			expectError: true,
		},
		{
			name:        "missing secret",
			cfg:         providers.ProviderConfig{ClientID: "id"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewAdapter(tt.cfg, zaptest.NewLogger(t))
			if tt.expectError {
				if !services.IsCode(err, services.ErrCodeConfiguration) {
					t.Errorf("error = %v, want CONFIGURATION_ERROR", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if adapter.Provider() != ProviderID {
				t.Errorf("Provider() = %s, want %s", adapter.Provider(), ProviderID)
			}
			if got := adapter.HTTP().BaseURL(); got != tt.wantBaseURL {
				t.Errorf("BaseURL = %s, want %s", got, tt.wantBaseURL)
			}
		})
	}
}

func TestAdapter_Capabilities(t *testing.T) {
	adapter, _ := NewAdapter(providers.ProviderConfig{ClientID: "id", Secret: "s"}, nil)
	if !adapter.Capabilities().Has(providers.CapExchangePublicToken) {
		t.Error("expected exchange public token capability")
	}
	if adapter.Capabilities().Has(providers.CapStoreAccessToken) {
		t.Error("unexpected store access token capability")
	}
}

func TestAdapter_Connect(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/link/token/create" {
			t.Errorf("path = %s, want /link/token/create", r.URL.Path)
		}
		body := decodeBody(t, r)
		user, _ := body["user"].(map[string]interface{})
		if user["client_user_id"] != "user-1" {
			t.Errorf("client_user_id = %v, want user-1", user["client_user_id"])
		}
		if _, ok := body["access_token"]; ok {
			t.Error("new link must not carry an access token")
		}
		if products, _ := body["products"].([]interface{}); len(products) != 1 || products[0] != "transactions" {
			t.Errorf("products = %v, want [transactions]", body["products"])
		}
		w.Write([]byte(`{"link_token":"link-sandbox-123","expiration":"2024-04-01T00:00:00Z","request_id":"req"}`))
	})

	ctx, collector := providers.WithLinkTokenCollector(context.Background())
	if err := adapter.Connect(ctx, providers.ConnectParams{UserID: "user-1"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	tokens := collector.Tokens()
	if len(tokens) != 1 {
		t.Fatalf("collected %d link tokens, want 1", len(tokens))
	}
	if tokens[0].Token != "link-sandbox-123" || tokens[0].Provider != ProviderID || tokens[0].UserID != "user-1" {
		t.Errorf("link token = %+v", tokens[0])
	}
	if tokens[0].ExpiresAt == nil || !tokens[0].ExpiresAt.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ExpiresAt = %v", tokens[0].ExpiresAt)
	}
	if adapter.HasSession(ctx, "user-1") {
		t.Error("connect must not create a session before the public token exchange")
	}
}

func TestAdapter_ConnectUpdateMode(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["access_token"] != "access-1" {
			t.Errorf("access_token = %v, want access-1", body["access_token"])
		}
		if _, ok := body["products"]; ok {
			t.Error("update mode must not send products")
		}
		w.Write([]byte(`{"link_token":"link-update"}`))
	})

	ctx := context.Background()
	adapter.Sessions().Set(ctx, "user-1", "access-1")

	if err := adapter.Connect(ctx, providers.ConnectParams{UserID: "user-1"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

func TestAdapter_ConnectProviderError(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_type":"INVALID_REQUEST","error_code":"INVALID_FIELD","error_message":"client_name must be set"}`))
	})

	err := adapter.Connect(context.Background(), providers.ConnectParams{UserID: "user-1"})
	pulseErr, ok := services.AsPulseError(err)
	if !ok {
		t.Fatalf("expected PulseError, got %v", err)
	}
	if pulseErr.Code != services.ErrCodeProviderConnectionFailed {
		t.Errorf("Code = %s, want PROVIDER_CONNECTION_FAILED", pulseErr.Code)
	}
	if pulseErr.Provider != ProviderID {
		t.Errorf("Provider = %s, want plaid", pulseErr.Provider)
	}

	var apiErr *providers.APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("expected wrapped APIError")
	}
	if apiErr.Code != "INVALID_FIELD" || apiErr.Message != "client_name must be set" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestAdapter_ExchangePublicToken(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/item/public_token/exchange" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body := decodeBody(t, r)
		if body["public_token"] != "public-sandbox-1" {
			t.Errorf("public_token = %v", body["public_token"])
		}
		w.Write([]byte(`{"access_token":"access-sandbox-1","item_id":"item-1"}`))
	})

	ctx := context.Background()
	if err := adapter.ExchangePublicToken(ctx, "user-1", "public-sandbox-1"); err != nil {
		t.Fatalf("ExchangePublicToken() error = %v", err)
	}
	token, err := adapter.Sessions().Get(ctx, "user-1")
	if err != nil || token != "access-sandbox-1" {
		t.Errorf("stored token = %q, %v", token, err)
	}
}

func TestAdapter_ExchangePublicTokenMissingAccessToken(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"item_id":"item-1"}`))
	})

	err := adapter.ExchangePublicToken(context.Background(), "user-1", "public")
	if !services.IsCode(err, services.ErrCodeProviderConnectionFailed) {
		t.Errorf("error = %v, want PROVIDER_CONNECTION_FAILED", err)
	}
	if adapter.HasSession(context.Background(), "user-1") {
		t.Error("session stored from an invalid response")
	}
}

func TestAdapter_GetAccounts(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/get" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body := decodeBody(t, r)
		if body["access_token"] != "access-1" {
			t.Errorf("access_token = %v", body["access_token"])
		}
		w.Write([]byte(`{"accounts":[
			{"account_id":"chk","name":"Checking","mask":"0000","type":"depository","subtype":"checking",
			 "balances":{"available":100,"current":110.5,"iso_currency_code":"usd"}},
			{"account_id":"sav","name":"Savings","type":"depository","subtype":"savings",
			 "balances":{"available":200,"current":null,"iso_currency_code":"USD"}},
			{"account_id":"cc","name":"Card","type":"credit","subtype":"credit card",
			 "balances":{"available":null,"current":410,"iso_currency_code":null,"unofficial_currency_code":"CAD"}},
			{"account_id":"other","name":"Odd","type":"payroll","subtype":null,"balances":{}}
		]}`))
	})

	ctx := context.Background()
	adapter.Sessions().Set(ctx, "user-1", "access-1")

	accounts, err := adapter.GetAccounts(ctx, providers.AccountsParams{UserID: "user-1"})
	if err != nil {
		t.Fatalf("GetAccounts() error = %v", err)
	}
	if len(accounts) != 4 {
		t.Fatalf("got %d accounts, want 4", len(accounts))
	}

	tests := []struct {
		id       string
		kind     models.AccountType
		balance  string
		currency string
	}{
		{"chk", models.AccountTypeChecking, "110.5", "USD"},
		{"sav", models.AccountTypeSavings, "200", "USD"},
		{"cc", models.AccountTypeCredit, "410", "CAD"},
		{"other", models.AccountTypeOther, "0", ""},
	}
	for i, tt := range tests {
		acc := accounts[i]
		if acc.ID != tt.id || acc.Type != tt.kind || acc.Balance.String() != tt.balance || acc.Currency != tt.currency {
			t.Errorf("account %d = %s/%s/%s/%s, want %s/%s/%s/%s", i,
				acc.ID, acc.Type, acc.Balance, acc.Currency, tt.id, tt.kind, tt.balance, tt.currency)
		}
		if acc.Metadata["provider"] != ProviderID {
			t.Errorf("account %s metadata provider = %v", acc.ID, acc.Metadata["provider"])
		}
	}
	if accounts[0].Metadata["mask"] != "0000" {
		t.Errorf("mask = %v", accounts[0].Metadata["mask"])
	}
}

func TestAdapter_GetAccountsNotConnected(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a session")
	})

	_, err := adapter.GetAccounts(context.Background(), providers.AccountsParams{UserID: "ghost"})
	pulseErr, ok := services.AsPulseError(err)
	if !ok || pulseErr.Code != services.ErrCodeAccountFetchFailed || pulseErr.UserID != "ghost" {
		t.Errorf("error = %v, want ACCOUNT_FETCH_FAILED for ghost", err)
	}
}

func TestAdapter_GetTransactions(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/get" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body := decodeBody(t, r)
		if body["start_date"] != "2024-03-01" || body["end_date"] != "2024-03-31" {
			t.Errorf("dates = %v..%v, want 2024-03-01..2024-03-31", body["start_date"], body["end_date"])
		}
		opts, _ := body["options"].(map[string]interface{})
		if opts["count"] != float64(100) || opts["offset"] != float64(0) {
			t.Errorf("options = %v", opts)
		}
		w.Write([]byte(`{"transactions":[
			{"transaction_id":"t1","account_id":"chk","amount":12.34,"iso_currency_code":"USD","name":"STARBUCKS 123","merchant_name":"Starbucks","date":"2024-03-10","pending":false,
			 "category":["Food and Drink","Coffee"],"personal_finance_category":{"primary":"FOOD_AND_DRINK"},"payment_channel":"in store"},
			{"transaction_id":"t2","account_id":"chk","amount":-500,"iso_currency_code":"USD","name":"Payroll","date":"2024-03-15","pending":false,"category":["Transfer","Payroll"]},
			{"transaction_id":"t3","account_id":"chk","amount":4,"iso_currency_code":"USD","name":"Pending thing","date":"2024-03-30","pending":true},
			{"transaction_id":"t4","account_id":"chk","amount":7,"iso_currency_code":"USD","name":"Undated","date":"","pending":false}
		],"total_transactions":4}`))
	})

	ctx := context.Background()
	adapter.Sessions().Set(ctx, "user-1", "access-1")

	txs, err := adapter.GetTransactions(ctx, providers.TransactionsParams{AccountID: "chk", UserID: "user-1"})
	if err != nil {
		t.Fatalf("GetTransactions() error = %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2 (pending and undated dropped)", len(txs))
	}

	coffee := txs[0]
	if coffee.Type != models.TransactionTypeDebit || coffee.Amount.String() != "12.34" {
		t.Errorf("coffee = %s %s, want DEBIT 12.34", coffee.Type, coffee.Amount)
	}
	if coffee.Description != "Starbucks" || coffee.Category != "FOOD_AND_DRINK" {
		t.Errorf("coffee description/category = %s/%s", coffee.Description, coffee.Category)
	}
	if !coffee.Date.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("coffee date = %v", coffee.Date)
	}

	payroll := txs[1]
	if payroll.Type != models.TransactionTypeCredit || payroll.Amount.String() != "500" {
		t.Errorf("payroll = %s %s, want CREDIT 500", payroll.Type, payroll.Amount)
	}
	if payroll.Category != "Transfer > Payroll" {
		t.Errorf("payroll category = %s", payroll.Category)
	}
}

func TestAdapter_GetTransactionsOptions(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["start_date"] != "2024-01-01" || body["end_date"] != "2024-01-31" {
			t.Errorf("dates = %v..%v", body["start_date"], body["end_date"])
		}
		opts, _ := body["options"].(map[string]interface{})
		if opts["count"] != float64(500) || opts["offset"] != float64(20) {
			t.Errorf("options = %v, want count 500 offset 20", opts)
		}
		w.Write([]byte(`{"transactions":[]}`))
	})

	ctx := context.Background()
	adapter.Sessions().Set(ctx, "user-1", "access-1")

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	limit, offset := 1000, 20
	txs, err := adapter.GetTransactions(ctx, providers.TransactionsParams{
		AccountID: "chk",
		UserID:    "user-1",
		Options:   &models.TransactionHistoryOptions{Limit: &limit, Offset: &offset, StartDate: &start, EndDate: &end},
	})
	if err != nil {
		t.Fatalf("GetTransactions() error = %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("got %d transactions, want 0", len(txs))
	}
}

func TestAdapter_Disconnect(t *testing.T) {
	var removed []string
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		token, _ := body["access_token"].(string)
		removed = append(removed, token)
		if token == "access-bad" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error_code":"ITEM_NOT_FOUND","error_message":"item gone"}`))
			return
		}
		w.Write([]byte(`{"request_id":"req"}`))
	})

	ctx := context.Background()
	adapter.Sessions().Set(ctx, "user-1", "access-1")
	adapter.Sessions().Set(ctx, "user-2", "access-bad")

	if err := adapter.Disconnect(ctx, providers.DisconnectParams{}); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %v, want both items", removed)
	}
	if users, _ := adapter.Sessions().List(ctx); len(users) != 0 {
		t.Errorf("sessions left after disconnect: %v", users)
	}
}

func TestAdapter_RefreshAccounts(t *testing.T) {
	var paths []string
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"link_token":"link-again"}`))
	})

	ctx := context.Background()
	adapter.Sessions().Set(ctx, "user-1", "access-1")

	if err := adapter.RefreshAccounts(ctx, providers.RefreshParams{UserID: "user-1"}); err != nil {
		t.Fatalf("RefreshAccounts() error = %v", err)
	}
	if len(paths) != 2 || paths[0] != "/item/remove" || paths[1] != "/link/token/create" {
		t.Errorf("paths = %v", paths)
	}
}

func TestMapAccountType(t *testing.T) {
	tests := []struct {
		accountType, subtype string
		want                 models.AccountType
	}{
		{"depository", "checking", models.AccountTypeChecking},
		{"depository", "money market", models.AccountTypeSavings},
		{"credit", "credit card", models.AccountTypeCredit},
		{"loan", "mortgage", models.AccountTypeLoan},
		{"investment", "401k", models.AccountTypeInvestment},
		{"investment", "crypto exchange", models.AccountTypeCrypto},
		{"other", "", models.AccountTypeOther},
	}
	for _, tt := range tests {
		if got := mapAccountType(tt.accountType, tt.subtype); got != tt.want {
			t.Errorf("mapAccountType(%s, %s) = %s, want %s", tt.accountType, tt.subtype, got, tt.want)
		}
	}
}
