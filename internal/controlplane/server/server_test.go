package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/execution"
	"github.com/betbot/edgebot/internal/ledger"
	"github.com/betbot/edgebot/internal/risk"
	"github.com/betbot/edgebot/internal/signal"
)

func newTestServer(t *testing.T) (*Server, *risk.CircuitBreaker) {
	t.Helper()
	l := ledger.New(ledger.Config{InitialBalance: decimal.NewFromInt(1000)})
	breaker := risk.NewCircuitBreaker(5)
	eng := execution.New(execution.Config{}, execution.Deps{
		Ledger:  l,
		Gate:    risk.NewGate(risk.Config{}),
		Breaker: breaker,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Start(ctx)
	return New(l, eng, breaker), breaker
}

func TestServer_AccountSnapshot(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/account", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: got=%d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if body["balance"] != "1000" {
		t.Errorf("余额错误: got=%v", body["balance"])
	}
	if body["halted"] != false {
		t.Errorf("初始不应熔断: got=%v", body["halted"])
	}
}

func TestServer_HaltAndResume(t *testing.T) {
	s, breaker := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/halt", nil))
	if w.Code != http.StatusOK || !breaker.IsHalted() {
		t.Fatalf("halt 未生效: code=%d halted=%v", w.Code, breaker.IsHalted())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/resume", nil))
	if w.Code != http.StatusOK || breaker.IsHalted() {
		t.Fatalf("resume 未生效: code=%d halted=%v", w.Code, breaker.IsHalted())
	}
}

type fakeMarkets struct {
	market *domain.Market
}

func (f *fakeMarkets) GetActiveMarkets(context.Context) ([]*domain.Market, error) {
	return []*domain.Market{f.market}, nil
}

func (f *fakeMarkets) GetMarket(_ context.Context, id string) (*domain.Market, error) {
	if f.market != nil && f.market.ID == id {
		return f.market, nil
	}
	return nil, nil
}

func TestServer_SignalIngest(t *testing.T) {
	s, _ := newTestServer(t)

	var mu sync.Mutex
	var got *domain.TradeProposal
	s.EnableIngest(IngestDeps{
		Markets: &fakeMarkets{market: &domain.Market{
			ID:       "mkt-1",
			Price:    decimal.NewFromFloat(0.40),
			ClosesAt: time.Now().Add(24 * time.Hour),
		}},
		Thresholds: signal.Thresholds{
			MinEdge:       decimal.NewFromFloat(0.05),
			MinConfidence: decimal.NewFromFloat(0.6),
		},
		Dispatch: func(p *domain.TradeProposal) {
			mu.Lock()
			got = p
			mu.Unlock()
		},
	})
	router := s.Router()

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"market_id":"mkt-1","probability":0.55,"confidence":0.8}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("状态码错误: got=%d body=%s", w.Code, w.Body.String())
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("提案未被分发")
	}
	if got.Source != domain.ProposalSourceIngest {
		t.Errorf("来源错误: got=%s", got.Source)
	}
	if got.Direction != domain.DirectionTakeYes {
		t.Errorf("方向错误: got=%s", got.Direction)
	}
}

func TestServer_SignalIngestBelowThreshold(t *testing.T) {
	s, _ := newTestServer(t)
	dispatched := false
	s.EnableIngest(IngestDeps{
		Markets: &fakeMarkets{market: &domain.Market{
			ID:    "mkt-1",
			Price: decimal.NewFromFloat(0.50),
		}},
		Thresholds: signal.Thresholds{
			MinEdge:       decimal.NewFromFloat(0.05),
			MinConfidence: decimal.NewFromFloat(0.6),
		},
		Dispatch: func(*domain.TradeProposal) { dispatched = true },
	})
	router := s.Router()

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"market_id":"mkt-1","probability":0.52,"confidence":0.9}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: got=%d", w.Code)
	}
	if dispatched {
		t.Error("低于门槛的信号不应被分发")
	}

	w = httptest.NewRecorder()
	body = strings.NewReader(`{"market_id":"unknown","probability":0.8,"confidence":0.9}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/signals", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("未知市场应返回 404: got=%d", w.Code)
	}
}

func TestServer_SignalIngestDisabled(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals",
		strings.NewReader(`{"market_id":"mkt-1","probability":0.55,"confidence":0.8}`))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("未启用接入应返回 503: got=%d", w.Code)
	}
}

func TestServer_Healthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz 状态码错误: got=%d", w.Code)
	}
}
