package store

import (
	"time"

	"moneymaker-go/market"
	"moneymaker-go/order"
)

// MarketState 各交易对最新行情
type MarketState struct {
	Tickers   map[string]market.Ticker `json:"tickers"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

// OrdersState 订单列表（活跃或已成交）
type OrdersState struct {
	Orders    []order.ActiveOrder `json:"orders"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// BalanceState 账户余额
type BalanceState struct {
	Balances  market.Balances `json:"balances"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ActionSetState 上一轮合并后的动作
type ActionSetState struct {
	Actions   []order.Action `json:"actions"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// AppState 进程内唯一的状态快照；发布后视为只读。
type AppState struct {
	Market         MarketState    `json:"market"`
	ActiveTrades   OrdersState    `json:"activeTrades"`
	FilledOrders   OrdersState    `json:"filledOrders"`
	AccountBalance BalanceState   `json:"accountBalance"`
	PrevActionSet  ActionSetState `json:"prevActionSet"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Version        uint64         `json:"version"`
}

// EmptyState 启动时的空快照
func EmptyState() AppState {
	return AppState{
		Market:         MarketState{Tickers: map[string]market.Ticker{}},
		ActiveTrades:   OrdersState{Orders: []order.ActiveOrder{}},
		FilledOrders:   OrdersState{Orders: []order.ActiveOrder{}},
		AccountBalance: BalanceState{Balances: market.Balances{}},
		PrevActionSet:  ActionSetState{Actions: []order.Action{}},
	}
}

// Clone 深拷贝快照中的集合，调用方可自由修改返回值。
func (s AppState) Clone() AppState {
	out := s
	out.Market.Tickers = make(map[string]market.Ticker, len(s.Market.Tickers))
	for k, v := range s.Market.Tickers {
		out.Market.Tickers[k] = v
	}
	out.ActiveTrades.Orders = append([]order.ActiveOrder(nil), s.ActiveTrades.Orders...)
	out.FilledOrders.Orders = append([]order.ActiveOrder(nil), s.FilledOrders.Orders...)
	out.AccountBalance.Balances = make(market.Balances, len(s.AccountBalance.Balances))
	for k, v := range s.AccountBalance.Balances {
		out.AccountBalance.Balances[k] = v
	}
	out.PrevActionSet.Actions = append([]order.Action(nil), s.PrevActionSet.Actions...)
	return out
}

// WithTicker 返回更新了行情的新快照
func (s AppState) WithTicker(marketName string, t market.Ticker, at time.Time) AppState {
	tickers := make(map[string]market.Ticker, len(s.Market.Tickers)+1)
	for k, v := range s.Market.Tickers {
		tickers[k] = v
	}
	tickers[marketName] = t
	s.Market = MarketState{Tickers: tickers, UpdatedAt: at}
	return s
}

// WithActiveOrders 返回更新了活跃订单的新快照
func (s AppState) WithActiveOrders(orders []order.ActiveOrder, at time.Time) AppState {
	s.ActiveTrades = OrdersState{Orders: append([]order.ActiveOrder{}, orders...), UpdatedAt: at}
	return s
}

// WithFilledOrders 返回更新了成交历史的新快照
func (s AppState) WithFilledOrders(orders []order.ActiveOrder, at time.Time) AppState {
	s.FilledOrders = OrdersState{Orders: append([]order.ActiveOrder{}, orders...), UpdatedAt: at}
	return s
}

// WithBalances 返回更新了余额的新快照
func (s AppState) WithBalances(b market.Balances, at time.Time) AppState {
	cp := make(market.Balances, len(b))
	for k, v := range b {
		cp[k] = v
	}
	s.AccountBalance = BalanceState{Balances: cp, UpdatedAt: at}
	return s
}

// WithActions 返回记录了本轮动作的新快照
func (s AppState) WithActions(actions []order.Action, at time.Time) AppState {
	s.PrevActionSet = ActionSetState{Actions: append([]order.Action{}, actions...), UpdatedAt: at}
	return s
}
