package store

import (
	"sort"
	"sync"
	"time"

	"github.com/tradecore/internal/models"
)

// Compile-time interface check.
var _ Ledger = (*MemoryStore)(nil)

// MemoryStore implements Ledger with in-memory maps. Backtests run
// entirely on it and the test suites use it in place of a database.
type MemoryStore struct {
	mu sync.RWMutex

	portfolios map[uint]*models.Portfolio
	positions  map[uint]*models.Position
	orders     map[uint]*models.Order
	trades     map[uint]*models.Trade
	riskRules  map[uint]*models.RiskRule
	snapshots  map[uint]*models.PortfolioSnapshot

	nextID uint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[uint]*models.Portfolio),
		positions:  make(map[uint]*models.Position),
		orders:     make(map[uint]*models.Order),
		trades:     make(map[uint]*models.Trade),
		riskRules:  make(map[uint]*models.RiskRule),
		snapshots:  make(map[uint]*models.PortfolioSnapshot),
	}
}

func (s *MemoryStore) allocID() uint {
	s.nextID++
	return s.nextID
}

// --- portfolios ---

func (s *MemoryStore) CreatePortfolio(p *models.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.allocID()
	stamp(&p.CreatedAt, &p.UpdatedAt)
	cp := *p
	s.portfolios[p.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdatePortfolio(p *models.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.portfolios[p.ID]; !ok {
		return ErrPortfolioNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	s.portfolios[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPortfolio(id uint) (*models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.portfolios[id]
	if !ok {
		return nil, ErrPortfolioNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPortfolioByIdentifier(identifier string) (*models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.portfolios {
		if p.Identifier == identifier {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPortfolioNotFound
}

func (s *MemoryStore) GetPortfolios() ([]models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Portfolio, 0, len(s.portfolios))
	for _, p := range s.portfolios {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- positions ---

func (s *MemoryStore) CreatePosition(p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.allocID()
	stamp(&p.CreatedAt, &p.UpdatedAt)
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdatePosition(p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return ErrPositionNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPositionByID(id uint) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPosition(portfolioID uint, symbol string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions {
		if p.PortfolioID == portfolioID && p.Symbol == symbol {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPositionNotFound
}

func (s *MemoryStore) GetPositions(portfolioID uint) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Position
	for _, p := range s.positions {
		if p.PortfolioID == portfolioID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- orders ---

func (s *MemoryStore) CreateOrder(o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.allocID()
	stamp(&o.CreatedAt, &o.UpdatedAt)
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateOrder(o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	o.UpdatedAt = time.Now()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(id uint) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetOrderByExternalID(portfolioID uint, externalID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.PortfolioID == portfolioID && o.ExternalID == externalID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (s *MemoryStore) GetOrders(portfolioID uint) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.PortfolioID == portfolioID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetOpenOrders(portfolioID uint) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.PortfolioID == portfolioID && o.Status == models.OrderStatusOpen {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetUnmatchedBuyOrders(portfolioID uint, symbol string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.PortfolioID != portfolioID || o.TargetSymbol != symbol || o.Side != models.OrderSideBuy {
			continue
		}
		if o.Status != models.OrderStatusOpen && o.Status != models.OrderStatusClosed {
			continue
		}
		if o.Filled <= o.TradeClosedAmount {
			continue
		}
		out = append(out, *o)
	}
	// Oldest first; IDs break ties within the same timestamp.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- trades ---

func (s *MemoryStore) CreateTrade(t *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.allocID()
	stamp(&t.CreatedAt, &t.UpdatedAt)
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateTrade(t *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; !ok {
		return ErrTradeNotFound
	}
	t.UpdatedAt = time.Now()
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrade(id uint) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTradeByBuyOrder(buyOrderID uint) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.trades {
		if t.BuyOrderID == buyOrderID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTradeNotFound
}

func (s *MemoryStore) GetOpenTrades(portfolioID uint) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.PortfolioID == portfolioID && t.Status != models.TradeStatusClosed {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- risk rules ---

func (s *MemoryStore) CreateRiskRule(r *models.RiskRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.allocID()
	stamp(&r.CreatedAt, &r.UpdatedAt)
	cp := *r
	s.riskRules[r.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRiskRule(r *models.RiskRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.riskRules[r.ID]; !ok {
		return ErrRiskRuleNotFound
	}
	r.UpdatedAt = time.Now()
	cp := *r
	s.riskRules[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRiskRule(id uint) (*models.RiskRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.riskRules[id]
	if !ok {
		return nil, ErrRiskRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetActiveRiskRules(tradeID uint) ([]models.RiskRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RiskRule
	for _, r := range s.riskRules {
		if r.TradeID == tradeID && r.Active {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- snapshots ---

func (s *MemoryStore) CreateSnapshot(snapshot *models.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.ID = s.allocID()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	cp := *snapshot
	s.snapshots[snapshot.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSnapshots(portfolioID uint, limit int) ([]models.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PortfolioSnapshot
	for _, sn := range s.snapshots {
		if sn.PortfolioID == portfolioID {
			out = append(out, *sn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func stamp(createdAt, updatedAt *time.Time) {
	now := time.Now()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}
