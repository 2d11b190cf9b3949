package valuation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// memStore is an in-memory ledger with read-committed transactions and
// NOWAIT row locks, close enough to PostgreSQL to exercise the services.
type memStore struct {
	mu            sync.Mutex
	layers        map[uuid.UUID]*valuation.ValuationLayer
	nullRemaining map[uuid.UUID]bool
	locks         map[uuid.UUID]int64
	allocations   []*valuation.LandedCostAllocation
	movements     map[uuid.UUID]*valuation.StockMovement
	locations     map[uuid.UUID]*valuation.Location
	nextTx        int64

	// lockFailures makes the next N LockForUpdate calls fail as if the rows were held
	lockFailures int
	// beforeLock runs just before rows are locked, outside the store mutex
	beforeLock  func()
	lockCalls   int
	lastOptions TxOptions
	txCount     int
}

func newMemStore() *memStore {
	return &memStore{
		layers:        make(map[uuid.UUID]*valuation.ValuationLayer),
		nullRemaining: make(map[uuid.UUID]bool),
		locks:         make(map[uuid.UUID]int64),
		movements:     make(map[uuid.UUID]*valuation.StockMovement),
		locations:     make(map[uuid.UUID]*valuation.Location),
	}
}

func cloneLayer(l *valuation.ValuationLayer) *valuation.ValuationLayer {
	c := *l
	return &c
}

// seed stores layers as committed rows
func (s *memStore) seed(layers ...*valuation.ValuationLayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range layers {
		s.layers[l.ID] = cloneLayer(l)
	}
}

// layer returns a copy of the committed row
func (s *memStore) layer(id uuid.UUID) *valuation.ValuationLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[id]
	if !ok {
		return nil
	}
	return cloneLayer(l)
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers)
}

func (s *memStore) all() []*valuation.ValuationLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*valuation.ValuationLayer, 0, len(s.layers))
	for _, l := range s.layers {
		out = append(out, cloneLayer(l))
	}
	valuation.SortQueue(out)
	return out
}

// scope returns a TransactionScope over the store
func (s *memStore) scope() *memTxScope { return &memTxScope{store: s} }

// repos returns non-transactional repositories reading committed rows
func (s *memStore) repos() *memTx { return &memTx{store: s} }

type memTxScope struct{ store *memStore }

func (m *memTxScope) Execute(ctx context.Context, opts TxOptions, fn func(TransactionalRepositories) error) error {
	s := m.store
	s.mu.Lock()
	s.nextTx++
	s.txCount++
	s.lastOptions = opts
	tx := &memTx{
		store:      s,
		id:         s.nextTx,
		pending:    make(map[uuid.UUID]*valuation.ValuationLayer),
		movements:  make(map[uuid.UUID]*valuation.StockMovement),
		inTx:       true,
		clearNulls: make(map[uuid.UUID]bool),
	}
	s.mu.Unlock()

	err := fn(tx)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, owner := range s.locks {
		if owner == tx.id {
			delete(s.locks, id)
		}
	}
	if err != nil {
		return err
	}
	for id, l := range tx.pending {
		s.layers[id] = l
	}
	for id := range tx.clearNulls {
		delete(s.nullRemaining, id)
	}
	for id, mv := range tx.movements {
		s.movements[id] = mv
	}
	s.allocations = append(s.allocations, tx.allocations...)
	return nil
}

// memTx implements TransactionalRepositories and all repository interfaces
type memTx struct {
	store       *memStore
	id          int64
	inTx        bool
	pending     map[uuid.UUID]*valuation.ValuationLayer
	clearNulls  map[uuid.UUID]bool
	movements   map[uuid.UUID]*valuation.StockMovement
	allocations []*valuation.LandedCostAllocation
}

func (t *memTx) Layers() valuation.LayerRepository { return memLayers{t} }
func (t *memTx) LandedCosts() valuation.LandedCostRepository { return memLandedCosts{t} }
func (t *memTx) Movements() valuation.MovementRepository { return memMovements{t} }

// snapshot returns committed rows overlaid with this transaction's writes. Caller holds store.mu.
func (t *memTx) snapshot() []*valuation.ValuationLayer {
	out := make([]*valuation.ValuationLayer, 0, len(t.store.layers)+len(t.pending))
	for id, l := range t.store.layers {
		if p, ok := t.pending[id]; ok {
			out = append(out, cloneLayer(p))
			continue
		}
		out = append(out, cloneLayer(l))
	}
	for id, p := range t.pending {
		if _, ok := t.store.layers[id]; !ok {
			out = append(out, cloneLayer(p))
		}
	}
	valuation.SortQueue(out)
	return out
}

func (t *memTx) filter(keep func(*valuation.ValuationLayer) bool) []*valuation.ValuationLayer {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []*valuation.ValuationLayer
	for _, l := range t.snapshot() {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}

func (t *memTx) write(l *valuation.ValuationLayer) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.inTx {
		t.pending[l.ID] = cloneLayer(l)
		return
	}
	t.store.layers[l.ID] = cloneLayer(l)
}

type memLayers struct{ t *memTx }

func (r memLayers) FindByID(_ context.Context, id uuid.UUID) (*valuation.ValuationLayer, error) {
	found := r.t.filter(func(l *valuation.ValuationLayer) bool { return l.ID == id })
	if len(found) == 0 {
		return nil, valuation.ErrLayerNotFound
	}
	return found[0], nil
}

func (r memLayers) FindQueue(_ context.Context, scope valuation.Scope) ([]*valuation.ValuationLayer, error) {
	return r.t.filter(func(l *valuation.ValuationLayer) bool {
		return l.HasWarehouse() && l.IsAvailable() && l.Scope() == scope
	}), nil
}

func (r memLayers) FindQueues(ctx context.Context, companyID uuid.UUID, keys []valuation.QueueKey) (map[valuation.QueueKey][]*valuation.ValuationLayer, error) {
	out := make(map[valuation.QueueKey][]*valuation.ValuationLayer, len(keys))
	for _, k := range keys {
		q, _ := r.FindQueue(ctx, valuation.Scope{CompanyID: companyID, ProductID: k.ProductID, WarehouseID: k.WarehouseID})
		out[k] = q
	}
	return out, nil
}

func (r memLayers) LockForUpdate(_ context.Context, ids []uuid.UUID) ([]*valuation.ValuationLayer, error) {
	s := r.t.store
	s.mu.Lock()
	hook := s.beforeLock
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockCalls++
	if s.lockFailures > 0 {
		s.lockFailures--
		return nil, fmt.Errorf("lock layers: %w", valuation.ErrLockNotAvailable)
	}
	for _, id := range ids {
		if owner, held := s.locks[id]; held && owner != r.t.id {
			return nil, fmt.Errorf("lock layer %s: %w", id, valuation.ErrLockNotAvailable)
		}
	}
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
		s.locks[id] = r.t.id
	}
	var out []*valuation.ValuationLayer
	for _, l := range r.t.snapshot() {
		if want[l.ID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r memLayers) SumRemaining(ctx context.Context, scope valuation.Scope) (decimal.Decimal, error) {
	q, _ := r.FindQueue(ctx, scope)
	return valuation.AvailableQuantity(q), nil
}

func (r memLayers) AvailableByWarehouse(_ context.Context, companyID, productID uuid.UUID) ([]valuation.WarehouseStock, error) {
	totals := make(map[uuid.UUID]decimal.Decimal)
	for _, l := range r.t.filter(func(l *valuation.ValuationLayer) bool {
		return l.CompanyID == companyID && l.ProductID == productID && l.HasWarehouse() && l.IsAvailable()
	}) {
		totals[*l.WarehouseID] = totals[*l.WarehouseID].Add(l.RemainingQuantity)
	}
	out := make([]valuation.WarehouseStock, 0, len(totals))
	for wh, qty := range totals {
		out = append(out, valuation.WarehouseStock{WarehouseID: wh, Available: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Available.GreaterThan(out[j].Available) })
	return out, nil
}

func (r memLayers) Balances(_ context.Context, companyID uuid.UUID, productID *uuid.UUID) ([]valuation.WarehouseBalance, error) {
	byKey := make(map[valuation.QueueKey]*valuation.WarehouseBalance)
	var keys []valuation.QueueKey
	for _, l := range r.t.filter(func(l *valuation.ValuationLayer) bool {
		return l.CompanyID == companyID && l.HasWarehouse() && l.IsIncoming() && (productID == nil || l.ProductID == *productID)
	}) {
		k := valuation.QueueKey{ProductID: l.ProductID, WarehouseID: *l.WarehouseID}
		b, ok := byKey[k]
		if !ok {
			b = &valuation.WarehouseBalance{ProductID: k.ProductID, WarehouseID: k.WarehouseID}
			byKey[k] = b
			keys = append(keys, k)
		}
		b.RemainingQuantity = b.RemainingQuantity.Add(l.RemainingQuantity)
		b.RemainingValue = b.RemainingValue.Add(l.RemainingValue)
	}
	out := make([]valuation.WarehouseBalance, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	return out, nil
}

func (r memLayers) FindBySourceMovement(_ context.Context, movementID uuid.UUID) ([]*valuation.ValuationLayer, error) {
	return r.t.filter(func(l *valuation.ValuationLayer) bool {
		return l.SourceMovementID != nil && *l.SourceMovementID == movementID
	}), nil
}

func (r memLayers) FindByScope(_ context.Context, scope valuation.Scope) ([]*valuation.ValuationLayer, error) {
	return r.t.filter(func(l *valuation.ValuationLayer) bool {
		return l.HasWarehouse() && l.Scope() == scope
	}), nil
}

func (r memLayers) ListScopes(_ context.Context, companyID uuid.UUID, warehouseIDs []uuid.UUID) ([]valuation.Scope, error) {
	allowed := make(map[uuid.UUID]bool, len(warehouseIDs))
	for _, id := range warehouseIDs {
		allowed[id] = true
	}
	seen := make(map[valuation.Scope]bool)
	var out []valuation.Scope
	for _, l := range r.t.filter(func(l *valuation.ValuationLayer) bool {
		return l.CompanyID == companyID && l.HasWarehouse() && (len(allowed) == 0 || allowed[*l.WarehouseID])
	}) {
		if sc := l.Scope(); !seen[sc] {
			seen[sc] = true
			out = append(out, sc)
		}
	}
	return out, nil
}

func (r memLayers) FindMissingWarehouse(_ context.Context, companyID *uuid.UUID, limit int) ([]*valuation.ValuationLayer, error) {
	out := r.t.filter(func(l *valuation.ValuationLayer) bool {
		return !l.HasWarehouse() && !l.Quantity.IsZero() && (companyID == nil || l.CompanyID == *companyID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memLayers) CountMissingWarehouse(ctx context.Context, companyID *uuid.UUID) (int64, error) {
	out, _ := r.FindMissingWarehouse(ctx, companyID, 0)
	return int64(len(out)), nil
}

func (r memLayers) LatestIncomingUnitCost(_ context.Context, companyID, productID uuid.UUID) (decimal.Decimal, bool, error) {
	receipts := r.t.filter(func(l *valuation.ValuationLayer) bool {
		return l.CompanyID == companyID && l.ProductID == productID && l.IsIncoming()
	})
	if len(receipts) == 0 {
		return decimal.Zero, false, nil
	}
	valuation.SortQueue(receipts)
	return receipts[len(receipts)-1].UnitCost(), true, nil
}

func (r memLayers) FindNearestSibling(_ context.Context, companyID, productID uuid.UUID, at time.Time, window time.Duration) (*valuation.ValuationLayer, error) {
	var best *valuation.ValuationLayer
	var bestGap time.Duration
	for _, l := range r.t.filter(func(l *valuation.ValuationLayer) bool {
		return l.CompanyID == companyID && l.ProductID == productID && l.HasWarehouse()
	}) {
		gap := l.CreatedAt.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		if best == nil || gap < bestGap {
			best, bestGap = l, gap
		}
	}
	return best, nil
}

func (r memLayers) FindRepairCandidates(_ context.Context, companyID uuid.UUID, epsilon decimal.Decimal) ([]valuation.RepairCandidate, error) {
	s := r.t.store
	var out []valuation.RepairCandidate
	for _, l := range r.t.filter(func(l *valuation.ValuationLayer) bool { return l.CompanyID == companyID }) {
		s.mu.Lock()
		null := s.nullRemaining[l.ID]
		s.mu.Unlock()
		c := valuation.RepairCandidate{Layer: l, NullRemaining: null}
		if len(valuation.DiagnoseLayer(c, epsilon)) > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r memLayers) TransitUsage(_ context.Context, companyID *uuid.UUID) ([]valuation.LocationUsageStat, error) {
	s := r.t.store
	counts := make(map[uuid.UUID]*valuation.LocationUsageStat)
	var order []uuid.UUID
	for _, l := range r.t.filter(func(l *valuation.ValuationLayer) bool {
		return l.SourceMovementID != nil && (companyID == nil || l.CompanyID == *companyID)
	}) {
		s.mu.Lock()
		mv := s.movements[*l.SourceMovementID]
		s.mu.Unlock()
		if mv == nil {
			continue
		}
		for _, loc := range []*valuation.Location{mv.Source, mv.Destination} {
			if loc == nil || loc.Usage != valuation.UsageTransit {
				continue
			}
			st, ok := counts[loc.ID]
			if !ok {
				st = &valuation.LocationUsageStat{LocationID: loc.ID, LocationName: loc.Name, WarehouseID: loc.WarehouseID}
				counts[loc.ID] = st
				order = append(order, loc.ID)
			}
			st.LayerCount++
		}
	}
	out := make([]valuation.LocationUsageStat, 0, len(order))
	for _, id := range order {
		out = append(out, *counts[id])
	}
	return out, nil
}

func (r memLayers) Create(_ context.Context, layer *valuation.ValuationLayer) error {
	r.t.write(layer)
	return nil
}

func (r memLayers) UpdateRemaining(_ context.Context, layer *valuation.ValuationLayer) error {
	s := r.t.store
	s.mu.Lock()
	stored, ok := s.layers[layer.ID]
	if p, pending := r.t.pending[layer.ID]; pending {
		stored, ok = p, true
	}
	s.mu.Unlock()
	if !ok {
		return valuation.ErrLayerNotFound
	}
	updated := cloneLayer(stored)
	updated.RemainingQuantity = layer.RemainingQuantity
	updated.RemainingValue = layer.RemainingValue
	r.t.write(updated)
	s.mu.Lock()
	if r.t.inTx {
		r.t.clearNulls[layer.ID] = true
	} else {
		delete(s.nullRemaining, layer.ID)
	}
	s.mu.Unlock()
	return nil
}

func (r memLayers) UpdateWarehouse(_ context.Context, layer *valuation.ValuationLayer) error {
	s := r.t.store
	s.mu.Lock()
	stored, ok := s.layers[layer.ID]
	s.mu.Unlock()
	if !ok {
		return valuation.ErrLayerNotFound
	}
	updated := cloneLayer(stored)
	updated.WarehouseID = layer.WarehouseID
	r.t.write(updated)
	return nil
}

type memLandedCosts struct{ t *memTx }

func (r memLandedCosts) Create(_ context.Context, allocations ...*valuation.LandedCostAllocation) error {
	if r.t.inTx {
		r.t.allocations = append(r.t.allocations, allocations...)
		return nil
	}
	r.t.store.mu.Lock()
	defer r.t.store.mu.Unlock()
	r.t.store.allocations = append(r.t.store.allocations, allocations...)
	return nil
}

func (r memLandedCosts) FindByLayer(_ context.Context, layerID uuid.UUID) ([]*valuation.LandedCostAllocation, error) {
	r.t.store.mu.Lock()
	defer r.t.store.mu.Unlock()
	var out []*valuation.LandedCostAllocation
	for _, a := range r.t.store.allocations {
		if a.ValuationLayerID == layerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r memLandedCosts) SumByLayers(_ context.Context, warehouseID uuid.UUID, layerIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	r.t.store.mu.Lock()
	defer r.t.store.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(layerIDs))
	for _, id := range layerIDs {
		want[id] = true
	}
	out := make(map[uuid.UUID]decimal.Decimal)
	for _, a := range r.t.store.allocations {
		if want[a.ValuationLayerID] && a.WarehouseID == warehouseID {
			out[a.ValuationLayerID] = out[a.ValuationLayerID].Add(a.LandedCostValue)
		}
	}
	return out, nil
}

type memMovements struct{ t *memTx }

func (r memMovements) FindByID(_ context.Context, id uuid.UUID) (*valuation.StockMovement, error) {
	if mv, ok := r.t.movements[id]; ok {
		return mv, nil
	}
	r.t.store.mu.Lock()
	defer r.t.store.mu.Unlock()
	if mv, ok := r.t.store.movements[id]; ok {
		return mv, nil
	}
	return nil, shared.ErrNotFound
}

func (r memMovements) Save(_ context.Context, mv *valuation.StockMovement) error {
	if r.t.inTx {
		r.t.movements[mv.ID] = mv
		return nil
	}
	r.t.store.mu.Lock()
	defer r.t.store.mu.Unlock()
	r.t.store.movements[mv.ID] = mv
	return nil
}

// memLocations implements valuation.LocationRepository
type memLocations struct{ store *memStore }

func (r memLocations) FindByID(_ context.Context, id uuid.UUID) (*valuation.Location, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if loc, ok := r.store.locations[id]; ok {
		return loc, nil
	}
	return nil, shared.ErrNotFound
}

func (r memLocations) Save(_ context.Context, _ uuid.UUID, loc *valuation.Location) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.locations[loc.ID] = loc
	return nil
}

// MockProductCostRepository is a mock implementation of ProductCostRepository
type MockProductCostRepository struct {
	mock.Mock
}

func (m *MockProductCostRepository) StandardCost(ctx context.Context, companyID, productID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, companyID, productID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockProductCostRepository) StandardCosts(ctx context.Context, companyID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	args := m.Called(ctx, companyID, productIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]decimal.Decimal), args.Error(1)
}

func (m *MockProductCostRepository) SetStandardCost(ctx context.Context, companyID, productID uuid.UUID, cost decimal.Decimal) error {
	args := m.Called(ctx, companyID, productID, cost)
	return args.Error(0)
}

// stdCost returns a cost repository answering cost for every product
func stdCost(cost string) *MockProductCostRepository {
	m := new(MockProductCostRepository)
	c := decimal.RequireFromString(cost)
	m.On("StandardCost", mock.Anything, mock.Anything, mock.Anything).Return(c, nil)
	m.On("StandardCosts", mock.Anything, mock.Anything, mock.Anything).Return(map[uuid.UUID]decimal.Decimal{testProduct: c}, nil)
	return m
}

// MockWarehouseRepository is a mock implementation of WarehouseRepository
type MockWarehouseRepository struct {
	mock.Mock
}

func (m *MockWarehouseRepository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]valuation.Warehouse, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]valuation.Warehouse), args.Error(1)
}

func (m *MockWarehouseRepository) Save(ctx context.Context, wh *valuation.Warehouse) error {
	args := m.Called(ctx, wh)
	return args.Error(0)
}

// MockEventPublisher is a mock implementation of shared.EventPublisher
type MockEventPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{events: make([]shared.DomainEvent, 0)}
}

func (m *MockEventPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *MockEventPublisher) GetEventsByType(eventType string) []shared.DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]shared.DomainEvent, 0)
	for _, e := range m.events {
		if e.EventType() == eventType {
			result = append(result, e)
		}
	}
	return result
}

// recordingMetrics counts retries and shortages
type recordingMetrics struct {
	noopMetrics
	mu       sync.Mutex
	retries  []string
	outcomes []valuation.BalanceOutcome
}

func (m *recordingMetrics) RecordRetry(_ context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = append(m.retries, reason)
}

func (m *recordingMetrics) RecordNegativeBalance(_ context.Context, outcome valuation.BalanceOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

var (
	testCompany = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testProduct = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	whA         = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	whB         = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
	whC         = uuid.MustParse("cccccccc-0000-0000-0000-000000000003")
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func scopeAt(wh uuid.UUID) valuation.Scope {
	return valuation.Scope{CompanyID: testCompany, ProductID: testProduct, WarehouseID: wh}
}

// testSettings are the defaults with a fast retry policy
func testSettings() Settings {
	s := DefaultSettings()
	s.Retry = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return s
}

type layerFixture struct {
	store     *memStore
	costs     *MockProductCostRepository
	publisher *MockEventPublisher
	metrics   *recordingMetrics
	service   *LayerService
}

func newLayerFixture(t *testing.T, settings Settings) *layerFixture {
	t.Helper()
	return newLayerFixtureWithStandardCost(t, settings, "50")
}

func newLayerFixtureWithStandardCost(t *testing.T, settings Settings, standard string) *layerFixture {
	t.Helper()
	f := &layerFixture{
		store:     newMemStore(),
		costs:     stdCost(standard),
		publisher: NewMockEventPublisher(),
		metrics:   &recordingMetrics{},
	}
	f.service = NewLayerService(f.store.scope(), memLocations{f.store}, f.costs, settings, zap.NewNop())
	f.service.SetEventPublisher(f.publisher)
	f.service.SetMetrics(f.metrics)
	return f
}

// receive posts an incoming movement into a warehouse
func (f *layerFixture) receive(t *testing.T, wh uuid.UUID, qty, cost string) *valuation.ValuationLayer {
	t.Helper()
	c := d(cost)
	res, err := f.service.CreateLayer(context.Background(), &valuation.StockMovement{
		CompanyID:     testCompany,
		ProductID:     testProduct,
		Quantity:      d(qty),
		UnitCost:      &c,
		WarehouseHint: &wh,
	})
	if err != nil {
		t.Fatalf("receive %s at %s: %v", qty, wh, err)
	}
	return res.Layer
}

// issue posts an outgoing movement from a warehouse
func (f *layerFixture) issue(wh uuid.UUID, qty string) (*PostMovementResult, error) {
	return f.service.CreateLayer(context.Background(), &valuation.StockMovement{
		CompanyID:     testCompany,
		ProductID:     testProduct,
		Quantity:      d(qty).Neg(),
		WarehouseHint: &wh,
	})
}

func isShortage(err error) bool {
	var se *valuation.ShortageError
	return errors.As(err, &se)
}
