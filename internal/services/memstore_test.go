package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/repositories"
)

var testNow = time.Date(2025, time.March, 3, 2, 0, 0, 0, time.UTC)

// memData is the state of the in-memory store. clone is what RunInTx restores on error.
type memData struct {
	products      map[string]domain.Product
	customers     map[string]domain.Customer
	promotions    map[string]domain.Promotion
	customerUsage map[string]int64
	usages        []domain.PromotionUsage
	orders        map[string]domain.Order
	history       []domain.OrderHistoryEntry
	carts         map[string][]domain.CartLine
}

func (d memData) clone() memData {
	out := memData{
		products:      make(map[string]domain.Product, len(d.products)),
		customers:     make(map[string]domain.Customer, len(d.customers)),
		promotions:    make(map[string]domain.Promotion, len(d.promotions)),
		customerUsage: make(map[string]int64, len(d.customerUsage)),
		usages:        append([]domain.PromotionUsage(nil), d.usages...),
		orders:        make(map[string]domain.Order, len(d.orders)),
		history:       append([]domain.OrderHistoryEntry(nil), d.history...),
		carts:         make(map[string][]domain.CartLine, len(d.carts)),
	}
	for k, v := range d.products {
		out.products[k] = v
	}
	for k, v := range d.customers {
		out.customers[k] = v
	}
	for k, v := range d.promotions {
		out.promotions[k] = v
	}
	for k, v := range d.customerUsage {
		out.customerUsage[k] = v
	}
	for k, v := range d.orders {
		out.orders[k] = v
	}
	for k, v := range d.carts {
		out.carts[k] = append([]domain.CartLine(nil), v...)
	}
	return out
}

type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data memData

	appendHistoryErr error
	clearCartErr     error
	markPaidCalls    int
	markPaidApplied  int

	// outside holds writes committed by another session while a unit of work is open.
	// A rollback restores the snapshot and then replays them.
	outside []func(*memData)
}

func newMemStore() *memStore {
	return &memStore{data: memData{}.clone()}
}

// commitOutsideTx applies fn as if a separate connection had committed it, so it survives
// a rollback of the unit of work that is currently open.
func (m *memStore) commitOutsideTx(fn func(*memData)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.data)
	m.outside = append(m.outside, fn)
}

func (m *memStore) addProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.products[p.ID] = p
}

func (m *memStore) addCustomer(c domain.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.customers[c.ID] = c
}

func (m *memStore) addPromotion(p domain.Promotion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.promotions[p.ID] = p
}

func (m *memStore) addOrder(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.orders[o.ID] = o
}

func (m *memStore) setCart(customerID string, lines ...domain.CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.carts[customerID] = lines
}

func (m *memStore) product(t *testing.T, id string) domain.Product {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data.products[id]
	if !ok {
		t.Fatalf("product %s missing", id)
	}
	return p
}

func (m *memStore) customer(t *testing.T, id string) domain.Customer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.data.customers[id]
	if !ok {
		t.Fatalf("customer %s missing", id)
	}
	return c
}

func (m *memStore) promotion(t *testing.T, id string) domain.Promotion {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data.promotions[id]
	if !ok {
		t.Fatalf("promotion %s missing", id)
	}
	return p
}

func (m *memStore) order(t *testing.T, id string) domain.Order {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.data.orders[id]
	if !ok {
		t.Fatalf("order %s missing", id)
	}
	return o
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data.orders)
}

func (m *memStore) historyFor(orderID string) []domain.OrderHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderHistoryEntry
	for _, entry := range m.data.history {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out
}

func (m *memStore) usageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data.usages)
}

func (m *memStore) cart(customerID string) []domain.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.carts[customerID]
}

type memUnitOfWork struct{ store *memStore }

func (u memUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.store.txMu.Lock()
	defer u.store.txMu.Unlock()

	u.store.mu.Lock()
	snapshot := u.store.data.clone()
	u.store.outside = nil
	u.store.mu.Unlock()

	err := fn(ctx)

	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if err != nil {
		u.store.data = snapshot
		for _, write := range u.store.outside {
			write(&u.store.data)
		}
	}
	u.store.outside = nil
	return err
}

type memProductRepo struct{ store *memStore }

func (r memProductRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.data.products[productID]
	if !ok {
		return domain.Product{}, database.NotFound("products.find", "product %s not found", productID)
	}
	return p, nil
}

func (r memProductRepo) Reserve(_ context.Context, productID string, quantity int64) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.data.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, "", nil)
	}
	if p.Stock < quantity {
		invErr := repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, productID, "", nil)
		invErr.Remaining = p.Stock
		return domain.Product{}, invErr
	}
	p.Stock -= quantity
	p.SoldCount += quantity
	r.store.data.products[productID] = p
	return p, nil
}

func (r memProductRepo) Release(_ context.Context, productID string, quantity int64) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.data.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, productID, "", nil)
	}
	p.Stock += quantity
	p.SoldCount -= quantity
	if p.SoldCount < 0 {
		p.SoldCount = 0
	}
	r.store.data.products[productID] = p
	return p, nil
}

type memCustomerRepo struct{ store *memStore }

func (r memCustomerRepo) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.data.customers[customerID]
	if !ok {
		return domain.Customer{}, database.NotFound("customers.find", "customer %s not found", customerID)
	}
	return c, nil
}

func (r memCustomerRepo) DebitLoyaltyPoints(_ context.Context, customerID string, points int64) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.data.customers[customerID]
	if !ok {
		return false, database.NotFound("customers.debit", "customer %s not found", customerID)
	}
	if c.LoyaltyPoints < points {
		return false, nil
	}
	c.LoyaltyPoints -= points
	r.store.data.customers[customerID] = c
	return true, nil
}

func (r memCustomerRepo) CreditSpend(_ context.Context, customerID string, amount decimal.Decimal) (domain.Customer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.data.customers[customerID]
	if !ok {
		return domain.Customer{}, database.NotFound("customers.credit", "customer %s not found", customerID)
	}
	c.TotalSpent = c.TotalSpent.Add(amount)
	c.OrderCount++
	r.store.data.customers[customerID] = c
	return c, nil
}

func (r memCustomerRepo) UpdateTier(_ context.Context, customerID string, tier domain.CustomerTier) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.data.customers[customerID]
	if !ok {
		return database.NotFound("customers.tier", "customer %s not found", customerID)
	}
	c.Tier = tier
	r.store.data.customers[customerID] = c
	return nil
}

type memCartRepo struct{ store *memStore }

func (r memCartRepo) Clear(_ context.Context, customerID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.clearCartErr != nil {
		return r.store.clearCartErr
	}
	delete(r.store.data.carts, customerID)
	return nil
}

type memPromotionRepo struct{ store *memStore }

func (r memPromotionRepo) FindByCode(_ context.Context, code string) (domain.Promotion, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, p := range r.store.data.promotions {
		if p.Code == code {
			return p, nil
		}
	}
	return domain.Promotion{}, database.NotFound("promotions.find", "promotion %s not found", code)
}

func (r memPromotionRepo) FindByID(_ context.Context, promotionID string) (domain.Promotion, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.data.promotions[promotionID]
	if !ok {
		return domain.Promotion{}, database.NotFound("promotions.find", "promotion %s not found", promotionID)
	}
	return p, nil
}

func (r memPromotionRepo) IncrementUsed(_ context.Context, promotionID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.data.promotions[promotionID]
	if !ok {
		return false, database.NotFound("promotions.increment", "promotion %s not found", promotionID)
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return false, nil
	}
	p.UsedCount++
	r.store.data.promotions[promotionID] = p
	return true, nil
}

func (r memPromotionRepo) ReleaseUsed(_ context.Context, promotionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.data.promotions[promotionID]
	if !ok || p.UsedCount == 0 {
		return database.NotFound("promotions.release", "promotion %s has no usage to release", promotionID)
	}
	p.UsedCount--
	r.store.data.promotions[promotionID] = p
	return nil
}

type memUsageRepo struct{ store *memStore }

func usageKey(promotionID, customerID string) string {
	return promotionID + "|" + customerID
}

func (r memUsageRepo) CountByCustomer(_ context.Context, promotionID, customerID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.data.customerUsage[usageKey(promotionID, customerID)], nil
}

func (r memUsageRepo) IncrementCustomer(_ context.Context, promotionID, customerID string, limit *int64) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := usageKey(promotionID, customerID)
	if limit != nil && r.store.data.customerUsage[key] >= *limit {
		return false, nil
	}
	r.store.data.customerUsage[key]++
	return true, nil
}

func (r memUsageRepo) Insert(_ context.Context, usage domain.PromotionUsage) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.data.usages = append(r.store.data.usages, usage)
	return nil
}

func (r memUsageRepo) ListByPromotion(_ context.Context, promotionID string, _ domain.Pagination) (domain.CursorPage[domain.PromotionUsage], error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var items []domain.PromotionUsage
	for _, usage := range r.store.data.usages {
		if usage.PromotionID == promotionID {
			items = append(items, usage)
		}
	}
	return domain.CursorPage[domain.PromotionUsage]{Items: items}, nil
}

type memOrderRepo struct{ store *memStore }

func (r memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.data.orders {
		if existing.Code == order.Code {
			return database.Conflict("orders.insert", "order code %s already exists", order.Code)
		}
	}
	r.store.data.orders[order.ID] = order
	return nil
}

func (r memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	o, ok := r.store.data.orders[orderID]
	if !ok {
		return domain.Order{}, database.NotFound("orders.find", "order %s not found", orderID)
	}
	return o, nil
}

func (r memOrderRepo) FindByCode(_ context.Context, code string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, o := range r.store.data.orders {
		if o.Code == code {
			return o, nil
		}
	}
	return domain.Order{}, database.NotFound("orders.find_by_code", "order %s not found", code)
}

func (r memOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var items []domain.Order
	for _, o := range r.store.data.orders {
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, o.Status) {
			continue
		}
		items = append(items, o)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func containsStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (r memOrderRepo) UpdateStatus(_ context.Context, order domain.Order, expected domain.OrderStatus, expectedPayment domain.PaymentStatus) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.data.orders[order.ID]
	if !ok {
		return false, database.NotFound("orders.update_status", "order %s not found", order.ID)
	}
	if current.Status != expected || current.PaymentStatus != expectedPayment {
		return false, nil
	}
	if order.PaidAt == nil {
		order.PaidAt = current.PaidAt
	}
	order.Lines = current.Lines
	r.store.data.orders[order.ID] = order
	return true, nil
}

func (r memOrderRepo) MarkPaid(_ context.Context, orderID string, gatewayTxnID string, paidAt time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.markPaidCalls++
	o, ok := r.store.data.orders[orderID]
	if !ok {
		return false, database.NotFound("orders.mark_paid", "order %s not found", orderID)
	}
	if o.PaymentStatus != domain.PaymentStatusUnpaid || o.Status == domain.OrderStatusCancelled {
		return false, nil
	}
	r.store.markPaidApplied++
	r.store.data.orders[orderID] = paidOrder(o, gatewayTxnID, paidAt)
	return true, nil
}

func paidOrder(o domain.Order, gatewayTxnID string, paidAt time.Time) domain.Order {
	paid := paidAt.UTC()
	o.PaymentStatus = domain.PaymentStatusPaid
	o.GatewayTxnID = &gatewayTxnID
	o.PaidAt = &paid
	o.UpdatedAt = paid
	return o
}

// paidMidwayOrderRepo records a gateway payment for orderID right after the first
// read of it, the way a callback committing between read and write would.
type paidMidwayOrderRepo struct {
	memOrderRepo
	orderID string
	once    *sync.Once
}

func newPaidMidwayOrderRepo(store *memStore, orderID string) paidMidwayOrderRepo {
	return paidMidwayOrderRepo{memOrderRepo: memOrderRepo{store}, orderID: orderID, once: &sync.Once{}}
}

func (r paidMidwayOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := r.memOrderRepo.FindByID(ctx, orderID)
	if err != nil || orderID != r.orderID {
		return order, err
	}
	r.once.Do(func() {
		r.store.commitOutsideTx(func(d *memData) {
			if o, ok := d.orders[orderID]; ok {
				d.orders[orderID] = paidOrder(o, "14999999", testNow)
			}
		})
	})
	return order, nil
}

func (r memOrderRepo) Delete(_ context.Context, orderID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	o, ok := r.store.data.orders[orderID]
	if !ok {
		return database.NotFound("orders.delete", "order %s not found", orderID)
	}
	if o.Status != domain.OrderStatusCancelled || o.PaymentStatus != domain.PaymentStatusUnpaid || o.PaidAt != nil {
		return database.Conflict("orders.delete", "order %s is not deletable", orderID)
	}
	delete(r.store.data.orders, orderID)
	return nil
}

func (r memOrderRepo) ListExpiredUnpaid(_ context.Context, query repositories.ExpiredUnpaidQuery) ([]domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.Order
	for _, o := range r.store.data.orders {
		if o.Status != domain.OrderStatusPending || o.PaymentStatus != domain.PaymentStatusUnpaid {
			continue
		}
		if !o.CreatedAt.Before(query.CreatedBefore) {
			continue
		}
		matched := false
		for _, m := range query.Methods {
			if o.PaymentMethod == m {
				matched = true
			}
		}
		if matched {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

type memHistoryRepo struct{ store *memStore }

func (r memHistoryRepo) Append(_ context.Context, entry domain.OrderHistoryEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.appendHistoryErr != nil {
		return r.store.appendHistoryErr
	}
	r.store.data.history = append(r.store.data.history, entry)
	return nil
}

func (r memHistoryRepo) ListByOrder(_ context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.OrderHistoryEntry
	for _, entry := range r.store.data.history {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// sequentialIDs returns deterministic identifiers "01", "02", ...
func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%02d", n)
	}
}

type logRecorder struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (l *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.fields = append(l.fields, fields)
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

type captureNotifier struct {
	mu     sync.Mutex
	events []OrderStatusChangedEvent
	err    error
}

func (c *captureNotifier) NotifyOrderStatusChanged(_ context.Context, event OrderStatusChangedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

// zeroReader makes the order code generator emit the same suffix every time.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func testTierConfig() config.TierConfig {
	return config.TierConfig{
		Silver:   money("2000000"),
		Gold:     money("10000000"),
		Platinum: money("30000000"),
	}
}

func testCheckoutConfig() config.CheckoutConfig {
	return config.CheckoutConfig{
		OrderCodePrefix: "DH",
		OrderCodeDigits: 6,
		MaxCodeAttempts: 3,
		PromotionPolicy: config.PromotionPolicyBestEffort,
		UnpaidOrderTTL:  30 * time.Minute,
	}
}

// testCore wires every service against one memStore the way cmd/api does against Postgres.
type testCore struct {
	store     *memStore
	logs      *logRecorder
	notifier  *captureNotifier
	pricing   *PricingEngine
	inventory InventoryService
	ledger    CustomerLedger
	promos    PromotionService
	orders    OrderService
	checkout  CheckoutService
	codes     *OrderCodeGenerator
}

type testCoreOption func(*CheckoutServiceDeps)

func withPromotionPolicy(policy string) testCoreOption {
	return func(deps *CheckoutServiceDeps) { deps.PromotionPolicy = policy }
}

func withPayments(checker PaymentMethodChecker) testCoreOption {
	return func(deps *CheckoutServiceDeps) { deps.Payments = checker }
}

func newTestCore(t *testing.T, opts ...testCoreOption) *testCore {
	t.Helper()
	store := newMemStore()
	logs := &logRecorder{}
	notifier := &captureNotifier{}
	clock := func() time.Time { return testNow }
	ids := sequentialIDs()

	pricing := newTestPricingEngine(t)
	inventory, err := NewInventoryService(InventoryServiceDeps{Products: memProductRepo{store}, Logger: logs.log})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	ledger, err := NewCustomerLedger(CustomerLedgerDeps{Customers: memCustomerRepo{store}, Tiers: testTierConfig(), Logger: logs.log})
	if err != nil {
		t.Fatalf("NewCustomerLedger: %v", err)
	}
	promos, err := NewPromotionService(PromotionServiceDeps{
		Promotions:  memPromotionRepo{store},
		Usage:       memUsageRepo{store},
		Customers:   memCustomerRepo{store},
		Pricing:     pricing,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:      memOrderRepo{store},
		History:     memHistoryRepo{store},
		Inventory:   inventory,
		Customers:   ledger,
		UnitOfWork:  memUnitOfWork{store},
		Notifier:    notifier,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	codes, err := NewOrderCodeGenerator(testCheckoutConfig())
	if err != nil {
		t.Fatalf("NewOrderCodeGenerator: %v", err)
	}

	deps := CheckoutServiceDeps{
		Customers:       memCustomerRepo{store},
		Products:        memProductRepo{store},
		Orders:          memOrderRepo{store},
		History:         memHistoryRepo{store},
		Carts:           memCartRepo{store},
		Inventory:       inventory,
		Promotions:      promos,
		Ledger:          ledger,
		Pricing:         pricing,
		Codes:           codes,
		Payments:        allGateways{},
		UnitOfWork:      memUnitOfWork{store},
		PromotionPolicy: testCheckoutConfig().PromotionPolicy,
		MaxCodeAttempts: testCheckoutConfig().MaxCodeAttempts,
		Clock:           clock,
		IDGenerator:     ids,
		Logger:          logs.log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	checkout, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	return &testCore{
		store:     store,
		logs:      logs,
		notifier:  notifier,
		pricing:   pricing,
		inventory: inventory,
		ledger:    ledger,
		promos:    promos,
		orders:    orders,
		checkout:  checkout,
		codes:     codes,
	}
}

type allGateways struct{}

func (allGateways) Supports(method domain.PaymentMethod) bool { return method.IsGateway() }

func int64Ptr(v int64) *int64 { return &v }

func decimalPtr(v string) *decimal.Decimal {
	d := money(v)
	return &d
}

func timePtr(v time.Time) *time.Time { return &v }

func seedCatalog(store *memStore) {
	store.addProduct(domain.Product{ID: "prd_vitc", Name: "Vitamin C 500mg", Price: money("120000"), DiscountPercent: money("0"), Stock: 10})
	store.addProduct(domain.Product{ID: "prd_mask", Name: "Surgical mask (50)", Price: money("80000"), DiscountPercent: money("25"), Stock: 5})
	store.addProduct(domain.Product{ID: "prd_last", Name: "Glucose meter", Price: money("650000"), DiscountPercent: money("0"), Stock: 1})
	store.addCustomer(domain.Customer{ID: "cus_an", Name: "An", Tier: domain.CustomerTierMember, LoyaltyPoints: 50, TotalSpent: money("0")})
}

func defaultReceiver() ReceiverInfo {
	return ReceiverInfo{Name: "Nguyen Van An", Phone: "0901234567", Address: "12 Ly Thuong Kiet, Ha Noi"}
}

func assertEventLogged(t *testing.T, logs *logRecorder, event string) {
	t.Helper()
	if !logs.has(event) {
		t.Fatalf("expected %s to be logged, got %s", event, strings.Join(logs.events, ", "))
	}
}
