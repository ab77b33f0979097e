package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	products           map[string]domain.Product
	batches            map[string][]domain.InventoryBatch
	movements          map[string][]domain.StockMovement
	combos             map[string]domain.Combo
	customers          map[string]domain.Customer
	salesByID          map[string]*domain.Sale
	cancellations      map[string]domain.CancellationRecord
	sessionsByID       map[string]domain.CashSession
	openSessionByActor map[string]string
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
	saleSeq            int64
}

func New() *Store {
	return &Store{
		products:           make(map[string]domain.Product),
		batches:            make(map[string][]domain.InventoryBatch),
		movements:          make(map[string][]domain.StockMovement),
		combos:             make(map[string]domain.Combo),
		customers:          make(map[string]domain.Customer),
		salesByID:          make(map[string]*domain.Sale),
		cancellations:      make(map[string]domain.CancellationRecord),
		sessionsByID:       make(map[string]domain.CashSession),
		openSessionByActor: make(map[string]string),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"gerente", adminPwd, domain.RoleManager},
		{"cajero", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-agua", SKU: "AGUA-600", Name: "Agua Mineral 600ml", Unit: "unidad", MinStock: 24, MaxStock: 240, PriceCents: 90000, CostCents: 55000, Active: true, CreatedAt: now},
		{ID: "prod-cola", SKU: "COLA-15", Name: "Gaseosa Cola 1.5L", Unit: "unidad", MinStock: 12, MaxStock: 120, PriceCents: 250000, CostCents: 170000, Active: true, CreatedAt: now},
		{ID: "prod-pan", SKU: "PAN-KG", Name: "Pan Frances", Unit: "kg", SellByFraction: true, MinStock: 5, MaxStock: 40, PriceCents: 180000, CostCents: 95000, Active: true, CreatedAt: now},
		{ID: "prod-queso", SKU: "QUESO-KG", Name: "Queso Cremoso", Unit: "kg", SellByFraction: true, MinStock: 3, MaxStock: 25, PriceCents: 650000, CostCents: 430000, Active: true, CreatedAt: now},
		{ID: "prod-fideos", SKU: "FIDEOS-500", Name: "Fideos Secos 500g", Unit: "unidad", MinStock: 20, MaxStock: 200, PriceCents: 140000, CostCents: 88000, Active: true, CreatedAt: now},
	}
	for i, p := range products {
		s.products[p.ID] = p
		s.batches[p.ID] = []domain.InventoryBatch{{
			ID:         xid.New("batch"),
			ProductID:  p.ID,
			Qty:        60,
			LotCode:    fmt.Sprintf("SEED-%02d", i+1),
			ReceivedAt: now.Add(-24 * time.Hour),
		}}
	}

	s.combos["combo-merienda"] = domain.Combo{
		ID:         "combo-merienda",
		Name:       "Combo Merienda",
		PriceCents: 750000,
		Components: []domain.ComboComponent{
			{ProductID: "prod-pan", QtyPerCombo: 1},
			{ProductID: "prod-queso", QtyPerCombo: 1},
		},
		CreatedAt: now,
	}

	s.customers["cust-lopez"] = domain.Customer{
		ID: "cust-lopez", Name: "Familia Lopez", CreditLimitCents: 5000000,
		BalanceCents: 0, CreditEnabled: true, Active: true, CreatedAt: now,
	}
	s.customers["cust-moroso"] = domain.Customer{
		ID: "cust-moroso", Name: "Cliente Sin Credito", CreditLimitCents: 0,
		BalanceCents: 0, CreditEnabled: false, Active: true, CreatedAt: now,
	}

	return s
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return nil, fmt.Errorf("%w: duplicate sku %s", store.ErrInvalidRequest, product.SKU)
		}
	}

	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, exists := s.products[id]; exists && product.Active {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) TotalStock(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.products[productID]; !exists {
		return 0, store.ErrNotFound
	}
	return s.totalLocked(productID), nil
}

func (s *Store) BatchTotals(_ context.Context, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		totals[id] = s.totalLocked(id)
	}
	return totals, nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.InventoryBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := s.batches[productID]
	out := make([]domain.InventoryBatch, 0, len(batches))
	for _, batch := range batches {
		if batch.Qty > 0 {
			out = append(out, batch)
		}
	}
	return out, nil
}

func (s *Store) ReceiveBatch(_ context.Context, batch domain.InventoryBatch, movement domain.StockMovement) (*domain.InventoryBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.ProductID == "" || batch.Qty < 1 {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.products[batch.ProductID]; !exists {
		return nil, store.ErrNotFound
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	s.batches[batch.ProductID] = append(s.batches[batch.ProductID], batch)
	s.sortBatchesLocked(batch.ProductID)
	s.appendMovementLocked(movement)

	created := batch
	return &created, nil
}

func (s *Store) DepleteStock(_ context.Context, productID string, qty int, movement domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		return store.ErrInvalidRequest
	}
	if _, exists := s.products[productID]; !exists {
		return store.ErrNotFound
	}
	if s.totalLocked(productID) < qty {
		return store.ErrInsufficientStock
	}
	s.depleteLocked(productID, qty)
	s.appendMovementLocked(movement)
	return nil
}

func (s *Store) ReconcileStock(_ context.Context, productID string, targetQty int, movement domain.StockMovement) (*domain.ReconcileResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if targetQty < 0 {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.products[productID]; !exists {
		return nil, store.ErrNotFound
	}

	current := s.totalLocked(productID)
	resp := &domain.ReconcileResponse{
		ProductID:   productID,
		PreviousQty: current,
		TargetQty:   targetQty,
		DeltaQty:    targetQty - current,
	}

	// The movement is written for every outcome, no_change included; it
	// records the counted target, not the ledger delta.
	switch {
	case targetQty == current:
		resp.Outcome = domain.ReconcileNoChange
	case targetQty > current:
		s.batches[productID] = append(s.batches[productID], domain.InventoryBatch{
			ID:         xid.New("batch"),
			ProductID:  productID,
			Qty:        targetQty - current,
			LotCode:    "ADJ-" + movement.ID,
			ReceivedAt: time.Now().UTC(),
		})
		s.sortBatchesLocked(productID)
		resp.Outcome = domain.ReconcileIncreased
	default:
		s.depleteLocked(productID, current-targetQty)
		resp.Outcome = domain.ReconcileDecreased
	}

	s.appendMovementLocked(movement)
	return resp, nil
}

func (s *Store) ListMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	movements := s.movements[productID]
	out := make([]domain.StockMovement, 0, limit)
	for i := len(movements) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, movements[i])
	}
	return out, nil
}

func (s *Store) CreateCombo(_ context.Context, combo domain.Combo) (*domain.Combo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if combo.Name == "" || combo.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	for _, component := range combo.Components {
		if component.QtyPerCombo < 1 {
			return nil, store.ErrInvalidRequest
		}
		if _, exists := s.products[component.ProductID]; !exists {
			return nil, fmt.Errorf("%w: component product %s", store.ErrNotFound, component.ProductID)
		}
	}
	if combo.ID == "" {
		combo.ID = xid.New("combo")
	}
	if combo.CreatedAt.IsZero() {
		combo.CreatedAt = time.Now().UTC()
	}

	s.combos[combo.ID] = combo
	created := combo
	return &created, nil
}

func (s *Store) GetCombo(_ context.Context, id string) (*domain.Combo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	combo, exists := s.combos[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := combo
	copied.Components = slices.Clone(combo.Components)
	return &copied, nil
}

func (s *Store) ListCombos(_ context.Context) ([]domain.Combo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	combos := make([]domain.Combo, 0, len(s.combos))
	for _, combo := range s.combos {
		combo.Components = slices.Clone(combo.Components)
		combos = append(combos, combo)
	}
	slices.SortFunc(combos, func(a, b domain.Combo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return combos, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" || customer.CreditLimitCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.Active = true

	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := customer
	return &copied, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale, depletions []domain.ProductQty) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Lines) == 0 || len(depletions) == 0 {
		return nil, store.ErrInvalidRequest
	}

	// All-or-nothing: verify every product before touching any batch.
	for _, depletion := range depletions {
		if depletion.Qty < 1 {
			return nil, store.ErrInvalidRequest
		}
		if _, exists := s.products[depletion.ProductID]; !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, depletion.ProductID)
		}
		if s.totalLocked(depletion.ProductID) < depletion.Qty {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, depletion.ProductID)
		}
	}

	var customer domain.Customer
	if sale.PaymentMethod == domain.PaymentOnAccount {
		var exists bool
		customer, exists = s.customers[sale.CustomerID]
		if !exists {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, sale.CustomerID)
		}
		available := customer.CreditLimitCents + customer.BalanceCents
		if available < 0 {
			available = 0
		}
		if sale.TotalCents > available {
			return nil, store.ErrCreditExceeded
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	s.saleSeq++
	sale.Number = s.saleSeq
	sale.Status = domain.SaleStatusActive

	for _, depletion := range depletions {
		s.depleteLocked(depletion.ProductID, depletion.Qty)
		s.appendMovementLocked(domain.StockMovement{
			ID:        xid.New("mov"),
			ProductID: depletion.ProductID,
			Kind:      domain.MovementSale,
			Qty:       depletion.Qty,
			Note:      fmt.Sprintf("sale %d", sale.Number),
			Reference: sale.ID,
			Actor:     sale.CreatedBy,
			CreatedAt: sale.CreatedAt,
		})
	}

	if sale.PaymentMethod == domain.PaymentOnAccount {
		customer.BalanceCents -= sale.TotalCents
		s.customers[customer.ID] = customer
	}

	stored := sale
	stored.Lines = slices.Clone(sale.Lines)
	stored.Payments = slices.Clone(sale.Payments)
	s.salesByID[sale.ID] = &stored

	result := stored
	return &result, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := *sale
	copied.Lines = slices.Clone(sale.Lines)
	copied.Payments = slices.Clone(sale.Payments)
	return &copied, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	sales := make([]domain.Sale, 0, limit)
	for _, sale := range s.salesByID {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		copied := *sale
		copied.Lines = slices.Clone(sale.Lines)
		copied.Payments = slices.Clone(sale.Payments)
		sales = append(sales, copied)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		switch {
		case a.Number < b.Number:
			return 1
		case a.Number > b.Number:
			return -1
		default:
			return 0
		}
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) CancelSale(_ context.Context, saleID string, record domain.CancellationRecord, restock []domain.ProductQty) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusActive {
		return nil, fmt.Errorf("%w: sale already cancelled", store.ErrInvalidRequest)
	}
	if record.ID == "" {
		record.ID = xid.New("cancel")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	at := record.CreatedAt
	sale.Status = domain.SaleStatusCancelled
	sale.CancelledAt = &at
	s.cancellations[record.ID] = record

	for _, item := range restock {
		s.batches[item.ProductID] = append(s.batches[item.ProductID], domain.InventoryBatch{
			ID:         xid.New("batch"),
			ProductID:  item.ProductID,
			Qty:        item.Qty,
			LotCode:    "CANCEL-" + saleID,
			ReceivedAt: at,
		})
		s.sortBatchesLocked(item.ProductID)
		s.appendMovementLocked(domain.StockMovement{
			ID:        xid.New("mov"),
			ProductID: item.ProductID,
			Kind:      domain.MovementEntry,
			Qty:       item.Qty,
			Note:      "restock from cancellation",
			Reference: saleID,
			Actor:     record.CancelledBy,
			CreatedAt: at,
		})
	}

	copied := *sale
	copied.Lines = slices.Clone(sale.Lines)
	copied.Payments = slices.Clone(sale.Payments)
	return &copied, nil
}

func (s *Store) SaleDepletions(_ context.Context, saleID string) ([]domain.ProductQty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.salesByID[saleID]; !exists {
		return nil, store.ErrNotFound
	}
	agg := make(map[string]int)
	order := make([]string, 0, 8)
	for productID, movements := range s.movements {
		for _, movement := range movements {
			if movement.Kind == domain.MovementSale && movement.Reference == saleID {
				if _, seen := agg[productID]; !seen {
					order = append(order, productID)
				}
				agg[productID] += movement.Qty
			}
		}
	}
	sort.Strings(order)
	out := make([]domain.ProductQty, 0, len(order))
	for _, productID := range order {
		out = append(out, domain.ProductQty{ProductID: productID, Qty: agg[productID]})
	}
	return out, nil
}

func (s *Store) OpenCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.Cashier == "" || session.OpeningCents <= 0 {
		return nil, store.ErrInvalidRequest
	}
	if _, open := s.openSessionByActor[session.Cashier]; open {
		return nil, fmt.Errorf("%w: open session already exists for %s", store.ErrInvariant, session.Cashier)
	}
	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen
	session.Counts = make([]domain.DenominationCount, 0, 8)

	s.sessionsByID[session.ID] = session
	s.openSessionByActor[session.Cashier] = session.ID
	created := session
	return &created, nil
}

func (s *Store) GetCashSession(_ context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := session
	copied.Counts = slices.Clone(session.Counts)
	return &copied, nil
}

func (s *Store) GetOpenSessionByActor(_ context.Context, actor string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, open := s.openSessionByActor[actor]
	if !open {
		return nil, store.ErrNotFound
	}
	session := s.sessionsByID[sessionID]
	copied := session
	copied.Counts = slices.Clone(session.Counts)
	return &copied, nil
}

func (s *Store) UpsertDenominationCount(_ context.Context, sessionID string, denominationCents int64, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists {
		return store.ErrNotFound
	}
	if session.Status != domain.SessionStatusOpen {
		return fmt.Errorf("%w: session %s is not open", store.ErrInvariant, sessionID)
	}
	if denominationCents < 1 {
		return store.ErrInvalidRequest
	}
	if count < 0 {
		count = 0
	}

	replaced := false
	for i, existing := range session.Counts {
		if existing.DenominationCents == denominationCents {
			session.Counts[i].Count = count
			replaced = true
			break
		}
	}
	if !replaced {
		session.Counts = append(session.Counts, domain.DenominationCount{
			DenominationCents: denominationCents,
			Count:             count,
		})
	}
	s.sessionsByID[sessionID] = session
	return nil
}

func (s *Store) CloseCashSession(_ context.Context, sessionID string, countedCents int64, expectedCents int64, differenceCents int64, closedAt time.Time) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, fmt.Errorf("%w: session %s is not open", store.ErrInvariant, sessionID)
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	session.Status = domain.SessionStatusClosed
	session.CountedCents = countedCents
	session.ExpectedCents = expectedCents
	session.DifferenceCents = differenceCents
	session.ClosedAt = &closedAt
	s.sessionsByID[sessionID] = session
	delete(s.openSessionByActor, session.Cashier)

	copied := session
	copied.Counts = slices.Clone(session.Counts)
	return &copied, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) totalLocked(productID string) int {
	total := 0
	for _, batch := range s.batches[productID] {
		total += batch.Qty
	}
	return total
}

// depleteLocked assumes availability was already verified under the same
// lock. It walks batches in FIFO order and drops exhausted ones.
func (s *Store) depleteLocked(productID string, qty int) {
	remaining := qty
	batches := s.batches[productID]
	kept := make([]domain.InventoryBatch, 0, len(batches))
	for _, batch := range batches {
		if remaining > 0 && batch.Qty > 0 {
			used := min(batch.Qty, remaining)
			batch.Qty -= used
			remaining -= used
		}
		if batch.Qty > 0 {
			kept = append(kept, batch)
		}
	}
	s.batches[productID] = kept
}

func (s *Store) sortBatchesLocked(productID string) {
	slices.SortStableFunc(s.batches[productID], func(a, b domain.InventoryBatch) int {
		if a.ReceivedAt.Equal(b.ReceivedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.ReceivedAt.Before(b.ReceivedAt) {
			return -1
		}
		return 1
	})
}

func (s *Store) appendMovementLocked(movement domain.StockMovement) {
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.movements[movement.ProductID] = append(s.movements[movement.ProductID], movement)
}
