package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, unit, sell_by_fraction, min_stock, max_stock, price_cents, cost_cents, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.SKU, product.Name, product.Unit, product.SellByFraction,
		product.MinStock, product.MaxStock, product.PriceCents, product.CostCents, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate sku %s", store.ErrInvalidRequest, product.SKU)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, unit, sell_by_fraction, min_stock, max_stock, price_cents, cost_cents, active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.SKU, &product.Name, &product.Unit, &product.SellByFraction,
		&product.MinStock, &product.MaxStock, &product.PriceCents, &product.CostCents, &product.Active, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, unit, sell_by_fraction, min_stock, max_stock, price_cents, cost_cents, active, created_at
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.SellByFraction,
			&p.MinStock, &p.MaxStock, &p.PriceCents, &p.CostCents, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, unit, sell_by_fraction, min_stock, max_stock, price_cents, cost_cents, active, created_at
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.SellByFraction,
			&p.MinStock, &p.MaxStock, &p.PriceCents, &p.CostCents, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) TotalStock(ctx context.Context, productID string) (int, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrNotFound
	}

	var total int
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty), 0)::int
		FROM inventory_batches
		WHERE product_id = $1 AND qty > 0
	`, productID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) BatchTotals(ctx context.Context, productIDs []string) (map[string]int, error) {
	totals := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return totals, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, COALESCE(SUM(qty), 0)::int
		FROM inventory_batches
		WHERE product_id = ANY($1) AND qty > 0
		GROUP BY product_id
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		totals[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range productIDs {
		if _, ok := totals[id]; !ok {
			totals[id] = 0
		}
	}
	return totals, nil
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.InventoryBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, qty, lot_code, supplier_id, expires_at, received_at
		FROM inventory_batches
		WHERE product_id = $1 AND qty > 0
		ORDER BY received_at ASC, id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.InventoryBatch, 0, 32)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) ReceiveBatch(ctx context.Context, batch domain.InventoryBatch, movement domain.StockMovement) (*domain.InventoryBatch, error) {
	if batch.ProductID == "" || batch.Qty < 1 {
		return nil, store.ErrInvalidRequest
	}
	if batch.ID == "" {
		batch.ID = xid.New("batch")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, batch.ProductID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_batches (id, product_id, qty, lot_code, supplier_id, expires_at, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, batch.ID, batch.ProductID, batch.Qty, batch.LotCode, nullIfEmpty(batch.SupplierID), nullTime(batch.ExpiresAt), batch.ReceivedAt)
	if err != nil {
		return nil, wrapTxErr(err)
	}

	if err := insertMovementTx(ctx, tx, movement); err != nil {
		return nil, wrapTxErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr(err)
	}
	created := batch
	return &created, nil
}

func (s *Store) DepleteStock(ctx context.Context, productID string, qty int, movement domain.StockMovement) error {
	if qty < 1 {
		return store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}

	if err := depleteBatchesTx(ctx, tx, productID, qty); err != nil {
		return wrapTxErr(err)
	}
	if err := insertMovementTx(ctx, tx, movement); err != nil {
		return wrapTxErr(err)
	}
	return wrapTxErr(tx.Commit())
}

func (s *Store) ReconcileStock(ctx context.Context, productID string, targetQty int, movement domain.StockMovement) (*domain.ReconcileResponse, error) {
	if targetQty < 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	// Aggregates cannot take row locks, so lock in a subquery first.
	var current int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty), 0)::int FROM (
			SELECT qty FROM inventory_batches
			WHERE product_id = $1 AND qty > 0
			FOR UPDATE
		) locked
	`, productID).Scan(&current)
	if err != nil {
		return nil, wrapTxErr(err)
	}

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
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_batches (id, product_id, qty, lot_code, received_at)
			VALUES ($1,$2,$3,$4,$5)
		`, xid.New("batch"), productID, targetQty-current, "ADJ-"+movement.ID, time.Now().UTC())
		if err != nil {
			return nil, wrapTxErr(err)
		}
		resp.Outcome = domain.ReconcileIncreased
	default:
		if err := depleteBatchesTx(ctx, tx, productID, current-targetQty); err != nil {
			return nil, wrapTxErr(err)
		}
		resp.Outcome = domain.ReconcileDecreased
	}

	if err := insertMovementTx(ctx, tx, movement); err != nil {
		return nil, wrapTxErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr(err)
	}
	return resp, nil
}

func (s *Store) ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, kind, qty, note, reference, actor, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		var reference sql.NullString
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Kind, &m.Qty, &m.Note, &reference, &m.Actor, &m.CreatedAt); err != nil {
			return nil, err
		}
		if reference.Valid {
			m.Reference = reference.String
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateCombo(ctx context.Context, combo domain.Combo) (*domain.Combo, error) {
	if combo.Name == "" || combo.PriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}
	for _, component := range combo.Components {
		if component.ProductID == "" || component.QtyPerCombo < 1 {
			return nil, store.ErrInvalidRequest
		}
	}
	if combo.ID == "" {
		combo.ID = xid.New("combo")
	}
	if combo.CreatedAt.IsZero() {
		combo.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO combos (id, name, price_cents, active_from, active_until, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, combo.ID, combo.Name, combo.PriceCents, nullTime(combo.ActiveFrom), nullTime(combo.ActiveUntil), combo.CreatedAt)
	if err != nil {
		return nil, wrapTxErr(err)
	}

	for _, component := range combo.Components {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO combo_components (combo_id, product_id, qty_per_combo)
			VALUES ($1,$2,$3)
		`, combo.ID, component.ProductID, component.QtyPerCombo)
		if err != nil {
			return nil, wrapTxErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr(err)
	}
	created := combo
	return &created, nil
}

func (s *Store) GetCombo(ctx context.Context, id string) (*domain.Combo, error) {
	var combo domain.Combo
	var activeFrom, activeUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_cents, active_from, active_until, created_at
		FROM combos
		WHERE id = $1
	`, id).Scan(&combo.ID, &combo.Name, &combo.PriceCents, &activeFrom, &activeUntil, &combo.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if activeFrom.Valid {
		at := activeFrom.Time.UTC()
		combo.ActiveFrom = &at
	}
	if activeUntil.Valid {
		at := activeUntil.Time.UTC()
		combo.ActiveUntil = &at
	}
	combo.CreatedAt = combo.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty_per_combo
		FROM combo_components
		WHERE combo_id = $1
		ORDER BY product_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	components := make([]domain.ComboComponent, 0, 8)
	for rows.Next() {
		var component domain.ComboComponent
		if err := rows.Scan(&component.ProductID, &component.QtyPerCombo); err != nil {
			return nil, err
		}
		components = append(components, component)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	combo.Components = components
	return &combo, nil
}

func (s *Store) ListCombos(ctx context.Context) ([]domain.Combo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.price_cents, c.active_from, c.active_until, c.created_at,
			cc.product_id, cc.qty_per_combo
		FROM combos c
		LEFT JOIN combo_components cc ON cc.combo_id = c.id
		ORDER BY c.name, cc.product_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	combos := make([]domain.Combo, 0, 16)
	index := make(map[string]int, 16)
	for rows.Next() {
		var combo domain.Combo
		var activeFrom, activeUntil sql.NullTime
		var productID sql.NullString
		var qtyPer sql.NullInt64
		if err := rows.Scan(&combo.ID, &combo.Name, &combo.PriceCents, &activeFrom, &activeUntil, &combo.CreatedAt, &productID, &qtyPer); err != nil {
			return nil, err
		}
		pos, seen := index[combo.ID]
		if !seen {
			if activeFrom.Valid {
				at := activeFrom.Time.UTC()
				combo.ActiveFrom = &at
			}
			if activeUntil.Valid {
				at := activeUntil.Time.UTC()
				combo.ActiveUntil = &at
			}
			combo.CreatedAt = combo.CreatedAt.UTC()
			combo.Components = make([]domain.ComboComponent, 0, 4)
			combos = append(combos, combo)
			pos = len(combos) - 1
			index[combo.ID] = pos
		}
		if productID.Valid {
			combos[pos].Components = append(combos[pos].Components, domain.ComboComponent{
				ProductID:   productID.String,
				QtyPerCombo: int(qtyPer.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return combos, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, credit_limit_cents, balance_cents, credit_enabled, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.Name, customer.CreditLimitCents, customer.BalanceCents, customer.CreditEnabled, customer.Active, customer.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, credit_limit_cents, balance_cents, credit_enabled, active, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.CreditLimitCents, &customer.BalanceCents,
		&customer.CreditEnabled, &customer.Active, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, credit_limit_cents, balance_cents, credit_enabled, active, created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.CreditLimitCents, &c.BalanceCents, &c.CreditEnabled, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CommitSale(ctx context.Context, sale domain.Sale, depletions []domain.ProductQty) (*domain.Sale, error) {
	if len(sale.Lines) == 0 || len(depletions) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusActive

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock every affected product's batches up front so the availability
	// check and depletion run against the same snapshot.
	for _, depletion := range depletions {
		if depletion.Qty < 1 {
			return nil, store.ErrInvalidRequest
		}
		var total int
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(qty), 0)::int FROM (
				SELECT qty FROM inventory_batches
				WHERE product_id = $1 AND qty > 0
				FOR UPDATE
			) locked
		`, depletion.ProductID).Scan(&total)
		if err != nil {
			return nil, wrapTxErr(err)
		}
		if total < depletion.Qty {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, depletion.ProductID)
		}
	}

	if sale.PaymentMethod == domain.PaymentOnAccount {
		var limit, balance int64
		err = tx.QueryRowContext(ctx, `
			SELECT credit_limit_cents, balance_cents
			FROM customers
			WHERE id = $1
			FOR UPDATE
		`, sale.CustomerID).Scan(&limit, &balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, sale.CustomerID)
			}
			return nil, wrapTxErr(err)
		}
		available := limit + balance
		if available < 0 {
			available = 0
		}
		if sale.TotalCents > available {
			return nil, store.ErrCreditExceeded
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE customers
			SET balance_cents = balance_cents - $2
			WHERE id = $1
		`, sale.CustomerID, sale.TotalCents)
		if err != nil {
			return nil, wrapTxErr(err)
		}
	}

	if err := tx.QueryRowContext(ctx, `SELECT nextval('sale_number_seq')`).Scan(&sale.Number); err != nil {
		return nil, wrapTxErr(err)
	}

	for _, depletion := range depletions {
		if err := depleteBatchesTx(ctx, tx, depletion.ProductID, depletion.Qty); err != nil {
			return nil, wrapTxErr(err)
		}
		movement := domain.StockMovement{
			ID:        xid.New("mov"),
			ProductID: depletion.ProductID,
			Kind:      domain.MovementSale,
			Qty:       depletion.Qty,
			Note:      fmt.Sprintf("sale %d", sale.Number),
			Reference: sale.ID,
			Actor:     sale.CreatedBy,
			CreatedAt: sale.CreatedAt,
		}
		if err := insertMovementTx(ctx, tx, movement); err != nil {
			return nil, wrapTxErr(err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, number, customer_id, payment_method, subtotal_cents, discount_cents,
			total_cents, paid_cents, pending_cents, payment_status, status, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.Number, nullIfEmpty(sale.CustomerID), sale.PaymentMethod,
		sale.SubtotalCents, sale.DiscountCents, sale.TotalCents, sale.PaidCents,
		sale.PendingCents, sale.PaymentStatus, sale.Status, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		return nil, wrapTxErr(err)
	}

	for _, line := range sale.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, combo_id, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, nullIfEmpty(line.ProductID), nullIfEmpty(line.ComboID), line.Qty, line.UnitPriceCents)
		if err != nil {
			return nil, wrapTxErr(err)
		}
	}

	for _, payment := range sale.Payments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_payments (sale_id, method, amount_cents, reference)
			VALUES ($1,$2,$3,$4)
		`, sale.ID, payment.Method, payment.AmountCents, nullIfEmpty(payment.Reference))
		if err != nil {
			return nil, wrapTxErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr(err)
	}
	committed := sale
	return &committed, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := s.scanSaleHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadSaleChildren(ctx, sale); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, COALESCE(customer_id,''), payment_method, subtotal_cents, discount_cents,
			total_cents, paid_cents, pending_cents, payment_status, status, created_by, created_at, cancelled_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY number DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var cancelledAt sql.NullTime
		if err := rows.Scan(&sale.ID, &sale.Number, &sale.CustomerID, &sale.PaymentMethod,
			&sale.SubtotalCents, &sale.DiscountCents, &sale.TotalCents, &sale.PaidCents,
			&sale.PendingCents, &sale.PaymentStatus, &sale.Status, &sale.CreatedBy,
			&sale.CreatedAt, &cancelledAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		if cancelledAt.Valid {
			at := cancelledAt.Time.UTC()
			sale.CancelledAt = &at
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CancelSale(ctx context.Context, saleID string, record domain.CancellationRecord, restock []domain.ProductQty) (*domain.Sale, error) {
	if record.ID == "" {
		record.ID = xid.New("cancel")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapTxErr(err)
	}
	if status != domain.SaleStatusActive {
		return nil, fmt.Errorf("%w: sale already cancelled", store.ErrInvalidRequest)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, cancelled_at = $3
		WHERE id = $1
	`, saleID, domain.SaleStatusCancelled, record.CreatedAt)
	if err != nil {
		return nil, wrapTxErr(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sale_cancellations (id, sale_id, cancelled_by, role, reason, original_total_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, record.ID, saleID, record.CancelledBy, record.Role, record.Reason, record.OriginalTotalCents, record.CreatedAt)
	if err != nil {
		return nil, wrapTxErr(err)
	}

	for _, item := range restock {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_batches (id, product_id, qty, lot_code, received_at)
			VALUES ($1,$2,$3,$4,$5)
		`, xid.New("batch"), item.ProductID, item.Qty, "CANCEL-"+saleID, record.CreatedAt)
		if err != nil {
			return nil, wrapTxErr(err)
		}
		movement := domain.StockMovement{
			ID:        xid.New("mov"),
			ProductID: item.ProductID,
			Kind:      domain.MovementEntry,
			Qty:       item.Qty,
			Note:      "restock from cancellation",
			Reference: saleID,
			Actor:     record.CancelledBy,
			CreatedAt: record.CreatedAt,
		}
		if err := insertMovementTx(ctx, tx, movement); err != nil {
			return nil, wrapTxErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr(err)
	}
	return s.GetSale(ctx, saleID)
}

func (s *Store) SaleDepletions(ctx context.Context, saleID string) ([]domain.ProductQty, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, saleID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, COALESCE(SUM(qty), 0)::int
		FROM stock_movements
		WHERE kind = $1 AND reference = $2
		GROUP BY product_id
		ORDER BY product_id
	`, domain.MovementSale, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depletions := make([]domain.ProductQty, 0, 8)
	for rows.Next() {
		var item domain.ProductQty
		if err := rows.Scan(&item.ProductID, &item.Qty); err != nil {
			return nil, err
		}
		depletions = append(depletions, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return depletions, nil
}

func (s *Store) OpenCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.Cashier == "" || session.OpeningCents <= 0 {
		return nil, store.ErrInvalidRequest
	}
	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen

	// A partial unique index on (cashier) WHERE status = 'open' makes the
	// one-open-session rule a database constraint rather than a query.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, cashier, opening_cents, status, opened_at, counted_cents, expected_cents, difference_cents)
		VALUES ($1,$2,$3,$4,$5,0,0,0)
	`, session.ID, session.Cashier, session.OpeningCents, session.Status, session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: open session already exists for %s", store.ErrInvariant, session.Cashier)
		}
		return nil, err
	}
	created := session
	return &created, nil
}

func (s *Store) GetCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	var session domain.CashSession
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cashier, opening_cents, status, opened_at, closed_at, counted_cents, expected_cents, difference_cents
		FROM cash_sessions
		WHERE id = $1
	`, id).Scan(&session.ID, &session.Cashier, &session.OpeningCents, &session.Status,
		&session.OpenedAt, &closedAt, &session.CountedCents, &session.ExpectedCents, &session.DifferenceCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	if err := s.loadSessionCounts(ctx, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetOpenSessionByActor(ctx context.Context, actor string) (*domain.CashSession, error) {
	var session domain.CashSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cashier, opening_cents, status, opened_at, counted_cents, expected_cents, difference_cents
		FROM cash_sessions
		WHERE cashier = $1 AND status = $2
	`, actor, domain.SessionStatusOpen).Scan(&session.ID, &session.Cashier, &session.OpeningCents,
		&session.Status, &session.OpenedAt, &session.CountedCents, &session.ExpectedCents, &session.DifferenceCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if err := s.loadSessionCounts(ctx, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) UpsertDenominationCount(ctx context.Context, sessionID string, denominationCents int64, count int) error {
	if denominationCents < 1 {
		return store.ErrInvalidRequest
	}
	if count < 0 {
		count = 0
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status
		FROM cash_sessions
		WHERE id = $1
		FOR UPDATE
	`, sessionID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return wrapTxErr(err)
	}
	if status != domain.SessionStatusOpen {
		return fmt.Errorf("%w: session %s is not open", store.ErrInvariant, sessionID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_session_counts (session_id, denomination_cents, count)
		VALUES ($1,$2,$3)
		ON CONFLICT (session_id, denomination_cents)
		DO UPDATE SET count = EXCLUDED.count
	`, sessionID, denominationCents, count)
	if err != nil {
		return wrapTxErr(err)
	}
	return wrapTxErr(tx.Commit())
}

func (s *Store) CloseCashSession(ctx context.Context, sessionID string, countedCents int64, expectedCents int64, differenceCents int64, closedAt time.Time) (*domain.CashSession, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE cash_sessions
		SET status = $2, counted_cents = $3, expected_cents = $4, difference_cents = $5, closed_at = $6
		WHERE id = $1 AND status = $7
	`, sessionID, domain.SessionStatusClosed, countedCents, expectedCents, differenceCents, closedAt, domain.SessionStatusOpen)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, lookupErr := s.GetCashSession(ctx, sessionID); errors.Is(lookupErr, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: session %s is not open", store.ErrInvariant, sessionID)
	}
	return s.GetCashSession(ctx, sessionID)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) scanSaleHeader(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var cancelledAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, COALESCE(customer_id,''), payment_method, subtotal_cents, discount_cents,
			total_cents, paid_cents, pending_cents, payment_status, status, created_by, created_at, cancelled_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.Number, &sale.CustomerID, &sale.PaymentMethod,
		&sale.SubtotalCents, &sale.DiscountCents, &sale.TotalCents, &sale.PaidCents,
		&sale.PendingCents, &sale.PaymentStatus, &sale.Status, &sale.CreatedBy,
		&sale.CreatedAt, &cancelledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	return &sale, nil
}

func (s *Store) loadSaleChildren(ctx context.Context, sale *domain.Sale) error {
	lineRows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(product_id,''), COALESCE(combo_id,''), qty, unit_price_cents
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return err
	}
	lines := make([]domain.SaleLine, 0, 8)
	for lineRows.Next() {
		var line domain.SaleLine
		if err := lineRows.Scan(&line.ProductID, &line.ComboID, &line.Qty, &line.UnitPriceCents); err != nil {
			_ = lineRows.Close()
			return err
		}
		lines = append(lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return err
	}
	_ = lineRows.Close()
	sale.Lines = lines

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT method, amount_cents, COALESCE(reference,'')
		FROM sale_payments
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return err
	}
	payments := make([]domain.SalePayment, 0, 4)
	for paymentRows.Next() {
		var payment domain.SalePayment
		if err := paymentRows.Scan(&payment.Method, &payment.AmountCents, &payment.Reference); err != nil {
			_ = paymentRows.Close()
			return err
		}
		payments = append(payments, payment)
	}
	if err := paymentRows.Err(); err != nil {
		_ = paymentRows.Close()
		return err
	}
	_ = paymentRows.Close()
	sale.Payments = payments
	return nil
}

func (s *Store) loadSessionCounts(ctx context.Context, session *domain.CashSession) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT denomination_cents, count
		FROM cash_session_counts
		WHERE session_id = $1
		ORDER BY denomination_cents DESC
	`, session.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	counts := make([]domain.DenominationCount, 0, 8)
	for rows.Next() {
		var count domain.DenominationCount
		if err := rows.Scan(&count.DenominationCents, &count.Count); err != nil {
			return err
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	session.Counts = counts
	return nil
}

// depleteBatchesTx walks batches oldest first and subtracts qty. The caller
// has already locked the rows and verified availability; running short here
// means the plan was stale, so the transaction must fail.
func depleteBatchesTx(ctx context.Context, tx *sql.Tx, productID string, qty int) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, qty
		FROM inventory_batches
		WHERE product_id = $1 AND qty > 0
		ORDER BY received_at ASC, id ASC
		FOR UPDATE
	`, productID)
	if err != nil {
		return err
	}
	type batchState struct {
		id        string
		available int
	}
	batches := make([]batchState, 0, 8)
	for rows.Next() {
		var b batchState
		if err := rows.Scan(&b.id, &b.available); err != nil {
			_ = rows.Close()
			return err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	remaining := qty
	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		used := batch.available
		if used > remaining {
			used = remaining
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE inventory_batches
			SET qty = qty - $1
			WHERE id = $2
		`, used, batch.id)
		if err != nil {
			return err
		}
		remaining -= used
	}
	if remaining > 0 {
		return fmt.Errorf("%w: product %s", store.ErrInsufficientStock, productID)
	}
	return nil
}

func insertMovementTx(ctx context.Context, tx *sql.Tx, movement domain.StockMovement) error {
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, kind, qty, note, reference, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, movement.ID, movement.ProductID, movement.Kind, movement.Qty, movement.Note,
		nullIfEmpty(movement.Reference), movement.Actor, movement.CreatedAt)
	return err
}

type batchScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row batchScanner) (domain.InventoryBatch, error) {
	var batch domain.InventoryBatch
	var supplierID sql.NullString
	var expiresAt sql.NullTime
	if err := row.Scan(&batch.ID, &batch.ProductID, &batch.Qty, &batch.LotCode, &supplierID, &expiresAt, &batch.ReceivedAt); err != nil {
		return batch, err
	}
	if supplierID.Valid {
		batch.SupplierID = supplierID.String
	}
	if expiresAt.Valid {
		at := expiresAt.Time.UTC()
		batch.ExpiresAt = &at
	}
	batch.ReceivedAt = batch.ReceivedAt.UTC()
	return batch, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// wrapTxErr surfaces serialization failures and deadlocks as ErrConflict so
// callers can retry the whole operation.
func wrapTxErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Code)
		}
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
