/*
Package catalog provides the station's read-only master data.

PURPOSE:
  Shifts, pumps, nozzles, products with their prices, employees, customers,
  payment journals and loyalty rewards are owned by another system. The
  engine only reads them. This package loads them from a YAML file and
  serves every lookup interface the engine depends on.

INTERFACES IMPLEMENTED:
  shift.MasterData        Shifts, Nozzle, EmployeeName
  shift.PriceLookup       Prices (batched by product)
  shift.RewardResolver    ClaimableRewards
  reconcile.JournalLookup Journal

FILE FORMAT:
  shifts:
    - {id: 1, name: Morning, sequence: 1}
  pumps:
    - {id: 1, name: Pump 1}
  products:
    - {id: 100, name: Petrol, price: "102.50"}
  nozzles:
    - {id: 11, name: P1-N1, pump_id: 1, product_id: 100}
  employees:
    - {id: 7, name: Asha}
  customers:
    - {id: 501, name: FleetCo, loyalty_points: "250"}
  journals:
    - {id: 1, name: Cash, kind: cash}
  rewards:
    - {id: 9, name: Free wash, product_id: 100, required_points: "100", min_qty: "5"}

  Decimals are strings so prices keep their exact value.

SEE ALSO:
  - station.yaml: Sample station used by default and in tests
  - shift/collaborators.go: Lookup interfaces
*/
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/fuelstation/reconcile"
	"github.com/warp/fuelstation/shift"
	"gopkg.in/yaml.v3"
)

//go:embed station.yaml
var sampleStation []byte

// =============================================================================
// FILE ENTRIES
// =============================================================================

type ShiftEntry struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Sequence int    `yaml:"sequence"`
}

type PumpEntry struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

type ProductEntry struct {
	ID    int64  `yaml:"id"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
}

type NozzleEntry struct {
	ID        int64  `yaml:"id"`
	Name      string `yaml:"name"`
	PumpID    int64  `yaml:"pump_id"`
	ProductID int64  `yaml:"product_id"`
}

type EmployeeEntry struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

type CustomerEntry struct {
	ID            int64  `yaml:"id"`
	Name          string `yaml:"name"`
	LoyaltyPoints string `yaml:"loyalty_points"`
}

type JournalEntry struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// RewardEntry is a loyalty reward. ProductID 0 applies to every product.
type RewardEntry struct {
	ID             int64  `yaml:"id"`
	Name           string `yaml:"name"`
	ProductID      int64  `yaml:"product_id"`
	RequiredPoints string `yaml:"required_points"`
	MinQty         string `yaml:"min_qty"`
	CouponID       int64  `yaml:"coupon_id"`
}

// File is the YAML document.
type File struct {
	Shifts    []ShiftEntry    `yaml:"shifts"`
	Pumps     []PumpEntry     `yaml:"pumps"`
	Products  []ProductEntry  `yaml:"products"`
	Nozzles   []NozzleEntry   `yaml:"nozzles"`
	Employees []EmployeeEntry `yaml:"employees"`
	Customers []CustomerEntry `yaml:"customers"`
	Journals  []JournalEntry  `yaml:"journals"`
	Rewards   []RewardEntry   `yaml:"rewards"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Product is a fuel product with its current unit price.
type Product struct {
	ID    shift.ProductID
	Name  string
	Price decimal.Decimal
}

// Customer is a credit or loyalty customer.
type Customer struct {
	ID            shift.CustomerID
	Name          string
	LoyaltyPoints decimal.Decimal
}

type reward struct {
	shift.Reward
	productID shift.ProductID
	minQty    decimal.Decimal
}

// Catalog is the loaded, validated master data. It is immutable.
type Catalog struct {
	shifts    []shift.ShiftInfo
	pumps     map[shift.PumpID]string
	products  map[shift.ProductID]Product
	nozzles   map[shift.NozzleID]shift.NozzleInfo
	employees map[shift.EmployeeID]string
	customers map[shift.CustomerID]Customer
	journals  map[int64]reconcile.Journal
	rewards   []reward
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Default returns the bundled sample station.
func Default() *Catalog {
	c, err := Parse(sampleStation)
	if err != nil {
		panic(fmt.Sprintf("sample catalog is invalid: %v", err))
	}
	return c
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(f)
}

// New validates a decoded file and indexes it.
func New(f File) (*Catalog, error) {
	c := &Catalog{
		pumps:     make(map[shift.PumpID]string),
		products:  make(map[shift.ProductID]Product),
		nozzles:   make(map[shift.NozzleID]shift.NozzleInfo),
		employees: make(map[shift.EmployeeID]string),
		customers: make(map[shift.CustomerID]Customer),
		journals:  make(map[int64]reconcile.Journal),
	}

	sequences := make(map[int]bool)
	seenShift := make(map[int64]bool)
	for _, s := range f.Shifts {
		if s.ID <= 0 || seenShift[s.ID] {
			return nil, fmt.Errorf("catalog: shift id %d is missing or duplicated", s.ID)
		}
		if sequences[s.Sequence] {
			return nil, fmt.Errorf("catalog: shift %q reuses sequence %d", s.Name, s.Sequence)
		}
		seenShift[s.ID] = true
		sequences[s.Sequence] = true
		c.shifts = append(c.shifts, shift.ShiftInfo{ID: shift.ShiftID(s.ID), Name: s.Name, Sequence: s.Sequence})
	}
	sort.Slice(c.shifts, func(i, j int) bool { return c.shifts[i].Sequence < c.shifts[j].Sequence })

	for _, p := range f.Pumps {
		if p.ID <= 0 {
			return nil, fmt.Errorf("catalog: pump %q has no id", p.Name)
		}
		if _, dup := c.pumps[shift.PumpID(p.ID)]; dup {
			return nil, fmt.Errorf("catalog: duplicate pump %d", p.ID)
		}
		c.pumps[shift.PumpID(p.ID)] = p.Name
	}

	for _, p := range f.Products {
		price, err := parseAmount(p.Price, fmt.Sprintf("product %d price", p.ID))
		if err != nil {
			return nil, err
		}
		id := shift.ProductID(p.ID)
		if _, dup := c.products[id]; dup || p.ID <= 0 {
			return nil, fmt.Errorf("catalog: product id %d is missing or duplicated", p.ID)
		}
		c.products[id] = Product{ID: id, Name: p.Name, Price: price}
	}

	for _, n := range f.Nozzles {
		id := shift.NozzleID(n.ID)
		if _, dup := c.nozzles[id]; dup || n.ID <= 0 {
			return nil, fmt.Errorf("catalog: nozzle id %d is missing or duplicated", n.ID)
		}
		if _, ok := c.pumps[shift.PumpID(n.PumpID)]; !ok {
			return nil, fmt.Errorf("catalog: nozzle %d references unknown pump %d", n.ID, n.PumpID)
		}
		if _, ok := c.products[shift.ProductID(n.ProductID)]; !ok {
			return nil, fmt.Errorf("catalog: nozzle %d references unknown product %d", n.ID, n.ProductID)
		}
		c.nozzles[id] = shift.NozzleInfo{
			ID:        id,
			Name:      n.Name,
			PumpID:    shift.PumpID(n.PumpID),
			ProductID: shift.ProductID(n.ProductID),
		}
	}

	for _, e := range f.Employees {
		if e.ID <= 0 {
			return nil, fmt.Errorf("catalog: employee %q has no id", e.Name)
		}
		c.employees[shift.EmployeeID(e.ID)] = e.Name
	}

	for _, cu := range f.Customers {
		points, err := parseAmount(cu.LoyaltyPoints, fmt.Sprintf("customer %d loyalty points", cu.ID))
		if err != nil {
			return nil, err
		}
		id := shift.CustomerID(cu.ID)
		c.customers[id] = Customer{ID: id, Name: cu.Name, LoyaltyPoints: points}
	}

	for _, j := range f.Journals {
		kind := reconcile.JournalKind(j.Kind)
		if kind != reconcile.JournalCash && kind != reconcile.JournalBank {
			return nil, fmt.Errorf("catalog: journal %d has kind %q, want cash or bank", j.ID, j.Kind)
		}
		c.journals[j.ID] = reconcile.Journal{ID: j.ID, Name: j.Name, Kind: kind}
	}

	for _, r := range f.Rewards {
		if r.ProductID != 0 {
			if _, ok := c.products[shift.ProductID(r.ProductID)]; !ok {
				return nil, fmt.Errorf("catalog: reward %d references unknown product %d", r.ID, r.ProductID)
			}
		}
		points, err := parseAmount(r.RequiredPoints, fmt.Sprintf("reward %d required points", r.ID))
		if err != nil {
			return nil, err
		}
		minQty, err := parseAmount(r.MinQty, fmt.Sprintf("reward %d min qty", r.ID))
		if err != nil {
			return nil, err
		}
		c.rewards = append(c.rewards, reward{
			Reward: shift.Reward{
				ID:             shift.RewardID(r.ID),
				Name:           r.Name,
				RequiredPoints: points,
				CouponID:       r.CouponID,
			},
			productID: shift.ProductID(r.ProductID),
			minQty:    minQty,
		})
	}

	return c, nil
}

func parseAmount(s, what string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("catalog: %s %q is not a number", what, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("catalog: %s cannot be negative", what)
	}
	return d, nil
}

// =============================================================================
// MASTER DATA (shift.MasterData)
// =============================================================================

// Shifts returns the shifts ordered by sequence.
func (c *Catalog) Shifts(ctx context.Context) ([]shift.ShiftInfo, error) {
	return append([]shift.ShiftInfo(nil), c.shifts...), nil
}

func (c *Catalog) Nozzle(ctx context.Context, id shift.NozzleID) (shift.NozzleInfo, error) {
	n, ok := c.nozzles[id]
	if !ok {
		return shift.NozzleInfo{}, &shift.NotFoundError{Entity: "nozzle", ID: int64(id)}
	}
	return n, nil
}

// EmployeeName falls back to the numeric id for unknown employees.
func (c *Catalog) EmployeeName(ctx context.Context, id shift.EmployeeID) string {
	if name, ok := c.employees[id]; ok {
		return name
	}
	return fmt.Sprintf("employee %d", id)
}

// Nozzles returns every nozzle ordered by id.
func (c *Catalog) Nozzles() []shift.NozzleInfo {
	out := make([]shift.NozzleInfo, 0, len(c.nozzles))
	for _, n := range c.nozzles {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Product returns a product by id.
func (c *Catalog) Product(id shift.ProductID) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// HasEmployee reports whether the employee exists.
func (c *Catalog) HasEmployee(ctx context.Context, id shift.EmployeeID) bool {
	_, ok := c.employees[id]
	return ok
}

// =============================================================================
// PRICES (shift.PriceLookup)
// =============================================================================

func (c *Catalog) Prices(ctx context.Context, ids []shift.ProductID) (map[shift.ProductID]decimal.Decimal, error) {
	out := make(map[shift.ProductID]decimal.Decimal, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p.Price
		}
	}
	return out, nil
}

// =============================================================================
// REWARDS (shift.RewardResolver)
// =============================================================================

// ClaimableRewards returns the rewards the customer's points cover for the
// product and quantity, cheapest first.
func (c *Catalog) ClaimableRewards(ctx context.Context, customer shift.CustomerID, product shift.ProductID, qty decimal.Decimal) ([]shift.Reward, error) {
	cu, ok := c.customers[customer]
	if !ok {
		return nil, &shift.NotFoundError{Entity: "customer", ID: int64(customer)}
	}

	var out []shift.Reward
	for _, r := range c.rewards {
		if r.productID != 0 && r.productID != product {
			continue
		}
		if qty.LessThan(r.minQty) || cu.LoyaltyPoints.LessThan(r.RequiredPoints) {
			continue
		}
		out = append(out, r.Reward)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequiredPoints.LessThan(out[j].RequiredPoints) })
	return out, nil
}

// =============================================================================
// JOURNALS (reconcile.JournalLookup)
// =============================================================================

func (c *Catalog) Journal(ctx context.Context, id int64) (reconcile.Journal, error) {
	j, ok := c.journals[id]
	if !ok {
		return reconcile.Journal{}, &shift.NotFoundError{Entity: "journal", ID: id}
	}
	return j, nil
}
