package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fuelstation/catalog"
	"github.com/warp/fuelstation/reconcile"
	"github.com/warp/fuelstation/shift"
)

func TestDefault_SampleStation(t *testing.T) {
	c := catalog.Default()
	ctx := context.Background()

	shifts, err := c.Shifts(ctx)
	require.NoError(t, err)
	require.Len(t, shifts, 3)
	assert.Equal(t, "Morning", shifts[0].Name)
	assert.Equal(t, "Night", shifts[2].Name)

	n, err := c.Nozzle(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, shift.PumpID(2), n.PumpID)
	assert.Equal(t, shift.ProductID(100), n.ProductID)
	assert.Len(t, c.Nozzles(), 4)

	assert.Equal(t, "Asha", c.EmployeeName(ctx, 7))
	assert.Equal(t, "employee 99", c.EmployeeName(ctx, 99))
	assert.True(t, c.HasEmployee(ctx, 8))
	assert.False(t, c.HasEmployee(ctx, 99))
}

func TestCatalog_NozzleNotFound(t *testing.T) {
	c := catalog.Default()

	_, err := c.Nozzle(context.Background(), 404)

	assert.True(t, shift.IsNotFound(err))
}

func TestCatalog_PricesBatched(t *testing.T) {
	c := catalog.Default()

	prices, err := c.Prices(context.Background(), []shift.ProductID{100, 200, 300})

	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices[100].Equal(decimal.RequireFromString("102.50")))
	assert.True(t, prices[200].Equal(decimal.RequireFromString("94.20")))
}

func TestCatalog_ClaimableRewards(t *testing.T) {
	c := catalog.Default()
	ctx := context.Background()

	tests := []struct {
		name     string
		customer shift.CustomerID
		product  shift.ProductID
		qty      string
		want     []shift.RewardID
	}{
		{"enough points for petrol", 501, 100, "10", []shift.RewardID{9, 10}},
		{"below minimum quantity", 501, 100, "1", nil},
		{"diesel needs 20 litres", 501, 200, "25", []shift.RewardID{11, 9}},
		{"too few points", 502, 100, "10", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rewards, err := c.ClaimableRewards(ctx, tt.customer, tt.product, decimal.RequireFromString(tt.qty))
			require.NoError(t, err)

			var got []shift.RewardID
			for _, r := range rewards {
				got = append(got, r.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := c.ClaimableRewards(ctx, 999, 100, decimal.NewFromInt(10))
	assert.True(t, shift.IsNotFound(err))
}

func TestCatalog_Journals(t *testing.T) {
	c := catalog.Default()
	ctx := context.Background()

	j, err := c.Journal(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, reconcile.JournalBank, j.Kind)

	_, err = c.Journal(ctx, 42)
	assert.True(t, shift.IsNotFound(err))
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.yaml")
	doc := `
shifts:
  - {id: 1, name: Day, sequence: 1}
pumps:
  - {id: 1, name: Pump}
products:
  - {id: 5, name: CNG, price: "80"}
nozzles:
  - {id: 1, name: N1, pump_id: 1, product_id: 5}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := catalog.Load(path)

	require.NoError(t, err)
	p, ok := c.Product(5)
	require.True(t, ok)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(80)))
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "shifts: ["},
		{"duplicate sequence", `
shifts:
  - {id: 1, name: A, sequence: 1}
  - {id: 2, name: B, sequence: 1}
`},
		{"nozzle on unknown pump", `
products:
  - {id: 1, name: P, price: "1"}
nozzles:
  - {id: 1, name: N, pump_id: 9, product_id: 1}
`},
		{"nozzle with unknown product", `
pumps:
  - {id: 1, name: P}
nozzles:
  - {id: 1, name: N, pump_id: 1, product_id: 9}
`},
		{"bad price", `
products:
  - {id: 1, name: P, price: "cheap"}
`},
		{"negative price", `
products:
  - {id: 1, name: P, price: "-1"}
`},
		{"bad journal kind", `
journals:
  - {id: 1, name: J, kind: crypto}
`},
		{"reward for unknown product", `
rewards:
  - {id: 1, name: R, product_id: 9, required_points: "1"}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
