package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facilityops/internal/app"
	"github.com/odyssey-erp/facilityops/internal/equipment"
	"github.com/odyssey-erp/facilityops/internal/inventory"
	"github.com/odyssey-erp/facilityops/internal/platform/db"
)

const seedActor = 1

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.AlertDispatch = "inline"
	facilityID, err := strconv.ParseInt(getenv("SEED_FACILITY_ID", "1"), 10, 64)
	if err != nil || facilityID <= 0 {
		log.Fatalf("SEED_FACILITY_ID must be a positive integer")
	}

	ctx := context.Background()
	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	services := app.NewServices(app.ServiceDeps{Config: cfg, Pool: pool})

	fmt.Println("→ Seeding vendors...")
	vendorID, err := seedVendor(ctx, pool, facilityID)
	if err != nil {
		log.Fatalf("seed vendors: %v", err)
	}

	fmt.Println("→ Seeding inventory...")
	if err := seedInventory(ctx, services.Inventory, facilityID, vendorID); err != nil {
		log.Fatalf("seed inventory: %v", err)
	}

	fmt.Println("→ Seeding equipment...")
	if err := seedEquipment(ctx, services.Equipment, facilityID); err != nil {
		log.Fatalf("seed equipment: %v", err)
	}

	summary, err := services.Alerts.Summary(ctx, facilityID)
	if err != nil {
		log.Fatalf("alert summary: %v", err)
	}
	fmt.Printf("✓ Seed complete at %s: %d open alerts\n", time.Now().Format(time.RFC3339), summary.Total)
}

func seedVendor(ctx context.Context, pool *pgxpool.Pool, facilityID int64) (int64, error) {
	var id int64
	err := pool.QueryRow(ctx, `INSERT INTO vendors (facility_id, name, contact_email)
VALUES ($1, 'FitSupply Co', 'orders@fitsupply.example') RETURNING id`, facilityID).Scan(&id)
	return id, err
}

func seedInventory(ctx context.Context, svc *inventory.Service, facilityID, vendorID int64) error {
	items := []inventory.OnboardInput{
		{Name: "Towels", SKU: "TWL-01", Unit: "pcs", MinimumStock: decimal.NewFromInt(50), MaximumStock: decimal.NewFromInt(300),
			CostPrice: decimal.NewFromFloat(3.5), InitialStock: decimal.NewFromInt(120)},
		{Name: "Protein Bars", SKU: "PRO-12", Unit: "box", MinimumStock: decimal.NewFromInt(20), MaximumStock: decimal.NewFromInt(100),
			CostPrice: decimal.NewFromFloat(18), AutoReorder: true, ReorderQuantity: decimal.NewFromInt(40),
			PrimaryVendorID: vendorID, HasExpiry: true, ExpiryAlertDays: 14, InitialStock: decimal.NewFromInt(8)},
		{Name: "Disinfectant Spray", SKU: "CLN-03", Unit: "bottle", MinimumStock: decimal.NewFromInt(10),
			CostPrice: decimal.NewFromFloat(6.25), AutoReorder: true, ReorderQuantity: decimal.NewFromInt(24)},
	}
	for _, input := range items {
		input.FacilityID = facilityID
		input.ActorID = seedActor
		item, _, err := svc.OnboardItem(ctx, input)
		if err != nil {
			return fmt.Errorf("%s: %w", input.Name, err)
		}
		fmt.Printf("  item %d %s stock=%s\n", item.ID, item.Name, item.CurrentStock)
	}
	return nil
}

func seedEquipment(ctx context.Context, svc *equipment.Service, facilityID int64) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	days := func(n int) *time.Time {
		d := today.AddDate(0, 0, n)
		return &d
	}
	assets := []equipment.RegisterInput{
		{Name: "Treadmill T-900", Category: "cardio", SerialNumber: "TM900-0001", PurchaseDate: today.AddDate(-2, 0, 0),
			PurchasePrice: decimal.NewFromInt(4200), DepreciationRate: decimal.NewFromInt(15),
			WarrantyStartDate: days(-700), WarrantyPeriodMonths: 24, LastMaintenanceDate: days(-95), MaintenanceFrequencyDays: 90},
		{Name: "Rowing Machine R2", Category: "cardio", SerialNumber: "RW2-0042", PurchaseDate: today.AddDate(-1, 0, 0),
			PurchasePrice: decimal.NewFromInt(1500), DepreciationRate: decimal.NewFromInt(10),
			WarrantyStartDate: days(-365), WarrantyPeriodMonths: 36, NextMaintenanceDate: days(5)},
	}
	for _, input := range assets {
		input.FacilityID = facilityID
		input.ActorID = seedActor
		asset, err := svc.RegisterEquipment(ctx, input)
		if err != nil {
			return fmt.Errorf("%s: %w", input.Name, err)
		}
		fmt.Printf("  equipment %d %s next_maintenance=%v\n", asset.ID, asset.Name, asset.NextMaintenanceDate)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
