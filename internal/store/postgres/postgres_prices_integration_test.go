package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEffectivePricesBatchAndTieBreak(t *testing.T) {
	databaseURL := os.Getenv("SALESCRM_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SALESCRM_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	codeA := fmt.Sprintf("IT-A-%d", stamp)
	codeB := fmt.Sprintf("IT-B-%d", stamp)
	codeUnpriced := fmt.Sprintf("IT-C-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM pricehist WHERE prodcode IN ($1, $2)`, codeA, codeB)
	})

	// codeA: two revisions, the later effdate applies on asOf.
	// codeB: two rows with the same effdate, the higher id wins.
	inserts := []struct {
		prodcode  string
		unitprice string
		effdate   string
	}{
		{codeA, "100.00", "2024-01-01"},
		{codeA, "110.00", "2024-06-01"},
		{codeB, "50.00", "2024-03-01"},
		{codeB, "55.00", "2024-03-01"},
	}
	for _, row := range inserts {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO pricehist (prodcode, unitprice, effdate)
			VALUES ($1, $2, $3)
		`, row.prodcode, row.unitprice, row.effdate); err != nil {
			t.Fatalf("insert pricehist: %v", err)
		}
	}

	asOf, _ := time.Parse("2006-01-02", "2024-07-01")
	prices, err := s.EffectivePrices(ctx, []string{codeA, codeB, codeUnpriced}, asOf)
	if err != nil {
		t.Fatalf("effective prices: %v", err)
	}

	if got := prices[codeA]; !got.Equal(decimal.RequireFromString("110.00")) {
		t.Fatalf("codeA = %s, want 110.00", got)
	}
	if got := prices[codeB]; !got.Equal(decimal.RequireFromString("55.00")) {
		t.Fatalf("codeB = %s, want 55.00 (highest id on tied effdate)", got)
	}
	if _, ok := prices[codeUnpriced]; ok {
		t.Fatalf("expected unpriced code to be absent, got %s", prices[codeUnpriced])
	}

	// Before any effdate, nothing resolves.
	early, _ := time.Parse("2006-01-02", "2023-01-01")
	prices, err = s.EffectivePrices(ctx, []string{codeA, codeB}, early)
	if err != nil {
		t.Fatalf("effective prices (early): %v", err)
	}
	if len(prices) != 0 {
		t.Fatalf("expected empty result before any effdate, got %v", prices)
	}
}
