package catalog

import (
	"errors"
	"testing"
)

func TestNormalize_PricesAndFloors(t *testing.T) {
	a := NewAdapter(56, 2.5, 50)

	payload := []byte(`[
		{"service": 101, "name": "Followers", "category": "Instagram", "min": 10, "max": 100000, "rate": "0.45", "refill": true},
		{"service": "102", "name": "Likes", "category": "Instagram", "min": "100", "max": "50000", "rate": 1.2, "refill": false}
	]`)

	services, err := a.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("len = %d, want 2", len(services))
	}

	first := services[0]
	if first.ID != 101 || first.Name != "Followers" {
		t.Fatalf("unexpected first service: %+v", first)
	}
	// 0.45 * 56 * 2.5 = 63.00 песо за 1000.
	if first.Rate != 6300 {
		t.Fatalf("rate = %d, want 6300", first.Rate)
	}
	// Минимум поставщика 10 ниже площадочного порога 50.
	if first.Min != 50 {
		t.Fatalf("min = %d, want floor 50", first.Min)
	}
	if !first.Refill {
		t.Fatalf("refill flag lost")
	}

	if services[1].Min != 100 {
		t.Fatalf("second min = %d, want 100", services[1].Min)
	}
}

func TestNormalize_DropsMalformedRecords(t *testing.T) {
	a := NewAdapter(56, 2.5, 10)

	payload := []byte(`[
		{"service": 1, "name": "Good", "category": "X", "min": 10, "max": 100, "rate": "0.5"},
		{"service": 2, "category": "no name", "min": 10, "max": 100, "rate": "0.5"},
		{"service": 3, "name": "Bad rate", "min": 10, "max": 100, "rate": "free"},
		{"service": 0, "name": "Bad id", "min": 10, "max": 100, "rate": "0.5"}
	]`)

	services, err := a.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if len(services) != 1 {
		t.Fatalf("len = %d, want 1 (malformed records must be dropped individually)", len(services))
	}
	if services[0].ID != 1 {
		t.Fatalf("kept service id = %d, want 1", services[0].ID)
	}
}

func TestNormalize_BadShape(t *testing.T) {
	a := NewAdapter(56, 2.5, 10)

	for _, payload := range []string{
		`{"error": "invalid api key"}`,
		`"nope"`,
		`not json at all`,
	} {
		_, err := a.Normalize([]byte(payload))
		if !errors.Is(err, ErrBadCatalog) {
			t.Fatalf("payload %q: err = %v, want ErrBadCatalog", payload, err)
		}
	}
}

func TestNormalize_EmptyCatalog(t *testing.T) {
	a := NewAdapter(56, 2.5, 10)

	services, err := a.Normalize([]byte(`[]`))
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if len(services) != 0 {
		t.Fatalf("len = %d, want 0", len(services))
	}
}
