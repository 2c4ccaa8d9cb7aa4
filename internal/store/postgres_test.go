package store

import (
	"encoding/hex"
	"errors"
	"testing"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
}

func TestComputeDedupKeyBlankIDFallsBackToHash(t *testing.T) {
	if got := computeDedupKey([]byte(`{"id":"  "}`)); len(got) != 16 {
		t.Fatalf("expected hash key, got %q", got)
	}
}

func TestNullIfEmpty(t *testing.T) {
	if v := nullIfEmpty(""); v != nil {
		t.Fatalf("empty -> nil expected")
	}
	if v := nullIfEmpty("a"); v != "a" {
		t.Fatalf("non-empty passthrough expected, got %v", v)
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-1: 20, 0: 20, 5: 5, 200: 200, 201: 200, 10000: 200}
	for in, want := range cases {
		if got := clampLimit(in); got != want {
			t.Fatalf("clampLimit(%d)=%d want %d", in, got, want)
		}
	}
}

type fakeRows struct {
	ids  []string
	i    int
	err  error
	scan error
}

func (f *fakeRows) Next() bool {
	if f.i >= len(f.ids) {
		return false
	}
	f.i++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	if f.scan != nil {
		return f.scan
	}
	*dest[0].(*string) = f.ids[f.i-1]
	*dest[1].(*string) = "route " + f.ids[f.i-1]
	return nil
}

func (f *fakeRows) Err() error { return f.err }

func TestScanRouteHeaders(t *testing.T) {
	got, err := scanRouteHeaders(&fakeRows{ids: []string{"r1", "r2"}}, "t1", "c1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 || got[1].ID != "r2" || got[1].Name != "route r2" || got[0].CampaignID != "c1" || got[0].TenantID != "t1" {
		t.Fatalf("unexpected routes %+v", got)
	}
}

func TestScanRouteHeadersSurfacesIterationError(t *testing.T) {
	boom := errors.New("connection reset")
	got, err := scanRouteHeaders(&fakeRows{ids: []string{"r1"}, err: boom}, "t1", "c1")
	if !errors.Is(err, boom) {
		t.Fatalf("want iteration error, got %v", err)
	}
	if got != nil {
		t.Fatalf("partial result returned: %+v", got)
	}
	if _, err := scanRouteHeaders(&fakeRows{ids: []string{"r1"}, scan: boom}, "t1", "c1"); !errors.Is(err, boom) {
		t.Fatalf("want scan error, got %v", err)
	}
}

func TestDecodeTargetZones(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("null")} {
		zones, err := decodeTargetZones(raw)
		if err != nil || zones != nil {
			t.Fatalf("decode(%q) = %v, %v", raw, zones, err)
		}
	}
	zones, err := decodeTargetZones([]byte(`["z1","z2"]`))
	if err != nil || len(zones) != 2 || zones[1] != "z2" {
		t.Fatalf("decode list = %v, %v", zones, err)
	}
	if _, err := decodeTargetZones([]byte(`{"z1":true}`)); err == nil {
		t.Fatalf("expected error for non-array target_zones")
	}
}

func TestDecodeDecisionRoute(t *testing.T) {
	r, err := decodeDecisionRoute([]byte(`{"route":[{"id":"A"},{"id":"B"}]}`))
	if err != nil || len(r.Route) != 2 || r.Route[0].ID != "A" {
		t.Fatalf("decode route = %+v, %v", r, err)
	}
	if r, err := decodeDecisionRoute(nil); err != nil || len(r.Route) != 0 {
		t.Fatalf("empty route = %+v, %v", r, err)
	}
	if _, err := decodeDecisionRoute([]byte(`{"route":"nope"`)); err == nil {
		t.Fatalf("expected error for corrupt route blob")
	}
}
