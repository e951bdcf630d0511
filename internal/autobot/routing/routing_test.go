package routing

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testRoutes() []Route {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return []Route{
		{ID: primitive.NewObjectID(), Country: "IN", CountryName: "India", Vendor: "vendor-a", Seq: SeqPrimary, LastModified: base},
		{ID: primitive.NewObjectID(), Country: "IN", CountryName: "India", Vendor: "vendor-b", Seq: SeqSecondary, LastModified: base},
	}
}

func apply(routes []Route, updates []routeUpdate) []Route {
	out := make([]Route, len(routes))
	copy(out, routes)
	for _, upd := range updates {
		for i := range out {
			if out[i].ID == upd.ID {
				out[i].Seq = upd.Seq
				out[i].LastModified = upd.LastModified
			}
		}
	}
	return out
}

func TestPlanSwap_FlipsOrdinals(t *testing.T) {
	routes := testRoutes()
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	updates := planSwap(routes, now)
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}

	after := apply(routes, updates)
	if after[0].Seq != SeqSecondary {
		t.Errorf("old primary now has seq %d, want %d", after[0].Seq, SeqSecondary)
	}
	if after[1].Seq != SeqPrimary {
		t.Errorf("old secondary now has seq %d, want %d", after[1].Seq, SeqPrimary)
	}
	for i, r := range after {
		if !r.LastModified.Equal(now) {
			t.Errorf("route %d modification time not stamped: %v", i, r.LastModified)
		}
	}
}

func TestPlanSwap_DoubleSwapIsIdentity(t *testing.T) {
	routes := testRoutes()
	now := time.Now()

	once := apply(routes, planSwap(routes, now))
	twice := apply(once, planSwap(once, now.Add(time.Minute)))

	for i := range routes {
		if twice[i].Seq != routes[i].Seq {
			t.Errorf("route %d seq = %d after double swap, want %d", i, twice[i].Seq, routes[i].Seq)
		}
		if twice[i].Vendor != routes[i].Vendor {
			t.Errorf("route %d vendor changed", i)
		}
	}
}

func TestPlanSwap_SkipsUnknownOrdinals(t *testing.T) {
	routes := testRoutes()
	routes = append(routes, Route{ID: primitive.NewObjectID(), Country: "IN", Vendor: "vendor-c", Seq: 3})

	updates := planSwap(routes, time.Now())
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	for _, upd := range updates {
		if upd.ID == routes[2].ID {
			t.Error("record with seq 3 must not be touched")
		}
	}
}

func TestSwappedSeq(t *testing.T) {
	cases := []struct {
		in   int32
		want int32
		ok   bool
	}{
		{SeqPrimary, SeqSecondary, true},
		{SeqSecondary, SeqPrimary, true},
		{0, 0, false},
		{3, 3, false},
	}
	for _, c := range cases {
		got, ok := swappedSeq(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("swappedSeq(%d) = %d, %v; want %d, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}
