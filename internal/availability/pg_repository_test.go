package availability

import (
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func TestPgTimeRoundTrip(t *testing.T) {
	for _, ct := range []civil.Time{hm(0, 0), hm(9, 30), {Hour: 23, Minute: 59, Second: 59}} {
		if got := timeFromPg(timeToPg(ct)); got != ct {
			t.Fatalf("expected %s, got %s", ct, got)
		}
	}
}

func TestSearchWhere(t *testing.T) {
	where, args := searchWhere(SearchFilter{})
	if where != "WHERE status = $1" || len(args) != 1 {
		t.Fatalf("unexpected empty filter clause %q %v", where, args)
	}

	from := jan(15)
	tele := Telemedicine
	insured := false
	maxPrice := decimal.RequireFromString("99.50")
	where, args = searchWhere(SearchFilter{
		From:              &from,
		AppointmentType:   &tele,
		InsuranceAccepted: &insured,
		MaxPrice:          &maxPrice,
	})
	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %d", len(args))
	}
	for _, frag := range []string{"date >= $2", "appointment_type = $3", "insurance_accepted = $4", "base_fee <= $5::numeric"} {
		if !strings.Contains(where, frag) {
			t.Fatalf("expected %q in %q", frag, where)
		}
	}
	if args[4] != "99.5" {
		t.Fatalf("expected max price rendered as text, got %v", args[4])
	}
}
