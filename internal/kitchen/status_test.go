package kitchen_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/kiwari-pos/kds/internal/kitchen"
)

func TestNext_Lifecycle(t *testing.T) {
	tests := []struct {
		from   kitchen.Status
		to     kitchen.Status
		field  kitchen.TimestampField
		column string
	}{
		{kitchen.StatusPlaced, kitchen.StatusStarted, kitchen.StartedTime, "started_time"},
		{kitchen.StatusStarted, kitchen.StatusReady, kitchen.ReadyTime, "ready_time"},
		{kitchen.StatusReady, kitchen.StatusDelivered, kitchen.DeliveredTime, "delivered_time"},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			tr, err := kitchen.Next(tt.from)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tr.From != tt.from || tr.To != tt.to {
				t.Errorf("transition: got %s->%s, want %s->%s", tr.From, tr.To, tt.from, tt.to)
			}
			if tr.Field != tt.field {
				t.Errorf("field: got %s, want %s", tr.Field, tt.field)
			}
			if tr.Field.Column() != tt.column {
				t.Errorf("column: got %q, want %q", tr.Field.Column(), tt.column)
			}
			if tr.Terminal() != (tt.to == kitchen.StatusDelivered) {
				t.Errorf("terminal: got %v", tr.Terminal())
			}
		})
	}
}

func TestNext_DeliveredIsTerminal(t *testing.T) {
	_, err := kitchen.Next(kitchen.StatusDelivered)
	if !errors.Is(err, kitchen.ErrAlreadyDelivered) {
		t.Fatalf("expected ErrAlreadyDelivered, got %v", err)
	}
}

func TestNext_InvalidStatus(t *testing.T) {
	for _, st := range []kitchen.Status{kitchen.StatusUnknown, kitchen.Status(42), kitchen.Status(-1)} {
		_, err := kitchen.Next(st)
		if !errors.Is(err, kitchen.ErrInvalidStatus) {
			t.Errorf("status %d: expected ErrInvalidStatus, got %v", int(st), err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, name := range []string{"Placed", "Started", "Ready", "Delivered"} {
		st, err := kitchen.ParseStatus(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if st.String() != name {
			t.Errorf("round trip: got %q, want %q", st.String(), name)
		}
	}

	for _, bad := range []string{"", "placed", "Cooking", "Delivered "} {
		st, err := kitchen.ParseStatus(bad)
		if !errors.Is(err, kitchen.ErrInvalidStatus) {
			t.Errorf("parse %q: expected ErrInvalidStatus, got %v", bad, err)
		}
		if st != kitchen.StatusUnknown {
			t.Errorf("parse %q: got %s, want unknown", bad, st)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	b, err := json.Marshal(kitchen.StatusReady)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"Ready"` {
		t.Errorf("marshal: got %s", b)
	}

	var st kitchen.Status
	if err := json.Unmarshal([]byte(`"Started"`), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st != kitchen.StatusStarted {
		t.Errorf("unmarshal: got %s", st)
	}
	if err := json.Unmarshal([]byte(`"Cooking"`), &st); err == nil {
		t.Error("expected error for unknown status")
	}
}
