package marketmaker

import "testing"

func TestSpreadNarrowsAsTimeApproachesTerminal(t *testing.T) {
	mm := New(0.65, 0.60, DefaultConfig())

	_, _, _ = mm.GetQuotes(0)
	bid1, ask1, ok1 := mm.GetQuotes(0)
	bid2, ask2, ok2 := mm.GetQuotes(30)
	if !ok1 || !ok2 {
		t.Fatal("expected valid quotes")
	}
	spread1 := ask1 - bid1
	spread2 := ask2 - bid2
	if spread2 > spread1 {
		t.Errorf("expected spread to narrow as t->T: spread@0=%d spread@30=%d", spread1, spread2)
	}
}

func TestFullConfidenceGivesMinSpread(t *testing.T) {
	mm := New(0.5, 1.0, DefaultConfig())
	bid, ask, ok := mm.GetQuotes(0)
	if !ok {
		t.Fatal("expected valid quotes")
	}
	if ask-bid != DefaultConfig().MinSpread {
		t.Errorf("expected min spread %d at full confidence, got %d", DefaultConfig().MinSpread, ask-bid)
	}
}

func TestPositiveInventoryShiftsQuotesDown(t *testing.T) {
	cfg := DefaultConfig()
	mmFlat := New(0.5, 0.5, cfg)
	bidFlat, _, _ := mmFlat.GetQuotes(0)

	mmLong := New(0.5, 0.5, cfg)
	mmLong.OnFill(30, "buy", 50)
	bidLong, _, _ := mmLong.GetQuotes(0)

	if bidLong >= bidFlat {
		t.Errorf("expected long inventory to shift bid down: flat=%d long=%d", bidFlat, bidLong)
	}
}

func TestNegativeInventoryShiftsQuotesUp(t *testing.T) {
	cfg := DefaultConfig()
	mmFlat := New(0.5, 0.5, cfg)
	bidFlat, _, _ := mmFlat.GetQuotes(0)

	mmShort := New(0.5, 0.5, cfg)
	mmShort.OnFill(30, "sell", 50)
	bidShort, _, _ := mmShort.GetQuotes(0)

	if bidShort <= bidFlat {
		t.Errorf("expected short inventory to shift bid up: flat=%d short=%d", bidFlat, bidShort)
	}
}

func TestBidNeverExceedsAsk(t *testing.T) {
	cfg := DefaultConfig()
	for _, p := range []float64{0.01, 0.5, 0.99} {
		for _, c := range []float64{0.0, 0.5, 1.0} {
			mm := New(p, c, cfg)
			mm.OnFill(90, "buy", int(p*100))
			bid, ask, ok := mm.GetQuotes(0)
			if !ok {
				continue
			}
			if bid >= ask {
				t.Errorf("p=%.2f c=%.2f: bid %d >= ask %d", p, c, bid, ask)
			}
		}
	}
}

func TestOnFillUpdatesInventoryAndCash(t *testing.T) {
	mm := New(0.65, 0.60, DefaultConfig())
	mm.OnFill(10, "sell", 66)
	state := mm.GetState()
	if state.Inventory != -10 {
		t.Errorf("expected inventory -10, got %d", state.Inventory)
	}
	if state.Cash != 660 {
		t.Errorf("expected cash 660, got %v", state.Cash)
	}
}

func TestQuotesClosedAfterTerminalTime(t *testing.T) {
	mm := New(0.5, 0.5, DefaultConfig())
	_, _, ok := mm.GetQuotes(60)
	if ok {
		t.Error("expected no quote at t==T")
	}
}
