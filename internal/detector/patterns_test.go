package detector

import (
	"context"
	"errors"
	"testing"
)

// --- Patterns ---

func TestPatterns_EmailAndIP(t *testing.T) {
	p := NewPatterns(DefaultPatterns())
	preds, err := p.Detect(context.Background(), "mail bob@example.com from 192.168.1.10")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	want := []Prediction{
		{Word: "bob@example.com", Entity: "B-EMAIL", Score: 1, Index: 1, Start: 5, End: 20},
		{Word: "192.168.1.10", Entity: "B-IP", Score: 1, Index: 2, Start: 26, End: 38},
	}
	if len(preds) != len(want) {
		t.Fatalf("got %d predictions, want %d: %+v", len(preds), len(want), preds)
	}
	for i := range want {
		if preds[i] != want[i] {
			t.Errorf("prediction %d: got %+v, want %+v", i, preds[i], want[i])
		}
	}
}

func TestPatterns_CardBeatsPhone(t *testing.T) {
	p := NewPatterns(DefaultPatterns())
	preds, err := p.Detect(context.Background(), "card 4111 1111 1111 1111 on file")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(preds) != 1 {
		t.Fatalf("expected one prediction, got %+v", preds)
	}
	if preds[0].Entity != "B-CARD" || preds[0].Word != "4111 1111 1111 1111" {
		t.Errorf("got %+v", preds[0])
	}
}

func TestPatterns_SecretReportsCaptureGroup(t *testing.T) {
	p := NewPatterns(DefaultPatterns())
	preds, err := p.Detect(context.Background(), "api_key=abcdefghijklmnopqrstuvwx")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(preds) != 1 {
		t.Fatalf("expected one prediction, got %+v", preds)
	}
	if preds[0].Word != "abcdefghijklmnopqrstuvwx" || preds[0].Start != 8 || preds[0].End != 32 {
		t.Errorf("secret should cover only the value, got %+v", preds[0])
	}
}

func TestPatterns_RuneOffsets(t *testing.T) {
	p := NewPatterns(DefaultPatterns())
	preds, err := p.Detect(context.Background(), "Zoë: zoe@example.org")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(preds) != 1 {
		t.Fatalf("expected one prediction, got %+v", preds)
	}
	if preds[0].Start != 5 || preds[0].End != 20 {
		t.Errorf("offsets should count characters, got [%d,%d)", preds[0].Start, preds[0].End)
	}
}

func TestPatterns_NothingFound(t *testing.T) {
	preds, err := NewPatterns(DefaultPatterns()).Detect(context.Background(), "nothing to see here")
	if err != nil || len(preds) != 0 {
		t.Errorf("got %+v, %v", preds, err)
	}
}

// --- Combine / WithPatterns ---

func TestCombine_SkipsOverlaps(t *testing.T) {
	text := "mail bob@example.com from 192.168.1.10"
	primary := Func(func(context.Context, string) ([]Prediction, error) {
		return []Prediction{{Word: "bob", Entity: "B-PER", Index: 1, Score: 0.9, Start: 5, End: 8}}, nil
	})

	preds, err := Combine(primary, NewPatterns(DefaultPatterns())).Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("expected PER plus IP, got %+v", preds)
	}
	if preds[0].Entity != "B-PER" || preds[1].Entity != "B-IP" {
		t.Errorf("got %+v", preds)
	}
}

func TestCombine_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	primary := Func(func(context.Context, string) ([]Prediction, error) { return nil, nil })
	failing := Func(func(context.Context, string) ([]Prediction, error) { return nil, boom })

	if _, err := Combine(primary, failing).Detect(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("extra detector error should propagate, got %v", err)
	}
	if _, err := Combine(failing, primary).Detect(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("primary detector error should propagate, got %v", err)
	}
}

func TestWithPatterns_FactoryError(t *testing.T) {
	boom := errors.New("sidecar down")
	factory := WithPatterns(func(context.Context) (Detector, error) { return nil, boom }, DefaultPatterns())
	if _, err := factory(context.Background()); !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
}
