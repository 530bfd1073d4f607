package validate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
)

type fakeResetter struct {
	resets []string
	err    error
}

func (f *fakeResetter) Reset(_ context.Context, serial string) error {
	f.resets = append(f.resets, serial)
	return f.err
}

func float(v float64) *float64 { return &v }

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSimpleRange(t *testing.T) {
	r := NewSimpleRange(nil)

	tests := []struct {
		name    string
		values  []float64
		wantErr string
	}{
		{"within", []float64{20, 50, 10}, ""},
		{"edges", []float64{10, 90, 0}, ""},
		{"temperature high", []float64{30.1, 50, 10}, "temperature value of 30.1"},
		{"humidity low", []float64{20, 9.9, 10}, "humidity value of 9.9"},
		{"dewpoint high", []float64{20, 50, 21}, "dewpoint value of 21"},
		{"second probe", []float64{20, 50, 10, 20, 95, 10}, "humidity value of 95"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(context.Background(), "s", tt.values)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrOutOfRange) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewSimpleRangeOverrides(t *testing.T) {
	r := NewSimpleRange(&config.Validator{TMin: float(15), DMax: float(25)})
	if r.TMin != 15 || r.TMax != 30 || r.DMax != 25 || r.HMax != 90 {
		t.Fatalf("unexpected bounds %+v", r)
	}
}

func TestWithReset(t *testing.T) {
	resetter := &fakeResetter{}
	w := NewWithReset(NewSimpleRange(nil), 3, resetter, discard)
	bad := []float64{100, 50, 10}
	good := []float64{20, 50, 10}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := w.Validate(ctx, "a", bad); err == nil {
			t.Fatal("expected a rejection")
		}
	}
	if err := w.Validate(ctx, "a", good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 2; i++ {
		_ = w.Validate(ctx, "a", bad)
	}
	if len(resetter.resets) != 0 {
		t.Fatalf("a good reading restarts the count, got resets %v", resetter.resets)
	}

	_ = w.Validate(ctx, "b", bad)
	_ = w.Validate(ctx, "a", bad)
	if strings.Join(resetter.resets, ",") != "a" {
		t.Fatalf("expected one reset of a, got %v", resetter.resets)
	}

	resetter.err = errors.New("unreachable")
	for i := 0; i < 3; i++ {
		_ = w.Validate(ctx, "a", bad)
	}
	if len(resetter.resets) != 2 {
		t.Fatalf("expected a second reset, got %v", resetter.resets)
	}
}

func TestNew(t *testing.T) {
	v, err := New(nil, nil, discard)
	if err != nil || v.Validate(context.Background(), "s", []float64{1000, -5, 99}) != nil {
		t.Fatalf("a missing validator accepts everything: %v", err)
	}

	v, err = New(&config.Validator{Name: SimpleRangeName}, nil, discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := v.(SimpleRange); !ok {
		t.Fatalf("expected SimpleRange, got %T", v)
	}

	v, err = New(&config.Validator{Name: WithResetName}, &fakeResetter{}, discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if wr, ok := v.(*WithReset); !ok || wr.criterion != DefaultResetCriterion {
		t.Fatalf("expected WithReset with the default criterion, got %#v", v)
	}

	if _, err := New(&config.Validator{Name: WithResetName}, nil, discard); err == nil {
		t.Fatal("expected an error without a resetter")
	}
	if _, err := New(&config.Validator{Name: "nope"}, nil, discard); !errors.Is(err, ErrUnknownValidator) {
		t.Fatalf("expected ErrUnknownValidator, got %v", err)
	}
}
