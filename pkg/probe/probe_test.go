package probe

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	probes := []Probe{
		{
			Name:     "LLM Provider",
			Check:    func(ctx context.Context) error { return nil },
			Critical: true,
		},
		{
			Name:  "Routing Service",
			Check: func(ctx context.Context) error { return errors.New("geocoder unreachable") },
		},
		{
			Name:    "Speech Engine",
			Timeout: 20 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}

	results := Run(context.Background(), probes)

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].Error != nil {
		t.Errorf("Expected LLM probe to pass, got error: %v", results[0].Error)
	}
	if results[1].Error == nil {
		t.Error("Expected routing probe to fail, got nil")
	}
	if !errors.Is(results[2].Error, context.DeadlineExceeded) {
		t.Errorf("Expected speech probe to time out, got %v", results[2].Error)
	}
	if results[2].Duration >= DefaultTimeout {
		t.Errorf("Probe timeout was not applied, took %v", results[2].Duration)
	}
}

func TestAnalyzeResults(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		wantErr bool
	}{
		{
			name: "All Pass",
			results: []Result{
				{Probe: Probe{Name: "P1", Critical: true}, Error: nil},
			},
			wantErr: false,
		},
		{
			name: "Critical Failure",
			results: []Result{
				{Probe: Probe{Name: "P1", Critical: true}, Error: errors.New("fail")},
			},
			wantErr: true,
		},
		{
			name: "Non-Critical Failure",
			results: []Result{
				{Probe: Probe{Name: "P1", Critical: false}, Error: errors.New("fail")},
			},
			wantErr: false,
		},
		{
			name: "Mixed Failure",
			results: []Result{
				{Probe: Probe{Name: "P1", Critical: false}, Error: errors.New("fail")},
				{Probe: Probe{Name: "P2", Critical: true}, Error: errors.New("fail")},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AnalyzeResults(tt.results)
			if (err != nil) != tt.wantErr {
				t.Errorf("AnalyzeResults() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
