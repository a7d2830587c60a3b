package naming

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-analytics/harrier/internal/domain"
)

func TestFallbackName(t *testing.T) {
	if got := FallbackName("purchase_frequency", 0); got != "purchase_frequency_0" {
		t.Errorf("got %q", got)
	}
	if got := FallbackName("value", 3); got != "value_3" {
		t.Errorf("got %q", got)
	}
}

func TestFallbackService(t *testing.T) {
	res, err := Fallback{}.Name(context.Background(), Request{Axis: "engagement", Rank: 2})
	if err != nil {
		t.Fatalf("Name failed: %v", err)
	}
	if res.Name != "engagement_2" {
		t.Errorf("name = %q", res.Name)
	}
	if res.Interpretation != "" {
		t.Errorf("fallback must not fabricate an interpretation, got %q", res.Interpretation)
	}
}

func TestNew(t *testing.T) {
	t.Run("EmptyProviderIsFallback", func(t *testing.T) {
		svc, err := New(domain.NamingConfig{})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := svc.(Fallback); !ok {
			t.Errorf("got %T, want Fallback", svc)
		}
	})

	t.Run("NoneProviderIsFallback", func(t *testing.T) {
		svc, err := New(domain.NamingConfig{Provider: "none"})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := svc.(Fallback); !ok {
			t.Errorf("got %T, want Fallback", svc)
		}
	})

	t.Run("UnknownProviderRejected", func(t *testing.T) {
		_, err := New(domain.NamingConfig{Provider: "quantum"})
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"  Weekend Warriors ":  "weekend_warriors",
		"High-Value Loyalists": "high_value_loyalists",
		"dormant":              "dormant",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
