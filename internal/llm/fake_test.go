// ABOUTME: Tests for the deterministic fake provider
// ABOUTME: The fake's similarity structure underpins the segmentation and clustering tests
package llm

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/harper/chatlake/internal/vecmath"
)

func TestFakeEmbedDeterministic(t *testing.T) {
	f := NewFakeProvider(32)
	a, err := f.Embed(context.Background(), "tomato pruning in the greenhouse")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := f.Embed(context.Background(), "tomato pruning in the greenhouse")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if !reflect.DeepEqual(a, b) {
		t.Error("same text produced different vectors")
	}
	if len(a) != 32 {
		t.Errorf("len(vector) = %d, want 32", len(a))
	}
	if n := vecmath.Norm(a); math.Abs(n-1) > 1e-9 {
		t.Errorf("Norm() = %v, want 1", n)
	}
	if f.EmbedCalls() != 2 {
		t.Errorf("EmbedCalls() = %d, want 2", f.EmbedCalls())
	}
}

func TestFakeEmbedSimilarity(t *testing.T) {
	f := NewFakeProvider(64)
	ctx := context.Background()
	garden1, _ := f.Embed(ctx, "tomato soil compost watering garden")
	garden2, _ := f.Embed(ctx, "garden compost soil tomato mulch")
	kernel, _ := f.Embed(ctx, "kernel scheduler interrupt latency driver")

	near, far := vecmath.Cosine(garden1, garden2), vecmath.Cosine(garden1, kernel)
	if near <= far {
		t.Errorf("Cosine(garden, garden) = %v, not above Cosine(garden, kernel) = %v", near, far)
	}
}

func TestFakeFailures(t *testing.T) {
	f := NewFakeProvider(8)
	f.FailWhen = func(text string) bool { return strings.Contains(text, "boom") }

	v, err := f.Embed(context.Background(), "this will boom")
	if v != nil {
		t.Errorf("Embed() = %v, want nil on failure", v)
	}
	if !errors.Is(err, ErrFakeFailure) {
		t.Errorf("Embed() error = %v, want ErrFakeFailure", err)
	}

	if _, err := f.Embed(context.Background(), "this is fine"); err != nil {
		t.Errorf("Embed() error = %v", err)
	}
}

func TestFakeGenerateText(t *testing.T) {
	f := NewFakeProvider(8)
	out, err := f.GenerateText(context.Background(), "one two three four", GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if out != "one two three" {
		t.Errorf("GenerateText() = %q, want %q", out, "one two three")
	}

	f.Reply = "Garden Planning"
	out, err = f.GenerateText(context.Background(), "anything", GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if out != "Garden Planning" {
		t.Errorf("GenerateText() = %q, want Garden Planning", out)
	}
	if f.GenerateCalls() != 2 {
		t.Errorf("GenerateCalls() = %d, want 2", f.GenerateCalls())
	}
}

func TestFakeAvailability(t *testing.T) {
	f := NewFakeProvider(8)
	if !f.IsAvailable(context.Background()) {
		t.Error("IsAvailable() = false for a default fake")
	}
	f.Unavailable = true
	if f.IsAvailable(context.Background()) {
		t.Error("IsAvailable() = true after marking the fake unavailable")
	}
}
