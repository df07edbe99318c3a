package convert

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type candidate struct {
	Title string `json:"title"`
	SetID string `json:"setid"`
	Rank  int    `json:"rank"`
}

func TestAs_DirectType(t *testing.T) {
	original := candidate{Title: "x", Rank: 1}
	got, err := As[candidate](original)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != original {
		t.Errorf("expected %+v, got %+v", original, got)
	}
}

func TestAs_FromCheckpointShape(t *testing.T) {
	stored := []any{
		map[string]any{"title": "Brand A", "setid": "abc", "rank": float64(1)},
		map[string]any{"title": "Brand B", "setid": "def", "rank": float64(2)},
	}

	got, err := As[[]candidate](stored)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []candidate{{Title: "Brand A", SetID: "abc", Rank: 1}, {Title: "Brand B", SetID: "def", Rank: 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestAs_NumberConversions(t *testing.T) {
	got, err := As[int](float64(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	fromString, err := As[int]("17")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fromString != 17 {
		t.Errorf("expected 17, got %d", fromString)
	}
}

func TestAs_Nil(t *testing.T) {
	got, err := As[[]string](nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil slice, got %v", got)
	}
}

func TestFromString(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    candidate
		wantErr bool
	}{
		{
			name:    "valid json",
			content: `{"title":"Brand A","setid":"abc","rank":3}`,
			want:    candidate{Title: "Brand A", SetID: "abc", Rank: 3},
		},
		{
			name:    "repairable json",
			content: `{title: 'Brand A', setid: 'abc', rank: 3,}`,
			want:    candidate{Title: "Brand A", SetID: "abc", Rank: 3},
		},
		{
			name:    "schema wrapped values",
			content: `{"title":{"type":"string","value":"Brand A"},"setid":"abc","rank":{"type":"integer","value":3}}`,
			want:    candidate{Title: "Brand A", SetID: "abc", Rank: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromString[candidate](tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestFromString_Primitives(t *testing.T) {
	flag, err := FromString[bool](" true ")
	if err != nil || !flag {
		t.Errorf("expected true, got %v (err %v)", flag, err)
	}

	score, err := FromString[float64](`{"type":"number","value":0.75}`)
	if err != nil || score != 0.75 {
		t.Errorf("expected 0.75, got %v (err %v)", score, err)
	}

	text, err := FromString[string](`{"type":"string","value":"go_enrich_accept"}`)
	if err != nil || text != "go_enrich_accept" {
		t.Errorf("expected unwrapped string, got %q (err %v)", text, err)
	}

	if _, err := FromString[int]("not a number"); err == nil {
		t.Error("expected error for invalid int")
	}
}
