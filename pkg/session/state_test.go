package session

import (
	"reflect"
	"testing"

	"github.com/reelix-ai/reelix/pkg/media"
)

func TestApplyDelta_OwnershipReset(t *testing.T) {
	state := &State{
		UserID:       "alice",
		Summary:      map[string]interface{}{SummaryTurnKind: TurnKindRefine},
		LastSpec:     &media.QuerySpec{QueryText: "old query"},
		SlotMap:      map[string]SlotRef{"1": {MediaID: 7, Title: "Seven"}},
		SeenMediaIDs: []int64{7, 8, 9},
	}

	got := ApplyDelta(state, "bob", Delta{
		Summary: map[string]interface{}{SummaryTurnKind: TurnKindNew},
	})

	if got.UserID != "bob" {
		t.Errorf("UserID = %q, want bob", got.UserID)
	}
	if got.LastSpec != nil {
		t.Errorf("LastSpec = %+v, want nil after ownership reset", got.LastSpec)
	}
	if got.SlotMap != nil {
		t.Errorf("SlotMap = %v, want nil after ownership reset", got.SlotMap)
	}
	if got.SeenMediaIDs != nil {
		t.Errorf("SeenMediaIDs = %v, want nil after ownership reset", got.SeenMediaIDs)
	}
}

func TestApplyDelta_NewTurnClearsScopedState(t *testing.T) {
	state := &State{
		UserID:       "alice",
		Summary:      map[string]interface{}{SummaryPrefs: map[string]interface{}{"tone": "dark"}},
		LastSpec:     &media.QuerySpec{QueryText: "heists"},
		SlotMap:      map[string]SlotRef{"1": {MediaID: 7}},
		SeenMediaIDs: []int64{7},
	}

	got := ApplyDelta(state, "alice", Delta{
		Summary: map[string]interface{}{SummaryTurnKind: TurnKindNew},
	})

	if got.LastSpec != nil || got.SlotMap != nil || got.SeenMediaIDs != nil {
		t.Errorf("new turn left scoped state: spec=%v slots=%v seen=%v",
			got.LastSpec, got.SlotMap, got.SeenMediaIDs)
	}
	// Durable summary survives a new search.
	prefs, _ := got.Summary[SummaryPrefs].(map[string]interface{})
	if prefs["tone"] != "dark" {
		t.Errorf("prefs = %v, want tone preserved across new turn", prefs)
	}
}

func TestApplyDelta_RefineKeepsScopedState(t *testing.T) {
	state := &State{
		UserID:       "alice",
		LastSpec:     &media.QuerySpec{QueryText: "heists"},
		SeenMediaIDs: []int64{7},
	}

	got := ApplyDelta(state, "alice", Delta{
		Summary: map[string]interface{}{SummaryTurnKind: TurnKindRefine},
	})

	if got.LastSpec == nil || got.LastSpec.QueryText != "heists" {
		t.Errorf("LastSpec = %+v, want preserved on refine", got.LastSpec)
	}
	if len(got.SeenMediaIDs) != 1 {
		t.Errorf("SeenMediaIDs = %v, want preserved on refine", got.SeenMediaIDs)
	}
}

func TestApplyDelta_YearRangeReplacedAsUnit(t *testing.T) {
	state := &State{
		UserID: "alice",
		Summary: map[string]interface{}{
			SummaryConstraints: map[string]interface{}{
				"year_range": []interface{}{float64(1970), float64(2020)},
				"providers":  []interface{}{"Netflix"},
			},
		},
	}

	got := ApplyDelta(state, "alice", Delta{
		Summary: map[string]interface{}{
			SummaryConstraints: map[string]interface{}{
				"year_range": []interface{}{float64(1990), float64(2000)},
			},
		},
	})

	constraints := got.Summary[SummaryConstraints].(map[string]interface{})
	want := []interface{}{float64(1990), float64(2000)}
	if !reflect.DeepEqual(constraints["year_range"], want) {
		t.Errorf("year_range = %v, want %v replaced as a unit", constraints["year_range"], want)
	}
	// Sibling constraint keys are untouched.
	if !reflect.DeepEqual(constraints["providers"], []interface{}{"Netflix"}) {
		t.Errorf("providers = %v, want [Netflix]", constraints["providers"])
	}
}

func TestApplyDelta_ConstraintListsUnionStable(t *testing.T) {
	state := &State{
		UserID: "alice",
		Summary: map[string]interface{}{
			SummaryConstraints: map[string]interface{}{
				"providers": []interface{}{"Netflix", "Hulu"},
			},
		},
	}

	got := ApplyDelta(state, "alice", Delta{
		Summary: map[string]interface{}{
			SummaryConstraints: map[string]interface{}{
				"providers": []interface{}{"Hulu", "HBO Max"},
			},
		},
	})

	constraints := got.Summary[SummaryConstraints].(map[string]interface{})
	want := []interface{}{"Netflix", "Hulu", "HBO Max"}
	if !reflect.DeepEqual(constraints["providers"], want) {
		t.Errorf("providers = %v, want stable union %v", constraints["providers"], want)
	}
}

func TestApplyDelta_PrefsMergeRecursively(t *testing.T) {
	state := &State{
		UserID: "alice",
		Summary: map[string]interface{}{
			SummaryPrefs: map[string]interface{}{
				"tones": map[string]interface{}{"dark": true},
				"pace":  "slow",
			},
		},
	}

	got := ApplyDelta(state, "alice", Delta{
		Summary: map[string]interface{}{
			SummaryPrefs: map[string]interface{}{
				"tones": map[string]interface{}{"funny": true},
				"pace":  "fast",
			},
		},
	})

	prefs := got.Summary[SummaryPrefs].(map[string]interface{})
	tones := prefs["tones"].(map[string]interface{})
	if tones["dark"] != true || tones["funny"] != true {
		t.Errorf("tones = %v, want dark and funny merged", tones)
	}
	if prefs["pace"] != "fast" {
		t.Errorf("pace = %v, want scalar overwritten to fast", prefs["pace"])
	}
}

func TestApplyDelta_ScalarSummaryKeysOverwrite(t *testing.T) {
	state := &State{
		UserID: "alice",
		Summary: map[string]interface{}{
			SummaryTurnKind:        TurnKindNew,
			SummaryRecentFeedback:  "too slow",
			SummaryLastUserMessage: "older message",
		},
	}

	got := ApplyDelta(state, "alice", Delta{
		Summary: map[string]interface{}{
			SummaryTurnKind:        TurnKindRefine,
			SummaryRecentFeedback:  nil,
			SummaryLastUserMessage: "darker please",
		},
	})

	if got.TurnKind() != TurnKindRefine {
		t.Errorf("TurnKind() = %q, want refine", got.TurnKind())
	}
	if got.Summary[SummaryRecentFeedback] != nil {
		t.Errorf("recent_feedback = %v, want nil overwrite", got.Summary[SummaryRecentFeedback])
	}
	if got.Summary[SummaryLastUserMessage] != "darker please" {
		t.Errorf("last_user_message = %v, want overwritten", got.Summary[SummaryLastUserMessage])
	}
}

func TestApplyDelta_SeenMediaCapAndOrder(t *testing.T) {
	existing := make([]int64, 200)
	for i := range existing {
		existing[i] = int64(i + 1)
	}
	state := &State{UserID: "alice", SeenMediaIDs: existing}

	got := ApplyDelta(state, "alice", Delta{SeenMediaIDs: []int64{10, 20}})

	seen := got.SeenMediaIDs
	if len(seen) != 200 {
		t.Fatalf("len(seen) = %d, want 200", len(seen))
	}
	if seen[198] != 10 || seen[199] != 20 {
		t.Errorf("tail = [%d %d], want [10 20]", seen[198], seen[199])
	}
	unique := make(map[int64]bool, len(seen))
	for _, id := range seen {
		if unique[id] {
			t.Fatalf("duplicate id %d in seen list", id)
		}
		unique[id] = true
	}
}

func TestApplyDelta_SeenMediaDedupesIncoming(t *testing.T) {
	state := &State{UserID: "alice", SeenMediaIDs: []int64{1, 2}}

	got := ApplyDelta(state, "alice", Delta{SeenMediaIDs: []int64{3, 3, 2}})

	want := []int64{1, 3, 2}
	if !reflect.DeepEqual(got.SeenMediaIDs, want) {
		t.Errorf("SeenMediaIDs = %v, want %v", got.SeenMediaIDs, want)
	}
}

func TestApplyDelta_SpecAndSlotsOverwriteWhenPresent(t *testing.T) {
	state := &State{
		UserID:   "alice",
		LastSpec: &media.QuerySpec{QueryText: "old"},
		SlotMap:  map[string]SlotRef{"1": {MediaID: 1}},
	}

	// Absent fields leave the stored values alone.
	got := ApplyDelta(state, "alice", Delta{
		Summary: map[string]interface{}{SummaryTurnKind: TurnKindChat},
	})
	if got.LastSpec == nil || got.LastSpec.QueryText != "old" {
		t.Errorf("LastSpec = %+v, want untouched on chat turn", got.LastSpec)
	}

	got = ApplyDelta(got, "alice", Delta{
		LastSpec: &media.QuerySpec{QueryText: "new"},
		SlotMap:  map[string]SlotRef{"1": {MediaID: 42, Title: "Answer"}},
	})
	if got.LastSpec.QueryText != "new" {
		t.Errorf("LastSpec.QueryText = %q, want new", got.LastSpec.QueryText)
	}
	if got.SlotMap["1"].MediaID != 42 {
		t.Errorf("SlotMap[1] = %+v, want media 42", got.SlotMap["1"])
	}
}

func TestApplyDelta_NilState(t *testing.T) {
	got := ApplyDelta(nil, "alice", Delta{
		Summary: map[string]interface{}{SummaryTurnKind: TurnKindNew},
	})
	if got.UserID != "alice" || got.TurnKind() != TurnKindNew {
		t.Errorf("ApplyDelta(nil) = %+v, want fresh alice state", got)
	}
}
