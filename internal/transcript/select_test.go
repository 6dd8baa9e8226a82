package transcript

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSelectOrdersOldestFirstAndExcludesSelf(t *testing.T) {
	b := Normalize(raws(
		`{"id":121,"text":"third","is_from_me":false}`,
		`{"id":120,"text":"our own reply","is_from_me":true}`,
		`{"id":119,"text":"first","is_from_me":false}`,
		`{"id":118,"text":"already handled","is_from_me":false}`,
	))

	got := Select(b.Records, 118)
	if diff := cmp.Diff([]int64{119, 121}, ids(got)); diff != "" {
		t.Fatalf("Select() ids mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectIsIdempotentAcrossRestarts(t *testing.T) {
	records := []Record{
		{ID: 205, Text: "e"},
		{ID: 204, Text: "d"},
		{ID: 203, Text: "c", FromMe: true},
		{ID: 202, Text: "b"},
		{ID: 201, Text: "a"},
	}

	for restart := 0; restart < 3; restart++ {
		got := Select(records, 202)
		if diff := cmp.Diff([]int64{204, 205}, ids(got)); diff != "" {
			t.Fatalf("restart %d: ids mismatch (-want +got):\n%s", restart, diff)
		}
	}
}

func TestSelectDropsDuplicatesAndEmptyText(t *testing.T) {
	records := []Record{
		{ID: 9, Text: "again"},
		{ID: 9, Text: "again"},
		{ID: 8, Text: ""},
		{ID: 7, Text: "x"},
	}
	got := Select(records, 0)
	if diff := cmp.Diff([]int64{7, 9}, ids(got)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectEmptyWhenNothingNew(t *testing.T) {
	records := []Record{{ID: 3, Text: "old"}, {ID: 2, Text: "older"}}
	if got := Select(records, 3); len(got) != 0 {
		t.Fatalf("Select() = %+v, want empty", got)
	}
}
