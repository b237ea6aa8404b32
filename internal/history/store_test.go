package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chemkb/chemkb/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.Store) {
	t.Helper()
	backend, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return NewStore(backend), backend
}

func makeRecord(id, question string, ts time.Time) Record {
	return Record{
		ID:           id,
		Question:     question,
		Answer:       "答案 " + id,
		Tags:         []string{},
		Timestamp:    ts,
		ResponseType: "rag_based",
		Confidence:   80,
	}
}

func TestAddAndListNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Now()

	for i := 0; i < 3; i++ {
		rec := makeRecord(fmt.Sprintf("r%d", i), "问题", base.Add(time.Duration(i)*time.Second))
		if !s.Add(rec) {
			t.Fatalf("Add(%s) failed", rec.ID)
		}
	}

	records := s.List()
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].ID != "r2" || records[2].ID != "r0" {
		t.Errorf("order = %s..%s, want r2..r0", records[0].ID, records[2].ID)
	}
}

func TestAddEvictsOldestPastCap(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Now()

	for i := 0; i < maxRecords+5; i++ {
		s.Add(makeRecord(fmt.Sprintf("r%d", i), "问题", base.Add(time.Duration(i)*time.Second)))
	}

	records := s.List()
	if len(records) != maxRecords {
		t.Fatalf("got %d records, want %d", len(records), maxRecords)
	}
	if records[0].ID != fmt.Sprintf("r%d", maxRecords+4) {
		t.Errorf("newest = %s", records[0].ID)
	}
	for _, rec := range records {
		if rec.ID == "r0" || rec.ID == "r4" {
			t.Errorf("oldest record %s survived eviction", rec.ID)
		}
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	s.Add(makeRecord("r1", "问题", time.Now()))

	if err := s.Delete("r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("r1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if err := s.Delete("missing"); err != nil {
		t.Fatalf("Delete of absent id: %v", err)
	}
	if got := s.List(); len(got) != 0 {
		t.Errorf("records left: %d", len(got))
	}
}

func TestBatchDelete(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Now()
	for i := 0; i < 4; i++ {
		s.Add(makeRecord(fmt.Sprintf("r%d", i), "问题", base.Add(time.Duration(i)*time.Second)))
	}

	removed, err := s.BatchDelete([]string{"r1", "r3", "missing"})
	if err != nil {
		t.Fatalf("BatchDelete: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if got := s.List(); len(got) != 2 {
		t.Errorf("records left: %d, want 2", len(got))
	}

	removed, err = s.BatchDelete([]string{"r1"})
	if err != nil || removed != 0 {
		t.Errorf("repeat BatchDelete = %d, %v", removed, err)
	}
}

func TestSearch(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Now()

	r1 := makeRecord("r1", "反应器设计要点", base)
	r1.Tags = []string{"设备", "工艺"}
	r2 := makeRecord("r2", "催化剂选型", base.Add(time.Second))
	r2.Tags = []string{"催化剂"}
	r3 := makeRecord("r3", "Reactor safety", base.Add(2*time.Second))
	r3.Answer = "参考安全规范。"
	r3.Tags = []string{"安全"}
	for _, rec := range []Record{r1, r2, r3} {
		s.Add(rec)
	}

	if got := s.Search("反应器", nil); len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("keyword search = %+v", got)
	}
	// Case-insensitive, and answers are searched too.
	if got := s.Search("reactor", nil); len(got) != 1 || got[0].ID != "r3" {
		t.Errorf("case-insensitive search = %+v", got)
	}
	if got := s.Search("安全", nil); len(got) != 1 || got[0].ID != "r3" {
		t.Errorf("answer search = %+v", got)
	}
	// Any matching tag qualifies.
	if got := s.Search("", []string{"工艺", "催化剂"}); len(got) != 2 {
		t.Errorf("tag search = %+v", got)
	}
	// Keyword and tags must both hold.
	if got := s.Search("反应器", []string{"催化剂"}); len(got) != 0 {
		t.Errorf("combined search = %+v", got)
	}
	if got := s.Search("反应器", []string{"设备"}); len(got) != 1 {
		t.Errorf("combined search = %+v", got)
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)

	empty := s.Stats()
	if empty.TotalQuestions != 0 || empty.AvgConfidence != 0 {
		t.Errorf("empty stats = %+v", empty)
	}

	base := time.Now()
	r1 := makeRecord("r1", "问题一", base)
	r1.Confidence = 90
	r1.Tags = []string{"工艺"}
	r2 := makeRecord("r2", "问题二", base.Add(time.Second))
	r2.Confidence = 50
	r2.ResponseType = "error"
	r2.Tags = []string{"工艺", "安全"}
	s.Add(r1)
	s.Add(r2)

	stats := s.Stats()
	if stats.TotalQuestions != 2 {
		t.Errorf("total = %d", stats.TotalQuestions)
	}
	if stats.AvgConfidence != 70 {
		t.Errorf("avg confidence = %v, want 70", stats.AvgConfidence)
	}
	if stats.TagDistribution["工艺"] != 2 || stats.TagDistribution["安全"] != 1 {
		t.Errorf("tag distribution = %v", stats.TagDistribution)
	}
	if stats.ResponseTypeDistribution["rag_based"] != 1 || stats.ResponseTypeDistribution["error"] != 1 {
		t.Errorf("response type distribution = %v", stats.ResponseTypeDistribution)
	}
}

func TestExportJSONRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)
	s.Add(makeRecord("r1", "问题一", base))
	s.Add(makeRecord("r2", "问题二", base.Add(time.Second)))

	data, err := s.Export("json")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var decoded []Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round-trip decode: %v", err)
	}
	if len(decoded) != 2 || decoded[0].ID != "r2" || decoded[1].Question != "问题一" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestExportCSV(t *testing.T) {
	s, _ := newTestStore(t)
	rec := makeRecord("r1", "问题", time.Now())
	rec.Tags = []string{"工艺", "安全"}
	s.Add(rec)

	data, err := s.Export("csv")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,question,answer") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "工艺,安全") {
		t.Errorf("row = %q", lines[1])
	}

	if _, err := s.Export("xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestCorruptBlobYieldsEmptyHistory(t *testing.T) {
	s, backend := newTestStore(t)
	if err := backend.SetBlob(blobKey, []byte("not json")); err != nil {
		t.Fatalf("SetBlob: %v", err)
	}

	if got := s.List(); got != nil {
		t.Errorf("List over corrupt blob = %+v, want nil", got)
	}

	// Adding over a corrupt blob starts a fresh history.
	if !s.Add(makeRecord("r1", "问题", time.Now())) {
		t.Fatal("Add over corrupt blob failed")
	}
	if got := s.List(); len(got) != 1 {
		t.Errorf("records = %d, want 1", len(got))
	}
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(t)
	s.Add(makeRecord("r1", "问题", time.Now()))

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := s.List(); len(got) != 0 {
		t.Errorf("records after Clear: %d", len(got))
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}
