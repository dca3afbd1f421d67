package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

// stubEmbedder returns canned unit vectors keyed by exact text. Texts
// without a canned vector map to a shared off-axis default, which keeps
// them near-orthogonal to everything canned.
type stubEmbedder struct {
	vecs  map[string][]float32
	err   error
	calls int
}

func (e *stubEmbedder) Embed(_ context.Context, text string) (Embedding, error) {
	e.calls++
	if e.err != nil {
		return Embedding{}, e.err
	}
	v, ok := e.vecs[text]
	if !ok {
		v = unitVec(EmbeddingDim - 1)
	}
	return Embedding{Vector: v, Source: SourceModel}, nil
}

// unitVec builds a unit vector concentrated on the given axes.
func unitVec(axes ...int) []float32 {
	v := make([]float32, EmbeddingDim)
	for _, a := range axes {
		v[a] = 1
	}
	vec.Normalize(v)
	return v
}

// blend returns the normalised weighted sum of two vectors.
func blend(a, b []float32, wa, wb float32) []float32 {
	v := make([]float32, len(a))
	for i := range v {
		v[i] = wa*a[i] + wb*b[i]
	}
	vec.Normalize(v)
	return v
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(e Embedder) *Service {
	return NewService(NewInMemoryStore(), e, testLogger(), Config{MinSimilarity: 0.3, MaxAgeDays: 30})
}

func TestService_StoreAndRetrieve(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{})
	ctx := context.Background()

	res, err := svc.Store(ctx, StoreRequest{
		UserID:   "u1",
		Text:     "Meeting with Dr. Smith tomorrow at 3pm",
		Entities: []EntityInput{{Type: "person", Value: "Dr. Smith"}},
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if !res.Stored {
		t.Error("Stored = false, want true")
	}
	if res.Entities != 1 {
		t.Errorf("Entities = %d, want 1", res.Entities)
	}
	if res.EmbeddingDimensions != EmbeddingDim {
		t.Errorf("EmbeddingDimensions = %d, want %d", res.EmbeddingDimensions, EmbeddingDim)
	}
	if !strings.HasPrefix(res.MemoryID, "mem_") {
		t.Errorf("MemoryID = %q, want mem_ prefix", res.MemoryID)
	}

	got, err := svc.Retrieve(ctx, res.MemoryID, "u1")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got.SourceText != "Meeting with Dr. Smith tomorrow at 3pm" {
		t.Errorf("SourceText = %q", got.SourceText)
	}
	if len(got.Entities) != 1 {
		t.Fatalf("len(Entities) = %d, want 1", len(got.Entities))
	}
	if got.Entities[0].Value != "Dr. Smith" {
		t.Errorf("entity Value = %q, want %q", got.Entities[0].Value, "Dr. Smith")
	}
	if got.Entities[0].NormalizedValue != "dr. smith" {
		t.Errorf("entity NormalizedValue = %q, want %q", got.Entities[0].NormalizedValue, "dr. smith")
	}
}

func TestService_SearchSimilarityFloor(t *testing.T) {
	t.Parallel()

	appt := unitVec(0, 1)
	source := "I have an appointment with Dr. Johnson next Tuesday"
	emb := &stubEmbedder{vecs: map[string][]float32{
		source:                      appt,
		"doctor appointment":        blend(appt, unitVec(2), 0.9, 0.1),
		"grocery list for saturday": unitVec(5),
	}}
	svc := newTestService(emb)
	ctx := context.Background()

	stored, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: source})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: "grocery list for saturday"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	minSim := 0.3
	res, err := svc.Search(ctx, SearchRequest{UserID: "u1", Query: "doctor appointment", MinSimilarity: &minSim})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1", len(res.Results))
	}
	if res.Results[0].ID != stored.MemoryID {
		t.Errorf("result ID = %q, want %q", res.Results[0].ID, stored.MemoryID)
	}
	if res.Results[0].Similarity < 0.30 {
		t.Errorf("Similarity = %v, want >= 0.30", res.Results[0].Similarity)
	}
}

func TestService_SearchSortedDescending(t *testing.T) {
	t.Parallel()

	q := unitVec(0)
	emb := &stubEmbedder{vecs: map[string][]float32{
		"close":  blend(q, unitVec(1), 0.95, 0.05),
		"closer": blend(q, unitVec(1), 0.99, 0.01),
		"far":    blend(q, unitVec(1), 0.5, 0.5),
		"query":  q,
	}}
	svc := newTestService(emb)
	ctx := context.Background()

	for _, text := range []string{"close", "far", "closer"} {
		if _, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: text}); err != nil {
			t.Fatalf("Store(%q) error = %v", text, err)
		}
	}

	res, err := svc.Search(ctx, SearchRequest{UserID: "u1", Query: "query"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(res.Results))
	}
	for i := 1; i < len(res.Results); i++ {
		if res.Results[i].Similarity > res.Results[i-1].Similarity {
			t.Errorf("results not sorted: similarity[%d]=%v > similarity[%d]=%v",
				i, res.Results[i].Similarity, i-1, res.Results[i-1].Similarity)
		}
	}
	if res.Results[0].SourceText != "closer" {
		t.Errorf("top result = %q, want %q", res.Results[0].SourceText, "closer")
	}
}

func TestService_SearchScopedToUser(t *testing.T) {
	t.Parallel()

	v := unitVec(3)
	emb := &stubEmbedder{vecs: map[string][]float32{"shared text": v, "shared": v}}
	svc := newTestService(emb)
	ctx := context.Background()

	if _, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: "shared text"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	res, err := svc.Search(ctx, SearchRequest{UserID: "u2", Query: "shared"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) != 0 {
		t.Errorf("len(Results) = %d, want 0 for another user", len(res.Results))
	}
}

func TestService_UpdateReembeds(t *testing.T) {
	t.Parallel()

	tue, wed, fri := unitVec(10), unitVec(11), unitVec(12)
	emb := &stubEmbedder{vecs: map[string][]float32{
		"Meeting on Tuesday":   tue,
		"Meeting on Wednesday": wed,
		"Coffee on Friday":     fri,
		"Wednesday meeting":    blend(wed, unitVec(13), 0.95, 0.05),
	}}
	svc := newTestService(emb)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	current := base
	svc.now = func() time.Time { return current }

	stored, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: "Meeting on Tuesday"})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if _, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: "Coffee on Friday"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	current = base.Add(time.Minute)
	newText := "Meeting on Wednesday"
	upd, err := svc.Update(ctx, UpdateRequest{ID: stored.MemoryID, UserID: "u1", Text: &newText})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !upd.Reembedded {
		t.Error("Reembedded = false, want true")
	}

	got, err := svc.Retrieve(ctx, stored.MemoryID, "u1")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got.SourceText != newText {
		t.Errorf("SourceText = %q, want %q", got.SourceText, newText)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v (unchanged)", got.CreatedAt, base)
	}
	if !got.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, base.Add(time.Minute))
	}

	zero := 0.0
	res, err := svc.Search(ctx, SearchRequest{UserID: "u1", Query: "Wednesday meeting", MinSimilarity: &zero})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) < 2 {
		t.Fatalf("len(Results) = %d, want 2", len(res.Results))
	}
	if res.Results[0].ID != stored.MemoryID {
		t.Errorf("top result = %q, want updated record %q", res.Results[0].ID, stored.MemoryID)
	}
}

func TestService_UpdateWithoutTextKeepsEmbedding(t *testing.T) {
	t.Parallel()

	emb := &stubEmbedder{vecs: map[string][]float32{"stable text": unitVec(7)}}
	svc := newTestService(emb)
	ctx := context.Background()

	stored, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: "stable text"})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	callsAfterStore := emb.calls

	meta := []byte(`{"pinned":true}`)
	upd, err := svc.Update(ctx, UpdateRequest{ID: stored.MemoryID, UserID: "u1", Metadata: meta})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if upd.Reembedded {
		t.Error("Reembedded = true, want false for metadata-only update")
	}
	if emb.calls != callsAfterStore {
		t.Errorf("embedder calls = %d, want %d (no re-embed)", emb.calls, callsAfterStore)
	}

	got, err := svc.Retrieve(ctx, stored.MemoryID, "u1")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got.Metadata != `{"pinned":true}` {
		t.Errorf("Metadata = %q", got.Metadata)
	}
}

func TestService_UpdateMissing(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{})
	text := "anything"
	_, err := svc.Update(context.Background(), UpdateRequest{ID: "mem_0_00000000", UserID: "u1", Text: &text})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Update() error = %v, want ErrRecordNotFound", err)
	}
}

func TestService_DeleteIdempotent(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{})
	ctx := context.Background()

	stored, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: "short lived"})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	found, err := svc.Delete(ctx, stored.MemoryID, "u1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !found {
		t.Error("first Delete: found = false, want true")
	}

	found, err = svc.Delete(ctx, stored.MemoryID, "u1")
	if err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if found {
		t.Error("second Delete: found = true, want false")
	}

	if _, err := svc.Retrieve(ctx, stored.MemoryID, "u1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Retrieve() error = %v, want ErrRecordNotFound", err)
	}
}

func TestService_StoreValidation(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{})
	ctx := context.Background()

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t "},
		{"oversize", strings.Repeat("a", MaxSourceTextLen+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: tt.text})
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Store() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestService_StoreDropsInvalidEntities(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{})
	ctx := context.Background()

	res, err := svc.Store(ctx, StoreRequest{
		UserID: "u1",
		Text:   "entity shakedown",
		Entities: []EntityInput{
			{Type: "person", Value: "Ada"},
			{Type: "", Value: "no type"},
			{Type: "thing", Value: "  "},
		},
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if res.Entities != 1 {
		t.Errorf("Entities = %d, want 1", res.Entities)
	}
}

func TestService_StoreCapsEntities(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{})
	ctx := context.Background()

	many := make([]EntityInput, 150)
	for i := range many {
		many[i] = EntityInput{Type: "tag", Value: strings.Repeat("x", i+1)}
	}
	res, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: "crowded", Entities: many})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if res.Entities != MaxEntitiesPerRecord {
		t.Errorf("Entities = %d, want %d", res.Entities, MaxEntitiesPerRecord)
	}
}

func TestService_StoreEmbedderFailure(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{err: errors.New("model exploded")})
	_, err := svc.Store(context.Background(), StoreRequest{UserID: "u1", Text: "doomed"})
	if !errors.Is(err, ErrEmbeddingFailed) {
		t.Fatalf("Store() error = %v, want ErrEmbeddingFailed", err)
	}
	if code := CodeOf(err); code != CodeEmbeddingFailed {
		t.Errorf("CodeOf() = %q, want %q", code, CodeEmbeddingFailed)
	}
}

func TestService_SearchUsesConfigFloor(t *testing.T) {
	t.Parallel()

	q := unitVec(0)
	emb := &stubEmbedder{vecs: map[string][]float32{
		"lukewarm": blend(q, unitVec(1), 0.2, 0.8),
		"q":        q,
	}}
	svc := newTestService(emb)
	ctx := context.Background()

	if _, err := svc.Store(ctx, StoreRequest{UserID: "u1", Text: "lukewarm"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	res, err := svc.Search(ctx, SearchRequest{UserID: "u1", Query: "q"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) != 0 {
		t.Fatalf("len(Results) = %d, want 0 under config floor", len(res.Results))
	}

	zero := 0.0
	res, err = svc.Search(ctx, SearchRequest{UserID: "u1", Query: "q", MinSimilarity: &zero})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) != 1 {
		t.Errorf("len(Results) = %d, want 1 with explicit zero floor", len(res.Results))
	}
}

func TestService_ListPaging(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{})
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	current := base
	svc.now = func() time.Time { return current }

	var ids []string
	for i := 0; i < 5; i++ {
		current = base.Add(time.Duration(i) * time.Minute)
		typ := TypeUserMemory
		if i%2 == 1 {
			typ = "note"
		}
		res, err := svc.Store(ctx, StoreRequest{UserID: "u1", Type: typ, Text: "record"})
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		ids = append(ids, res.MemoryID)
	}

	res, err := svc.List(ctx, ListRequest{UserID: "u1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 {
		t.Errorf("Total = %d, want 5", res.Total)
	}
	if len(res.Items) != 5 {
		t.Fatalf("len(Items) = %d, want 5", len(res.Items))
	}
	if res.Items[0].ID != ids[4] {
		t.Errorf("first item = %q, want newest %q", res.Items[0].ID, ids[4])
	}

	res, err = svc.List(ctx, ListRequest{UserID: "u1", Limit: 2, Offset: 2, Order: "ASC"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 {
		t.Errorf("Total = %d, want 5", res.Total)
	}
	if len(res.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(res.Items))
	}
	if res.Items[0].ID != ids[2] {
		t.Errorf("offset item = %q, want %q", res.Items[0].ID, ids[2])
	}

	res, err = svc.List(ctx, ListRequest{UserID: "u1", Type: "note"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Errorf("Total = %d, want 2 notes", res.Total)
	}

	if _, err := svc.List(ctx, ListRequest{UserID: "u1", SortBy: "similarity"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("List(bad sort) error = %v, want ErrInvalidInput", err)
	}
}

func TestService_DefaultUserFallback(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{})
	ctx := context.Background()

	stored, err := svc.Store(ctx, StoreRequest{Text: "anonymous note"})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	got, err := svc.Retrieve(ctx, stored.MemoryID, "")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got.UserID != DefaultUserID {
		t.Errorf("UserID = %q, want %q", got.UserID, DefaultUserID)
	}
}

func TestService_SessionIDMergedIntoMetadata(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubEmbedder{})
	ctx := context.Background()

	stored, err := svc.Store(ctx, StoreRequest{UserID: "u1", SessionID: "sess-42", Text: "scoped note"})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	got, err := svc.Retrieve(ctx, stored.MemoryID, "u1")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if v := got.MetadataMap()["sessionId"]; v != "sess-42" {
		t.Errorf("metadata sessionId = %v, want %q", v, "sess-42")
	}

	res, err := svc.List(ctx, ListRequest{UserID: "u1", SessionID: "sess-42"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Errorf("Total = %d, want 1", res.Total)
	}
}
