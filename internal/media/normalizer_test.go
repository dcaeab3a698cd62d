package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/observability"
	"github.com/haasonsaas/chatline/pkg/models"
)

const (
	testConv  = "conv-1"
	imageKey  = "uploads/conv-1/1700000000000-0a0b0c0d/cat.png"
	audioKey  = "uploads/conv-1/1700000000000-01020304/note.ogg"
	imageURL  = "/api/files/" + imageKey
	audioURL  = "/api/files/" + audioKey
	otherConv = "/api/files/uploads/conv-2/1700000000000-0a0b0c0d/cat.png"
)

// countingScope wraps a scoped store and counts store round trips.
type countingScope struct {
	*objectstore.Scoped
	gets atomic.Int32
	puts atomic.Int32
}

func (s *countingScope) Get(ctx context.Context, key string) (*objectstore.StoredObject, error) {
	s.gets.Add(1)
	return s.Scoped.Get(ctx, key)
}

func (s *countingScope) Put(ctx context.Context, key string, body []byte, opts objectstore.PutOptions) error {
	s.puts.Add(1)
	return s.Scoped.Put(ctx, key, body, opts)
}

func newTestScope(t *testing.T) (*countingScope, *objectstore.MemoryStore) {
	t.Helper()
	store := objectstore.NewMemoryStore()
	scoped, err := objectstore.NewScoped(store, testConv)
	if err != nil {
		t.Fatalf("NewScoped: %v", err)
	}
	return &countingScope{Scoped: scoped}, store
}

type fakeDescriber struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	text    string
	err     error
	delay   time.Duration
}

func (f *fakeDescriber) Describe(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.text, f.err
}

func (f *fakeDescriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func userMessage(parts ...models.Part) models.Message {
	return models.Message{ID: "m", ConversationID: testConv, Role: models.RoleUser, Parts: parts}
}

func textOf(t *testing.T, part models.Part) string {
	t.Helper()
	tp, ok := part.(models.TextPart)
	if !ok {
		t.Fatalf("part is %T, want TextPart", part)
	}
	return tp.Text
}

func TestNormalize_CachedDescriptionSkipsModel(t *testing.T) {
	ctx := context.Background()
	scope, store := newTestScope(t)
	store.Put(ctx, imageKey, []byte("png"), objectstore.PutOptions{
		ContentType: "image/png",
		Metadata:    map[string]string{objectstore.MetaDescription: "a sleeping cat"},
	})

	describer := &fakeDescriber{text: "should not be used"}
	n := NewNormalizer(describer, nil, Config{}, nil)

	out, err := n.Normalize(ctx, scope, []models.Message{
		userMessage(models.FilePart{MediaType: "image/png", URL: imageURL}),
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if describer.Calls() != 0 {
		t.Errorf("vision adapter called %d times, want 0", describer.Calls())
	}
	if got := textOf(t, out[0].Parts[0]); got != "[Attached image: a sleeping cat]" {
		t.Errorf("text = %q", got)
	}
	if scope.puts.Load() != 0 {
		t.Errorf("cache hit rewrote the object")
	}
}

func TestNormalize_ComputesOnceThenHitsCache(t *testing.T) {
	ctx := context.Background()
	scope, store := newTestScope(t)
	store.Put(ctx, imageKey, []byte("png"), objectstore.PutOptions{ContentType: "image/png"})

	describer := &fakeDescriber{text: "a cat on a sofa"}
	n := NewNormalizer(describer, nil, Config{}, nil)
	msgs := []models.Message{userMessage(models.FilePart{MediaType: "image/png", URL: imageURL})}

	for i := 0; i < 2; i++ {
		out, err := n.Normalize(ctx, scope, msgs)
		if err != nil {
			t.Fatalf("Normalize #%d: %v", i, err)
		}
		if got := textOf(t, out[0].Parts[0]); got != "[Attached image: a cat on a sofa]" {
			t.Errorf("Normalize #%d text = %q", i, got)
		}
	}
	if describer.Calls() != 1 {
		t.Errorf("vision adapter called %d times, want 1", describer.Calls())
	}

	obj, err := store.Get(ctx, imageKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.Metadata[objectstore.MetaDescription] != "a cat on a sofa" {
		t.Errorf("description not persisted: %v", obj.Metadata)
	}
	if string(obj.Body) != "png" || obj.ContentType != "image/png" {
		t.Errorf("write-back changed body or content type: %q %q", obj.Body, obj.ContentType)
	}
}

func TestNormalize_MemoAvoidsStoreRead(t *testing.T) {
	ctx := context.Background()
	scope, store := newTestScope(t)
	store.Put(ctx, imageKey, []byte("png"), objectstore.PutOptions{ContentType: "image/png"})

	n := NewNormalizer(&fakeDescriber{text: "cat"}, nil, Config{MemoEntries: 10, MemoTTL: time.Minute}, nil)
	msgs := []models.Message{userMessage(models.FilePart{MediaType: "image/png", URL: imageURL})}

	if _, err := n.Normalize(ctx, scope, msgs); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	before := scope.gets.Load()
	if _, err := n.Normalize(ctx, scope, msgs); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if scope.gets.Load() != before {
		t.Errorf("memo hit still read the store")
	}
}

func TestNormalize_ForgetAfterDeleteSeesMissingObject(t *testing.T) {
	ctx := context.Background()
	scope, store := newTestScope(t)
	store.Put(ctx, imageKey, []byte("png"), objectstore.PutOptions{ContentType: "image/png"})

	n := NewNormalizer(&fakeDescriber{text: "a cat"}, nil, Config{MemoEntries: 10, MemoTTL: time.Hour}, nil)
	msgs := []models.Message{userMessage(models.FilePart{MediaType: "image/png", URL: imageURL})}

	out, err := n.Normalize(ctx, scope, msgs)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := textOf(t, out[0].Parts[0]); got != "[Attached image: a cat]" {
		t.Fatalf("first text = %q", got)
	}

	deleted, err := scope.Delete(ctx, []string{imageKey})
	if err != nil || deleted != 1 {
		t.Fatalf("Delete = %d, %v", deleted, err)
	}
	n.Forget(imageKey)

	before := scope.gets.Load()
	out, err = n.Normalize(ctx, scope, msgs)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := textOf(t, out[0].Parts[0]); got != "[Attached image: [Image not found]]" {
		t.Errorf("text after delete = %q", got)
	}
	if scope.gets.Load() != before+1 {
		t.Errorf("store reads after forget = %d, want 1", scope.gets.Load()-before)
	}
}

func TestNormalize_ConcurrentSameKeyCallsModelOnce(t *testing.T) {
	ctx := context.Background()
	scope, store := newTestScope(t)
	store.Put(ctx, imageKey, []byte("png"), objectstore.PutOptions{ContentType: "image/png"})

	describer := &fakeDescriber{text: "cat", delay: 20 * time.Millisecond}
	n := NewNormalizer(describer, nil, Config{}, nil)

	var msgs []models.Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, userMessage(models.FilePart{MediaType: "image/png", URL: imageURL}))
	}
	out, err := n.Normalize(ctx, scope, msgs)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if describer.Calls() != 1 {
		t.Errorf("vision adapter called %d times, want 1", describer.Calls())
	}
	for i, msg := range out {
		if got := textOf(t, msg.Parts[0]); got != "[Attached image: cat]" {
			t.Errorf("message %d text = %q", i, got)
		}
	}
}

func TestNormalize_UnresolvableKeyMakesNoStoreCall(t *testing.T) {
	tests := []struct {
		name string
		part models.FilePart
		want string
	}{
		{"image", models.FilePart{MediaType: "image/png", URL: otherConv}, "[Attached image: [Unknown image]]"},
		{"audio", models.FilePart{MediaType: "audio/ogg", URL: "https://elsewhere.example.com/a.ogg"}, "[Voice message: [Unknown audio]]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, _ := newTestScope(t)
			n := NewNormalizer(&fakeDescriber{text: "x"}, nil, Config{}, nil)

			out, err := n.Normalize(context.Background(), scope, []models.Message{userMessage(tt.part)})
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got := textOf(t, out[0].Parts[0]); got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
			if scope.gets.Load() != 0 || scope.puts.Load() != 0 {
				t.Errorf("store touched: %d gets, %d puts", scope.gets.Load(), scope.puts.Load())
			}
		})
	}
}

func TestNormalize_MissingObject(t *testing.T) {
	scope, _ := newTestScope(t)
	n := NewNormalizer(&fakeDescriber{text: "x"}, TranscriberFunc(func(context.Context, []byte, string) (string, error) {
		return "x", nil
	}), Config{}, nil)

	out, err := n.Normalize(context.Background(), scope, []models.Message{userMessage(
		models.FilePart{MediaType: "image/png", URL: imageURL},
		models.FilePart{MediaType: "audio/ogg", URL: audioURL},
	)})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := textOf(t, out[0].Parts[0]); got != "[Attached image: [Image not found]]" {
		t.Errorf("image text = %q", got)
	}
	if got := textOf(t, out[0].Parts[1]); got != "[Voice message: [Audio not found]]" {
		t.Errorf("audio text = %q", got)
	}
}

func TestNormalize_EmptyTranscriptIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	scope, store := newTestScope(t)
	store.Put(ctx, audioKey, []byte("ogg"), objectstore.PutOptions{ContentType: "audio/ogg"})

	calls := 0
	transcriber := TranscriberFunc(func(context.Context, []byte, string) (string, error) {
		calls++
		return "", nil
	})
	n := NewNormalizer(nil, transcriber, Config{MemoEntries: 10}, nil)
	msgs := []models.Message{userMessage(models.FilePart{MediaType: "audio/ogg", URL: audioURL})}

	for i := 0; i < 2; i++ {
		out, err := n.Normalize(ctx, scope, msgs)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if got := textOf(t, out[0].Parts[0]); got != "[Voice message: [Could not transcribe]]" {
			t.Errorf("text = %q", got)
		}
	}
	if calls != 2 {
		t.Errorf("transcriber called %d times, want 2 (placeholder must not be cached)", calls)
	}
	obj, _ := store.Get(ctx, audioKey)
	if _, ok := obj.Metadata[objectstore.MetaTranscript]; ok {
		t.Errorf("placeholder persisted: %v", obj.Metadata)
	}
}

func TestNormalize_VisionFailureDegrades(t *testing.T) {
	ctx := context.Background()
	scope, store := newTestScope(t)
	store.Put(ctx, imageKey, []byte("png"), objectstore.PutOptions{ContentType: "image/png"})

	n := NewNormalizer(&fakeDescriber{err: errors.New("upstream 500")}, nil, Config{}, nil)
	out, err := n.Normalize(ctx, scope, []models.Message{userMessage(
		models.TextPart{Text: "look"},
		models.FilePart{MediaType: "image/png", URL: imageURL},
	)})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := textOf(t, out[0].Parts[1]); got != "[Attached image: [Could not describe image]]" {
		t.Errorf("text = %q", got)
	}
	if scope.puts.Load() != 0 {
		t.Error("failure result was persisted")
	}
}

func TestNormalize_OrderingAndContext(t *testing.T) {
	ctx := context.Background()
	scope, store := newTestScope(t)
	store.Put(ctx, imageKey, []byte("png"), objectstore.PutOptions{ContentType: "image/png"})
	store.Put(ctx, audioKey, []byte("ogg"), objectstore.PutOptions{ContentType: "audio/ogg"})

	describer := &fakeDescriber{text: "a cat"}
	transcriber := TranscriberFunc(func(context.Context, []byte, string) (string, error) {
		return "hello world", nil
	})
	n := NewNormalizer(describer, transcriber, Config{}, nil)

	pdf := models.FilePart{MediaType: "application/pdf", URL: "/api/files/uploads/conv-1/1-aa/doc.pdf", Filename: "doc.pdf"}
	msgs := []models.Message{
		{ID: "sys", Role: models.RoleSystem, Parts: []models.Part{models.TextPart{Text: "be brief"}}},
		userMessage(
			models.FilePart{MediaType: "image/png", URL: imageURL},
			models.TextPart{Text: "what breed"},
			models.FilePart{MediaType: "audio/ogg", URL: audioURL},
			pdf,
			models.TextPart{Text: "is it?"},
		),
		{ID: "a", Role: models.RoleAssistant, Parts: []models.Part{models.FilePart{MediaType: "image/png", URL: imageURL}}},
	}

	out, err := n.Normalize(ctx, scope, msgs)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	user := out[1]
	if len(user.Parts) != 5 {
		t.Fatalf("user parts = %d, want 5", len(user.Parts))
	}
	if got := textOf(t, user.Parts[0]); got != "what breed" {
		t.Errorf("part 0 = %q", got)
	}
	if fp, ok := user.Parts[1].(models.FilePart); !ok || fp != pdf {
		t.Errorf("part 1 = %#v, want pdf file part", user.Parts[1])
	}
	if got := textOf(t, user.Parts[2]); got != "is it?" {
		t.Errorf("part 2 = %q", got)
	}
	if got := textOf(t, user.Parts[3]); got != "[Attached image: a cat]" {
		t.Errorf("part 3 = %q", got)
	}
	if got := textOf(t, user.Parts[4]); got != "[Voice message: hello world]" {
		t.Errorf("part 4 = %q", got)
	}

	if want := VisionPrompt("what breed is it?"); len(describer.prompts) != 1 || describer.prompts[0] != want {
		t.Errorf("prompts = %q, want [%q]", describer.prompts, want)
	}
	if _, ok := out[2].Parts[0].(models.FilePart); !ok {
		t.Error("assistant message was normalized")
	}
	if len(msgs[1].Parts) != 5 {
		t.Error("input message mutated")
	}
	if _, ok := msgs[1].Parts[0].(models.FilePart); !ok {
		t.Error("input message parts mutated")
	}
}

func TestNormalize_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	scope, store := newTestScope(t)
	store.Put(ctx, imageKey, []byte("png"), objectstore.PutOptions{ContentType: "image/png"})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	n := NewNormalizer(&fakeDescriber{text: "cat"}, nil, Config{}, nil)
	n.SetMetrics(metrics)

	msgs := []models.Message{userMessage(models.FilePart{MediaType: "image/png", URL: imageURL})}
	n.Normalize(ctx, scope, msgs)
	n.Normalize(ctx, scope, msgs)

	if got := testutil.ToFloat64(metrics.MediaNormalizations.WithLabelValues("image", "computed")); got != 1 {
		t.Errorf("computed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.MediaNormalizations.WithLabelValues("image", "cache_hit")); got != 1 {
		t.Errorf("cache_hit = %v, want 1", got)
	}
}

func TestNormalize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scope, _ := newTestScope(t)
	n := NewNormalizer(nil, nil, Config{}, nil)

	_, err := n.Normalize(ctx, scope, []models.Message{userMessage(models.TextPart{Text: "hi"})})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
