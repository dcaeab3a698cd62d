package media

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/haasonsaas/chatline/internal/cache"
	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/observability"
	"github.com/haasonsaas/chatline/pkg/models"
)

// Scope is the conversation-bound view of the object store the normalizer
// works against. objectstore.Scoped satisfies it.
type Scope interface {
	Resolve(rawURL string) (string, bool)
	Get(ctx context.Context, key string) (*objectstore.StoredObject, error)
	Put(ctx context.Context, key string, body []byte, opts objectstore.PutOptions) error
}

// Config tunes the normalizer.
type Config struct {
	// MaxConcurrency caps concurrent media substitutions; 0 means unlimited.
	MaxConcurrency int `yaml:"max_concurrency"`

	// MaxImageDimension bounds the longest side sent to the vision model.
	MaxImageDimension int `yaml:"max_image_dimension"`

	// MemoTTL and MemoEntries bound the in-process caption memo. Zero entries
	// disables it.
	MemoTTL     time.Duration `yaml:"memo_ttl"`
	MemoEntries int           `yaml:"memo_entries"`
}

// Outcome labels for metrics.
const (
	resultMemoHit  = "memo_hit"
	resultCacheHit = "cache_hit"
	resultComputed = "computed"
	resultSentinel = "sentinel"
)

// Normalizer replaces image and audio parts with text.
type Normalizer struct {
	describer   Describer
	transcriber Transcriber
	config      Config
	logger      *slog.Logger
	metrics     *observability.Metrics
	flights     singleflight.Group
	memo        *cache.TTLCache[string]
}

// NewNormalizer creates a normalizer. A nil describer or transcriber makes
// every image or audio part resolve to its failure sentinel.
func NewNormalizer(describer Describer, transcriber Transcriber, cfg Config, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxImageDimension == 0 {
		cfg.MaxImageDimension = DefaultMaxDimension
	}
	return &Normalizer{
		describer:   describer,
		transcriber: transcriber,
		config:      cfg,
		logger:      logger.With("component", "media"),
		memo:        cache.NewTTLCache[string](cache.Options{TTL: cfg.MemoTTL, MaxSize: cfg.MemoEntries}),
	}
}

// SetMetrics attaches a metrics sink.
func (n *Normalizer) SetMetrics(m *observability.Metrics) {
	n.metrics = m
}

// SweepMemo drops expired memo entries.
func (n *Normalizer) SweepMemo() int {
	return n.memo.Sweep()
}

// Forget drops memoized text for deleted objects so the next normalization
// reads the store again and sees them missing.
func (n *Normalizer) Forget(keys ...string) {
	for _, key := range keys {
		n.memo.Remove(string(KindImage) + ":" + key)
		n.memo.Remove(string(KindAudio) + ":" + key)
	}
}

type mediaJob struct {
	msgIdx  int
	slot    int
	kind    Kind
	part    models.FilePart
	context string
}

// Normalize returns a copy of msgs in which every image and audio part of a
// user message is replaced by a text part. All substitutions across all
// messages run concurrently and are joined before returning. Failures degrade
// to sentinel text; the only error returned is ctx's.
func (n *Normalizer) Normalize(ctx context.Context, scope Scope, msgs []models.Message) ([]models.Message, error) {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)

	var jobs []mediaJob
	slots := make([][]string, len(msgs))
	for i, msg := range msgs {
		if msg.Role != models.RoleUser {
			continue
		}
		userText := msg.Text()
		for _, part := range msg.Parts {
			fp, ok := part.(models.FilePart)
			if !ok {
				continue
			}
			kind := KindOf(fp.MediaType, fp.Filename)
			if kind == KindOther {
				continue
			}
			jobs = append(jobs, mediaJob{msgIdx: i, slot: len(slots[i]), kind: kind, part: fp, context: userText})
			slots[i] = append(slots[i], "")
		}
	}
	if len(jobs) == 0 {
		return out, ctx.Err()
	}

	// Work started here is allowed to finish after the turn is cancelled;
	// the cache writes it makes still benefit later turns.
	workCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	if n.config.MaxConcurrency > 0 {
		g.SetLimit(n.config.MaxConcurrency)
	}
	for _, job := range jobs {
		g.Go(func() error {
			slots[job.msgIdx][job.slot] = n.substitute(workCtx, scope, job)
			return nil
		})
	}
	_ = g.Wait()

	for i, texts := range slots {
		if len(texts) == 0 {
			continue
		}
		out[i] = rebuild(msgs[i], texts)
	}
	return out, ctx.Err()
}

// rebuild keeps non-media parts in order and appends the substituted texts.
func rebuild(msg models.Message, texts []string) models.Message {
	parts := make([]models.Part, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		if fp, ok := part.(models.FilePart); ok && KindOf(fp.MediaType, fp.Filename) != KindOther {
			continue
		}
		parts = append(parts, models.ClonePart(part))
	}
	for _, text := range texts {
		parts = append(parts, models.TextPart{Text: text})
	}
	msg.Parts = parts
	return msg
}

func (n *Normalizer) substitute(ctx context.Context, scope Scope, job mediaJob) string {
	text := n.resolveText(ctx, scope, job)
	if job.kind == KindImage {
		return FormatImage(text)
	}
	return FormatAudio(text)
}

type resolution struct {
	text   string
	result string
}

func (n *Normalizer) resolveText(ctx context.Context, scope Scope, job mediaJob) string {
	key, ok := scope.Resolve(job.part.URL)
	if !ok {
		n.metrics.RecordMediaNormalization(string(job.kind), resultSentinel)
		if job.kind == KindImage {
			return SentinelUnknownImage
		}
		return SentinelUnknownAudio
	}

	memoKey := string(job.kind) + ":" + key
	if text, ok := n.memo.Get(memoKey); ok {
		n.metrics.RecordMediaNormalization(string(job.kind), resultMemoHit)
		return text
	}

	v, _, _ := n.flights.Do(memoKey, func() (any, error) {
		return n.compute(ctx, scope, job, key), nil
	})
	res := v.(resolution)
	n.metrics.RecordMediaNormalization(string(job.kind), res.result)
	if res.result != resultSentinel {
		n.memo.Set(memoKey, res.text)
	}
	return res.text
}

func (n *Normalizer) compute(ctx context.Context, scope Scope, job mediaJob, key string) resolution {
	metaKey := objectstore.MetaTranscript
	notFound, failed := SentinelAudioNotFound, SentinelCouldNotTrans
	if job.kind == KindImage {
		metaKey = objectstore.MetaDescription
		notFound, failed = SentinelImageNotFound, SentinelCouldNotDescribe
	}

	obj, err := scope.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, objectstore.ErrNotFound) {
			n.logger.WarnContext(ctx, "media object read failed", "object_key", key, "error", err)
		}
		return resolution{text: notFound, result: resultSentinel}
	}

	if cached := strings.TrimSpace(obj.Metadata[metaKey]); cached != "" {
		return resolution{text: cached, result: resultCacheHit}
	}

	mimeType := obj.ContentType
	if mimeType == "" {
		mimeType = job.part.MediaType
	}

	var text string
	if job.kind == KindImage {
		text, err = n.describe(ctx, obj.Body, mimeType, VisionPrompt(job.context))
	} else {
		text, err = n.transcribe(ctx, obj.Body, mimeType)
	}
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		if err != nil {
			n.logger.WarnContext(ctx, "media model call failed", "kind", job.kind, "object_key", key, "error", err)
		}
		return resolution{text: failed, result: resultSentinel}
	}

	meta := make(map[string]string, len(obj.Metadata)+1)
	for k, v := range obj.Metadata {
		meta[k] = v
	}
	meta[metaKey] = text
	if err := scope.Put(ctx, key, obj.Body, objectstore.PutOptions{ContentType: obj.ContentType, Metadata: meta}); err != nil {
		n.logger.WarnContext(ctx, "media cache write failed", "object_key", key, "error", err)
	}
	return resolution{text: text, result: resultComputed}
}

func (n *Normalizer) describe(ctx context.Context, body []byte, mimeType, prompt string) (string, error) {
	if n.describer == nil {
		return "", errors.New("no vision model configured")
	}
	data, prepared := PrepareForVision(body, mimeType, n.config.MaxImageDimension)
	return n.describer.Describe(ctx, data, prepared, prompt)
}

func (n *Normalizer) transcribe(ctx context.Context, body []byte, mimeType string) (string, error) {
	if n.transcriber == nil {
		return "", errors.New("no transcription model configured")
	}
	return n.transcriber.Transcribe(ctx, body, mimeType)
}
