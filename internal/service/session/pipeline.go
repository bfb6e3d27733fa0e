package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zhouzirui/voyage/backend/internal/analysis/failure"
	"github.com/zhouzirui/voyage/backend/internal/analysis/intent"
	"github.com/zhouzirui/voyage/backend/internal/model/chat"
	"github.com/zhouzirui/voyage/backend/internal/observability/metrics"
	chatsvc "github.com/zhouzirui/voyage/backend/internal/service/chat"
	"github.com/zhouzirui/voyage/backend/internal/service/reply"
	"github.com/zhouzirui/voyage/backend/internal/service/search"
)

// ErrPipelineClosed is returned for utterances submitted after Close.
var ErrPipelineClosed = errors.New("session: pipeline closed")

const (
	PlaceholderText = "Searching for the best options…"
	apologyPrefix   = "Sorry, I couldn't complete that request. "
	queueSize       = 32
)

// FailureRecorder receives the kind of every failed invocation.
type FailureRecorder interface {
	RecordFailure(kind failure.Kind)
}

// PipelineConfig bounds the pipeline's waits and supplies search defaults.
type PipelineConfig struct {
	SearchTimeout time.Duration
	ThinkingDelay time.Duration
	Defaults      intent.QueryDefaults

	Metrics    *metrics.SessionMetrics
	Logger     *slog.Logger
	OnComplete func()
	Now        func() time.Time
}

// Outcome reports how one utterance was answered. FailureKind is None on
// success.
type Outcome struct {
	Intent      intent.Intent `json:"intent,omitempty"`
	Reply       chat.Message  `json:"reply"`
	FailureKind failure.Kind  `json:"failureKind,omitempty"`
}

type job struct {
	utterance string
	result    chan Outcome
}

// Pipeline answers utterances one at a time, in submission order. Each
// invocation runs on the pipeline's own context so that neither the
// submitter's context nor ending the call cancels it.
type Pipeline struct {
	store    *chatsvc.Store
	searcher search.Searcher
	composer *reply.Composer
	failures FailureRecorder
	cfg      PipelineConfig
	logger   *slog.Logger

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipeline starts the session's worker.
func NewPipeline(store *chatsvc.Store, searcher search.Searcher, composer *reply.Composer, failures FailureRecorder, cfg PipelineConfig) *Pipeline {
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	if cfg.ThinkingDelay > cfg.SearchTimeout {
		cfg.ThinkingDelay = cfg.SearchTimeout
	}
	if cfg.Defaults == (intent.QueryDefaults{}) {
		cfg.Defaults = intent.DefaultQueryDefaults()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		store:    store,
		searcher: searcher,
		composer: composer,
		failures: failures,
		cfg:      cfg,
		logger:   logger.With("component", "pipeline"),
		queue:    make(chan job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// Submit queues utterance and returns a channel that receives its outcome.
func (p *Pipeline) Submit(utterance string) (<-chan Outcome, error) {
	j := job{utterance: utterance, result: make(chan Outcome, 1)}

	select {
	case <-p.ctx.Done():
		return nil, ErrPipelineClosed
	default:
	}

	select {
	case p.queue <- j:
		return j.result, nil
	case <-p.ctx.Done():
		return nil, ErrPipelineClosed
	}
}

// Handle submits utterance and waits for its outcome. ctx only bounds the
// wait; the invocation itself always runs to completion.
func (p *Pipeline) Handle(ctx context.Context, utterance string) (Outcome, error) {
	result, err := p.Submit(utterance)
	if err != nil {
		return Outcome{}, err
	}

	select {
	case out := <-result:
		return out, nil
	case <-p.done:
		return Outcome{}, ErrPipelineClosed
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Close stops the worker. The invocation in flight, if any, is cancelled.
func (p *Pipeline) Close() {
	p.cancel()
	<-p.done
}

func (p *Pipeline) run() {
	defer close(p.done)

	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.queue:
			out := p.process(p.ctx, j.utterance)
			j.result <- out
			if p.cfg.OnComplete != nil {
				p.cfg.OnComplete()
			}
		}
	}
}

func (p *Pipeline) process(ctx context.Context, utterance string) Outcome {
	started := time.Now()

	p.store.Append(chat.Message{Role: chat.RoleUser, Text: utterance})
	p.store.Append(chat.Message{Role: chat.RoleAssistant, Text: PlaceholderText, Ephemeral: true})

	query := intent.ExtractFlightQuery(utterance, p.cfg.Defaults, p.cfg.Now())

	searchCtx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	result, err := p.searcher.SearchFlights(searchCtx, query)
	cancel()
	if err != nil {
		return p.fail(utterance, err, started)
	}

	if err := p.think(ctx); err != nil {
		return p.fail(utterance, err, started)
	}

	p.store.RemoveEphemeral()
	routed := intent.Classify(utterance)
	p.cfg.Metrics.ObserveIntent(string(routed))

	composeCtx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancel()
	composed, err := p.composer.Compose(composeCtx, reply.Request{
		Utterance: utterance,
		Intent:    routed,
		Query:     query,
		Result:    result,
		History:   p.store.Snapshot(),
	})
	if err != nil {
		return p.fail(utterance, err, started)
	}

	msg := p.store.Append(chat.Message{Role: chat.RoleAssistant, Text: composed.Text})
	p.cfg.Metrics.ObservePipeline("ok", time.Since(started).Seconds())
	p.logger.Info("utterance answered", "intent", routed, "origin", query.Origin, "destination", query.Destination, "results", len(result.OutboundFlights), "rephrased", composed.Rephrased)

	return Outcome{Intent: routed, Reply: msg}
}

// think waits out the simulated thinking delay.
func (p *Pipeline) think(ctx context.Context) error {
	if p.cfg.ThinkingDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.cfg.ThinkingDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) fail(utterance string, err error, started time.Time) Outcome {
	kind := failure.FromError(err)

	p.store.RemoveEphemeral()
	msg := p.store.Append(chat.Message{Role: chat.RoleAssistant, Text: apologyPrefix + failure.UserMessage(kind)})
	if p.failures != nil {
		p.failures.RecordFailure(kind)
	}

	p.cfg.Metrics.ObservePipeline("failed", time.Since(started).Seconds())
	p.logger.Warn("utterance failed", "kind", kind, "error", err, "utterance_length", len(utterance))

	return Outcome{Reply: msg, FailureKind: kind}
}
