// Package router implements the request pipeline: load the caller's
// conversation state, ask the classifier for a routing decision against the
// live plugin catalog, execute the chosen plugin, and persist the outcome.
//
// The router is stateless between requests; everything it remembers lives
// in the conversation store. Requests from the same user are serialized,
// requests from different users run in parallel.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quickjot/quickjot/classifier"
	"github.com/quickjot/quickjot/config"
	"github.com/quickjot/quickjot/conversation"
	"github.com/quickjot/quickjot/internal/metrics"
	"github.com/quickjot/quickjot/plugin"
	"github.com/quickjot/quickjot/types"
)

// Registry is the slice of the plugin manager the router needs: lookup by
// routing identity and the live descriptor catalog.
type Registry interface {
	Get(name string) (plugin.Plugin, error)
	List() []plugin.Descriptor
}

// Router drives the routing decision pipeline.
type Router struct {
	registry   Registry
	store      conversation.Store
	classifier classifier.Classifier
	cfg        config.RouterConfig
	locks      *keyedMutex
	collector  *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New creates a router. collector may be nil when metrics are not wired.
func New(registry Registry, store conversation.Store, cls classifier.Classifier, cfg config.RouterConfig, collector *metrics.Collector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	if cfg.DecideTimeout <= 0 {
		cfg.DecideTimeout = 30 * time.Second
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 60 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Router{
		registry:   registry,
		store:      store,
		classifier: cls,
		cfg:        cfg,
		locks:      newKeyedMutex(),
		collector:  collector,
		tracer:     otel.Tracer("quickjot/router"),
		logger:     logger.With(zap.String("component", "router")),
	}
}

// Route handles one access request end to end. It always returns a
// response; every failure path is converted into an unsuccessful envelope
// with a human-readable error.
func (r *Router) Route(ctx context.Context, req *types.AccessRequest) *types.AccessResponse {
	if req == nil || req.UserID == "" {
		return types.Fail("request is missing a user identity")
	}
	if strings.TrimSpace(req.InputText) == "" {
		return types.Fail("request contains no input text")
	}

	requestID := uuid.NewString()
	start := time.Now()
	log := r.logger.With(
		zap.String("request_id", requestID),
		zap.String("user_id", req.UserID))

	ctx, span := r.tracer.Start(ctx, "router.route",
		trace.WithAttributes(
			attribute.String("quickjot.user_id", req.UserID),
			attribute.String("quickjot.channel", string(req.Channel))))
	defer span.End()

	// Per-user serialization: the second request of a user observes the
	// first one's committed context.
	unlock := r.locks.Lock(req.UserID)
	defer unlock()

	resp, pluginName := r.pipeline(ctx, req, requestID, log)

	elapsed := time.Since(start)
	outcome := "success"
	if !resp.Success {
		outcome = "failure"
	}
	if r.collector != nil {
		r.collector.ObserveRoute(pluginName, outcome, elapsed)
	}
	span.SetAttributes(
		attribute.String("quickjot.plugin", pluginName),
		attribute.Bool("quickjot.success", resp.Success))
	log.Info("request routed",
		zap.String("plugin", pluginName),
		zap.Bool("success", resp.Success),
		zap.Duration("elapsed", elapsed))

	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	resp.Metadata["request_id"] = requestID
	resp.Metadata["elapsed_ms"] = elapsed.Milliseconds()
	return resp
}

// pipeline runs steps one to five and returns the response plus the
// resolved plugin name for observability.
func (r *Router) pipeline(ctx context.Context, req *types.AccessRequest, requestID string, log *zap.Logger) (*types.AccessResponse, string) {
	// Step 1: load conversation state.
	conv, history, err := r.loadState(ctx, req.UserID)
	if err != nil {
		log.Error("context load failed", zap.Error(err))
		return types.Fail("could not load your conversation state, please try again"), ""
	}

	// Step 2: classify against the live catalog.
	decision, err := r.decide(ctx, req, conv, history)
	if err != nil {
		log.Warn("routing decision failed", zap.Error(err))
		resp := types.Fail(routingErrorMessage(err))
		r.record(ctx, req, requestID, "", "", resp, log)
		return resp, ""
	}
	if !decision.Valid() {
		log.Warn("classifier returned an unusable decision")
		resp := types.Fail("could not work out what to do with that")
		r.record(ctx, req, requestID, "", "", resp, log)
		return resp, ""
	}

	// Step 3: resolve. An unknown identity is a hard failure; guessing a
	// different plugin would file the user's data under the wrong domain.
	target, err := r.registry.Get(decision.Plugin)
	if err != nil {
		log.Warn("decision named an unavailable plugin",
			zap.String("plugin", decision.Plugin),
			zap.Error(err))
		resp := types.Fail(fmt.Sprintf("the %q plugin is not available", decision.Plugin))
		r.record(ctx, req, requestID, "", "", resp, log)
		return resp, decision.Plugin
	}

	// Step 4: execute with the fault boundary.
	resp := r.execute(ctx, target, req, conv, decision, log)

	// Step 5: persist consequences.
	if resp.Success {
		r.applyContextUpdate(conv, decision, resp)
		if err := r.upsertContext(ctx, conv); err != nil {
			log.Error("context upsert failed", zap.Error(err))
			resp = types.Fail("your entry was processed but the conversation state could not be saved")
		}
	}

	intent, domain := "", ""
	if resp.Success {
		intent, domain = conv.CurrentIntent, conv.CurrentDomain
	} else {
		// Resolution succeeded, so the turn still names the decision even
		// when execution failed.
		intent, domain = decision.Action, decision.Plugin
	}
	r.record(ctx, req, requestID, intent, domain, resp, log)

	return resp, decision.Plugin
}

func (r *Router) loadState(ctx context.Context, userID string) (*types.Context, []types.Turn, error) {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
	defer cancel()

	conv, err := r.store.GetContext(pctx, userID)
	if err != nil {
		return nil, nil, err
	}

	history, err := r.store.RecentTurns(pctx, userID, r.cfg.HistoryWindow)
	if err != nil {
		// History is advisory classifier input; routing proceeds without it.
		r.logger.Warn("recent turns unavailable",
			zap.String("user_id", userID),
			zap.Error(err))
		history = nil
	}
	return conv, history, nil
}

func (r *Router) decide(ctx context.Context, req *types.AccessRequest, conv *types.Context, history []types.Turn) (*types.Decision, error) {
	dctx, cancel := context.WithTimeout(ctx, r.cfg.DecideTimeout)
	defer cancel()

	return r.classifier.Decide(dctx, classifier.Input{
		UserID:    req.UserID,
		InputText: req.InputText,
		Context:   conv,
		History:   history,
		Catalog:   r.registry.List(),
	})
}

type executeResult struct {
	resp *types.AccessResponse
	err  error
}

// execute invokes the plugin behind a timeout and a panic barrier. A plugin
// defect becomes an unsuccessful response, never a crash.
func (r *Router) execute(ctx context.Context, target plugin.Plugin, req *types.AccessRequest, conv *types.Context, decision *types.Decision, log *zap.Logger) *types.AccessResponse {
	ectx, cancel := context.WithTimeout(ctx, r.cfg.ExecuteTimeout)
	defer cancel()

	done := make(chan executeResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("plugin panicked",
					zap.String("plugin", target.Name()),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				done <- executeResult{err: types.Errorf(types.ErrExecution, "plugin %q faulted", target.Name())}
			}
		}()
		resp, err := target.Execute(ectx, req, conv.Clone(), decision)
		done <- executeResult{resp: resp, err: err}
	}()

	select {
	case <-ectx.Done():
		// The plugin may still be writing; whether its side effects
		// committed is unknowable here.
		log.Warn("plugin execution timed out with ambiguous outcome",
			zap.String("plugin", target.Name()),
			zap.Duration("timeout", r.cfg.ExecuteTimeout))
		return types.Fail("the request timed out, please try again")
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				log.Warn("plugin execution timed out with ambiguous outcome",
					zap.String("plugin", target.Name()))
				return types.Fail("the request timed out, please try again")
			}
			if types.IsCode(res.err, types.ErrValidation) {
				return types.FailErr(res.err)
			}
			log.Error("plugin execution failed",
				zap.String("plugin", target.Name()),
				zap.Error(res.err))
			return types.Fail("something went wrong handling your request")
		}
		if res.resp == nil {
			log.Error("plugin returned no response", zap.String("plugin", target.Name()))
			return types.Fail("something went wrong handling your request")
		}
		return res.resp
	}
}

// applyContextUpdate folds the decision and the plugin's requested changes
// into the stored context. Plugins never touch the store themselves.
func (r *Router) applyContextUpdate(conv *types.Context, decision *types.Decision, resp *types.AccessResponse) {
	conv.CurrentIntent = decision.Action
	conv.CurrentDomain = decision.Plugin

	upd := resp.ContextUpdate
	if upd == nil {
		return
	}
	if upd.Intent != "" {
		conv.CurrentIntent = upd.Intent
	}
	if upd.Domain != "" {
		conv.CurrentDomain = upd.Domain
	}
	if conv.State == nil {
		conv.State = map[string]any{}
	}
	for k, v := range upd.State {
		if v == nil {
			delete(conv.State, k)
			continue
		}
		conv.State[k] = v
	}
}

func (r *Router) upsertContext(ctx context.Context, conv *types.Context) error {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
	defer cancel()
	return r.store.UpsertContext(pctx, conv)
}

// record appends the turn for this request. Losing a history entry must
// not fail the user-visible request, so append errors are logged and
// swallowed.
func (r *Router) record(ctx context.Context, req *types.AccessRequest, requestID, intent, domain string, resp *types.AccessResponse, log *zap.Logger) {
	summary := resp.Message
	if !resp.Success {
		summary = resp.Error
	}

	pctx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
	defer cancel()

	err := r.store.AppendTurn(pctx, &types.Turn{
		UserID:    req.UserID,
		Timestamp: time.Now().UTC(),
		Input:     req.InputText,
		Intent:    intent,
		Domain:    domain,
		Response:  summary,
		Metadata: map[string]any{
			"request_id": requestID,
			"channel":    string(req.Channel),
			"success":    resp.Success,
		},
	})
	if err != nil {
		log.Warn("turn append failed", zap.Error(err))
		if r.collector != nil {
			r.collector.ObserveTurnAppendFailure()
		}
	}
}

func routingErrorMessage(err error) string {
	var e *types.Error
	if errors.As(err, &e) && e.Code == types.ErrRouting {
		// A model outage reads differently from "no plugin fits".
		if e.Cause != nil && types.IsCode(e.Cause, types.ErrLLMUnavailable) {
			return "the assistant is temporarily unavailable, please try again"
		}
		return "could not work out what to do with that: " + e.Message
	}
	return "the assistant is temporarily unavailable, please try again"
}
