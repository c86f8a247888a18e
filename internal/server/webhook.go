package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v73/github"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/gate"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/metrics"
	"github.com/felixgeelhaar/revcompare/internal/scheduler"
)

// Delivery outcomes recorded per webhook request
const (
	outcomeQueued   = "queued"
	outcomeSkipped  = "skipped"
	outcomeIgnored  = "ignored"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// Submitter accepts pipeline jobs.
type Submitter interface {
	Submit(job scheduler.Job) error
}

// Gate decides whether a pull request may run.
type Gate interface {
	Evaluate(rc domain.RunContext) gate.Decision
}

// Webhook turns signed GitHub pull_request deliveries into scheduled runs.
type Webhook struct {
	Secret    []byte
	Gate      Gate
	Submitter Submitter
	Bindings  []string
	Flows     []domain.Flow
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// webhookResponse is the JSON body returned for every delivery.
type webhookResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Jobs   int    `json:"jobs,omitempty"`
}

// ServeHTTP handles POST /webhook.
func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eventType := github.WebHookType(r)
	payload, err := github.ValidatePayload(r, h.Secret)
	if err != nil {
		h.logger().Warn("webhook rejected", "event", eventType, "error", err)
		h.respond(w, eventType, http.StatusUnauthorized, webhookResponse{Status: outcomeRejected, Reason: "invalid signature"})
		return
	}

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		h.respond(w, eventType, http.StatusBadRequest, webhookResponse{Status: outcomeRejected, Reason: err.Error()})
		return
	}

	switch e := event.(type) {
	case *github.PingEvent:
		h.respond(w, eventType, http.StatusOK, webhookResponse{Status: "pong"})
	case *github.PullRequestEvent:
		h.handlePullRequest(w, eventType, e)
	default:
		h.respond(w, eventType, http.StatusAccepted, webhookResponse{Status: outcomeIgnored, Reason: "unsupported event " + eventType})
	}
}

func (h *Webhook) handlePullRequest(w http.ResponseWriter, eventType string, e *github.PullRequestEvent) {
	if domain.EventKind(e.GetAction()).Validate() != nil {
		h.respond(w, eventType, http.StatusAccepted, webhookResponse{Status: outcomeIgnored, Reason: "action " + e.GetAction()})
		return
	}

	rc, err := RunContextFromEvent(e)
	if err != nil {
		h.respond(w, eventType, http.StatusBadRequest, webhookResponse{Status: outcomeRejected, Reason: err.Error()})
		return
	}

	logger := h.logger().With("pr", rc.PR(), "head", rc.HeadSHA(), "action", e.GetAction())
	if h.Gate != nil {
		if d := h.Gate.Evaluate(rc); !d.Run {
			logger.Info("pull request not approved for runs", "reason", d.Reason)
			h.respond(w, eventType, http.StatusAccepted, webhookResponse{Status: outcomeSkipped, Reason: d.Reason})
			return
		}
	}

	submitted := 0
	for _, flow := range h.Flows {
		for _, binding := range h.Bindings {
			err := h.Submitter.Submit(scheduler.Job{RC: rc, Flow: flow, Binding: binding})
			if err != nil {
				logger.Error("failed to submit run", "flow", flow, "binding", binding, "error", err)
				status := http.StatusInternalServerError
				if stderrors.Is(err, scheduler.ErrQueueFull) {
					status = http.StatusServiceUnavailable
				}
				h.respond(w, eventType, status, webhookResponse{Status: outcomeFailed, Reason: err.Error(), Jobs: submitted})
				return
			}
			submitted++
		}
	}

	logger.Info("runs queued", "jobs", submitted)
	h.respond(w, eventType, http.StatusAccepted, webhookResponse{Status: outcomeQueued, Jobs: submitted})
}

// RunContextFromEvent builds a RunContext from a pull_request delivery. The
// labels on the payload are always present, so label data is never missing.
func RunContextFromEvent(e *github.PullRequestEvent) (domain.RunContext, error) {
	pr := e.GetPullRequest()
	if pr == nil {
		return domain.RunContext{}, fmt.Errorf("pull_request payload missing")
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}

	number := e.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}

	return domain.NewRunContext(domain.RunContextParams{
		Owner:   e.GetRepo().GetOwner().GetLogin(),
		Repo:    e.GetRepo().GetName(),
		PR:      number,
		HeadSHA: pr.GetHead().GetSHA(),
		BaseRef: pr.GetBase().GetRef(),
		Event:   domain.EventKind(e.GetAction()),
		Labels:  labels,
		Body:    pr.GetBody(),
	})
}

func (h *Webhook) respond(w http.ResponseWriter, eventType string, status int, body webhookResponse) {
	if eventType == "" {
		eventType = "unknown"
	}
	h.Metrics.RecordDelivery(eventType, body.Status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Webhook) logger() *log.Logger {
	if h.Logger == nil {
		return log.Discard()
	}
	return h.Logger
}
