package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/danielolaszy/scanglue/internal/admission"
	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/metrics"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// Webhook headers.
const (
	HeaderEvent    = "X-GitHub-Event"
	HeaderDelivery = "X-GitHub-Delivery"
)

type acceptedResponse struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "payload exceeds the configured limit")
			return
		}
		s.reject(w, http.StatusBadRequest, "MalformedPayload", "failed to read payload")
		return
	}

	overrides, err := ParseOverrides(r.URL.Query())
	if err != nil {
		s.reject(w, http.StatusBadRequest, models.ErrorCode(err), err.Error())
		return
	}

	signature := r.Header.Get(admission.SignatureHeaderSHA256)
	if signature == "" {
		signature = r.Header.Get(admission.SignatureHeaderSHA1)
	}

	decision := s.admitter.Admit(body, signature, s.secret, admission.EventMeta{
		Event:      r.Header.Get(HeaderEvent),
		DeliveryID: r.Header.Get(HeaderDelivery),
		Overrides:  overrides,
	})

	if !decision.Admitted {
		if decision.CloseOut {
			logging.Info("pull request closed, nothing to scan",
				"delivery", r.Header.Get(HeaderDelivery))
		}
		s.reject(w, statusFor(decision.Err), decision.Reason(), decision.Err.Error())
		return
	}

	id := s.launcher.Trigger(decision.Draft)
	metrics.WebhooksTotal.WithLabelValues("accepted").Inc()
	logging.Info("webhook accepted",
		"correlation_id", id,
		"event", decision.Draft.Event,
		"repository", decision.Draft.Repository,
		"branch", decision.Draft.Branch)

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", CorrelationID: id})
}

func (s *Server) reject(w http.ResponseWriter, status int, code, message string) {
	metrics.WebhooksTotal.WithLabelValues(code).Inc()
	logging.Info("webhook rejected", "code", code, "status", status, "reason", message)
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrBranchNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, models.ErrUnsupportedEvent):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// ParseOverrides reads the routing parameters of a webhook URL. Unknown
// parameters are ignored; invalid values wrap models.ErrMalformedPayload.
func ParseOverrides(q url.Values) (config.Overrides, error) {
	var o config.Overrides

	str := func(key string) *string {
		if !q.Has(key) {
			return nil
		}
		v := strings.TrimSpace(q.Get(key))
		return &v
	}

	o.Team = str("team")
	o.Project = str("project")
	o.Application = str("application")
	o.Assignee = str("assignee")
	o.Preset = str("preset")

	if branches, ok := q["branch"]; ok {
		o.Branches = splitList(branches)
	}
	if v, ok := q["exclude-files"]; ok {
		o.ExcludeFiles = splitList(v)
	}
	if v, ok := q["exclude-folders"]; ok {
		o.ExcludeFolders = splitList(v)
	}
	if v, ok := q["emails"]; ok {
		o.Emails = splitList(v)
	}

	if v := str("severity"); v != nil {
		if _, err := models.ParseSeverity(*v); err != nil {
			return config.Overrides{}, fmt.Errorf("%w: severity: %v", models.ErrMalformedPayload, err)
		}
		o.SeverityThreshold = v
	}

	if v := str("incremental"); v != nil {
		b, err := strconv.ParseBool(*v)
		if err != nil {
			return config.Overrides{}, fmt.Errorf("%w: incremental: %q is not a boolean", models.ErrMalformedPayload, *v)
		}
		o.Incremental = &b
	}

	if v := str("bug"); v != nil {
		bt, err := models.ParseBugTracker(*v)
		if err != nil {
			return config.Overrides{}, fmt.Errorf("%w: bug: %v", models.ErrMalformedPayload, err)
		}
		o.BugTracker = &config.BugTrackerOverride{Type: string(bt.Type), CustomBean: bt.CustomBean}
	}

	return o, nil
}

// splitList flattens repeated and comma separated values.
func splitList(values []string) []string {
	out := []string{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
