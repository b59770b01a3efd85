package admission

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v41/github"
	"github.com/google/uuid"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// Supported X-GitHub-Event values.
const (
	EventPullRequest = "pull_request"
	EventPush        = "push"
)

var admittedPullRequestActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// EventMeta carries the transport metadata of one delivery.
type EventMeta struct {
	// Event is the X-GitHub-Event header
	Event string
	// DeliveryID is the X-GitHub-Delivery header, reused as correlation id
	DeliveryID string
	// Overrides are the routing parameters of the webhook URL
	Overrides config.Overrides
}

// Draft is the admitted, not yet resolved, description of a run.
type Draft struct {
	CorrelationID string
	Event         string
	Action        string
	Repository    string
	Namespace     string
	RepoName      string
	CloneURL      string
	// Branch is the branch whose code gets scanned
	Branch string
	// TargetBranch is the merge target of a pull request
	TargetBranch string
	Ref          string
	PullRequest  int
	Overrides    config.Overrides
}

// Decision is the result of admission.
type Decision struct {
	Admitted bool
	Draft    Draft
	// Err is set on rejection and wraps one of the models admission sentinels
	Err error
	// CloseOut marks a closed pull request, acknowledged but not scanned
	CloseOut bool
}

// Reason returns the wire reason code of a rejection.
func (d Decision) Reason() string {
	if d.Admitted {
		return ""
	}
	return models.ErrorCode(d.Err)
}

func reject(err error) Decision {
	return Decision{Err: err}
}

// Policy is the static admission policy.
type Policy struct {
	Branches   []string
	PushEvents bool
	// DeferBranchGate admits every branch; the run checks the allow-list
	// once config-as-code has been resolved
	DeferBranchGate bool
}

// Admitter validates authenticity and applies the admission policy. It keeps
// no mutable state, so admitting the same delivery twice yields the same
// decision.
type Admitter struct {
	verifier Verifier
	policy   Policy
}

// New creates an Admitter.
func New(verifier Verifier, policy Policy) *Admitter {
	if verifier == nil {
		verifier = HMACVerifier{}
	}
	return &Admitter{verifier: verifier, policy: policy}
}

// Admit decides whether rawPayload may trigger a run. The signature is
// checked before the payload is parsed.
func (a *Admitter) Admit(rawPayload []byte, signature string, secret []byte, meta EventMeta) Decision {
	if err := a.verifier.Verify(rawPayload, signature, secret); err != nil {
		if !errors.Is(err, models.ErrInvalidSignature) {
			err = fmt.Errorf("%w: %v", models.ErrInvalidSignature, err)
		}
		return reject(err)
	}

	var draft Draft
	var gateBranch string

	switch meta.Event {
	case EventPullRequest:
		event, err := parse[*github.PullRequestEvent](meta.Event, rawPayload)
		if err != nil {
			return reject(err)
		}
		action := event.GetAction()
		if action == "closed" {
			return Decision{Err: fmt.Errorf("%w: pull request %s", models.ErrUnsupportedEvent, action), CloseOut: true}
		}
		if !admittedPullRequestActions[action] {
			return reject(fmt.Errorf("%w: pull request action %q", models.ErrUnsupportedEvent, action))
		}

		pr := event.GetPullRequest()
		repo := event.GetRepo()
		draft = Draft{
			Event:        meta.Event,
			Action:       action,
			Repository:   repo.GetFullName(),
			Namespace:    repo.GetOwner().GetLogin(),
			RepoName:     repo.GetName(),
			CloneURL:     repo.GetCloneURL(),
			Branch:       pr.GetHead().GetRef(),
			TargetBranch: pr.GetBase().GetRef(),
			Ref:          pr.GetHead().GetSHA(),
			PullRequest:  event.GetNumber(),
		}
		if draft.PullRequest == 0 {
			draft.PullRequest = pr.GetNumber()
		}
		gateBranch = draft.TargetBranch
		if gateBranch == "" {
			gateBranch = draft.Branch
		}

	case EventPush:
		if !a.policy.PushEvents {
			return reject(fmt.Errorf("%w: push events disabled", models.ErrUnsupportedEvent))
		}
		event, err := parse[*github.PushEvent](meta.Event, rawPayload)
		if err != nil {
			return reject(err)
		}
		ref := event.GetRef()
		if !strings.HasPrefix(ref, "refs/heads/") || event.GetDeleted() {
			return reject(fmt.Errorf("%w: push to %q", models.ErrUnsupportedEvent, ref))
		}

		repo := event.GetRepo()
		draft = Draft{
			Event:      meta.Event,
			Action:     "push",
			Repository: repo.GetFullName(),
			Namespace:  repo.GetOwner().GetLogin(),
			RepoName:   repo.GetName(),
			CloneURL:   repo.GetCloneURL(),
			Branch:     strings.TrimPrefix(ref, "refs/heads/"),
			Ref:        event.GetAfter(),
		}
		gateBranch = draft.Branch

	default:
		return reject(fmt.Errorf("%w: event %q", models.ErrUnsupportedEvent, meta.Event))
	}

	if draft.Repository == "" || draft.Branch == "" {
		return reject(fmt.Errorf("%w: repository or branch missing", models.ErrMalformedPayload))
	}

	allowed := a.policy.Branches
	if meta.Overrides.Branches != nil {
		allowed = meta.Overrides.Branches
	}
	if !a.policy.DeferBranchGate && !BranchAllowed(gateBranch, allowed) {
		return reject(fmt.Errorf("%w: %s", models.ErrBranchNotAllowed, gateBranch))
	}

	draft.Overrides = meta.Overrides
	draft.CorrelationID = meta.DeliveryID
	if draft.CorrelationID == "" {
		draft.CorrelationID = uuid.NewString()
	}

	return Decision{Admitted: true, Draft: draft}
}

func parse[T any](event string, payload []byte) (T, error) {
	var zero T
	parsed, err := github.ParseWebHook(event, payload)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	typed, ok := parsed.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected payload type %T", models.ErrMalformedPayload, parsed)
	}
	return typed, nil
}

// BranchAllowed reports whether branch matches the allow-list. Entries match
// exactly or as path.Match globs (e.g., "release/*"). An empty list allows
// every branch.
func BranchAllowed(branch string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, pattern := range allowed {
		if pattern == branch {
			return true
		}
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}
