package admission

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/pkg/models"
)

var secret = []byte("s3cr3t")

func sign(payload []byte, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pullRequestPayload(action, head, base string) []byte {
	return []byte(fmt.Sprintf(`{
  "action": %q,
  "number": 7,
  "pull_request": {
    "number": 7,
    "head": {"ref": %q, "sha": "4b1c3e"},
    "base": {"ref": %q}
  },
  "repository": {
    "name": "CxConfigTests",
    "full_name": "cxflowtestuser/CxConfigTests",
    "clone_url": "https://github.com/cxflowtestuser/CxConfigTests.git",
    "owner": {"login": "cxflowtestuser"}
  }
}`, action, head, base))
}

func pushPayload(ref string) []byte {
	return []byte(fmt.Sprintf(`{
  "ref": %q,
  "after": "9f2d1a",
  "repository": {
    "name": "CxConfigTests",
    "full_name": "cxflowtestuser/CxConfigTests",
    "clone_url": "https://github.com/cxflowtestuser/CxConfigTests.git",
    "owner": {"login": "cxflowtestuser"}
  }
}`, ref))
}

func TestAdmitPullRequestOpened(t *testing.T) {
	admitter := New(HMACVerifier{}, Policy{Branches: []string{"udi-tests"}})
	payload := pullRequestPayload("opened", "feature/login", "udi-tests")

	decision := admitter.Admit(payload, sign(payload, secret), secret, EventMeta{
		Event:      EventPullRequest,
		DeliveryID: "delivery-1",
	})

	require.True(t, decision.Admitted, "unexpected rejection: %v", decision.Err)
	assert.Empty(t, decision.Reason())

	draft := decision.Draft
	assert.Equal(t, "delivery-1", draft.CorrelationID)
	assert.Equal(t, "cxflowtestuser/CxConfigTests", draft.Repository)
	assert.Equal(t, "cxflowtestuser", draft.Namespace)
	assert.Equal(t, "CxConfigTests", draft.RepoName)
	assert.Equal(t, "feature/login", draft.Branch)
	assert.Equal(t, "udi-tests", draft.TargetBranch)
	assert.Equal(t, "4b1c3e", draft.Ref)
	assert.Equal(t, 7, draft.PullRequest)
}

func TestAdmitWrongSignatureAlwaysRejected(t *testing.T) {
	admitter := New(HMACVerifier{}, Policy{})

	payloads := [][]byte{
		pullRequestPayload("opened", "a", "main"),
		pullRequestPayload("closed", "a", "main"),
		pushPayload("refs/heads/main"),
		[]byte(`not even json`),
	}
	for i, payload := range payloads {
		t.Run(fmt.Sprintf("payload %d", i), func(t *testing.T) {
			for _, sig := range []string{"", "sha256=00", sign(payload, []byte("other")), "garbage"} {
				decision := admitter.Admit(payload, sig, secret, EventMeta{Event: EventPullRequest})
				assert.False(t, decision.Admitted)
				assert.ErrorIs(t, decision.Err, models.ErrInvalidSignature)
				assert.Equal(t, "InvalidSignature", decision.Reason())
			}
		})
	}
}

func TestAdmitMissingSecretRejects(t *testing.T) {
	payload := pullRequestPayload("opened", "a", "main")
	decision := New(HMACVerifier{}, Policy{}).Admit(payload, sign(payload, nil), nil, EventMeta{Event: EventPullRequest})
	assert.ErrorIs(t, decision.Err, models.ErrInvalidSignature)
}

func TestAdmitBranchAllowList(t *testing.T) {
	tests := []struct {
		name      string
		branches  []string
		override  []string
		target    string
		wantAdmit bool
	}{
		{name: "Empty list admits all", target: "anything", wantAdmit: true},
		{name: "Exact match", branches: []string{"main", "develop"}, target: "develop", wantAdmit: true},
		{name: "Glob match", branches: []string{"release/*"}, target: "release/2.1", wantAdmit: true},
		{name: "Not in list", branches: []string{"main"}, target: "feature/x", wantAdmit: false},
		{name: "Override replaces static list", branches: []string{"main"}, override: []string{"udi-tests"}, target: "udi-tests", wantAdmit: true},
		{name: "Override can narrow", branches: []string{"main"}, override: []string{"develop"}, target: "main", wantAdmit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admitter := New(NoopVerifier{}, Policy{Branches: tt.branches})
			decision := admitter.Admit(pullRequestPayload("synchronize", "topic", tt.target), "", nil, EventMeta{
				Event:     EventPullRequest,
				Overrides: config.Overrides{Branches: tt.override},
			})

			assert.Equal(t, tt.wantAdmit, decision.Admitted)
			if !tt.wantAdmit {
				assert.ErrorIs(t, decision.Err, models.ErrBranchNotAllowed)
				assert.Equal(t, "BranchNotAllowed", decision.Reason())
			}
		})
	}
}

func TestAdmitDeferredBranchGate(t *testing.T) {
	admitter := New(NoopVerifier{}, Policy{Branches: []string{"main"}, DeferBranchGate: true})

	decision := admitter.Admit(pullRequestPayload("opened", "topic", "release/3"), "", nil, EventMeta{Event: EventPullRequest})
	require.True(t, decision.Admitted, "unexpected rejection: %v", decision.Err)
	assert.Equal(t, "release/3", decision.Draft.TargetBranch)
}

func TestAdmitPullRequestActions(t *testing.T) {
	tests := []struct {
		action       string
		wantAdmit    bool
		wantCloseOut bool
	}{
		{action: "opened", wantAdmit: true},
		{action: "synchronize", wantAdmit: true},
		{action: "reopened", wantAdmit: true},
		{action: "closed", wantCloseOut: true},
		{action: "labeled"},
		{action: "edited"},
	}

	admitter := New(NoopVerifier{}, Policy{})
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			decision := admitter.Admit(pullRequestPayload(tt.action, "a", "main"), "", nil, EventMeta{Event: EventPullRequest})
			assert.Equal(t, tt.wantAdmit, decision.Admitted)
			assert.Equal(t, tt.wantCloseOut, decision.CloseOut)
			if !tt.wantAdmit {
				assert.ErrorIs(t, decision.Err, models.ErrUnsupportedEvent)
			}
		})
	}
}

func TestAdmitPush(t *testing.T) {
	payload := pushPayload("refs/heads/main")

	decision := New(NoopVerifier{}, Policy{}).Admit(payload, "", nil, EventMeta{Event: EventPush})
	assert.False(t, decision.Admitted)
	assert.ErrorIs(t, decision.Err, models.ErrUnsupportedEvent)

	decision = New(NoopVerifier{}, Policy{PushEvents: true}).Admit(payload, "", nil, EventMeta{Event: EventPush})
	require.True(t, decision.Admitted)
	assert.Equal(t, "main", decision.Draft.Branch)
	assert.Equal(t, "9f2d1a", decision.Draft.Ref)
	assert.Zero(t, decision.Draft.PullRequest)
	assert.NotEmpty(t, decision.Draft.CorrelationID)

	decision = New(NoopVerifier{}, Policy{PushEvents: true}).Admit(pushPayload("refs/tags/v1"), "", nil, EventMeta{Event: EventPush})
	assert.ErrorIs(t, decision.Err, models.ErrUnsupportedEvent)
}

func TestAdmitUnsupportedAndMalformed(t *testing.T) {
	admitter := New(NoopVerifier{}, Policy{})

	decision := admitter.Admit([]byte(`{"zen":"hi"}`), "", nil, EventMeta{Event: "ping"})
	assert.Equal(t, "UnsupportedEvent", decision.Reason())

	decision = admitter.Admit([]byte(`{"action": `), "", nil, EventMeta{Event: EventPullRequest})
	assert.Equal(t, "MalformedPayload", decision.Reason())

	decision = admitter.Admit([]byte(`{"action":"opened"}`), "", nil, EventMeta{Event: EventPullRequest})
	assert.Equal(t, "MalformedPayload", decision.Reason())
}

func TestAdmitIsIdempotent(t *testing.T) {
	admitter := New(HMACVerifier{}, Policy{Branches: []string{"main"}})
	payload := pullRequestPayload("opened", "a", "main")
	meta := EventMeta{Event: EventPullRequest, DeliveryID: "d"}

	first := admitter.Admit(payload, sign(payload, secret), secret, meta)
	second := admitter.Admit(payload, sign(payload, secret), secret, meta)
	assert.Equal(t, first, second)
}

func TestRejectingVerifier(t *testing.T) {
	payload := pullRequestPayload("opened", "a", "main")
	decision := New(RejectingVerifier{}, Policy{}).Admit(payload, sign(payload, secret), secret, EventMeta{Event: EventPullRequest})
	assert.ErrorIs(t, decision.Err, models.ErrInvalidSignature)
}
