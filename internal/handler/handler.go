// Package handler turns GitHub webhook events into commit statuses for the
// jobs of the configured workflow.
package handler

import (
	"context"
	"fmt"
	"strings"

	"blockci-gh/internal/ctxlog"
	"blockci-gh/internal/workflow"

	"github.com/google/go-github/v68/github"
)

const (
	StatePending = "pending"
	StateSuccess = "success"
	StateFailure = "failure"
	StateError   = "error"
)

const (
	KindPullRequest = "pull_request"
	KindPush        = "push"
	KindCheckSuite  = "check_suite"
	KindPing        = "ping"
)

type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

type Status struct {
	State       string
	Context     string
	Description string
	TargetURL   string
}

// GitHubAPI is the part of the GitHub REST API the handler needs, scoped to
// one installation.
type GitHubAPI interface {
	CreateCommitStatus(ctx context.Context, repo Repository, sha string, status Status) error
}

// Event is a verified webhook delivery.
type Event struct {
	Kind           string
	DeliveryID     string
	InstallationID int64
	Payload        []byte
}

// Outcome summarises what handling an event did.
type Outcome struct {
	Kind     string
	Action   string
	Repo     Repository
	SHA      string
	Statuses int
	Ignored  bool
	Reason   string
}

func (o Outcome) String() string {
	if o.Ignored {
		return "ignored: " + o.Reason
	}
	return fmt.Sprintf("%d status(es) on %s@%s", o.Statuses, o.Repo, shortSHA(o.SHA))
}

// Handler posts one pending status per workflow job for events that trigger
// the workflow.
type Handler struct {
	Workflow  *workflow.Workflow
	Context   string
	TargetURL string
}

func New(wf *workflow.Workflow, statusContext, targetURL string) *Handler {
	if statusContext == "" {
		statusContext = "blockci"
	}
	return &Handler{Workflow: wf, Context: statusContext, TargetURL: targetURL}
}

// Handle dispatches ev. Events that do not trigger the workflow are ignored
// without error. The first failing status creation aborts handling.
func (h *Handler) Handle(ctx context.Context, api GitHubAPI, ev Event) (Outcome, error) {
	out := Outcome{Kind: ev.Kind}

	var (
		repo   Repository
		sha    string
		reason string
	)
	switch ev.Kind {
	case KindPullRequest, KindPush, KindCheckSuite:
		parsed, err := github.ParseWebHook(ev.Kind, ev.Payload)
		if err != nil {
			return out, fmt.Errorf("parse %s payload: %w", ev.Kind, err)
		}
		repo, sha, out.Action, reason = h.target(parsed)
	case KindPing:
		reason = "ping"
	default:
		reason = "unsupported event " + ev.Kind
	}

	out.Repo, out.SHA = repo, sha
	if reason != "" {
		out.Ignored, out.Reason = true, reason
		ctxlog.FromContext(ctx).Debug("event ignored", "kind", ev.Kind, "reason", reason)
		return out, nil
	}

	for _, id := range h.Workflow.JobIDs() {
		job := h.Workflow.Jobs[id]
		status := Status{
			State:       StatePending,
			Context:     h.Context + "/" + id,
			Description: fmt.Sprintf("%s queued", job.DisplayName(id)),
			TargetURL:   h.TargetURL,
		}
		if err := api.CreateCommitStatus(ctx, repo, sha, status); err != nil {
			return out, fmt.Errorf("create status %s on %s@%s: %w", status.Context, repo, shortSHA(sha), err)
		}
		out.Statuses++
	}
	ctxlog.FromContext(ctx).Info("statuses created", "repo", repo.String(), "sha", sha, "count", out.Statuses)
	return out, nil
}

// target extracts the repository and commit to report on. A non-empty
// reason means the event does not trigger the workflow.
func (h *Handler) target(parsed any) (repo Repository, sha, action, reason string) {
	on := h.Workflow.On
	switch e := parsed.(type) {
	case *github.PullRequestEvent:
		action = e.GetAction()
		pr := e.GetPullRequest()
		repo = Repository{Owner: e.GetRepo().GetOwner().GetLogin(), Name: e.GetRepo().GetName()}
		sha = pr.GetHead().GetSHA()
		if !on.MatchPullRequest(action, pr.GetBase().GetRef()) {
			reason = fmt.Sprintf("pull_request %q to %q does not match triggers", action, pr.GetBase().GetRef())
		}
	case *github.PushEvent:
		repo = Repository{Owner: e.GetRepo().GetOwner().GetLogin(), Name: e.GetRepo().GetName()}
		sha = e.GetAfter()
		switch {
		case e.GetDeleted():
			reason = "branch deleted"
		case !on.MatchPush(e.GetRef()):
			reason = fmt.Sprintf("push to %q does not match triggers", e.GetRef())
		}
	case *github.CheckSuiteEvent:
		action = e.GetAction()
		suite := e.GetCheckSuite()
		repo = Repository{Owner: e.GetRepo().GetOwner().GetLogin(), Name: e.GetRepo().GetName()}
		sha = suite.GetHeadSHA()
		switch {
		case action != "requested" && action != "rerequested":
			reason = "check_suite " + action
		case !on.MatchBranch(suite.GetHeadBranch()):
			reason = fmt.Sprintf("check suite on %q does not match triggers", suite.GetHeadBranch())
		}
	default:
		reason = fmt.Sprintf("unexpected payload %T", parsed)
	}
	if reason == "" && (sha == "" || repo.Owner == "" || repo.Name == "") {
		reason = "payload has no repository or commit"
	}
	return repo, sha, action, reason
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// Kind normalises an X-GitHub-Event header value, dropping any ".action"
// suffix.
func Kind(header string) string {
	kind, _, _ := strings.Cut(strings.TrimSpace(header), ".")
	return kind
}
