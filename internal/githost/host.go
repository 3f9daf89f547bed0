// internal/githost/host.go

// Package githost applies triage side effects to GitHub: the decision comment,
// labels, the assignment itself, and for very-high-confidence fixes a draft
// pull request. Every operation here is best-effort; the decision is already
// persisted before a side effect runs, and a failed side effect must never
// change it.
package githost

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
	"github.com/xkilldash9x/mahoraga/internal/llmutil"
)

// issueRefPattern matches the canonical issue id form "owner/repo#123".
var issueRefPattern = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)#(\d+)$`)

// UserDirectory resolves registry entries for assignment. The triage store
// satisfies it.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]schemas.User, error)
}

// Host is the go-github backed schemas.CodeHost.
type Host struct {
	logger    *zap.Logger
	cfg       config.GitHubConfig
	client    *github.Client
	directory UserDirectory
	now       func() time.Time
}

var _ schemas.CodeHost = (*Host)(nil)

// NewHost builds a GitHub host from config. Token auth wins when both a PAT
// and an App credential are configured.
func NewHost(cfg config.GitHubConfig, directory UserDirectory, logger *zap.Logger) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var client *github.Client
	switch {
	case cfg.Token != "":
		client = github.NewClient(nil).WithAuthToken(cfg.Token)
	case cfg.AppID != 0 && cfg.InstallationID != 0 && cfg.PrivateKeyPath != "":
		transport, err := newAppTransport(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure github app auth: %w", err)
		}
		client = github.NewClient(transport.httpClient())
	default:
		return nil, errors.New("github credentials are not configured")
	}
	return &Host{
		logger:    logger.Named("githost"),
		cfg:       cfg,
		client:    client,
		directory: directory,
		now:       time.Now,
	}, nil
}

// SetBaseURL points the client at a different API root, for tests.
func (h *Host) SetBaseURL(base string) error {
	parsed, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return err
	}
	h.client.BaseURL = parsed
	h.client.UploadURL = parsed
	return nil
}

// ApplyDecision pushes the decision to the issue tracker. Failures of
// individual steps are logged and joined into the returned error; the caller
// treats the whole call as best-effort.
func (h *Host) ApplyDecision(ctx context.Context, result *schemas.TriageResult) (string, error) {
	owner, repo, number, err := parseIssueRef(result.Report.IssueID)
	if err != nil {
		// Crash-log and JUnit reports have synthetic ids with no tracker
		// issue behind them.
		h.logger.Debug("No tracker issue behind report, skipping side effects",
			zap.String("issue_id", result.Report.IssueID))
		return "", nil
	}

	if h.cfg.DryRun {
		h.logger.Info("Dry run: would apply decision",
			zap.String("issue_id", result.Report.IssueID),
			zap.String("assignee", result.Decision.AssigneeID),
			zap.Bool("routed_to_human", result.Decision.RoutedToHuman),
			zap.Bool("draft_fix", result.Decision.DraftFix != nil))
		return "", nil
	}

	var errs []error
	prURL := ""

	if !result.Decision.RoutedToHuman {
		if err := h.assign(ctx, owner, repo, number, result.Decision.AssigneeID); err != nil {
			errs = append(errs, err)
		}
		if err := h.label(ctx, owner, repo, number, []string{schemas.BugFixLabel}); err != nil {
			errs = append(errs, err)
		}
		if result.Decision.DraftFix != nil {
			prURL, err = h.openDraftPR(ctx, owner, repo, number, result)
			if err != nil {
				h.logger.Warn("Draft PR creation failed", zap.String("issue_id", result.Report.IssueID), zap.Error(err))
				errs = append(errs, err)
			}
		}
	}

	if err := h.comment(ctx, owner, repo, number, decisionComment(result, prURL)); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return prURL, fmt.Errorf("%w: %w", schemas.ErrExternalDependency, errors.Join(errs...))
	}
	return prURL, nil
}

// assign resolves the developer's GitHub login from the registry and assigns
// the issue. A developer with no github_login is logged and skipped.
func (h *Host) assign(ctx context.Context, owner, repo string, number int, developerID string) error {
	login, ok, err := h.lookupLogin(ctx, developerID)
	if err != nil {
		return fmt.Errorf("failed to resolve assignee login: %w", err)
	}
	if !ok {
		h.logger.Warn("Assignee has no GitHub login in the registry, skipping assignment",
			zap.String("developer_id", developerID))
		return nil
	}
	_, _, err = h.client.Issues.AddAssignees(ctx, owner, repo, number, []string{login})
	if err != nil {
		return fmt.Errorf("failed to assign issue: %w", err)
	}
	h.logger.Info("Issue assigned", zap.String("login", login), zap.Int("issue", number))
	return nil
}

func (h *Host) lookupLogin(ctx context.Context, gitEmail string) (string, bool, error) {
	users, err := h.directory.ListUsers(ctx)
	if err != nil {
		return "", false, err
	}
	for _, u := range users {
		if u.GitEmail == gitEmail && u.GithubLogin != "" {
			return u.GithubLogin, true, nil
		}
	}
	return "", false, nil
}

func (h *Host) label(ctx context.Context, owner, repo string, number int, labels []string) error {
	_, _, err := h.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
	if err != nil {
		return fmt.Errorf("failed to label issue: %w", err)
	}
	return nil
}

func (h *Host) comment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := h.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to comment on issue: %w", err)
	}
	return nil
}

// openDraftPR creates a branch off the base, rewrites the single affected
// file via the contents API, and opens a draft pull request carrying the
// review labels.
func (h *Host) openDraftPR(ctx context.Context, owner, repo string, number int, result *schemas.TriageResult) (string, error) {
	fix := result.Decision.DraftFix
	filePath, diff := fix.File()

	base := h.cfg.BaseBranch
	if base == "" {
		base = "main"
	}

	baseRef, _, err := h.client.Git.GetRef(ctx, owner, repo, "heads/"+base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base branch %q: %w", base, err)
	}

	branch := fmt.Sprintf("mahoraga/fix-issue-%d-%d", number, h.now().Unix())
	_, _, err = h.client.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create fix branch: %w", err)
	}

	content, _, _, err := h.client.Repositories.GetContents(ctx, owner, repo, filePath,
		&github.RepositoryContentGetOptions{Ref: base})
	if err != nil {
		return "", fmt.Errorf("failed to fetch %q at %q: %w", filePath, base, err)
	}
	original, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %q: %w", filePath, err)
	}
	patched, err := llmutil.ApplyUnifiedDiff(original, diff)
	if err != nil {
		return "", fmt.Errorf("draft fix no longer applies to %q: %w", filePath, err)
	}

	_, _, err = h.client.Repositories.UpdateFile(ctx, owner, repo, filePath, &github.RepositoryContentFileOptions{
		Message: github.String(fmt.Sprintf("Proposed fix for #%d (automated draft)", number)),
		Content: []byte(patched),
		SHA:     content.SHA,
		Branch:  github.String(branch),
	})
	if err != nil {
		return "", fmt.Errorf("failed to push patched file: %w", err)
	}

	pr, _, err := h.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(fmt.Sprintf("%s: proposed fix for #%d", schemas.DraftFixLabel, number)),
		Head:  github.String(branch),
		Base:  github.String(base),
		Body:  github.String(draftPRBody(result, number)),
		Draft: github.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to open draft pull request: %w", err)
	}

	if pr.Number != nil {
		if err := h.label(ctx, owner, repo, pr.GetNumber(),
			[]string{schemas.DraftFixLabel, schemas.GeneratedByLabel, schemas.BugFixLabel}); err != nil {
			h.logger.Warn("Failed to label draft PR", zap.Int("pr", pr.GetNumber()), zap.Error(err))
		}
	}
	h.logger.Info("Draft PR opened", zap.String("url", pr.GetHTMLURL()), zap.Int("issue", number))
	return pr.GetHTMLURL(), nil
}

// decisionComment renders the explanatory issue comment.
func decisionComment(result *schemas.TriageResult, prURL string) string {
	var b strings.Builder
	if result.Decision.RoutedToHuman {
		b.WriteString("**Automated triage: routed to human review.**\n\n")
	} else {
		fmt.Fprintf(&b, "**Automated triage: assigned to `%s`.**\n\n", result.Decision.AssigneeID)
	}
	fmt.Fprintf(&b, "- Confidence: %.0f%%\n", result.Decision.Confidence)
	if result.Analysis.RootCauseHypothesis != "" {
		fmt.Fprintf(&b, "- Root cause hypothesis: %s\n", result.Analysis.RootCauseHypothesis)
	}
	if result.Analysis.FixComplexity != "" && result.Analysis.FixComplexity != schemas.ComplexityUnknown {
		fmt.Fprintf(&b, "- Estimated effort: %s\n", result.Analysis.FixComplexity.EstimatedEffort())
	}
	fmt.Fprintf(&b, "- Reasoning: %s\n", result.Decision.Reasoning)
	if prURL != "" {
		fmt.Fprintf(&b, "\nA draft fix is up for review: %s\n", prURL)
	}
	return b.String()
}

func draftPRBody(result *schemas.TriageResult, number int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated draft fix for #%d. **Human review required before merge.**\n\n", number)
	if result.Analysis.RootCauseHypothesis != "" {
		fmt.Fprintf(&b, "Root cause hypothesis: %s\n\n", result.Analysis.RootCauseHypothesis)
	}
	fmt.Fprintf(&b, "Confidence: %.0f%%, lines changed: %d\n",
		result.Decision.Confidence, result.Decision.DraftFix.LineCountChanged)
	return b.String()
}

// parseIssueRef splits the canonical "owner/repo#123" issue id.
func parseIssueRef(issueID string) (owner, repo string, number int, err error) {
	m := issueRefPattern.FindStringSubmatch(issueID)
	if m == nil {
		return "", "", 0, fmt.Errorf("issue id %q is not an owner/repo#number reference", issueID)
	}
	number, err = strconv.Atoi(m[3])
	if err != nil {
		return "", "", 0, err
	}
	return m[1], m[2], number, nil
}
