// internal/githistory/provider.go

// Package githistory reads commit history and line ownership from a local
// clone. It is the data source for expertise scoring: commits come back
// flagged as merge or bot work so the scorer can discard them, and blame
// follows the file across renames.
package githistory

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mahoraga/api/schemas"
	"github.com/xkilldash9x/mahoraga/internal/config"
)

// Provider implements schemas.HistoryProvider over a local git repository.
type Provider struct {
	repo       *git.Repository
	botRes     []*regexp.Regexp
	mergeRes   []*regexp.Regexp
	maxCommits int
	logger     *zap.Logger
}

// NewProvider opens the repository at repoPath. The path may point anywhere
// inside the working tree; the .git directory is detected upward.
func NewProvider(repoPath string, cfg config.ExpertiseConfig, logger *zap.Logger) (*Provider, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", repoPath, err)
	}

	botRes, err := compilePatterns(cfg.BotPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid bot pattern: %w", err)
	}
	mergeRes, err := compilePatterns(cfg.MergeMessagePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid merge message pattern: %w", err)
	}

	return &Provider{
		repo:       repo,
		botRes:     botRes,
		mergeRes:   mergeRes,
		maxCommits: cfg.MaxCommits,
		logger:     logger.Named("githistory"),
	}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

// FileHistory returns the commit log and current line ownership for a file.
// Renames are followed: when a commit introduced the file under a new name,
// older commits are searched under the previous name. A file absent at HEAD
// yields an empty history and no error.
func (p *Provider) FileHistory(ctx context.Context, filePath string) (*schemas.FileHistory, error) {
	head, err := p.headCommit()
	if err != nil {
		return nil, err
	}

	if _, err := head.File(filePath); err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			p.logger.Debug("file not present at HEAD", zap.String("path", filePath))
			return &schemas.FileHistory{FilePath: filePath, LinesByAuthor: map[string]int{}}, nil
		}
		return nil, fmt.Errorf("failed to stat %s at HEAD: %w", filePath, err)
	}

	commits, mergeHashes, err := p.collectCommits(ctx, head, filePath)
	if err != nil {
		return nil, err
	}

	totalLines, linesByAuthor, err := p.blameOwnership(head, filePath, mergeHashes)
	if err != nil {
		// Ownership is an enhancement on top of the commit signal; a blame
		// failure degrades to commit counts only.
		p.logger.Warn("blame failed; continuing with commit history only",
			zap.String("path", filePath), zap.Error(err))
		totalLines, linesByAuthor = 0, map[string]int{}
	}

	return &schemas.FileHistory{
		FilePath:      filePath,
		Commits:       commits,
		TotalLines:    totalLines,
		LinesByAuthor: linesByAuthor,
	}, nil
}

// FileAtHead returns the file content at the current HEAD commit.
func (p *Provider) FileAtHead(ctx context.Context, filePath string) (string, error) {
	head, err := p.headCommit()
	if err != nil {
		return "", err
	}
	file, err := head.File(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s at HEAD: %w", filePath, err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("failed to read contents of %s: %w", filePath, err)
	}
	return content, nil
}

func (p *Provider) headCommit() (*object.Commit, error) {
	ref, err := p.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := p.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	return commit, nil
}

// collectCommits walks history newest first, keeping commits that touched the
// tracked path and switching to the previous name when a rename is found.
func (p *Provider) collectCommits(ctx context.Context, head *object.Commit, filePath string) ([]schemas.Commit, map[plumbing.Hash]bool, error) {
	iter, err := p.repo.Log(&git.LogOptions{From: head.Hash, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open commit log: %w", err)
	}
	defer iter.Close()

	currentPath := filePath
	var commits []schemas.Commit
	mergeHashes := make(map[plumbing.Hash]bool)

	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(commits) >= p.maxCommits {
			return storer.ErrStop
		}

		isMerge := c.NumParents() > 1 || p.matchesAny(p.mergeRes, c.Message)
		if c.NumParents() > 1 {
			mergeHashes[c.Hash] = true
		}

		touched, linesChanged, renamedFrom, err := p.inspectCommit(ctx, c, currentPath)
		if err != nil {
			// One undiffable commit should not sink the whole history.
			p.logger.Debug("skipping undiffable commit",
				zap.String("hash", c.Hash.String()), zap.Error(err))
			return nil
		}
		if !touched {
			return nil
		}

		commits = append(commits, schemas.Commit{
			Hash:         c.Hash.String(),
			AuthorEmail:  c.Author.Email,
			AuthoredAt:   c.Author.When.UTC(),
			LinesChanged: linesChanged,
			IsMerge:      isMerge,
			IsBot:        p.isBotAuthor(c.Author.Email, c.Author.Name),
		})
		if renamedFrom != "" {
			currentPath = renamedFrom
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, nil, fmt.Errorf("failed to walk history for %s: %w", filePath, err)
	}
	return commits, mergeHashes, nil
}

// inspectCommit reports whether the commit changed path, how many lines it
// touched there, and the prior name if the commit renamed the file into path.
func (p *Provider) inspectCommit(ctx context.Context, c *object.Commit, path string) (touched bool, linesChanged int, renamedFrom string, err error) {
	if c.NumParents() == 0 {
		// Root commit: the file's addition if it exists in the tree.
		file, ferr := c.File(path)
		if ferr != nil {
			return false, 0, "", nil
		}
		lines, lerr := file.Lines()
		if lerr != nil {
			return true, 0, "", nil
		}
		return true, len(lines), "", nil
	}

	parent, err := c.Parent(0)
	if err != nil {
		return false, 0, "", fmt.Errorf("failed to load parent: %w", err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return false, 0, "", fmt.Errorf("failed to load parent tree: %w", err)
	}
	tree, err := c.Tree()
	if err != nil {
		return false, 0, "", fmt.Errorf("failed to load tree: %w", err)
	}

	changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return false, 0, "", fmt.Errorf("failed to diff trees: %w", err)
	}

	for _, change := range changes {
		fromName, toName := change.From.Name, change.To.Name
		if toName != path && fromName != path {
			continue
		}

		patch, perr := change.PatchContext(ctx)
		if perr == nil {
			for _, stat := range patch.Stats() {
				linesChanged += stat.Addition + stat.Deletion
			}
		}

		if fromName != "" && toName == path && fromName != path {
			renamedFrom = fromName
		}
		return true, linesChanged, renamedFrom, nil
	}
	return false, 0, "", nil
}

// blameOwnership attributes current lines to their latest human author.
// Lines last touched by a bot or inside a merge commit count toward the
// total but belong to no one.
func (p *Provider) blameOwnership(head *object.Commit, filePath string, mergeHashes map[plumbing.Hash]bool) (int, map[string]int, error) {
	result, err := git.Blame(head, filePath)
	if err != nil {
		return 0, nil, err
	}

	mergeMemo := make(map[plumbing.Hash]bool)
	isMergeHash := func(h plumbing.Hash) bool {
		if v, ok := mergeHashes[h]; ok {
			return v
		}
		if v, ok := mergeMemo[h]; ok {
			return v
		}
		merge := false
		if c, cerr := p.repo.CommitObject(h); cerr == nil {
			merge = c.NumParents() > 1
		}
		mergeMemo[h] = merge
		return merge
	}

	linesByAuthor := make(map[string]int)
	for _, line := range result.Lines {
		if p.isBotAuthor(line.Author, line.AuthorName) || isMergeHash(line.Hash) {
			continue
		}
		linesByAuthor[line.Author]++
	}
	return len(result.Lines), linesByAuthor, nil
}

func (p *Provider) isBotAuthor(email, name string) bool {
	return p.matchesAny(p.botRes, email) || p.matchesAny(p.botRes, name)
}

func (p *Provider) matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
