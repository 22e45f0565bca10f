package treesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentworkforce/trackfile/internal/baseline"
	"github.com/agentworkforce/trackfile/internal/remote"
	"github.com/agentworkforce/trackfile/internal/tracker"
)

// Source names the tree a session operates on. Path is the working document;
// RemoteID, when set, pins the remote root and implies a pull. A session with
// RemoteID and no document on disk bootstraps the document from the remote
// tree.
type Source struct {
	Path     string
	RemoteID string
}

type OverrideKind int

const (
	OverrideNone OverrideKind = iota
	// OverrideForce keeps the three-way merge but resolves every conflict
	// to the preferred side.
	OverrideForce
	// OverrideReset skips comparison entirely and adopts the preferred
	// side's tree verbatim as the new baseline.
	OverrideReset
)

type Override struct {
	Kind   OverrideKind
	Prefer Prefer
}

// Options tunes one sync session.
type Options struct {
	Pull     bool
	Override Override
	// Message overrides the baseline commit message.
	Message string
}

type Status string

const (
	StatusClean           Status = "clean"
	StatusPushed          Status = "pushed"
	StatusPulled          Status = "pulled"
	StatusPushedAndPulled Status = "pushed+pulled"
	StatusConflicted      Status = "conflicted"
)

// Report is the outcome of one session. ConflictPaths is non-empty only for
// StatusConflicted; each path is the child-index sequence of a conflicted
// node, the root being the empty sequence.
type Report struct {
	Status        Status
	ConflictPaths [][]int
	Created       int
	Updated       int
}

var (
	ErrNoRemoteRoot = errors.New("treesync: document root is not linked to a remote node")
	ErrNoSource     = errors.New("treesync: source names neither a document nor a remote id")
)

// Engine orchestrates sync sessions: read the document, fetch, merge, write
// back, push, commit the baseline.
type Engine struct {
	client    remote.Client
	baselines baseline.Store
	fetcher   *Fetcher
	logger    *slog.Logger
}

func NewEngine(client remote.Client, baselines baseline.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:    client,
		baselines: baselines,
		fetcher:   NewFetcher(client, logger),
		logger:    logger,
	}
}

// Open runs one sync session over the source and returns its report.
// Conflicts are reported, not returned as errors; the document and baseline
// are left untouched when the session ends conflicted. A push that fails
// midway returns a PartialActionError and leaves the baseline at its previous
// commit so the next session retries the remainder.
func (e *Engine) Open(ctx context.Context, source Source, opts Options) (*Report, error) {
	local, err := tracker.ReadDocument(source.Path)
	if errors.Is(err, tracker.ErrNoDocument) {
		if source.RemoteID == "" {
			return nil, ErrNoSource
		}
		return e.bootstrapFromRemote(ctx, source, opts)
	}
	if err != nil {
		return nil, err
	}

	consensus, err := e.baselines.Read(source.Path)
	if errors.Is(err, baseline.ErrNoBaseline) {
		// First sync for this document. The current local tree becomes
		// the initial baseline, but this session's merge still runs
		// without a consensus: the commit records where we started, it
		// does not assert agreement with the remote.
		if commitErr := e.baselines.Commit(source.Path, local, e.message(opts, "initial baseline")); commitErr != nil {
			return nil, fmt.Errorf("commit initial baseline: %w", commitErr)
		}
		consensus = nil
	} else if err != nil {
		return nil, err
	}

	if opts.Override.Kind == OverrideReset {
		return e.reset(ctx, source, opts, local)
	}

	pull := opts.Pull || source.RemoteID != ""
	if !pull {
		return e.pushOnly(ctx, source, opts, local, consensus)
	}

	rootID := source.RemoteID
	if rootID == "" {
		id, ok := local.Ref.RemoteID()
		if !ok {
			return nil, ErrNoRemoteRoot
		}
		rootID = id
	}

	remoteTree, err := e.fetcher.Fetch(ctx, rootID)
	if err != nil {
		return nil, err
	}

	var force Prefer
	if opts.Override.Kind == OverrideForce {
		force = opts.Override.Prefer
	}
	resolved, result := Resolve(local, consensus, remoteTree, ResolveOptions{Force: force})

	if len(result.Conflicts) > 0 {
		e.logger.Warn("sync conflicted", "path", source.Path, "conflicts", len(result.Conflicts))
		return &Report{Status: StatusConflicted, ConflictPaths: result.Conflicts}, nil
	}

	if result.LocalNeedsUpdate {
		if err := tracker.WriteDocument(source.Path, resolved); err != nil {
			return nil, err
		}
	}

	report := &Report{}
	if result.RemoteNeedsUpdate {
		created, updated, err := e.push(ctx, source.Path, resolved, consensus)
		report.Created, report.Updated = created, updated
		if err != nil {
			return report, err
		}
	}

	if err := e.baselines.Commit(source.Path, resolved, e.message(opts, "sync")); err != nil {
		return report, fmt.Errorf("commit baseline: %w", err)
	}

	pushed := report.Created+report.Updated > 0
	switch {
	case pushed && result.LocalNeedsUpdate:
		report.Status = StatusPushedAndPulled
	case pushed:
		report.Status = StatusPushed
	case result.LocalNeedsUpdate:
		report.Status = StatusPulled
	default:
		report.Status = StatusClean
	}
	e.logger.Info("sync session finished", "path", source.Path, "status", report.Status,
		"created", report.Created, "updated", report.Updated)
	return report, nil
}

// bootstrapFromRemote creates the working document from the remote tree and
// seeds the baseline with it.
func (e *Engine) bootstrapFromRemote(ctx context.Context, source Source, opts Options) (*Report, error) {
	e.logger.Info("bootstrapping document from remote", "path", source.Path, "root", source.RemoteID)
	remoteTree, err := e.fetcher.Fetch(ctx, source.RemoteID)
	if err != nil {
		return nil, err
	}
	if err := tracker.WriteDocument(source.Path, remoteTree); err != nil {
		return nil, err
	}
	if err := e.baselines.Commit(source.Path, remoteTree, e.message(opts, "bootstrap from remote")); err != nil {
		return nil, fmt.Errorf("commit baseline: %w", err)
	}
	return &Report{Status: StatusPulled}, nil
}

// reset adopts the preferred side's tree verbatim as the new agreed state.
func (e *Engine) reset(ctx context.Context, source Source, opts Options, local *tracker.Node) (*Report, error) {
	switch opts.Override.Prefer {
	case PreferLocal:
		if err := e.baselines.Commit(source.Path, local, e.message(opts, "reset to local")); err != nil {
			return nil, fmt.Errorf("commit baseline: %w", err)
		}
		return &Report{Status: StatusClean}, nil
	case PreferRemote:
		rootID := source.RemoteID
		if rootID == "" {
			id, ok := local.Ref.RemoteID()
			if !ok {
				return nil, ErrNoRemoteRoot
			}
			rootID = id
		}
		remoteTree, err := e.fetcher.Fetch(ctx, rootID)
		if err != nil {
			return nil, err
		}
		if err := tracker.WriteDocument(source.Path, remoteTree); err != nil {
			return nil, err
		}
		if err := e.baselines.Commit(source.Path, remoteTree, e.message(opts, "reset to remote")); err != nil {
			return nil, fmt.Errorf("commit baseline: %w", err)
		}
		return &Report{Status: StatusPulled}, nil
	default:
		return nil, fmt.Errorf("treesync: reset requires a preferred side")
	}
}

// pushOnly runs a session without fetching: local is taken as resolved and
// planned against the baseline.
func (e *Engine) pushOnly(ctx context.Context, source Source, opts Options, local, consensus *tracker.Node) (*Report, error) {
	resolved := local.Clone()
	report := &Report{}
	created, updated, err := e.push(ctx, source.Path, resolved, consensus)
	report.Created, report.Updated = created, updated
	if err != nil {
		return report, err
	}
	if err := e.baselines.Commit(source.Path, resolved, e.message(opts, "push")); err != nil {
		return report, fmt.Errorf("commit baseline: %w", err)
	}
	if created+updated > 0 {
		report.Status = StatusPushed
	} else {
		report.Status = StatusClean
	}
	return report, nil
}

// push plans and dispatches until no actions remain. Creates for children of
// a node created in an earlier round appear only once that parent carries its
// real id, so nested pending subtrees drain over several rounds. Assigned ids
// are written back into the document after every successful round.
func (e *Engine) push(ctx context.Context, path string, resolved, consensus *tracker.Node) (created, updated int, err error) {
	planBase := consensus
	for {
		batches := Plan(resolved, planBase)
		total := 0
		for _, batch := range batches {
			total += len(batch)
		}
		if total == 0 {
			return created, updated, nil
		}
		e.logger.Debug("dispatching actions", "path", path, "depths", len(batches), "actions", total)

		c, u, dispatchErr := e.dispatch(ctx, resolved, batches)
		created += c
		updated += u
		if c > 0 {
			// Persist assigned ids even when the round failed partway:
			// the document must not lose track of nodes that now exist
			// remotely.
			if writeErr := tracker.WriteDocument(path, resolved); writeErr != nil {
				if dispatchErr != nil {
					return created, updated, dispatchErr
				}
				return created, updated, writeErr
			}
		}
		if dispatchErr != nil {
			return created, updated, dispatchErr
		}
		// Dispatched state is agreed state; the next round only plans
		// creates that the previous round unlocked.
		planBase = resolved.Clone()
	}
}

// dispatch runs the batches depth by depth. Actions within a depth run
// concurrently, each writing into its own slot; a failure lets in-flight
// siblings finish, then aborts deeper depths.
func (e *Engine) dispatch(ctx context.Context, resolved *tracker.Node, batches [][]Action) (created, updated int, err error) {
	var completed []Action
	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		ids := make([]string, len(batch))
		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, action := range batch {
			wg.Add(1)
			go func(slot int, act Action) {
				defer wg.Done()
				switch act.Type {
				case ActionCreate:
					ids[slot], errs[slot] = e.client.CreateNode(ctx, act.ParentID, act.Title, act.Body, act.Closed)
				case ActionUpdateState:
					errs[slot] = e.client.UpdateNodeState(ctx, act.NodeID, act.Closed)
				default:
					errs[slot] = fmt.Errorf("unknown action type %q", act.Type)
				}
			}(i, action)
		}
		wg.Wait()

		var firstErr error
		for i, action := range batch {
			if errs[i] != nil {
				if firstErr == nil {
					firstErr = errs[i]
				}
				continue
			}
			completed = append(completed, action)
			switch action.Type {
			case ActionCreate:
				created++
				if node, ok := nodeAtPath(resolved, action.Path); ok {
					node.Ref = tracker.LinkedRef(ids[i])
				}
			case ActionUpdateState:
				updated++
			}
		}
		if firstErr != nil {
			return created, updated, &PartialActionError{Completed: completed, Err: firstErr}
		}
	}
	return created, updated, nil
}

func nodeAtPath(root *tracker.Node, path []int) (*tracker.Node, bool) {
	node := root
	for _, index := range path {
		if index < 0 || index >= len(node.Children) {
			return nil, false
		}
		node = node.Children[index]
	}
	return node, true
}

func (e *Engine) message(opts Options, fallback string) string {
	if opts.Message != "" {
		return opts.Message
	}
	return fallback
}
