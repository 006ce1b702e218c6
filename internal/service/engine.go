package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/Ning0612/siteupdater/internal/adapter"
	"github.com/Ning0612/siteupdater/internal/adapter/gdrive"
	"github.com/Ning0612/siteupdater/internal/collection"
	"github.com/Ning0612/siteupdater/internal/config"
	"github.com/Ning0612/siteupdater/internal/core/checksum"
	"github.com/Ning0612/siteupdater/internal/core/planner"
	"github.com/Ning0612/siteupdater/internal/core/status"
	"github.com/Ning0612/siteupdater/internal/domain"
	"github.com/Ning0612/siteupdater/internal/lock"
	"github.com/Ning0612/siteupdater/internal/logger"
	"github.com/Ning0612/siteupdater/internal/manifest"
	"github.com/Ning0612/siteupdater/internal/progress"
	"github.com/Ning0612/siteupdater/internal/state"
	"github.com/Ning0612/siteupdater/internal/transport"
)

// Options configures an Engine. Zero values select the production defaults.
type Options struct {
	// Fs holds the local installation tree (default: OS filesystem)
	Fs afero.Fs

	// Transport performs all remote I/O (default: adapters chosen by site URL)
	Transport transport.Transport

	// Clock stamps records and manifests (default: real clock)
	Clock clockwork.Clock

	// Reporter receives transfer progress
	Reporter progress.Reporter

	// Planner computes command plans
	Planner planner.Planner

	// Offline skips manifest downloads; publishing and installs fail
	Offline bool
}

// Engine runs synchronization commands against one installation.
//
// An Engine is opened for a single command: Open takes the lock, loads the
// persisted state, rescans the local tree and refreshes every site. Every
// mutating command works on a clone of the collection that replaces the
// current one only after the remote side and the local database agree.
type Engine struct {
	cfg       *config.Config
	fs        afero.Fs
	transport transport.Transport
	clock     clockwork.Clock
	reporter  progress.Reporter
	planner   planner.Planner
	calc      *checksum.Calculator
	scanner   *collection.Scanner
	offline   bool

	lock  *lock.FileLock
	store *state.Manager
	coll  *collection.Collection

	// corrupt holds sites whose published manifest could not be read
	corrupt map[string]error

	command string
	log     logger.Logger
}

// NewEngine creates an engine for cfg
func NewEngine(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	calc, err := checksum.NewCalculator(cfg.Checksum, checksum.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.NullReporter{}
	}
	if opts.Planner == nil {
		opts.Planner = planner.NewDefaultPlanner()
	}
	if opts.Transport == nil {
		factory := adapter.NewDefaultFactory(gdrive.Options{
			ClientID:     cfg.GDrive.ClientID,
			ClientSecret: cfg.GDrive.ClientSecret,
			TokenPath:    cfg.GDrive.TokenPath,
		})
		factory.Fs = opts.Fs
		opts.Transport = transport.New(factory, transport.Options{
			Retry:    cfg.Retry,
			Clock:    opts.Clock,
			Reporter: opts.Reporter,
		})
	}

	return &Engine{
		cfg:       cfg,
		fs:        opts.Fs,
		transport: opts.Transport,
		clock:     opts.Clock,
		reporter:  opts.Reporter,
		planner:   opts.Planner,
		calc:      calc,
		scanner:   collection.NewScanner(opts.Fs, cfg.Root, calc, cfg.Ignore),
		offline:   opts.Offline,
		corrupt:   make(map[string]error),
		log:       logger.Get(),
	}, nil
}

// Open prepares the engine for command
func (e *Engine) Open(ctx context.Context, command string) error {
	if e.coll != nil {
		return fmt.Errorf("engine already open for %s", e.command)
	}
	e.command = command
	e.log = logger.Get().With("command", command)

	fileLock, err := lock.NewFileLock(e.cfg.StateDir)
	if err != nil {
		return err
	}
	if err := fileLock.Acquire(command); err != nil {
		return err
	}
	e.lock = fileLock

	if err := e.open(ctx); err != nil {
		e.Close()
		return err
	}
	return nil
}

func (e *Engine) open(ctx context.Context) error {
	store, err := state.NewManager(e.cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	e.store = store

	coll, err := store.LoadCollection(status.NewDefaultResolver(e.cfg.TieBreak))
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := e.ensureSites(coll); err != nil {
		return err
	}

	local, err := e.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	collection.Apply(coll, local)
	e.log.Debug("Scanned local tree", "root", e.cfg.Root, "files", len(local))

	if !e.offline {
		if err := e.refresh(ctx, coll, coll.Sites()); err != nil {
			return err
		}
	}

	e.coll = coll
	return nil
}

// ensureSites registers configured sites missing from the persisted state
// and follows URL changes. Sites added with add-update-site stay.
func (e *Engine) ensureSites(c *collection.Collection) error {
	for _, site := range e.cfg.Sites {
		if !c.HasSite(site.Name) {
			if err := c.AddSite(domain.UpdateSite{Name: site.Name, URL: site.URL}); err != nil {
				return err
			}
			continue
		}
		if err := c.SetSiteURL(site.Name, site.URL); err != nil {
			return err
		}
	}
	return nil
}

// fetched is the outcome of downloading one site manifest
type fetched struct {
	site     string
	manifest *manifest.Manifest // nil when unpublished or corrupt
	corrupt  error
}

// refresh downloads the manifests of sites in parallel and replaces their
// records. A corrupt manifest only disables its own site; a network failure
// aborts.
func (e *Engine) refresh(ctx context.Context, c *collection.Collection, sites []domain.UpdateSite) error {
	results := make([]fetched, len(sites))

	p := pool.New().WithMaxGoroutines(max(1, e.cfg.FetchConcurrency)).WithContext(ctx).WithCancelOnError()
	for i, site := range sites {
		p.Go(func(ctx context.Context) error {
			res, err := e.fetchManifest(ctx, site)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		if res.corrupt != nil {
			e.corrupt[res.site] = res.corrupt
			e.log.Error("Ignoring update site with corrupt manifest", "site", res.site, "error", res.corrupt)
			if err := c.ReplaceSiteRecords(res.site, nil); err != nil {
				return err
			}
			continue
		}
		delete(e.corrupt, res.site)

		records := map[string]domain.SiteRecord{}
		var version int64
		if res.manifest != nil {
			records = res.manifest.Records
			version = res.manifest.Version
		}
		if err := c.ReplaceSiteRecords(res.site, records); err != nil {
			return err
		}
		if err := c.SetManifestVersion(res.site, version); err != nil {
			return err
		}
		e.log.Debug("Fetched manifest", "site", res.site, "version", version, "records", len(records))
	}
	c.PruneEmpty()
	return nil
}

func (e *Engine) fetchManifest(ctx context.Context, site domain.UpdateSite) (fetched, error) {
	out := fetched{site: site.Name}

	data, err := e.transport.FetchManifest(ctx, site)
	if errors.Is(err, domain.ErrNotFound) {
		e.log.Info("Update site has no manifest yet", "site", site.Name)
		return out, nil
	}
	if err != nil {
		return out, err
	}

	m, err := manifest.Unmarshal(data, site.Name)
	if err != nil {
		out.corrupt = err
		return out, nil
	}
	for p := range m.Records {
		if clean, err := collection.CleanPath(p); err != nil || clean != p {
			out.corrupt = &domain.ManifestCorruptionError{Site: site.Name, Err: fmt.Errorf("invalid path %q", p)}
			return out, nil
		}
	}
	out.manifest = m
	return out, nil
}

// Collection returns the current collection. Callers must not mutate it.
func (e *Engine) Collection() *collection.Collection {
	return e.coll
}

// Corrupt returns the sites whose manifest could not be read at Open
func (e *Engine) Corrupt() map[string]error {
	out := make(map[string]error, len(e.corrupt))
	for k, v := range e.corrupt {
		out[k] = v
	}
	return out
}

// Close releases the lock, the database and the transport
func (e *Engine) Close() error {
	var errs []error
	if e.transport != nil {
		if err := e.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
		e.store = nil
	}
	if e.lock != nil {
		if err := e.lock.Release(); err != nil {
			e.log.Error("Failed to release lock", "error", err)
			errs = append(errs, err)
		}
		e.lock = nil
	}
	e.coll = nil
	return errors.Join(errs...)
}

// Result summarizes one command run
type Result struct {
	Command          string
	Site             string
	Plan             *domain.Plan
	FilesChanged     int
	BytesTransferred int64

	// Conflicts lists files left untouched for the operator
	Conflicts []domain.Action

	// Affected lists paths touched by commands without a plan
	Affected []string
}

// run executes fn on a clone of the collection, then persists the clone and
// swaps it in. The execution is recorded in the history either way.
func (e *Engine) run(site string, fn func(c *collection.Collection, res *Result) error) (*Result, error) {
	if e.coll == nil {
		return nil, fmt.Errorf("engine is not open")
	}

	started := e.clock.Now()
	res := &Result{Command: e.command, Site: site}
	clone := e.coll.Clone()

	err := fn(clone, res)
	var partial *partialError
	if err == nil || errors.As(err, &partial) {
		if serr := e.store.SaveCollection(clone); serr != nil {
			err = errors.Join(err, serr)
		} else {
			e.coll = clone
		}
	}

	e.record(started, res, err)
	if err != nil {
		e.log.Error("Command failed", "site", site, "error", err)
		return nil, err
	}
	e.log.Info("Command completed",
		"site", site,
		"files_changed", res.FilesChanged,
		"bytes_transferred", res.BytesTransferred,
		"conflicts", len(res.Conflicts),
	)
	return res, nil
}

// partialError marks a failure after some local changes already landed;
// run keeps them instead of discarding the clone
type partialError struct {
	err error
}

func (e *partialError) Error() string { return e.err.Error() }

func (e *partialError) Unwrap() error { return e.err }

// record appends the run to the history. History failures are logged only.
func (e *Engine) record(started time.Time, res *Result, err error) {
	rec := state.ExecutionRecord{
		Command:          e.command,
		Site:             res.Site,
		StartTime:        started,
		EndTime:          e.clock.Now(),
		Status:           state.StatusSuccess,
		FilesChanged:     res.FilesChanged,
		BytesTransferred: res.BytesTransferred,
	}
	switch {
	case err != nil && res.FilesChanged > 0:
		rec.Status = state.StatusPartial
		rec.Error = err.Error()
	case err != nil:
		rec.Status = state.StatusFailed
		rec.Error = err.Error()
	case len(res.Conflicts) > 0:
		rec.Status = state.StatusPartial
	}
	if _, herr := e.store.SaveExecution(rec); herr != nil {
		e.log.Warn("Failed to record execution", "error", herr)
	}
}
