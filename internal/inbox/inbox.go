// Package inbox turns answer files dropped into a spool directory into
// pre-shift check events.
//
// Each *.yaml or *.yml file in the inbox is parsed, submitted (or applied as
// an edit when it names an event_id), and then moved to processed/ on success
// or failed/ with a sibling .err note. Writes are debounced so a file is only
// read once it has been quiet for the debounce interval.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/inspection"
	"github.com/fieldops/preshift/internal/model"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"

	DefaultDebounce = 250 * time.Millisecond
)

// Submitter is the inspection flow the inbox feeds.
type Submitter interface {
	Submit(ctx context.Context, sub inspection.Submission) (*model.PreShiftCheckEvent, []*model.Fault, error)
	Edit(ctx context.Context, eventID string, responses []model.CheckResponse) (*model.PreShiftCheckEvent, []*model.Fault, error)
}

// Config holds inbox settings.
type Config struct {
	Dir      string
	Debounce time.Duration
	Logger   *zap.Logger

	// OnSaved runs after an event was stored, for example to push the queue.
	OnSaved func(ev *model.PreShiftCheckEvent)
}

// Result describes one processed file.
type Result struct {
	Path   string
	Event  *model.PreShiftCheckEvent
	Faults int
	Err    error
}

// Inbox feeds answer files from a spool directory into a Submitter.
type Inbox struct {
	cfg       Config
	submitter Submitter
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an Inbox. Call Run to watch, or Drain for a single pass.
func New(submitter Submitter, cfg Config) *Inbox {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{cfg: cfg, submitter: submitter, logger: logger, now: time.Now}
}

// Prepare creates the inbox and its processed/ and failed/ subdirectories.
func (b *Inbox) Prepare() error {
	for _, dir := range []string{b.cfg.Dir, b.processedDir(), b.failedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Run processes files already waiting, then watches for new ones until ctx is
// done.
func (b *Inbox) Run(ctx context.Context) error {
	if err := b.Prepare(); err != nil {
		return err
	}

	w, err := NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Start(b.cfg.Dir); err != nil {
		_ = w.Stop()
		return err
	}
	defer w.Stop()

	if _, err := b.Drain(ctx); err != nil {
		b.logger.Warn("Initial inbox scan failed", zap.Error(err))
	}

	b.logger.Info("Watching inbox",
		zap.String("dir", b.cfg.Dir),
		zap.Duration("debounce", b.cfg.Debounce),
	)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(b.cfg.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case path, ok := <-w.Paths():
			if !ok {
				return nil
			}
			pending[path] = b.now()

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			b.logger.Warn("Inbox watcher error", zap.Error(err))

		case <-ticker.C:
			now := b.now()
			for path, last := range pending {
				if now.Sub(last) < b.cfg.Debounce {
					continue
				}
				delete(pending, path)
				if _, err := os.Stat(path); err != nil {
					continue
				}
				b.Process(ctx, path)
			}
		}
	}
}

// Drain processes every answer file currently in the inbox, oldest name first.
func (b *Inbox) Drain(ctx context.Context) ([]Result, error) {
	entries, err := os.ReadDir(b.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsAnswerFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		results = append(results, b.Process(ctx, filepath.Join(b.cfg.Dir, name)))
	}
	return results, nil
}

// Process handles one answer file and moves it out of the inbox.
func (b *Inbox) Process(ctx context.Context, path string) Result {
	res := Result{Path: path}
	res.Event, res.Faults, res.Err = b.apply(ctx, path)

	if res.Err != nil {
		b.logger.Warn("Answer file rejected", zap.String("file", path), zap.Error(res.Err))
		if err := b.moveFailed(path, res.Err); err != nil {
			b.logger.Error("Failed to move rejected file", zap.String("file", path), zap.Error(err))
		}
		return res
	}

	b.logger.Info("Answer file accepted",
		zap.String("file", path),
		zap.String("event_id", res.Event.EventID),
		zap.String("result", string(res.Event.Result)),
		zap.Int("faults", res.Faults),
	)
	if _, err := b.move(path, b.processedDir()); err != nil {
		b.logger.Error("Failed to move processed file", zap.String("file", path), zap.Error(err))
	}
	if b.cfg.OnSaved != nil {
		b.cfg.OnSaved(res.Event)
	}
	return res
}

func (b *Inbox) apply(ctx context.Context, path string) (*model.PreShiftCheckEvent, int, error) {
	answers, err := LoadAnswers(path)
	if err != nil {
		return nil, 0, err
	}

	var (
		ev     *model.PreShiftCheckEvent
		faults []*model.Fault
	)
	if answers.IsEdit() {
		ev, faults, err = b.submitter.Edit(ctx, answers.EventID, answers.Responses)
	} else {
		sub := inspection.Submission{AssetID: answers.AssetID, Responses: answers.Responses}
		if answers.StartedAt != nil {
			sub.StartedAt = *answers.StartedAt
		}
		ev, faults, err = b.submitter.Submit(ctx, sub)
	}
	if err != nil {
		return nil, 0, err
	}
	return ev, len(faults), nil
}

func (b *Inbox) processedDir() string { return filepath.Join(b.cfg.Dir, ProcessedDir) }
func (b *Inbox) failedDir() string    { return filepath.Join(b.cfg.Dir, FailedDir) }

// move renames path into dir, suffixing a timestamp when the name is taken, and
// returns the destination.
func (b *Inbox) move(path, dir string) (string, error) {
	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = fmt.Sprintf("%s.%d%s", dest[:len(dest)-len(ext)], b.now().UnixNano(), ext)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// moveFailed moves path to failed/ and writes cause next to it. The note is
// named after the moved file.
func (b *Inbox) moveFailed(path string, cause error) error {
	dest, err := b.move(path, b.failedDir())
	if err != nil {
		return err
	}
	return os.WriteFile(dest+".err", []byte(cause.Error()+"\n"), 0o644)
}
