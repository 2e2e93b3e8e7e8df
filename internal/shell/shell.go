package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dshills/modular/internal/extension"
)

// TypeName names the shell type in logs and metrics.
const TypeName = "shell"

// Extension point names.
const (
	PointInit   = "init"
	PointUpdate = "update"
	PointPrompt = "prompt"
	PointReact  = "react"
)

// Attribute keys the shell itself maintains.
const (
	AttrRunning = "running"
	AttrFrame   = "frame"
)

// DefaultPrompt is shown while no plugin overrides prompt.
const DefaultPrompt = "> "

// ErrValue is raised by a react alternative that does not recognize a line.
var ErrValue = errors.New("unrecognized value")

// Kinds are the error kinds plugin code can raise by name.
var Kinds = map[string]error{
	"ValueError": ErrValue,
}

// NewType declares the shell extension points.
func NewType() *extension.Type {
	return extension.MustType(TypeName,
		extension.Broadcast(PointInit, primaryInit),
		extension.Broadcast(PointUpdate, primaryUpdate),
		extension.Override(PointPrompt, primaryPrompt),
		extension.Fallback(PointReact, primaryReact, ErrValue),
	)
}

func primaryInit(_ context.Context, self any, _ ...any) (any, error) {
	s := self.(*Shell)
	s.SetAttr(AttrRunning, false)
	s.SetAttr(AttrFrame, int64(0))
	return nil, nil
}

func primaryUpdate(_ context.Context, self any, _ ...any) (any, error) {
	s := self.(*Shell)
	s.mu.Lock()
	defer s.mu.Unlock()
	frame, _ := s.attrs[AttrFrame].(int64)
	s.attrs[AttrFrame] = frame + 1
	return nil, nil
}

func primaryPrompt(context.Context, any, ...any) (any, error) {
	return DefaultPrompt, nil
}

// primaryReact answers lines no plugin recognized. Empty lines are skipped.
func primaryReact(_ context.Context, _ any, args ...any) (any, error) {
	line, _ := argString(args)
	if line == "" {
		return nil, nil
	}
	return fmt.Sprintf("Unrecognized command: %q", line), nil
}

func argString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

// Shell is an instance of the shell type. Plugin code reads and writes its
// attributes as fields of self.
type Shell struct {
	typ *extension.Type
	log logrus.FieldLogger

	mu    sync.Mutex
	attrs map[string]any
}

// New creates a shell over a type made by NewType.
func New(typ *extension.Type, logger logrus.FieldLogger) *Shell {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Shell{
		typ:   typ,
		log:   logger.WithField("type", typ.Name()),
		attrs: make(map[string]any),
	}
}

// Type returns the shell's type.
func (s *Shell) Type() *extension.Type {
	return s.typ
}

// Attr returns an attribute, or nil if it is unset.
func (s *Shell) Attr(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attrs[key]
}

// SetAttr sets an attribute. Setting nil removes it.
func (s *Shell) SetAttr(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.attrs, key)
		return
	}
	s.attrs[key] = value
}

// Keys returns the set attribute keys, sorted.
func (s *Shell) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Running reports whether the command loop is running.
func (s *Shell) Running() bool {
	running, _ := s.Attr(AttrRunning).(bool)
	return running
}

// Frame returns the number of completed updates since init.
func (s *Shell) Frame() int64 {
	frame, _ := s.Attr(AttrFrame).(int64)
	return frame
}

// Stop ends the command loop after the current line.
func (s *Shell) Stop() {
	s.SetAttr(AttrRunning, false)
}

// Init runs init on the shell and every plugin.
func (s *Shell) Init(ctx context.Context, args ...any) error {
	_, err := s.typ.Invoke(ctx, PointInit, s, args...)
	return err
}

// Update runs update on the shell and every plugin.
func (s *Shell) Update(ctx context.Context) error {
	_, err := s.typ.Invoke(ctx, PointUpdate, s)
	return err
}

// Prompt returns the active prompt.
func (s *Shell) Prompt(ctx context.Context) (string, error) {
	v, err := s.typ.Invoke(ctx, PointPrompt, s)
	if err != nil {
		return "", err
	}
	if p, ok := v.(string); ok {
		return p, nil
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

// React hands a line to the react chain and returns the response, if any.
func (s *Shell) React(ctx context.Context, line string) (string, error) {
	v, err := s.typ.Invoke(ctx, PointReact, s, line)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	if r, ok := v.(string); ok {
		return r, nil
	}
	return fmt.Sprint(v), nil
}

// Run initializes the shell and reads lines from in until it is stopped,
// in is exhausted or ctx is done. For each line it writes the prompt,
// reacts and updates. A failing line is reported on out and the loop
// goes on.
func (s *Shell) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	s.SetAttr(AttrRunning, true)
	defer s.Stop()

	scanner := bufio.NewScanner(in)
	for s.Running() {
		if err := ctx.Err(); err != nil {
			return err
		}

		prompt, err := s.Prompt(ctx)
		if err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		fmt.Fprint(out, prompt)

		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()

		response, err := s.React(ctx, line)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"point": PointReact,
				"line":  line,
			}).WithError(err).Warn("command failed")
			fmt.Fprintf(out, "error: %v\n", err)
		} else if response != "" {
			fmt.Fprintln(out, response)
		}

		if err := s.Update(ctx); err != nil {
			return fmt.Errorf("update: %w", err)
		}
	}
	return nil
}
