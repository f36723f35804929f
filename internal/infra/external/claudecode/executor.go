package claudecode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"opsbot/internal/app/reasoning"
	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/external/subprocess"
	boterrors "opsbot/internal/shared/errors"
	"opsbot/internal/shared/logging"
	"opsbot/internal/shared/utils"
)

const (
	defaultBinary  = "claude"
	defaultTimeout = 3 * time.Minute
	maxLineBytes   = 2 * 1024 * 1024
	maxErrorBytes  = 400
)

// Config configures the Claude Code CLI invoker.
type Config struct {
	BinaryPath   string
	APIKey       string
	DefaultModel string
	WorkingDir   string
	Timeout      time.Duration
	Env          map[string]string
}

// Executor implements reasoning.Invoker by running the Claude Code CLI in
// print mode and reading its stream-json output.
type Executor struct {
	cfg               Config
	logger            logging.Logger
	now               func() time.Time
	subprocessFactory func(subprocess.Config) subprocessRunner
}

type subprocessRunner interface {
	Start(ctx context.Context) error
	PID() int
	Stdout() io.ReadCloser
	StderrTail() string
	Wait() error
	Stop() error
}

func New(cfg Config, logger logging.Logger) *Executor {
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		cfg.BinaryPath = defaultBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("ClaudeCodeExecutor")
	}
	return &Executor{
		cfg:               cfg,
		logger:            logger,
		now:               time.Now,
		subprocessFactory: func(cfg subprocess.Config) subprocessRunner { return subprocess.New(cfg) },
	}
}

// Invoke runs one turn. The process is killed when the request timeout or
// the caller's context expires, whichever comes first.
func (e *Executor) Invoke(ctx context.Context, req reasoning.Request) (reasoning.Result, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = e.cfg.DefaultModel
	}
	result := reasoning.Result{Model: model}
	if strings.TrimSpace(req.Prompt) == "" {
		return result, &boterrors.InvocationUnavailableError{Err: fmt.Errorf("prompt is required")}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := e.now()

	proc := e.subprocessFactory(subprocess.Config{
		Command:    e.cfg.BinaryPath,
		Args:       e.buildArgs(req, model),
		Env:        e.buildEnv(),
		WorkingDir: e.cfg.WorkingDir,
	})
	if err := proc.Start(runCtx); err != nil {
		result.Duration = e.now().Sub(started)
		return result, &boterrors.InvocationUnavailableError{Err: err, Detail: "binary=" + e.cfg.BinaryPath}
	}
	defer func() { _ = proc.Stop() }()
	logging.FromContext(ctx, e.logger).Debug("claude started pid=%d model=%s tools=%d", proc.PID(), model, len(req.AllowedTools))

	notifier := newToolNotifier()
	stream := newStreamState(req, e.now, notifier)
	scanErr := stream.consume(proc.Stdout())
	waitErr := proc.Wait()
	if !notifier.close(toolEventGrace) {
		e.logger.Debug("tool listeners still busy after %s; not waiting", toolEventGrace)
	}
	if notifier.dropped > 0 {
		e.logger.Debug("dropped %d tool events for slow listeners", notifier.dropped)
	}

	stream.finish(&result)
	result.Duration = e.now().Sub(started)

	// A complete result wins over a deadline that fired afterwards.
	if stream.sawResult && !stream.resultIsError {
		result.Success = true
		return result, nil
	}
	if err := runCtx.Err(); err != nil {
		stream.abandonPending(&result)
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("claude invocation timed out after %s", timeout)
			return result, &boterrors.InvocationTimeoutError{Timeout: timeout}
		}
		return result, &boterrors.InvocationUnavailableError{Err: err, Detail: "cancelled"}
	}
	if waitErr != nil {
		stream.abandonPending(&result)
		detail := formatProcessDetail(waitErr, proc.StderrTail())
		e.logger.Warn("claude exited with error: %v (%s)", waitErr, detail)
		return result, &boterrors.InvocationUnavailableError{Err: waitErr, Detail: maybeAppendAuthHint(detail, proc.StderrTail())}
	}
	if scanErr != nil {
		return result, &boterrors.InvocationUnavailableError{Err: fmt.Errorf("read stream: %w", scanErr)}
	}
	if !stream.sawResult {
		return result, &boterrors.InvocationUnavailableError{Err: fmt.Errorf("engine produced no result")}
	}
	return result, &boterrors.InvocationUnavailableError{Err: errors.New(utils.TruncateUTF8(firstNonEmpty(stream.resultText, "engine reported an error"), maxErrorBytes))}
}

func (e *Executor) buildArgs(req reasoning.Request, model string) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if model != "" {
		args = append(args, "--model", model)
	}
	if tools := nonEmpty(req.AllowedTools); len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	if prompt := strings.TrimSpace(req.SystemPrompt); prompt != "" {
		args = append(args, "--append-system-prompt", prompt)
	}
	return append(args, "--", reasoning.BuildPrompt(req.History, req.Prompt))
}

func (e *Executor) buildEnv() map[string]string {
	env := cloneStringMap(e.cfg.Env)
	if e.cfg.APIKey != "" {
		if env == nil {
			env = map[string]string{}
		}
		env["ANTHROPIC_API_KEY"] = e.cfg.APIKey
	}
	return env
}

const (
	toolEventBuffer = 64
	toolEventGrace  = 250 * time.Millisecond
)

// toolNotifier runs tool listeners on its own goroutine so the stdout reader
// never waits on them. Events are dropped while the buffer is full.
type toolNotifier struct {
	events  chan func()
	done    chan struct{}
	dropped int
}

func newToolNotifier() *toolNotifier {
	n := &toolNotifier{events: make(chan func(), toolEventBuffer), done: make(chan struct{})}
	go func() {
		defer close(n.done)
		for fn := range n.events {
			fn()
		}
	}()
	return n
}

func (n *toolNotifier) notify(fn func(reasoning.ToolEvent), event reasoning.ToolEvent) {
	if fn == nil {
		return
	}
	select {
	case n.events <- func() { reasoning.SafeNotify(fn, event) }:
	default:
		n.dropped++
	}
}

// close stops intake and waits up to grace for queued events. It reports
// whether the queue drained in time.
func (n *toolNotifier) close(grace time.Duration) bool {
	close(n.events)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-n.done:
		return true
	case <-timer.C:
		return false
	}
}

// streamState accumulates one invocation's stream output.
type streamState struct {
	req           reasoning.Request
	notifier      *toolNotifier
	now           func() time.Time
	calls         []chat.ToolCall
	index         map[string]int
	startedAt     map[string]time.Time
	assistantText []string
	resultText    string
	sawResult     bool
	resultIsError bool
	inputTokens   int
	outputTokens  int
}

func newStreamState(req reasoning.Request, now func() time.Time, notifier *toolNotifier) *streamState {
	return &streamState{
		req:       req,
		notifier:  notifier,
		now:       now,
		index:     map[string]int{},
		startedAt: map[string]time.Time{},
	}
}

func (s *streamState) consume(r io.Reader) error {
	if r == nil {
		return fmt.Errorf("stdout not available")
	}
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineBytes)
	for scanner.Scan() {
		msg, err := ParseStreamMessage(scanner.Bytes())
		if err != nil {
			continue
		}
		s.handle(msg)
	}
	return scanner.Err()
}

func (s *streamState) handle(msg StreamMessage) {
	switch msg.Type {
	case "assistant":
		if text := msg.AssistantText(); text != "" {
			s.assistantText = append(s.assistantText, text)
		}
		for _, use := range msg.ToolUses() {
			s.startTool(use)
		}
	case "user":
		for _, res := range msg.ToolResults() {
			s.endTool(res)
		}
	case "result":
		s.sawResult = true
		s.resultIsError = msg.IsError || (msg.Subtype != "" && msg.Subtype != "success")
		s.resultText = msg.Result
		s.inputTokens, s.outputTokens = msg.Tokens()
	}
}

func (s *streamState) startTool(use streamContent) {
	call := chat.ToolCall{ID: use.ID, Name: use.Name, Input: use.inputString()}
	if call.ID == "" {
		call.ID = fmt.Sprintf("tool-%d", len(s.calls)+1)
	}
	s.index[call.ID] = len(s.calls)
	s.startedAt[call.ID] = s.now()
	s.calls = append(s.calls, call)
	s.notifier.notify(s.req.OnToolStart, reasoning.ToolEvent{ID: call.ID, Name: call.Name, Input: call.Input})
}

func (s *streamState) endTool(res streamContent) {
	idx, ok := s.index[res.ToolUseID]
	if !ok {
		return
	}
	call := &s.calls[idx]
	call.Output = res.resultString()
	call.IsError = res.IsError
	call.Duration = s.now().Sub(s.startedAt[call.ID])
	delete(s.startedAt, call.ID)
	s.notifier.notify(s.req.OnToolEnd, reasoning.ToolEvent{
		ID:      call.ID,
		Name:    call.Name,
		Input:   call.Input,
		Output:  call.Output,
		IsError: call.IsError,
	})
}

func (s *streamState) finish(result *reasoning.Result) {
	result.Text = strings.TrimSpace(s.resultText)
	if result.Text == "" {
		result.Text = strings.TrimSpace(strings.Join(s.assistantText, "\n"))
	}
	result.InputTokens = s.inputTokens
	result.OutputTokens = s.outputTokens
	if len(s.calls) > 0 {
		result.ToolCalls = append([]chat.ToolCall(nil), s.calls...)
	}
}

// abandonPending marks tool calls that never produced a result as failed.
func (s *streamState) abandonPending(result *reasoning.Result) {
	for i := range result.ToolCalls {
		call := &result.ToolCalls[i]
		start, pending := s.startedAt[call.ID]
		if !pending {
			continue
		}
		call.IsError = true
		call.Output = "tool did not complete"
		call.Duration = s.now().Sub(start)
	}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func formatProcessDetail(err error, stderrTail string) string {
	var parts []string
	if detail := exitDetail(err); detail != "" {
		parts = append(parts, detail)
	}
	if tail := compactTail(stderrTail, 400); tail != "" {
		parts = append(parts, "stderr tail: "+tail)
	}
	return strings.Join(parts, " | ")
}

func maybeAppendAuthHint(msg string, stderrTail string) string {
	if !containsAny(stderrTail, []string{"not logged", "unauthorized", "invalid api key"}) {
		return msg
	}
	return strings.TrimSpace(msg + " Hint: ensure the Claude CLI is logged in (e.g. run `claude login`).")
}

func containsAny(input string, needles []string) bool {
	lower := strings.ToLower(input)
	for _, needle := range needles {
		if needle != "" && strings.Contains(lower, strings.ToLower(needle)) {
			return true
		}
	}
	return false
}

func compactTail(tail string, limit int) string {
	trimmed := strings.TrimSpace(tail)
	if trimmed == "" {
		return ""
	}
	compact := strings.Join(strings.Fields(trimmed), " ")
	if limit > 0 && len(compact) > limit {
		return compact[len(compact)-limit:]
	}
	return compact
}

type exitCoder interface {
	ExitCode() int
}

func exitDetail(err error) string {
	if err == nil {
		return ""
	}
	detail := ""
	var exitErr exitCoder
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			detail = fmt.Sprintf("exit=%d", code)
		}
	}
	if execErr := new(exec.ExitError); errors.As(err, &execErr) {
		if status, ok := execErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			if detail == "" {
				detail = fmt.Sprintf("signal=%s", status.Signal())
			} else {
				detail = fmt.Sprintf("%s signal=%s", detail, status.Signal())
			}
		}
	}
	return detail
}
