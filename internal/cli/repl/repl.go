package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tenantrun/internal/cli/command"
	httpclient "tenantrun/internal/cli/http"
	"tenantrun/internal/cli/state"

	"github.com/chzyer/readline"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/shlex"
)

const prompt = "tenantrun> "

// ErrExit is returned by Exec for exit and quit.
var ErrExit = errors.New("exit")

// Session holds REPL state.
type Session struct {
	client      *httpclient.Client
	tokenState  *state.TokenState
	statePath   string
	prettyJSON  bool
	interactive bool
	out         io.Writer
	now         func() time.Time
}

func New(client *httpclient.Client, tokenState *state.TokenState, statePath string, prettyJSON bool, out io.Writer) *Session {
	if out == nil {
		out = os.Stdout
	}
	return &Session{
		client:      client,
		tokenState:  tokenState,
		statePath:   statePath,
		prettyJSON:  prettyJSON,
		interactive: true,
		out:         out,
		now:         time.Now,
	}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("run"),
		readline.PcItem("set",
			readline.PcItem("base"),
			readline.PcItem("socket"),
			readline.PcItem("timeout"),
			readline.PcItem("token"),
			readline.PcItem("interactive", readline.PcItem("true"), readline.PcItem("false")),
		),
		readline.PcItem("show", readline.PcItem("config"), readline.PcItem("token")),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

// Run reads lines until exit or EOF. historyPath may be empty.
func (s *Session) Run(ctx context.Context, historyPath string) error {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o700); err != nil {
			historyPath = ""
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyPath,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	s.out = rl.Stdout()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}

		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				s.printLine("bye")
				return nil
			}
			s.printLine("error: %v", err)
		}
	}
}

// Exec runs one REPL line.
func (s *Session) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	switch tokens[0] {
	case "exit", "quit":
		return ErrExit
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(tokens[1:])
	case "show":
		return s.handleShow(tokens[1:])
	case "run":
		_, err := s.RunScript(ctx, tokens[1:])
		return err
	default:
		return fmt.Errorf("unknown command: %s (try help)", tokens[0])
	}
}

// RunScript posts one script run and prints the outcome. The HTTP status
// is returned so one-shot callers can pick an exit code.
func (s *Session) RunScript(ctx context.Context, args []string) (int, error) {
	run, err := command.ParseRun(args, s.interactive)
	if err != nil {
		return 0, err
	}
	req, err := command.BuildRequest(run)
	if err != nil {
		return 0, err
	}
	if s.tokenState.Expired(s.now()) {
		s.printLine("warning: token expired at %s", s.tokenState.ExpiresAt.Format(time.RFC3339))
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return 0, err
	}
	s.renderResponse(resp)
	return resp.StatusCode, nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: set base|socket|timeout|token|interactive <value>")
	}
	value := ""
	if len(args) > 1 {
		value = args[1]
	}
	switch args[0] {
	case "base":
		if value == "" {
			return fmt.Errorf("usage: set base http://127.0.0.1:9669")
		}
		s.client.SetBaseURL(value)
		s.printLine("base set to %s", s.client.BaseURL())
	case "socket":
		s.client.SetSocket(value)
		if value == "" {
			s.printLine("socket cleared")
			return nil
		}
		s.printLine("socket set to %s", value)
	case "timeout":
		dur, err := time.ParseDuration(value)
		if err != nil || dur <= 0 {
			return fmt.Errorf("usage: set timeout 30s")
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if value == "" {
			*s.tokenState = state.TokenState{}
			if err := state.Clear(s.statePath); err != nil {
				return err
			}
			s.printLine("token cleared")
			return nil
		}
		*s.tokenState = TokenStateFor(value)
		if err := state.Save(s.statePath, *s.tokenState); err != nil {
			return fmt.Errorf("save token failed: %w", err)
		}
		s.printLine("token updated")
	case "interactive":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("usage: set interactive true|false")
		}
		s.interactive = on
		s.printLine("interactive set to %t", on)
	default:
		return fmt.Errorf("unknown set command: %s", args[0])
	}
	return nil
}

func (s *Session) handleShow(args []string) error {
	what := ""
	if len(args) > 0 {
		what = args[0]
	}
	switch what {
	case "token":
		if s.tokenState.Token == "" {
			s.printLine("token: <empty>")
			return nil
		}
		token := s.tokenState.Token
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
		if !s.tokenState.ExpiresAt.IsZero() {
			s.printLine("expires: %s", s.tokenState.ExpiresAt.Format(time.RFC3339))
		}
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		if socket := s.client.Socket(); socket != "" {
			s.printLine("socket: %s", socket)
		}
		s.printLine("timeout: %s", s.client.Timeout())
		s.printLine("interactive: %t", s.interactive)
		s.printLine("tokenStatePath: %s", s.statePath)
	default:
		return fmt.Errorf("usage: show token|config")
	}
	return nil
}

// TokenStateFor records the token together with its exp claim. The
// signature is not checked here; only the server holds the secret.
func TokenStateFor(token string) state.TokenState {
	st := state.TokenState{Token: token}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		st.ExpiresAt = claims.ExpiresAt.Time
	}
	return st
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	var body struct {
		Message *string `json:"message"`
	}
	if s.prettyJSON || resp.StatusCode != http.StatusOK {
		s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	}
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.Message != nil {
		s.printLine("%s", strings.TrimRight(*body.Message, "\n"))
		return
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: run <script> [key=value ...] [params='<json>'] [params_file=path]")
	s.printLine("system: help | exit | set base|socket|timeout|token|interactive | show token|config")
	s.printLine("examples:")
	s.printLine("  run report day=2024-05-01 limit=10")
	s.printLine(`  run sync params='{"targets":["a","b"]}'`)
	s.printLine("  set interactive false")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
