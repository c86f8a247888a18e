package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/felixgeelhaar/revcompare/internal/version"
)

// SignatureHeader carries the hex HMAC-SHA256 of a webhook hook body when
// the hook has a secret, in the same "sha256=" form GitHub uses.
const SignatureHeader = "X-Revcompare-Signature-256"

// stderrTail bounds how much script stderr ends up in an error message.
const stderrTail = 2048

type base struct {
	name   string
	events []EventType
}

func (b base) Name() string            { return b.name }
func (b base) EventTypes() []EventType { return b.events }

func stringOpt(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func stringList(cfg map[string]any, key string) []string {
	raw, _ := cfg[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// stringMap reads a string map and expands ${VAR} references in the values.
func stringMap(cfg map[string]any, key string) map[string]string {
	raw, _ := cfg[key].(map[string]any)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = os.ExpandEnv(s)
		}
	}
	return out
}

// ScriptHook runs a local script. Event fields are passed as REVCOMPARE_*
// environment variables: EVENT, RUN_ID and one per data key, upper-cased.
type ScriptHook struct {
	base
	script string
	args   []string
	shell  string // empty runs the script directly
}

// NewScriptHook builds a hook from config keys script, args and shell.
func NewScriptHook(config *HookConfig) (Hook, error) {
	script := stringOpt(config.Config, "script")
	if script == "" {
		return nil, fmt.Errorf("hook %q: script path required", config.Name)
	}
	return &ScriptHook{
		base:   base{name: config.Name, events: config.Events},
		script: script,
		args:   stringList(config.Config, "args"),
		shell:  stringOpt(config.Config, "shell"),
	}, nil
}

func (h *ScriptHook) command(ctx context.Context) *exec.Cmd {
	if h.shell == "" {
		return exec.CommandContext(ctx, h.script, h.args...)
	}
	return exec.CommandContext(ctx, h.shell, append([]string{h.script}, h.args...)...)
}

func (h *ScriptHook) Execute(ctx context.Context, event *Event) error {
	cmd := h.command(ctx)
	cmd.Env = append(os.Environ(), eventEnv(event)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}
		return fmt.Errorf("script %s: %w (stderr: %s)", h.script, err, msg)
	}
	return nil
}

// eventEnv renders the event as sorted REVCOMPARE_* variables.
func eventEnv(event *Event) []string {
	env := []string{
		"REVCOMPARE_EVENT=" + string(event.Type),
		"REVCOMPARE_RUN_ID=" + event.RunID,
	}
	for _, k := range slices.Sorted(maps.Keys(event.Data)) {
		env = append(env, "REVCOMPARE_"+strings.ToUpper(k)+"="+event.Data[k])
	}
	return env
}

// WebhookHook POSTs the event as JSON.
type WebhookHook struct {
	base
	url     string
	headers map[string]string
	secret  []byte
	client  *http.Client
}

// NewWebhookHook builds a hook from config keys url, headers and
// secret_env. Header values may reference environment variables.
func NewWebhookHook(config *HookConfig) (Hook, error) {
	url := stringOpt(config.Config, "url")
	if url == "" {
		return nil, fmt.Errorf("hook %q: webhook URL required", config.Name)
	}
	h := &WebhookHook{
		base:    base{name: config.Name, events: config.Events},
		url:     url,
		headers: stringMap(config.Config, "headers"),
		client:  &http.Client{Timeout: config.Timeout},
	}
	if env := stringOpt(config.Config, "secret_env"); env != "" {
		secret := os.Getenv(env)
		if secret == "" {
			return nil, fmt.Errorf("hook %q: %s is empty", config.Name, env)
		}
		h.secret = []byte(secret)
	}
	return h, nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHook) Execute(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())
	if h.secret != nil {
		req.Header.Set(SignatureHeader, Sign(h.secret, payload))
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
