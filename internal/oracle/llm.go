package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/dtprivacy/internal/llm"
	"github.com/ppiankov/dtprivacy/internal/worker"
)

// LLM is an Oracle backed by a chat-completion provider
type LLM struct {
	provider llm.Provider
	model    string
	limiter  *worker.Limiter

	auditMu sync.Mutex
	audit   io.Writer

	calls            atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

// Usage is the token accounting of an LLM oracle
type Usage struct {
	Calls            int64 `json:"calls"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// NewLLM creates an LLM oracle. limiter and audit may be nil.
func NewLLM(provider llm.Provider, model string, limiter *worker.Limiter, audit io.Writer) *LLM {
	return &LLM{provider: provider, model: model, limiter: limiter, audit: audit}
}

// Usage returns the token counts accumulated so far
func (o *LLM) Usage() Usage {
	return Usage{
		Calls:            o.calls.Load(),
		PromptTokens:     o.promptTokens.Load(),
		CompletionTokens: o.completionTokens.Load(),
	}
}

// Judge implements Oracle with one completion per batch
func (o *LLM) Judge(ctx context.Context, batch []string, instructions string, labels LabelSet) ([]Verdict, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, o.provider.Name()); err != nil {
			return nil, err
		}
	}

	req := llm.CompletionRequest{
		System: SystemPrompt(instructions, labels, len(batch)),
		Prompt: UserPrompt(batch),
		Model:  o.model,
	}

	start := time.Now()
	resp, err := o.provider.Complete(ctx, req)
	o.calls.Add(1)
	if resp != nil {
		o.promptTokens.Add(int64(resp.PromptTokens))
		o.completionTokens.Add(int64(resp.CompletionTokens))
	}
	o.writeAudit(labels.Name, req, resp, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	return ParseVerdicts(resp.Text, len(batch)), nil
}

// SystemPrompt renders stage instructions, the vocabulary and the answer format
func SystemPrompt(instructions string, labels LabelSet, n int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(instructions))
	b.WriteString("\n\n")

	if labels.Open {
		b.WriteString("Return every applicable value as a separate label. Return an empty list if none apply.\n")
	} else {
		b.WriteString("Allowed labels (use the exact spelling): ")
		b.WriteString(strings.Join(labels.Labels, ", "))
		b.WriteString(".\n")
	}

	if n == 1 {
		b.WriteString(`Respond only with JSON: {"labels": ["<label>"], "rationale": "<at most 15 words>"}`)
	} else {
		fmt.Fprintf(&b, `You will receive %d numbered items. Respond only with JSON: {"results": [{"item": <number>, "labels": ["<label>"], "rationale": "<at most 15 words>"}]} with exactly one entry per item.`, n)
	}
	return b.String()
}

// UserPrompt numbers the batch items
func UserPrompt(batch []string) string {
	if len(batch) == 1 {
		return batch[0]
	}
	var b strings.Builder
	for i, text := range batch {
		fmt.Fprintf(&b, "### Item %d\n%s\n\n", i+1, text)
	}
	return strings.TrimSpace(b.String())
}

type jsonVerdict struct {
	Item      int             `json:"item"`
	Labels    json.RawMessage `json:"labels"`
	Label     string          `json:"label"`
	Class     string          `json:"class"`
	Features  json.RawMessage `json:"features"`
	Rationale string          `json:"rationale"`
}

type jsonBatch struct {
	Results []jsonVerdict `json:"results"`
}

// ParseVerdicts decodes a completion into n verdicts. Items the text does not
// answer get a Verdict.Err; unparseable single answers fall back to line formats.
func ParseVerdicts(text string, n int) []Verdict {
	out := make([]Verdict, n)
	body := extractJSON(text)

	if n > 1 {
		var jb jsonBatch
		if err := json.Unmarshal([]byte(body), &jb); err != nil {
			for i := range out {
				out[i].Err = fmt.Errorf("decode batch response: %w", err)
			}
			return out
		}
		seen := make([]bool, n)
		for pos, r := range jb.Results {
			idx := r.Item - 1
			if r.Item == 0 {
				idx = pos
			}
			if idx < 0 || idx >= n || seen[idx] {
				continue
			}
			seen[idx] = true
			out[idx] = r.verdict()
		}
		for i := range out {
			if !seen[i] {
				out[i].Err = fmt.Errorf("no answer for item %d", i+1)
			}
		}
		return out
	}

	var jv jsonVerdict
	if err := json.Unmarshal([]byte(body), &jv); err == nil {
		out[0] = jv.verdict()
		return out
	}
	out[0] = parseLines(text)
	return out
}

func (r jsonVerdict) verdict() Verdict {
	v := Verdict{Rationale: strings.TrimSpace(r.Rationale), Labels: []string{}}
	v.Labels = append(v.Labels, decodeLabels(r.Labels)...)
	v.Labels = append(v.Labels, decodeLabels(r.Features)...)
	for _, l := range []string{r.Label, r.Class} {
		if strings.TrimSpace(l) != "" {
			v.Labels = append(v.Labels, strings.TrimSpace(l))
		}
	}
	return v
}

// decodeLabels accepts ["a","b"], "a" or [{"name":"a"}]
func decodeLabels(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return trimAll(list)
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return trimAll([]string{one})
	}
	var named []struct {
		Name    string `json:"name"`
		Feature string `json:"feature"`
	}
	if err := json.Unmarshal(raw, &named); err == nil {
		var out []string
		for _, n := range named {
			if n.Name != "" {
				out = append(out, n.Name)
			} else {
				out = append(out, n.Feature)
			}
		}
		return trimAll(out)
	}
	return nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseLines reads "LABEL: x" or "STATUS: x / CONFIDENCE: y" answers, else the first line
func parseLines(text string) Verdict {
	fields := map[string]string{}
	var first string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		if _, dup := fields[key]; !dup {
			fields[key] = strings.TrimSpace(val)
		}
	}

	v := Verdict{Rationale: fields["RATIONALE"]}
	switch {
	case fields["LABEL"] != "":
		v.Labels = []string{fields["LABEL"]}
	case fields["STATUS"] != "" && fields["CONFIDENCE"] != "":
		v.Labels = []string{fields["STATUS"] + ":" + fields["CONFIDENCE"]}
	case first != "":
		v.Labels = []string{strings.Trim(first, `"'.`)}
	}
	return v
}

// extractJSON strips code fences and surrounding prose from a JSON answer
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.IndexAny(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}

type auditEntry struct {
	Time             time.Time `json:"time"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model,omitempty"`
	Stage            string    `json:"stage"`
	System           string    `json:"system"`
	Prompt           string    `json:"prompt"`
	Response         string    `json:"response,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	DurationMS       int64     `json:"duration_ms"`
	Error            string    `json:"error,omitempty"`
}

func (o *LLM) writeAudit(stage string, req llm.CompletionRequest, resp *llm.Completion, err error, d time.Duration) {
	if o.audit == nil {
		return
	}
	e := auditEntry{
		Time:       time.Now().UTC(),
		Provider:   o.provider.Name(),
		Model:      o.model,
		Stage:      stage,
		System:     req.System,
		Prompt:     req.Prompt,
		DurationMS: d.Milliseconds(),
	}
	if resp != nil {
		e.Model = resp.Model
		e.Response = resp.Text
		e.PromptTokens = resp.PromptTokens
		e.CompletionTokens = resp.CompletionTokens
	}
	if err != nil {
		e.Error = err.Error()
	}

	line, mErr := json.Marshal(e)
	if mErr != nil {
		return
	}

	o.auditMu.Lock()
	defer o.auditMu.Unlock()
	_, _ = o.audit.Write(append(line, '\n'))
}

// OpenAudit opens (appending) a JSON lines audit file
func OpenAudit(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return f, nil
}

// Namespace identifies the provider/model pair for cache keys
func Namespace(provider, model string) string {
	return provider + "/" + model + "/v" + strconv.Itoa(promptVersion)
}

// promptVersion is bumped whenever SystemPrompt changes shape
const promptVersion = 1
