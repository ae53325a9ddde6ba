// File: internal/runner/explorer.go
// Description: The run_ai_agent_explorer action. It fills the explorer form
// through injected JavaScript, clicks through the known run button labels,
// waits for a completion marker and then polls the transcript until the pre
// block count is stable.
package runner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vantikan/verity-cli/internal/agent"
)

// Explorer action defaults.
const (
	DefaultModelSelector         = "#edit-model"
	DefaultPostCompletionTimeout = 60 * time.Second
	DefaultStableDuration        = 1500 * time.Millisecond
	DefaultPreMinCount           = 1
)

var (
	defaultRunButtons      = []string{"Run Agent", "Run"}
	defaultCompletionTexts = []string{"Final Answer", "Ran"}
	defaultPromptSelectors = []string{"#edit-prompt", "textarea[name='prompt']", "textarea"}
)

// preBlockCountScript counts the transcript blocks currently rendered.
const preBlockCountScript = "(() => document.querySelectorAll('.explorer-messages pre').length)()"

// BuildModelSelectJS returns JavaScript that selects a model option by value
// or visible label and fires a change event.
func BuildModelSelectJS(model, selector string) string {
	return "(() => {" +
		fmt.Sprintf("const sel = document.querySelector(%s);", jsString(selector)) +
		"if (!sel) return {selected: null};" +
		fmt.Sprintf("const target = %s;", jsString(model)) +
		"let matched = null;" +
		"for (const opt of Array.from(sel.options || [])) {" +
		"if (opt.value === target || (opt.textContent || '').trim() === target) {" +
		"sel.value = opt.value; matched = {value: opt.value, label: (opt.textContent || '').trim()}; break;" +
		"}" +
		"}" +
		"sel.dispatchEvent(new Event('change', {bubbles:true}));" +
		"return {selected: matched};" +
		"})()"
}

// BuildPromptSetJS returns JavaScript that writes the prompt into the first
// matching textarea and fires input and change events.
func BuildPromptSetJS(prompt, selector string) string {
	selectors := defaultPromptSelectors
	if selector != "" {
		selectors = []string{selector}
	}
	selectorsJSON, err := json.MarshalToString(selectors)
	if err != nil {
		selectorsJSON = "[]"
	}
	return "(() => {" +
		fmt.Sprintf("const selectors = %s;", selectorsJSON) +
		"let el = null;" +
		"for (const sel of selectors) {" +
		"el = document.querySelector(sel);" +
		"if (el) break;" +
		"}" +
		fmt.Sprintf("const value = %s;", jsString(prompt)) +
		"if (!el) return {found: false};" +
		"el.value = value;" +
		"el.dispatchEvent(new Event('input', {bubbles:true}));" +
		"el.dispatchEvent(new Event('change', {bubbles:true}));" +
		"return {found: true};" +
		"})()"
}

func jsString(s string) string {
	quoted, err := json.MarshalToString(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return quoted
}

// ExplorerOptions configures one explorer invocation.
type ExplorerOptions struct {
	PromptText            string
	Model                 string
	PromptSelector        string
	ModelSelector         string
	RunButtons            []string
	CompletionTexts       []string
	CompletionTimeout     time.Duration
	PostCompletionTimeout time.Duration
	StableDuration        time.Duration
	PreMinCount           int
}

func (o *ExplorerOptions) applyDefaults() {
	if o.ModelSelector == "" {
		o.ModelSelector = DefaultModelSelector
	}
	if len(o.RunButtons) == 0 {
		o.RunButtons = defaultRunButtons
	}
	if len(o.CompletionTexts) == 0 {
		o.CompletionTexts = defaultCompletionTexts
	}
	if o.PostCompletionTimeout <= 0 {
		o.PostCompletionTimeout = DefaultPostCompletionTimeout
	}
	if o.StableDuration <= 0 {
		o.StableDuration = DefaultStableDuration
	}
	if o.PreMinCount <= 0 {
		o.PreMinCount = DefaultPreMinCount
	}
}

// PreBlockWait is the outcome of waiting for the transcript to settle.
type PreBlockWait struct {
	Stabilized bool          `json:"stabilized"`
	Count      *int          `json:"count"`
	Record     *agent.Record `json:"record"`
}

// ExplorerResult is the persisted outcome of the explorer action.
type ExplorerResult struct {
	Records              []*agent.Record `json:"records"`
	Clicked              bool            `json:"clicked"`
	CompletionDetectedBy string          `json:"completion_detected_by"`
	PreBlocks            *PreBlockWait   `json:"pre_blocks"`
}

// runExplorer drives the explorer form end to end for one session.
func (r *Runner) runExplorer(ctx context.Context, session string, opts ExplorerOptions) *ExplorerResult {
	opts.applyDefaults()
	result := &ExplorerResult{Records: []*agent.Record{}}

	eval := func(js string) *agent.Record {
		return r.agent.Run(ctx, []string{"eval", "--json", js}, agent.Options{
			Session:  session,
			WantJSON: true,
			Timeout:  60 * time.Second,
		})
	}

	if opts.Model != "" {
		result.Records = append(result.Records, eval(BuildModelSelectJS(opts.Model, opts.ModelSelector)))
	}
	if opts.PromptText != "" {
		result.Records = append(result.Records, eval(BuildPromptSetJS(opts.PromptText, opts.PromptSelector)))
	}

	for _, button := range opts.RunButtons {
		rec := r.agent.Run(ctx, []string{"find", "role", "button", "click", "--name", button}, agent.Options{
			Session:  session,
			WantJSON: true,
			Timeout:  60 * time.Second,
		})
		result.Records = append(result.Records, rec)
		if rec.ReturnCode == 0 {
			result.Clicked = true
			break
		}
	}

	completionTimeout := opts.CompletionTimeout
	if completionTimeout < time.Second {
		completionTimeout = time.Second
	}
	result.CompletionDetectedBy = "timeout"
	for _, text := range opts.CompletionTexts {
		rec := r.agent.Run(ctx, []string{"wait", "--text", text}, agent.Options{
			Session:  session,
			WantJSON: true,
			Timeout:  completionTimeout,
		})
		result.Records = append(result.Records, rec)
		if rec.ReturnCode == 0 {
			result.CompletionDetectedBy = "text:" + text
			break
		}
	}

	result.PreBlocks = r.waitForPreBlocks(ctx, session, opts.PostCompletionTimeout, opts.StableDuration, opts.PreMinCount)
	return result
}

// waitForPreBlocks polls the transcript block count until it reaches minCount
// and stops changing for stable, or until timeout. The count timer resets on
// every observed change so a slowly-growing transcript is never cut short.
func (r *Runner) waitForPreBlocks(ctx context.Context, session string, timeout, stable time.Duration, minCount int) *PreBlockWait {
	if timeout < time.Second {
		timeout = time.Second
	}
	start := r.now()
	var lastCount *int
	lastChange := r.now()
	var lastRecord *agent.Record

	for r.now().Sub(start) < timeout {
		rec := r.agent.Run(ctx, []string{"eval", "--json", preBlockCountScript}, agent.Options{
			Session:  session,
			WantJSON: true,
			Timeout:  10 * time.Second,
		})
		lastRecord = rec

		var count *int
		if f, ok := agent.Data(rec).(float64); ok {
			n := int(f)
			count = &n
		}
		nowTS := r.now()
		if count != nil && (lastCount == nil || *count != *lastCount) {
			lastCount = count
			lastChange = nowTS
		}
		if count != nil && *count >= minCount && nowTS.Sub(lastChange) >= stable {
			return &PreBlockWait{Stabilized: true, Count: count, Record: lastRecord}
		}
		r.sleep(500 * time.Millisecond)
	}

	return &PreBlockWait{Stabilized: false, Count: lastCount, Record: lastRecord}
}
