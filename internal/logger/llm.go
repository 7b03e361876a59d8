package logger

import (
	"io"
	"log"
	"strings"
	"sync"

	"tradefloor/internal/pkg/jsonutil"
)

// Separate writer for raw chat traffic: prompts and completions are too
// verbose for the main log but indispensable when a trader misbehaves.
var (
	llmMu  sync.Mutex
	llmLog *log.Logger
)

func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

func logLLM(kind, model, account string, sections ...[2]string) {
	llmMu.Lock()
	l := llmLog
	llmMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM][" + kind + "]")
	if model != "" {
		b.WriteString("[" + model + "]")
	}
	if account != "" {
		b.WriteString("[" + account + "]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec[0])
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- " + title + " ---\n")
		b.WriteString(sec[1])
		if !strings.HasSuffix(sec[1], "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

func LogLLMRequest(model, account, systemPrompt, userPrompt string) {
	logLLM("request", model, account, [2]string{"SYSTEM", systemPrompt}, [2]string{"USER", userPrompt})
}

func LogLLMResponse(model, account, raw string) {
	logLLM("response", model, account, [2]string{"RAW", jsonutil.Pretty(raw)})
}
