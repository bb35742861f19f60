// Package report turns saved call transcripts into a prose bug report on
// the agent under test. Runs offline, after the calls.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/llm"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/transcript"
)

const analysisSystemPrompt = `You are a QA analyst reviewing transcripts of phone calls between patients and an AI medical office receptionist. Your job is to identify bugs, quality issues, and areas for improvement.

For each transcript, analyze and report on:

1. **Incorrect Information**: Any factually wrong statements, made-up details, or hallucinated data (e.g., inventing appointment times, wrong office info).

2. **Comprehension Failures**: Times the agent failed to understand what the patient was asking or saying.

3. **Logic Errors**: Contradictions, nonsensical responses, or broken conversation flow.

4. **Triage Issues**: For medical symptom calls, did the agent respond appropriately? Did it escalate urgent symptoms correctly?

5. **Awkward Phrasing**: Unnatural language, robotic responses, or phrasing a human receptionist would never use.

6. **Edge Case Handling**: How did the agent handle confused patients, language mixing, interruptions, or multi-part requests?

7. **Missing Capabilities**: Things a patient would reasonably expect (e.g., "Can you transfer me?") that the agent couldn't handle.

Rate each issue as:
- CRITICAL: Would cause real harm or major patient frustration
- MODERATE: Noticeable quality issue but not harmful
- MINOR: Small polish issue

Be specific. Quote the exact text from the transcript when citing issues.
If a call went well with no issues, say so explicitly.`

const summarySystemPrompt = `You are a QA analyst writing the executive summary of a bug report for an AI medical office receptionist system. You have individual analyses of multiple test calls. Write a concise summary that:

1. Lists the most important bugs found across all calls, grouped by severity.
2. Identifies patterns (issues that appeared in multiple calls).
3. Highlights what the agent did well.
4. Gives a brief overall quality assessment.

Format the output as clean Markdown suitable for a bug report document.`

// Analyzer drives the two-stage analysis.
type Analyzer struct {
	llm            llmClient
	transcriptsDir string
	reportsDir     string
}

type llmClient interface {
	Chat(ctx context.Context, messages []llm.Message, temperature float64, maxTokens int) (string, error)
}

func NewAnalyzer(client llmClient, transcriptsDir, reportsDir string) *Analyzer {
	return &Analyzer{llm: client, transcriptsDir: transcriptsDir, reportsDir: reportsDir}
}

// formatTranscript renders the spoken turns of one saved transcript for the
// analysis prompt.
func formatTranscript(scenarioName string, events []transcript.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s\n\n", scenarioName)
	for _, e := range events {
		switch e.Kind {
		case transcript.KindFinal, transcript.KindSynthesisStart:
			fmt.Fprintf(&b, "[%.1fs] %s: %s\n", e.Timestamp, strings.ToUpper(e.Speaker), e.Text)
		case transcript.KindBargeIn:
			fmt.Fprintf(&b, "[%.1fs] (patient was interrupted mid-sentence)\n", e.Timestamp)
		case transcript.KindCallError:
			fmt.Fprintf(&b, "[%.1fs] (call ended with error: %s)\n", e.Timestamp, e.Text)
		}
	}
	return b.String()
}

// AnalyzeTranscript reviews one call.
func (a *Analyzer) AnalyzeTranscript(ctx context.Context, scenarioName string, events []transcript.Event) (string, error) {
	return a.llm.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: analysisSystemPrompt},
		{Role: llm.RoleUser, Content: "Please analyze this call transcript:\n\n" + formatTranscript(scenarioName, events)},
	}, 0.3, 1500)
}

// Run analyzes every transcript JSON in the transcripts directory and
// writes reports/bug_report.md. Returns the report path.
func (a *Analyzer) Run(ctx context.Context) (string, error) {
	if err := os.MkdirAll(a.reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	reportPath := filepath.Join(a.reportsDir, "bug_report.md")

	files, err := filepath.Glob(filepath.Join(a.transcriptsDir, "*.json"))
	if err != nil {
		return "", fmt.Errorf("list transcripts: %w", err)
	}
	sort.Strings(files)
	if len(files) == 0 {
		log.Warnf("report: no transcripts found in %s", a.transcriptsDir)
		if err := os.WriteFile(reportPath, []byte("# Bug Report\n\nNo transcripts found to analyze.\n"), 0o644); err != nil {
			return "", err
		}
		return reportPath, nil
	}

	log.Infof("report: analyzing %d transcript(s)", len(files))

	type analysis struct {
		scenario string
		text     string
	}
	var analyses []analysis
	for _, f := range files {
		scenarioName, _, events, err := transcript.Load(f)
		if err != nil {
			log.Errorf("report: skip %s: %v", f, err)
			continue
		}
		if scenarioName == "" {
			scenarioName = strings.TrimSuffix(filepath.Base(f), ".json")
		}
		text, err := a.AnalyzeTranscript(ctx, scenarioName, events)
		if err != nil {
			log.Errorf("report: analysis failed for %s: %v", scenarioName, err)
			text = fmt.Sprintf("Analysis failed: %v", err)
		}
		analyses = append(analyses, analysis{scenario: scenarioName, text: text})
	}

	var combined strings.Builder
	for _, an := range analyses {
		fmt.Fprintf(&combined, "\n\n## Call: %s\n\n%s", an.scenario, an.text)
	}
	summary, err := a.llm.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: summarySystemPrompt},
		{Role: llm.RoleUser, Content: "Here are the individual call analyses. Write an executive summary bug report:\n" + combined.String()},
	}, 0.3, 2000)
	if err != nil {
		log.Errorf("report: summary generation failed: %v", err)
		summary = fmt.Sprintf("Summary generation failed: %v", err)
	}

	var b strings.Builder
	b.WriteString("# Bug Report - PrettyGoodAI Voice Bot Testing\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Total calls analyzed: %d\n\n---\n\n", len(analyses))
	b.WriteString("## Executive Summary\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n---\n\n## Individual Call Analyses\n\n")
	for _, an := range analyses {
		fmt.Fprintf(&b, "### %s\n\n%s\n\n---\n\n", an.scenario, an.text)
	}

	if err := os.WriteFile(reportPath, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	log.Infof("report: bug report saved: %s", reportPath)
	return reportPath, nil
}
