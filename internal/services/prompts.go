package services

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/Rehearsal/internal/core/grading"
	"github.com/markdave123-py/Rehearsal/internal/models"
)

const freePracticeCaller = `You are a person calling a crisis line. You feel overwhelmed after a hard week
and are unsure whether calling was a good idea. Reveal details gradually and only when the counselor earns your trust.`

const roleplayRules = `

Stay in character as the caller for the whole conversation. Never give the counselor advice,
never evaluate their performance and never mention that you are an AI. Keep replies short,
the way people speak on a hotline.`

// roleplayPrompts builds the caller persona and the conversation so far.
func roleplayPrompts(sc *models.Scenario, history []models.TranscriptTurn) (system, user string) {
	persona := freePracticeCaller
	if sc != nil && strings.TrimSpace(sc.Prompt) != "" {
		persona = strings.TrimSpace(sc.Prompt)
	}
	system = persona + roleplayRules

	var b strings.Builder
	b.WriteString("Conversation so far (user is the counselor, assistant is you):\n")
	b.WriteString(grading.FormatTranscript(history))
	b.WriteString("\nReply with the caller's next message only.")
	return system, b.String()
}

const scenarioGenSystem = `You write training scenarios for crisis-line counselors.
Given a supervisor's description of a real difficulty, write a roleplay brief for an AI caller.

Reply exactly in this form:
Title: <short title>
<the caller brief in second person, 80 to 200 words>`

func scenarioGenPrompts(complaint, category string) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Description:\n%s\n", strings.TrimSpace(complaint))
	if category != "" {
		fmt.Fprintf(&b, "Category: %s\n", category)
	}
	return scenarioGenSystem, b.String()
}

// parseGeneratedScenario splits a "Title: ..." first line from the brief.
func parseGeneratedScenario(raw string) (title, prompt string, ok bool) {
	raw = strings.TrimSpace(raw)
	first, rest, _ := strings.Cut(raw, "\n")
	first = strings.Trim(strings.TrimSpace(first), "*# ")
	lower := strings.ToLower(first)
	if !strings.HasPrefix(lower, "title:") {
		return "", "", false
	}
	title = strings.Trim(first[len("title:"):], " *")
	prompt = strings.TrimSpace(rest)
	if title == "" || prompt == "" {
		return "", "", false
	}
	return title, prompt, true
}
