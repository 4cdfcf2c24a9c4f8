package enhancer

import "strings"

// Categories accepted by the enhancer
const (
	CategoryReasoning      = "reasoning"
	CategoryLogic          = "logic"
	CategoryCreativity     = "creativity"
	CategoryAnalysis       = "analysis"
	CategoryProblemSolving = "problem_solving"
)

// ResponseDelimiter marks where the model's enhanced prompt begins
const ResponseDelimiter = "Enhanced version:"

const promptPlaceholder = "{{prompt}}"

var instructionPrefixes = map[string]string{
	CategoryReasoning:      "You are an expert at enhancing prompts for better reasoning. Transform the given prompt to encourage step-by-step logical thinking and detailed analysis. Add reasoning cues and structure that will help produce more thoughtful, comprehensive responses.",
	CategoryLogic:          "You are an expert at enhancing prompts for logical analysis. Transform the given prompt to encourage systematic, analytical thinking. Add logical frameworks and structured approaches that will help produce more coherent and well-reasoned responses.",
	CategoryCreativity:     "You are an expert at enhancing prompts for creative thinking. Transform the given prompt to encourage innovative, diverse perspectives and creative problem-solving. Add elements that promote out-of-the-box thinking and novel approaches.",
	CategoryAnalysis:       "You are an expert at enhancing prompts for systematic analysis. Transform the given prompt to encourage thorough examination, breaking down complex topics into components, and providing structured analytical frameworks.",
	CategoryProblemSolving: "You are an expert at enhancing prompts for effective problem-solving. Transform the given prompt to encourage structured problem-solving approaches, clear problem definition, solution generation, and evaluation of alternatives.",
}

const genericInstructionPrefix = "You are an expert at enhancing prompts. Transform the given prompt to encourage better thinking and more comprehensive responses."

var fallbackTemplates = map[string]string{
	CategoryReasoning: `Let's think step by step about this problem: {{prompt}}

Work through it in order:
1. Restate the problem in your own words.
2. List the facts you are given and what is still unknown.
3. Reason through each step explicitly before moving to the next.
4. Check the conclusion against the original question.`,

	CategoryLogic: `Let's apply logical reasoning to analyze: {{prompt}}

Structure the argument:
1. State the premises explicitly.
2. Identify any hidden assumptions.
3. Derive each conclusion from the premises, naming the rule used.
4. Look for contradictions or counterexamples.`,

	CategoryCreativity: `Let's approach this creatively and consider multiple perspectives for: {{prompt}}

Explore the space:
1. Generate at least three very different ideas.
2. Borrow an approach from an unrelated field.
3. Challenge one constraint everyone takes for granted.
4. Combine the strongest ideas into a single proposal.`,

	CategoryAnalysis: `Let's systematically analyze the following: {{prompt}}

Break it down:
1. Identify the main components and how they relate.
2. Examine each component on its own.
3. Weigh the evidence for and against each finding.
4. Summarize the key insights and open questions.`,

	CategoryProblemSolving: `Let's break down this problem into manageable steps: {{prompt}}

Solve it methodically:
1. Define the problem and what success looks like.
2. List the constraints and available resources.
3. Propose several candidate solutions.
4. Compare the candidates and choose one, explaining the tradeoffs.`,
}

const genericFallbackTemplate = `Let's think carefully about: {{prompt}}

Before answering:
1. Clarify what is being asked.
2. Consider the relevant information.
3. Explain the reasoning behind the answer.`

// NormalizeCategory lowercases a category name and accepts "problem-solving"
// style spellings
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	c = strings.NewReplacer("-", "_", " ", "_").Replace(c)
	return c
}

// KnownCategory reports whether category has its own template
func KnownCategory(category string) bool {
	_, ok := fallbackTemplates[NormalizeCategory(category)]
	return ok
}

// Categories lists the supported categories in a stable order
func Categories() []string {
	return []string{
		CategoryReasoning,
		CategoryLogic,
		CategoryCreativity,
		CategoryAnalysis,
		CategoryProblemSolving,
	}
}

// BuildInstruction wraps prompt in the category's instruction for the model
func BuildInstruction(category, prompt string) string {
	prefix, ok := instructionPrefixes[NormalizeCategory(category)]
	if !ok {
		prefix = genericInstructionPrefix
	}
	return prefix + "\n\nOriginal prompt: " + prompt + "\n\n" + ResponseDelimiter
}

// FallbackText renders the local template for category. Unknown categories
// get the generic template.
func FallbackText(category, prompt string) string {
	tmpl, ok := fallbackTemplates[NormalizeCategory(category)]
	if !ok {
		tmpl = genericFallbackTemplate
	}
	return strings.Replace(tmpl, promptPlaceholder, prompt, 1)
}

// ExtractEnhanced keeps the text after the last response delimiter, trimmed
func ExtractEnhanced(response string) string {
	if i := strings.LastIndex(response, ResponseDelimiter); i >= 0 {
		response = response[i+len(ResponseDelimiter):]
	}
	return strings.TrimSpace(response)
}
