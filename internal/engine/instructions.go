package engine

import "strings"

// Task types a job may carry. Unknown or empty tags get the general set.
const (
	TaskTypeGeneral   = ""
	TaskTypeSummarize = "summarize"
	TaskTypeClassify  = "classify"
	TaskTypeTranslate = "translate"
	TaskTypeExtract   = "extract"
	TaskTypeRewrite   = "rewrite"
)

const numberedReplyDirective = "You will receive a numbered list of inputs. " +
	"Reply with a numbered list using the same numbers, one item per input. " +
	"Do not add commentary outside the numbered items."

var taskInstructions = map[string]string{
	TaskTypeGeneral:   "Process each input and produce the requested output.",
	TaskTypeSummarize: "Summarize each input in one or two concise sentences.",
	TaskTypeClassify:  "Classify each input and reply with only the category label.",
	TaskTypeTranslate: "Translate each input into English, preserving tone and meaning.",
	TaskTypeExtract:   "Extract the key entities from each input as a comma-separated list.",
	TaskTypeRewrite:   "Rewrite each input to be clearer and more professional without changing its meaning.",
}

// SystemInstructions resolves the instruction set for a task-type tag and
// folds in the optional user-supplied template. The template's input
// placeholder is stripped: inputs are delivered through the numbered list,
// not substituted into the template.
func SystemInstructions(taskType, template string) string {
	base, ok := taskInstructions[strings.ToLower(strings.TrimSpace(taskType))]
	if !ok {
		base = taskInstructions[TaskTypeGeneral]
	}
	parts := []string{base}
	if folded := foldTemplate(template); folded != "" {
		parts = append(parts, folded)
	}
	parts = append(parts, numberedReplyDirective)
	return strings.Join(parts, "\n\n")
}

const inputPlaceholder = "{{input}}"

func foldTemplate(template string) string {
	t := strings.ReplaceAll(template, inputPlaceholder, "")
	return strings.TrimSpace(t)
}
