package llm

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
)

var (
	//go:embed prompts/system.txt
	systemPrompt string
	//go:embed prompts/schema_example.json
	schemaExample string
)

// PromptAnswer is one question/answer pair rendered into the user prompt.
type PromptAnswer struct {
	Order      int
	QuestionID int64
	Prompt     string
	Answer     string
}

// BuildSystemPrompt returns the fixed instruction demanding JSON-only output.
func BuildSystemPrompt() string {
	return strings.TrimSpace(systemPrompt)
}

// SchemaExample returns the literal dashboard example embedded in the user prompt.
func SchemaExample() string {
	return strings.TrimSpace(schemaExample)
}

// BuildUserPrompt renders the five question/answer pairs in ascending order
// together with the schema example and the session identifier. Output is
// deterministic for the same input.
func BuildUserPrompt(sessionID string, answers []PromptAnswer) string {
	sorted := make([]PromptAnswer, len(answers))
	copy(sorted, answers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	blocks := make([]string, 0, len(sorted))
	for _, item := range sorted {
		blocks = append(blocks, fmt.Sprintf("سوال %d (id=%d): %s\nپاسخ: %s",
			item.Order, item.QuestionID, item.Prompt, item.Answer))
	}

	var b strings.Builder
	b.WriteString("با توجه به پرسش و پاسخ‌های زیر یک داشبورد خلاصه کسب‌وکار بساز. ")
	b.WriteString("تمام متن‌ها باید فارسی باشند.\n")
	b.WriteString("شناسه جلسه: ")
	b.WriteString(sessionID)
	b.WriteString("\nپرسش‌ها و پاسخ‌ها:\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\n")
	b.WriteString("خروجی باید دقیقا JSON مطابق این ساختار باشد و فقط JSON برگردد. ")
	b.WriteString("به محدودیت‌های بازه اعداد توجه کن (score بین ۰ تا ۱۰۰، delta بین -۱۰۰ تا ۱۰۰، ")
	b.WriteString("مقادیر radar بین ۰ و ۱ و دقیقا سه توصیه):\n")
	b.WriteString(SchemaExample())
	return b.String()
}

// BuildRepairPrompt asks the model to convert its previous non-conformant
// output into schema-valid JSON, passing the offending text verbatim.
func BuildRepairPrompt(previousRawOutput string) string {
	var b strings.Builder
	b.WriteString("این خروجی JSON معتبر نیست یا با طرح هماهنگ نیست. ")
	b.WriteString("خروجی زیر را بدون هیچ توضیحی به JSON درست مطابق طرح تبدیل کن و فقط JSON برگردان. ")
	b.WriteString("Fix this to valid JSON matching the schema exactly. Return JSON only.\n")
	b.WriteString(previousRawOutput)
	return b.String()
}
