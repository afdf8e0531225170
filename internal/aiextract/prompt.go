package aiextract

import (
	"fmt"
	"unicode/utf8"
)

// SystemInstruction is sent as the cached system block of every request.
const SystemInstruction = "You are an expert contract analyst specializing in payment extraction. " +
	"Extract ALL payment information from contracts with high accuracy. " +
	"Ask for clarification when uncertain."

// DefaultMaxPromptChars bounds the contract text embedded in the prompt.
const DefaultMaxPromptChars = 8000

const responseTemplate = `{
  "extracted_data": {
    "client_name": "extracted client name or null",
    "total_value": numeric or null,
    "currency": "USD/EUR/etc",
    "start_date": "YYYY-MM-DD or null",
    "end_date": "YYYY-MM-DD or null",
    "payment_milestones": [
      {"amount": numeric, "invoice_date": "YYYY-MM-DD", "due_date": "YYYY-MM-DD", "description": "text"}
    ],
    "payment_frequency": "monthly/quarterly/one_time/null",
    "confidence_score": 95
  },
  "clarifications_needed": [
    {
      "field": "field_name",
      "question": "specific question for user",
      "context": "relevant text from contract",
      "page": page_number_if_known
    }
  ]
}`

const promptRules = `RULES:
- If you are not certain about ANY field, add a clarification for it
- NEVER guess dates, amounts, or names
- Extract ONLY what is explicitly written in the contract
- Use null for missing information
- Format dates as YYYY-MM-DD
- Extract BOTH the invoice date (when the invoice is sent) and the due date (when payment is expected)
- If only a due date is given, set the invoice date 30 days before it
- Use field names from: client_name, contract_number, total_value, currency, start_date, end_date, po_number

Ask for clarification when, for example:
- the contract is "effective upon signature": ask for the actual signature date
- several companies are named: ask which one is the client
- an hourly rate is given without a total: ask how the total should be calculated
- payment terms are ambiguous, "TBD", or contradict each other

Return ONLY the JSON, no other text.`

// BuildPrompt returns the user prompt for one contract. text should carry
// "--- Page N ---" markers so the model can cite pages; it is cut to
// maxChars runes.
func BuildPrompt(fileName, text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxPromptChars
	}
	return fmt.Sprintf("Extract ALL payment information from the contract %q. Return JSON with two sections:\n\n%s\n\nContract text:\n%s\n\n%s",
		fileName, responseTemplate, truncateRunes(text, maxChars), promptRules)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
