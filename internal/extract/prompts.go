package extract

import (
	"path/filepath"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/oracle"
)

// buildInstruction returns the system instruction for one loader.
func buildInstruction(categories domain.CategorySet, loaderName string) string {
	var b strings.Builder
	b.WriteString("You are a financial data extraction specialist for a personal finance application.\n")
	b.WriteString("Your task is to read a bank statement and extract every transaction in it.\n\n")
	b.WriteString("The statement content is provided below. If it is missing or unreadable you may call ")
	b.WriteString(loaderName)
	b.WriteString(" once to load the file again. Do not call it more than once.\n\n")
	b.WriteString("For each transaction, extract:\n")
	b.WriteString("- transaction_date: the date of the transaction, format YYYY-MM-DD\n")
	b.WriteString("- merchant: the name of the merchant or payee\n")
	b.WriteString("- description: a brief description of the transaction\n")
	b.WriteString("- amount: negative for money spent or withdrawn, positive for money received or deposited\n")
	b.WriteString("- category: exactly one of the categories below\n\n")
	b.WriteString("Categories:\n")
	b.WriteString(categories.Describe())
	b.WriteString("\nRules:\n")
	b.WriteString("- Extract ALL transactions, in the order they appear in the document.\n")
	b.WriteString("- If the statement has separate \"paid out\" / \"paid in\" columns, convert them to a single signed amount.\n")
	b.WriteString("- Skip opening and closing balance lines; they are not transactions.\n")
	b.WriteString("- When you are done, call " + oracle.SubmitFunctionName + " with the full list.\n")
	return b.String()
}

func buildInput(doc Document) string {
	var b strings.Builder
	b.WriteString("File: " + filepath.Base(doc.Path) + "\n\n")
	if strings.TrimSpace(doc.Text) == "" {
		b.WriteString("The document content has not been loaded yet.\n")
		return b.String()
	}
	b.WriteString("Document content:\n")
	b.WriteString(doc.Text)
	b.WriteString("\n")
	return b.String()
}

// batchSchema is the target schema handed to the oracle.
func batchSchema(categories domain.CategorySet) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"transactions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"transaction_date": {Type: genai.TypeString, Description: "Date in YYYY-MM-DD format."},
						"merchant":         {Type: genai.TypeString},
						"description":      {Type: genai.TypeString},
						"amount":           {Type: genai.TypeNumber, Description: "Negative for outflows, positive for inflows."},
						"category":         {Type: genai.TypeString, Enum: categories.Names()},
					},
					Required:         []string{"transaction_date", "merchant", "description", "amount", "category"},
					PropertyOrdering: []string{"transaction_date", "merchant", "description", "amount", "category"},
				},
			},
		},
		Required: []string{"transactions"},
	}
}
