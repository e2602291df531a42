// Package finance implements the personal finance plugin: it turns free
// text into income and expense records and answers questions about them
// with model-generated, safety-checked SQL.
package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quickjot/quickjot/llm"
	"github.com/quickjot/quickjot/plugin"
	"github.com/quickjot/quickjot/storage"
	"github.com/quickjot/quickjot/types"
)

// Plugin is the finance domain plugin.
type Plugin struct {
	repo   *storage.FinanceRepository
	llm    llm.Client
	logger *zap.Logger
}

var _ plugin.Plugin = (*Plugin)(nil)

// New creates an uninitialized finance plugin. Register it with the plugin
// manager; the manager calls Initialize before routing to it.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string        { return "finance" }
func (p *Plugin) DisplayName() string { return "Finance" }
func (p *Plugin) Description() string {
	return "Records income and expenses from natural language (amounts, categories, merchants) " +
		"and answers questions about spending, income totals and financial history."
}
func (p *Plugin) Version() string { return "1.0.0" }

// Initialize binds the plugin to its repository and model client.
func (p *Plugin) Initialize(ctx context.Context, deps plugin.Dependencies) error {
	if deps.DB == nil {
		return types.NewError(types.ErrInitialization, "finance plugin requires a database")
	}
	if deps.LLM == nil {
		return types.NewError(types.ErrInitialization, "finance plugin requires a model client")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p.repo = storage.NewFinanceRepository(deps.DB, deps.Logger)
	p.llm = deps.LLM
	p.logger = logger.With(zap.String("plugin", "finance"))
	return nil
}

// Shutdown is idempotent; the repository holds no resources of its own.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.logger != nil {
		p.logger.Info("finance plugin shut down")
	}
	return nil
}

// Execute dispatches on the routed action.
func (p *Plugin) Execute(ctx context.Context, req *types.AccessRequest, conv *types.Context, decision *types.Decision) (*types.AccessResponse, error) {
	if req == nil || strings.TrimSpace(req.InputText) == "" {
		return nil, types.NewError(types.ErrValidation, "empty input")
	}

	switch decision.Action {
	case "add":
		return p.addRecords(ctx, req)
	case "query":
		return p.query(ctx, req)
	default:
		return nil, types.Errorf(types.ErrValidation, "finance plugin does not support action %q", decision.Action)
	}
}

type extractedRecord struct {
	Type              string   `json:"type"`
	Amount            float64  `json:"amount"`
	PrimaryCategory   string   `json:"primary_category"`
	SecondaryCategory string   `json:"secondary_category"`
	Description       string   `json:"description"`
	PaymentMethod     string   `json:"payment_method"`
	Merchant          string   `json:"merchant"`
	Tags              []string `json:"tags"`
	RecordDate        string   `json:"record_date"`
}

type extraction struct {
	Records []extractedRecord `json:"records"`
}

const extractionSystem = `You extract personal finance records from user messages.
Respond with a single JSON object and nothing else:
{"records": [{"type": "income"|"expense", "amount": number, "primary_category": string,
"secondary_category": string, "description": string, "payment_method": string,
"merchant": string, "tags": [string], "record_date": "YYYY-MM-DD"}]}

Rules:
- One entry per distinct record in the message; a message may carry several.
- amount is a plain number, no currency symbols.
- Words like "spent", "paid", "bought" mean expense; "salary", "received", "bonus" mean income.
- record_date defaults to today when the message gives no date.
- Leave fields you cannot infer as empty strings.`

func (p *Plugin) addRecords(ctx context.Context, req *types.AccessRequest) (*types.AccessResponse, error) {
	today := time.Now().UTC().Format("2006-01-02")
	reply, err := llm.ChatText(ctx, p.llm, extractionSystem,
		fmt.Sprintf("Today is %s.\nUser message: %s", today, req.InputText))
	if err != nil {
		return nil, fmt.Errorf("extract finance records: %w", err)
	}

	var ex extraction
	if err := llm.DecodeJSON(reply, &ex); err != nil {
		return nil, types.NewError(types.ErrValidation, "could not recognize any finance records").WithCause(err)
	}

	recs := make([]*storage.FinanceRecord, 0, len(ex.Records))
	var total float64
	for _, raw := range ex.Records {
		rec, err := p.validateRecord(req, raw)
		if err != nil {
			p.logger.Warn("skipping unusable extracted record",
				zap.String("user_id", req.UserID),
				zap.Error(err))
			continue
		}
		recs = append(recs, rec)
		total += rec.Amount
	}
	if len(recs) == 0 {
		return nil, types.NewError(types.ErrValidation, "no valid finance records recognized in the input")
	}

	if err := p.repo.CreateBatch(ctx, recs); err != nil {
		return nil, fmt.Errorf("store finance records: %w", err)
	}

	var message string
	if len(recs) == 1 {
		label := recs[0].Description
		if label == "" {
			label = recs[0].PrimaryCategory
		}
		message = fmt.Sprintf("Recorded %s: %.2f (%s)", label, recs[0].Amount, recs[0].Type)
	} else {
		message = fmt.Sprintf("Recorded %d entries totalling %.2f", len(recs), total)
	}

	return types.Ok(message, map[string]any{
		"count": len(recs),
		"total": total,
	}), nil
}

func (p *Plugin) validateRecord(req *types.AccessRequest, raw extractedRecord) (*storage.FinanceRecord, error) {
	if raw.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %v", raw.Amount)
	}
	recType := raw.Type
	switch recType {
	case "income", "expense":
	case "":
		recType = "expense"
	default:
		return nil, fmt.Errorf("unknown record type %q", raw.Type)
	}

	recordDate := time.Now().UTC()
	if raw.RecordDate != "" {
		parsed, err := time.Parse("2006-01-02", raw.RecordDate)
		if err != nil {
			return nil, fmt.Errorf("bad record date %q", raw.RecordDate)
		}
		recordDate = parsed
	}

	category := raw.PrimaryCategory
	if category == "" {
		category = "other"
	}

	return &storage.FinanceRecord{
		UserID:            req.UserID,
		Type:              recType,
		Amount:            raw.Amount,
		PrimaryCategory:   category,
		SecondaryCategory: raw.SecondaryCategory,
		Description:       raw.Description,
		PaymentMethod:     raw.PaymentMethod,
		Merchant:          raw.Merchant,
		Tags:              encodeTags(raw.Tags),
		RawText:           req.InputText,
		RecordDate:        recordDate,
	}, nil
}

const querySchema = `Table finance_records:
- id: primary key
- user_id: owner (string)
- type: 'income' or 'expense'
- amount: numeric amount
- primary_category, secondary_category: category labels
- description, payment_method, merchant: free text
- record_date: date of the record (DATE)
- created_at: insertion time`

const querySystem = `You translate questions about personal finances into a single
SQLite SELECT statement. Reply with the bare SQL only, no markdown, no prose.

Rules:
- Read-only: SELECT only, one statement.
- Always filter on user_id with the exact value given.
- Use SUM for totals and GROUP BY for per-category breakdowns.
- Filter dates on record_date.
- LIMIT result sets to 100 rows or fewer.`

func (p *Plugin) query(ctx context.Context, req *types.AccessRequest) (*types.AccessResponse, error) {
	today := time.Now().UTC().Format("2006-01-02")
	reply, err := llm.ChatText(ctx, p.llm, querySystem,
		fmt.Sprintf("%s\n\nToday is %s. The user_id is '%s'.\nQuestion: %s",
			querySchema, today, req.UserID, req.InputText))
	if err != nil {
		return nil, fmt.Errorf("generate finance query: %w", err)
	}

	sql, err := llm.ExtractSQL(reply)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "could not build a query for that question").WithCause(err)
	}

	rows, err := p.repo.Query(ctx, sql, req.UserID)
	if err != nil {
		p.logger.Warn("finance query failed",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return nil, types.NewError(types.ErrValidation, "that question produced an invalid query").WithCause(err)
	}
	if len(rows) == 0 {
		return types.Ok("No matching finance records found.", map[string]any{"rows": []map[string]any{}}), nil
	}

	return types.Ok(p.summarize(ctx, req.InputText, rows), map[string]any{
		"rows":  rows,
		"count": len(rows),
	}), nil
}

// summarize asks the model for a one-line answer; a formatting failure
// degrades to a plain row count, never to a failed request.
func (p *Plugin) summarize(ctx context.Context, question string, rows []map[string]any) string {
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%v\n", row)
	}
	reply, err := llm.ChatText(ctx, p.llm,
		"Summarize the query result for the user in one or two short sentences. Plain text only.",
		fmt.Sprintf("Question: %s\nResult rows:\n%s", question, b.String()))
	if err != nil || strings.TrimSpace(reply) == "" {
		return fmt.Sprintf("Found %d matching records.", len(rows))
	}
	return strings.TrimSpace(reply)
}

// encodeTags stores tags as a JSON array string.
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return ""
	}
	return string(data)
}
