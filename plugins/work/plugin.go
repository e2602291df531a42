// Package work implements the work-log plugin: it records tasks and work
// sessions from free text and answers questions about logged work with
// model-generated, safety-checked SQL.
package work

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

// Plugin is the work-log domain plugin.
type Plugin struct {
	repo   *storage.WorkRepository
	llm    llm.Client
	logger *zap.Logger
}

var _ plugin.Plugin = (*Plugin)(nil)

// New creates an uninitialized work plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string        { return "work" }
func (p *Plugin) DisplayName() string { return "Work Log" }
func (p *Plugin) Description() string {
	return "Records tasks, meetings and work sessions with durations and priorities, " +
		"and answers questions about logged work time and task history."
}
func (p *Plugin) Version() string { return "1.0.0" }

// Initialize binds the plugin to its repository and model client.
func (p *Plugin) Initialize(ctx context.Context, deps plugin.Dependencies) error {
	if deps.DB == nil {
		return types.NewError(types.ErrInitialization, "work plugin requires a database")
	}
	if deps.LLM == nil {
		return types.NewError(types.ErrInitialization, "work plugin requires a model client")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p.repo = storage.NewWorkRepository(deps.DB, deps.Logger)
	p.llm = deps.LLM
	p.logger = logger.With(zap.String("plugin", "work"))
	return nil
}

// Shutdown is idempotent.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.logger != nil {
		p.logger.Info("work plugin shut down")
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
		return nil, types.Errorf(types.ErrValidation, "work plugin does not support action %q", decision.Action)
	}
}

type extractedTask struct {
	TaskType      string   `json:"task_type"`
	TaskName      string   `json:"task_name"`
	DurationHours float64  `json:"duration_hours"`
	Priority      string   `json:"priority"`
	Status        string   `json:"status"`
	Tags          []string `json:"tags"`
	RecordDate    string   `json:"record_date"`
}

type extraction struct {
	Records []extractedTask `json:"records"`
}

const extractionSystem = `You extract work-log entries from user messages.
Respond with a single JSON object and nothing else:
{"records": [{"task_type": string, "task_name": string, "duration_hours": number,
"priority": "high"|"medium"|"low", "status": "todo"|"in_progress"|"completed"|"cancelled",
"tags": [string], "record_date": "YYYY-MM-DD"}]}

Rules:
- One entry per distinct task or session; a message may carry several.
- task_type is a short label like meeting, development, review, writing.
- duration_hours is a plain number; 0 when the message gives no duration.
- status defaults to completed for past work, todo for planned work.
- record_date defaults to today when the message gives no date.`

func (p *Plugin) addRecords(ctx context.Context, req *types.AccessRequest) (*types.AccessResponse, error) {
	today := time.Now().UTC().Format("2006-01-02")
	reply, err := llm.ChatText(ctx, p.llm, extractionSystem,
		fmt.Sprintf("Today is %s.\nUser message: %s", today, req.InputText))
	if err != nil {
		return nil, fmt.Errorf("extract work records: %w", err)
	}

	var ex extraction
	if err := llm.DecodeJSON(reply, &ex); err != nil {
		return nil, types.NewError(types.ErrValidation, "could not recognize any work entries").WithCause(err)
	}

	recs := make([]*storage.WorkRecord, 0, len(ex.Records))
	var totalHours float64
	for _, raw := range ex.Records {
		rec, err := p.validateRecord(req, raw)
		if err != nil {
			p.logger.Warn("skipping unusable extracted task",
				zap.String("user_id", req.UserID),
				zap.Error(err))
			continue
		}
		recs = append(recs, rec)
		totalHours += rec.DurationHours
	}
	if len(recs) == 0 {
		return nil, types.NewError(types.ErrValidation, "no valid work entries recognized in the input")
	}

	if err := p.repo.CreateBatch(ctx, recs); err != nil {
		return nil, fmt.Errorf("store work records: %w", err)
	}

	var message string
	if len(recs) == 1 {
		message = fmt.Sprintf("Logged %s (%s)", recs[0].TaskName, recs[0].TaskType)
		if recs[0].DurationHours > 0 {
			message = fmt.Sprintf("%s, %.1fh", message, recs[0].DurationHours)
		}
	} else {
		message = fmt.Sprintf("Logged %d tasks, %.1fh in total", len(recs), totalHours)
	}

	return types.Ok(message, map[string]any{
		"count":       len(recs),
		"total_hours": totalHours,
	}), nil
}

func (p *Plugin) validateRecord(req *types.AccessRequest, raw extractedTask) (*storage.WorkRecord, error) {
	if strings.TrimSpace(raw.TaskName) == "" {
		return nil, fmt.Errorf("task name is empty")
	}
	if raw.DurationHours < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %v", raw.DurationHours)
	}

	priority := raw.Priority
	switch priority {
	case "high", "medium", "low":
	case "":
		priority = "medium"
	default:
		return nil, fmt.Errorf("unknown priority %q", raw.Priority)
	}

	status := raw.Status
	switch status {
	case "todo", "in_progress", "completed", "cancelled":
	case "":
		status = "completed"
	default:
		return nil, fmt.Errorf("unknown status %q", raw.Status)
	}

	recordDate := time.Now().UTC()
	if raw.RecordDate != "" {
		parsed, err := time.Parse("2006-01-02", raw.RecordDate)
		if err != nil {
			return nil, fmt.Errorf("bad record date %q", raw.RecordDate)
		}
		recordDate = parsed
	}

	taskType := raw.TaskType
	if taskType == "" {
		taskType = "task"
	}

	return &storage.WorkRecord{
		UserID:        req.UserID,
		TaskType:      taskType,
		TaskName:      raw.TaskName,
		DurationHours: raw.DurationHours,
		Priority:      priority,
		Status:        status,
		Tags:          encodeTags(raw.Tags),
		RawText:       req.InputText,
		RecordDate:    recordDate,
	}, nil
}

const querySchema = `Table work_records:
- id: primary key
- user_id: owner (string)
- task_type: short label like meeting, development, review
- task_name: task title
- duration_hours: numeric hours spent
- priority: 'high', 'medium' or 'low'
- status: 'todo', 'in_progress', 'completed' or 'cancelled'
- record_date: date of the work (DATE)
- created_at: insertion time`

const querySystem = `You translate questions about logged work into a single
SQLite SELECT statement. Reply with the bare SQL only, no markdown, no prose.

Rules:
- Read-only: SELECT only, one statement.
- Always filter on user_id with the exact value given.
- Use SUM(duration_hours) for time totals and GROUP BY for breakdowns.
- Filter dates on record_date.
- LIMIT result sets to 100 rows or fewer.`

func (p *Plugin) query(ctx context.Context, req *types.AccessRequest) (*types.AccessResponse, error) {
	today := time.Now().UTC().Format("2006-01-02")
	reply, err := llm.ChatText(ctx, p.llm, querySystem,
		fmt.Sprintf("%s\n\nToday is %s. The user_id is '%s'.\nQuestion: %s",
			querySchema, today, req.UserID, req.InputText))
	if err != nil {
		return nil, fmt.Errorf("generate work query: %w", err)
	}

	sql, err := llm.ExtractSQL(reply)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "could not build a query for that question").WithCause(err)
	}

	rows, err := p.repo.Query(ctx, sql, req.UserID)
	if err != nil {
		p.logger.Warn("work query failed",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return nil, types.NewError(types.ErrValidation, "that question produced an invalid query").WithCause(err)
	}
	if len(rows) == 0 {
		return types.Ok("No matching work entries found.", map[string]any{"rows": []map[string]any{}}), nil
	}

	return types.Ok(p.summarize(ctx, req.InputText, rows), map[string]any{
		"rows":  rows,
		"count": len(rows),
	}), nil
}

// summarize asks the model for a one-line answer; a formatting failure
// degrades to a plain row count.
func (p *Plugin) summarize(ctx context.Context, question string, rows []map[string]any) string {
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%v\n", row)
	}
	reply, err := llm.ChatText(ctx, p.llm,
		"Summarize the query result for the user in one or two short sentences. Plain text only.",
		fmt.Sprintf("Question: %s\nResult rows:\n%s", question, b.String()))
	if err != nil || strings.TrimSpace(reply) == "" {
		return fmt.Sprintf("Found %d matching entries.", len(rows))
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
