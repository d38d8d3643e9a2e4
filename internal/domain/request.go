package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleRequest is a validated schedule submission, parsed from either
// the canonical or the legacy wire shape.
type ScheduleRequest struct {
	Schedule    Schedule
	InitialTime *time.Time // optional first fire for recurring schedules
	TaskName    string     // optional; dedup key for named recurring tasks
	Topic       string
	Data        []byte
	Attributes  map[string]string
}

type wireSchedule struct {
	Type                 ScheduleType `json:"type"`
	ExecutionTime        *int64       `json:"executionTime,omitempty"`
	Expression           string       `json:"expression,omitempty"`
	DelaySeconds         *int64       `json:"delaySeconds,omitempty"`
	Hour                 *int         `json:"hour,omitempty"`
	Minute               *int         `json:"minute,omitempty"`
	Zone                 string       `json:"zone,omitempty"`
	InitialExecutionTime *int64       `json:"initialExecutionTime,omitempty"`
}

type wirePayload struct {
	Data       []byte            `json:"data"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type wireRequest struct {
	Schedule    *wireSchedule `json:"schedule,omitempty"`
	TargetTopic string        `json:"targetTopic"`
	Payload     *wirePayload  `json:"payload"`
	TaskName    string        `json:"taskName,omitempty"`

	// Legacy flat shape: executionTime at the top level, no schedule
	// object. Treated as one-time.
	ExecutionTime *int64 `json:"executionTime,omitempty"`
}

// ParseScheduleRequest parses and validates a request body. All failures
// are ErrValidation (or ErrInvalidCronExpr, which callers treat the same).
func ParseScheduleRequest(raw []byte) (*ScheduleRequest, error) {
	var w wireRequest
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: malformed request: %v", ErrValidation, err)
	}

	if w.TargetTopic == "" {
		return nil, fmt.Errorf("%w: targetTopic is required", ErrValidation)
	}
	if !ValidTopicName(w.TargetTopic) {
		return nil, fmt.Errorf("%w: invalid topic name %q", ErrValidation, w.TargetTopic)
	}
	if w.Payload == nil || len(w.Payload.Data) == 0 {
		return nil, fmt.Errorf("%w: payload.data must be non-empty", ErrValidation)
	}

	ws := w.Schedule
	if ws == nil {
		if w.ExecutionTime == nil {
			return nil, fmt.Errorf("%w: schedule is required", ErrValidation)
		}
		ws = &wireSchedule{Type: ScheduleOneTime, ExecutionTime: w.ExecutionTime}
	}

	loc := time.UTC
	if ws.Zone != "" {
		var err error
		if loc, err = time.LoadLocation(ws.Zone); err != nil {
			return nil, fmt.Errorf("%w: unknown zone %q", ErrValidation, ws.Zone)
		}
	}

	var (
		sched Schedule
		err   error
	)
	switch ws.Type {
	case ScheduleOneTime:
		if ws.ExecutionTime == nil {
			return nil, fmt.Errorf("%w: one-time schedule requires executionTime", ErrValidation)
		}
		sched, err = NewOneTime(time.UnixMilli(*ws.ExecutionTime))
	case ScheduleCron:
		sched, err = NewCron(ws.Expression, loc)
	case ScheduleFixedDelay:
		if ws.DelaySeconds == nil {
			return nil, fmt.Errorf("%w: fixed-delay schedule requires delaySeconds", ErrValidation)
		}
		sched, err = NewFixedDelay(time.Duration(*ws.DelaySeconds) * time.Second)
	case ScheduleDaily:
		if ws.Hour == nil || ws.Minute == nil {
			return nil, fmt.Errorf("%w: daily schedule requires hour and minute", ErrValidation)
		}
		sched, err = NewDaily(*ws.Hour, *ws.Minute, loc)
	default:
		return nil, fmt.Errorf("%w: unknown schedule type %q", ErrValidation, ws.Type)
	}
	if err != nil {
		return nil, err
	}

	req := &ScheduleRequest{
		Schedule:   sched,
		TaskName:   w.TaskName,
		Topic:      w.TargetTopic,
		Data:       w.Payload.Data,
		Attributes: w.Payload.Attributes,
	}
	if ws.InitialExecutionTime != nil {
		if !sched.Recurring() {
			return nil, fmt.Errorf("%w: initialExecutionTime is only valid for recurring schedules", ErrValidation)
		}
		t := time.UnixMilli(*ws.InitialExecutionTime).UTC()
		req.InitialTime = &t
	}
	return req, nil
}

// Canonical re-emits the request in the canonical wire shape. Parsing the
// result yields an equivalent request (identity modulo whitespace and the
// legacy flat form).
func (r *ScheduleRequest) Canonical() ([]byte, error) {
	ws := &wireSchedule{Type: r.Schedule.Type}
	switch r.Schedule.Type {
	case ScheduleOneTime:
		ms := r.Schedule.FireAt.UnixMilli()
		ws.ExecutionTime = &ms
	case ScheduleCron:
		ws.Expression = r.Schedule.Expression
		ws.Zone = r.Schedule.location().String()
	case ScheduleFixedDelay:
		secs := int64(r.Schedule.Delay / time.Second)
		ws.DelaySeconds = &secs
	case ScheduleDaily:
		h, m := r.Schedule.Hour, r.Schedule.Minute
		ws.Hour, ws.Minute = &h, &m
		ws.Zone = r.Schedule.location().String()
	}
	if r.InitialTime != nil {
		ms := r.InitialTime.UnixMilli()
		ws.InitialExecutionTime = &ms
	}

	return json.MarshalIndent(wireRequest{
		Schedule:    ws,
		TargetTopic: r.Topic,
		Payload:     &wirePayload{Data: r.Data, Attributes: r.Attributes},
		TaskName:    r.TaskName,
	}, "", "  ")
}
