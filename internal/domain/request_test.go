package domain_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/taskflare/pubsub-scheduler/internal/domain"
)

var b64 = base64.StdEncoding.EncodeToString

func TestParseScheduleRequest_CanonicalOneTime(t *testing.T) {
	fireAt := time.Date(2024, 7, 1, 15, 30, 0, 0, time.UTC)
	raw := fmt.Sprintf(`{
		"schedule": {"type": "one-time", "executionTime": %d},
		"targetTopic": "orders-topic",
		"payload": {"data": %q, "attributes": {"k": "v"}}
	}`, fireAt.UnixMilli(), b64([]byte("hello")))

	req, err := domain.ParseScheduleRequest([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Schedule.Type != domain.ScheduleOneTime || !req.Schedule.FireAt.Equal(fireAt) {
		t.Errorf("schedule: got %+v", req.Schedule)
	}
	if req.Topic != "orders-topic" {
		t.Errorf("topic: got %q", req.Topic)
	}
	if !bytes.Equal(req.Data, []byte("hello")) {
		t.Errorf("data: got %q", req.Data)
	}
	if req.Attributes["k"] != "v" {
		t.Errorf("attributes: got %v", req.Attributes)
	}
}

func TestParseScheduleRequest_LegacyFlatShapeIsOneTime(t *testing.T) {
	raw := fmt.Sprintf(`{
		"executionTime": 1719846000000,
		"targetTopic": "legacy-topic",
		"payload": {"data": %q}
	}`, b64([]byte("x")))

	req, err := domain.ParseScheduleRequest([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Schedule.Type != domain.ScheduleOneTime {
		t.Errorf("type: got %q, want one-time", req.Schedule.Type)
	}
	if req.Schedule.FireAt.UnixMilli() != 1719846000000 {
		t.Errorf("fireAt: got %d", req.Schedule.FireAt.UnixMilli())
	}
}

func TestParseScheduleRequest_NamedRecurringDaily(t *testing.T) {
	raw := fmt.Sprintf(`{
		"taskName": "daily-report",
		"schedule": {"type": "daily", "hour": 9, "minute": 0},
		"targetTopic": "reports",
		"payload": {"data": %q}
	}`, b64([]byte("r")))

	req, err := domain.ParseScheduleRequest([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.TaskName != "daily-report" {
		t.Errorf("taskName: got %q", req.TaskName)
	}
	if req.Schedule.Type != domain.ScheduleDaily || req.Schedule.Hour != 9 || req.Schedule.Minute != 0 {
		t.Errorf("schedule: got %+v", req.Schedule)
	}
}

func TestParseScheduleRequest_InitialExecutionTime(t *testing.T) {
	raw := fmt.Sprintf(`{
		"schedule": {"type": "fixed-delay", "delaySeconds": 60, "initialExecutionTime": 1719846000000},
		"targetTopic": "a-topic",
		"payload": {"data": %q}
	}`, b64([]byte("x")))

	req, err := domain.ParseScheduleRequest([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.InitialTime == nil || req.InitialTime.UnixMilli() != 1719846000000 {
		t.Errorf("initialTime: got %v", req.InitialTime)
	}
}

func TestParseScheduleRequest_Rejections(t *testing.T) {
	data := b64([]byte("x"))
	cases := map[string]string{
		"malformed json":      `{`,
		"missing topic":       fmt.Sprintf(`{"schedule": {"type": "daily", "hour": 1, "minute": 0}, "payload": {"data": %q}}`, data),
		"bad topic":           fmt.Sprintf(`{"schedule": {"type": "daily", "hour": 1, "minute": 0}, "targetTopic": "ab", "payload": {"data": %q}}`, data),
		"empty payload":       `{"schedule": {"type": "daily", "hour": 1, "minute": 0}, "targetTopic": "topic-x", "payload": {"data": ""}}`,
		"missing schedule":    fmt.Sprintf(`{"targetTopic": "topic-x", "payload": {"data": %q}}`, data),
		"unknown type":        fmt.Sprintf(`{"schedule": {"type": "weekly"}, "targetTopic": "topic-x", "payload": {"data": %q}}`, data),
		"hour out of range":   fmt.Sprintf(`{"schedule": {"type": "daily", "hour": 24, "minute": 0}, "targetTopic": "topic-x", "payload": {"data": %q}}`, data),
		"zero delay":          fmt.Sprintf(`{"schedule": {"type": "fixed-delay", "delaySeconds": 0}, "targetTopic": "topic-x", "payload": {"data": %q}}`, data),
		"bad zone":            fmt.Sprintf(`{"schedule": {"type": "daily", "hour": 1, "minute": 0, "zone": "Mars/Olympus"}, "targetTopic": "topic-x", "payload": {"data": %q}}`, data),
		"initial on one-time": fmt.Sprintf(`{"schedule": {"type": "one-time", "executionTime": 1719846000000, "initialExecutionTime": 1719846000000}, "targetTopic": "topic-x", "payload": {"data": %q}}`, data),
	}
	for name, raw := range cases {
		if _, err := domain.ParseScheduleRequest([]byte(raw)); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: want ErrValidation, got %v", name, err)
		}
	}
}

func TestParseScheduleRequest_InvalidCron(t *testing.T) {
	raw := fmt.Sprintf(`{
		"schedule": {"type": "cron", "expression": "99 * * * *"},
		"targetTopic": "topic-x",
		"payload": {"data": %q}
	}`, b64([]byte("x")))
	if _, err := domain.ParseScheduleRequest([]byte(raw)); !errors.Is(err, domain.ErrInvalidCronExpr) {
		t.Errorf("want ErrInvalidCronExpr, got %v", err)
	}
}

func TestCanonical_RoundTrip(t *testing.T) {
	initial := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	raws := []string{
		fmt.Sprintf(`{"schedule": {"type": "cron", "expression": "0 12 * * *"}, "targetTopic": "t-one", "payload": {"data": %q, "attributes": {"a": "1"}}, "taskName": "noon"}`, b64([]byte("payload"))),
		fmt.Sprintf(`{"schedule": {"type": "fixed-delay", "delaySeconds": 30, "initialExecutionTime": %d}, "targetTopic": "projects/p1/topics/t1", "payload": {"data": %q}}`, initial.UnixMilli(), b64([]byte("z"))),
		fmt.Sprintf(`{"schedule": {"type": "one-time", "executionTime": 1719846000000}, "targetTopic": "t-two", "payload": {"data": %q}}`, b64([]byte("y"))),
	}

	for _, raw := range raws {
		first, err := domain.ParseScheduleRequest([]byte(raw))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		canonical, err := first.Canonical()
		if err != nil {
			t.Fatalf("canonical: %v", err)
		}
		second, err := domain.ParseScheduleRequest(canonical)
		if err != nil {
			t.Fatalf("reparse canonical: %v", err)
		}

		if second.Schedule.Type != first.Schedule.Type ||
			second.Topic != first.Topic ||
			second.TaskName != first.TaskName ||
			!bytes.Equal(second.Data, first.Data) {
			t.Errorf("round trip mismatch:\nfirst:  %+v\nsecond: %+v", first, second)
		}
		probe := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
		n1, ok1 := first.Schedule.Next(probe)
		n2, ok2 := second.Schedule.Next(probe)
		if ok1 != ok2 || !n1.Equal(n2) {
			t.Errorf("round trip schedule mismatch: (%v,%v) vs (%v,%v)", n1, ok1, n2, ok2)
		}
	}
}

func TestValidTopicName(t *testing.T) {
	valid := []string{"orders", "a.b-c_d", "projects/my-proj/topics/my-topic", "Xyz"}
	invalid := []string{"", "ab", "9starts-with-digit", "projects//topics/t", "projects/p/queues/q", "has space"}

	for _, name := range valid {
		if !domain.ValidTopicName(name) {
			t.Errorf("ValidTopicName(%q) = false, want true", name)
		}
	}
	for _, name := range invalid {
		if domain.ValidTopicName(name) {
			t.Errorf("ValidTopicName(%q) = true, want false", name)
		}
	}
}
