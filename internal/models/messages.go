package models

import (
	"fmt"
	"strings"
	"time"
)

// TestResultKind is the outcome of a lab test.
type TestResultKind string

const (
	TestResultPositive TestResultKind = "positive"
	TestResultNegative TestResultKind = "negative"
	TestResultUnclear  TestResultKind = "unclear"
)

// ParseTestResultKind validates a lab outcome name.
func ParseTestResultKind(s string) (TestResultKind, error) {
	switch k := TestResultKind(strings.ToLower(strings.TrimSpace(s))); k {
	case TestResultPositive, TestResultNegative, TestResultUnclear:
		return k, nil
	default:
		return "", fmt.Errorf("unknown test result %q", s)
	}
}

// TestResult is a lab result delivered to the device. Type and
// AcknowledgementURL are passed through untouched.
type TestResult struct {
	Result             TestResultKind `json:"result"`
	TestTimestamp      time.Time      `json:"test_timestamp"`
	Type               string         `json:"type,omitempty"`
	AcknowledgementURL string         `json:"acknowledgement_url,omitempty"`
}

// DrawerMessageKind names a one-shot message for the presentation layer.
type DrawerMessageKind string

const (
	DrawerSymptomsButNotSymptomatic DrawerMessageKind = "symptoms_but_not_symptomatic"
	DrawerUnexposed                 DrawerMessageKind = "unexposed"
	DrawerPositiveTestResult        DrawerMessageKind = "positive_test_result"
	DrawerUnclearTestResult         DrawerMessageKind = "unclear_test_result"
	DrawerNegativeTestResult        DrawerMessageKind = "negative_test_result"
)

// DrawerMessage is delivered through the one-slot mailbox. Symptoms is only
// meaningful for DrawerNegativeTestResult, where the zero value means the
// negative result is unrelated to any recorded symptoms.
type DrawerMessage struct {
	Kind     DrawerMessageKind `json:"kind"`
	Symptoms Symptoms          `json:"symptoms"`
}

// Convenience constructors for drawer messages.
var (
	MessageSymptomsButNotSymptomatic = DrawerMessage{Kind: DrawerSymptomsButNotSymptomatic}
	MessageUnexposed                 = DrawerMessage{Kind: DrawerUnexposed}
	MessagePositiveTestResult        = DrawerMessage{Kind: DrawerPositiveTestResult}
	MessageUnclearTestResult         = DrawerMessage{Kind: DrawerUnclearTestResult}
)

// NegativeTestResultMessage builds a negative result message carrying symptoms.
// A result that does not relate to a symptom record and a record with an empty
// symptom set both carry zero Symptoms and are indistinguishable to the reader.
func NegativeTestResultMessage(symptoms Symptoms) DrawerMessage {
	return DrawerMessage{Kind: DrawerNegativeTestResult, Symptoms: symptoms}
}

// Local notification identifiers. Scheduling with an identifier replaces any
// pending notification with the same identifier.
const (
	AdviceChangedNotificationID = "adviceChangedNotificationIdentifier"
	DiagnosisNotificationID     = "Diagnosis"
	TestResultNotificationID    = "testResultNotificationIdentifier"
)

// Notification is the user-visible content of a local notification.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

var (
	AdviceChangedNotification = Notification{
		Title: "Your advice has changed",
		Body:  "Open the app to read the latest advice.",
	}
	DiagnosisNotification = Notification{
		Title: "How are you feeling today?",
		Body:  "Please open the app to update your symptoms and view your latest advice.",
	}
	TestResultNotification = Notification{
		Title: "Your test result has arrived",
		Body:  "Open the app to view your test result and what to do next.",
	}
)
