package status

import (
	"time"

	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/BTreeMap/StatusPipe/internal/timepolicy"
)

const (
	symptomaticIsolationDays = 7
	exposedIsolationDays     = 14
	exposureExpiryDays       = 13
)

type effectKind string

const (
	effectSchedule effectKind = "schedule"
	effectCancel   effectKind = "cancel"
	effectUpload   effectKind = "upload"
	effectPost     effectKind = "mailbox"
)

// effect is one collaborator call produced by a transition. Effects run in
// order after the new state has been saved.
type effect struct {
	kind         effectKind
	id           string
	fireAt       time.Time
	notification models.Notification
	from         time.Time
	message      models.DrawerMessage
}

func schedule(id string, at time.Time, n models.Notification) effect {
	return effect{kind: effectSchedule, id: id, fireAt: at, notification: n}
}

func cancel(id string) effect {
	return effect{kind: effectCancel, id: id}
}

func upload(from time.Time) effect {
	return effect{kind: effectUpload, from: from}
}

func post(msg models.DrawerMessage) effect {
	return effect{kind: effectPost, message: msg}
}

// outcome is the result of a transition: the next state plus side effects.
type outcome struct {
	next    models.StatusState
	effects []effect
}

func stay(current models.StatusState, effects ...effect) outcome {
	return outcome{next: current, effects: effects}
}

func move(next models.StatusState, effects ...effect) outcome {
	return outcome{next: next, effects: effects}
}

func adviceChanged(now time.Time) effect {
	return schedule(models.AdviceChangedNotificationID, now, models.AdviceChangedNotification)
}

func diagnosisAt(at time.Time) effect {
	return schedule(models.DiagnosisNotificationID, at, models.DiagnosisNotification)
}

// All transition functions receive instants already converted to the
// machine's location.

func onExposed(current models.StatusState, now time.Time) outcome {
	switch current.(type) {
	case models.Ok:
		return move(models.Exposed{StartDate: now}, adviceChanged(now))
	default:
		return stay(current)
	}
}

func onUnexposed(current models.StatusState, now time.Time) outcome {
	switch current.(type) {
	case models.Exposed:
		return move(models.Ok{}, post(models.MessageUnexposed), adviceChanged(now))
	default:
		return stay(current)
	}
}

func onSelfDiagnose(current models.StatusState, symptoms models.Symptoms, start, now time.Time) outcome {
	switch s := current.(type) {
	case models.Ok:
		windowEnd := timepolicy.AddDays(start, symptomaticIsolationDays)
		threshold := timepolicy.Later(windowEnd, now)
		if !windowEnd.After(now) && !symptoms.HasTemperature() {
			return move(models.Ok{}, post(models.MessageSymptomsButNotSymptomatic), upload(start))
		}
		checkin := timepolicy.EarliestSevenAM(threshold)
		return move(
			models.Symptomatic{Symptoms: symptoms, StartDate: start, CheckinDate: checkin},
			diagnosisAt(checkin),
			upload(start),
		)
	case models.Exposed:
		threshold := timepolicy.Later(timepolicy.AddDays(s.StartDate, exposedIsolationDays), now)
		checkin := timepolicy.EarliestSevenAM(threshold)
		return move(
			models.ExposedSymptomatic{Symptoms: symptoms, StartDate: s.StartDate, CheckinDate: checkin},
			diagnosisAt(checkin),
			upload(start),
		)
	default:
		return stay(current)
	}
}

func onCheckin(current models.StatusState, symptoms models.Symptoms, now time.Time) outcome {
	var start time.Time
	exposedWindow := false
	switch s := current.(type) {
	case models.Symptomatic:
		start = s.StartDate
	case models.ExposedSymptomatic:
		start = s.StartDate
		exposedWindow = now.Before(timepolicy.AddDays(s.StartDate, exposedIsolationDays))
	default:
		return stay(current)
	}

	if !symptoms.HasTemperature() {
		return move(models.Ok{}, cancel(models.DiagnosisNotificationID), post(models.MessageSymptomsButNotSymptomatic))
	}

	checkin := timepolicy.TomorrowSevenAM(now)
	var next models.StatusState = models.Symptomatic{Symptoms: symptoms, StartDate: start, CheckinDate: checkin}
	if exposedWindow {
		next = models.ExposedSymptomatic{Symptoms: symptoms, StartDate: start, CheckinDate: checkin}
	}
	return move(next, cancel(models.DiagnosisNotificationID), diagnosisAt(checkin))
}

func onTick(current models.StatusState, now time.Time) outcome {
	s, ok := current.(models.Exposed)
	if !ok {
		return stay(current)
	}
	expiry := timepolicy.EarliestSevenAM(timepolicy.AddDays(s.StartDate, exposureExpiryDays))
	if now.Before(expiry) {
		return stay(current)
	}
	return move(models.Ok{})
}

func onReceived(current models.StatusState, result models.TestResult, now time.Time) outcome {
	notify := schedule(models.TestResultNotificationID, now, models.TestResultNotification)
	tested := result.TestTimestamp

	switch result.Result {
	case models.TestResultPositive:
		switch s := current.(type) {
		case models.Symptomatic:
			return move(
				models.PositiveTestResult{Symptoms: s.Symptoms, StartDate: timepolicy.Earlier(s.StartDate, tested)},
				notify, cancel(models.DiagnosisNotificationID), post(models.MessagePositiveTestResult),
			)
		case models.ExposedSymptomatic:
			return move(
				models.PositiveTestResult{Symptoms: s.Symptoms, StartDate: timepolicy.Earlier(s.StartDate, tested)},
				notify, cancel(models.DiagnosisNotificationID), post(models.MessagePositiveTestResult),
			)
		case models.PositiveTestResult:
			return move(
				models.PositiveTestResult{Symptoms: s.Symptoms, StartDate: timepolicy.Earlier(s.StartDate, tested)},
				notify, post(models.MessagePositiveTestResult),
			)
		default:
			return move(models.PositiveTestResult{StartDate: tested}, notify, post(models.MessagePositiveTestResult))
		}

	case models.TestResultNegative:
		switch s := current.(type) {
		case models.Symptomatic:
			return stay(current, notify, post(negativeFor(s.Symptoms, s.StartDate, tested)))
		case models.ExposedSymptomatic:
			return stay(current, notify, post(negativeFor(s.Symptoms, s.StartDate, tested)))
		case models.PositiveTestResult:
			msg := post(models.NegativeTestResultMessage(0))
			if s.StartDate.Before(tested) {
				return move(models.Ok{}, notify, msg)
			}
			return stay(current, notify, msg)
		default:
			return stay(current, notify, post(models.NegativeTestResultMessage(0)))
		}

	default:
		return stay(current, notify, post(models.MessageUnclearTestResult))
	}
}

// negativeFor carries the recorded symptoms only when their onset predates
// the test.
func negativeFor(symptoms models.Symptoms, start, tested time.Time) models.DrawerMessage {
	if start.Before(tested) {
		return models.NegativeTestResultMessage(symptoms)
	}
	return models.NegativeTestResultMessage(0)
}
