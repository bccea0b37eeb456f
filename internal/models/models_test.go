package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymptomsSetSemantics(t *testing.T) {
	a := NewSymptoms(SymptomCough, SymptomTemperature, SymptomCough)
	b := NewSymptoms(SymptomTemperature, SymptomCough)

	assert.Equal(t, a, b, "duplicates collapse and order is irrelevant")
	assert.True(t, a.HasTemperature())
	assert.True(t, a.Contains(SymptomCough))
	assert.False(t, a.Contains(SymptomAnosmia))
	assert.False(t, a.IsEmpty())
	assert.True(t, Symptoms(0).IsEmpty())
	assert.Equal(t, []string{"cough", "temperature"}, a.Names())
	assert.Equal(t, "[cough,temperature]", a.String())
}

func TestSymptomsJSON(t *testing.T) {
	s := NewSymptoms(SymptomAnosmia, SymptomTemperature)
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["anosmia","temperature"]`, string(data))

	var decoded Symptoms
	require.NoError(t, json.Unmarshal([]byte(`["Temperature", "anosmia", "anosmia"]`), &decoded))
	assert.Equal(t, s, decoded)

	var empty Symptoms = NewSymptoms(SymptomCough)
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	assert.True(t, empty.IsEmpty())

	assert.Error(t, json.Unmarshal([]byte(`["fever"]`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`"cough"`), &decoded))
}

func TestParseSymptomUnknown(t *testing.T) {
	_, err := ParseSymptom("headache")
	assert.Error(t, err)

	s, err := ParseSymptom(" COUGH ")
	require.NoError(t, err)
	assert.Equal(t, SymptomCough, s)
}

func TestStatusStateCodecRoundTrip(t *testing.T) {
	start := time.Date(2020, 4, 1, 6, 0, 0, 0, time.UTC)
	checkin := time.Date(2020, 4, 8, 7, 0, 0, 0, time.UTC)
	cough := NewSymptoms(SymptomCough)

	states := []StatusState{
		Ok{},
		Exposed{StartDate: start},
		Symptomatic{Symptoms: cough, StartDate: start, CheckinDate: checkin},
		ExposedSymptomatic{Symptoms: cough, StartDate: start, CheckinDate: checkin},
		ExposedSymptomatic{StartDate: start, CheckinDate: checkin},
		PositiveTestResult{Symptoms: cough, StartDate: start},
		PositiveTestResult{StartDate: start},
	}

	for _, state := range states {
		t.Run(string(state.Kind()), func(t *testing.T) {
			data, err := MarshalStatusState(state)
			require.NoError(t, err)

			decoded, err := UnmarshalStatusState(data)
			require.NoError(t, err)
			assert.True(t, StatesEqual(state, decoded), "round trip changed %#v into %#v", state, decoded)
		})
	}
}

func TestStatusStateEnvelopeShape(t *testing.T) {
	start := time.Date(2020, 4, 1, 6, 0, 0, 0, time.UTC)
	data, err := MarshalStatusState(Exposed{StartDate: start})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"exposed","start_date":"2020-04-01T06:00:00Z"}`, string(data))

	data, err = MarshalStatusState(Ok{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"ok"}`, string(data))
}

func TestUnmarshalStatusStateRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown kind":    `{"kind":"recovered"}`,
		"missing start":   `{"kind":"exposed"}`,
		"missing checkin": `{"kind":"symptomatic","symptoms":["cough"],"start_date":"2020-04-01T06:00:00Z"}`,
		"bad symptom":     `{"kind":"positive_test_result","symptoms":["fever"],"start_date":"2020-04-01T06:00:00Z"}`,
		"not json":        `kind=ok`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalStatusState([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestStatesEqual(t *testing.T) {
	utc := time.Date(2020, 4, 1, 6, 0, 0, 0, time.UTC)
	shifted := utc.In(time.FixedZone("UTC+2", 2*60*60))

	assert.True(t, StatesEqual(Exposed{StartDate: utc}, Exposed{StartDate: shifted}))
	assert.False(t, StatesEqual(Exposed{StartDate: utc}, Exposed{StartDate: utc.Add(time.Second)}))
	assert.False(t, StatesEqual(Ok{}, Exposed{StartDate: utc}))
	assert.False(t, StatesEqual(
		Symptomatic{Symptoms: NewSymptoms(SymptomCough), StartDate: utc, CheckinDate: utc},
		ExposedSymptomatic{Symptoms: NewSymptoms(SymptomCough), StartDate: utc, CheckinDate: utc},
	))
	assert.True(t, StatesEqual(nil, nil))
	assert.False(t, StatesEqual(Ok{}, nil))
}

func TestParseTestResultKind(t *testing.T) {
	k, err := ParseTestResultKind("Positive")
	require.NoError(t, err)
	assert.Equal(t, TestResultPositive, k)

	_, err = ParseTestResultKind("inconclusive")
	assert.Error(t, err)
}

func TestDrawerMessageJSON(t *testing.T) {
	msg := NegativeTestResultMessage(NewSymptoms(SymptomTemperature))
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"negative_test_result","symptoms":["temperature"]}`, string(data))

	var decoded DrawerMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestNegativeTestResultMessageEmptySymptoms(t *testing.T) {
	unrelated := NegativeTestResultMessage(0)
	assert.Equal(t, unrelated, NegativeTestResultMessage(NewSymptoms()))

	data, err := json.Marshal(unrelated)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"negative_test_result","symptoms":[]}`, string(data))
}
