// Package models defines the status, symptom and message types shared across StatusPipe.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Symptom is a self-reported symptom tag.
type Symptom uint8

const (
	SymptomTemperature Symptom = iota
	SymptomCough
	SymptomAnosmia
	SymptomSneeze
	SymptomNausea
)

var symptomNames = map[Symptom]string{
	SymptomTemperature: "temperature",
	SymptomCough:       "cough",
	SymptomAnosmia:     "anosmia",
	SymptomSneeze:      "sneeze",
	SymptomNausea:      "nausea",
}

func (s Symptom) String() string {
	if name, ok := symptomNames[s]; ok {
		return name
	}
	return fmt.Sprintf("symptom(%d)", uint8(s))
}

// ParseSymptom converts a symptom name (case-insensitive) into a Symptom.
func ParseSymptom(name string) (Symptom, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for s, n := range symptomNames {
		if n == needle {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown symptom %q", name)
}

// Symptoms is a set of Symptom values. The zero value is the empty set and is
// also used where a state carries no symptom record.
type Symptoms uint8

// NewSymptoms builds a set; duplicates collapse.
func NewSymptoms(symptoms ...Symptom) Symptoms {
	var set Symptoms
	for _, s := range symptoms {
		set |= 1 << s
	}
	return set
}

// ParseSymptoms builds a set from symptom names.
func ParseSymptoms(names ...string) (Symptoms, error) {
	var set Symptoms
	for _, name := range names {
		s, err := ParseSymptom(name)
		if err != nil {
			return 0, err
		}
		set = set.With(s)
	}
	return set, nil
}

func (s Symptoms) With(symptom Symptom) Symptoms { return s | 1<<symptom }
func (s Symptoms) Contains(symptom Symptom) bool { return s&(1<<symptom) != 0 }
func (s Symptoms) IsEmpty() bool                 { return s == 0 }
func (s Symptoms) HasTemperature() bool          { return s.Contains(SymptomTemperature) }

// List returns the members ordered by name.
func (s Symptoms) List() []Symptom {
	var out []Symptom
	for symptom := range symptomNames {
		if s.Contains(symptom) {
			out = append(out, symptom)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Names returns the member names, sorted.
func (s Symptoms) Names() []string {
	list := s.List()
	names := make([]string, 0, len(list))
	for _, symptom := range list {
		names = append(names, symptom.String())
	}
	return names
}

func (s Symptoms) String() string {
	return "[" + strings.Join(s.Names(), ",") + "]"
}

func (s Symptoms) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *Symptoms) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("symptoms must be a list of names: %w", err)
	}
	set, err := ParseSymptoms(names...)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
