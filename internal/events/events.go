// Package events defines the progress events a run streams to its client and the
// newline-delimited JSON encoding they travel in.
package events

import (
	"encoding/json"
	"fmt"
)

type Type string

const (
	TypeStatus      Type = "status"
	TypeLog         Type = "log"
	TypeNeedRatings Type = "need_ratings"
	TypeDone        Type = "done"
	TypeError       Type = "error"
)

type Step string

const (
	StepLogin    Step = "login"
	StepBatch    Step = "batch"
	StepSemester Step = "semester"
	StepConfig   Step = "config"
	StepPending  Step = "pending"
	StepSubmit   Step = "submit"
)

// Steps lists the steps of a run in the order they happen.
var Steps = []Step{StepLogin, StepBatch, StepSemester, StepConfig, StepPending, StepSubmit}

// Event is one of Status, Log, NeedRatings, Done or Error.
type Event interface {
	Type() Type
}

// Status reports progress of a step. Progress is nil for notices that carry no
// progress (a record that failed to submit).
type Status struct {
	Step      Step   `json:"step"`
	Progress  *int   `json:"progress,omitempty"`
	Message   string `json:"message"`
	Total     *int   `json:"total,omitempty"`
	Completed *int   `json:"completed,omitempty"`
}

type Log struct {
	Message string `json:"message"`
}

// Faculty is the identity of a pending record shown to the user when asking for ratings.
type Faculty struct {
	Id     int64  `json:"id"`
	Name   string `json:"name"`
	Course string `json:"course"`
}

type NeedRatings struct {
	Faculties []Faculty `json:"faculties"`
}

type Done struct {
	Logs []string `json:"logs"`
	// Failed counts the records that could not be submitted.
	Failed int `json:"failed,omitempty"`
}

type Error struct {
	Message string   `json:"message"`
	Logs    []string `json:"logs"`
}

func (Status) Type() Type      { return TypeStatus }
func (Log) Type() Type         { return TypeLog }
func (NeedRatings) Type() Type { return TypeNeedRatings }
func (Done) Type() Type        { return TypeDone }
func (Error) Type() Type       { return TypeError }

// Int returns a pointer to n, for the optional fields of Status.
func Int(n int) *int {
	return &n
}

func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeStatus, alias(s)})
}

func (l Log) MarshalJSON() ([]byte, error) {
	type alias Log
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeLog, alias(l)})
}

func (n NeedRatings) MarshalJSON() ([]byte, error) {
	type alias NeedRatings
	if n.Faculties == nil {
		n.Faculties = []Faculty{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeNeedRatings, alias(n)})
}

func (d Done) MarshalJSON() ([]byte, error) {
	type alias Done
	if d.Logs == nil {
		d.Logs = []string{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeDone, alias(d)})
}

func (e Error) MarshalJSON() ([]byte, error) {
	type alias Error
	if e.Logs == nil {
		e.Logs = []string{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeError, alias(e)})
}

// Encode renders an event as a single NDJSON line, including the trailing newline.
func Encode(e Event) ([]byte, error) {
	line, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// Decode parses one NDJSON line back into its concrete event type.
func Decode(line []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	err := json.Unmarshal(line, &head)
	if err != nil {
		return nil, err
	}

	var out Event
	switch head.Type {
	case TypeStatus:
		var e Status
		err = json.Unmarshal(line, &e)
		out = e
	case TypeLog:
		var e Log
		err = json.Unmarshal(line, &e)
		out = e
	case TypeNeedRatings:
		var e NeedRatings
		err = json.Unmarshal(line, &e)
		out = e
	case TypeDone:
		var e Done
		err = json.Unmarshal(line, &e)
		out = e
	case TypeError:
		var e Error
		err = json.Unmarshal(line, &e)
		out = e
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
