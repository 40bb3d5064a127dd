package feedback

import (
	"fmt"
)

type Mode string

const (
	ModeSetAll Mode = "set-all"
	ModeCustom Mode = "custom"
)

const (
	MinRating = 1
	MaxRating = 5
	// DefaultRating applies to records missing from a per-record mapping, it is
	// the most favorable mark on the portal's scale.
	DefaultRating = 1
)

var ratingLabels = map[int]string{
	1: "Excellent",
	2: "Very Good",
	3: "Good",
	4: "Fair",
	5: "Poor",
}

// RatingLabel is the portal's caption for a rating value.
func RatingLabel(value int) string {
	return ratingLabels[value]
}

var (
	ErrUnknownMode   = fmt.Errorf("Feedback mode must be \"set-all\" or \"custom\".")
	ErrInvalidRating = fmt.Errorf("Rating must be an integer between %d and %d.", MinRating, MaxRating)
)

// RatingPolicy decides the rating applied to each record of a run.
type RatingPolicy struct {
	Mode    Mode
	Uniform int
	// PerRecord maps record ids to ratings, in custom mode.
	PerRecord map[int64]int
}

func UniformRating(value int) RatingPolicy {
	return RatingPolicy{Mode: ModeSetAll, Uniform: value}
}

func PerRecordRating(ratings map[int64]int) RatingPolicy {
	return RatingPolicy{Mode: ModeCustom, PerRecord: ratings}
}

func validRating(value int) bool {
	return value >= MinRating && value <= MaxRating
}

func (p RatingPolicy) Validate() error {
	switch p.Mode {
	case ModeSetAll:
		if !validRating(p.Uniform) {
			return ErrInvalidRating
		}
	case ModeCustom:
		for id, value := range p.PerRecord {
			if !validRating(value) {
				return fmt.Errorf("%w (record %d)", ErrInvalidRating, id)
			}
		}
	default:
		return ErrUnknownMode
	}
	return nil
}

// NeedsInput is true when per-record ratings were asked for but not supplied yet.
func (p RatingPolicy) NeedsInput() bool {
	return p.Mode == ModeCustom && len(p.PerRecord) == 0
}

func (p RatingPolicy) RatingFor(recordId int64) int {
	if p.Mode == ModeSetAll {
		return p.Uniform
	}
	value, ok := p.PerRecord[recordId]
	if !ok {
		return DefaultRating
	}
	return value
}
