package feedback

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRatingPolicyValidate(t *testing.T) {
	table := []struct {
		name   string
		policy RatingPolicy
		err    error
	}{
		{name: "uniform", policy: UniformRating(3)},
		{name: "uniform lowest", policy: UniformRating(1)},
		{name: "uniform highest", policy: UniformRating(5)},
		{name: "uniform missing", policy: UniformRating(0), err: ErrInvalidRating},
		{name: "uniform out of range", policy: UniformRating(6), err: ErrInvalidRating},
		{name: "custom pending input", policy: PerRecordRating(nil)},
		{name: "custom", policy: PerRecordRating(map[int64]int{100: 2, 101: 5})},
		{name: "custom out of range", policy: PerRecordRating(map[int64]int{100: 2, 101: 9}), err: ErrInvalidRating},
		{name: "unknown mode", policy: RatingPolicy{Mode: "random"}, err: ErrUnknownMode},
	}

	for _, row := range table {
		err := row.policy.Validate()
		if row.err == nil {
			require.NoError(t, err, row.name)
			continue
		}
		require.ErrorIs(t, err, row.err, row.name)
	}
}

func TestRatingFor(t *testing.T) {
	uniform := UniformRating(4)
	require.False(t, uniform.NeedsInput())
	require.Equal(t, 4, uniform.RatingFor(100))
	require.Equal(t, 4, uniform.RatingFor(7))

	require.True(t, PerRecordRating(nil).NeedsInput())
	require.True(t, PerRecordRating(map[int64]int{}).NeedsInput())

	custom := PerRecordRating(map[int64]int{100: 3})
	require.False(t, custom.NeedsInput())
	require.Equal(t, 3, custom.RatingFor(100))
	require.Equal(t, DefaultRating, custom.RatingFor(101))
}

func TestRatingLabel(t *testing.T) {
	require.Equal(t, "Excellent", RatingLabel(DefaultRating))
	require.Equal(t, "Poor", RatingLabel(MaxRating))
	require.Equal(t, "", RatingLabel(0))
}
