package flightspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 14, 9, 15, 0, 0, time.UTC)

func testParser() *Parser {
	return NewParser(func() time.Time { return fixedNow })
}

func at(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []FlightSpec
	}{
		{"iso minutes", "BA698@2026-01-03T14:30", []FlightSpec{{"BA698", at(2026, 1, 3, 14, 30, 0)}}},
		{"iso seconds", "BA698@2026-01-03T14:30:15", []FlightSpec{{"BA698", at(2026, 1, 3, 14, 30, 15)}}},
		{"iso date only", "UA 12@2026-01-03", []FlightSpec{{"UA12", at(2026, 1, 3, 0, 0, 0)}}},
		{"natural date and time", "BA698 03/01/26 14:50", []FlightSpec{{"BA698", at(2026, 1, 3, 14, 50, 0)}}},
		{"natural date four digit year", "BA698 03/01/2026", []FlightSpec{{"BA698", at(2026, 1, 3, 0, 0, 0)}}},
		{"time only uses today", "BA698 14:50", []FlightSpec{{"BA698", at(2026, 10, 14, 14, 50, 0)}}},
		{"time followed by a date is bare", "BA698 14:50 03/01/26", []FlightSpec{{"BA698", time.Time{}}}},
		{"time followed by other text keeps today", "BA698 14:50 gate 3", []FlightSpec{{"BA698", at(2026, 10, 14, 14, 50, 0)}}},
		{"bare with hyphen", "flying LH-400 today", []FlightSpec{{"LH400", time.Time{}}}},
		{"bare digits", "flight 1234", []FlightSpec{{"1234", time.Time{}}}},
		{"invalid iso date degrades", "BA698@2026-02-30", []FlightSpec{{"BA698", time.Time{}}}},
		{"invalid natural date degrades", "BA698 31/02/26", []FlightSpec{{"BA698", time.Time{}}}},
		{"invalid time degrades", "BA698 25:10", []FlightSpec{{"BA698", time.Time{}}}},
		{"lowercase normalized", "ba698", []FlightSpec{{"BA698", time.Time{}}}},
		{
			"multiple mentions in text order",
			"DL1 then AA100@2026-03-04T05:06 then DL1",
			[]FlightSpec{
				{"DL1", time.Time{}},
				{"AA100", at(2026, 3, 4, 5, 6, 0)},
				{"DL1", time.Time{}},
			},
		},
		{"nothing recognized", "hello there", []FlightSpec{}},
	}

	p := testParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Parse(tt.text)
			require.Len(t, got, len(tt.want), "specs: %v", got)
			for i := range tt.want {
				assert.True(t, tt.want[i].Equal(got[i]), "spec %d: want %v, got %v", i, tt.want[i], got[i])
			}
		})
	}
}

func TestParseIsRepeatable(t *testing.T) {
	p := testParser()
	text := "BA698 03/01/26 14:50, LH400 and 1234"
	first := p.Parse(text)
	second := p.Parse(text)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, first[i].Equal(second[i]))
	}
}

func TestFirst(t *testing.T) {
	p := testParser()

	spec, ok := p.First("  KL 1001@2026-05-01T08:00  ")
	require.True(t, ok)
	assert.Equal(t, "KL1001@2026-05-01T08:00:00", spec.String())

	_, ok = p.First("??")
	assert.False(t, ok)
}

func TestStringRoundTrip(t *testing.T) {
	specs := []FlightSpec{
		{"BA698", at(2026, 1, 3, 14, 30, 0)},
		{"UA12", at(2027, 12, 31, 23, 59, 59)},
		{"1234", at(2026, 6, 1, 0, 0, 1)},
	}
	p := testParser()
	for _, spec := range specs {
		s := spec.String()

		parsed, ok := p.First(s)
		require.True(t, ok, s)
		assert.Equal(t, s, parsed.String())

		back, err := ParseSpec(s, time.UTC)
		require.NoError(t, err)
		assert.True(t, spec.Equal(back), "%s != %s", spec, back)
	}
}

func TestStringWithoutInstant(t *testing.T) {
	assert.Equal(t, "BA698", FlightSpec{FlightNumber: "BA698"}.String())
}

func TestParseSpecRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "BA 698@yesterday", "B/A"} {
		_, err := ParseSpec(s, time.UTC)
		assert.ErrorIs(t, err, ErrInvalidSpec, s)
	}
}
