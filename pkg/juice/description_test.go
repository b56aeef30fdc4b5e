package juice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltFreq07/libjuice/internal/ice"
)

func TestCandidateLineRoundTrip(t *testing.T) {
	c := CandidateLine{
		Foundation: "1",
		Component:  1,
		Priority:   2130706431,
		Address:    net.ParseIP("192.0.2.1"),
		Port:       54321,
		Type:       ice.CandidateTypeHost,
	}
	line := c.String()
	assert.Equal(t, "1 1 UDP 2130706431 192.0.2.1 54321 typ host", line)

	parsed, err := ParseCandidateLine(line)
	require.NoError(t, err)
	assert.Equal(t, c.Foundation, parsed.Foundation)
	assert.Equal(t, c.Component, parsed.Component)
	assert.Equal(t, c.Priority, parsed.Priority)
	assert.True(t, c.Address.Equal(parsed.Address))
	assert.Equal(t, c.Port, parsed.Port)
	assert.Equal(t, c.Type, parsed.Type)
}

func TestCandidateLineRoundTripWithRelated(t *testing.T) {
	c := CandidateLine{
		Foundation:     "2",
		Component:      1,
		Priority:       1694498815,
		Address:        net.ParseIP("203.0.113.9"),
		Port:           51000,
		Type:           ice.CandidateTypeRelay,
		RelatedAddress: net.ParseIP("198.51.100.2"),
		RelatedPort:    40000,
	}
	parsed, err := ParseCandidateLine(c.String())
	require.NoError(t, err)
	assert.True(t, c.RelatedAddress.Equal(parsed.RelatedAddress))
	assert.Equal(t, c.RelatedPort, parsed.RelatedPort)
}

func TestParseCandidateLineRejectsTCP(t *testing.T) {
	_, err := ParseCandidateLine("1 1 TCP 2130706431 192.0.2.1 54321 typ host")
	assert.Error(t, err)
}

func TestParseCandidateLineRejectsShortLine(t *testing.T) {
	_, err := ParseCandidateLine("1 1 UDP")
	assert.Error(t, err)
}

func TestDescriptionRoundTrip(t *testing.T) {
	d := Description{
		UFrag: "ufragval",
		Pwd:   "pwdvalpwdvalpwdvalpwdval",
		Candidates: []CandidateLine{
			{Foundation: "1", Component: 1, Priority: 2130706431, Address: net.ParseIP("192.0.2.1"), Port: 54321, Type: ice.CandidateTypeHost},
		},
		EndOfCandidates: true,
	}
	text := d.String()

	parsed, err := ParseDescription(text)
	require.NoError(t, err)
	assert.Equal(t, d.UFrag, parsed.UFrag)
	assert.Equal(t, d.Pwd, parsed.Pwd)
	require.Len(t, parsed.Candidates, 1)
	assert.Equal(t, d.Candidates[0].Foundation, parsed.Candidates[0].Foundation)
	assert.True(t, parsed.EndOfCandidates)
}

func TestParseDescriptionIgnoresUnknownKeys(t *testing.T) {
	text := "ice-ufrag:abc\nice-pwd:defdefdefdefdefdefdefd\nx-future-extension:whatever\n"
	parsed, err := ParseDescription(text)
	require.NoError(t, err)
	assert.Equal(t, "abc", parsed.UFrag)
}

func TestParseDescriptionRejectsMalformedLine(t *testing.T) {
	_, err := ParseDescription("not-a-key-value-line\n")
	assert.Error(t, err)
}

func TestFromCandidateAndBackPreservesFields(t *testing.T) {
	c := ice.Candidate{
		Type:       ice.CandidateTypeServerReflexive,
		Foundation: "3",
		Component:  1,
		Address:    net.ParseIP("203.0.113.5"),
		Port:       12345,
		Priority:   1677721855,
	}
	line := FromCandidate(c)
	back := line.Candidate()
	assert.Equal(t, c.Type, back.Type)
	assert.Equal(t, c.Foundation, back.Foundation)
	assert.True(t, c.Address.Equal(back.Address))
	assert.Equal(t, c.Port, back.Port)
	assert.Equal(t, c.Priority, back.Priority)
}
