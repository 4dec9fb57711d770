package tag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineRoundTrip(t *testing.T) {
	tg := Tag{"type": "denylist", "source": "cloudflare", "name": "a"}
	line, err := EncodeLine(10, 20, tg)
	require.NoError(t, err)

	s, e, got, err := DecodeLine(line)
	require.NoError(t, err)
	require.Equal(t, uint32(10), s)
	require.Equal(t, uint32(20), e)
	require.Equal(t, "denylist", got.Type())
	require.Equal(t, "cloudflare", got.Source())
}

func TestLineQuotingWithPipeInJSON(t *testing.T) {
	tg := Tag{"type": "denylist", "source": "x", "name": "a|b"}
	line, err := EncodeLine(1, 2, tg)
	require.NoError(t, err)
	require.Contains(t, line, "~")

	_, _, got, err := DecodeLine(line)
	require.NoError(t, err)
	require.Equal(t, "a|b", got["name"])
}

func TestMemberRoundTrip(t *testing.T) {
	p := Payload{}
	p.Add(Tag{"type": "denylist", "source": "cloudflare", "name": "a"})
	p.Add(Tag{"type": "asn", "source": "maxmind_lite", "name": "Example Org"})

	r := Record{Start: 100, End: 200, Payload: p}
	m, err := r.Member()
	require.NoError(t, err)

	got, err := ParseMember(m)
	require.NoError(t, err)
	require.Equal(t, r.Start, got.Start)
	require.Equal(t, r.End, got.End)
	require.Len(t, got.Payload["denylist"], 1)
	require.Len(t, got.Payload["asn"], 1)
	require.True(t, got.Contains(150))
	require.False(t, got.Contains(201))
}

func TestTagValidate(t *testing.T) {
	require.ErrorIs(t, Tag{}.Validate(), ErrMissingType)
	require.ErrorIs(t, Tag{"type": "x"}.Validate(), ErrMissingSource)
	require.NoError(t, Tag{"type": "x", "source": "y"}.Validate())
}
