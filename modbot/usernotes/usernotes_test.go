package usernotes

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateStore(numUsers, numNotes int) *Store {
	s := NewStore()
	s.Moderators = []string{"modA", "modB", "modC"}
	s.Warnings = []string{"", WarningWarn, WarningTempBan, WarningPermBan}
	links := []string{
		"https://www.reddit.com/comments/abc123/_/def456",
		"https://www.reddit.com/comments/xyz9",
		"https://www.reddit.com/message/messages/m1q2",
		"https://example.com/not-a-permalink",
		"",
	}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for u := 0; u < numUsers; u++ {
		name := fmt.Sprintf("user%d", u)
		for n := 0; n < numNotes; n++ {
			s.Users[name] = append(s.Users[name], Note{
				Text:      fmt.Sprintf("note %d for %s", n, name),
				Time:      base.Add(-time.Duration(u*numNotes+n) * time.Hour),
				Moderator: s.Moderators[(u+n)%len(s.Moderators)],
				Link:      links[(u*7+n)%len(links)],
				Warning:   s.Warnings[(u+n)%len(s.Warnings)],
			})
		}
	}
	return s
}

func TestRoundTrip(t *testing.T) {
	for _, size := range [][2]int{{0, 0}, {1, 1}, {5, 3}, {40, 12}} {
		t.Run(fmt.Sprintf("%dx%d", size[0], size[1]), func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			s := generateStore(size[0], size[1])
			raw, err := Encode(s)
			require.NoError(err)

			out, err := Decode(raw)
			require.NoError(err)
			assert.Equal(SchemaVersion, out.Version)
			assert.Equal(s.Moderators, out.Moderators)
			assert.Equal(s.Warnings, out.Warnings)
			assert.Equal(len(s.Users), len(out.Users))
			for name, notes := range s.Users {
				assert.Equal(notes, out.Users[name], name)
			}
		})
	}
}

func TestEncodeInternsNames(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := NewStore()
	s.Moderators = []string{"modA"}
	s.AddNote("someone", Note{Text: "first", Time: time.Unix(1000, 0).UTC(), Moderator: "modA", Warning: WarningWarn})
	s.AddNote("someone", Note{Text: "second", Time: time.Unix(2000, 0).UTC(), Moderator: "modNew", Warning: WarningTempBan})

	raw, err := Encode(s)
	require.NoError(err)
	assert.Equal([]string{"modA", "modNew"}, s.Moderators)
	assert.Equal([]string{WarningTempBan, WarningWarn}, s.Warnings)

	out, err := Decode(raw)
	require.NoError(err)
	notes := out.Notes("someone")
	require.Len(notes, 2)
	// most recent first
	assert.Equal("second", notes[0].Text)
	assert.Equal("modNew", notes[0].Moderator)
	assert.Equal(KindTempBan, notes[0].Kind())
	assert.Equal(KindWarn, notes[1].Kind())
}

func encodeRaw(t *testing.T, version int, users []string, warnings []*string, blob map[string]wireUser) []byte {
	plain, err := json.Marshal(blob)
	require.NoError(t, err)
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err = zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	raw, err := json.Marshal(wireDoc{
		Version:   version,
		Constants: wireConstants{Users: users, Warnings: warnings},
		Blob:      base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	require.NoError(t, err)
	return raw
}

func TestDecodeErrors(t *testing.T) {
	assert := assert.New(t)

	ban := "ban"
	blob := map[string]wireUser{"u": {Notes: []wireNote{{Text: "x", Time: 1, Moderator: 0, Warning: 1}}}}

	_, err := Decode(encodeRaw(t, 5, []string{"m"}, []*string{nil, &ban}, blob))
	assert.ErrorIs(err, ErrUnsupportedVersion)

	_, err = Decode(encodeRaw(t, SchemaVersion, []string{}, []*string{nil, &ban}, blob))
	assert.ErrorIs(err, ErrCorruptIndex)

	_, err = Decode(encodeRaw(t, SchemaVersion, []string{"m"}, []*string{nil}, blob))
	assert.ErrorIs(err, ErrCorruptIndex)

	_, err = Decode([]byte(`{"ver":6,"constants":{"users":[],"warnings":[]},"blob":"!!!"}`))
	assert.Error(err)

	// null warning entries are tolerated
	s, err := Decode(encodeRaw(t, SchemaVersion, []string{"m"}, []*string{nil, &ban}, blob))
	assert.NoError(err)
	assert.Equal([]string{"", "ban"}, s.Warnings)
	assert.Equal(KindTempBan, s.Notes("u")[0].Kind())
}

func TestLinkCompaction(t *testing.T) {
	assert := assert.New(t)

	recognized := map[string]string{
		"https://www.reddit.com/comments/abc123/_/def456": "l,abc123,def456",
		"https://www.reddit.com/comments/abc123":          "l,abc123",
		"https://www.reddit.com/message/messages/m9x":     "m,m9x",
	}
	for link, token := range recognized {
		assert.Equal(token, CompactLink(link))
		assert.Equal(link, ExpandLink(CompactLink(link)))
	}

	passthrough := []string{
		"",
		"https://www.reddit.com/r/Competitiveoverwatch/comments/ihdvix/test_post_please_ignore/g2zjjdo/",
		"/r/Competitiveoverwatch/comments/ihdvix/test_post_please_ignore/g2zjjdo/",
		"https://www.reddit.com/comments/abc123/",
		"https://example.com/comments/abc",
		"https://www.reddit.com/user/someone",
		"not a link",
		"l,",
		"l,a,b,c",
		"m,BAD ID",
		"x,abc",
	}
	for _, s := range passthrough {
		assert.Equal(s, ExpandLink(s), s)
		assert.Equal(s, CompactLink(s), s)
	}
}

func TestCanonicalLink(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("https://www.reddit.com/comments/ihdvix/_/g2zjjdo", CanonicalLink("/r/Competitiveoverwatch/comments/ihdvix/test_post_please_ignore/g2zjjdo/"))
	assert.Equal("https://www.reddit.com/comments/ihdvix", CanonicalLink("https://www.reddit.com/r/Competitiveoverwatch/comments/ihdvix/test_post_please_ignore/"))
	assert.Equal("https://www.reddit.com/comments/ihdvix", CanonicalLink("/r/Competitiveoverwatch/comments/ihdvix/"))
	assert.Equal("https://www.reddit.com/user/someone", CanonicalLink("/user/someone"))
	assert.Equal("https://example.com/r/x/comments/abc/", CanonicalLink("https://example.com/r/x/comments/abc/"))
	assert.Equal("", CanonicalLink(""))

	assert.Equal("l,ihdvix,g2zjjdo", CompactLink(CanonicalLink("/r/Competitiveoverwatch/comments/ihdvix/test_post_please_ignore/g2zjjdo/")))
}

func TestRoundTripCommunityPermalinks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	links := []string{
		"https://www.reddit.com/r/test/comments/abc123/some_title/def456/",
		"/r/test/comments/abc123/some_title/",
		CanonicalLink("/r/test/comments/abc123/some_title/def456/"),
	}
	s := NewStore()
	for i, link := range links {
		s.AddNote("someone", Note{
			Text:      fmt.Sprintf("note %d", i),
			Time:      time.Unix(int64(1000*(i+1)), 0).UTC(),
			Moderator: "modA",
			Link:      link,
			Warning:   WarningWarn,
		})
	}

	raw, err := Encode(s)
	require.NoError(err)
	out, err := Decode(raw)
	require.NoError(err)
	assert.Equal(s.Notes("someone"), out.Notes("someone"))
}
