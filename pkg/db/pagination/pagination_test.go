package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 4, 10, 11, 12, 123456000, time.UTC)
	token, err := EncodeCursor(NewCursor(42, at))
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	require.NotNil(t, cursor)

	id, createdAt, err := cursor.Position()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.True(t, at.Equal(createdAt))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("not-base64!!")
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	cursor, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestBuildCursorPageInfo(t *testing.T) {
	one, two, three := 1, 2, 3
	rows := []*int{&one, &two, &three}

	kept, info := BuildCursorPageInfo(rows, 2, func(v *int) string { return "c" })
	assert.Len(t, kept, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, "c", info.NextPageToken)

	kept, info = BuildCursorPageInfo(rows, 5, func(v *int) string { return "c" })
	assert.Len(t, kept, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestNormalizeSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, NormalizeSize(0))
	assert.Equal(t, MaxPageSize, NormalizeSize(1000))
	assert.Equal(t, 7, NormalizeSize(7))
}
