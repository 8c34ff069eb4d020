package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wireapp/kalium-sub009/ids"
)

func TestStatusNeverRegresses(t *testing.T) {
	s := Status{Kind: StatusDelivered}
	_, err := s.Advance(Status{Kind: StatusSent})
	require.Error(t, err)
	_, err = s.Advance(Status{Kind: StatusPending})
	require.Error(t, err)

	advanced, err := s.Advance(Status{Kind: StatusRead, ReadCount: 1})
	require.Nil(t, err)
	require.Equal(t, StatusRead, advanced.Kind)
	require.Equal(t, uint64(1), advanced.ReadCount)
}

func TestStatusCanFailAfterSent(t *testing.T) {
	s := Status{Kind: StatusSent}
	advanced, err := s.Advance(Status{Kind: StatusFailed})
	require.Nil(t, err)
	require.Equal(t, StatusFailed, advanced.Kind)

	s = Status{Kind: StatusDelivered}
	_, err = s.Advance(Status{Kind: StatusFailedRemotely})
	require.Error(t, err)
}

func TestStatusReadCountOnlyGrows(t *testing.T) {
	s := Status{Kind: StatusRead, ReadCount: 3}
	advanced, err := s.Advance(Status{Kind: StatusRead, ReadCount: 1})
	require.Nil(t, err)
	require.Equal(t, uint64(3), advanced.ReadCount)
}

func TestStatusCorrectOverrides(t *testing.T) {
	s := Status{Kind: StatusRead, ReadCount: 2}
	corrected := s.Correct(Status{Kind: StatusFailed})
	require.Equal(t, StatusFailed, corrected.Kind)
}

func TestEditStatusHighWaterMark(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	e := EditStatus{}
	e, applied := e.Apply(base)
	require.True(t, applied)
	require.True(t, e.Edited)

	_, applied = e.Apply(base.Add(-time.Minute))
	require.False(t, applied)
	_, applied = e.Apply(base)
	require.False(t, applied)

	e, applied = e.Apply(base.Add(time.Minute))
	require.True(t, applied)
	require.Equal(t, base.Add(time.Minute), e.LastEditAt)
}

func TestStartSelfDeletion(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	e := &ExpirationData{ExpireAfter: time.Hour}
	require.Nil(t, e.StartSelfDeletion(now))
	require.True(t, e.SelfDeletion.Started)
	require.Equal(t, now.Add(time.Hour), e.SelfDeletion.EndAt)

	// starting again keeps the original end date
	require.Nil(t, e.StartSelfDeletion(now.Add(time.Minute)))
	require.Equal(t, now.Add(time.Hour), e.SelfDeletion.EndAt)

	bad := &ExpirationData{}
	require.Error(t, bad.StartSelfDeletion(now))
}

func TestDefaultVisibility(t *testing.T) {
	visible := []Content{
		&Text{Value: "hello"},
		&Calling{Payload: "{}"},
		&Asset{Name: "photo.jpg"},
		&Knock{},
		&RestrictedAsset{MimeType: "image/jpeg"},
		&FailedDecryption{},
		&Location{Latitude: 1, Longitude: 2},
		&Composite{},
		&Unknown{TypeName: "future"},
	}
	for _, c := range visible {
		require.Equal(t, VisibilityVisible, DefaultVisibility(c), "%T", c)
	}

	hidden := []Content{
		&Delete{TargetID: ids.NewID()},
		&DeleteForMe{TargetID: ids.NewID()},
		&Edit{TargetID: ids.NewID()},
		&Reaction{TargetID: ids.NewID()},
		&LastRead{},
		&Cleared{},
		&Availability{Status: AvailabilityAway},
		&Receipt{},
		&DataTransfer{},
		&InCallEmoji{},
		&Ignored{TypeName: "typing"},
		&Unknown{TypeName: "future", Hidden: true},
	}
	for _, c := range hidden {
		require.Equal(t, VisibilityHidden, DefaultVisibility(c), "%T", c)
	}
}

func TestAssetCompleteness(t *testing.T) {
	incomplete := &Asset{Name: "photo.jpg"}
	require.False(t, incomplete.IsDataComplete())

	inline := &Asset{InlineData: []byte{1, 2, 3}}
	require.True(t, inline.IsDataComplete())

	remote := &Asset{Remote: AssetRemoteData{OTRKey: []byte{1}, SHA256: []byte{2}, AssetID: "3-1-abc"}}
	require.True(t, remote.IsDataComplete())

	missingKey := &Asset{Remote: AssetRemoteData{SHA256: []byte{2}, AssetID: "3-1-abc"}}
	require.False(t, missingKey.IsDataComplete())

	require.False(t, incomplete.HasValidImage())
	withImage := &Asset{Image: &ImageMetadata{Width: 100, Height: 80}}
	require.True(t, withImage.HasValidImage())
	zeroImage := &Asset{Image: &ImageMetadata{}}
	require.False(t, zeroImage.HasValidImage())
}

func TestContentRoundTrip(t *testing.T) {
	quoted := ids.NewID()
	contents := []Content{
		&Text{Value: "hello", QuotedMessageID: &quoted},
		&Asset{Name: "photo.jpg", MimeType: "image/jpeg", SizeBytes: 1024, Remote: AssetRemoteData{OTRKey: []byte{1}, SHA256: []byte{2}, AssetID: "3-1-abc"}},
		&Reaction{TargetID: ids.NewID(), Emoji: []string{"👍"}},
	}
	for _, c := range contents {
		b, err := EncodeContent(c)
		require.Nil(t, err)
		decoded, err := DecodeContent(KindOf(c), b)
		require.Nil(t, err)
		require.Equal(t, c, decoded)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	decoded, err := DecodeContent("hologram", []byte(`{"a":1}`))
	require.Nil(t, err)
	u, ok := decoded.(*Unknown)
	require.True(t, ok)
	require.Equal(t, "hologram", u.TypeName)
}
