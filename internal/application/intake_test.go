package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/tryonkit/internal/application"
	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

func TestAssetIntake_StoresAndPublishesNewAsset(t *testing.T) {
	local, remote := &memAssets{}, &mockRemoteIndex{}
	intake := application.NewAssetIntake(local, remote)

	data := encodePNG(t, quadrantImage(paletteA))
	res, err := intake.Ingest(context.Background(), model.AssetKindModel, " me ", data)
	require.NoError(t, err)

	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.Asset.ID)
	assert.Equal(t, "me", res.Asset.Name)
	assert.Equal(t, "image/png", res.Asset.ContentType)
	assert.Equal(t, int64(len(data)), res.Asset.Size)
	assert.Equal(t, "assets/"+res.Asset.Fingerprint.Pixel, res.Asset.RemoteRef)
	assert.Equal(t, 1, local.count())
	assert.Equal(t, 1, remote.published)

	stored, err := local.Get(context.Background(), res.Asset.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Asset.RemoteRef, stored.RemoteRef)
}

func TestAssetIntake_ReencodedUploadIsLocalDuplicate(t *testing.T) {
	local := &memAssets{}
	intake := application.NewAssetIntake(local, nil)
	img := quadrantImage(paletteA)

	first, err := intake.Ingest(context.Background(), model.AssetKindItem, "shirt", encodeJPEG(t, img, 95))
	require.NoError(t, err)
	second, err := intake.Ingest(context.Background(), model.AssetKindItem, "shirt again", encodeJPEG(t, img, 60))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Asset.ID, second.Asset.ID)
	assert.Equal(t, 1, local.count())
}

func TestAssetIntake_RemoteDuplicateIsNotRepublished(t *testing.T) {
	local, remote := &memAssets{}, &mockRemoteIndex{}
	data := encodePNG(t, quadrantImage(paletteB))
	fp, _, err := application.ComputeFingerprint(data)
	require.NoError(t, err)
	remote.refs = map[string]string{fp.Pixel: "assets/existing"}

	intake := application.NewAssetIntake(local, remote)
	res, err := intake.Ingest(context.Background(), model.AssetKindItem, "dress", data)
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, "assets/existing", res.Asset.RemoteRef)
	assert.Equal(t, 0, remote.published)
	assert.Equal(t, 1, local.count(), "remote duplicates are still cached locally")
}

func TestAssetIntake_Validation(t *testing.T) {
	intake := application.NewAssetIntake(&memAssets{}, nil)

	_, err := intake.Ingest(context.Background(), "poster", "x", encodePNG(t, quadrantImage(paletteA)))
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = intake.Ingest(context.Background(), model.AssetKindItem, "x", nil)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = intake.Ingest(context.Background(), model.AssetKindItem, "x", []byte("garbage"))
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}
