package triggers

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/models"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, sourceType := range []models.SourceType{models.SourceTypeSchedule, models.SourceTypeTrigger} {
		for i := 0; i < 50; i++ {
			sourceID := uuid.NewString()

			id, err := EncodeID(sourceType, sourceID)
			require.NoError(t, err)

			gotType, gotID, err := DecodeID(id)
			require.NoError(t, err)
			assert.Equal(t, sourceType, gotType)
			assert.Equal(t, sourceID, gotID)
		}
	}
}

func TestEncodeID_DistinctPairsNeverCollide(t *testing.T) {
	sourceID := uuid.NewString()

	a, err := EncodeID(models.SourceTypeSchedule, sourceID)
	require.NoError(t, err)
	b, err := EncodeID(models.SourceTypeTrigger, sourceID)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncodeID_Rejects(t *testing.T) {
	_, err := EncodeID("workflow", uuid.NewString())
	assert.ErrorIs(t, err, ErrUnknownSourceType)

	_, err = EncodeID(models.SourceTypeSchedule, "")
	assert.ErrorIs(t, err, ErrEmptySourceID)

	_, err = EncodeID(models.SourceTypeSchedule, "abc:def")
	assert.Error(t, err)

	_, err = EncodeID(models.SourceTypeSchedule, "6F9619FF-8B86-D011-B42D-00C04FC964FF")
	assert.Error(t, err)
}

func TestDecodeID_RejectsMalformed(t *testing.T) {
	valid := uuid.NewString()
	inputs := []string{
		"",
		valid,
		"schedule" + valid,
		"schedule:",
		":" + valid,
		"workflow:" + valid,
		"Schedule:" + valid,
		"schedule:not-a-uuid",
		"schedule:" + valid + ":extra",
		"trigger: " + valid,
		"trigger:{" + valid + "}",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			sourceType, sourceID, err := DecodeID(in)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeInvalidTriggerID))
			assert.Empty(t, sourceType)
			assert.Empty(t, sourceID)
		})
	}
}
