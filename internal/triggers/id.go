package triggers

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/models"
)

const idSeparator = ":"

// EncodeID builds the composite identifier "<sourceType>:<sourceID>".
// sourceID must be a canonical lowercase UUID, which cannot contain the separator.
func EncodeID(sourceType models.SourceType, sourceID string) (string, error) {
	if !sourceType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
	if sourceID == "" {
		return "", ErrEmptySourceID
	}
	parsed, err := uuid.Parse(sourceID)
	if err != nil || parsed.String() != sourceID {
		return "", fmt.Errorf("source id %q is not a canonical uuid", sourceID)
	}
	return string(sourceType) + idSeparator + sourceID, nil
}

// FormatID builds the composite identifier without validating its parts.
// It is only for source ids read back from storage; new ids go through EncodeID.
func FormatID(sourceType models.SourceType, sourceID string) string {
	return string(sourceType) + idSeparator + sourceID
}

// DecodeID splits a composite identifier produced by EncodeID. Any other input
// yields an invalid_trigger_id AppError.
func DecodeID(id string) (models.SourceType, string, error) {
	prefix, sourceID, ok := strings.Cut(id, idSeparator)
	if !ok {
		return "", "", errors.InvalidTriggerIDError(id, "missing separator")
	}

	sourceType := models.SourceType(prefix)
	if !sourceType.Valid() {
		return "", "", errors.InvalidTriggerIDError(id, fmt.Sprintf("unknown source type %q", prefix))
	}

	if sourceID == "" {
		return "", "", errors.InvalidTriggerIDError(id, "missing source id")
	}
	parsed, err := uuid.Parse(sourceID)
	if err != nil || parsed.String() != sourceID {
		return "", "", errors.InvalidTriggerIDError(id, "source id is not a canonical uuid")
	}

	return sourceType, sourceID, nil
}
