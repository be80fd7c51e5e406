package storage

import (
	"encoding/json"

	"github.com/go-viper/mapstructure/v2"

	"sage/internal/apperrors"
	"sage/pkg/types"
)

// toPayload flattens chunk metadata into the generic map shape backends
// persist. Time fields travel as RFC 3339 strings via the JSON tags.
func toPayload(md types.ChunkMetadata) (map[string]any, error) {
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "encode chunk metadata")
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "encode chunk metadata")
	}
	return payload, nil
}

// fromPayload decodes a backend payload map into typed metadata. Unknown
// keys are ignored; the typed record is the contract.
func fromPayload(payload map[string]any) (types.ChunkMetadata, error) {
	var md types.ChunkMetadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &md,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return md, apperrors.Wrap(apperrors.KindInternal, err, "build metadata decoder")
	}
	if err := dec.Decode(payload); err != nil {
		return md, apperrors.Wrap(apperrors.KindSchema, err, "decode chunk metadata")
	}
	return md, nil
}
