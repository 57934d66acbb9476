package progress

import (
	"encoding/json"
	"fmt"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// MarshalSnapshot encodes an aggregate in the storage format shared by all
// snapshot stores.
func MarshalSnapshot(p *UserProgress) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, shared.WrapError("progress", "MarshalSnapshot", shared.ErrStorage, "encode snapshot", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a stored aggregate. Malformed data yields an
// error matching shared.ErrCorruptSnapshot.
func UnmarshalSnapshot(data []byte) (*UserProgress, error) {
	var p UserProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, shared.WrapError("progress", "UnmarshalSnapshot", shared.ErrCorruptSnapshot, "decode snapshot", err)
	}
	if p.UserID == "" {
		return nil, shared.NewDomainError("progress", "UnmarshalSnapshot", shared.ErrCorruptSnapshot, "snapshot has no user id")
	}
	p.Normalize()
	return &p, nil
}

// VersionConflict builds the error stores return when a save loses the
// optimistic-lock race.
func VersionConflict(userID string, stored, expected int64) error {
	return fmt.Errorf("%w: user %q stored version %d, expected %d", shared.ErrVersionConflict, userID, stored, expected)
}
