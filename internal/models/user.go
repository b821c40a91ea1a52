package models

import (
	"bytes"
	"encoding/json"
)

// UserRef references a marketplace user. The backend sends either a
// bare id string or a populated object, so both decode.
type UserRef struct {
	ID    string `json:"_id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// UnmarshalJSON accepts "id" or {"_id": "id", ...}.
func (u *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = UserRef{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*u = UserRef{ID: id}
		return nil
	}
	type plain UserRef
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.ID == "" {
		// Some endpoints populate "id" rather than "_id".
		var alt struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &alt); err == nil {
			decoded.ID = alt.ID
		}
	}
	*u = UserRef(decoded)
	return nil
}

// IsZero reports whether the reference is unset.
func (u UserRef) IsZero() bool {
	return u.ID == ""
}

// DisplayName falls back to the id when no name was populated.
func (u UserRef) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
