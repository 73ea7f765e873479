package remote

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/thaliawww/cxdir/internal/directory/schema"
)

// recordValidate checks decoded records before they reach the reconcilers.
var recordValidate = validator.New()

// groupRecord is one element of the groups endpoint body.
// Pointer fields distinguish a missing key from a zero value.
type groupRecord struct {
	PK      *int64   `json:"pk" validate:"required"`
	Name    *string  `json:"name" validate:"required"`
	Members []string `json:"members" validate:"required,dive,required"`
}

// userRecord is one element of the users endpoint body.
type userRecord struct {
	Username  string  `json:"username" validate:"required"`
	FirstName *string `json:"first_name" validate:"required"`
	LastName  *string `json:"last_name" validate:"required"`
	Email     *string `json:"email"`
}

// decodeGroups parses and validates a groups body.
func decodeGroups(body []byte) ([]schema.RemoteGroup, error) {
	var records []groupRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode groups: %w", err)
	}
	if records == nil {
		return nil, fmt.Errorf("failed to decode groups: body is not an array")
	}

	groups := make([]schema.RemoteGroup, 0, len(records))
	for i, r := range records {
		if err := recordValidate.Struct(r); err != nil {
			return nil, fmt.Errorf("invalid group record %d: %w", i, err)
		}
		groups = append(groups, schema.RemoteGroup{
			PK:      *r.PK,
			Name:    *r.Name,
			Members: r.Members,
		})
	}
	return groups, nil
}

// decodeUsers parses and validates a users body.
func decodeUsers(body []byte) ([]schema.RemoteUser, error) {
	var records []userRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	if records == nil {
		return nil, fmt.Errorf("failed to decode users: body is not an array")
	}

	users := make([]schema.RemoteUser, 0, len(records))
	for i, r := range records {
		if err := recordValidate.Struct(r); err != nil {
			return nil, fmt.Errorf("invalid user record %d: %w", i, err)
		}
		u := schema.RemoteUser{
			Username:  r.Username,
			FirstName: *r.FirstName,
			LastName:  *r.LastName,
		}
		if r.Email != nil {
			u.Email = *r.Email
		}
		users = append(users, u)
	}
	return users, nil
}
