package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Permission ids gating service operations.
const (
	PermReplayDeadLetter      = "canReplayDeadLetter"
	PermUpdateUserPermission  = "canUpdateUserPermission"
	PermReceiveDeadLetterMail = "canReceiveNewDeadLetterEmails"
)

// Permission is a single boolean grant with the human-readable text returned
// when the grant is denied.
type Permission struct {
	ID            string `json:"id"`
	Granted       bool   `json:"granted"`
	DenialMessage string `json:"denialMessage"`
}

// PermissionSet is the fixed list of permissions attached to a caller.
type PermissionSet []Permission

// Get returns the permission with the given id.
func (s PermissionSet) Get(permissionID string) (Permission, error) {
	for _, p := range s {
		if p.ID == permissionID {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("permission %s not found", permissionID)
}

// DefaultPermissionSet returns all known permissions, denied by default.
func DefaultPermissionSet() PermissionSet {
	return PermissionSet{
		{
			ID:            PermReplayDeadLetter,
			Granted:       false,
			DenialMessage: "You are not authorized to replay dead letters",
		},
		{
			ID:            PermUpdateUserPermission,
			Granted:       false,
			DenialMessage: "You are not authorized to update user permissions",
		},
		{
			ID:            PermReceiveDeadLetterMail,
			Granted:       false,
			DenialMessage: "You are not authorized to receive newly created dead letter emails",
		},
	}
}

// User is a caller identity with its permission set. Consumed read-only by the
// access gate; account management happens elsewhere.
type User struct {
	ID          string         `json:"id" gorm:"column:id;primaryKey"`
	Name        string         `json:"name" gorm:"column:name"`
	Email       string         `json:"email" gorm:"column:email;index"`
	Permissions datatypes.JSON `json:"permissions" gorm:"type:jsonb;column:permissions"`
	CreatedAt   time.Time      `json:"createdAt" gorm:"column:created_at"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// PermissionSet decodes the stored permission list.
func (u *User) PermissionSet() (PermissionSet, error) {
	var set PermissionSet
	if len(u.Permissions) == 0 {
		return set, nil
	}
	if err := json.Unmarshal(u.Permissions, &set); err != nil {
		return nil, err
	}
	return set, nil
}
