package model

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// RandomJSONB generates random JSON data for testing.
func RandomJSONB() datatypes.JSON {
	jsonData := map[string]interface{}{
		"orderId":  gofakeit.UUID(),
		"customer": gofakeit.Name(),
		"qty":      gofakeit.Number(1, 100),
	}
	bytes, _ := json.Marshal(jsonData)
	return datatypes.JSON(bytes)
}

// NewFakeDeadLetter creates a DeadLetter instance with default fake data.
func NewFakeDeadLetter(overrideDefaults ...*DeadLetter) *DeadLetter {
	endpoints, _ := json.Marshal([]string{
		"http://" + gofakeit.DomainName() + "/consume",
		"http://" + gofakeit.DomainName() + "/consume",
	})
	base := &DeadLetter{
		ID:                gofakeit.UUID(),
		Version:           1,
		OriginalMessage:   RandomJSONB(),
		OriginalTopicPath: "projects/" + gofakeit.Word() + "/topics/" + gofakeit.Word(),
		EndPoints:         datatypes.JSON(endpoints),
		Status:            StatusPending,
		RetryCount:        0,
		CreatedAt:         utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Version != 0 {
			base.Version = ovr.Version
		}
		if len(ovr.OriginalMessage) > 0 {
			base.OriginalMessage = ovr.OriginalMessage
		}
		if ovr.OriginalTopicPath != "" {
			base.OriginalTopicPath = ovr.OriginalTopicPath
		}
		if len(ovr.EndPoints) > 0 {
			base.EndPoints = ovr.EndPoints
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.RetryCount != 0 {
			base.RetryCount = ovr.RetryCount
		}
		if ovr.ErrorMessage != "" {
			base.ErrorMessage = ovr.ErrorMessage
		}
		if ovr.LastTriedAt != nil {
			base.LastTriedAt = ovr.LastTriedAt
		}
	}

	return base
}

// NewFakeUser creates a User with the given permission grants, all other
// permissions denied.
func NewFakeUser(grantedPermissionIDs ...string) *User {
	set := DefaultPermissionSet()
	for i := range set {
		for _, id := range grantedPermissionIDs {
			if set[i].ID == id {
				set[i].Granted = true
			}
		}
	}
	permJSON, _ := json.Marshal(set)

	return &User{
		ID:          gofakeit.UUID(),
		Name:        gofakeit.Name(),
		Email:       gofakeit.Email(),
		Permissions: datatypes.JSON(permJSON),
		CreatedAt:   utils.Now(),
	}
}
