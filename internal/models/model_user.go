package models

import "time"

// User is the account row owned by the user-record store. Only the embedded
// subscription fields are written by this service.
type User struct {
	ID           string             `gorm:"column:id;type:varchar(64);primary_key" json:"id"`
	Email        string             `gorm:"column:email;type:varchar(256)" json:"email"`
	Name         string             `gorm:"column:name;type:varchar(256)" json:"name"`
	Subscription SubscriptionRecord `gorm:"embedded;embeddedPrefix:subscription_" json:"subscription"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
