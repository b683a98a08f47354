package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const RoleStudent = "student"

type User struct {
	ID             uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Email          string                      `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password       string                      `gorm:"not null;column:password" json:"-"`
	FirstName      string                      `gorm:"column:first_name" json:"first_name"`
	LastName       string                      `gorm:"column:last_name" json:"last_name"`
	Phone          string                      `gorm:"column:phone" json:"phone,omitempty"`
	Role           string                      `gorm:"column:role;not null;default:'student'" json:"role"`
	Country        string                      `gorm:"column:country" json:"country,omitempty"`
	Industry       string                      `gorm:"column:industry" json:"industry,omitempty"`
	AreaOfInterest datatypes.JSONSlice[string] `gorm:"column:area_of_interest" json:"area_of_interest,omitempty"`
	LastActiveAt   *time.Time                  `gorm:"column:last_active_at;index" json:"last_active_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "user" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = RoleStudent
	}
	return nil
}

func (u *User) IsStudent() bool {
	return strings.EqualFold(strings.TrimSpace(u.Role), RoleStudent)
}
