package badges

// Badge is a catalog entry.
type Badge struct {
	BadgeID          string   `gorm:"column:badge_id;primaryKey;size:190;not null"`
	Code             string   `gorm:"column:code;size:128;not null;uniqueIndex"`
	Category         Category `gorm:"column:category;size:32;not null;index"`
	Title            string   `gorm:"column:title;size:255;not null"`
	Description      string   `gorm:"column:description;size:1000;not null;default:''"`
	CreatedAtSeconds int64    `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Badge) TableName() string {
	return "badges"
}

// UserBadge records that a user was awarded a badge.
type UserBadge struct {
	UserBadgeID      string `gorm:"column:user_badge_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_user_badges_user_badge,priority:1"`
	BadgeID          string `gorm:"column:badge_id;size:190;not null;uniqueIndex:idx_user_badges_user_badge,priority:2"`
	AwardedAtSeconds int64  `gorm:"column:awarded_at_s;not null"`
	Source           string `gorm:"column:source;size:32;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserBadge) TableName() string {
	return "user_badges"
}
