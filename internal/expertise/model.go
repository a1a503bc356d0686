package expertise

// Stats is the per-user aggregate expertise row.
type Stats struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	TotalAnswers     int64  `gorm:"column:total_answers;not null;default:0"`
	TotalQuestions   int64  `gorm:"column:total_questions;not null;default:0"`
	HelpfulReactions int64  `gorm:"column:helpful_reactions;not null;default:0"`
	ExpertReactions  int64  `gorm:"column:expert_reactions;not null;default:0"`
	FeaturedAnswers  int64  `gorm:"column:featured_answers;not null;default:0"`
	ExpertScore      int64  `gorm:"column:expert_score;not null;default:0;index"`
	ExpertLevel      Level  `gorm:"column:expert_level;size:32;not null;default:'newcomer'"`
	TopCategory      string `gorm:"column:top_category;size:64;not null;default:''"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Stats) TableName() string {
	return "user_expertise_stats"
}

// Inputs projects the stored counters onto the score formula inputs.
func (s Stats) Inputs() Inputs {
	return Inputs{
		TotalAnswers:     s.TotalAnswers,
		AcceptedAnswers:  s.FeaturedAnswers,
		HelpfulReactions: s.HelpfulReactions,
		ExpertReactions:  s.ExpertReactions,
		TotalQuestions:   s.TotalQuestions,
	}
}

// Domain is a user's activity within one question category.
type Domain struct {
	UserID              string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Category            string `gorm:"column:category;primaryKey;size:64;not null"`
	AnswerCount         int64  `gorm:"column:answer_count;not null;default:0"`
	AcceptedCount       int64  `gorm:"column:accepted_count;not null;default:0"`
	HelpfulReactions    int64  `gorm:"column:helpful_reactions;not null;default:0"`
	ExpertReactions     int64  `gorm:"column:expert_reactions;not null;default:0"`
	LastActivitySeconds int64  `gorm:"column:last_activity_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Domain) TableName() string {
	return "user_domain_expertise"
}
