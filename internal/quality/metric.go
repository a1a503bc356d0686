package quality

// Metric is the persisted answer quality row, rebuilt on every recompute.
type Metric struct {
	AnswerID          string      `gorm:"column:answer_id;primaryKey;size:190;not null"`
	AQS               int         `gorm:"column:aqs;not null;default:0"`
	Label             Label       `gorm:"column:label;size:16;not null"`
	LastTrigger       TriggerKind `gorm:"column:last_trigger;size:16;not null"`
	ComputedAtSeconds int64       `gorm:"column:computed_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Metric) TableName() string {
	return "answer_quality_metrics"
}
