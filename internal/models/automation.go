package models

import "time"

// AutomationRule 自动化规则定义；Priority 越小越先执行
type AutomationRule struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"unique;not null" json:"name"`
	Event      string    `gorm:"index;not null" json:"event"` // ticket_created, ticket_updated, status_changed, comment_added, sla_warning, sla_expired, no_response_days
	Priority   int       `gorm:"default:100" json:"priority"`
	Active     bool      `gorm:"default:true" json:"active"`
	Conditions string    `gorm:"type:text" json:"conditions"` // JSON: [{field,operator,value}]
	Actions    string    `gorm:"type:text" json:"actions"`    // JSON: [{type,params}]
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AutomationExecutionLog 执行记录用于审计；每次规则评估恰好写一条
type AutomationExecutionLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	RuleID    uint           `gorm:"index" json:"rule_id"`
	TicketID  uint           `gorm:"index" json:"ticket_id"`
	Outcome   string         `gorm:"index" json:"outcome"` // success, failed, skipped
	Message   string         `gorm:"type:text" json:"message"`
	CreatedAt time.Time      `json:"created_at"`
	Rule      AutomationRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
}
