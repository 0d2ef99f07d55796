package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型（工单的创建人、处理人、升级目标）
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"default:'agent'" json:"role"` // agent, supervisor, admin
	Status    string         `gorm:"default:'active'" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 部门（组织单元），SLA 配置的归属单位
type Sector struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"unique;not null" json:"name"`
	DefaultSLAHours float64        `gorm:"default:24" json:"default_sla_hours"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	Tickets []Ticket `gorm:"foreignKey:SectorID" json:"tickets,omitempty"`
}

// SectorPriorityConfig 按 (部门, 优先级) 的 SLA 配置
type SectorPriorityConfig struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	SectorID            uint      `gorm:"index:idx_sector_priority,unique" json:"sector_id"`
	Priority            string    `gorm:"index:idx_sector_priority,unique;not null" json:"priority"` // baixa, media, alta, critica
	SLAHours            float64   `gorm:"not null" json:"sla_hours"`
	EscalationLeadHours float64   `gorm:"default:0" json:"escalation_lead_hours"` // 0 = escalation disabled
	EscalationTargetID  *uint     `json:"escalation_target_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	Sector           Sector `gorm:"foreignKey:SectorID" json:"sector,omitempty"`
	EscalationTarget *User  `gorm:"foreignKey:EscalationTargetID" json:"escalation_target,omitempty"`
}

// BusinessHoursRule 营业时间规则；SectorID 为空表示全局规则
type BusinessHoursRule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SectorID  *uint     `gorm:"index" json:"sector_id"`
	Weekday   int       `gorm:"not null" json:"weekday"`  // 0=Sunday ... 6=Saturday
	OpensAt   string    `gorm:"not null" json:"opens_at"` // HH:MM
	ClosesAt  string    `gorm:"not null" json:"closes_at"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Holiday 节假日；Recurring 表示每年重复（按月+日匹配，忽略年份）
type Holiday struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SectorID  *uint     `gorm:"index" json:"sector_id"` // null = global
	Name      string    `json:"name"`
	Date      time.Time `gorm:"not null" json:"date"`
	Recurring bool      `gorm:"default:false" json:"recurring"`
	CreatedAt time.Time `json:"created_at"`
}

// 工单模型
type Ticket struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	SectorID    uint           `gorm:"index" json:"sector_id"`
	Priority    string         `gorm:"default:'media'" json:"priority"` // baixa, media, alta, critica
	Status      string         `gorm:"default:'aberto'" json:"status"`  // aberto, em_atendimento, aguardando, resolvido, fechado
	AssigneeID  *uint          `gorm:"index" json:"assignee_id"`
	CreatorID   uint           `gorm:"index" json:"creator_id"`
	DueDate     *time.Time     `json:"due_date"`
	ResolvedAt  *time.Time     `json:"resolved_at"`
	ClosedAt    *time.Time     `json:"closed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Sector   Sector          `gorm:"foreignKey:SectorID" json:"sector,omitempty"`
	Assignee *User           `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Creator  User            `gorm:"foreignKey:CreatorID" json:"creator,omitempty"`
	Comments []TicketComment `gorm:"foreignKey:TicketID" json:"comments,omitempty"`
	History  []TicketHistory `gorm:"foreignKey:TicketID" json:"history,omitempty"`
}

// 工单评论
type TicketComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Type      string    `gorm:"default:'comment'" json:"type"` // comment, internal_note, system
	CreatedAt time.Time `json:"created_at"`

	Ticket Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
}

// 工单历史记录（引擎只追加，不修改）
type TicketHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	UserID    *uint     `json:"user_id"` // null = system/automation
	Action    string    `gorm:"not null" json:"action"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `json:"created_at"`

	Ticket Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
}

// SLAPause SLA 暂停区间；每个工单同时最多一个未恢复的暂停
type SLAPause struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	TicketID  uint       `gorm:"index" json:"ticket_id"`
	PausedAt  time.Time  `gorm:"not null" json:"paused_at"`
	ResumedAt *time.Time `json:"resumed_at"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`

	Ticket Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
}

// EscalationRecord 升级记录；Level 按工单单调递增，从 1 开始
type EscalationRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TicketID   uint      `gorm:"index" json:"ticket_id"`
	FromUserID *uint     `json:"from_user_id"`
	ToUserID   uint      `json:"to_user_id"`
	Level      int       `gorm:"not null" json:"level"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`

	Ticket Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
}

// Notification 通知落库记录；投递本身交给外部渠道，fire-and-forget
type Notification struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RecipientID uint      `gorm:"index" json:"recipient_id"`
	Type        string    `gorm:"not null" json:"type"`
	Title       string    `json:"title"`
	Message     string    `gorm:"type:text" json:"message"`
	TicketID    *uint     `gorm:"index" json:"ticket_id"`
	DedupeKey   string    `gorm:"index" json:"dedupe_key"`
	CreatedAt   time.Time `json:"created_at"`
}
