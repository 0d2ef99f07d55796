package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"atendo/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// maxCalendarWalkDays 限制日历推进的最大天数；配置矛盾时保证循环终止
const maxCalendarWalkDays = 14

// CalendarService 营业时间与节假日解析服务
type CalendarService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewCalendarService 创建日历服务
func NewCalendarService(db *gorm.DB, logger *logrus.Logger) *CalendarService {
	if logger == nil {
		logger = logrus.New()
	}

	return &CalendarService{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("atendo.calendar"),
	}
}

// IsHoliday 判断指定时刻对该部门是否为节假日。
// 先匹配精确日期（部门或全局），再匹配按月+日重复的节假日。
// 查询失败时记录日志并按非节假日处理。
func (s *CalendarService) IsHoliday(ctx context.Context, t time.Time, sectorID uint) bool {
	var holidays []models.Holiday
	if err := s.db.WithContext(ctx).
		Where("sector_id = ? OR sector_id IS NULL", sectorID).
		Find(&holidays).Error; err != nil {
		s.logger.Errorf("calendar: load holidays for sector %d: %v", sectorID, err)
		return false
	}

	y, m, d := t.Date()
	for _, h := range holidays {
		hy, hm, hd := h.Date.Date()
		if h.Recurring {
			if hm == m && hd == d {
				return true
			}
			continue
		}
		if hy == y && hm == m && hd == d {
			return true
		}
	}
	return false
}

// IsBusinessHours 判断指定时刻是否在营业时间内。
// 同一天内部门规则优先于全局规则；完全没有任何规则时视为 7x24 开放。
func (s *CalendarService) IsBusinessHours(ctx context.Context, t time.Time, sectorID uint) bool {
	has, err := s.hasBusinessHoursConfig(ctx, sectorID)
	if err != nil {
		s.logger.Errorf("calendar: check business hours config for sector %d: %v", sectorID, err)
		return false
	}
	if !has {
		return true
	}

	rules := s.rulesForWeekday(ctx, sectorID, int(t.Weekday()))
	minute := t.Hour()*60 + t.Minute()
	for _, r := range rules {
		openMin, err1 := parseClock(r.OpensAt)
		closeMin, err2 := parseClock(r.ClosesAt)
		if err1 != nil || err2 != nil {
			s.logger.Warnf("calendar: invalid window %q-%q on rule %d", r.OpensAt, r.ClosesAt, r.ID)
			continue
		}
		if minute >= openMin && minute < closeMin {
			return true
		}
	}
	return false
}

// NextBusinessMoment 返回不早于 t 的下一个营业时刻。
// 逐天推进并跳过节假日；进入新的一天时锚定到当天最早的开门时间。
// 达到推进上限时返回当前探测点并告警（软失败）。
func (s *CalendarService) NextBusinessMoment(ctx context.Context, t time.Time, sectorID uint) time.Time {
	ctx, span := s.tracer.Start(ctx, "calendar.next_business_moment")
	defer span.End()
	span.SetAttributes(attribute.Int64("calendar.sector_id", int64(sectorID)))

	cur := t
	for i := 0; i < maxCalendarWalkDays; i++ {
		if !s.IsHoliday(ctx, cur, sectorID) {
			if s.IsBusinessHours(ctx, cur, sectorID) {
				return cur
			}
			if open, ok := s.nextOpeningSameDay(ctx, cur, sectorID); ok {
				return open
			}
		}
		cur = s.anchorToNextDay(ctx, cur, sectorID)
	}

	s.logger.Warnf("calendar: walk exhausted after %d days for sector %d starting %s; returning best effort",
		maxCalendarWalkDays, sectorID, t.Format(time.RFC3339))
	return cur
}

// WindowCloseAt 返回包含 t 的营业时间窗口的关门时刻。
// t 不在任何窗口内（或无规则配置）时 ok 为 false。
func (s *CalendarService) WindowCloseAt(ctx context.Context, t time.Time, sectorID uint) (time.Time, bool) {
	rules := s.rulesForWeekday(ctx, sectorID, int(t.Weekday()))
	minute := t.Hour()*60 + t.Minute()
	for _, r := range rules {
		openMin, err1 := parseClock(r.OpensAt)
		closeMin, err2 := parseClock(r.ClosesAt)
		if err1 != nil || err2 != nil {
			continue
		}
		if minute >= openMin && minute < closeMin {
			return atMinute(t, closeMin), true
		}
	}
	return time.Time{}, false
}

// HasBusinessHoursConfig 该部门是否存在任何营业时间规则（部门级或全局）。
// 不存在时上层按 7x24 处理。
func (s *CalendarService) HasBusinessHoursConfig(ctx context.Context, sectorID uint) bool {
	has, err := s.hasBusinessHoursConfig(ctx, sectorID)
	if err != nil {
		s.logger.Errorf("calendar: check business hours config for sector %d: %v", sectorID, err)
		return false
	}
	return has
}

func (s *CalendarService) hasBusinessHoursConfig(ctx context.Context, sectorID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.BusinessHoursRule{}).
		Where("active = ? AND (sector_id = ? OR sector_id IS NULL)", true, sectorID).
		Count(&count).Error
	return count > 0, err
}

// rulesForWeekday 返回某个星期几生效的规则；有部门级规则时全局规则被整体遮蔽
func (s *CalendarService) rulesForWeekday(ctx context.Context, sectorID uint, weekday int) []models.BusinessHoursRule {
	var rules []models.BusinessHoursRule
	if err := s.db.WithContext(ctx).
		Where("active = ? AND weekday = ? AND (sector_id = ? OR sector_id IS NULL)", true, weekday, sectorID).
		Find(&rules).Error; err != nil {
		s.logger.Errorf("calendar: load business hours rules for sector %d weekday %d: %v", sectorID, weekday, err)
		return nil
	}

	var sectorRules []models.BusinessHoursRule
	for _, r := range rules {
		if r.SectorID != nil {
			sectorRules = append(sectorRules, r)
		}
	}
	if len(sectorRules) > 0 {
		return sectorRules
	}
	return rules
}

// nextOpeningSameDay 当天晚些时候还有窗口要开门时，返回最早的开门时刻
func (s *CalendarService) nextOpeningSameDay(ctx context.Context, t time.Time, sectorID uint) (time.Time, bool) {
	rules := s.rulesForWeekday(ctx, sectorID, int(t.Weekday()))
	minute := t.Hour()*60 + t.Minute()
	best := -1
	for _, r := range rules {
		open, err := parseClock(r.OpensAt)
		if err != nil {
			continue
		}
		if open > minute && (best == -1 || open < best) {
			best = open
		}
	}
	if best == -1 {
		return time.Time{}, false
	}
	return atMinute(t, best), true
}

// anchorToNextDay 推进到下一天，并锚定到该天最早的开门时间（若有规则）
func (s *CalendarService) anchorToNextDay(ctx context.Context, t time.Time, sectorID uint) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
	rules := s.rulesForWeekday(ctx, sectorID, int(next.Weekday()))
	best := -1
	for _, r := range rules {
		open, err := parseClock(r.OpensAt)
		if err != nil {
			continue
		}
		if best == -1 || open < best {
			best = open
		}
	}
	if best > 0 {
		return atMinute(next, best)
	}
	return next
}

// parseClock 解析 "HH:MM" 为当天分钟数
func parseClock(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value: %s", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in clock value: %s", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in clock value: %s", v)
	}
	return h*60 + m, nil
}

// atMinute 返回与 t 同一天、当天第 minute 分钟的时刻
func atMinute(t time.Time, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), minute/60, minute%60, 0, 0, t.Location())
}
