package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"alarm-clock-backend/internal/model"
)

// Store defines the interface for all database operations on alarms and
// their instances. Row-level updates are atomic; multi-row operations
// run in a transaction.
type Store interface {
	DB() *gorm.DB

	GetAlarm(ctx context.Context, id int64) (*model.Alarm, error)
	GetAlarms(ctx context.Context) ([]model.Alarm, error)
	AddAlarm(ctx context.Context, alarm *model.Alarm) error
	UpdateAlarm(ctx context.Context, alarm *model.Alarm) error
	DeleteAlarm(ctx context.Context, id int64) (deletedInstanceIDs []int64, err error)

	GetInstance(ctx context.Context, id int64) (*model.AlarmInstance, error)
	GetAllInstances(ctx context.Context) ([]model.AlarmInstance, error)
	GetInstancesByState(ctx context.Context, state model.InstanceState) ([]model.AlarmInstance, error)
	GetNextUpcomingInstanceByAlarmID(ctx context.Context, alarmID int64) (*model.AlarmInstance, error)
	AddInstance(ctx context.Context, inst *model.AlarmInstance) error
	UpdateInstance(ctx context.Context, inst *model.AlarmInstance) error
	DeleteInstance(ctx context.Context, id int64) error
	DeleteInstancesByAlarmID(ctx context.Context, alarmID int64) (deletedIDs []int64, err error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying connection for collaborators that manage
// their own rows (subscription handlers, the notification presenter).
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) GetAlarm(ctx context.Context, id int64) (*model.Alarm, error) {
	var alarm model.Alarm
	if err := s.db.WithContext(ctx).First(&alarm, id).Error; err != nil {
		return nil, err
	}
	return &alarm, nil
}

func (s *gormStore) GetAlarms(ctx context.Context) ([]model.Alarm, error) {
	var alarms []model.Alarm
	if err := s.db.WithContext(ctx).Order("id").Find(&alarms).Error; err != nil {
		return nil, err
	}
	return alarms, nil
}

func (s *gormStore) AddAlarm(ctx context.Context, alarm *model.Alarm) error {
	if err := s.db.WithContext(ctx).Create(alarm).Error; err != nil {
		return fmt.Errorf("failed to create alarm: %w", err)
	}
	return nil
}

func (s *gormStore) UpdateAlarm(ctx context.Context, alarm *model.Alarm) error {
	res := s.db.WithContext(ctx).Model(&model.Alarm{}).Where("id = ?", alarm.ID).
		Select("hour", "minute", "days_of_week", "enabled", "label", "ringtone",
			"vibrate", "snooze_minutes", "auto_silence_seconds", "crescendo_seconds",
			"delete_after_use", "volume", "updated_at").
		Updates(alarm)
	if res.Error != nil {
		return fmt.Errorf("failed to update alarm %d: %w", alarm.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAlarm removes an alarm and all of its instances in one
// transaction. The IDs of the deleted instances are returned so the
// caller can cancel their pending wake-ups.
func (s *gormStore) DeleteAlarm(ctx context.Context, id int64) ([]int64, error) {
	var deletedIDs []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var instances []model.AlarmInstance
		if err := tx.Where("alarm_id = ?", id).Find(&instances).Error; err != nil {
			return fmt.Errorf("failed to load instances of alarm %d: %w", id, err)
		}
		for _, inst := range instances {
			deletedIDs = append(deletedIDs, inst.ID)
		}
		if err := tx.Where("alarm_id = ?", id).Delete(&model.AlarmInstance{}).Error; err != nil {
			return fmt.Errorf("failed to delete instances of alarm %d: %w", id, err)
		}
		res := tx.Delete(&model.Alarm{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete alarm %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deletedIDs, nil
}

func (s *gormStore) GetInstance(ctx context.Context, id int64) (*model.AlarmInstance, error) {
	var inst model.AlarmInstance
	if err := s.db.WithContext(ctx).First(&inst, id).Error; err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *gormStore) GetAllInstances(ctx context.Context) ([]model.AlarmInstance, error) {
	var instances []model.AlarmInstance
	if err := s.db.WithContext(ctx).Order("id").Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

func (s *gormStore) GetInstancesByState(ctx context.Context, state model.InstanceState) ([]model.AlarmInstance, error) {
	var instances []model.AlarmInstance
	if err := s.db.WithContext(ctx).Where("state = ?", state).Order("id").Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

// GetNextUpcomingInstanceByAlarmID returns the alarm's earliest
// non-terminal instance. Terminal instances are deleted on transition,
// so ordering by the wall-clock fields is sufficient.
func (s *gormStore) GetNextUpcomingInstanceByAlarmID(ctx context.Context, alarmID int64) (*model.AlarmInstance, error) {
	var inst model.AlarmInstance
	err := s.db.WithContext(ctx).
		Where("alarm_id = ?", alarmID).
		Order("year, month, day, hour, minute").
		First(&inst).Error
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *gormStore) AddInstance(ctx context.Context, inst *model.AlarmInstance) error {
	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		return fmt.Errorf("failed to create alarm instance: %w", err)
	}
	return nil
}

func (s *gormStore) UpdateInstance(ctx context.Context, inst *model.AlarmInstance) error {
	res := s.db.WithContext(ctx).Model(&model.AlarmInstance{}).Where("id = ?", inst.ID).
		Select("alarm_id", "year", "month", "day", "hour", "minute", "state",
			"label", "ringtone", "vibrate", "snooze_minutes", "auto_silence_seconds",
			"crescendo_seconds", "missed_at", "updated_at").
		Updates(inst)
	if res.Error != nil {
		return fmt.Errorf("failed to update instance %d: %w", inst.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *gormStore) DeleteInstance(ctx context.Context, id int64) error {
	if err := s.db.WithContext(ctx).Delete(&model.AlarmInstance{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete instance %d: %w", id, err)
	}
	return nil
}

func (s *gormStore) DeleteInstancesByAlarmID(ctx context.Context, alarmID int64) ([]int64, error) {
	var deletedIDs []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var instances []model.AlarmInstance
		if err := tx.Where("alarm_id = ?", alarmID).Find(&instances).Error; err != nil {
			return fmt.Errorf("failed to load instances of alarm %d: %w", alarmID, err)
		}
		for _, inst := range instances {
			deletedIDs = append(deletedIDs, inst.ID)
		}
		if len(deletedIDs) == 0 {
			return nil
		}
		if err := tx.Where("alarm_id = ?", alarmID).Delete(&model.AlarmInstance{}).Error; err != nil {
			return fmt.Errorf("failed to delete instances of alarm %d: %w", alarmID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deletedIDs, nil
}
