package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/pkg/types"
)

type StatisticType string

const (
	// Current subscription records
	StatisticTypeStatusCount   StatisticType = "status_count"
	StatisticTypePlatformCount StatisticType = "platform_count"
	StatisticTypeEntitledCount StatisticType = "entitled_count"

	// Audit trails
	StatisticTypeDailyTransitionCount   StatisticType = "daily_transition_count"
	StatisticTypeDailyNotificationCount StatisticType = "daily_notification_count"
)

var userFields = []string{
	"subscription_status",
	"subscription_platform",
	"subscription_plan",
	"subscription_start_date",
	"subscription_end_date",
}

// validFilters lists the filter fields each statistic understands.
var validFilters = map[StatisticType][]string{
	StatisticTypeStatusCount:            userFields,
	StatisticTypePlatformCount:          userFields,
	StatisticTypeEntitledCount:          userFields,
	StatisticTypeDailyTransitionCount:   {"created_at", "reason"},
	StatisticTypeDailyNotificationCount: {"created_at", "provider_id", "status", "notification_type"},
}

type SubscriptionStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type SubscriptionStatisticRequest struct {
	Filters   []*types.CommonFilter            `json:"filters"`
	DataItems []*SubscriptionStatisticDataItem `json:"data_items"`
}

// Validate rejects unknown statistics and filters no requested statistic understands.
func (r *SubscriptionStatisticRequest) Validate() error {
	if r == nil || len(r.DataItems) == 0 {
		return fmt.Errorf("data_items is required")
	}
	var allowed []string
	for _, di := range r.DataItems {
		fields, ok := validFilters[di.ID]
		if !ok {
			return fmt.Errorf("invalid data item id: %s", di.ID)
		}
		allowed = append(allowed, fields...)
	}
	for _, f := range r.Filters {
		if err := f.Validate(lo.Uniq(allowed)); err != nil {
			return err
		}
	}
	return nil
}

// GetFilters keeps the filters applicable to one statistic.
func (r *SubscriptionStatisticRequest) GetFilters(statisticType StatisticType) types.FiltersWhere {
	return lo.Filter(r.Filters, func(f *types.CommonFilter, _ int) bool {
		return lo.Contains(validFilters[statisticType], f.Field)
	})
}

type SubscriptionStatisticResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type SubscriptionStatisticResponse struct {
	DataItems map[StatisticType][]SubscriptionStatisticResponseDataItem `json:"data_items"`
}

// Service answers admin statistics over subscription records and their audit logs.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Service { return &Service{db: db, now: time.Now} }

func (s *Service) where(request *SubscriptionStatisticRequest, statisticType StatisticType) clause.Where {
	return clause.Where{Exprs: []clause.Expression{request.GetFilters(statisticType)}}
}

// dayExpr renders column as YYYY-MM-DD in the connected dialect.
func (s *Service) dayExpr(column string) string {
	if s.db.Dialector.Name() == "postgres" {
		return fmt.Sprintf("TO_CHAR(%s, 'YYYY-MM-DD')", column)
	}
	return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column)
}

func (s *Service) getStatusCount(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var results []SubscriptionStatisticResponseDataItem
	q := s.db.WithContext(ctx).Model(&models.User{}).
		Select("subscription_status as label, count(*) as value").
		Where(s.where(request, StatisticTypeStatusCount)).
		Group("subscription_status").
		Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getPlatformCount(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var results []SubscriptionStatisticResponseDataItem
	q := s.db.WithContext(ctx).Model(&models.User{}).
		Select("subscription_platform as label, count(*) as value").
		Where("subscription_platform IS NOT NULL AND subscription_platform != ''").
		Where(s.where(request, StatisticTypePlatformCount)).
		Group("subscription_platform").
		Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getEntitledCount(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("subscription_status IN ?", []types.SubscriptionStatus{types.SubscriptionStatusTrial, types.SubscriptionStatusActive}).
		Where("subscription_end_date > ?", s.now().UTC()).
		Where(s.where(request, StatisticTypeEntitledCount)).
		Count(&total).Error
	if err != nil {
		return nil, err
	}
	return []SubscriptionStatisticResponseDataItem{{Value: total}}, nil
}

func (s *Service) getDailyTransitionCount(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var results []SubscriptionStatisticResponseDataItem
	day := s.dayExpr("created_at")
	q := s.db.WithContext(ctx).Model(&models.SubscriptionLog{}).
		Select(day + " as date, reason as label, count(*) as value").
		Where(s.where(request, StatisticTypeDailyTransitionCount)).
		Group(day).
		Group("reason").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyNotificationCount(ctx context.Context, request *SubscriptionStatisticRequest) ([]SubscriptionStatisticResponseDataItem, error) {
	var results []SubscriptionStatisticResponseDataItem
	day := s.dayExpr("created_at")
	q := s.db.WithContext(ctx).Model(&models.PaymentNotificationLog{}).
		Select(day+" as date, provider_id as label, count(*) as value").
		Where("status = ?", models.PaymentNotificationLogStatusReceived).
		Where(s.where(request, StatisticTypeDailyNotificationCount)).
		Group(day).
		Group("provider_id").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getSubscriptionStatistic(ctx context.Context, request *SubscriptionStatisticRequest, dataItem *SubscriptionStatisticDataItem) ([]SubscriptionStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeStatusCount:
		return s.getStatusCount(ctx, request)
	case StatisticTypePlatformCount:
		return s.getPlatformCount(ctx, request)
	case StatisticTypeEntitledCount:
		return s.getEntitledCount(ctx, request)
	case StatisticTypeDailyTransitionCount:
		return s.getDailyTransitionCount(ctx, request)
	case StatisticTypeDailyNotificationCount:
		return s.getDailyNotificationCount(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

// GetSubscriptionStatistic computes the requested statistics concurrently.
func (s *Service) GetSubscriptionStatistic(ctx context.Context, request *SubscriptionStatisticRequest) (*SubscriptionStatisticResponse, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[StatisticType][]SubscriptionStatisticResponseDataItem, len(request.DataItems))
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range request.DataItems {
		g.Go(func() error {
			res, err := s.getSubscriptionStatistic(gctx, request, item)
			if err != nil {
				return fmt.Errorf("%s: %w", item.ID, err)
			}
			mu.Lock()
			results[item.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &SubscriptionStatisticResponse{DataItems: results}, nil
}
